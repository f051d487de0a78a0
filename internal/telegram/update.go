package telegram

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/fetchgate/internal/media"
)

const (
	callbackPrefix = "gate"
	verifyMarker   = "verify"
)

// Update is the subset of a Bot API update this service reads.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// Message is an incoming chat message.
type Message struct {
	From *User  `json:"from"`
	Chat Chat   `json:"chat"`
	Text string `json:"text"`
}

// CallbackQuery is an inline button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message"`
	Data    string   `json:"data"`
}

// User identifies a sender.
type User struct {
	ID int64 `json:"id"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// Event is a decoded update. Exactly one of Message or Action is set when OK.
type Event struct {
	Message *media.InboundMessage
	Action  *media.InboundAction
}

// DecodeUpdate parses a webhook body. Updates the service does not handle
// yield an empty Event and no error.
func DecodeUpdate(body []byte) (Event, error) {
	var u Update
	if err := json.Unmarshal(body, &u); err != nil {
		return Event{}, fmt.Errorf("decode update: %w", err)
	}

	switch {
	case u.Message != nil && u.Message.From != nil && strings.TrimSpace(u.Message.Text) != "":
		return Event{Message: &media.InboundMessage{
			RequesterID: strconv.FormatInt(u.Message.From.ID, 10),
			ChatID:      strconv.FormatInt(u.Message.Chat.ID, 10),
			Text:        u.Message.Text,
		}}, nil

	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		kind, step, token, err := ParseCallbackData(q.Data)
		if err != nil {
			return Event{}, err
		}
		chatID := strconv.FormatInt(q.From.ID, 10)
		if q.Message != nil {
			chatID = strconv.FormatInt(q.Message.Chat.ID, 10)
		}
		return Event{Action: &media.InboundAction{
			RequesterID: strconv.FormatInt(q.From.ID, 10),
			ChatID:      chatID,
			CallbackID:  q.ID,
			Kind:        kind,
			Step:        step,
			Token:       token,
		}}, nil
	}
	return Event{}, nil
}

// StepCallbackData encodes a step confirmation button.
func StepCallbackData(step int, token string) string {
	return fmt.Sprintf("%s:%d:%s", callbackPrefix, step, token)
}

// VerifyCallbackData encodes the verify button.
func VerifyCallbackData(token string) string {
	return fmt.Sprintf("%s:%s:%s", callbackPrefix, verifyMarker, token)
}

// ParseCallbackData decodes button data produced by StepCallbackData or
// VerifyCallbackData.
func ParseCallbackData(data string) (media.ActionKind, int, string, error) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != callbackPrefix || parts[2] == "" {
		return "", 0, "", fmt.Errorf("unrecognized callback data %q", data)
	}
	if parts[1] == verifyMarker {
		return media.ActionVerify, 0, parts[2], nil
	}
	step, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, "", fmt.Errorf("unrecognized callback data %q", data)
	}
	if err := media.ValidateStep(step); err != nil {
		return "", 0, "", err
	}
	return media.ActionStep, step, parts[2], nil
}
