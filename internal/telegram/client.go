// Package telegram is the Bot API adapter: it sends replies, files, and gate
// prompts, and decodes webhook updates into inbound events.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flytam/filenamify"

	"github.com/JakeFAU/fetchgate/internal/media"
)

const defaultBaseURL = "https://api.telegram.org"

// Config holds Bot API credentials.
type Config struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// Client talks to the Bot API over HTTPS.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

var _ media.Messenger = (*Client)(nil)

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Client{
		token:   cfg.Token,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

// SendText posts a plain message.
func (c *Client) SendText(ctx context.Context, chatID string, text string) error {
	return c.callJSON(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
}

// SendGatePrompt posts the gate text with one button per step and a verify button.
func (c *Client) SendGatePrompt(ctx context.Context, chatID string, prompt media.GatePrompt) error {
	markup := replyMarkup{}
	for i, step := range prompt.Steps {
		n := i + 1
		row := []inlineButton{{
			Text:         fmt.Sprintf("%d. %s", n, step.Label),
			CallbackData: StepCallbackData(n, prompt.Token),
		}}
		if step.URL != "" {
			row = append(row, inlineButton{Text: "Open", URL: step.URL})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, row)
	}
	markup.InlineKeyboard = append(markup.InlineKeyboard, []inlineButton{{
		Text:         "Verify",
		CallbackData: VerifyCallbackData(prompt.Token),
	}})

	return c.callJSON(ctx, "sendMessage", map[string]any{
		"chat_id":      chatID,
		"text":         prompt.Text,
		"reply_markup": markup,
	})
}

// AnswerCallback acknowledges a button press with a short toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.callJSON(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
	})
}

// SetWebhook points the bot at url, dropping updates queued while offline.
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	return c.callJSON(ctx, "setWebhook", map[string]any{
		"url":                  url,
		"drop_pending_updates": true,
		"allowed_updates":      []string{"message", "callback_query"},
	})
}

// SendFile uploads path as a document. The upload is streamed from disk.
func (c *Client) SendFile(ctx context.Context, chatID string, path string, caption string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeDocumentForm(form, file, chatID, uploadName(path, caption), caption))
	}()
	defer pr.Close()

	return c.call(ctx, "sendDocument", pr, form.FormDataContentType())
}

func writeDocumentForm(form *multipart.Writer, file io.Reader, chatID, name, caption string) error {
	if err := form.WriteField("chat_id", chatID); err != nil {
		return err
	}
	if caption != "" {
		if err := form.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("document", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return form.Close()
}

// uploadName derives a safe display name from the title, keeping the
// artifact's extension.
func uploadName(path, title string) string {
	ext := filepath.Ext(path)
	if strings.TrimSpace(title) == "" {
		return filepath.Base(path)
	}
	name, err := filenamify.Filenamify(title, filenamify.Options{Replacement: "_", MaxLength: 100})
	if err != nil || name == "" {
		return filepath.Base(path)
	}
	return name + ext
}

func (c *Client) callJSON(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	return c.call(ctx, method, bytes.NewReader(body), "application/json")
}

func (c *Client) call(ctx context.Context, method string, body io.Reader, contentType string) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, redact(err, c.token))
	}
	defer resp.Body.Close()

	var decoded apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return fmt.Errorf("%s: telegram error: %s", method, resp.Status)
	}
	if !decoded.OK {
		return fmt.Errorf("%s: telegram error: %s", method, decoded.Description)
	}
	return nil
}

// redact keeps the bot token out of transport errors, which embed the URL.
func redact(err error, token string) error {
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<token>"))
}
