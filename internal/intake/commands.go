package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/fetchgate/internal/media"
)

func (s *Service) handleCommand(ctx context.Context, msg media.InboundMessage, text string) error {
	fields := strings.Fields(text)
	name, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")
	args := fields[1:]

	switch name {
	case "/start", "/help":
		return s.reply(ctx, msg.ChatID, fmt.Sprintf(textUsage, formatSize(s.cfg.MaxFreeBytes)))
	case "/me":
		rec, err := s.admission.Entitlement(ctx, msg.RequesterID)
		if err != nil {
			return s.reply(ctx, msg.ChatID, textStorageDown)
		}
		return s.reply(ctx, msg.ChatID, describeEntitlement(rec))
	case "/grant":
		return s.adminCommand(ctx, msg, name, args, s.admission.Grant)
	case "/revoke":
		return s.adminCommand(ctx, msg, name, args, s.admission.Revoke)
	case "/resetgate":
		return s.adminCommand(ctx, msg, name, args, s.admission.ResetGate)
	default:
		return s.reply(ctx, msg.ChatID, "Unknown command. Send /start for help.")
	}
}

type adminFunc func(ctx context.Context, callerID, target string) (media.UserEntitlement, error)

func (s *Service) adminCommand(
	ctx context.Context,
	msg media.InboundMessage,
	name string,
	args []string,
	apply adminFunc,
) error {
	if !s.admission.IsAdministrator(msg.RequesterID) {
		return s.reply(ctx, msg.ChatID, textNotAuthorized)
	}
	if len(args) != 1 {
		return s.reply(ctx, msg.ChatID, fmt.Sprintf("Usage: %s <user-id>", name))
	}
	rec, err := apply(ctx, msg.RequesterID, args[0])
	switch {
	case errors.Is(err, media.ErrUnauthorized):
		return s.reply(ctx, msg.ChatID, textNotAuthorized)
	case err != nil:
		return s.reply(ctx, msg.ChatID, textStorageDown)
	}
	return s.reply(ctx, msg.ChatID, "Updated. "+describeEntitlement(rec))
}
