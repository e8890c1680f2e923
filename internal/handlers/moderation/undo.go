package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/bot"
	ngerrors "github.com/iamwavecut/ngguard/internal/errors"
	"github.com/iamwavecut/ngguard/internal/event"
	"github.com/iamwavecut/ngguard/internal/i18n"
)

const undoPrefix = "undo_"

func undoData(kind Kind, userID, chatID int64) string {
	return fmt.Sprintf("%s%s_%d_%d", undoPrefix, kind, userID, chatID)
}

func parseUndoData(data string) (Kind, int64, int64, error) {
	parts := strings.Split(data, "_")
	if len(parts) != 4 || parts[0]+"_" != undoPrefix {
		return "", 0, 0, errors.Errorf("malformed undo data %q", data)
	}
	kind, ok := ParseKind(parts[1])
	if !ok || !kinds[kind].undoable {
		return "", 0, 0, errors.Errorf("action %q cannot be undone", parts[1])
	}
	userID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, 0, errors.Wrap(err, "parse user id")
	}
	chatID, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return "", 0, 0, errors.Wrap(err, "parse chat id")
	}
	return kind, userID, chatID, nil
}

// Undo reverses a confirmed action. The presser's authority is checked at
// click time; whoever issued the action originally is irrelevant.
func (e *Executor) Undo(ctx context.Context, cq *api.CallbackQuery, language string) error {
	entry := e.getLogEntry().WithField("method", "Undo")

	kind, targetID, chatID, err := parseUndoData(cq.Data)
	if err != nil {
		entry.WithField("error", err.Error()).Debug("ignoring undo callback")
		e.answer(ctx, cq.ID, i18n.Get("This action can't be undone anymore.", language), true)
		return nil
	}
	spec := kinds[kind]
	entry = entry.WithFields(log.Fields{"chat_id": chatID, "user_id": targetID, "kind": string(kind)})

	req := Request{
		Kind:     spec.reverse,
		ChatID:   chatID,
		Actor:    cq.From,
		Target:   Target{ID: targetID},
		Language: language,
	}
	if cq.Message != nil {
		req.ChatTitle = cq.Message.Chat.Title
	}

	if cq.From == nil || !e.authority.CanModerate(ctx, chatID, cq.From.ID, spec.grant) {
		entry.Debug("undo denied")
		e.answer(ctx, cq.ID, i18n.Get("Only administrators can undo this action.", language), true)
		e.publish(req, event.ResultDenied, time.Time{}, true)
		return nil
	}

	if err := e.apply(ctx, spec.reverse, chatID, targetID, time.Time{}); err != nil {
		entry.WithField("error", err.Error()).Warn("undo failed")
		switch ngerrors.KindOf(err) {
		case ngerrors.KindCapability:
			e.answer(ctx, cq.ID, i18n.Get("I need to be an administrator with the right to restrict members.", language), true)
		default:
			e.answer(ctx, cq.ID, i18n.Get("Something went wrong, the action was not completed.", language), true)
		}
		e.publish(req, event.ResultFailed, time.Time{}, true)
		return nil
	}

	if cq.Message != nil {
		text := fmt.Sprintf(i18n.Get("%s undid the action against %s.", language), bot.MentionUser(cq.From), req.Target.Mention())
		if err := e.platform.EditMessageText(ctx, chatID, cq.Message.MessageID, text, nil); err != nil {
			entry.WithField("error", err.Error()).Debug("cant edit confirmation")
		}
	}
	e.answer(ctx, cq.ID, i18n.Get("Done.", language), false)
	entry.Info("moderation action undone")
	e.publish(req, event.ResultOK, time.Time{}, true)
	return nil
}

func (e *Executor) answer(ctx context.Context, callbackID, text string, alert bool) {
	if err := e.platform.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		e.getLogEntry().WithField("error", err.Error()).Debug("cant answer callback")
	}
}
