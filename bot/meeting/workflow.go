// Package meeting orchestrates the meeting-request workflow: collecting the
// message and optional photo from the requester, dispatching the durable
// request, notifying the target, and resolving accept/decline.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/meetbot/bot/outbound"
	"github.com/m3rciful/meetbot/bot/session"
	"github.com/m3rciful/meetbot/core/logger"
	tghelpers "github.com/m3rciful/meetbot/core/telegram/helpers"
	"github.com/m3rciful/meetbot/service/meetings"
	"github.com/m3rciful/meetbot/service/users"
)

// Callback keys understood by the workflow's controls.
const (
	CallbackAccept    = "meeting_accept"
	CallbackDecline   = "meeting_decline"
	CallbackSkipPhoto = "meeting_skip_photo"
)

// ErrIncomplete indicates dispatch was attempted without the required
// pending fields. The pending state is intentionally left in place so the
// inconsistency can be inspected.
var ErrIncomplete = errors.New("meeting: pending request incomplete")

// Delivery reports which tier of the target notification went through.
type Delivery int

const (
	// DeliveryRich means the formatted notification with inline controls
	// was delivered.
	DeliveryRich Delivery = iota
	// DeliveryFallback means the plain-text notification with literal
	// command forms was delivered instead.
	DeliveryFallback
	// DeliveryFailed means neither tier could be delivered.
	DeliveryFailed
)

// Meetings is the durable meeting-request collaborator.
type Meetings interface {
	Create(ctx context.Context, p meetings.CreateParams) (int64, error)
	ByID(ctx context.Context, id int64) (meetings.Request, error)
	Accept(ctx context.Context, id int64) (meetings.Request, error)
	Decline(ctx context.Context, id int64) (meetings.Request, error)
}

// Profiles is the slice of the profile collaborator the workflow needs.
type Profiles interface {
	ByChatID(ctx context.Context, chatID int64) (users.User, error)
}

// Workflow drives one meeting request from collection to resolution.
type Workflow struct {
	store    *session.Store
	meetings Meetings
	profiles Profiles
	sender   outbound.Sender
	now      func() time.Time
}

// NewWorkflow wires the workflow with its collaborators.
func NewWorkflow(store *session.Store, m Meetings, p Profiles, s outbound.Sender) *Workflow {
	return &Workflow{store: store, meetings: m, profiles: p, sender: s, now: time.Now}
}

// Begin starts collecting a request from requester to target.
func (w *Workflow) Begin(ctx context.Context, requesterID, targetID int64) error {
	w.store.SetPendingTarget(requesterID, targetID)
	w.store.SetStage(requesterID, session.StageAwaitingMeetingMessage)
	logger.Info(ctx, "meeting", "collect.start",
		slog.String("status", "ok"),
		slog.Int64("chat_id", requesterID),
		slog.Int64("target_id", targetID),
	)
	return w.sender.SendText(ctx, requesterID,
		"✍️ Write a short message for your meeting request. It will be shown to the person you picked.")
}

// CollectMessage stores the free-text message and moves to the
// photo-or-skip decision point.
func (w *Workflow) CollectMessage(ctx context.Context, chatID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return w.sender.SendText(ctx, chatID, "The message cannot be empty. Please write a few words.")
	}
	w.store.SetPendingMessage(chatID, text)
	w.store.SetStage(chatID, session.StageAwaitingMeetingPhoto)
	return w.sender.SendButtons(ctx, chatID,
		"📸 Want to attach a photo to your request? Send it now, or skip.",
		outbound.Row(outbound.Button{Text: "Skip photo", Key: CallbackSkipPhoto}),
	)
}

// AttachPhoto records the request photo and dispatches.
func (w *Workflow) AttachPhoto(ctx context.Context, chatID int64, fileID string) error {
	w.store.SetPendingPhoto(chatID, fileID)
	return w.Dispatch(ctx, chatID)
}

// SkipPhoto dispatches without a photo.
func (w *Workflow) SkipPhoto(ctx context.Context, chatID int64) error {
	return w.Dispatch(ctx, chatID)
}

// Dispatch validates the pending fields, creates the durable request, and
// notifies the target. Pending fields are cleared atomically only after the
// durable record exists.
func (w *Workflow) Dispatch(ctx context.Context, chatID int64) error {
	w.store.SetStage(chatID, session.StageNone)

	pending, ok := w.store.Pending(chatID)
	if !ok || strings.TrimSpace(pending.Message) == "" || pending.TargetID == 0 {
		// Invariant violation: collection should have filled these. Leave
		// the pending state in place for diagnosis.
		logger.Error(ctx, "meeting", "dispatch.incomplete",
			slog.String("status", "fail"),
			slog.Int64("chat_id", chatID),
			slog.Int64("target_id", pending.TargetID),
			slog.Bool("has_message", strings.TrimSpace(pending.Message) != ""),
		)
		_ = w.sender.SendText(ctx, chatID, "❌ Something went wrong with your request. Please try again.")
		return ErrIncomplete
	}

	message, scheduledAt := splitSchedule(pending.Message, w.now)

	id, err := w.meetings.Create(ctx, meetings.CreateParams{
		SenderID:    chatID,
		TargetID:    pending.TargetID,
		Message:     message,
		ScheduledAt: scheduledAt,
		PhotoFileID: pending.PhotoFileID,
	})
	if err != nil {
		logger.Error(ctx, "meeting", "dispatch.create.fail",
			slog.String("status", "fail"),
			slog.Int64("chat_id", chatID),
			slog.Int64("target_id", pending.TargetID),
			slog.String("err", err.Error()),
		)
		_ = w.sender.SendText(ctx, chatID, "❌ Could not send your request right now. Please try again later.")
		return fmt.Errorf("create meeting request: %w", err)
	}

	delivery := w.notifyTarget(ctx, id, chatID, pending.TargetID, message, pending.PhotoFileID)
	w.store.ClearPendingRequest(chatID)

	logger.Info(ctx, "meeting", "dispatch.done",
		slog.String("status", "ok"),
		slog.Int64("chat_id", chatID),
		slog.Int64("target_id", pending.TargetID),
		slog.Int64("request_id", id),
		slog.Bool("fallback", delivery == DeliveryFallback),
	)
	return w.sender.SendText(ctx, chatID, "✅ Your meeting request has been sent!")
}

// notifyTarget implements the two-tier delivery contract: a rich message with
// inline controls first, then a plain-text recovery path carrying literal
// command forms. The notification is never dropped silently.
func (w *Workflow) notifyTarget(ctx context.Context, requestID, requesterID, targetID int64, message, photoFileID string) Delivery {
	requester, err := w.profiles.ByChatID(ctx, requesterID)
	if err != nil {
		logger.Warn(ctx, "meeting", "notify.profile.miss",
			slog.String("status", "fail"),
			slog.Int64("chat_id", requesterID),
			slog.String("err", err.Error()),
		)
	}

	text := FormatRequest(requester, message)
	err = w.sender.SendButtons(ctx, targetID, text,
		outbound.Row(
			outbound.Button{Text: "✅ Accept", Key: CallbackAccept, Payload: fmt.Sprintf("%d", requestID)},
			outbound.Button{Text: "❌ Decline", Key: CallbackDecline, Payload: fmt.Sprintf("%d", requestID)},
		),
	)
	if err == nil {
		if requester.PhotoFileID != "" {
			if perr := w.sender.SendPhoto(ctx, targetID, requester.PhotoFileID, ""); perr != nil {
				logger.Warn(ctx, "meeting", "notify.profile_photo.fail",
					slog.String("status", "fail"),
					slog.Int64("target_id", targetID),
					slog.String("err", perr.Error()),
				)
			}
		}
		if photoFileID != "" {
			if perr := w.sender.SendPhoto(ctx, targetID, photoFileID, "📸 Photo attached to the request"); perr != nil {
				logger.Warn(ctx, "meeting", "notify.request_photo.fail",
					slog.String("status", "fail"),
					slog.Int64("target_id", targetID),
					slog.String("err", perr.Error()),
				)
			}
		}
		return DeliveryRich
	}

	logger.Warn(ctx, "meeting", "notify.rich.fail",
		slog.String("status", "retry"),
		slog.Int64("target_id", targetID),
		slog.Int64("request_id", requestID),
		slog.String("err", err.Error()),
	)
	plain := fmt.Sprintf("%s\n\nTo answer, use the commands:\n/accept_%d — accept\n/decline_%d — decline",
		text, requestID, requestID)
	if err := w.sender.SendText(ctx, targetID, plain); err != nil {
		logger.Error(ctx, "meeting", "notify.fallback.fail",
			slog.String("status", "fail"),
			slog.Int64("target_id", targetID),
			slog.Int64("request_id", requestID),
			slog.String("err", err.Error()),
		)
		return DeliveryFailed
	}
	return DeliveryFallback
}

// Accept resolves the request and binds both participants into a relay
// session. Only the request's target may accept.
func (w *Workflow) Accept(ctx context.Context, chatID, requestID int64) error {
	req, err := w.meetings.ByID(ctx, requestID)
	if err != nil {
		return w.resolveLookupError(ctx, chatID, requestID, err)
	}
	if req.TargetID != chatID {
		return w.sender.SendText(ctx, chatID, "This request was not addressed to you.")
	}

	req, err = w.meetings.Accept(ctx, requestID)
	if err != nil {
		return w.resolveLookupError(ctx, chatID, requestID, err)
	}

	if _, err := w.store.StartChat(req.TargetID, req.SenderID, req.ID); err != nil {
		if errors.Is(err, session.ErrAlreadyChatting) {
			return w.sender.SendText(ctx, chatID,
				"One of you is already in an active chat. Finish it with /end_chat first.")
		}
		return fmt.Errorf("start chat for request %d: %w", requestID, err)
	}

	logger.Info(ctx, "meeting", "request.accepted",
		slog.String("status", "ok"),
		slog.Int64("chat_id", chatID),
		slog.Int64("partner_id", req.SenderID),
		slog.Int64("request_id", req.ID),
	)

	connected := "🎉 Meeting request accepted! You are now connected.\nEverything you send here is relayed to your match. Use /end_chat to finish, /place <query> to find a spot nearby."
	if err := w.sender.SendText(ctx, req.SenderID, connected); err != nil {
		logger.Warn(ctx, "meeting", "accept.notify.fail",
			slog.String("status", "fail"),
			slog.Int64("chat_id", req.SenderID),
			slog.String("err", err.Error()),
		)
	}
	return w.sender.SendText(ctx, req.TargetID, connected)
}

// Decline resolves the request with no session created.
func (w *Workflow) Decline(ctx context.Context, chatID, requestID int64) error {
	req, err := w.meetings.ByID(ctx, requestID)
	if err != nil {
		return w.resolveLookupError(ctx, chatID, requestID, err)
	}
	if req.TargetID != chatID {
		return w.sender.SendText(ctx, chatID, "This request was not addressed to you.")
	}

	req, err = w.meetings.Decline(ctx, requestID)
	if err != nil {
		return w.resolveLookupError(ctx, chatID, requestID, err)
	}

	logger.Info(ctx, "meeting", "request.declined",
		slog.String("status", "ok"),
		slog.Int64("chat_id", chatID),
		slog.Int64("request_id", req.ID),
	)
	if err := w.sender.SendText(ctx, req.SenderID, "😔 Your meeting request was declined."); err != nil {
		logger.Warn(ctx, "meeting", "decline.notify.fail",
			slog.String("status", "fail"),
			slog.Int64("chat_id", req.SenderID),
			slog.String("err", err.Error()),
		)
	}
	return w.sender.SendText(ctx, req.TargetID, "Request declined.")
}

func (w *Workflow) resolveLookupError(ctx context.Context, chatID, requestID int64, err error) error {
	switch {
	case errors.Is(err, meetings.ErrNotFound):
		return w.sender.SendText(ctx, chatID, "This meeting request no longer exists.")
	case errors.Is(err, meetings.ErrExpired):
		return w.sender.SendText(ctx, chatID, "⌛ This meeting request has expired.")
	case errors.Is(err, meetings.ErrAlreadyResolved):
		return w.sender.SendText(ctx, chatID, "This meeting request was already answered.")
	default:
		logger.Error(ctx, "meeting", "resolve.fail",
			slog.String("status", "fail"),
			slog.Int64("chat_id", chatID),
			slog.Int64("request_id", requestID),
			slog.String("err", err.Error()),
		)
		_ = w.sender.SendText(ctx, chatID, "❌ Something went wrong. Please try again.")
		return err
	}
}

// FormatRequest renders the notification shown to the target.
func FormatRequest(requester users.User, message string) string {
	name := requester.FirstName
	if name == "" {
		name = "Someone nearby"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "💌 %s wants to meet you!\n", name)
	if requester.Age > 0 {
		fmt.Fprintf(&b, "Age: %d\n", requester.Age)
	}
	if requester.Description != "" {
		fmt.Fprintf(&b, "About: %s\n", requester.Description)
	}
	fmt.Fprintf(&b, "\n«%s»", message)
	return b.String()
}

// splitSchedule extracts an optional proposed time from the last line of the
// message. Without one the window defaults to an hour from now.
func splitSchedule(message string, now func() time.Time) (string, time.Time) {
	lines := strings.Split(strings.TrimSpace(message), "\n")
	if len(lines) > 1 {
		last := strings.TrimSpace(lines[len(lines)-1])
		if t, ok := tghelpers.ParseFlexibleDate(last); ok && t.After(now()) {
			return strings.TrimSpace(strings.Join(lines[:len(lines)-1], "\n")), t
		}
	}
	return strings.TrimSpace(message), now().Add(time.Hour)
}
