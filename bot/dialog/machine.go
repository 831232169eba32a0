// Package dialog classifies incoming events against the chat's current stage
// and drives the transition: onboarding answers, meeting-request collection,
// candidate navigation, and handoff to the chat relay.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/meetbot/bot/outbound"
	"github.com/m3rciful/meetbot/bot/session"
	"github.com/m3rciful/meetbot/core/logger"
	"github.com/m3rciful/meetbot/service/places"
	"github.com/m3rciful/meetbot/service/search"
	"github.com/m3rciful/meetbot/service/users"
)

// Callback keys owned by the dialog machine.
const (
	CallbackNext     = "search_next"
	CallbackMeet     = "search_meet"
	CallbackDuration = "loc_duration"
	CallbackRadius   = "loc_radius"
)

// DurationChoicesHours are the live-location durations offered to the user.
var DurationChoicesHours = []int{1, 2, 4, 8}

// RadiusChoicesKM are the search radii offered to the user.
var RadiusChoicesKM = []int{1, 3, 5, 10}

// Profiles is the slice of the profile collaborator the machine needs.
type Profiles interface {
	ByChatID(ctx context.Context, chatID int64) (users.User, error)
	UpdateDescription(ctx context.Context, chatID int64, text string) error
	UpdateInterests(ctx context.Context, chatID int64, text string) error
	UpdateAge(ctx context.Context, chatID int64, age int) error
	UpdateGender(ctx context.Context, chatID int64, gender string) error
	UpdateMinAge(ctx context.Context, chatID int64, age int) error
	UpdateMaxAge(ctx context.Context, chatID int64, age int) error
	UpdateGenderPreference(ctx context.Context, chatID int64, pref string) error
	UpdatePhoto(ctx context.Context, chatID int64, fileID string) error
	UpdateLocation(ctx context.Context, chatID int64, lat, lon float64, durationHours int) error
}

// MeetingFlow is the meeting-request workflow as seen by the machine.
type MeetingFlow interface {
	Begin(ctx context.Context, requesterID, targetID int64) error
	CollectMessage(ctx context.Context, chatID int64, text string) error
	AttachPhoto(ctx context.Context, chatID int64, fileID string) error
}

// Relay is the chat session manager as seen by the machine.
type Relay interface {
	RelayText(ctx context.Context, fromID int64, text string) error
	RelayPhoto(ctx context.Context, fromID int64, fileID string) error
	End(ctx context.Context, chatID int64) error
}

// Searcher finds nearby candidates.
type Searcher interface {
	Nearby(ctx context.Context, viewer search.Viewer, radiusKM int) ([]search.Candidate, error)
}

// Places suggests venues near a point. Optional.
type Places interface {
	Search(ctx context.Context, query string, lat, lon float64) ([]places.Place, error)
}

// Machine is the dialog state machine for all chats.
type Machine struct {
	store    *session.Store
	profiles Profiles
	meeting  MeetingFlow
	relay    Relay
	search   Searcher
	places   Places
	sender   outbound.Sender
}

// NewMachine wires the machine with its collaborators.
func NewMachine(store *session.Store, p Profiles, mf MeetingFlow, r Relay, s Searcher, pl Places, out outbound.Sender) *Machine {
	return &Machine{store: store, profiles: p, meeting: mf, relay: r, search: s, places: pl, sender: out}
}

// InProgress reports whether the chat is inside an active dialog flow.
func (m *Machine) InProgress(chatID int64) bool {
	return m.store.Stage(chatID) != session.StageNone
}

// onboardingStep describes one text-driven profile step.
type onboardingStep struct {
	next   session.Stage
	prompt string
	apply  func(ctx context.Context, m *Machine, chatID int64, text string) error
	retry  string
}

// onboardingSteps is the fixed onboarding sequence. The photo stage is not
// part of it: photos arrive as a separate event kind.
var onboardingSteps = map[session.Stage]onboardingStep{
	session.StageAwaitingDescription: {
		next:   session.StageAwaitingInterests,
		prompt: "💡 Now list a few of your interests, separated by commas.",
		apply: func(ctx context.Context, m *Machine, chatID int64, text string) error {
			return m.profiles.UpdateDescription(ctx, chatID, text)
		},
		retry: "Please write a few words about yourself.",
	},
	session.StageAwaitingInterests: {
		next:   session.StageAwaitingAge,
		prompt: "🎂 How old are you?",
		apply: func(ctx context.Context, m *Machine, chatID int64, text string) error {
			return m.profiles.UpdateInterests(ctx, chatID, text)
		},
		retry: "Please list at least one interest.",
	},
	session.StageAwaitingAge: {
		next:   session.StageAwaitingGender,
		prompt: "🚻 What is your gender? (male / female / other)",
		apply: func(ctx context.Context, m *Machine, chatID int64, text string) error {
			age, err := parseAge(text)
			if err != nil {
				return err
			}
			return m.profiles.UpdateAge(ctx, chatID, age)
		},
		retry: "Please send your age as a number between 18 and 120.",
	},
	session.StageAwaitingGender: {
		next:   session.StageAwaitingMinAge,
		prompt: "🔢 Minimum age of people you want to meet?",
		apply: func(ctx context.Context, m *Machine, chatID int64, text string) error {
			return m.profiles.UpdateGender(ctx, chatID, text)
		},
		retry: "Please answer male, female, or other.",
	},
	session.StageAwaitingMinAge: {
		next:   session.StageAwaitingMaxAge,
		prompt: "🔢 Maximum age of people you want to meet?",
		apply: func(ctx context.Context, m *Machine, chatID int64, text string) error {
			age, err := parseAge(text)
			if err != nil {
				return err
			}
			return m.profiles.UpdateMinAge(ctx, chatID, age)
		},
		retry: "Please send a number between 18 and 120.",
	},
	session.StageAwaitingMaxAge: {
		next:   session.StageAwaitingGenderPref,
		prompt: "🚻 Who would you like to meet? (male / female / any)",
		apply: func(ctx context.Context, m *Machine, chatID int64, text string) error {
			age, err := parseAge(text)
			if err != nil {
				return err
			}
			return m.profiles.UpdateMaxAge(ctx, chatID, age)
		},
		retry: "Please send a number between 18 and 120.",
	},
	session.StageAwaitingGenderPref: {
		next: session.StageNone,
		apply: func(ctx context.Context, m *Machine, chatID int64, text string) error {
			return m.profiles.UpdateGenderPreference(ctx, chatID, text)
		},
		retry: "Please answer male, female, or any.",
	},
}

// HandleText routes an incoming text message for the chat's current stage.
func (m *Machine) HandleText(ctx context.Context, chatID int64, text string) error {
	stage := m.store.Stage(chatID)

	switch stage {
	case session.StageChatting:
		switch {
		case text == "/end_chat":
			return m.relay.End(ctx, chatID)
		case strings.HasPrefix(text, "/place"):
			return m.SuggestPlaces(ctx, chatID, strings.TrimSpace(strings.TrimPrefix(text, "/place")))
		default:
			return m.relay.RelayText(ctx, chatID, text)
		}

	case session.StageAwaitingMeetingMessage:
		return m.meeting.CollectMessage(ctx, chatID, text)

	case session.StageAwaitingMeetingPhoto:
		return m.sender.SendText(ctx, chatID, "Send the photo now, or press Skip above.")

	case session.StageAwaitingPhoto:
		return m.sender.SendText(ctx, chatID, "Please send a photo, not text.")
	}

	if step, ok := onboardingSteps[stage]; ok {
		return m.applyStep(ctx, chatID, stage, step, text)
	}

	// No rule for this stage: never advance, just hint.
	logger.Debug(ctx, "dialog", "text.unmatched",
		slog.String("status", "skip"),
		slog.Int64("chat_id", chatID),
		slog.String("stage", string(stage)),
	)
	return m.sender.SendText(ctx, chatID, "ℹ️ Use /search to find people nearby or /help for the full command list.")
}

func (m *Machine) applyStep(ctx context.Context, chatID int64, stage session.Stage, step onboardingStep, text string) error {
	if err := step.apply(ctx, m, chatID, text); err != nil {
		if errors.Is(err, users.ErrValidation) {
			return m.sender.SendText(ctx, chatID, step.retry)
		}
		logger.Error(ctx, "dialog", "step.apply.fail",
			slog.String("status", "fail"),
			slog.Int64("chat_id", chatID),
			slog.String("stage", string(stage)),
			slog.String("err", err.Error()),
		)
		return m.sender.SendText(ctx, chatID, "❌ Could not save that. Please try again.")
	}

	m.store.SetStage(chatID, step.next)
	logger.Debug(ctx, "dialog", "step.advance",
		slog.String("status", "ok"),
		slog.Int64("chat_id", chatID),
		slog.String("stage", string(step.next)),
	)

	if step.next == session.StageNone {
		return m.finishOnboarding(ctx, chatID)
	}
	return m.sender.SendText(ctx, chatID, step.prompt)
}

func (m *Machine) finishOnboarding(ctx context.Context, chatID int64) error {
	u, err := m.profiles.ByChatID(ctx, chatID)
	if err != nil {
		return m.sender.SendText(ctx, chatID, "✅ Profile saved!")
	}
	pct := users.CompletionPercentage(u)
	msg := fmt.Sprintf("✅ Profile saved!\n🏆 Your profile is %d%% complete.", pct)
	if u.PhotoFileID == "" {
		msg += "\n📸 Add a photo with /photo to get more attention."
	}
	msg += "\nUse /search to find people nearby."
	return m.sender.SendText(ctx, chatID, msg)
}

// HandlePhoto routes an incoming photo for the chat's current stage.
func (m *Machine) HandlePhoto(ctx context.Context, chatID int64, fileID string) error {
	switch m.store.Stage(chatID) {
	case session.StageAwaitingPhoto:
		if err := m.profiles.UpdatePhoto(ctx, chatID, fileID); err != nil {
			logger.Error(ctx, "dialog", "photo.update.fail",
				slog.String("status", "fail"),
				slog.Int64("chat_id", chatID),
				slog.String("err", err.Error()),
			)
			return m.sender.SendText(ctx, chatID, "❌ Could not save the photo. Please try again.")
		}
		m.store.SetStage(chatID, session.StageNone)
		u, err := m.profiles.ByChatID(ctx, chatID)
		if err != nil {
			return m.sender.SendText(ctx, chatID, "✅ Your profile photo has been updated!")
		}
		return m.sender.SendText(ctx, chatID, fmt.Sprintf(
			"✅ Your profile photo has been updated!\n🏆 Your profile is %d%% complete.",
			users.CompletionPercentage(u)))

	case session.StageAwaitingMeetingPhoto:
		return m.meeting.AttachPhoto(ctx, chatID, fileID)

	case session.StageChatting:
		return m.relay.RelayPhoto(ctx, chatID, fileID)
	}

	// Photo outside any photo-expecting stage: no state change.
	return m.sender.SendText(ctx, chatID, "📸 Want to update your profile photo? Use /photo.")
}

// HandleLocation consumes a shared location: it refreshes the profile
// coordinates and runs the candidate search.
func (m *Machine) HandleLocation(ctx context.Context, chatID int64, lat, lon float64) error {
	if m.store.Stage(chatID) == session.StageChatting {
		return m.sender.SendText(ctx, chatID, "Locations are not relayed. Use /place <query> to suggest a venue.")
	}
	if !m.store.HasLocationSettings(chatID) {
		return m.PromptLocationSettings(ctx, chatID)
	}

	duration, _ := m.store.LocationDuration(chatID)
	if err := m.profiles.UpdateLocation(ctx, chatID, lat, lon, duration); err != nil {
		logger.Error(ctx, "dialog", "location.update.fail",
			slog.String("status", "fail"),
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
		return m.sender.SendText(ctx, chatID, "❌ Could not save your location. Please try again.")
	}
	return m.RunSearch(ctx, chatID)
}

// PromptLocationSettings asks for whichever of duration/radius is missing.
func (m *Machine) PromptLocationSettings(ctx context.Context, chatID int64) error {
	if _, ok := m.store.LocationDuration(chatID); !ok {
		row := make([]outbound.Button, 0, len(DurationChoicesHours))
		for _, h := range DurationChoicesHours {
			row = append(row, outbound.Button{
				Text:    fmt.Sprintf("%d h", h),
				Key:     CallbackDuration,
				Payload: strconv.Itoa(h),
			})
		}
		return m.sender.SendButtons(ctx, chatID, "⏱ For how long should your location stay visible?", row)
	}
	if _, ok := m.store.SearchRadius(chatID); !ok {
		row := make([]outbound.Button, 0, len(RadiusChoicesKM))
		for _, km := range RadiusChoicesKM {
			row = append(row, outbound.Button{
				Text:    fmt.Sprintf("%d km", km),
				Key:     CallbackRadius,
				Payload: strconv.Itoa(km),
			})
		}
		return m.sender.SendButtons(ctx, chatID, "📏 How far around you should I search?", row)
	}
	return m.promptShareLocation(ctx, chatID)
}

// SetDuration stores the chosen live-location duration and continues the
// settings flow.
func (m *Machine) SetDuration(ctx context.Context, chatID int64, hours int) error {
	m.store.SetLocationDuration(chatID, hours)
	return m.PromptLocationSettings(ctx, chatID)
}

// SetRadius stores the chosen search radius and continues the settings flow.
func (m *Machine) SetRadius(ctx context.Context, chatID int64, km int) error {
	m.store.SetSearchRadius(chatID, km)
	return m.PromptLocationSettings(ctx, chatID)
}

func (m *Machine) promptShareLocation(ctx context.Context, chatID int64) error {
	return m.sender.SendText(ctx, chatID, "📍 Share your location (attach → location) and I will look around you.")
}

// RunSearch queries candidates around the user and shows the first one. The
// fresh result invalidates any previous cache.
func (m *Machine) RunSearch(ctx context.Context, chatID int64) error {
	u, err := m.profiles.ByChatID(ctx, chatID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return m.sender.SendText(ctx, chatID, "Start with /start to create your profile first.")
		}
		return fmt.Errorf("load profile %d: %w", chatID, err)
	}

	radius, _ := m.store.SearchRadius(chatID)
	list, err := m.search.Nearby(ctx, search.Viewer{
		ChatID:           chatID,
		Lat:              u.Lat,
		Lon:              u.Lon,
		Age:              u.Age,
		Gender:           u.Gender,
		MinAge:           u.MinAge,
		MaxAge:           u.MaxAge,
		GenderPreference: u.GenderPreference,
	}, radius)
	if err != nil {
		logger.Error(ctx, "dialog", "search.fail",
			slog.String("status", "fail"),
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
		return m.sender.SendText(ctx, chatID, "❌ Search failed. Please try again later.")
	}

	m.store.CacheCandidates(chatID, list)
	if len(list) == 0 {
		return m.sender.SendText(ctx, chatID, "😔 Nobody around right now. Try a bigger radius or come back later.")
	}
	return m.ShowCandidate(ctx, chatID)
}

// ShowCandidate renders the candidate under the cursor with its controls.
func (m *Machine) ShowCandidate(ctx context.Context, chatID int64) error {
	cand, ok := m.store.CurrentCandidate(chatID)
	if !ok {
		return m.sender.SendText(ctx, chatID, "😔 No more people nearby. Run /search again later.")
	}

	card := formatCandidate(cand)
	controls := outbound.Row(
		outbound.Button{Text: "💌 Ask to meet", Key: CallbackMeet, Payload: strconv.FormatInt(cand.UserID, 10)},
		outbound.Button{Text: "➡️ Next", Key: CallbackNext},
	)
	if cand.PhotoFileID != "" {
		if err := m.sender.SendPhoto(ctx, chatID, cand.PhotoFileID, card); err != nil {
			logger.Warn(ctx, "dialog", "candidate.photo.fail",
				slog.String("status", "fail"),
				slog.Int64("chat_id", chatID),
				slog.String("err", err.Error()),
			)
			return m.sender.SendButtons(ctx, chatID, card, controls)
		}
		return m.sender.SendButtons(ctx, chatID, "What do you think?", controls)
	}
	return m.sender.SendButtons(ctx, chatID, card, controls)
}

// NextCandidate advances the cursor and shows the next candidate.
func (m *Machine) NextCandidate(ctx context.Context, chatID int64) error {
	m.store.SetCursor(chatID, m.store.Cursor(chatID)+1)
	return m.ShowCandidate(ctx, chatID)
}

// RequestMeeting validates the chosen target and hands over to the meeting
// workflow.
func (m *Machine) RequestMeeting(ctx context.Context, chatID, targetID int64) error {
	if targetID <= 0 || targetID == chatID {
		return m.sender.SendText(ctx, chatID, "❌ Something went wrong. Run /search again.")
	}
	return m.meeting.Begin(ctx, chatID, targetID)
}

// SuggestPlaces looks up venues near the user and, when chatting, shares the
// suggestions with the partner too.
func (m *Machine) SuggestPlaces(ctx context.Context, chatID int64, query string) error {
	if m.places == nil {
		return m.sender.SendText(ctx, chatID, "Place suggestions are not configured.")
	}
	if query == "" {
		return m.sender.SendText(ctx, chatID, "Usage: /place coffee")
	}

	u, err := m.profiles.ByChatID(ctx, chatID)
	if err != nil || (u.Lat == 0 && u.Lon == 0) {
		return m.sender.SendText(ctx, chatID, "I need your location first. Share it via /search.")
	}

	found, err := m.places.Search(ctx, query, u.Lat, u.Lon)
	if err != nil {
		logger.Error(ctx, "dialog", "places.fail",
			slog.String("status", "fail"),
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
		return m.sender.SendText(ctx, chatID, "❌ Place lookup failed. Please try again later.")
	}
	if len(found) == 0 {
		return m.sender.SendText(ctx, chatID, "Nothing found nearby for that query.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📍 Places for «%s»:\n", query)
	for i, p := range found {
		fmt.Fprintf(&b, "%d. %s", i+1, p.Name)
		if p.Address != "" {
			fmt.Fprintf(&b, " — %s", p.Address)
		}
		b.WriteByte('\n')
	}
	text := strings.TrimRight(b.String(), "\n")

	if partnerID, ok := m.store.ChatPartner(chatID); ok {
		if err := m.sender.SendText(ctx, partnerID, text); err != nil {
			logger.Warn(ctx, "dialog", "places.partner.fail",
				slog.String("status", "fail"),
				slog.Int64("partner_id", partnerID),
				slog.String("err", err.Error()),
			)
		}
	}
	return m.sender.SendText(ctx, chatID, text)
}

func formatCandidate(c search.Candidate) string {
	var b strings.Builder
	name := c.Name
	if name == "" {
		name = "Someone"
	}
	if c.Age > 0 {
		fmt.Fprintf(&b, "👤 %s, %d", name, c.Age)
	} else {
		fmt.Fprintf(&b, "👤 %s", name)
	}
	fmt.Fprintf(&b, " — %.1f km away\n", c.DistanceKM)
	if c.Description != "" {
		fmt.Fprintf(&b, "📝 %s\n", c.Description)
	}
	if c.Interests != "" {
		fmt.Fprintf(&b, "💡 %s\n", c.Interests)
	}
	return strings.TrimRight(b.String(), "\n")
}

func parseAge(text string) (int, error) {
	age, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("parse age %q: %w", text, users.ErrValidation)
	}
	return age, nil
}
