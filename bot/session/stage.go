package session

// Stage identifies what the bot expects next from a given chat.
type Stage string

const (
	// StageNone indicates there is no active conversation step.
	StageNone Stage = "none"

	// Onboarding pipeline, in order.
	StageAwaitingDescription Stage = "awaiting_description"
	StageAwaitingInterests   Stage = "awaiting_interests"
	StageAwaitingPhoto       Stage = "awaiting_photo"
	StageAwaitingAge         Stage = "awaiting_age"
	StageAwaitingGender      Stage = "awaiting_gender"
	StageAwaitingMinAge      Stage = "awaiting_min_age"
	StageAwaitingMaxAge      Stage = "awaiting_max_age"
	StageAwaitingGenderPref  Stage = "awaiting_gender_preference"

	// Meeting request collection.
	StageAwaitingMeetingMessage Stage = "awaiting_meeting_message"
	StageAwaitingMeetingPhoto   Stage = "awaiting_meeting_photo"

	// StageChatting means the chat is bound to a relay session.
	StageChatting Stage = "chatting"
)
