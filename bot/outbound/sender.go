// Package outbound declares the messaging contract the conversational core
// emits through. Implementations own keyboard rendering and transport details;
// the core hands over plain data only.
package outbound

import "context"

// Button is one inline control handed to the messaging collaborator.
// Key and Payload follow the callback encoding used by the router.
type Button struct {
	Text    string
	Key     string
	Payload string
}

// Sender delivers outbound messages to a chat. Calls are fire-and-forget from
// the core's point of view; the returned error matters only where the caller
// needs to pick a delivery fallback.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendButtons(ctx context.Context, chatID int64, text string, rows ...[]Button) error
	SendPhoto(ctx context.Context, chatID int64, fileID, caption string) error
}

// Row is a convenience constructor for a single keyboard row.
func Row(buttons ...Button) []Button { return buttons }
