package room

import "strings"

// Shortcut is a normalized key chord: the primary modifier held plus one key.
// The key is compared case-insensitively so caps lock does not change chords.
type Shortcut struct {
	Modifier bool
	Key      string
}

// ChatInput exposes the state of the chat entry surface to the shortcut
// dispatcher. Chat send only fires when the panel is visible and the draft
// is non-empty; the dispatcher never clears or reads the draft itself.
type ChatInput interface {
	Visible() bool
	Draft() string
}

// HandleShortcut dispatches a keyboard chord against the room.
// Returns true when the chord was consumed, so the embedding surface can
// suppress its default behavior. Unbound chords pass through untouched.
func (r *Room) HandleShortcut(s Shortcut, chat ChatInput) bool {
	if !s.Modifier {
		return false
	}

	switch strings.ToLower(s.Key) {
	case "m":
		r.ToggleAudio()
		return true
	case "e":
		r.ToggleVideo()
		return true
	case "enter":
		if chat == nil || !chat.Visible() {
			return false
		}
		draft := strings.TrimSpace(chat.Draft())
		if draft == "" {
			return false
		}
		r.SendChat(draft)
		return true
	}
	return false
}
