package room

import (
	"testing"

	"github.com/peerlearn/sessionroom/internal/media"
	"github.com/peerlearn/sessionroom/internal/signalling"
)

type fakeChatInput struct {
	visible bool
	draft   string
}

func (c fakeChatInput) Visible() bool { return c.visible }
func (c fakeChatInput) Draft() string { return c.draft }

func TestShortcutToggleAudio(t *testing.T) {
	r, _, _ := newTestRoom(t, RoleLearner)

	if !r.HandleShortcut(Shortcut{Modifier: true, Key: "m"}, nil) {
		t.Error("modifier+m should be consumed")
	}
	waitFor(t, func() bool {
		return !r.LocalMedia().Enabled(media.TrackKindAudio)
	})
}

func TestShortcutToggleVideo(t *testing.T) {
	r, _, _ := newTestRoom(t, RoleLearner)

	if !r.HandleShortcut(Shortcut{Modifier: true, Key: "E"}, nil) {
		t.Error("chord keys should match case-insensitively")
	}
	waitFor(t, func() bool {
		return !r.LocalMedia().Enabled(media.TrackKindVideo)
	})
}

func TestShortcutChatSend(t *testing.T) {
	r, channel, _ := newTestRoom(t, RoleLearner)

	if r.HandleShortcut(Shortcut{Modifier: true, Key: "enter"}, fakeChatInput{visible: false, draft: "hi"}) {
		t.Error("hidden chat panel must not send")
	}
	if r.HandleShortcut(Shortcut{Modifier: true, Key: "enter"}, fakeChatInput{visible: true, draft: "  "}) {
		t.Error("blank draft must not send")
	}
	if !r.HandleShortcut(Shortcut{Modifier: true, Key: "enter"}, fakeChatInput{visible: true, draft: "hi"}) {
		t.Error("visible panel with draft should send")
	}

	waitFor(t, func() bool {
		for _, msg := range channel.sentMessages() {
			if chat, ok := msg.(signalling.ChatMessage); ok {
				return chat.Message == "hi"
			}
		}
		return false
	})
}

func TestShortcutUnbound(t *testing.T) {
	r, _, _ := newTestRoom(t, RoleLearner)

	if r.HandleShortcut(Shortcut{Modifier: false, Key: "m"}, nil) {
		t.Error("chord without modifier must pass through")
	}
	if r.HandleShortcut(Shortcut{Modifier: true, Key: "x"}, nil) {
		t.Error("unbound chord must pass through")
	}
}
