package room

import (
	"github.com/pion/webrtc/v4"

	"github.com/peerlearn/sessionroom/internal/media"
	"github.com/peerlearn/sessionroom/internal/peerlink"
)

// Hooks is the presentation side-effect contract of the room.
//
// The coordinator invokes these callbacks as state changes; rendering them
// (video elements, participant list, chat scroll, toast notices, navigation)
// is entirely the embedding surface's concern. All calls arrive on the
// room's single event loop goroutine, in event order.
type Hooks interface {
	// AttachLocalStream is invoked once acquisition produced the local
	// stream, whatever tier it ended on.
	AttachLocalStream(handle *media.Handle)

	// AttachRemoteStream is invoked for each remote track as it arrives.
	AttachRemoteStream(userID string, track *webrtc.TrackRemote)

	// DetachRemoteStream is invoked when a participant leaves and any
	// bound remote view must be torn down.
	DetachRemoteStream(userID string)

	// UpdateConnectionStatus reports per-peer negotiation status changes.
	UpdateConnectionStatus(userID string, status peerlink.Status)

	// UpdateParticipantList is invoked whenever membership or participant
	// flags change.
	UpdateParticipantList(participants []Participant)

	// AppendChatMessage is invoked for every appended chat message; the
	// surface is expected to scroll to the latest entry.
	AppendChatMessage(msg ChatMessage)

	// ShowAdvisory surfaces a non-blocking user notice.
	ShowAdvisory(title, message, severity string)

	// SessionClockTick is invoked once per second while the room is live
	// with the elapsed session duration rendered as mm:ss.
	SessionClockTick(elapsed string)

	// NavigateOnClose is invoked exactly once when teardown completes,
	// so the surface can leave the room view.
	NavigateOnClose()
}

// NopHooks is the no-op presentation surface, useful headless and in tests.
type NopHooks struct{}

func (NopHooks) AttachLocalStream(*media.Handle)                 {}
func (NopHooks) AttachRemoteStream(string, *webrtc.TrackRemote)  {}
func (NopHooks) DetachRemoteStream(string)                       {}
func (NopHooks) UpdateConnectionStatus(string, peerlink.Status)  {}
func (NopHooks) UpdateParticipantList([]Participant)             {}
func (NopHooks) AppendChatMessage(ChatMessage)                   {}
func (NopHooks) ShowAdvisory(title, message, severity string)    {}
func (NopHooks) SessionClockTick(string)                         {}
func (NopHooks) NavigateOnClose()                                {}
