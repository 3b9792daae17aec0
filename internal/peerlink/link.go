package peerlink

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// ErrNoDirectChannel indicates the auxiliary peer data channel is not open;
// callers should fall back to relay-routed delivery.
var ErrNoDirectChannel = errors.New("no open direct channel to peer")

// Status of a single negotiated peer connection.
type Status string

const (
	StatusNew          Status = "new"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusFailed       Status = "failed"
	StatusClosed       Status = "closed"
)

func statusFromConnectionState(state webrtc.PeerConnectionState) Status {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return StatusNew
	case webrtc.PeerConnectionStateConnecting:
		return StatusConnecting
	case webrtc.PeerConnectionStateConnected:
		return StatusConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StatusDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StatusFailed
	case webrtc.PeerConnectionStateClosed:
		return StatusClosed
	}
	return StatusNew
}

// Link is one negotiated peer-to-peer connection to a single remote
// participant. At most one link exists per remote user id; the manager
// enforces this.
type Link struct {
	logger *slog.Logger

	// The id of the *remote* participant this link connects to.
	userID string

	// Negotiation role. Only the receiver of a membership-joined event
	// initiates, so the newly joined side never offers. Glare is avoided
	// by construction rather than by role comparison.
	initiator bool

	connection *webrtc.PeerConnection

	// Senders for the local tracks attached at creation, retained so the
	// outgoing video track can be swapped without renegotiation.
	senders []*webrtc.RTPSender

	// Auxiliary ordered sub-channel for direct peer chat/control.
	// Created by the initiator before the offer, adopted by the responder
	// on arrival. Optional: relay-routed chat covers its absence.
	chat     *webrtc.DataChannel
	chatOpen atomic.Bool

	shutdownOnce sync.Once

	mu           sync.Mutex
	status       Status
	remoteTracks []*webrtc.TrackRemote
}

func (l *Link) UserID() string {
	return l.userID
}

func (l *Link) Initiator() bool {
	return l.initiator
}

func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// RemoteTracks returns the remote tracks bound to this link so far.
func (l *Link) RemoteTracks() []*webrtc.TrackRemote {
	l.mu.Lock()
	defer l.mu.Unlock()
	tracks := make([]*webrtc.TrackRemote, len(l.remoteTracks))
	copy(tracks, l.remoteTracks)
	return tracks
}

// DirectReady reports whether the auxiliary peer channel is open.
func (l *Link) DirectReady() bool {
	return l.chat != nil && l.chatOpen.Load()
}

// SendDirect sends a payload on the auxiliary peer channel.
// Returns ErrNoDirectChannel when the channel never opened or has closed.
func (l *Link) SendDirect(payload []byte) error {
	if l.chat == nil || !l.chatOpen.Load() {
		return ErrNoDirectChannel
	}
	return l.chat.Send(payload)
}

func (l *Link) setStatus(status Status) {
	l.mu.Lock()
	l.status = status
	l.mu.Unlock()
}

func (l *Link) addRemoteTrack(track *webrtc.TrackRemote) {
	l.mu.Lock()
	l.remoteTracks = append(l.remoteTracks, track)
	l.mu.Unlock()
}

func (l *Link) adoptChatChannel(dc *webrtc.DataChannel, onMessage func([]byte)) {
	l.chat = dc
	dc.OnOpen(func() {
		l.chatOpen.Store(true)
		l.logger.Debug("direct peer channel open")
	})
	dc.OnClose(func() {
		l.chatOpen.Store(false)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		onMessage(msg.Data)
	})
}

// close releases the underlying connection. Safe to call more than once;
// callbacks firing after close are ignored by the status guard.
func (l *Link) close() {
	l.shutdownOnce.Do(func() {
		l.setStatus(StatusClosed)
		if err := l.connection.Close(); err != nil {
			l.logger.Warn("error while closing peer connection", "err", err)
		}
		l.logger.Debug("peer link closed")
	})
}
