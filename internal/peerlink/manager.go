package peerlink

import (
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Signaller sends outbound negotiation messages addressed to one remote
// participant. The room coordinator adapts this onto the signaling channel.
type Signaller interface {
	SendOffer(toUser string, offer webrtc.SessionDescription)
	SendAnswer(toUser string, answer webrtc.SessionDescription)
	SendCandidate(toUser string, candidate webrtc.ICECandidateInit)
}

// Observer receives link notifications. Calls arrive on pion callback
// goroutines; implementations must hand off to their own scheduling.
type Observer interface {
	RemoteTrackReceived(userID string, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	LinkStatusChanged(userID string, status Status)
	DirectMessageReceived(userID string, payload []byte)
}

// TrackSource supplies the current local tracks to attach to new links.
type TrackSource interface {
	Tracks() []*webrtc.TrackLocalStaticSample
}

// Manager owns one Link per remote participant and drives the
// offer/answer/candidate exchange for each.
//
// The manager only creates and negotiates connections; deciding *when* to
// create or close a link (membership events, teardown) belongs to the room
// coordinator. Links negotiate independently and concurrently: no ordering
// holds across different remote participants.
type Manager struct {
	logger *slog.Logger

	connectionConfiguration webrtc.Configuration

	local     TrackSource
	signaller Signaller
	observer  Observer

	mu    sync.Mutex
	links map[string]*Link
}

// Create a new Manager.
//
// connectionConfiguration defines the configuration to use for all
// webrtc.PeerConnections made for this room, both offering and answering.
// See https://github.com/pion/webrtc for details on these options.
//
// If no logger is given, slog.Default() is used.
func NewManager(
	connectionConfiguration webrtc.Configuration,
	local TrackSource,
	signaller Signaller,
	observer Observer,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		logger:                  logger,
		connectionConfiguration: connectionConfiguration,
		local:                   local,
		signaller:               signaller,
		observer:                observer,
		links:                   make(map[string]*Link),
	}
}

// CreateLink builds one negotiated connection to remoteUserID, attaching
// every current local track. If a link for that user already exists it is
// closed and replaced, preserving the at-most-one-link-per-user invariant
// even against a relay that redelivers membership events.
//
// Initiators create the direct peer channel, produce an offer, set it as
// the local description and send it addressed to the remote user.
func (m *Manager) CreateLink(remoteUserID string, isInitiator bool) (*Link, error) {
	m.mu.Lock()
	existing, replacing := m.links[remoteUserID]
	if replacing {
		delete(m.links, remoteUserID)
	}
	m.mu.Unlock()
	if replacing {
		m.logger.Warn(
			"replacing existing link for rejoining peer",
			"remoteUserID", remoteUserID,
		)
		existing.close()
	}

	pc, err := webrtc.NewPeerConnection(m.connectionConfiguration)
	if err != nil {
		m.logger.Error(
			"error while creating new peer connection",
			"remoteUserID", remoteUserID,
			"err", err,
		)
		return nil, err
	}

	link := &Link{
		logger: m.logger.With(
			"remoteUserID", remoteUserID,
		),
		userID:     remoteUserID,
		initiator:  isInitiator,
		connection: pc,
		status:     StatusNew,
	}

	for _, track := range m.local.Tracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			link.logger.Error(
				"error while adding local track to peer connection",
				"trackID", track.ID(),
				"err", err,
			)
			continue
		}
		link.senders = append(link.senders, sender)
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		m.signaller.SendCandidate(remoteUserID, candidate.ToJSON())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		link.logger.Debug(
			"received remote track",
			"trackID", track.ID(),
			"trackKind", track.Kind().String(),
		)
		link.addRemoteTrack(track)
		m.observer.RemoteTrackReceived(remoteUserID, track, receiver)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		status := statusFromConnectionState(state)
		link.logger.Debug("peer connection state change", "newState", status)

		if link.Status() == StatusClosed {
			return
		}
		link.setStatus(status)
		m.observer.LinkStatusChanged(remoteUserID, status)

		// A failed link gets an ICE restart on that link only, never a
		// full room teardown. Only the initiating side restarts; the
		// responder waits for the restart offer.
		if status == StatusFailed && link.initiator {
			go m.restartICE(link)
		}
	})

	if isInitiator {
		// The direct channel must exist before the offer so it rides in
		// the initial SDP.
		chat, err := pc.CreateDataChannel("chat", nil)
		if err != nil {
			link.logger.Warn(
				"error while creating direct peer channel, relay chat only",
				"err", err,
			)
		} else {
			link.adoptChatChannel(chat, func(payload []byte) {
				m.observer.DirectMessageReceived(remoteUserID, payload)
			})
		}

		offer, err := pc.CreateOffer(nil)
		if err != nil {
			link.logger.Error("error while creating offer", "err", err)
			pc.Close()
			return nil, err
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			link.logger.Error(
				"error while setting local description",
				"offer", offer,
				"err", err,
			)
			pc.Close()
			return nil, err
		}
		m.signaller.SendOffer(remoteUserID, offer)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			switch dc.Label() {
			case "chat":
				link.adoptChatChannel(dc, func(payload []byte) {
					m.observer.DirectMessageReceived(remoteUserID, payload)
				})
			}
		})
	}

	m.mu.Lock()
	m.links[remoteUserID] = link
	m.mu.Unlock()

	link.logger.Debug("peer link created", "initiator", isInitiator)
	return link, nil
}

// HandleOffer applies a received offer, creating a responder link when none
// exists yet, and sends the answer back.
func (m *Manager) HandleOffer(remoteUserID string, offer webrtc.SessionDescription) error {
	link, ok := m.Link(remoteUserID)
	if !ok {
		var err error
		link, err = m.CreateLink(remoteUserID, false)
		if err != nil {
			return err
		}
	}

	if err := link.connection.SetRemoteDescription(offer); err != nil {
		link.logger.Error(
			"error while setting remote description from offer",
			"err", err,
		)
		return err
	}

	answer, err := link.connection.CreateAnswer(nil)
	if err != nil {
		link.logger.Error("error while creating answer", "err", err)
		return err
	}
	if err := link.connection.SetLocalDescription(answer); err != nil {
		link.logger.Error(
			"error while setting local description from answer",
			"answer", answer,
			"err", err,
		)
		return err
	}

	m.signaller.SendAnswer(remoteUserID, answer)
	return nil
}

// HandleAnswer applies a received answer to the existing link. A missing
// link is logged and ignored: answers racing a leave event are expected.
func (m *Manager) HandleAnswer(remoteUserID string, answer webrtc.SessionDescription) error {
	link, ok := m.Link(remoteUserID)
	if !ok {
		m.logger.Warn(
			"answer received for unknown peer, ignoring",
			"remoteUserID", remoteUserID,
		)
		return nil
	}

	if err := link.connection.SetRemoteDescription(answer); err != nil {
		link.logger.Error(
			"error while setting remote description from answer",
			"err", err,
		)
		return err
	}
	return nil
}

// HandleCandidate applies a received ICE candidate to the existing link.
// A missing link is logged and ignored, as with HandleAnswer.
func (m *Manager) HandleCandidate(remoteUserID string, candidate webrtc.ICECandidateInit) error {
	link, ok := m.Link(remoteUserID)
	if !ok {
		m.logger.Warn(
			"candidate received for unknown peer, ignoring",
			"remoteUserID", remoteUserID,
		)
		return nil
	}

	if err := link.connection.AddICECandidate(candidate); err != nil {
		link.logger.Error("error while adding ICE candidate", "err", err)
		return err
	}
	return nil
}

// Link returns the link for remoteUserID, if one exists.
func (m *Manager) Link(remoteUserID string) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[remoteUserID]
	return link, ok
}

// Links returns a snapshot of all current links.
func (m *Manager) Links() []*Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	links := make([]*Link, 0, len(m.links))
	for _, link := range m.links {
		links = append(links, link)
	}
	return links
}

// CloseLink closes and removes the link for remoteUserID, releasing its
// resources. Closing an absent link is a no-op.
func (m *Manager) CloseLink(remoteUserID string) {
	m.mu.Lock()
	link, ok := m.links[remoteUserID]
	delete(m.links, remoteUserID)
	m.mu.Unlock()

	if ok {
		link.close()
	}
}

// CloseAll closes every link, for room teardown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	links := make([]*Link, 0, len(m.links))
	for _, link := range m.links {
		links = append(links, link)
	}
	m.links = make(map[string]*Link)
	m.mu.Unlock()

	for _, link := range links {
		link.close()
	}
}

// ReplaceVideoTrack swaps the outgoing video track on every link without
// renegotiation, for screen-share substitution and restoration.
func (m *Manager) ReplaceVideoTrack(track *webrtc.TrackLocalStaticSample) {
	if track == nil {
		return
	}

	for _, link := range m.Links() {
		for _, sender := range link.senders {
			current := sender.Track()
			if current == nil || current.Kind() != webrtc.RTPCodecTypeVideo {
				continue
			}
			if err := sender.ReplaceTrack(track); err != nil {
				link.logger.Warn(
					"error while replacing outgoing video track",
					"err", err,
				)
			}
		}
	}
}

// restartICE renegotiates connectivity on one failed link by sending a new
// offer with the ICE restart flag.
func (m *Manager) restartICE(link *Link) {
	if link.Status() == StatusClosed {
		return
	}
	link.logger.Info("attempting ICE restart on failed link")

	offer, err := link.connection.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		link.logger.Error("error while creating ICE restart offer", "err", err)
		return
	}
	if err := link.connection.SetLocalDescription(offer); err != nil {
		link.logger.Error(
			"error while setting local description for ICE restart",
			"err", err,
		)
		return
	}
	m.signaller.SendOffer(link.userID, offer)
}
