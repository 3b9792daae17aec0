package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/peerlearn/sessionroom/internal/media"
	"github.com/peerlearn/sessionroom/internal/peerlink"
	"github.com/peerlearn/sessionroom/internal/signalling"
)

// SignalChannel is the slice of the signaling channel the room consumes.
// Satisfied by *signalling.Channel; faked in tests.
type SignalChannel interface {
	Events() <-chan signalling.Event
	Send(msg any)
	Status() signalling.Status
	Close()
}

// Config for one room instance.
type Config struct {
	// RTCConfiguration is applied to every peer connection in the room.
	RTCConfiguration webrtc.Configuration

	// LifecycleURL is the base URL of the session-lifecycle endpoints.
	LifecycleURL string

	// HTTPClient used for lifecycle calls; defaults to a 15s-timeout client.
	HTTPClient *http.Client

	Hooks  Hooks
	Logger *slog.Logger
}

// Room is the top-level state machine for one live session.
//
// All room state (participants, chat log, media flags, screen-share state)
// is owned by a single event-loop goroutine: signaling events, peer-link
// notifications, user actions and clock ticks are funneled into that loop
// and handled by one reducer method per event kind. Public action methods
// enqueue work and return immediately.
type Room struct {
	logger *slog.Logger

	session   Session
	hooks     Hooks
	devices   media.DeviceAPI
	lifecycle *LifecycleClient

	channel SignalChannel
	peers   *peerlink.Manager
	local   *media.Handle

	actions chan func()

	ctx           context.Context
	ctxCancelFunc context.CancelFunc
	shutdownOnce  sync.Once
	loopDone      chan struct{}
	closed        chan struct{}

	stateMu sync.Mutex
	state   State

	// Fields below are owned by the event loop.
	participants  map[string]*Participant
	chatLog       []ChatMessage
	channelStatus signalling.Status

	ticker    *time.Ticker
	startedAt time.Time

	sharing      bool
	shareSource  media.Source
	cameraSource media.Source
}

// New builds a room for the given session, acquires local media, wires the
// peer manager to the signaling channel, and starts the event loop.
//
// Initialization never blocks the room: media acquisition degrades through
// its fallback ladder, and a channel that cannot connect keeps retrying in
// the background while the room runs with whatever it has.
func New(session Session, channel SignalChannel, devices media.DeviceAPI, cfg Config) *Room {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		"sessionID", session.ID,
		"selfID", session.SelfID,
	)

	hooks := cfg.Hooks
	if hooks == nil {
		hooks = NopHooks{}
	}

	ctx, cancelFunc := context.WithCancel(context.Background())
	r := &Room{
		logger:        logger,
		session:       session,
		hooks:         hooks,
		devices:       devices,
		lifecycle:     NewLifecycleClient(cfg.LifecycleURL, cfg.HTTPClient, logger),
		channel:       channel,
		actions:       make(chan func(), 16),
		ctx:           ctx,
		ctxCancelFunc: cancelFunc,
		loopDone:      make(chan struct{}),
		closed:        make(chan struct{}),
		state:         StateInitializing,
		participants:  make(map[string]*Participant),
		channelStatus: signalling.StatusConnecting,
	}

	r.local = media.Acquire(devices, func(adv media.Advisory) {
		hooks.ShowAdvisory(adv.Title, adv.Message, adv.Severity)
	}, logger)
	hooks.AttachLocalStream(r.local)

	r.peers = peerlink.NewManager(
		cfg.RTCConfiguration,
		r.local,
		channelSignaller{r},
		loopObserver{r},
		logger,
	)

	r.startedAt = time.Now()
	r.ticker = time.NewTicker(time.Second)
	r.setState(StateActive)

	go r.loop()
	return r
}

func (r *Room) setState(state State) {
	r.stateMu.Lock()
	r.state = state
	r.stateMu.Unlock()
}

// State returns the current lifecycle state.
func (r *Room) State() State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

// Done is closed once teardown has completed.
func (r *Room) Done() <-chan struct{} {
	return r.closed
}

// do enqueues fn onto the event loop. Dropped silently once the room is
// shutting down: late notifications racing teardown are expected.
func (r *Room) do(fn func()) {
	select {
	case r.actions <- fn:
	case <-r.ctx.Done():
	}
}

func (r *Room) loop() {
	defer close(r.loopDone)

	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-r.channel.Events():
			if !ok {
				continue
			}
			r.handleChannelEvent(ev)
		case fn := <-r.actions:
			fn()
		case <-r.ticker.C:
			r.handleClockTick()
		}
	}
}

// --------------------------------------------------------------------------------
// Inbound event reducers
// One method per event kind, all running on the event loop.

func (r *Room) handleChannelEvent(ev signalling.Event) {
	switch ev := ev.(type) {
	case signalling.ReadyEvent:
		r.logger.Debug("signalling channel ready")
	case signalling.StatusEvent:
		r.handleChannelStatus(ev)
	case signalling.UserJoinedEvent:
		r.handleUserJoined(ev)
	case signalling.UserLeftEvent:
		r.handleUserLeft(ev)
	case signalling.SignalEvent:
		r.handleSignal(ev)
	case signalling.ChatEvent:
		r.handleChat(ChatMessage{
			UserID:    ev.UserID,
			Username:  ev.Username,
			Text:      ev.Message,
			Timestamp: ev.Timestamp,
		})
	case signalling.ReadyStatusEvent:
		r.handleReadyStatus(ev)
	case signalling.ToggleEvent:
		r.handleToggle(ev)
	default:
		r.logger.Debug("unhandled signalling event", "event", fmt.Sprintf("%T", ev))
	}
}

func (r *Room) handleChannelStatus(ev signalling.StatusEvent) {
	previous := r.channelStatus
	r.channelStatus = ev.Status
	r.logger.Info("signalling channel status", "status", ev.Status)

	// Advise only on the first failure of an attempt sequence; the 3s
	// retry cycle would otherwise repeat the same notice indefinitely.
	lost := ev.Status == signalling.StatusDisconnected || ev.Status == signalling.StatusError
	if lost && (previous == signalling.StatusConnected || previous == signalling.StatusConnecting) {
		r.hooks.ShowAdvisory(
			"Connection Lost",
			"Lost connection to the session. Reconnecting...",
			media.SeverityWarning,
		)
	}
}

func (r *Room) handleUserJoined(ev signalling.UserJoinedEvent) {
	// The relay broadcasts membership to the whole group, the joiner
	// included; the self echo carries no work.
	if ev.UserID == "" || ev.UserID == r.session.SelfID {
		return
	}

	if p, ok := r.participants[ev.UserID]; ok {
		p.Username = ev.Username
		p.IsMentor = ev.IsMentor
	} else {
		r.participants[ev.UserID] = &Participant{
			UserID:       ev.UserID,
			Username:     ev.Username,
			IsMentor:     ev.IsMentor,
			AudioEnabled: true,
			VideoEnabled: true,
		}
		r.logger.Info("participant joined", "userID", ev.UserID, "username", ev.Username)
	}
	r.hooks.UpdateParticipantList(r.participantSnapshot())

	// The existing member initiates toward the joiner; the joiner never
	// initiates. A link already present means this is a redelivered join.
	if _, ok := r.peers.Link(ev.UserID); ok {
		return
	}
	if _, err := r.peers.CreateLink(ev.UserID, true); err != nil {
		r.logger.Error(
			"error while creating link for joined participant",
			"userID", ev.UserID,
			"err", err,
		)
	}
}

func (r *Room) handleUserLeft(ev signalling.UserLeftEvent) {
	if ev.UserID == "" || ev.UserID == r.session.SelfID {
		return
	}

	delete(r.participants, ev.UserID)
	r.peers.CloseLink(ev.UserID)
	r.hooks.DetachRemoteStream(ev.UserID)
	r.hooks.UpdateParticipantList(r.participantSnapshot())
	r.logger.Info("participant left", "userID", ev.UserID, "username", ev.Username)
}

func (r *Room) handleSignal(ev signalling.SignalEvent) {
	if ev.FromUser == r.session.SelfID {
		return
	}

	var err error
	switch ev.Kind {
	case signalling.SignalOffer:
		err = r.peers.HandleOffer(ev.FromUser, *ev.Offer)
	case signalling.SignalAnswer:
		err = r.peers.HandleAnswer(ev.FromUser, *ev.Answer)
	case signalling.SignalICECandidate:
		err = r.peers.HandleCandidate(ev.FromUser, *ev.Candidate)
	}
	if err != nil {
		r.logger.Error(
			"error while handling negotiation signal",
			"kind", ev.Kind,
			"fromUser", ev.FromUser,
			"err", err,
		)
	}
}

func (r *Room) handleChat(msg ChatMessage) {
	r.chatLog = append(r.chatLog, msg)
	r.hooks.AppendChatMessage(msg)
}

func (r *Room) handleReadyStatus(ev signalling.ReadyStatusEvent) {
	p, ok := r.participants[ev.UserID]
	if !ok {
		return
	}
	p.Ready = ev.IsReady
	r.hooks.UpdateParticipantList(r.participantSnapshot())
}

func (r *Room) handleToggle(ev signalling.ToggleEvent) {
	p, ok := r.participants[ev.UserID]
	if !ok {
		return
	}
	switch ev.Kind {
	case "audio":
		p.AudioEnabled = ev.Enabled
	case "video":
		p.VideoEnabled = ev.Enabled
	}
	r.hooks.UpdateParticipantList(r.participantSnapshot())
}

func (r *Room) handleClockTick() {
	elapsed := time.Since(r.startedAt)
	r.hooks.SessionClockTick(formatClock(elapsed))
}

func formatClock(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// --------------------------------------------------------------------------------
// User actions
// Public methods enqueue onto the event loop and return immediately.

// ToggleAudio flips the local audio enabled flag and broadcasts exactly one
// toggle notification. No renegotiation takes place.
func (r *Room) ToggleAudio() {
	r.do(func() {
		enabled := r.local.Toggle(media.TrackKindAudio)
		r.channel.Send(signalling.NewAudioToggleMessage(enabled))
	})
}

// ToggleVideo is the video counterpart of ToggleAudio.
func (r *Room) ToggleVideo() {
	r.do(func() {
		enabled := r.local.Toggle(media.TrackKindVideo)
		r.channel.Send(signalling.NewVideoToggleMessage(enabled))
	})
}

// ToggleScreenShare starts display capture and substitutes the outgoing
// video track on every link, or reverts to the camera when already sharing.
// The camera is also restored automatically when the capture source ends on
// its own (the platform's stop-sharing control).
func (r *Room) ToggleScreenShare() {
	r.do(func() {
		if r.sharing {
			r.stopScreenShare()
			return
		}

		src, err := r.devices.CaptureDisplay()
		if err != nil {
			r.logger.Warn("display capture failed", "err", err)
			r.hooks.ShowAdvisory(
				"Screen Share Unavailable",
				"Could not start screen sharing.",
				media.SeverityWarning,
			)
			return
		}

		r.shareSource = src
		r.cameraSource = r.local.SwapVideoSource(src)
		r.peers.ReplaceVideoTrack(src.Track())
		r.sharing = true
		r.logger.Info("screen share started")

		go func(s media.Source) {
			select {
			case <-s.Done():
				r.do(func() {
					if r.shareSource == s {
						r.stopScreenShare()
					}
				})
			case <-r.ctx.Done():
			}
		}(src)
	})
}

func (r *Room) stopScreenShare() {
	if !r.sharing {
		return
	}

	camera := r.cameraSource
	r.local.SwapVideoSource(camera)
	if camera != nil {
		r.peers.ReplaceVideoTrack(camera.Track())
	}
	r.shareSource.Close()
	r.shareSource = nil
	r.cameraSource = nil
	r.sharing = false
	r.logger.Info("screen share stopped, camera restored")
}

// SendChat appends a chat message locally and delivers it to the other
// participants: over the direct peer channels when every link has one open,
// otherwise routed through the relay.
func (r *Room) SendChat(text string) {
	r.do(func() {
		text := strings.TrimSpace(text)
		if text == "" {
			return
		}

		msg := ChatMessage{
			UserID:    r.session.SelfID,
			Username:  r.session.SelfName,
			Text:      text,
			Timestamp: time.Now().Format(time.RFC3339),
		}
		r.handleChat(msg)

		links := r.peers.Links()
		direct := len(links) > 0
		for _, link := range links {
			if !link.DirectReady() {
				direct = false
				break
			}
		}

		if !direct {
			r.channel.Send(signalling.NewChatMessage(msg.Text, msg.Timestamp))
			return
		}

		payload, err := json.Marshal(directChat{
			Type:      signalling.TypeChatMessage,
			UserID:    msg.UserID,
			Username:  msg.Username,
			Message:   msg.Text,
			Timestamp: msg.Timestamp,
		})
		if err != nil {
			r.logger.Error("error while marshalling direct chat payload", "err", err)
			return
		}
		for _, link := range links {
			if err := link.SendDirect(payload); err != nil {
				// The channel dropped between the readiness check and the
				// send; the relay copy keeps the message from vanishing.
				r.logger.Warn("direct chat send failed, routing via relay", "err", err)
				r.channel.Send(signalling.NewChatMessage(msg.Text, msg.Timestamp))
				return
			}
		}
	})
}

// SetReady broadcasts the local ready flag to the session.
func (r *Room) SetReady(isReady bool) {
	r.do(func() {
		r.channel.Send(signalling.NewReadyCheckMessage(isReady))
	})
}

// EndSession asks the lifecycle service to end the session and, on success,
// tears the room down. Mentor-only: other roles get an advisory and the
// room state is unchanged. A rejected request likewise aborts teardown.
func (r *Room) EndSession() {
	r.do(func() {
		if r.session.Role != RoleMentor {
			r.hooks.ShowAdvisory(
				"Not Permitted",
				"Only the mentor can end the session.",
				media.SeverityError,
			)
			return
		}
		if r.State() != StateActive {
			return
		}

		go func() {
			ctx, cancel := context.WithTimeout(r.ctx, 15*time.Second)
			defer cancel()

			if err := r.lifecycle.EndSession(ctx, r.session.ID, r.session.Token); err != nil {
				r.do(func() {
					r.hooks.ShowAdvisory(
						"Could Not End Session",
						"The session could not be ended. Please try again.",
						media.SeverityError,
					)
				})
				return
			}
			r.Close()
		}()
	})
}

// Close tears the room down: every peer link closed, local tracks stopped,
// the signaling channel closed, the duration timer cleared, and the
// navigation hook fired. Idempotent: page-unload and explicit leave may
// both invoke it without error.
func (r *Room) Close() {
	r.shutdownOnce.Do(func() {
		r.setState(StateEnding)
		r.logger.Info("room teardown started")
		r.ctxCancelFunc()

		go func() {
			<-r.loopDone

			r.ticker.Stop()
			r.peers.CloseAll()
			r.local.Close()
			r.channel.Close()
			r.chatLog = nil

			r.setState(StateClosed)
			r.hooks.NavigateOnClose()
			r.logger.Info("room closed")
			close(r.closed)
		}()
	})
}

// --------------------------------------------------------------------------------
// Accessors

// Participants returns a snapshot of the current membership, ordered by id.
func (r *Room) Participants() []Participant {
	type reply struct{ participants []Participant }
	ch := make(chan reply, 1)
	r.do(func() {
		ch <- reply{participants: r.participantSnapshot()}
	})
	select {
	case rep := <-ch:
		return rep.participants
	case <-r.ctx.Done():
		return nil
	}
}

// ChatLog returns a snapshot of the session chat log.
func (r *Room) ChatLog() []ChatMessage {
	ch := make(chan []ChatMessage, 1)
	r.do(func() {
		log := make([]ChatMessage, len(r.chatLog))
		copy(log, r.chatLog)
		ch <- log
	})
	select {
	case log := <-ch:
		return log
	case <-r.ctx.Done():
		return nil
	}
}

// LocalMedia returns the local media handle.
func (r *Room) LocalMedia() *media.Handle {
	return r.local
}

// Peers returns the peer link manager.
func (r *Room) Peers() *peerlink.Manager {
	return r.peers
}

func (r *Room) participantSnapshot() []Participant {
	participants := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		participants = append(participants, *p)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].UserID < participants[j].UserID
	})
	return participants
}

// directChat is the payload carried on the direct peer channel, shaped like
// the relay chat message so either path decodes identically.
type directChat struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// --------------------------------------------------------------------------------
// Adapters between the peer manager and the room loop

// channelSignaller sends outbound negotiation messages over the relay.
type channelSignaller struct {
	r *Room
}

func (s channelSignaller) SendOffer(toUser string, offer webrtc.SessionDescription) {
	s.r.channel.Send(signalling.NewOfferMessage(toUser, offer))
}

func (s channelSignaller) SendAnswer(toUser string, answer webrtc.SessionDescription) {
	s.r.channel.Send(signalling.NewAnswerMessage(toUser, answer))
}

func (s channelSignaller) SendCandidate(toUser string, candidate webrtc.ICECandidateInit) {
	s.r.channel.Send(signalling.NewICECandidateMessage(toUser, candidate))
}

// loopObserver reposts peer manager notifications onto the event loop, so
// every reducer and hook still runs single-threaded.
type loopObserver struct {
	r *Room
}

func (o loopObserver) RemoteTrackReceived(userID string, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	o.r.do(func() {
		o.r.hooks.AttachRemoteStream(userID, track)
	})
}

func (o loopObserver) LinkStatusChanged(userID string, status peerlink.Status) {
	o.r.do(func() {
		o.r.hooks.UpdateConnectionStatus(userID, status)
	})
}

func (o loopObserver) DirectMessageReceived(userID string, payload []byte) {
	var msg directChat
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Type != signalling.TypeChatMessage {
		o.r.logger.Warn("unrecognized direct peer message", "fromUser", userID)
		return
	}
	o.r.do(func() {
		o.r.handleChat(ChatMessage{
			UserID:    msg.UserID,
			Username:  msg.Username,
			Text:      msg.Message,
			Timestamp: msg.Timestamp,
		})
	})
}
