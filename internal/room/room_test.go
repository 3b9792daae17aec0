package room

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/peerlearn/sessionroom/internal/media"
	"github.com/peerlearn/sessionroom/internal/peerlink"
	"github.com/peerlearn/sessionroom/internal/signalling"
)

// fakeChannel stands in for the signaling channel: tests push inbound
// events and inspect what the room sent.
type fakeChannel struct {
	events chan signalling.Event

	mu     sync.Mutex
	sent   []any
	closed bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan signalling.Event, 32)}
}

func (f *fakeChannel) Events() <-chan signalling.Event { return f.events }

func (f *fakeChannel) Send(msg any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
}

func (f *fakeChannel) Status() signalling.Status { return signalling.StatusConnected }

func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeChannel) push(ev signalling.Event) {
	f.events <- ev
}

func (f *fakeChannel) sentMessages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := make([]any, len(f.sent))
	copy(msgs, f.sent)
	return msgs
}

func (f *fakeChannel) countOffers() int {
	var n int
	for _, msg := range f.sentMessages() {
		if _, ok := msg.(signalling.OfferMessage); ok {
			n++
		}
	}
	return n
}

// recordingHooks captures presentation callbacks for inspection.
type recordingHooks struct {
	mu           sync.Mutex
	advisories   []string
	chat         []ChatMessage
	detached     []string
	participants [][]Participant
	navigated    int
}

func (h *recordingHooks) AttachLocalStream(*media.Handle)                {}
func (h *recordingHooks) AttachRemoteStream(string, *webrtc.TrackRemote) {}
func (h *recordingHooks) UpdateConnectionStatus(string, peerlink.Status) {}
func (h *recordingHooks) SessionClockTick(string)                        {}

func (h *recordingHooks) DetachRemoteStream(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detached = append(h.detached, userID)
}

func (h *recordingHooks) UpdateParticipantList(participants []Participant) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.participants = append(h.participants, participants)
}

func (h *recordingHooks) AppendChatMessage(msg ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chat = append(h.chat, msg)
}

func (h *recordingHooks) ShowAdvisory(title, message, severity string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advisories = append(h.advisories, title)
}

func (h *recordingHooks) NavigateOnClose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.navigated++
}

func (h *recordingHooks) advisoryTitles() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	titles := make([]string, len(h.advisories))
	copy(titles, h.advisories)
	return titles
}

func (h *recordingHooks) navigatedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.navigated
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func newTestRoom(t *testing.T, role Role) (*Room, *fakeChannel, *recordingHooks) {
	t.Helper()
	return newTestRoomWithConfig(t, role, Config{})
}

func newTestRoomWithConfig(t *testing.T, role Role, cfg Config) (*Room, *fakeChannel, *recordingHooks) {
	t.Helper()

	channel := newFakeChannel()
	hooks := &recordingHooks{}
	cfg.Hooks = hooks

	r := New(Session{
		ID:       "s1",
		SelfID:   "self",
		SelfName: "self-name",
		Role:     role,
	}, channel, media.NewSyntheticDeviceAPI(), cfg)

	t.Cleanup(func() {
		r.Close()
		<-r.Done()
	})
	return r, channel, hooks
}

func TestUserJoinedCreatesInitiatorLink(t *testing.T) {
	r, channel, _ := newTestRoom(t, RoleLearner)

	channel.push(signalling.UserJoinedEvent{UserID: "u2", Username: "bob"})

	waitFor(t, func() bool {
		link, ok := r.Peers().Link("u2")
		return ok && link.Initiator()
	})
	waitFor(t, func() bool { return channel.countOffers() == 1 })

	participants := r.Participants()
	if len(participants) != 1 || participants[0].UserID != "u2" {
		t.Errorf("unexpected participants: %+v", participants)
	}
}

func TestSelfJoinEchoIgnored(t *testing.T) {
	r, channel, _ := newTestRoom(t, RoleLearner)

	channel.push(signalling.UserJoinedEvent{UserID: "self", Username: "self-name"})

	// Participants() round-trips through the event loop, so by the time it
	// returns the join echo has been processed.
	if participants := r.Participants(); len(participants) != 0 {
		t.Errorf("self echo must not register a participant, got %+v", participants)
	}
	if _, ok := r.Peers().Link("self"); ok {
		t.Error("self echo must not create a link")
	}
}

func TestRedeliveredJoinKeepsSingleLink(t *testing.T) {
	r, channel, _ := newTestRoom(t, RoleLearner)

	channel.push(signalling.UserJoinedEvent{UserID: "u2", Username: "bob"})
	waitFor(t, func() bool {
		_, ok := r.Peers().Link("u2")
		return ok
	})

	channel.push(signalling.UserJoinedEvent{UserID: "u2", Username: "bob"})
	r.Participants() // round-trip to drain the second join

	if got := channel.countOffers(); got != 1 {
		t.Errorf("redelivered join must not re-offer, got %d offers", got)
	}
	if links := r.Peers().Links(); len(links) != 1 {
		t.Errorf("expected one link, got %d", len(links))
	}
}

func TestInboundOfferAnswered(t *testing.T) {
	r, channel, _ := newTestRoom(t, RoleLearner)

	remote, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("remote peer connection: %v", err)
	}
	defer remote.Close()
	if _, err := remote.CreateDataChannel("chat", nil); err != nil {
		t.Fatalf("remote data channel: %v", err)
	}
	offer, err := remote.CreateOffer(nil)
	if err != nil {
		t.Fatalf("remote offer: %v", err)
	}
	if err := remote.SetLocalDescription(offer); err != nil {
		t.Fatalf("remote local description: %v", err)
	}

	channel.push(signalling.SignalEvent{
		Kind:     signalling.SignalOffer,
		FromUser: "u2",
		Offer:    &offer,
	})

	waitFor(t, func() bool {
		for _, msg := range channel.sentMessages() {
			if answer, ok := msg.(signalling.AnswerMessage); ok {
				return answer.ToUser == "u2"
			}
		}
		return false
	})

	link, ok := r.Peers().Link("u2")
	if !ok {
		t.Fatal("responder link not created")
	}
	if link.Initiator() {
		t.Error("offer-created link should be responder, not initiator")
	}
}

func TestUserLeftTearsDownLink(t *testing.T) {
	r, channel, hooks := newTestRoom(t, RoleLearner)

	channel.push(signalling.UserJoinedEvent{UserID: "u2", Username: "bob"})
	waitFor(t, func() bool {
		_, ok := r.Peers().Link("u2")
		return ok
	})

	channel.push(signalling.UserLeftEvent{UserID: "u2", Username: "bob"})

	waitFor(t, func() bool {
		_, ok := r.Peers().Link("u2")
		return !ok
	})
	if participants := r.Participants(); len(participants) != 0 {
		t.Errorf("left participant still present: %+v", participants)
	}
	waitFor(t, func() bool {
		hooks.mu.Lock()
		defer hooks.mu.Unlock()
		return len(hooks.detached) == 1 && hooks.detached[0] == "u2"
	})
}

func TestToggleAudioBroadcasts(t *testing.T) {
	r, channel, _ := newTestRoom(t, RoleLearner)

	r.ToggleAudio()
	waitFor(t, func() bool {
		for _, msg := range channel.sentMessages() {
			if toggle, ok := msg.(signalling.ToggleMessage); ok {
				return toggle.Type == signalling.TypeAudioToggle && !toggle.Enabled
			}
		}
		return false
	})
	if r.LocalMedia().Enabled(media.TrackKindAudio) {
		t.Error("local audio should be disabled after toggle")
	}

	r.ToggleVideo()
	waitFor(t, func() bool {
		for _, msg := range channel.sentMessages() {
			if toggle, ok := msg.(signalling.ToggleMessage); ok && toggle.Type == signalling.TypeVideoToggle {
				return !toggle.Enabled
			}
		}
		return false
	})
}

func TestTwoJoinersGetIndependentLinks(t *testing.T) {
	r, channel, _ := newTestRoom(t, RoleLearner)

	channel.push(signalling.UserJoinedEvent{UserID: "a", Username: "alice"})
	channel.push(signalling.UserJoinedEvent{UserID: "b", Username: "bob"})

	waitFor(t, func() bool {
		_, okA := r.Peers().Link("a")
		_, okB := r.Peers().Link("b")
		return okA && okB
	})
	if links := r.Peers().Links(); len(links) != 2 {
		t.Errorf("expected two independent links, got %d", len(links))
	}
	waitFor(t, func() bool { return channel.countOffers() == 2 })
}

func TestToggleTwiceRestoresStateAndEmitsTwice(t *testing.T) {
	r, channel, _ := newTestRoom(t, RoleLearner)

	r.ToggleAudio()
	r.ToggleAudio()

	waitFor(t, func() bool {
		var n int
		for _, msg := range channel.sentMessages() {
			if toggle, ok := msg.(signalling.ToggleMessage); ok && toggle.Type == signalling.TypeAudioToggle {
				n++
			}
		}
		return n == 2
	})
	if !r.LocalMedia().Enabled(media.TrackKindAudio) {
		t.Error("double toggle should restore the original enabled state")
	}
}

func TestRemoteToggleUpdatesParticipant(t *testing.T) {
	r, channel, _ := newTestRoom(t, RoleLearner)

	channel.push(signalling.UserJoinedEvent{UserID: "u2", Username: "bob"})
	waitFor(t, func() bool { return len(r.Participants()) == 1 })

	channel.push(signalling.ToggleEvent{UserID: "u2", Kind: "audio", Enabled: false})
	waitFor(t, func() bool {
		participants := r.Participants()
		return len(participants) == 1 && !participants[0].AudioEnabled
	})
}

func TestChatFallsBackToRelay(t *testing.T) {
	r, channel, hooks := newTestRoom(t, RoleLearner)

	// No peer links yet, so delivery routes through the relay.
	r.SendChat("hello room")

	waitFor(t, func() bool {
		for _, msg := range channel.sentMessages() {
			if chat, ok := msg.(signalling.ChatMessage); ok {
				return chat.Message == "hello room"
			}
		}
		return false
	})

	log := r.ChatLog()
	if len(log) != 1 || log[0].Text != "hello room" || log[0].UserID != "self" {
		t.Errorf("unexpected chat log: %+v", log)
	}
	waitFor(t, func() bool {
		hooks.mu.Lock()
		defer hooks.mu.Unlock()
		return len(hooks.chat) == 1
	})
}

func TestChatIgnoresBlankMessages(t *testing.T) {
	r, channel, _ := newTestRoom(t, RoleLearner)

	r.SendChat("   ")
	r.SendChat("")

	if log := r.ChatLog(); len(log) != 0 {
		t.Errorf("blank messages must not be logged, got %+v", log)
	}
	for _, msg := range channel.sentMessages() {
		if _, ok := msg.(signalling.ChatMessage); ok {
			t.Error("blank message was sent to the relay")
		}
	}
}

func TestRemoteChatAppended(t *testing.T) {
	r, channel, _ := newTestRoom(t, RoleLearner)

	channel.push(signalling.ChatEvent{
		UserID:    "u2",
		Username:  "bob",
		Message:   "hi",
		Timestamp: "2026-01-01T00:00:00Z",
	})

	waitFor(t, func() bool {
		log := r.ChatLog()
		return len(log) == 1 && log[0].Username == "bob"
	})
}

// shareDeviceAPI wraps the synthetic devices but hands out a display source
// the test can end on demand.
type shareDeviceAPI struct {
	media.SyntheticDeviceAPI

	mu      sync.Mutex
	display media.Source
}

func (api *shareDeviceAPI) CaptureDisplay() (media.Source, error) {
	src, err := api.SyntheticDeviceAPI.CaptureDisplay()
	if err != nil {
		return nil, err
	}
	api.mu.Lock()
	api.display = src
	api.mu.Unlock()
	return src, nil
}

func (api *shareDeviceAPI) endDisplay() {
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.display != nil {
		api.display.Close()
	}
}

func TestScreenShareSubstitutesAndReverts(t *testing.T) {
	channel := newFakeChannel()
	hooks := &recordingHooks{}
	api := &shareDeviceAPI{SyntheticDeviceAPI: media.NewSyntheticDeviceAPI()}

	r := New(Session{ID: "s1", SelfID: "self", Role: RoleLearner}, channel, api, Config{Hooks: hooks})
	t.Cleanup(func() {
		r.Close()
		<-r.Done()
	})

	channel.push(signalling.UserJoinedEvent{UserID: "u2", Username: "bob"})
	waitFor(t, func() bool { return channel.countOffers() == 1 })

	camera := r.LocalMedia().VideoTrack()
	offersBefore := channel.countOffers()

	r.ToggleScreenShare()
	waitFor(t, func() bool { return r.LocalMedia().VideoTrack() != camera })

	// Track substitution must not renegotiate.
	if got := channel.countOffers(); got != offersBefore {
		t.Errorf("screen share sent %d new offers", got-offersBefore)
	}

	r.ToggleScreenShare()
	waitFor(t, func() bool { return r.LocalMedia().VideoTrack() == camera })
	if got := channel.countOffers(); got != offersBefore {
		t.Errorf("share revert sent %d new offers", got-offersBefore)
	}
}

func TestScreenShareAutoRevertsWhenSourceEnds(t *testing.T) {
	channel := newFakeChannel()
	api := &shareDeviceAPI{SyntheticDeviceAPI: media.NewSyntheticDeviceAPI()}

	r := New(Session{ID: "s1", SelfID: "self", Role: RoleLearner}, channel, api, Config{})
	t.Cleanup(func() {
		r.Close()
		<-r.Done()
	})

	camera := r.LocalMedia().VideoTrack()

	r.ToggleScreenShare()
	waitFor(t, func() bool { return r.LocalMedia().VideoTrack() != camera })

	api.endDisplay()
	waitFor(t, func() bool { return r.LocalMedia().VideoTrack() == camera })
}

func TestEndSessionRejectedForLearner(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	r, _, hooks := newTestRoomWithConfig(t, RoleLearner, Config{LifecycleURL: server.URL})

	r.EndSession()

	waitFor(t, func() bool {
		for _, title := range hooks.advisoryTitles() {
			if title == "Not Permitted" {
				return true
			}
		}
		return false
	})
	if r.State() != StateActive {
		t.Errorf("learner end attempt must not change state, got %v", r.State())
	}
	if calls != 0 {
		t.Errorf("learner end attempt must not reach the lifecycle service, got %d calls", calls)
	}
}

func TestEndSessionMentorSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", req.Method)
		}
		if req.URL.Path != "/sessions/s1/end/" {
			t.Errorf("unexpected path %s", req.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r, channel, hooks := newTestRoomWithConfig(t, RoleMentor, Config{LifecycleURL: server.URL})

	r.EndSession()

	waitFor(t, func() bool { return r.State() == StateClosed })
	<-r.Done()

	channel.mu.Lock()
	closed := channel.closed
	channel.mu.Unlock()
	if !closed {
		t.Error("teardown must close the signaling channel")
	}
	if hooks.navigatedCount() != 1 {
		t.Errorf("expected one navigation, got %d", hooks.navigatedCount())
	}
}

func TestEndSessionMentorServerRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r, _, hooks := newTestRoomWithConfig(t, RoleMentor, Config{LifecycleURL: server.URL})

	r.EndSession()

	waitFor(t, func() bool {
		for _, title := range hooks.advisoryTitles() {
			if title == "Could Not End Session" {
				return true
			}
		}
		return false
	})
	if r.State() != StateActive {
		t.Errorf("rejected end must leave the room active, got %v", r.State())
	}
}

func TestCloseIdempotent(t *testing.T) {
	r, channel, hooks := newTestRoom(t, RoleLearner)

	r.Close()
	r.Close()
	<-r.Done()

	if r.State() != StateClosed {
		t.Errorf("expected closed state, got %v", r.State())
	}
	channel.mu.Lock()
	closed := channel.closed
	channel.mu.Unlock()
	if !closed {
		t.Error("teardown must close the signaling channel")
	}
	if hooks.navigatedCount() != 1 {
		t.Errorf("navigation must fire exactly once, got %d", hooks.navigatedCount())
	}
}

func TestFormatClock(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00"},
		{59 * time.Second, "00:59"},
		{time.Minute, "01:00"},
		{61 * time.Second, "01:01"},
		{90 * time.Minute, "90:00"},
	}
	for _, tc := range cases {
		if got := formatClock(tc.d); got != tc.want {
			t.Errorf("formatClock(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
