package signalling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Wire message types exchanged with the session relay.
//
// Outbound negotiation messages always use the flat types (webrtc_offer,
// webrtc_answer, ice_candidate). Inbound decoding additionally accepts the
// relay-wrapped webrtc_signal{signal_type} shape, since the relay rewraps
// client messages before fanning them out to the session group.
const (
	TypeUserJoined   = "user_joined"
	TypeUserLeft     = "user_left"
	TypeSignal       = "webrtc_signal"
	TypeOffer        = "webrtc_offer"
	TypeAnswer       = "webrtc_answer"
	TypeICECandidate = "ice_candidate"
	TypeChatMessage  = "chat_message"
	TypeReadyStatus  = "ready_status"
	TypeReadyCheck   = "ready_check"
	TypeAudioToggle  = "audio_toggle"
	TypeVideoToggle  = "video_toggle"
)

// SignalKind discriminates negotiation signals after decoding.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice_candidate"
)

// --------------------------------------------------------------------------------
// Outbound messages

type ReadyCheckMessage struct {
	Type    string `json:"type"`
	IsReady bool   `json:"is_ready"`
}

func NewReadyCheckMessage(isReady bool) ReadyCheckMessage {
	return ReadyCheckMessage{Type: TypeReadyCheck, IsReady: isReady}
}

type OfferMessage struct {
	Type   string                    `json:"type"`
	Offer  webrtc.SessionDescription `json:"offer"`
	ToUser string                    `json:"to_user"`
}

func NewOfferMessage(toUser string, offer webrtc.SessionDescription) OfferMessage {
	return OfferMessage{Type: TypeOffer, Offer: offer, ToUser: toUser}
}

type AnswerMessage struct {
	Type   string                    `json:"type"`
	Answer webrtc.SessionDescription `json:"answer"`
	ToUser string                    `json:"to_user"`
}

func NewAnswerMessage(toUser string, answer webrtc.SessionDescription) AnswerMessage {
	return AnswerMessage{Type: TypeAnswer, Answer: answer, ToUser: toUser}
}

type ICECandidateMessage struct {
	Type      string                  `json:"type"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	ToUser    string                  `json:"to_user"`
}

func NewICECandidateMessage(toUser string, candidate webrtc.ICECandidateInit) ICECandidateMessage {
	return ICECandidateMessage{Type: TypeICECandidate, Candidate: candidate, ToUser: toUser}
}

type ChatMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func NewChatMessage(text, timestamp string) ChatMessage {
	return ChatMessage{Type: TypeChatMessage, Message: text, Timestamp: timestamp}
}

type ToggleMessage struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

func NewAudioToggleMessage(enabled bool) ToggleMessage {
	return ToggleMessage{Type: TypeAudioToggle, Enabled: enabled}
}

func NewVideoToggleMessage(enabled bool) ToggleMessage {
	return ToggleMessage{Type: TypeVideoToggle, Enabled: enabled}
}

// --------------------------------------------------------------------------------
// Inbound events

// Event is a decoded inbound message or a channel status transition.
// Delivered values are one of the concrete event types below.
type Event any

// ReadyEvent is delivered once per successful connection, after the channel
// has announced itself to the relay.
type ReadyEvent struct{}

// StatusEvent reports a signaling channel status transition.
type StatusEvent struct {
	Status Status
}

type UserJoinedEvent struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsMentor bool   `json:"is_mentor"`
}

type UserLeftEvent struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// SignalEvent is a negotiation signal, normalized from either wire shape.
type SignalEvent struct {
	Kind      SignalKind
	FromUser  string
	ToUser    string
	Offer     *webrtc.SessionDescription
	Answer    *webrtc.SessionDescription
	Candidate *webrtc.ICECandidateInit
}

type ChatEvent struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type ReadyStatusEvent struct {
	UserID  string `json:"user_id"`
	IsReady bool   `json:"is_ready"`
}

// ToggleEvent reports a remote participant flipping a track's enabled flag.
type ToggleEvent struct {
	UserID  string
	Kind    string // "audio" or "video"
	Enabled bool
}

// wireSignal covers both negotiation shapes: the wrapped webrtc_signal
// envelope carries signal_type, the flat shapes imply it from the top-level
// type field.
type wireSignal struct {
	SignalType string                     `json:"signal_type"`
	FromUser   string                     `json:"from_user"`
	ToUser     string                     `json:"to_user"`
	Offer      *webrtc.SessionDescription `json:"offer"`
	Answer     *webrtc.SessionDescription `json:"answer"`
	Candidate  *webrtc.ICECandidateInit   `json:"candidate"`
}

type wireToggle struct {
	UserID  string `json:"user_id"`
	Enabled bool   `json:"enabled"`
}

// decodeMessage turns one raw relay frame into a typed event.
func decodeMessage(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("malformed signalling message: %w", err)
	}

	switch envelope.Type {
	case TypeUserJoined:
		var ev UserJoinedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeUserLeft:
		var ev UserLeftEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeSignal, TypeOffer, TypeAnswer, TypeICECandidate:
		var sig wireSignal
		if err := json.Unmarshal(data, &sig); err != nil {
			return nil, err
		}
		return normalizeSignal(envelope.Type, sig)

	case TypeChatMessage:
		var ev ChatEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeReadyStatus:
		var ev ReadyStatusEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case TypeAudioToggle, TypeVideoToggle:
		var t wireToggle
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, err
		}
		kind := "audio"
		if envelope.Type == TypeVideoToggle {
			kind = "video"
		}
		return ToggleEvent{UserID: t.UserID, Kind: kind, Enabled: t.Enabled}, nil
	}

	return nil, fmt.Errorf("unknown signalling message type %q", envelope.Type)
}

func normalizeSignal(wireType string, sig wireSignal) (SignalEvent, error) {
	ev := SignalEvent{
		FromUser:  sig.FromUser,
		ToUser:    sig.ToUser,
		Offer:     sig.Offer,
		Answer:    sig.Answer,
		Candidate: sig.Candidate,
	}

	switch wireType {
	case TypeOffer:
		ev.Kind = SignalOffer
	case TypeAnswer:
		ev.Kind = SignalAnswer
	case TypeICECandidate:
		ev.Kind = SignalICECandidate
	case TypeSignal:
		switch SignalKind(sig.SignalType) {
		case SignalOffer, SignalAnswer, SignalICECandidate:
			ev.Kind = SignalKind(sig.SignalType)
		default:
			return ev, fmt.Errorf("unknown signal_type %q", sig.SignalType)
		}
	}

	switch ev.Kind {
	case SignalOffer:
		if ev.Offer == nil {
			return ev, fmt.Errorf("offer signal without offer payload")
		}
	case SignalAnswer:
		if ev.Answer == nil {
			return ev, fmt.Errorf("answer signal without answer payload")
		}
	case SignalICECandidate:
		if ev.Candidate == nil {
			return ev, fmt.Errorf("candidate signal without candidate payload")
		}
	}
	return ev, nil
}
