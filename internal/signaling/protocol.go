package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"

	"github.com/peerlens/peerlens/internal/session"
)

// protocolVersion is the only wire version this server speaks.
const protocolVersion = 1

type eventType string

// Client-originated events.
const (
	eventJoinRoom     eventType = "join-room"
	eventSenderReady  eventType = "sender-ready"
	eventOffer        eventType = "offer"
	eventAnswer       eventType = "answer"
	eventICECandidate eventType = "ice-candidate"
	eventFrameData    eventType = "frame-data"
	eventFrameMeta    eventType = "frame_meta"
	eventDetection    eventType = "detection"
)

// Server-originated events.
const (
	eventRoomJoined eventType = "room-joined"
	eventUserJoined eventType = "user-joined"
	eventUserLeft   eventType = "user-left"
	eventError      eventType = "error"
)

// envelope is the versioned wire frame carried over the signaling channel.
// Room/Role/To address the message; From is always server-populated on
// delivery, never trusted from the client.
type envelope struct {
	V       int             `json:"v"`
	Type    eventType       `json:"type"`
	Room    string          `json:"room,omitempty"`
	Role    string          `json:"role,omitempty"`
	To      string          `json:"to,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// toPion validates the payload against the session description types the
// media layer accepts. The SDP body itself stays opaque.
func (s sdpPayload) toPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	if s.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("empty sdp body")
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type candidatePayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func (c candidatePayload) toPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

type framePayload struct {
	FrameData string `json:"frameData"`
	FrameID   string `json:"frameId,omitempty"`
	ModelType string `json:"modelType,omitempty"`
}

type userEventPayload struct {
	PeerID string `json:"peerId"`
	Role   string `json:"role,omitempty"`
}

type senderReadyPayload struct {
	SenderID string `json:"senderId"`
}

type roomJoinedPayload struct {
	PeerID string `json:"peerId"`
	Room   string `json:"room"`
	Role   string `json:"role"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// parseEnvelope decodes and validates one client message. Unknown fields and
// trailing data are rejected.
func parseEnvelope(data []byte) (envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return envelope{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return envelope{}, fmt.Errorf("unexpected trailing data")
	}
	if err := env.validate(); err != nil {
		return envelope{}, err
	}
	return env, nil
}

func (e envelope) validate() error {
	if e.V != protocolVersion {
		return fmt.Errorf("unsupported protocol version %d", e.V)
	}
	if e.From != "" {
		return fmt.Errorf("from is server-assigned")
	}

	switch e.Type {
	case eventJoinRoom:
		if !session.ValidRoomName(e.Room) {
			return fmt.Errorf("invalid room name")
		}
		if _, err := session.ParseRole(e.Role); err != nil {
			return err
		}
		if e.To != "" || len(e.Payload) != 0 {
			return fmt.Errorf("join-room has unexpected fields")
		}
	case eventSenderReady:
		if e.Room == "" {
			return fmt.Errorf("sender-ready missing room")
		}
		if e.Role != "" || e.To != "" || len(e.Payload) != 0 {
			return fmt.Errorf("sender-ready has unexpected fields")
		}
	case eventOffer, eventAnswer:
		if e.Room == "" {
			return fmt.Errorf("%s missing room", e.Type)
		}
		var s sdpPayload
		if err := json.Unmarshal(e.Payload, &s); err != nil {
			return fmt.Errorf("%s payload: %w", e.Type, err)
		}
		desc, err := s.toPion()
		if err != nil {
			return fmt.Errorf("%s payload: %w", e.Type, err)
		}
		want := webrtc.SDPTypeOffer
		if e.Type == eventAnswer {
			want = webrtc.SDPTypeAnswer
		}
		if desc.Type != want {
			return fmt.Errorf("%s carries sdp type %q", e.Type, s.Type)
		}
	case eventICECandidate:
		if e.Room == "" {
			return fmt.Errorf("ice-candidate missing room")
		}
		var c candidatePayload
		if err := json.Unmarshal(e.Payload, &c); err != nil {
			return fmt.Errorf("ice-candidate payload: %w", err)
		}
	case eventFrameData:
		if e.Room == "" {
			return fmt.Errorf("frame-data missing room")
		}
		if e.To != "" {
			return fmt.Errorf("frame-data cannot be targeted")
		}
		var f framePayload
		if err := json.Unmarshal(e.Payload, &f); err != nil {
			return fmt.Errorf("frame-data payload: %w", err)
		}
		if f.FrameData == "" {
			return fmt.Errorf("frame-data missing frameData")
		}
	case eventFrameMeta, eventDetection:
		if e.Room == "" {
			return fmt.Errorf("%s missing room", e.Type)
		}
		if len(e.Payload) == 0 {
			return fmt.Errorf("%s missing payload", e.Type)
		}
	default:
		return fmt.Errorf("unsupported event type %q", e.Type)
	}
	return nil
}
