package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TelephonyEvent identifies media-stream envelope variants.
type TelephonyEvent string

const (
	EventConnected TelephonyEvent = "connected"
	EventStart     TelephonyEvent = "start"
	EventMedia     TelephonyEvent = "media"
	EventStop      TelephonyEvent = "stop"
	EventMark      TelephonyEvent = "mark"
	EventClear     TelephonyEvent = "clear"
	EventDTMF      TelephonyEvent = "dtmf"
)

var ErrUnsupportedEvent = errors.New("unsupported telephony event")

// TelephonyMessage is one JSON envelope on the media-stream websocket, in both
// directions. Payloads are base64 g711 ulaw at 8kHz; the codec never resamples.
type TelephonyMessage struct {
	Event          TelephonyEvent `json:"event"`
	SequenceNumber string         `json:"sequenceNumber,omitempty"`
	StreamSid      string         `json:"streamSid,omitempty"`
	Start          *StartPayload  `json:"start,omitempty"`
	Media          *MediaPayload  `json:"media,omitempty"`
	Stop           *StopPayload   `json:"stop,omitempty"`
	Mark           *MarkPayload   `json:"mark,omitempty"`
	DTMF           *DTMFPayload   `json:"dtmf,omitempty"`
}

type StartPayload struct {
	AccountSid       string            `json:"accountSid"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

type DTMFPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// ParseTelephonyMessage decodes and validates one inbound media-stream envelope.
// Unknown event tags are a caller-level protocol error, never fatal.
func ParseTelephonyMessage(raw []byte) (TelephonyMessage, error) {
	var msg TelephonyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return TelephonyMessage{}, fmt.Errorf("invalid envelope: %w", err)
	}

	switch msg.Event {
	case EventConnected:
		return msg, nil
	case EventStart:
		if msg.Start == nil || msg.Start.StreamSid == "" {
			return TelephonyMessage{}, errors.New("start event missing stream sid")
		}
		return msg, nil
	case EventMedia:
		if msg.Media == nil || msg.Media.Payload == "" {
			return TelephonyMessage{}, errors.New("media event missing payload")
		}
		return msg, nil
	case EventStop:
		return msg, nil
	case EventMark:
		if msg.Mark == nil || msg.Mark.Name == "" {
			return TelephonyMessage{}, errors.New("mark event missing name")
		}
		return msg, nil
	case EventDTMF:
		if msg.DTMF == nil || msg.DTMF.Digit == "" {
			return TelephonyMessage{}, errors.New("dtmf event missing digit")
		}
		return msg, nil
	default:
		return TelephonyMessage{}, fmt.Errorf("%w: %q", ErrUnsupportedEvent, msg.Event)
	}
}

// MediaOut wraps one base64 ulaw chunk for playback on the telephony side.
func MediaOut(streamSid, payloadBase64 string) TelephonyMessage {
	return TelephonyMessage{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaPayload{Payload: payloadBase64},
	}
}

// MarkOut requests a playback-position echo named name.
func MarkOut(streamSid, name string) TelephonyMessage {
	return TelephonyMessage{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &MarkPayload{Name: name},
	}
}

// ClearOut discards all audio the telephony side has buffered but not yet played.
func ClearOut(streamSid string) TelephonyMessage {
	return TelephonyMessage{Event: EventClear, StreamSid: streamSid}
}
