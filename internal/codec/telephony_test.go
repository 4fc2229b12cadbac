package codec

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseTelephonyMessageMedia(t *testing.T) {
	raw := []byte(`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","timestamp":"1200","payload":"f39/fw=="}}`)
	msg, err := ParseTelephonyMessage(raw)
	if err != nil {
		t.Fatalf("ParseTelephonyMessage() error = %v", err)
	}
	if msg.Event != EventMedia {
		t.Fatalf("Event = %q, want %q", msg.Event, EventMedia)
	}
	if msg.Media.Payload != "f39/fw==" || msg.Media.Timestamp != "1200" {
		t.Fatalf("unexpected media payload: %+v", msg.Media)
	}
}

func TestParseTelephonyMessageStart(t *testing.T) {
	raw := []byte(`{"event":"start","sequenceNumber":"1","start":{"accountSid":"AC1","streamSid":"MZ1","callSid":"CA1","tracks":["inbound"]}}`)
	msg, err := ParseTelephonyMessage(raw)
	if err != nil {
		t.Fatalf("ParseTelephonyMessage() error = %v", err)
	}
	if msg.Start.CallSid != "CA1" || msg.Start.StreamSid != "MZ1" {
		t.Fatalf("unexpected start payload: %+v", msg.Start)
	}
}

func TestParseTelephonyMessageRejectsUnknownEvent(t *testing.T) {
	_, err := ParseTelephonyMessage([]byte(`{"event":"wat"}`))
	if !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("error = %v, want ErrUnsupportedEvent", err)
	}
}

func TestParseTelephonyMessageRejectsMediaWithoutPayload(t *testing.T) {
	_, err := ParseTelephonyMessage([]byte(`{"event":"media","streamSid":"MZ1","media":{"payload":""}}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseTelephonyMessageRejectsMalformedJSON(t *testing.T) {
	_, err := ParseTelephonyMessage([]byte(`{"event":`))
	if err == nil {
		t.Fatalf("expected envelope error")
	}
}

func TestMediaOutRoundTrip(t *testing.T) {
	out := MediaOut("MZ1", "AQID")
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	msg, err := ParseTelephonyMessage(raw)
	if err != nil {
		t.Fatalf("ParseTelephonyMessage() error = %v", err)
	}
	if msg.StreamSid != "MZ1" || msg.Media.Payload != "AQID" {
		t.Fatalf("unexpected round trip: %+v", msg)
	}
}

func TestClearOutOmitsPayloads(t *testing.T) {
	raw, err := json.Marshal(ClearOut("MZ1"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"event":"clear","streamSid":"MZ1"}`
	if string(raw) != want {
		t.Fatalf("clear envelope = %s, want %s", raw, want)
	}
}
