package codec

import (
	"encoding/json"
	"fmt"
)

// BackendEventType identifies decoded realtime-backend event variants.
type BackendEventType string

const (
	BackendAudioDelta      BackendEventType = "audio_delta"
	BackendAgentTranscript BackendEventType = "agent_transcript"
	BackendUserTranscript  BackendEventType = "user_transcript"
	BackendSpeechStarted   BackendEventType = "speech_started"
	BackendSpeechStopped   BackendEventType = "speech_stopped"
	BackendResponseDone    BackendEventType = "response_done"
	BackendSessionReady    BackendEventType = "session_ready"
	BackendError           BackendEventType = "error"
	BackendUnknown         BackendEventType = "unknown"
)

// BackendEvent is one decoded message from the voice-AI backend.
type BackendEvent struct {
	Type        BackendEventType
	ItemID      string
	AudioBase64 string
	Transcript  string
	ErrorCode   string
	ErrorDetail string
	RawType     string
}

type backendEnvelope struct {
	Type       string `json:"type"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DecodeBackendEvent maps one raw backend frame to a typed event. Only malformed
// JSON is an error; unrecognized type tags decode to BackendUnknown so new
// upstream event kinds never break a live call.
func DecodeBackendEvent(raw []byte) (BackendEvent, error) {
	var env backendEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return BackendEvent{}, fmt.Errorf("invalid backend frame: %w", err)
	}

	ev := BackendEvent{RawType: env.Type}
	switch env.Type {
	case "response.audio.delta":
		ev.Type = BackendAudioDelta
		ev.ItemID = env.ItemID
		ev.AudioBase64 = env.Delta
	case "response.audio_transcript.done":
		ev.Type = BackendAgentTranscript
		ev.Transcript = env.Transcript
	case "conversation.item.input_audio_transcription.completed":
		ev.Type = BackendUserTranscript
		ev.Transcript = env.Transcript
	case "input_audio_buffer.speech_started":
		ev.Type = BackendSpeechStarted
	case "input_audio_buffer.speech_stopped":
		ev.Type = BackendSpeechStopped
	case "response.done":
		ev.Type = BackendResponseDone
	case "session.created", "session.updated":
		ev.Type = BackendSessionReady
	case "error":
		ev.Type = BackendError
		if env.Error != nil {
			ev.ErrorCode = env.Error.Code
			ev.ErrorDetail = env.Error.Message
		}
	default:
		ev.Type = BackendUnknown
	}
	return ev, nil
}

// SessionSettings configures the remote realtime session at connect time.
type SessionSettings struct {
	Instructions string
	Voice        string
	Temperature  float64
	// Server VAD tuning: higher threshold and longer silence reduce false
	// barge-in triggers on noisy telephone lines.
	VADThreshold       float64
	VADPrefixMS        int
	VADSilenceMS       int
	TranscriptionModel string
}

// EncodeAudioAppend frames one base64 ulaw chunk for the backend input buffer.
func EncodeAudioAppend(payloadBase64 string) ([]byte, error) {
	return json.Marshal(map[string]string{
		"type":  "input_audio_buffer.append",
		"audio": payloadBase64,
	})
}

// EncodeSessionUpdate builds the session bootstrap frame. Both sides speak
// native 8kHz ulaw, so no format conversion happens anywhere in the bridge.
func EncodeSessionUpdate(s SessionSettings) ([]byte, error) {
	transcription := map[string]any{"model": s.TranscriptionModel}
	if s.TranscriptionModel == "" {
		transcription["model"] = "whisper-1"
	}
	if s.VADThreshold <= 0 {
		s.VADThreshold = 0.7
	}
	if s.VADPrefixMS <= 0 {
		s.VADPrefixMS = 300
	}
	if s.VADSilenceMS <= 0 {
		s.VADSilenceMS = 700
	}
	return json.Marshal(map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           s.VADThreshold,
				"prefix_padding_ms":   s.VADPrefixMS,
				"silence_duration_ms": s.VADSilenceMS,
			},
			"input_audio_format":        "g711_ulaw",
			"output_audio_format":       "g711_ulaw",
			"voice":                     s.Voice,
			"instructions":              s.Instructions,
			"modalities":                []string{"text", "audio"},
			"temperature":               s.Temperature,
			"input_audio_transcription": transcription,
		},
	})
}

// EncodeResponseCreate asks the backend to start speaking (used for the greeting).
func EncodeResponseCreate() ([]byte, error) {
	return json.Marshal(map[string]string{"type": "response.create"})
}

// EncodeTruncate cuts an in-flight agent utterance at audioEndMS of played audio.
func EncodeTruncate(itemID string, audioEndMS int64) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":          "conversation.item.truncate",
		"item_id":       itemID,
		"content_index": 0,
		"audio_end_ms":  audioEndMS,
	})
}
