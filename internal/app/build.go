// Package app assembles the service: storage, notifications, metrics, and the
// session factory the HTTP layer uses to run calls.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/7777tbone7777/aiagents/internal/appointment"
	"github.com/7777tbone7777/aiagents/internal/audio"
	"github.com/7777tbone7777/aiagents/internal/backend"
	"github.com/7777tbone7777/aiagents/internal/bridge"
	"github.com/7777tbone7777/aiagents/internal/calllog"
	"github.com/7777tbone7777/aiagents/internal/codec"
	"github.com/7777tbone7777/aiagents/internal/config"
	"github.com/7777tbone7777/aiagents/internal/httpapi"
	"github.com/7777tbone7777/aiagents/internal/notify"
	"github.com/7777tbone7777/aiagents/internal/observability"
)

// hookTimeout bounds storage and email work done from session callbacks.
const hookTimeout = 10 * time.Second

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Registry *bridge.Registry
	Store    calllog.Store
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := calllog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("call log init failed: %w", err)
	}

	registry := bridge.NewRegistry()
	mailer := notify.NewClient(cfg.ResendAPIKey, cfg.EmailFrom)
	notifier := notify.NewNotifier(mailer, cfg.OwnerEmail, cfg.CompanyName, cfg.AgentName)

	hooks := bridge.Hooks{
		OnCallStarted: func(callSid string) {
			hctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
			defer cancel()
			// Upsert: the inbound webhook usually created the record already.
			if err := store.StartCall(hctx, calllog.CallRecord{CallSid: callSid}); err != nil {
				log.Printf("app: start call record %s: %v", callSid, err)
			}
		},
		OnTranscriptTurn: func(callSid, role, text string) {
			hctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
			defer cancel()
			if err := store.SaveTurn(hctx, calllog.TranscriptTurn{CallSid: callSid, Role: role, Content: text}); err != nil {
				log.Printf("app: save turn for %s: %v", callSid, err)
			}
		},
		OnAppointmentCandidateText: func(callSid, text string) {
			match, ok := appointment.Parse(text, time.Now())
			if !ok {
				return
			}
			hctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
			defer cancel()
			if err := store.SaveAppointment(hctx, calllog.Appointment{
				CallSid:  callSid,
				RawText:  match.RawText,
				StartsAt: match.Time,
			}); err != nil {
				log.Printf("app: save appointment for %s: %v", callSid, err)
			}
		},
		OnBackendUnavailable: func(callSid string) {
			log.Printf("app: backend unavailable for call %s, draining", callSid)
		},
		OnCallEnded: func(callSid string, duration time.Duration, final bridge.FinalState) {
			// Finalize and email off the session goroutine; teardown must not
			// wait on storage or SMTP-grade latencies.
			go func() {
				hctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
				defer cancel()
				if err := store.FinishCall(hctx, callSid, string(final), time.Now().UTC(), duration); err != nil {
					log.Printf("app: finish call record %s: %v", callSid, err)
				}

				notifier.FinalizeCall(hctx, store, callSid)
			}()
		},
	}

	settings := bridge.Settings{
		HeartbeatInterval:  cfg.HeartbeatInterval,
		HeartbeatDeadline:  cfg.HeartbeatDeadline,
		ReconnectAttempts:  cfg.ReconnectAttempts,
		ReconnectBaseDelay: cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.ReconnectMaxDelay,
		BufferCap:          cfg.OutboundBufferCap,
		MaxCallDuration:    cfg.MaxCallDuration,
		DrainPolicy:        cfg.DrainPolicy,
	}

	backendCfg := backend.Config{
		APIKey:         cfg.OpenAIAPIKey,
		WSBaseURL:      cfg.RealtimeWSBaseURL,
		Model:          cfg.RealtimeModel,
		ConnectTimeout: cfg.ConnectTimeout,
		SendTimeout:    cfg.SendTimeout,
		Session: codec.SessionSettings{
			Instructions: cfg.Instructions,
			Voice:        cfg.Voice,
			Temperature:  cfg.Temperature,
		},
		Greet: true,
	}
	dial := func(ctx context.Context) (backend.Link, error) {
		return backend.Connect(ctx, backendCfg)
	}

	// Under the "tone" policy the caller hears 200ms of silence and then half
	// a second of 440Hz before hangup.
	var toneFrames []string
	if cfg.DrainPolicy == "tone" {
		toneFrames = append(audio.SilenceFrames(10), audio.ToneFrames(440, 0.5, 0.25)...)
	}

	newSession := func() *bridge.Session {
		sess := bridge.New(dial, settings, hooks, registry, metrics)
		if len(toneFrames) > 0 {
			sess.SetToneFrames(toneFrames)
		}
		return sess
	}

	api := httpapi.New(cfg, registry, store, metrics, newSession)

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Registry: registry,
		Store:    store,
		Metrics:  metrics,
		Cleanup:  store.Close,
	}, nil
}
