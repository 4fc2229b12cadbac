package bridge

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/7777tbone7777/aiagents/internal/backend"
	"github.com/7777tbone7777/aiagents/internal/codec"
	"github.com/7777tbone7777/aiagents/internal/observability"
	"github.com/7777tbone7777/aiagents/internal/reliability"
)

// State is the call session lifecycle state. Transitions are monotonic except
// Active <-> Reconnecting, which cycles under the bounded retry budget.
type State string

const (
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StateReconnecting State = "reconnecting"
	StateDraining     State = "draining"
	StateClosed       State = "closed"
)

// TurnState tracks who is speaking, derived from backend events.
type TurnState string

const (
	TurnIdle          TurnState = "idle"
	TurnAgentSpeaking TurnState = "agent_speaking"
	TurnUserSpeaking  TurnState = "user_speaking"
)

const markName = "responsePart"

// Settings is the per-session configuration value, fixed at creation.
type Settings struct {
	HeartbeatInterval  time.Duration
	HeartbeatDeadline  time.Duration
	ReconnectAttempts  int
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	BufferCap          int
	MaxCallDuration    time.Duration

	// DrainPolicy: "hangup" ends the call silently, "tone" plays a short
	// comfort tone first so the caller never sits in dead air.
	DrainPolicy string

	// BargeInGuard suppresses interruptions right after stream start so line
	// noise cannot cut off the greeting.
	BargeInGuard time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = 20 * time.Second
	}
	if s.HeartbeatDeadline <= 0 {
		s.HeartbeatDeadline = 10 * time.Second
	}
	if s.ReconnectAttempts <= 0 {
		s.ReconnectAttempts = 3
	}
	if s.ReconnectBaseDelay <= 0 {
		s.ReconnectBaseDelay = time.Second
	}
	if s.ReconnectMaxDelay < s.ReconnectBaseDelay {
		s.ReconnectMaxDelay = 8 * s.ReconnectBaseDelay
	}
	if s.BufferCap <= 0 {
		s.BufferCap = 256
	}
	if s.MaxCallDuration <= 0 {
		s.MaxCallDuration = 10 * time.Minute
	}
	if s.DrainPolicy == "" {
		s.DrainPolicy = "hangup"
	}
	if s.BargeInGuard <= 0 {
		s.BargeInGuard = 3 * time.Second
	}
	return s
}

// Session bridges one phone call: it owns the telephony side (via the inbound/
// outbound channels handed to Run) and exactly one backend link at a time,
// replaced across reconnects. All mutable state is owned by the Run goroutine;
// the mutex only guards the snapshot fields read by Registry and HTTP handlers.
type Session struct {
	dial     backend.DialFunc
	settings Settings
	hooks    Hooks
	registry *Registry
	metrics  *observability.Metrics

	mu             sync.Mutex
	id             string
	streamSid      string
	state          State
	turn           TurnState
	retryCount     int
	interruptions  int
	turnCount      int
	registered     bool
	startedAt      time.Time
	lastActivityAt time.Time
	cancel         context.CancelFunc

	buffer *frameBuffer

	// Barge-in bookkeeping, Run-goroutine only.
	latestMediaTS   int64
	responseStartTS int64
	lastItemID      string
	marksPending    int
	streamStart     time.Time
	toneFrames      []string
}

// Snapshot is a point-in-time external view of a session.
type Snapshot struct {
	CallSid        string    `json:"call_sid"`
	StreamSid      string    `json:"stream_sid"`
	State          State     `json:"state"`
	Turn           TurnState `json:"turn"`
	RetryCount     int       `json:"retry_count"`
	Interruptions  int       `json:"interruptions"`
	TurnCount      int       `json:"turn_count"`
	BufferedFrames int       `json:"buffered_frames"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func New(dial backend.DialFunc, settings Settings, hooks Hooks, registry *Registry, metrics *observability.Metrics) *Session {
	settings = settings.withDefaults()
	return &Session{
		dial:     dial,
		settings: settings,
		hooks:    hooks,
		registry: registry,
		metrics:  metrics,
		state:    StateConnecting,
		turn:     TurnIdle,
		buffer:   newFrameBuffer(settings.BufferCap),
	}
}

// SetToneFrames installs the degraded-mode announcement played under the
// "tone" drain policy. Frames are base64 ulaw media payloads.
func (s *Session) SetToneFrames(frames []string) { s.toneFrames = frames }

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Turn() TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

func (s *Session) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastActivityAt.IsZero() {
		return 0
	}
	return time.Since(s.lastActivityAt)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		CallSid:        s.id,
		StreamSid:      s.streamSid,
		State:          s.state,
		Turn:           s.turn,
		RetryCount:     s.retryCount,
		Interruptions:  s.interruptions,
		TurnCount:      s.turnCount,
		BufferedFrames: s.buffer.len(),
		StartedAt:      s.startedAt,
		LastActivityAt: s.lastActivityAt,
	}
}

// Shutdown force-closes the session from outside the Run goroutine. Closing
// the telephony side (caller hangup) reaches the same path via ctx.
func (s *Session) Shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) setTurn(t TurnState) {
	s.mu.Lock()
	s.turn = t
	s.mu.Unlock()
}

func (s *Session) setRetryCount(n int) {
	s.mu.Lock()
	s.retryCount = n
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivityAt = time.Now().UTC()
	s.mu.Unlock()
}

// bufferPush and bufferDrain wrap the frame buffer under the snapshot lock so
// Snapshot readers never race the Run goroutine.
func (s *Session) bufferPush(payload string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.push(payload)
}

func (s *Session) bufferDrain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.drain()
}

type connectOutcome struct {
	link     backend.Link
	attempts int
	err      error
}

// linkWatch carries heartbeat-death signals tagged with the generation of the
// link whose monitor raised them. A monitor canceled during detach can still
// fire once after the drain; the generation tag lets the loop discard signals
// from links that were already replaced. Capacity two holds one such stale
// signal alongside the live link's without dropping either.
type linkWatch struct {
	ch  chan int
	gen int
}

func newLinkWatch() *linkWatch { return &linkWatch{ch: make(chan int, 2)} }

// next advances to a fresh link generation and returns it.
func (w *linkWatch) next() int {
	w.gen++
	return w.gen
}

// fire reports a dead link without ever blocking the monitor goroutine.
func (w *linkWatch) fire(gen int) {
	select {
	case w.ch <- gen:
	default:
	}
}

// stale reports whether a received signal belongs to a replaced link.
func (w *linkWatch) stale(gen int) bool { return gen != w.gen }

func (w *linkWatch) drain() {
	for {
		select {
		case <-w.ch:
		default:
			return
		}
	}
}

// Run drives the session until the call ends. inbound carries parsed telephony
// envelopes; outbound carries envelopes for the telephony writer. Run returns
// once the session reaches Closed.
func (s *Session) Run(ctx context.Context, inbound <-chan codec.TelephonyMessage, outbound chan<- codec.TelephonyMessage) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := time.Now().UTC()
	s.mu.Lock()
	s.cancel = cancel
	s.startedAt = now
	s.lastActivityAt = now
	s.mu.Unlock()

	var (
		link       backend.Link
		events     <-chan codec.BackendEvent
		hbCancel   context.CancelFunc
		connecting bool
	)
	watch := newLinkWatch()
	connectCh := make(chan connectOutcome, 1)

	defer func() {
		if hbCancel != nil {
			hbCancel()
		}
		if link != nil {
			_ = link.Close()
		}
	}()

	startConnect := func() {
		if connecting {
			return
		}
		connecting = true
		sup := backend.NewSupervisor(s.dial, s.settings.ReconnectAttempts, s.settings.ReconnectBaseDelay, s.settings.ReconnectMaxDelay)
		sup.OnAttempt = func(attempt int, err error) {
			s.setRetryCount(attempt)
			if s.metrics == nil {
				return
			}
			if err != nil {
				s.metrics.ReconnectAttempts.WithLabelValues("failure").Inc()
			} else {
				s.metrics.ReconnectAttempts.WithLabelValues("success").Inc()
			}
		}
		go func() {
			l, attempts, err := sup.Connect(ctx)
			connectCh <- connectOutcome{link: l, attempts: attempts, err: err}
		}()
	}

	detach := func() {
		if hbCancel != nil {
			hbCancel()
			hbCancel = nil
		}
		if link != nil {
			_ = link.Close()
			link = nil
		}
		events = nil
		watch.drain()
	}

	loseLink := func(reason string) {
		log.Printf("session %s: backend link lost (%s), reconnecting", s.ID(), reason)
		detach()
		s.setState(StateReconnecting)
		if s.metrics != nil {
			s.metrics.CallEvents.WithLabelValues("backend_lost").Inc()
		}
		startConnect()
	}

	maxTimer := time.NewTimer(s.settings.MaxCallDuration)
	defer maxTimer.Stop()

	startConnect()

	for {
		select {
		case <-ctx.Done():
			s.finish(FinalCanceled)
			return nil

		case <-maxTimer.C:
			log.Printf("session %s: max call duration reached", s.ID())
			s.setState(StateDraining)
			s.finish(FinalMaxDuration)
			return nil

		case out := <-connectCh:
			connecting = false
			if out.err != nil {
				log.Printf("session %s: backend unreachable after %d attempts: %v", s.ID(), out.attempts, out.err)
				s.drainAndClose(outbound)
				return nil
			}
			link = out.link
			events = link.Events()
			s.setRetryCount(0)
			s.setState(StateActive)

			hbCtx, cancelHB := context.WithCancel(ctx)
			hbCancel = cancelHB
			gen := watch.next()
			hb := backend.NewHeartbeat(s.settings.HeartbeatInterval, s.settings.HeartbeatDeadline, link.Ping, link.Acks(), func() {
				watch.fire(gen)
			})
			go hb.Run(hbCtx)

			// Flush frames buffered during the gap before any live frame.
			frames := s.bufferDrain()
			for i, payload := range frames {
				if err := link.SendAudio(payload); err != nil {
					for _, p := range frames[i:] {
						s.bufferPush(p)
					}
					loseLink("flush write failed")
					break
				}
			}

		case gen := <-watch.ch:
			if watch.stale(gen) {
				continue
			}
			loseLink("heartbeat deadline exceeded")

		case ev, ok := <-events:
			if !ok {
				loseLink("event stream closed")
				continue
			}
			if recycle := s.handleBackendEvent(ev, link, outbound); recycle {
				loseLink("terminal backend error")
			}

		case msg, ok := <-inbound:
			if !ok {
				// Telephony side is gone: the call itself ended.
				s.finish(FinalCompleted)
				return nil
			}
			switch msg.Event {
			case codec.EventStart:
				if err := s.handleStart(msg); err != nil {
					return err
				}
			case codec.EventMedia:
				s.handleMedia(msg, link, loseLink)
			case codec.EventMark:
				if s.marksPending > 0 {
					s.marksPending--
				}
			case codec.EventStop:
				log.Printf("session %s: stream stopped", s.ID())
				s.finish(FinalCompleted)
				return nil
			case codec.EventDTMF:
				log.Printf("session %s: dtmf digit %q", s.ID(), msg.DTMF.Digit)
			case codec.EventConnected:
				// Informational handshake, nothing to do.
			}
		}
	}
}

func (s *Session) handleStart(msg codec.TelephonyMessage) error {
	callSid := msg.Start.CallSid
	if v, ok := msg.Start.CustomParameters["CallSid"]; ok && v != "" {
		callSid = v
	}

	s.mu.Lock()
	s.id = callSid
	s.streamSid = msg.Start.StreamSid
	s.lastActivityAt = time.Now().UTC()
	s.mu.Unlock()
	s.streamStart = time.Now()

	if err := s.registry.Register(callSid, s); err != nil {
		log.Printf("session: rejecting duplicate call id %s", callSid)
		s.finishWithoutUnregister()
		return err
	}
	s.mu.Lock()
	s.registered = true
	s.mu.Unlock()

	log.Printf("session %s: stream started (%s)", callSid, msg.Start.StreamSid)
	if s.metrics != nil {
		s.metrics.CallEvents.WithLabelValues("started").Inc()
		s.metrics.ActiveCalls.Set(float64(s.registry.ActiveCount()))
	}
	s.hooks.callStarted(callSid)
	return nil
}

func (s *Session) handleMedia(msg codec.TelephonyMessage, link backend.Link, loseLink func(string)) {
	s.touch()
	if ts, err := strconv.ParseInt(msg.Media.Timestamp, 10, 64); err == nil {
		s.latestMediaTS = ts
	}
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues("telephony", "inbound").Inc()
	}

	if link != nil && s.State() == StateActive {
		if err := link.SendAudio(msg.Media.Payload); err != nil {
			s.bufferPush(msg.Media.Payload)
			loseLink("media write failed")
			return
		}
		if s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("backend", "outbound").Inc()
		}
		return
	}

	// No healthy link: buffer with oldest-drop so a long gap degrades audio
	// instead of failing the session.
	if evicted := s.bufferPush(msg.Media.Payload); evicted {
		if s.metrics != nil {
			s.metrics.FramesDropped.Inc()
		}
	}
}

// handleBackendEvent applies one decoded backend event. It reports whether the
// link must be recycled because the remote session hit a terminal error.
func (s *Session) handleBackendEvent(ev codec.BackendEvent, link backend.Link, outbound chan<- codec.TelephonyMessage) bool {
	switch ev.Type {
	case codec.BackendAudioDelta:
		s.setTurn(TurnAgentSpeaking)
		s.touch()
		if ev.ItemID != "" && ev.ItemID != s.lastItemID {
			s.lastItemID = ev.ItemID
			s.responseStartTS = s.latestMediaTS
		}
		streamSid := s.snapshotStreamSid()
		s.sendOut(outbound, codec.MediaOut(streamSid, ev.AudioBase64))
		s.sendOut(outbound, codec.MarkOut(streamSid, markName))
		s.marksPending++

	case codec.BackendSpeechStarted:
		s.handleBargeIn(link, outbound)

	case codec.BackendSpeechStopped:
		if s.Turn() == TurnUserSpeaking {
			s.setTurn(TurnIdle)
		}

	case codec.BackendAgentTranscript:
		if ev.Transcript != "" {
			s.bumpTurnCount()
			s.hooks.transcriptTurn(s.ID(), "agent", ev.Transcript)
		}
		s.setTurn(TurnIdle)

	case codec.BackendUserTranscript:
		if ev.Transcript != "" {
			s.bumpTurnCount()
			id := s.ID()
			s.hooks.transcriptTurn(id, "user", ev.Transcript)
			s.hooks.appointmentCandidate(id, ev.Transcript)
		}

	case codec.BackendResponseDone:
		s.setTurn(TurnIdle)

	case codec.BackendError:
		if s.metrics != nil {
			s.metrics.BackendErrors.WithLabelValues(ev.ErrorCode).Inc()
		}
		log.Printf("session %s: backend error %s: %s", s.ID(), ev.ErrorCode, ev.ErrorDetail)
		// Transient faults (rate limits, 5xx-grade server errors) leave the
		// remote session usable; anything else means it cannot make progress
		// and the link has to be replaced.
		if ev.ErrorCode != "" && !reliability.IsRetryableRealtimeErrorCode(ev.ErrorCode) {
			return true
		}

	case codec.BackendSessionReady, codec.BackendUnknown:
		// Ignored: unknown upstream event kinds must never break a call.
	}
	return false
}

// handleBargeIn cuts an in-flight agent utterance when the caller starts
// speaking over it. The truncate upstream and the clear downstream fire exactly
// once per utterance: clearing lastItemID makes repeats a no-op.
func (s *Session) handleBargeIn(link backend.Link, outbound chan<- codec.TelephonyMessage) {
	if !s.streamStart.IsZero() && time.Since(s.streamStart) < s.settings.BargeInGuard {
		log.Printf("session %s: ignoring early interruption", s.ID())
		return
	}
	if s.Turn() != TurnAgentSpeaking || s.lastItemID == "" {
		s.setTurn(TurnUserSpeaking)
		return
	}

	elapsed := s.latestMediaTS - s.responseStartTS
	if elapsed < 0 {
		elapsed = 0
	}
	if link != nil {
		if err := link.Truncate(s.lastItemID, elapsed); err != nil {
			log.Printf("session %s: truncate failed: %v", s.ID(), err)
		}
	}
	s.sendOut(outbound, codec.ClearOut(s.snapshotStreamSid()))

	s.lastItemID = ""
	s.responseStartTS = 0
	s.marksPending = 0
	s.setTurn(TurnUserSpeaking)

	s.mu.Lock()
	s.interruptions++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.Interruptions.Inc()
	}
}

// drainAndClose runs the Draining phase after the reconnect budget is spent:
// notify collaborators, optionally play the comfort tone, then close.
func (s *Session) drainAndClose(outbound chan<- codec.TelephonyMessage) {
	s.setState(StateDraining)
	id := s.ID()
	if s.metrics != nil {
		s.metrics.CallEvents.WithLabelValues("backend_unavailable").Inc()
	}
	s.hooks.backendUnavailable(id)

	if s.settings.DrainPolicy == "tone" && len(s.toneFrames) > 0 {
		streamSid := s.snapshotStreamSid()
		for _, frame := range s.toneFrames {
			s.sendOut(outbound, codec.MediaOut(streamSid, frame))
		}
	}
	s.finish(FinalBackendFailed)
}

func (s *Session) snapshotStreamSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSid
}

func (s *Session) bumpTurnCount() {
	s.mu.Lock()
	s.turnCount++
	s.mu.Unlock()
}

func (s *Session) sendOut(outbound chan<- codec.TelephonyMessage, msg codec.TelephonyMessage) {
	select {
	case outbound <- msg:
		if s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("telephony", "outbound").Inc()
		}
	default:
		// Writer is saturated or gone; dropping keeps the event loop live.
		log.Printf("session %s: outbound queue full, dropping %s", s.ID(), msg.Event)
	}
}

func (s *Session) finish(final FinalState) {
	s.closeWith(final, true)
}

func (s *Session) finishWithoutUnregister() {
	s.closeWith(FinalCanceled, false)
}

func (s *Session) closeWith(final FinalState, unregister bool) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.turn = TurnIdle
	id := s.id
	registered := s.registered
	duration := time.Since(s.startedAt)
	s.mu.Unlock()

	if unregister && registered {
		s.registry.Unregister(id)
	}
	if s.metrics != nil {
		s.metrics.CallEvents.WithLabelValues("ended").Inc()
		s.metrics.ActiveCalls.Set(float64(s.registry.ActiveCount()))
		s.metrics.ObserveCallDuration(duration)
	}
	if id != "" && unregister {
		log.Printf("session %s: closed after %s (%s)", id, duration.Round(time.Second), final)
		s.hooks.callEnded(id, duration, final)
	}
}
