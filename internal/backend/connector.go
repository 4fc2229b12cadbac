package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/7777tbone7777/aiagents/internal/codec"
)

// Link is one duplex streaming connection to the voice-AI backend. It is
// disposable: once Events() closes the link is dead and a new one must be
// dialed. *Connection is the production implementation.
type Link interface {
	SendAudio(payloadBase64 string) error
	Truncate(itemID string, audioEndMS int64) error
	Ping() error
	Acks() <-chan struct{}
	Events() <-chan codec.BackendEvent
	Close() error
}

// Config holds everything needed to dial and bootstrap one realtime session.
type Config struct {
	APIKey         string
	WSBaseURL      string
	Model          string
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	Session        codec.SessionSettings
	// Greet triggers an immediate agent response after bootstrap so the agent
	// speaks first on inbound calls.
	Greet bool
}

// Connection is an established backend link over a websocket.
type Connection struct {
	conn        *websocket.Conn
	sendTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan codec.BackendEvent
	acks      chan struct{}
}

// Connect dials the realtime endpoint, authenticates, and bootstraps the remote
// session. Failures are classified as auth, timeout, or network so the caller
// can decide whether retrying makes sense.
func Connect(ctx context.Context, cfg Config) (*Connection, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &ConnectError{Kind: ConnectAuthFailed, Err: errors.New("api key is empty")}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}

	u, err := url.Parse(strings.TrimRight(cfg.WSBaseURL, "/") + "/v1/realtime")
	if err != nil {
		return nil, &ConnectError{Kind: ConnectNetworkUnreachable, Err: err}
	}
	q := u.Query()
	q.Set("model", cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout}
	conn, resp, err := dialer.DialContext(dialCtx, u.String(), headers)
	if err != nil {
		return nil, classifyDialError(err, resp)
	}

	c := &Connection{
		conn:        conn,
		sendTimeout: cfg.SendTimeout,
		events:      make(chan codec.BackendEvent, 256),
		acks:        make(chan struct{}, 1),
	}
	conn.SetPongHandler(func(string) error {
		select {
		case c.acks <- struct{}{}:
		default:
		}
		return nil
	})

	frame, err := codec.EncodeSessionUpdate(cfg.Session)
	if err != nil {
		_ = c.Close()
		return nil, &ConnectError{Kind: ConnectNetworkUnreachable, Err: err}
	}
	if err := c.writeFrame(frame); err != nil {
		_ = c.Close()
		return nil, &ConnectError{Kind: ConnectNetworkUnreachable, Err: err}
	}
	if cfg.Greet {
		greet, err := codec.EncodeResponseCreate()
		if err == nil {
			err = c.writeFrame(greet)
		}
		if err != nil {
			_ = c.Close()
			return nil, &ConnectError{Kind: ConnectNetworkUnreachable, Err: err}
		}
	}

	go c.readLoop()
	return c, nil
}

func classifyDialError(err error, resp *http.Response) error {
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return &ConnectError{Kind: ConnectAuthFailed, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return &ConnectError{Kind: ConnectTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ConnectError{Kind: ConnectTimeout, Err: err}
	}
	return &ConnectError{Kind: ConnectNetworkUnreachable, Err: err}
}

// SendAudio forwards one telephony audio chunk to the backend input buffer.
func (c *Connection) SendAudio(payloadBase64 string) error {
	frame, err := codec.EncodeAudioAppend(payloadBase64)
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

// Truncate cuts the in-flight agent utterance identified by itemID.
func (c *Connection) Truncate(itemID string, audioEndMS int64) error {
	frame, err := codec.EncodeTruncate(itemID, audioEndMS)
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

// Ping issues a liveness probe. The acknowledgment surfaces on Acks().
func (c *Connection) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.sendTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

func (c *Connection) Acks() <-chan struct{} { return c.acks }

// Events returns the decoded backend event stream. The channel closes when the
// connection dies; it cannot be restarted.
func (c *Connection) Events() <-chan codec.BackendEvent { return c.events }

// Close is idempotent and releases the underlying transport.
func (c *Connection) Close() error {
	var retErr error
	c.closeOnce.Do(func() {
		retErr = c.conn.Close()
	})
	return retErr
}

func (c *Connection) writeFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.sendTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

func (c *Connection) readLoop() {
	defer func() {
		_ = c.Close()
		close(c.events)
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("backend read closed: %v", err)
			}
			return
		}
		ev, err := codec.DecodeBackendEvent(data)
		if err != nil {
			// Malformed single event: drop it, keep the link.
			log.Printf("backend frame discarded: %v", err)
			continue
		}
		c.events <- ev
	}
}

var _ Link = (*Connection)(nil)
