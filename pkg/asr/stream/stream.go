// Package stream provides a WebSocket-backed [asr.Source].
//
// The client connects to a transcript feed that emits one JSON object per
// message:
//
//	{"text": "...", "is_final": false, "speaker_id": "...",
//	 "words": [{"word": "...", "confidence": 0.93}]}
//
// Messages are converted to [asr.Event] values and delivered on the Events
// channel. A dropped connection is re-established with capped exponential
// backoff until [Client.Close] is called.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/attune/pkg/asr"
)

const (
	initialBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
	eventBufferSize   = 64
)

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithToken sets the bearer token sent in the Authorization header.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithMaxBackoff caps the reconnect backoff. Default: 10s.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.maxBackoff = d
		}
	}
}

// WithoutReconnect disables automatic reconnection; the Events channel is
// closed on the first transport error.
func WithoutReconnect() Option {
	return func(c *Client) {
		c.reconnect = false
	}
}

// Client is a streaming ASR event source over WebSocket. It implements
// [asr.Source].
type Client struct {
	url        string
	token      string
	maxBackoff time.Duration
	reconnect  bool

	events chan asr.Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
}

// Dial connects to the transcript feed at url and starts the receive loop.
// The returned Client is emitting events immediately; the caller owns it and
// must call Close when done.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.New("stream: url must not be empty")
	}

	c := &Client{
		url:        url,
		maxBackoff: defaultMaxBackoff,
		reconnect:  true,
		events:     make(chan asr.Event, eventBufferSize),
	}
	for _, o := range opts {
		o(c)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", url, err)
	}
	c.setConn(conn)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	c.wg.Add(1)
	go c.readLoop(runCtx)

	return c, nil
}

// Events implements [asr.Source].
func (c *Client) Events() <-chan asr.Event {
	return c.events
}

// Close implements [asr.Source]. It terminates the receive loop, closes the
// connection, and closes the Events channel. Safe to call more than once.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close(websocket.StatusNormalClosure, "client closing")
		}
		c.mu.Unlock()
		c.wg.Wait()
	})
	return nil
}

// dial opens one WebSocket connection to the configured endpoint.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	headers := http.Header{}
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	return conn, err
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// parseMessage converts one feed message into an [asr.Event].
func parseMessage(data []byte, receivedAt time.Time) (asr.Event, error) {
	var msg transcriptMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return asr.Event{}, err
	}

	ev := asr.Event{
		Text:       msg.Text,
		IsFinal:    msg.IsFinal,
		ReceivedAt: receivedAt,
		SpeakerID:  msg.SpeakerID,
	}
	for _, w := range msg.Words {
		ev.Words = append(ev.Words, asr.WordDetail{Word: w.Word, Confidence: w.Confidence})
	}
	return ev, nil
}

// transcriptMessage is the wire format of one feed message.
type transcriptMessage struct {
	Text      string `json:"text"`
	IsFinal   bool   `json:"is_final"`
	SpeakerID string `json:"speaker_id"`
	Words     []struct {
		Word       string  `json:"word"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
}

// readLoop receives messages until the context is cancelled, reconnecting on
// transport errors when enabled.
func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()
	// The loop is the only sender, so it closes the channel on exit; Close
	// waits for that through wg.
	defer close(c.events)

	backoff := initialBackoff
	for {
		err := c.receive(ctx)
		if ctx.Err() != nil {
			return
		}
		if !c.reconnect {
			slog.Warn("stream: connection lost, reconnect disabled", "url", c.url, "err", err)
			c.cancel()
			return
		}

		slog.Warn("stream: connection lost, reconnecting",
			"url", c.url,
			"backoff", backoff,
			"err", err,
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, c.maxBackoff)

		conn, err := c.dial(ctx)
		if err != nil {
			continue
		}
		backoff = initialBackoff
		c.setConn(conn)
	}
}

// receive pumps messages from the current connection into the events channel
// until a read fails.
func (c *Client) receive(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("stream: no connection")
	}

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}

		ev, err := parseMessage(data, time.Now().UTC())
		if err != nil {
			slog.Warn("stream: malformed message skipped", "err", err)
			continue
		}

		select {
		case c.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
