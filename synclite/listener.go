package synclite

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ListenerConfig wires the WebSocket push listener.
type ListenerConfig struct {
	// URL is the WebSocket endpoint (ws://, wss://, or http(s):// which is
	// rewritten).
	URL string
	// Token optionally supplies an auth token appended as ?token=.
	Token func(ctx context.Context) (string, error)

	Handler *Handler

	// ReconnectBaseDelay and ReconnectMaxDelay bound the reconnect backoff.
	// Zero values default to 1s and 30s.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	Logger             *slog.Logger
}

func (c *ListenerConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Listener maintains a WebSocket connection to the server's push channel
// and feeds every message to the Handler. It reconnects with capped
// exponential backoff plus jitter, and resets the backoff once a
// connection survives long enough to be considered stable.
type Listener struct {
	cfg ListenerConfig

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewListener validates the configuration and returns a Listener.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL must be provided")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("Handler must be provided")
	}
	cfg.defaults()
	return &Listener{cfg: cfg}, nil
}

// Start launches the connect/read loop. It returns an error if the
// listener is already started.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return fmt.Errorf("listener already started")
	}
	l.started = true

	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go l.run(ctx)
	return nil
}

// Stop closes the connection and waits for the loop to exit.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.started = false
	l.mu.Unlock()

	cancel()
	<-done
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		connectedAt := time.Now()
		err := l.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		// A connection that held for a minute earns a fresh backoff.
		if time.Since(connectedAt) > time.Minute {
			attempt = 0
		}
		delay := l.backoff(attempt)
		attempt++
		l.cfg.Logger.Info("WebSocket disconnected, reconnecting",
			"delay", delay, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndRead dials once and reads until the connection or context dies.
func (l *Listener) connectAndRead(ctx context.Context) error {
	endpoint, err := l.endpoint(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	l.cfg.Logger.Info("WebSocket connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}
		l.cfg.Handler.HandleRaw(ctx, data)
	}
}

func (l *Listener) endpoint(ctx context.Context) (string, error) {
	u := strings.Replace(l.cfg.URL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)

	if l.cfg.Token != nil {
		token, err := l.cfg.Token(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to get auth token: %w", err)
		}
		if token != "" {
			sep := "?"
			if strings.Contains(u, "?") {
				sep = "&"
			}
			u += sep + "token=" + url.QueryEscape(token)
		}
	}
	return u, nil
}

func (l *Listener) backoff(attempt int) time.Duration {
	base := float64(l.cfg.ReconnectBaseDelay)
	jitter := rand.Float64() * base * 0.5
	delay := math.Min(base*math.Pow(2, float64(attempt))+jitter, float64(l.cfg.ReconnectMaxDelay))
	return time.Duration(delay)
}
