// Package onebot connects to a OneBot v11 websocket endpoint (the
// de-facto QQ bot protocol), mirrors group messages into the history
// buffer, and triggers sobriquet analysis whenever the bot's own group
// reply comes through the event stream.
package onebot

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aomori/sobriquet/internal/health"
	"github.com/aomori/sobriquet/internal/identity"
	"github.com/aomori/sobriquet/internal/sobriquet"
)

const (
	platform       = "qq"
	healthName     = "connector:onebot"
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Recorder receives every group message the connector observes.
type Recorder interface {
	Append(streamID string, message identity.Message)
}

// Trigger kicks off analysis of a stream after the bot replied in it.
type Trigger interface {
	TriggerAnalysis(ctx context.Context, stream sobriquet.Stream, botReply string) error
}

type Connector struct {
	url         string
	accessToken string
	selfID      string
	recorder    Recorder
	trigger     Trigger
	reporter    health.Reporter
	logger      *slog.Logger

	mu    sync.RWMutex
	names map[string]string // platform user id -> last seen display name

	// replaced by tests to point at a local websocket server
	dial func(ctx context.Context) (*websocket.Conn, error)
}

func New(url, accessToken, selfID string, recorder Recorder, trigger Trigger, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	connector := &Connector{
		url:         strings.TrimSpace(url),
		accessToken: strings.TrimSpace(accessToken),
		selfID:      strings.TrimSpace(selfID),
		recorder:    recorder,
		trigger:     trigger,
		logger:      logger,
		names:       map[string]string{},
	}
	connector.dial = connector.dialEndpoint
	return connector
}

func (c *Connector) Name() string {
	return "onebot"
}

func (c *Connector) SetHealthReporter(reporter health.Reporter) {
	c.reporter = reporter
}

// BatchDisplayNames serves names out of the cache built from observed
// sender info. Users the connector never saw are absent from the result.
func (c *Connector) BatchDisplayNames(_ context.Context, requestPlatform string, userIDs []string) (map[string]string, error) {
	if requestPlatform != platform {
		return map[string]string{}, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(userIDs))
	for _, uid := range userIDs {
		if name, ok := c.names[uid]; ok {
			out[uid] = name
		}
	}
	return out, nil
}

func (c *Connector) Start(ctx context.Context) error {
	if c.reporter != nil {
		c.reporter.Starting(healthName, "starting")
	}
	if c.url == "" {
		if c.reporter != nil {
			c.reporter.Disabled(healthName, "websocket url missing")
		}
		c.logger.Info("connector disabled, websocket url missing")
		<-ctx.Done()
		return nil
	}

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			if c.reporter != nil {
				c.reporter.Stopped(healthName, "stopped")
			}
			c.logger.Info("connector stopped")
			return nil
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if c.reporter != nil {
				c.reporter.Degrade(healthName, "dial failed", err)
			}
			c.logger.Error("dial failed", "url", c.url, "error", err)
			if !c.sleep(ctx, backoff) {
				continue
			}
			backoff = nextBackoff(backoff)
			continue
		}

		if c.reporter != nil {
			c.reporter.Beat(healthName, "connected")
		}
		c.logger.Info("connector connected", "url", c.url)
		backoff = initialBackoff

		err = c.readLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			continue
		}
		if c.reporter != nil {
			c.reporter.Degrade(healthName, "connection lost", err)
		}
		c.logger.Warn("connection lost, reconnecting", "error", err)
		if c.sleep(ctx, backoff) {
			backoff = nextBackoff(backoff)
		}
	}
}

func (c *Connector) dialEndpoint(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.accessToken != "" {
		header.Set("Authorization", "Bearer "+c.accessToken)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	return conn, err
}

func (c *Connector) readLoop(ctx context.Context, conn *websocket.Conn) error {
	// ReadMessage has no context; cancel unblocks it by closing the
	// connection out from under the read.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleEvent(ctx, data)
	}
}

func (c *Connector) sleep(ctx context.Context, duration time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(duration):
		return true
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
