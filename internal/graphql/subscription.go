package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rewired-gh/seismerge/internal/logger"
	"github.com/rewired-gh/seismerge/internal/push"
)

// graphql-transport-ws message types.
const (
	SubProtocol = "graphql-transport-ws"

	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

const (
	writeWait = 10 * time.Second
)

// Well-known subscriptions pushed by the gateway.
var (
	EventsCreated = push.Subscription{
		Name:  "eventsCreated",
		Query: EventsCreatedSubscription,
	}
	DetectionsCreated = push.Subscription{
		Name:  "detectionsCreated",
		Query: DetectionsCreatedSubscription,
	}
	WaveformChannelSegmentsAdded = push.Subscription{
		Name:  "waveformChannelSegmentsAdded",
		Query: WaveformChannelSegmentsAddedSubscription,
	}
	QcMasksCreated = push.Subscription{
		Name:  "qcMasksCreated",
		Query: QcMasksCreatedSubscription,
	}
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscriptionClient runs GraphQL subscriptions over a WebSocket, one
// connection per subscription.
type SubscriptionClient struct {
	url        string
	dialer     *websocket.Dialer
	header     http.Header
	ackTimeout time.Duration
}

// NewSubscriptionClient creates a client for the gateway's WebSocket endpoint.
func NewSubscriptionClient(url string, ackTimeout time.Duration) *SubscriptionClient {
	if ackTimeout <= 0 {
		ackTimeout = 10 * time.Second
	}
	return &SubscriptionClient{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: ackTimeout,
			Subprotocols:     []string{SubProtocol},
		},
		header:     http.Header{},
		ackTimeout: ackTimeout,
	}
}

// conn serializes writes; gorilla connections allow one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(msg wsMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

// Subscribe implements push.Source.
func (s *SubscriptionClient) Subscribe(ctx context.Context, sub push.Subscription, handle push.Handler) error {
	ws, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", s.url, err)
	}
	c := &conn{ws: ws}
	defer ws.Close()

	if err := s.handshake(c); err != nil {
		return err
	}

	id := uuid.NewString()
	payload, err := json.Marshal(Request{Query: sub.Query, Variables: sub.Variables, OperationName: sub.Name})
	if err != nil {
		return fmt.Errorf("failed to encode %s subscription: %w", sub.Name, err)
	}
	if err := c.write(wsMessage{ID: id, Type: msgSubscribe, Payload: payload}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", sub.Name, err)
	}
	logger.Debug("Subscribed to %s (id %s)", sub.Name, id)

	// unblock ReadJSON when the caller cancels
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.write(wsMessage{ID: id, Type: msgComplete})
			c.mu.Lock()
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			c.mu.Unlock()
			_ = ws.Close()
		case <-done:
		}
	}()

	for {
		var msg wsMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return push.ErrClosed
			}
			return fmt.Errorf("%s subscription read failed: %w", sub.Name, err)
		}

		switch msg.Type {
		case msgPing:
			if err := c.write(wsMessage{Type: msgPong}); err != nil {
				return fmt.Errorf("failed to answer ping: %w", err)
			}
		case msgPong:
		case msgNext:
			if msg.ID != id {
				continue
			}
			var result response
			if err := json.Unmarshal(msg.Payload, &result); err != nil {
				logger.Warn("Dropping malformed %s push: %v", sub.Name, err)
				continue
			}
			if len(result.Errors) > 0 {
				logger.Warn("%s push carried errors: %v", sub.Name, &Error{Operation: sub.Name, Errors: result.Errors})
				continue
			}
			if err := handle(ctx, result.Data); err != nil {
				logger.Warn("Failed to apply %s push: %v", sub.Name, err)
			}
		case msgError:
			var errs []ErrorMessage
			_ = json.Unmarshal(msg.Payload, &errs)
			return &Error{Operation: sub.Name, Errors: errs}
		case msgComplete:
			if msg.ID == id {
				return push.ErrClosed
			}
		default:
			logger.Debug("Ignoring %s message on %s", msg.Type, sub.Name)
		}
	}
}

func (s *SubscriptionClient) handshake(c *conn) error {
	if err := c.write(wsMessage{Type: msgConnectionInit}); err != nil {
		return fmt.Errorf("failed to send connection_init: %w", err)
	}

	_ = c.ws.SetReadDeadline(time.Now().Add(s.ackTimeout))
	defer c.ws.SetReadDeadline(time.Time{})
	for {
		var msg wsMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed waiting for connection_ack: %w", err)
		}
		switch msg.Type {
		case msgConnectionAck:
			return nil
		case msgPing:
			if err := c.write(wsMessage{Type: msgPong}); err != nil {
				return err
			}
		default:
			return errors.New("unexpected " + msg.Type + " before connection_ack")
		}
	}
}
