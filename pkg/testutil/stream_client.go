package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"courseframework/pkg/eventbus"

	"github.com/gorilla/websocket"
)

// StreamEvent is an event as received over the websocket stream. Payloads
// arrive as decoded JSON.
type StreamEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// StreamClient connects to the /ws/events endpoint of a running server and
// collects the events it receives.
type StreamClient struct {
	conn *websocket.Conn

	mu       sync.Mutex
	received []StreamEvent
	notify   chan struct{}
	done     chan struct{}
}

// DialStream opens a stream against baseURL (http:// or https://) with an
// optional bearer token and event types.
func DialStream(baseURL, token string, types ...string) (*StreamClient, error) {
	url := strings.Replace(baseURL, "http", "ws", 1) + "/ws/events"
	if len(types) > 0 {
		url += "?types=" + strings.Join(types, ",")
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial stream: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial stream: %w", err)
	}

	c := &StreamClient{
		conn:   conn,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *StreamClient) readLoop() {
	defer close(c.done)
	for {
		var e StreamEvent
		if err := c.conn.ReadJSON(&e); err != nil {
			return
		}
		c.mu.Lock()
		c.received = append(c.received, e)
		c.mu.Unlock()

		select {
		case c.notify <- struct{}{}:
		default:
		}
	}
}

// Received returns a copy of the events received so far.
func (c *StreamClient) Received() []StreamEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StreamEvent, len(c.received))
	copy(out, c.received)
	return out
}

// WaitFor blocks until an event of eventType arrives or timeout elapses.
func (c *StreamClient) WaitFor(eventType string, timeout time.Duration) (StreamEvent, error) {
	deadline := time.After(timeout)
	for {
		for _, e := range c.Received() {
			if e.Type == eventType || eventType == eventbus.AllEvents {
				return e, nil
			}
		}
		select {
		case <-c.notify:
		case <-c.done:
			return StreamEvent{}, fmt.Errorf("stream closed before %s arrived", eventType)
		case <-deadline:
			return StreamEvent{}, fmt.Errorf("timed out waiting for %s", eventType)
		}
	}
}

// Close closes the connection and waits for the reader to exit.
func (c *StreamClient) Close() error {
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
	<-c.done
	return err
}
