package dashboard

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/aritana/internal/monitor"
)

// StreamMessage is a decoded frame from /ws. Exactly one of Event and Jobs
// is set, depending on Type.
type StreamMessage struct {
	Type  string
	Event *monitor.Event
	Jobs  []monitor.JobInfo
}

type rawMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StreamEvents connects to a running dashboard's /ws endpoint and calls
// onMessage for every frame until ctx is done, the server closes the
// stream or onMessage returns an error.
func StreamEvents(ctx context.Context, baseURL string, onMessage func(StreamMessage) error) error {
	wsURL, err := websocketURL(baseURL)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		msg, err := decodeStreamMessage(data)
		if err != nil {
			return err
		}
		if msg.Type == MessageTypePong {
			continue
		}
		if err := onMessage(msg); err != nil {
			return err
		}
	}
}

func decodeStreamMessage(data []byte) (StreamMessage, error) {
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return StreamMessage{}, fmt.Errorf("decode message: %w", err)
	}

	msg := StreamMessage{Type: raw.Type}
	switch raw.Type {
	case MessageTypeJob:
		var ev monitor.Event
		if err := json.Unmarshal(raw.Data, &ev); err != nil {
			return StreamMessage{}, fmt.Errorf("decode job event: %w", err)
		}
		msg.Event = &ev
	case MessageTypeReady:
		if len(raw.Data) > 0 {
			if err := json.Unmarshal(raw.Data, &msg.Jobs); err != nil {
				return StreamMessage{}, fmt.Errorf("decode job list: %w", err)
			}
		}
	}
	return msg, nil
}

func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse dashboard url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("dashboard url %q: unsupported scheme", baseURL)
	}
	u.Path += "/ws"
	return u.String(), nil
}
