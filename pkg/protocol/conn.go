// ABOUTME: WebSocket connection to the session relay
// ABOUTME: Dials under a session code, sends validated events and delivers decoded messages in order
package protocol

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// WSPath is the relay's websocket endpoint
	WSPath = "/ws"

	writeTimeout = 5 * time.Second
)

// Conn is a participant's channel connection
type Conn struct {
	conn          *websocket.Conn
	sessionCode   string
	participantID string

	writeMu sync.Mutex
	events  chan Message
	done    chan struct{}

	mu     sync.RWMutex
	err    error
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// ChannelURL builds the websocket URL for a session on a relay base URL (ws, wss, http or https)
func ChannelURL(base, sessionCode, participantID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("relay url has no host: %q", base)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + WSPath
	q := url.Values{}
	q.Set("session", sessionCode)
	q.Set("participant", participantID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects to the relay channel for sessionCode as participantID
func Dial(ctx context.Context, base, sessionCode, participantID string, header http.Header) (*Conn, error) {
	target, err := ChannelURL(base, sessionCode, participantID)
	if err != nil {
		return nil, err
	}

	log.Printf("Connecting to %s", target)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		conn:          ws,
		sessionCode:   sessionCode,
		participantID: participantID,
		events:        make(chan Message, 64),
		done:          make(chan struct{}),
		ctx:           connCtx,
		cancel:        cancel,
	}

	go c.readMessages()
	return c, nil
}

// Send validates ev and writes it to the channel
func (c *Conn) Send(ev Event) error {
	data, err := Encode(c.sessionCode, c.participantID, ev)
	if err != nil {
		return err
	}

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", ev.Kind(), err)
	}
	return nil
}

// Events delivers inbound messages in arrival order. It is closed when the connection ends.
func (c *Conn) Events() <-chan Message {
	return c.events
}

// Done is closed when the connection ends for any reason
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the read error that ended the connection, or nil after Close
func (c *Conn) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// SessionCode returns the code the connection was dialed under
func (c *Conn) SessionCode() string {
	return c.sessionCode
}

// readMessages reads and decodes incoming messages
func (c *Conn) readMessages() {
	defer close(c.done)
	defer close(c.events)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.err = err
				c.closed = true
				log.Printf("Read error: %v", err)
			}
			c.mu.Unlock()
			c.cancel()
			c.conn.Close()
			return
		}

		if messageType != websocket.TextMessage {
			log.Printf("Ignoring non-text WebSocket message type: %d", messageType)
			continue
		}

		msg, err := Decode(data)
		if err != nil {
			log.Printf("Ignoring message: %v", err)
			continue
		}

		select {
		case c.events <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

// Close sends a close frame and closes the connection
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	log.Printf("Connection closed")
	return err
}
