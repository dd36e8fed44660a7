// Package transport maintains the socket.io channel to the report service.
package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"
	"go.uber.org/zap"

	"github.com/quillstream/quill/internal/protocol/wire"
)

const (
	// eventEnvelope is the socket.io event carrying inbound envelopes.
	eventEnvelope = "update"
	// eventAction is the socket.io event carrying outbound actions.
	eventAction = "action"
	// socketPath is the server's socket.io mount point.
	socketPath = "/v1/stream"
)

// Client wraps the socket.io connection to the report service.
//
// Inbound envelopes are delivered to a single handler in arrival order; the
// session engine is the only component that writes through Send.
type Client struct {
	serverURL string
	token     string
	threadID  string

	mu        sync.RWMutex
	socket    *socket.Socket
	connected bool
	handler   func(wire.Envelope)

	closeOnce sync.Once
	done      chan struct{}

	log *zap.Logger
}

// NewClient creates a client scoped to one conversation thread.
func NewClient(serverURL, token, threadID string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		serverURL: serverURL,
		token:     token,
		threadID:  threadID,
		done:      make(chan struct{}),
		log:       log,
	}
}

// OnEnvelope registers the inbound envelope handler.
//
// Envelopes are delivered sequentially from the socket's event loop so the
// consumer observes them in arrival order.
func (c *Client) OnEnvelope(handler func(wire.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Connect establishes the socket.io connection.
func (c *Client) Connect() error {
	opts := socket.DefaultOptions()
	opts.SetPath(socketPath)
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	opts.SetAuth(map[string]any{
		"token":    c.token,
		"threadId": c.threadID,
	})

	sock, err := socket.Connect(c.serverURL, opts)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.serverURL, err)
	}

	c.mu.Lock()
	c.socket = sock
	c.mu.Unlock()

	sock.On(types.EventName("connect"), func(args ...any) {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.log.Info("stream connected", zap.Any("socket_id", sock.Id()))
	})

	sock.On(types.EventName("disconnect"), func(args ...any) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		reason := ""
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}
		c.log.Info("stream disconnected", zap.String("reason", reason))
	})

	sock.On(types.EventName("connect_error"), func(args ...any) {
		if len(args) > 0 {
			c.log.Warn("stream connect error", zap.Any("error", args[0]))
		}
	})

	sock.On(types.EventName(eventEnvelope), func(args ...any) {
		if len(args) == 0 {
			return
		}
		env, err := wire.ParseEnvelope(args[0])
		if err != nil {
			c.log.Warn("dropping undecodable envelope", zap.Error(err))
			return
		}

		c.mu.RLock()
		handler := c.handler
		c.mu.RUnlock()
		if handler != nil {
			handler(env)
		}
	})

	return nil
}

// WaitForConnect blocks until the socket reports connected or the timeout
// elapses.
func (c *Client) WaitForConnect(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Ready() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return c.Ready()
}

// Ready reports whether the channel can accept a send right now.
func (c *Client) Ready() bool {
	c.mu.RLock()
	sock := c.socket
	connected := c.connected
	c.mu.RUnlock()
	if connected {
		return true
	}
	return sock != nil && sock.Connected()
}

// Send writes one action to the channel.
func (c *Client) Send(action wire.Action) error {
	c.mu.RLock()
	sock := c.socket
	c.mu.RUnlock()
	if sock == nil {
		return fmt.Errorf("not connected")
	}

	raw, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("encode action: %w", err)
	}

	c.log.Debug("sending action",
		zap.String("type", action.Type),
		zap.String("request_id", action.RequestID))
	sock.Emit(eventAction, payload)
	return nil
}

// Close tears down the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket != nil {
		c.socket.Disconnect()
		c.socket = nil
	}
	c.connected = false
	return nil
}
