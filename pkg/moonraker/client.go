// Moonraker JSON-RPC 2.0 websocket client
//
// Connects to a Moonraker instance and exposes request/response calls
// plus server-push notifications. One goroutine reads the socket and
// routes responses to pending calls by request id; a second goroutine
// serializes writes and keeps the connection alive with pings.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package moonraker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	amserr "ams-host/pkg/errors"
	"ams-host/pkg/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512 * 1024
	dialTimeout    = 10 * time.Second
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      uint64 `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return e.Message }

type rpcEnvelope struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	Result  json.RawMessage   `json:"result"`
	Error   *rpcError         `json:"error"`
	ID      *uint64           `json:"id"`
}

// NotifyHandler receives server-push notifications such as
// notify_status_update.
type NotifyHandler func(method string, params []json.RawMessage)

// Client is a single Moonraker websocket connection.
type Client struct {
	url    string
	logger *log.Logger
	conn   *websocket.Conn
	sendCh chan any
	done   chan struct{}

	mu       sync.Mutex
	closed   bool
	nextID   uint64
	pending  map[uint64]chan rpcEnvelope
	notifyID int
	notify   map[int]NotifyHandler
}

// Dial connects to the Moonraker websocket endpoint and starts the
// read/write pumps.
func Dial(url string, logger *log.Logger) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, amserr.TransportError(err, "dial "+url)
	}

	c := &Client{
		url:     url,
		logger:  logger.WithPrefix("moonraker"),
		conn:    conn,
		sendCh:  make(chan any, 64),
		done:    make(chan struct{}),
		pending: make(map[uint64]chan rpcEnvelope),
		notify:  make(map[int]NotifyHandler),
	}
	go c.readPump()
	go c.writePump()
	c.logger.WithField("url", url).Info("connected")
	return c, nil
}

// Close tears the connection down. Pending calls fail with a transport
// error; no notification is delivered after Close returns the lock.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	pending := c.pending
	c.pending = make(map[uint64]chan rpcEnvelope)
	c.mu.Unlock()

	c.conn.Close()
	for _, ch := range pending {
		close(ch)
	}
}

// Closed reports whether the connection has been torn down, either by
// Close or by a read failure.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done exposes the teardown signal for reconnect loops.
func (c *Client) Done() <-chan struct{} { return c.done }

// Call issues a JSON-RPC request and waits for its response.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, amserr.NotConnectedError("moonraker connection closed")
	}
	c.nextID++
	id := c.nextID
	ch := make(chan rpcEnvelope, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	c.send(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id})

	select {
	case env, ok := <-ch:
		if !ok {
			return nil, amserr.NotConnectedError("moonraker connection closed")
		}
		if env.Error != nil {
			return nil, amserr.TransportError(env.Error, method)
		}
		return env.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, amserr.TransportError(ctx.Err(), method)
	case <-c.done:
		return nil, amserr.NotConnectedError("moonraker connection closed")
	}
}

// ExecuteGCode runs a G-code script asynchronously. The done callback
// fires exactly once with the script outcome. Moonraker holds the
// response until the script (including macros) finishes, so completion
// of the call is completion of the motion.
func (c *Client) ExecuteGCode(script string, done func(error)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		_, err := c.Call(ctx, "printer.gcode.script", map[string]any{"script": script})
		done(err)
	}()
}

// OnNotify registers a handler for server-push notifications and
// returns its unsubscribe function.
func (c *Client) OnNotify(h NotifyHandler) func() {
	c.mu.Lock()
	c.notifyID++
	id := c.notifyID
	c.notify[id] = h
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.notify, id)
		c.mu.Unlock()
	}
}

// send queues an outgoing message for the write pump.
func (c *Client) send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	}
}

func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.Closed() {
				c.logger.WithError(err).Warn("read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.WithError(err).Warn("write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// handleMessage routes one incoming frame: responses go to the pending
// call with the matching id, everything else fans out to the
// notification handlers.
func (c *Client) handleMessage(data []byte) {
	var env rpcEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.WithError(err).Warn("discarding unparseable frame")
		return
	}

	if env.ID != nil {
		c.mu.Lock()
		ch, ok := c.pending[*env.ID]
		if ok {
			delete(c.pending, *env.ID)
		}
		c.mu.Unlock()
		if !ok {
			c.logger.WithField("id", *env.ID).Debug("response for unknown request")
			return
		}
		ch <- env
		return
	}

	if env.Method == "" {
		return
	}
	c.mu.Lock()
	handlers := make([]NotifyHandler, 0, len(c.notify))
	for _, h := range c.notify {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(env.Method, env.Params)
	}
}
