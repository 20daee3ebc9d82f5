// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package socket implements the low-latency qualification transport:
// a Phoenix-channel-style websocket client with ref-matched replies.
//
// The socket is an alternative to the HTTP qualify endpoint. It joins
// one channel per account/user pair, sends events with monotonically
// increasing refs, and routes each server reply back to the waiting
// caller by ref. Unlike the HTTP path there is no durable retry here:
// callers fail fast when the socket is down and fall back upstream.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected indicates a send was attempted while the socket
	// is closed or never connected.
	ErrNotConnected = errors.New("socket not connected")

	// ErrJoinRejected indicates the server refused the channel join.
	ErrJoinRejected = errors.New("channel join rejected")

	// ErrReplyError indicates the server replied with error status.
	ErrReplyError = errors.New("error reply")
)

const (
	eventJoin      = "phx_join"
	eventReply     = "phx_reply"
	eventHeartbeat = "heartbeat"

	heartbeatTopic    = "phoenix"
	heartbeatInterval = 30 * time.Second

	joinTimeout = 10 * time.Second
)

// message is the channel wire envelope in both directions.
type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

// replyPayload is the body of a phx_reply.
type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Client is a websocket channel client.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Writes serialize
// under the connection mutex; the read loop is the sole reader.
type Client struct {
	url    string
	dialer *websocket.Dialer
	log    *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	topic   string
	pending map[string]chan replyPayload
	nextRef uint64
	done    chan struct{}
}

// Option customizes a Client.
type Option func(*Client)

// WithDialer replaces the websocket dialer. Tests use this to relax
// the handshake timeout against a local server.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// New builds a disconnected Client for the given socket URL
// (ws:// or wss://).
func New(url string, log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		url:     url,
		dialer:  websocket.DefaultDialer,
		log:     log,
		pending: make(map[string]chan replyPayload),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// Connect dials the socket and joins the channel for the given
// account and user. Connecting while already connected closes the
// previous connection first.
func (c *Client) Connect(ctx context.Context, accountID, userID string) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, http.Header{})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial socket: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial socket: %w", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.closeLocked()
	}
	c.conn = conn
	c.topic = fmt.Sprintf("account:%s:user:%s", accountID, userID)
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.readLoop(conn, done)
	go c.heartbeatLoop(conn, done)

	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()
	if _, err := c.SendEvent(joinCtx, eventJoin, nil); err != nil {
		c.Close()
		if errors.Is(err, ErrReplyError) {
			return ErrJoinRejected
		}
		return fmt.Errorf("join channel: %w", err)
	}

	c.log.Info("socket connected", "topic", c.topic)
	return nil
}

// IsConnected reports whether the socket currently holds a live
// connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SendEvent sends an event on the joined channel and blocks for the
// ref-matched reply, returning the reply's response payload. Fails
// immediately with ErrNotConnected when the socket is down.
func (c *Client) SendEvent(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.nextRef++
	ref := strconv.FormatUint(c.nextRef, 10)
	ch := make(chan replyPayload, 1)
	c.pending[ref] = ch
	msg := message{Topic: c.topic, Event: event, Payload: raw, Ref: ref}
	err := conn.WriteJSON(msg)
	c.mu.Unlock()

	if err != nil {
		c.dropPending(ref)
		return nil, fmt.Errorf("write event: %w", err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if reply.Status != "ok" {
			return nil, fmt.Errorf("%w: %s", ErrReplyError, string(reply.Response))
		}
		return reply.Response, nil
	case <-ctx.Done():
		c.dropPending(ref)
		return nil, ctx.Err()
	}
}

// Close tears down the connection and fails every pending send.
// Safe to call repeatedly.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.conn == nil {
		return
	}
	close(c.done)
	c.conn.Close()
	c.conn = nil
	for ref, ch := range c.pending {
		close(ch)
		delete(c.pending, ref)
	}
}

func (c *Client) dropPending(ref string) {
	c.mu.Lock()
	delete(c.pending, ref)
	c.mu.Unlock()
}

// readLoop is the sole reader for one connection. A read error ends
// the connection and fails all pending sends.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-done:
				// Closed locally.
			default:
				c.log.Info("socket disconnected", "error", err.Error())
				c.mu.Lock()
				if c.conn == conn {
					c.closeLocked()
				}
				c.mu.Unlock()
			}
			return
		}

		if msg.Event != eventReply {
			c.log.Debug("ignoring unsolicited socket event", "event", msg.Event)
			continue
		}

		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			c.log.Warn("malformed socket reply", "ref", msg.Ref, "error", err.Error())
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.Ref]
		if ok {
			delete(c.pending, msg.Ref)
		}
		c.mu.Unlock()
		if !ok {
			c.log.Debug("reply with unknown ref", "ref", msg.Ref)
			continue
		}
		ch <- reply
	}
}

// heartbeatLoop keeps the Phoenix connection alive. Heartbeats use
// the reserved "phoenix" topic and ignore their replies.
func (c *Client) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != conn {
				c.mu.Unlock()
				return
			}
			c.nextRef++
			ref := strconv.FormatUint(c.nextRef, 10)
			ch := make(chan replyPayload, 1)
			c.pending[ref] = ch
			err := conn.WriteJSON(message{Topic: heartbeatTopic, Event: eventHeartbeat, Ref: ref})
			c.mu.Unlock()
			if err != nil {
				c.dropPending(ref)
				return
			}
			// Drain the reply without blocking the loop.
			go func() { <-ch }()
		}
	}
}
