// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/aetros-agent/lib/codec"
	"github.com/bureau-foundation/aetros-agent/lib/netutil"
	"github.com/bureau-foundation/aetros-agent/lib/schema"
)

// eventBufferSize bounds how far the reader can run ahead of the
// control loop before it blocks.
const eventBufferSize = 64

// DefaultWriteTimeout is used when Options.WriteTimeout is zero.
const DefaultWriteTimeout = 10 * time.Second

// CBOR major types, from the top three bits of the initial byte.
const (
	majorArray = 4
	majorMap   = 5
)

// Options configures a Client.
type Options struct {
	// Key is the secure key sent with register_server. Optional.
	Key string

	// Version is the agent build version sent with register_server.
	Version string

	// Instance identifies this agent process to the control plane. A
	// random UUID is generated when empty.
	Instance string

	// WriteTimeout bounds one frame write. A control plane that stops
	// reading for longer loses the connection.
	WriteTimeout time.Duration

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is a registered (or registering) control channel connection.
type Client struct {
	conn     net.Conn
	decoder  *codec.Decoder
	logger   *slog.Logger
	key      string
	version  string
	instance string

	// writeMu serializes frames from the control loop and any other
	// sender.
	writeMu      sync.Mutex
	encoder      *codec.Encoder
	writeTimeout time.Duration

	events chan Event

	// closing is set before an intentional close so the reader does
	// not report the resulting read error as a disconnect.
	closing   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the control plane. network is "tcp" or "unix".
func Dial(ctx context.Context, network, address string, options Options) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("messaging: dialing %s %s: %w", network, address, err)
	}
	return NewClient(conn, options), nil
}

// NewClient wraps an established connection. The client owns conn
// and closes it in [Client.Close].
func NewClient(conn net.Conn, options Options) *Client {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	instance := options.Instance
	if instance == "" {
		instance = uuid.NewString()
	}
	writeTimeout := options.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Client{
		conn:         conn,
		decoder:      codec.NewDecoder(conn),
		encoder:      codec.NewEncoder(conn),
		writeTimeout: writeTimeout,
		logger:       logger.With("instance", instance),
		key:          options.Key,
		version:      options.Version,
		instance:     instance,
		events:       make(chan Event, eventBufferSize),
		done:         make(chan struct{}),
	}
}

// Instance returns the identifier sent with register_server.
func (c *Client) Instance() string {
	return c.instance
}

// Events returns the event stream. It is closed when the reader exits
// after [Client.Register] succeeded.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Register performs the handshake as serverName and blocks until the
// first reply batch arrives or ctx is cancelled. On success the reader
// goroutine is running and [EventRegistration] is the first event. On
// refusal [EventFailed] is emitted, the connection is closed, and the
// returned error wraps [ErrAccessDenied] or [ErrAlreadyRegistered].
func (c *Client) Register(ctx context.Context, serverName string) error {
	if err := c.write(schema.Outbound{
		Type:      schema.MessageRegisterServer,
		Server:    serverName,
		SecureKey: c.key,
		Instance:  c.instance,
		Version:   c.version,
	}); err != nil {
		c.Close()
		return fmt.Errorf("messaging: sending registration: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		c.conn.Close()
	})
	entries, err := c.readEntries()
	if !stop() {
		c.Close()
		return fmt.Errorf("messaging: waiting for registration reply: %w", ctx.Err())
	}
	if err != nil {
		c.Close()
		return fmt.Errorf("messaging: reading registration reply: %w", err)
	}

	// The reply must be the first entry. It is never skipped, or a
	// later message in the batch would stand in for it.
	if len(entries) == 0 || majorType(entries[0]) != majorMap {
		c.Close()
		return fmt.Errorf("%w: registration reply is not a message", ErrProtocol)
	}
	var reply schema.Inbound
	if err := codec.Unmarshal(entries[0], &reply); err != nil {
		c.Close()
		return fmt.Errorf("%w: decoding registration reply: %v", ErrProtocol, err)
	}

	switch reply.A {
	case schema.AckRegistered:
		c.logger.Info("registered with control plane", "server", serverName)
		c.events <- Event{Kind: EventRegistration}
		go c.readLoop(c.decodeEntries(entries[1:]))
		return nil
	case schema.AckRegistrationFailed:
		return c.refuse(fmt.Errorf("%w: server %q", ErrAccessDenied, serverName))
	case schema.AckAlreadyRegistered:
		return c.refuse(fmt.Errorf("%w: server %q", ErrAlreadyRegistered, serverName))
	default:
		c.Close()
		return fmt.Errorf("%w: unexpected registration reply %q", ErrProtocol, reply.A)
	}
}

func (c *Client) refuse(err error) error {
	c.events <- Event{Kind: EventFailed, Err: err}
	c.Close()
	return err
}

// Send writes one message as a batch of one. Failures are logged and
// otherwise ignored: a broken connection surfaces as
// [EventDisconnected] from the reader. A write that times out may have
// left a partial frame, so the connection is dropped.
func (c *Client) Send(message schema.Outbound) {
	err := c.write(message)
	if err == nil || c.closing.Load() {
		return
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		c.logger.Error("control plane stopped reading, dropping connection",
			"type", message.Type,
			"timeout", c.writeTimeout,
		)
		c.conn.Close()
		return
	}
	c.logger.Warn("sending message failed", "type", message.Type, "error", err)
}

func (c *Client) write(message schema.Outbound) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.encoder.Encode([]schema.Outbound{message})
}

// Close closes the connection. The reader exits without emitting
// [EventDisconnected]. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// readLoop dispatches pending, the remainder of the registration
// batch, then every later batch until the connection ends.
func (c *Client) readLoop(pending []schema.Inbound) {
	defer close(c.events)

	if c.dispatch(pending) {
		return
	}
	for {
		batch, err := c.readBatch()
		if err != nil {
			if c.closing.Load() {
				return
			}
			if netutil.IsExpectedCloseError(err) {
				c.logger.Info("control plane closed the connection")
			} else {
				c.logger.Error("reading from control plane failed", "error", err)
			}
			c.emit(Event{Kind: EventDisconnected, Err: fmt.Errorf("messaging: connection lost: %w", err)})
			c.Close()
			return
		}
		if c.dispatch(batch) {
			return
		}
	}
}

// dispatch turns one batch into events. It reports true when a stop
// message closed the connection.
func (c *Client) dispatch(batch []schema.Inbound) bool {
	for _, message := range batch {
		if message.Stop {
			c.logger.Info("control plane requested stop")
			c.closing.Store(true)
			c.conn.Close()
			c.emit(Event{Kind: EventStop})
			c.Close()
			return true
		}
		switch message.Type {
		case schema.MessageStartJobs:
			c.emit(Event{Kind: EventStartJobs, Jobs: message.Jobs})
		case schema.MessageStopJob:
			c.emit(Event{Kind: EventStopJob, JobID: message.ID})
		case "":
		default:
			c.logger.Debug("ignoring message", "type", message.Type)
		}
	}
	return false
}

// emit delivers an event unless the client has been closed by its
// owner, who is then no longer reading.
func (c *Client) emit(event Event) {
	select {
	case c.events <- event:
	case <-c.done:
	}
}

// readBatch reads one frame and decodes it into messages.
func (c *Client) readBatch() ([]schema.Inbound, error) {
	entries, err := c.readEntries()
	if err != nil {
		return nil, err
	}
	return c.decodeEntries(entries), nil
}

// readEntries reads one frame and splits it into raw entries. A bare
// value is a batch of one.
func (c *Client) readEntries() ([]codec.RawMessage, error) {
	var frame codec.RawMessage
	if err := c.decoder.Decode(&frame); err != nil {
		return nil, err
	}
	if majorType(frame) != majorArray {
		return []codec.RawMessage{frame}, nil
	}
	var entries []codec.RawMessage
	if err := codec.Unmarshal(frame, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return entries, nil
}

// decodeEntries turns raw entries into messages. A non-map entry ends
// the batch; a map that does not decode as a message is logged and
// skipped.
func (c *Client) decodeEntries(entries []codec.RawMessage) []schema.Inbound {
	var batch []schema.Inbound
	for _, entry := range entries {
		if majorType(entry) != majorMap {
			c.logBadEntry("non-map entry ends batch", entry, nil)
			break
		}
		var keys map[string]codec.RawMessage
		if err := codec.Unmarshal(entry, &keys); err != nil {
			c.logBadEntry("non-map entry ends batch", entry, err)
			break
		}
		var message schema.Inbound
		if err := codec.Unmarshal(entry, &message); err != nil {
			c.logBadEntry("skipping undecodable message", entry, err)
			continue
		}
		_, message.Stop = keys["stop"]
		batch = append(batch, message)
	}
	return batch
}

func (c *Client) logBadEntry(reason string, entry codec.RawMessage, err error) {
	diagnostic, diagErr := codec.Diagnose(entry)
	if diagErr != nil {
		diagnostic = fmt.Sprintf("%x", []byte(entry))
	}
	attrs := []any{"entry", diagnostic}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	c.logger.Warn(reason, attrs...)
}

func majorType(raw codec.RawMessage) int {
	if len(raw) == 0 {
		return -1
	}
	return int(raw[0] >> 5)
}
