// Package client speaks the client half of the roster protocol over a
// blocking TCP connection: one handshake, then request/response pairs.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/rosterd/internal/protocol"
	"github.com/danmuck/rosterd/internal/protocol/option"
	"github.com/danmuck/rosterd/internal/protocol/record"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired   = errors.New("client: address required")
	ErrHandshakeRejected = errors.New("client: handshake rejected")
	ErrClosed            = errors.New("client: connection closed")
)

const DefaultMaxResponseBytes = 64 * 1024 * 1024

type Config struct {
	Address          string
	Version          uint16
	ConnectTimeout   time.Duration
	IOTimeout        time.Duration
	MaxResponseBytes uint32
}

func DefaultConfig() Config {
	return Config{
		Version:          1,
		ConnectTimeout:   5 * time.Second,
		IOTimeout:        10 * time.Second,
		MaxResponseBytes: DefaultMaxResponseBytes,
	}
}

// RejectedError carries the verdict of a refused handshake.
type RejectedError struct {
	Flag protocol.HandshakeFlag
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrHandshakeRejected, e.Flag)
}

func (e *RejectedError) Unwrap() error { return ErrHandshakeRejected }

// Result is the decoded answer to one request.
type Result struct {
	// NotFound is set when an update or delete named no employee.
	NotFound  bool
	Employees []record.Employee
}

// Client is one handshaken session. Requests are serialised.
type Client struct {
	cfg  Config
	conn net.Conn
	rd   *bufio.Reader

	mu     sync.Mutex
	closed bool
}

// Dial connects to cfg.Address and completes the handshake at cfg.Version.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	if cfg.MaxResponseBytes == 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", cfg.Address, err)
	}
	c := &Client{cfg: cfg, conn: conn, rd: bufio.NewReader(conn)}
	if err := c.handshake(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Debug().Str("addr", cfg.Address).Uint16("version", cfg.Version).Msg("handshake accepted")
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	c.setDeadline(ctx)
	if err := protocol.WriteAll(c.conn, protocol.EncodeHandshakeRequest(protocol.HandshakeRequest{Version: c.cfg.Version})); err != nil {
		return fmt.Errorf("client: send handshake: %w", err)
	}
	resp, err := protocol.ReadHandshakeResponse(c.rd)
	if err != nil {
		return fmt.Errorf("client: read handshake: %w", err)
	}
	if !resp.Accepted() {
		return &RejectedError{Flag: resp.Flag}
	}
	return nil
}

// Do sends req and waits for its response. A frame the server answers with
// invalid-request yields protocol.ErrInvalidRequest.
func (c *Client) Do(ctx context.Context, req option.Request) (Result, error) {
	payload, err := option.Encode(req)
	if err != nil {
		return Result{}, err
	}
	frame, err := protocol.EncodeDBRequest(payload)
	if err != nil {
		return Result{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Result{}, ErrClosed
	}
	c.setDeadline(ctx)
	if err := protocol.WriteAll(c.conn, frame); err != nil {
		return Result{}, fmt.Errorf("client: send request: %w", err)
	}
	resp, err := protocol.ReadDBResponse(c.rd, c.cfg.MaxResponseBytes)
	if err != nil {
		return Result{}, fmt.Errorf("client: read response: %w", err)
	}

	res := Result{NotFound: resp.Status == protocol.StatusNotFound}
	if len(resp.Data) > 0 {
		res.Employees, err = record.DecodeAll(resp.Data)
		if err != nil {
			return Result{}, fmt.Errorf("client: decode list: %w", err)
		}
	}
	return res, nil
}

func (c *Client) Add(ctx context.Context, e record.Employee) error {
	_, err := c.Do(ctx, option.Request{Add: &e})
	return err
}

// Update reports false when no employee is named name.
func (c *Client) Update(ctx context.Context, name string, hours uint32) (bool, error) {
	res, err := c.Do(ctx, option.Request{Update: &option.Update{Name: name, Hours: hours}})
	return err == nil && !res.NotFound, err
}

// Delete reports false when no employee is named name.
func (c *Client) Delete(ctx context.Context, name string) (bool, error) {
	res, err := c.Do(ctx, option.Request{Delete: &option.Delete{Name: name}})
	return err == nil && !res.NotFound, err
}

func (c *Client) List(ctx context.Context) ([]record.Employee, error) {
	res, err := c.Do(ctx, option.Request{List: true})
	return res.Employees, err
}

// Conn exposes the raw connection for callers that need to write frames by hand.
func (c *Client) Conn() net.Conn { return c.conn }

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *Client) setDeadline(ctx context.Context) {
	var deadline time.Time
	if c.cfg.IOTimeout > 0 {
		deadline = time.Now().Add(c.cfg.IOTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)
}
