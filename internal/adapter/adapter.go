// Package adapter maintains the TCP connection to one SHDR adapter,
// delivering received lines to the agent's ingest point and reconnecting
// with backoff when the connection drops.
package adapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shopfloor/mtcagent/internal/metrics"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = time.Minute
	defaultReadTimeout    = 60 * time.Second

	// Adapters can send very long lines (asset XML bodies).
	maxLineBytes = 4 * 1024 * 1024

	// Heartbeat timeout advertised in PONG replies, in milliseconds.
	pongTimeout = 10000
)

// Sink receives SHDR lines tagged with the originating device uuid.
// Implemented by agent.Agent.
type Sink interface {
	Ingest(deviceUUID, line string)
}

// Dialer creates network connections; overridable in tests.
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

type Config struct {
	Logger *slog.Logger

	// Address is the adapter's host:port.
	Address string

	// DeviceUUID tags every line this adapter delivers.
	DeviceUUID string

	Sink Sink

	// Optional with defaults.
	Dialer         Dialer
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ReadTimeout    time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Address == "" {
		return errors.New("address is required")
	}
	if c.DeviceUUID == "" {
		return errors.New("device uuid is required")
	}
	if c.Sink == nil {
		return errors.New("sink is required")
	}
	if c.Dialer == nil {
		c.Dialer = func(ctx context.Context, network, address string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, network, address)
		}
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	return nil
}

type Client struct {
	log *slog.Logger
	cfg *Config
}

func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Client{log: cfg.Logger.With("adapter", cfg.Address, "device", cfg.DeviceUUID), cfg: cfg}, nil
}

// Run connects and consumes lines until the context is canceled,
// reconnecting with exponential backoff after every drop.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.MaxElapsedTime = 0

	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.AdapterReconnects.WithLabelValues(c.cfg.DeviceUUID).Inc()
		wait := bo.NextBackOff()
		c.log.Warn("adapter connection lost, reconnecting", "error", err, "backoff", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) consume(ctx context.Context) error {
	conn, err := c.cfg.Dialer(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to dial adapter: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	c.log.Info("adapter connected")
	metrics.AdaptersConnected.Inc()
	defer metrics.AdaptersConnected.Dec()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "* ") {
			if err := c.handleProtocolLine(conn, line); err != nil {
				return err
			}
			continue
		}
		metrics.AdapterLines.WithLabelValues(c.cfg.DeviceUUID).Inc()
		c.cfg.Sink.Ingest(c.cfg.DeviceUUID, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("adapter read failed: %w", err)
	}
	return errors.New("adapter closed the connection")
}

// handleProtocolLine answers adapter heartbeats; other meta lines are
// ignored.
func (c *Client) handleProtocolLine(conn net.Conn, line string) error {
	if strings.HasPrefix(line, "* PING") {
		if _, err := fmt.Fprintf(conn, "* PONG %d\n", pongTimeout); err != nil {
			return fmt.Errorf("failed to answer ping: %w", err)
		}
	}
	return nil
}
