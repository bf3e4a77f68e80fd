package adapter_test

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shopfloor/mtcagent/internal/adapter"
)

type captureSink struct {
	mu    sync.Mutex
	lines []string
	ch    chan string
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan string, 64)}
}

func (s *captureSink) Ingest(deviceUUID, line string) {
	s.mu.Lock()
	s.lines = append(s.lines, deviceUUID+"|"+line)
	s.mu.Unlock()
	s.ch <- line
}

func (s *captureSink) wait(t *testing.T) string {
	t.Helper()
	select {
	case line := <-s.ch:
		return line
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a line")
		return ""
	}
}

func pipeDialer(conns chan net.Conn) adapter.Dialer {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		client, server := net.Pipe()
		conns <- server
		return client, nil
	}
}

func newClient(t *testing.T, sink adapter.Sink, dialer adapter.Dialer) *adapter.Client {
	t.Helper()
	c, err := adapter.NewClient(&adapter.Config{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Address:        "adapter:7878",
		DeviceUUID:     "dev-uuid-1",
		Sink:           sink,
		Dialer:         dialer,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestAdapter_Client(t *testing.T) {
	t.Parallel()

	t.Run("delivers lines to the sink", func(t *testing.T) {
		t.Parallel()
		sink := newCaptureSink()
		conns := make(chan net.Conn, 1)
		client := newClient(t, sink, pipeDialer(conns))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = client.Run(ctx) }()

		server := <-conns
		_, err := server.Write([]byte("2024-01-15T10:00:00Z|avail|AVAILABLE\n"))
		require.NoError(t, err)

		require.Equal(t, "2024-01-15T10:00:00Z|avail|AVAILABLE", sink.wait(t))
	})

	t.Run("empty lines are skipped", func(t *testing.T) {
		t.Parallel()
		sink := newCaptureSink()
		conns := make(chan net.Conn, 1)
		client := newClient(t, sink, pipeDialer(conns))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = client.Run(ctx) }()

		server := <-conns
		_, err := server.Write([]byte("\n\n2024-01-15T10:00:00Z|mode|AUTO\n"))
		require.NoError(t, err)

		require.Equal(t, "2024-01-15T10:00:00Z|mode|AUTO", sink.wait(t))
	})

	t.Run("answers pings with pongs", func(t *testing.T) {
		t.Parallel()
		sink := newCaptureSink()
		conns := make(chan net.Conn, 1)
		client := newClient(t, sink, pipeDialer(conns))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = client.Run(ctx) }()

		server := <-conns
		_, err := server.Write([]byte("* PING\n"))
		require.NoError(t, err)

		reply, err := bufio.NewReader(server).ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "* PONG 10000\n", reply)
	})

	t.Run("reconnects after the connection drops", func(t *testing.T) {
		t.Parallel()
		sink := newCaptureSink()
		conns := make(chan net.Conn, 2)
		client := newClient(t, sink, pipeDialer(conns))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = client.Run(ctx) }()

		first := <-conns
		require.NoError(t, first.Close())

		second := <-conns
		_, err := second.Write([]byte("2024-01-15T10:00:00Z|avail|AVAILABLE\n"))
		require.NoError(t, err)
		require.Equal(t, "2024-01-15T10:00:00Z|avail|AVAILABLE", sink.wait(t))
	})

	t.Run("stops when the context is canceled", func(t *testing.T) {
		t.Parallel()
		sink := newCaptureSink()
		conns := make(chan net.Conn, 1)
		client := newClient(t, sink, pipeDialer(conns))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- client.Run(ctx) }()

		<-conns
		cancel()

		select {
		case err := <-done:
			require.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal("client did not stop")
		}
	})
}
