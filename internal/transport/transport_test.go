package transport

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fbettag/apsteer/internal/report"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func runServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoSigs: true, NoLog: true})
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

type inbox struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (i *inbox) add(data []byte) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, data)
}

func (i *inbox) len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.msgs)
}

func (i *inbox) last() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.msgs[len(i.msgs)-1]
}

func (i *inbox) first() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.msgs[0]
}

// waitDelivered publishes until the subscriber has seen at least one message,
// since subscription setup is asynchronous.
func waitDelivered(t *testing.T, bus Bus, subject string, data []byte, box *inbox) {
	t.Helper()
	require.Eventually(t, func() bool {
		_ = bus.Publish(context.Background(), subject, data)
		return box.len() > 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNATSBus(t *testing.T) {
	srv := runServer(t)

	t.Run("broadcast to every subscriber", func(t *testing.T) {
		pub, err := Connect(srv.ClientURL(), "pub", quietLogger())
		require.NoError(t, err)
		defer pub.Close()
		sub, err := Connect(srv.ClientURL(), "sub", quietLogger())
		require.NoError(t, err)
		defer sub.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var a, b inbox
		done := make(chan error, 2)
		go func() { done <- sub.Subscribe(ctx, SubjectMigrations, a.add) }()
		go func() { done <- sub.Subscribe(ctx, SubjectMigrations, b.add) }()

		waitDelivered(t, pub, SubjectMigrations, []byte("hello"), &a)
		waitDelivered(t, pub, SubjectMigrations, []byte("hello"), &b)
		assert.Equal(t, []byte("hello"), a.first())
		assert.Equal(t, []byte("hello"), b.first())

		cancel()
		assert.NoError(t, <-done)
		assert.NoError(t, <-done)
	})

	t.Run("close flushes pending publishes", func(t *testing.T) {
		pub, err := Connect(srv.ClientURL(), "flushing", quietLogger())
		require.NoError(t, err)
		sub, err := Connect(srv.ClientURL(), "receiver", quietLogger())
		require.NoError(t, err)
		defer sub.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var box inbox
		go func() { _ = sub.Subscribe(ctx, SubjectMigrations, box.add) }()
		waitDelivered(t, pub, SubjectMigrations, []byte("warmup"), &box)

		require.NoError(t, pub.Publish(ctx, SubjectMigrations, []byte("final")))
		require.NoError(t, pub.Close())

		require.Eventually(t, func() bool {
			return box.len() > 0 && string(box.last()) == "final"
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("subscription fails when connection closes", func(t *testing.T) {
		bus, err := Connect(srv.ClientURL(), "closing", quietLogger(), nats.NoReconnect())
		require.NoError(t, err)

		var box inbox
		done := make(chan error, 1)
		go func() { done <- bus.Subscribe(context.Background(), SubjectStatistics, box.add) }()
		waitDelivered(t, bus, SubjectStatistics, []byte("x"), &box)

		require.NoError(t, bus.Close())

		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(5 * time.Second):
			t.Fatal("subscribe did not return after close")
		}

		assert.ErrorIs(t, bus.Publish(context.Background(), SubjectStatistics, []byte("y")), ErrClosed)
	})

	t.Run("connect fails without server", func(t *testing.T) {
		_, err := Connect("nats://127.0.0.1:1", "none", quietLogger(), nats.NoReconnect())
		assert.Error(t, err)
	})
}

func TestMemoryBus(t *testing.T) {
	t.Run("fan out and unsubscribe on cancel", func(t *testing.T) {
		bus := NewMemoryBus(8)
		defer bus.Close()

		ctx, cancel := context.WithCancel(context.Background())
		var a, b inbox
		done := make(chan error, 2)
		go func() { done <- bus.Subscribe(ctx, "s", a.add) }()
		go func() { done <- bus.Subscribe(ctx, "s", b.add) }()
		require.Eventually(t, func() bool { return bus.subscribers("s") == 2 }, time.Second, 5*time.Millisecond)

		require.NoError(t, bus.Publish(context.Background(), "s", []byte("m")))
		require.NoError(t, bus.Publish(context.Background(), "other", []byte("ignored")))
		require.Eventually(t, func() bool { return a.len() == 1 && b.len() == 1 }, time.Second, 5*time.Millisecond)

		cancel()
		assert.NoError(t, <-done)
		assert.NoError(t, <-done)
		assert.Equal(t, 0, bus.subscribers("s"))
	})

	t.Run("publish without subscribers is not an error", func(t *testing.T) {
		bus := NewMemoryBus(1)
		assert.NoError(t, bus.Publish(context.Background(), "s", []byte("m")))
	})

	t.Run("close ends subscriptions", func(t *testing.T) {
		bus := NewMemoryBus(1)
		done := make(chan error, 1)
		go func() { done <- bus.Subscribe(context.Background(), "s", func([]byte) {}) }()
		require.Eventually(t, func() bool { return bus.subscribers("s") == 1 }, time.Second, 5*time.Millisecond)

		require.NoError(t, bus.Close())
		assert.ErrorIs(t, <-done, ErrClosed)
		assert.ErrorIs(t, bus.Publish(context.Background(), "s", nil), ErrClosed)
		assert.ErrorIs(t, bus.Subscribe(context.Background(), "s", func([]byte) {}), ErrClosed)
	})

	t.Run("full queue drops", func(t *testing.T) {
		bus := NewMemoryBus(1)
		defer bus.Close()

		release := make(chan struct{})
		var box inbox
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			_ = bus.Subscribe(ctx, "s", func(data []byte) {
				box.add(data)
				<-release
			})
		}()
		require.Eventually(t, func() bool { return bus.subscribers("s") == 1 }, time.Second, 5*time.Millisecond)

		require.NoError(t, bus.Publish(ctx, "s", []byte("1")))
		require.Eventually(t, func() bool { return box.len() == 1 }, time.Second, 5*time.Millisecond)
		for i := 0; i < 5; i++ {
			require.NoError(t, bus.Publish(ctx, "s", []byte("n")))
		}
		close(release)
		require.Eventually(t, func() bool { return box.len() == 2 }, time.Second, 5*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 2, box.len())
	})
}

func TestTypedMessages(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan report.Decision, 1)
	go func() {
		_ = SubscribeDecisions(ctx, bus, quietLogger(), func(d report.Decision) { got <- d })
	}()
	require.Eventually(t, func() bool { return bus.subscribers(SubjectMigrations) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, SubjectMigrations, []byte("{not json")))
	require.NoError(t, PublishDecision(ctx, bus, report.Decision{StationName: "sta1", TargetSSID: "ssid-ap2"}))

	select {
	case d := <-got:
		assert.Equal(t, "sta1", d.StationName)
		assert.Equal(t, "ssid-ap2", d.TargetSSID)
	case <-time.After(time.Second):
		t.Fatal("decision not delivered")
	}
}
