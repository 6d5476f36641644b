package servers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-calendar/pkg/messaging"
)

type closeCounter struct {
	mu     sync.Mutex
	closed int
}

func (c *closeCounter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed++
}

type fakeSubscriber struct {
	mu           sync.Mutex
	subscribeErr error
	drainErr     error
	handler      messaging.Handler
	subject      string
	queue        string
	drained      bool
}

func (f *fakeSubscriber) Subscribe(_ context.Context, subject string, queue string, handler messaging.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subject, f.queue, f.handler = subject, queue, handler

	return f.subscribeErr
}

func (f *fakeSubscriber) registered() messaging.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.handler
}

func (f *fakeSubscriber) Drain() error {
	f.drained = true
	return f.drainErr
}

func runAsync(ctx context.Context, run func(ctx context.Context) error) chan error {
	done := make(chan error, 1)

	go func() { done <- run(ctx) }()

	return done
}

func TestBaseServer_StopClosesResources(t *testing.T) {
	t.Parallel()

	first, second := &closeCounter{}, &closeCounter{}
	name, server := BuildBaseServer(first, second)
	assert.Equal(t, "base-server", name)

	done := runAsync(context.Background(), server.Run)

	require.NoError(t, server.Stop(context.Background()))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("base server did not return after stop")
	}

	assert.Equal(t, 1, first.closed)
	assert.Equal(t, 1, second.closed)
}

func TestHttpServer_RunAndStop(t *testing.T) {
	t.Parallel()

	name, server := BuildHttpServer("rest", &http.Server{Addr: "127.0.0.1:0", ReadHeaderTimeout: time.Second})
	assert.Equal(t, "rest-server", name)

	done := runAsync(context.Background(), server.Run)

	// give ListenAndServe a moment to bind
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, server.Stop(context.Background()))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("http server did not return after stop")
	}
}

func TestHttpServer_RunFails(t *testing.T) {
	t.Parallel()

	_, server := BuildHttpServer("rest", &http.Server{Addr: "not-an-address", ReadHeaderTimeout: time.Second})

	err := server.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server rest-server failed to start")
	require.ErrorIs(t, err, ErrStart)
}

func TestNatsServer_SubscribesAndDrains(t *testing.T) {
	t.Parallel()

	subscriber := &fakeSubscriber{}
	handled := make(chan string, 1)

	handler := func(_ context.Context, subject string, _ []byte) (any, error) {
		handled <- subject
		return map[string]string{"status": "created"}, nil
	}

	name, server := BuildNatsServer(subscriber, messaging.SubjectIngestRequested, "agent-calendar", handler)
	assert.Equal(t, "nats-server", name)

	done := runAsync(context.Background(), server.Run)

	require.Eventually(t, func() bool { return subscriber.registered() != nil }, time.Second, 10*time.Millisecond)
	assert.Equal(t, messaging.SubjectIngestRequested, subscriber.subject)
	assert.Equal(t, "agent-calendar", subscriber.queue)

	result, err := subscriber.registered()(context.Background(), messaging.SubjectIngestRequested, []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"status": "created"}, result)
	assert.Equal(t, messaging.SubjectIngestRequested, <-handled)

	require.NoError(t, server.Stop(context.Background()))
	assert.True(t, subscriber.drained)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("nats server did not return after stop")
	}
}

func TestNatsServer_Errors(t *testing.T) {
	t.Parallel()

	_, server := BuildNatsServer(&fakeSubscriber{subscribeErr: errors.New("not connected")}, "s", "q", nil)

	err := server.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server nats-server failed to start")
	require.ErrorIs(t, err, ErrStart)

	_, server = BuildNatsServer(&fakeSubscriber{drainErr: errors.New("closed")}, "s", "q", nil)

	err = server.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server nats-server failed to stop")
	require.ErrorIs(t, err, ErrStop)
}
