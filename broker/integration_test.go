//go:build integration

// These tests assume a local NATS JetStream server reachable at NATS_URL
// (default nats://localhost:4222), the same split the reference
// microservices use between fast unit tests and opt-in integration suites
// that exercise a real broker.
package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fleetmesh/eventbus/envelope"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := Connect(ctx, Config{ServiceName: "broker-test"}, testLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	mgr := NewStreamManager(session, testLogger())
	require.NoError(t, mgr.EnsureStream(ctx, DefaultStreamSpec()))

	return session
}

func TestStreamEnsureIsIdempotent(t *testing.T) {
	session := newTestSession(t)
	mgr := NewStreamManager(session, testLogger())

	ctx := context.Background()
	require.NoError(t, mgr.EnsureStream(ctx, DefaultStreamSpec()))
	require.NoError(t, mgr.EnsureStream(ctx, DefaultStreamSpec()))
}

func TestPublishWritesDerivedSubject(t *testing.T) {
	session := newTestSession(t)
	pub := NewPublisher(session, testLogger(), nil)
	engine := NewSubscriptionEngine(session, testLogger(), nil)

	received := make(chan envelope.Envelope, 1)
	handle, err := engine.Subscribe(context.Background(), "payment_service.payment.*", Ephemeral(),
		func(_ context.Context, e envelope.Envelope) error {
			received <- e
			return nil
		})
	require.NoError(t, err)
	defer handle.Close()

	e := envelope.New("payment.completed", "payment_service", map[string]interface{}{"amount": 100}, nil, nil)
	require.True(t, pub.Publish(context.Background(), e))

	select {
	case got := <-received:
		require.Equal(t, "events.payment_service.payment.completed", got.SubjectString())
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestPatternFanOutToIndependentSubscribers(t *testing.T) {
	session := newTestSession(t)
	pub := NewPublisher(session, testLogger(), nil)
	engine := NewSubscriptionEngine(session, testLogger(), nil)

	var count int32
	var wg sync.WaitGroup
	wg.Add(3)

	for i := 0; i < 3; i++ {
		handle, err := engine.Subscribe(context.Background(), "*.payment.completed", Ephemeral(),
			func(_ context.Context, _ envelope.Envelope) error {
				atomic.AddInt32(&count, 1)
				wg.Done()
				return nil
			})
		require.NoError(t, err)
		defer handle.Close()
	}

	e := envelope.New("payment.completed", "payment_service", nil, nil, nil)
	require.True(t, pub.Publish(context.Background(), e))

	waitOrTimeout(t, &wg, 3*time.Second)
	require.EqualValues(t, 3, atomic.LoadInt32(&count))
}

func TestWildcardAuditReceivesEveryEvent(t *testing.T) {
	session := newTestSession(t)
	pub := NewPublisher(session, testLogger(), nil)
	engine := NewSubscriptionEngine(session, testLogger(), nil)

	var mu sync.Mutex
	var types []string
	var wg sync.WaitGroup
	wg.Add(3)

	handle, err := engine.Subscribe(context.Background(), ">", Ephemeral(),
		func(_ context.Context, e envelope.Envelope) error {
			mu.Lock()
			types = append(types, e.Type)
			mu.Unlock()
			wg.Done()
			return nil
		})
	require.NoError(t, err)
	defer handle.Close()

	require.True(t, pub.Publish(context.Background(), envelope.New("payment.completed", "payment_service", nil, nil, nil)))
	require.True(t, pub.Publish(context.Background(), envelope.New("file.uploaded", "storage_service", nil, nil, nil)))
	require.True(t, pub.Publish(context.Background(), envelope.New("device.online", "device_service", nil, nil, nil)))

	waitOrTimeout(t, &wg, 3*time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, types, 3)
}

func TestCascadeSubscriptionFanOutIndependentDurables(t *testing.T) {
	session := newTestSession(t)
	pub := NewPublisher(session, testLogger(), nil)
	engine := NewSubscriptionEngine(session, testLogger(), nil)

	consumers := []string{"wallet-user-deleted", "calendar-user-deleted", "authorization-user-deleted"}
	var wg sync.WaitGroup
	wg.Add(len(consumers))

	for _, name := range consumers {
		handle, err := engine.Subscribe(context.Background(), "account_service.user.deleted", Durable(name),
			func(_ context.Context, _ envelope.Envelope) error {
				wg.Done()
				return nil
			})
		require.NoError(t, err)
		defer handle.Close()
		require.True(t, handle.Durable())
	}

	e := envelope.New("user.deleted", "account_service", map[string]interface{}{"user_id": "u42"}, nil, nil)
	require.True(t, pub.Publish(context.Background(), e))

	waitOrTimeout(t, &wg, 3*time.Second)
}

func TestHandlerFailureAutoAcksAndDoesNotRedeliverWithoutManualAck(t *testing.T) {
	session := newTestSession(t)
	pub := NewPublisher(session, testLogger(), nil)
	engine := NewSubscriptionEngine(session, testLogger(), nil)

	var invocations int32
	handle, err := engine.Subscribe(context.Background(), "order_service.order.created", Ephemeral(),
		func(_ context.Context, _ envelope.Envelope) error {
			atomic.AddInt32(&invocations, 1)
			return errAlwaysFails
		})
	require.NoError(t, err)
	defer handle.Close()

	e := envelope.New("order.created", "order_service", nil, nil, nil)
	require.True(t, pub.Publish(context.Background(), e))

	time.Sleep(1 * time.Second)
	require.EqualValues(t, 1, atomic.LoadInt32(&invocations))
}

func TestDuplicateWindowSuppressesSecondDeliveryOfSameID(t *testing.T) {
	session := newTestSession(t)
	mgr := NewStreamManager(session, testLogger())

	shortWindow := DefaultStreamSpec()
	shortWindow.DuplicateWindow = 2 * time.Second
	require.NoError(t, mgr.EnsureStream(context.Background(), shortWindow))

	pub := NewPublisher(session, testLogger(), nil)
	engine := NewSubscriptionEngine(session, testLogger(), nil)

	var deliveries int32
	handle, err := engine.Subscribe(context.Background(), "dedup_service.probe.duplicated", Ephemeral(),
		func(_ context.Context, _ envelope.Envelope) error {
			atomic.AddInt32(&deliveries, 1)
			return nil
		})
	require.NoError(t, err)
	defer handle.Close()

	e := envelope.New("probe.duplicated", "dedup_service", nil, nil, nil)
	require.True(t, pub.Publish(context.Background(), e))
	require.True(t, pub.Publish(context.Background(), e))

	time.Sleep(1 * time.Second)
	require.EqualValues(t, 1, atomic.LoadInt32(&deliveries))
}

func TestDeliverNewSkipsMessagesPublishedBeforeSubscription(t *testing.T) {
	session := newTestSession(t)
	pub := NewPublisher(session, testLogger(), nil)
	engine := NewSubscriptionEngine(session, testLogger(), nil)

	pattern := "delivery_policy_service.probe.created"
	require.True(t, pub.Publish(context.Background(), envelope.New("probe.created", "delivery_policy_service",
		map[string]interface{}{"seq": 1}, nil, nil)))
	require.True(t, pub.Publish(context.Background(), envelope.New("probe.created", "delivery_policy_service",
		map[string]interface{}{"seq": 2}, nil, nil)))

	time.Sleep(200 * time.Millisecond)

	received := make(chan envelope.Envelope, 4)
	handle, err := engine.Subscribe(context.Background(), pattern, Ephemeral(),
		func(_ context.Context, e envelope.Envelope) error {
			received <- e
			return nil
		})
	require.NoError(t, err)
	defer handle.Close()

	require.True(t, pub.Publish(context.Background(), envelope.New("probe.created", "delivery_policy_service",
		map[string]interface{}{"seq": 3}, nil, nil)))

	select {
	case got := <-received:
		require.EqualValues(t, 3, got.Data["seq"])
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for post-subscription delivery")
	}

	select {
	case got := <-received:
		t.Fatalf("received unexpected pre-subscription message: %v", got.Data)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestOrderingWithinSourceAndTypeIsPreserved(t *testing.T) {
	session := newTestSession(t)
	pub := NewPublisher(session, testLogger(), nil)
	engine := NewSubscriptionEngine(session, testLogger(), nil)

	received := make(chan string, 3)
	handle, err := engine.Subscribe(context.Background(), "ordering_service.probe.sequenced", Ephemeral(),
		func(_ context.Context, e envelope.Envelope) error {
			received <- e.Data["label"].(string)
			return nil
		})
	require.NoError(t, err)
	defer handle.Close()

	for _, label := range []string{"X", "Y", "Z"} {
		e := envelope.New("probe.sequenced", "ordering_service", map[string]interface{}{"label": label}, nil, nil)
		require.True(t, pub.Publish(context.Background(), e))
	}

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case label := <-received:
			got = append(got, label)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for delivery %d", i+1)
		}
	}
	require.Equal(t, []string{"X", "Y", "Z"}, got)
}

func TestDegradedModeConnectFailureReturnsError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, Config{
		ServiceName:    "unreachable-test",
		URL:            "nats://127.0.0.1:1",
		ConnectTimeout: 500 * time.Millisecond,
		MaxReconnects:  NeverReconnect(),
	}, testLogger(), nil)

	require.Error(t, err)
	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
}

var errAlwaysFails = &alwaysFailsError{}

type alwaysFailsError struct{}

func (e *alwaysFailsError) Error() string { return "handler intentionally failed" }

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for expected deliveries")
	}
}
