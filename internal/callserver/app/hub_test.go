package app_test

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dublintech/callbridge/internal/callserver/app"
	"github.com/dublintech/callbridge/internal/callserver/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func event(sid string) domain.CallArrivalEvent {
	return domain.CallArrivalEvent{
		FromNumber:   "+353851234567",
		CallSid:      sid,
		TimestampUTC: time.Now().UTC(),
	}
}

func TestHub_PublishDeliversToAllSubscribersInOrder(t *testing.T) {
	hub := app.NewHub(testLogger(), 8)

	subA := hub.Join("conn-a", "")
	subB := hub.Join("conn-b", "operators")

	hub.Publish(event("CA1"))
	hub.Publish(event("CA2"))
	hub.Publish(event("CA3"))

	for _, sub := range []*app.Subscriber{subA, subB} {
		for i, want := range []string{"CA1", "CA2", "CA3"} {
			select {
			case got := <-sub.C():
				assert.Equal(t, want, got.CallSid, "subscriber %s event %d", sub.ID(), i)
			case <-time.After(time.Second):
				t.Fatalf("subscriber %s: timed out waiting for event %d", sub.ID(), i)
			}
		}
	}
}

func TestHub_JoinThenLeaveReceivesNothing(t *testing.T) {
	hub := app.NewHub(testLogger(), 8)

	sub := hub.Join("conn-a", "")
	hub.Leave("conn-a")
	hub.Publish(event("CA1"))

	_, open := <-sub.C()
	assert.False(t, open, "channel of a removed subscriber should be closed without deliveries")
	assert.Equal(t, 0, hub.Len())
}

func TestHub_LeaveIsIdempotentAndSafeOnUnknownID(t *testing.T) {
	hub := app.NewHub(testLogger(), 8)

	hub.Leave("never-joined")
	hub.Join("conn-a", "")
	hub.Leave("conn-a")
	hub.Leave("conn-a")
	assert.Equal(t, 0, hub.Len())
}

func TestHub_RejoinReplacesPreviousSubscriber(t *testing.T) {
	hub := app.NewHub(testLogger(), 8)

	old := hub.Join("conn-a", "")
	fresh := hub.Join("conn-a", "")
	require.Equal(t, 1, hub.Len())

	hub.Publish(event("CA1"))

	_, open := <-old.C()
	assert.False(t, open, "replaced subscriber channel should be closed")

	select {
	case got := <-fresh.C():
		assert.Equal(t, "CA1", got.CallSid)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery to the re-joined subscriber")
	}
}

func TestHub_RemoveIgnoresStaleHandleAfterRejoin(t *testing.T) {
	hub := app.NewHub(testLogger(), 8)

	old := hub.Join("conn-a", "")
	fresh := hub.Join("conn-a", "operators")

	assert.False(t, hub.Remove(old), "a stale handle must not unregister the replacement")
	assert.True(t, hub.Has("conn-a"))

	hub.Publish(event("CA1"))
	assert.Equal(t, "CA1", (<-fresh.C()).CallSid)

	assert.True(t, hub.Remove(fresh))
	assert.False(t, hub.Has("conn-a"))
	assert.False(t, hub.Remove(fresh), "repeat removal is a no-op")
}

func TestHub_PublishWithZeroSubscribersDoesNotPanic(t *testing.T) {
	hub := app.NewHub(testLogger(), 8)
	assert.NotPanics(t, func() { hub.Publish(event("CA1")) })
}

func TestHub_SlowSubscriberIsEvictedOthersStillDelivered(t *testing.T) {
	hub := app.NewHub(testLogger(), 1)

	slow := hub.Join("conn-slow", "")
	healthy := hub.Join("conn-healthy", "")

	// Fill the slow subscriber's single-slot buffer, draining only the
	// healthy one, then overflow it.
	hub.Publish(event("CA1"))
	assert.Equal(t, "CA1", (<-healthy.C()).CallSid)
	hub.Publish(event("CA2"))

	got := <-slow.C()
	assert.Equal(t, "CA1", got.CallSid)
	_, open := <-slow.C()
	assert.False(t, open, "overflowing subscriber should have been evicted")

	assert.Equal(t, "CA2", (<-healthy.C()).CallSid)
	assert.Equal(t, 1, hub.Len())
}

func TestHub_PublishToGroupFiltersByLabel(t *testing.T) {
	hub := app.NewHub(testLogger(), 8)

	ops := hub.Join("conn-ops", "operators")
	other := hub.Join("conn-other", "")

	hub.PublishToGroup("operators", event("CA1"))

	select {
	case got := <-ops.C():
		assert.Equal(t, "CA1", got.CallSid)
	case <-time.After(time.Second):
		t.Fatal("group member did not receive the event")
	}

	select {
	case ev := <-other.C():
		t.Fatalf("non-member received group event %q", ev.CallSid)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_LeaveWhilePublishIteratesDoesNotPanic(t *testing.T) {
	prev := runtime.GOMAXPROCS(4)
	defer runtime.GOMAXPROCS(prev)

	hub := app.NewHub(testLogger(), 1)
	ids := make([]string, 2000)
	for i := range ids {
		ids[i] = fmt.Sprintf("conn-%d", i)
		hub.Join(ids[i], "")
	}

	start := make(chan struct{})
	var wg sync.WaitGroup

	// One publisher walks its subscriber snapshot while four removers close
	// channels out from under it.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("Publish panicked: %v", r)
			}
		}()
		<-start
		for i := 0; i < 20; i++ {
			hub.Publish(event(fmt.Sprintf("CA%d", i)))
		}
	}()

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			<-start
			for i := w; i < len(ids); i += 4 {
				hub.Leave(ids[i])
			}
		}(w)
	}

	close(start)
	wg.Wait()
	assert.Equal(t, 0, hub.Len())
}

func TestHub_ConcurrentJoinLeavePublish(t *testing.T) {
	hub := app.NewHub(testLogger(), 64)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("conn-%d", n)
			for j := 0; j < 50; j++ {
				sub := hub.Join(id, "")
				hub.Publish(event(fmt.Sprintf("CA-%d-%d", n, j)))
				hub.Leave(id)
				for range sub.C() {
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Len())
}
