package ws_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapterhttp "github.com/dublintech/callbridge/internal/callserver/adapters/http"
	"github.com/dublintech/callbridge/internal/callserver/adapters/ws"
	"github.com/dublintech/callbridge/internal/callserver/app"
	callsdomain "github.com/dublintech/callbridge/internal/callserver/domain"
	"github.com/dublintech/callbridge/internal/customer/domain"
	"github.com/dublintech/callbridge/internal/operator/notify"
	"github.com/dublintech/callbridge/internal/operator/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// staticLookup resolves every number to the same record.
type staticLookup struct{ c *domain.Customer }

func (l staticLookup) GetByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	if l.c != nil && l.c.Phone == phone {
		return l.c, nil
	}
	return nil, domain.ErrNotFound
}

// newTestServer wires a hub, the webhook handler, and the WS endpoint the
// way cmd/callserver does.
func newTestServer(t *testing.T) (*httptest.Server, *app.Hub) {
	t.Helper()
	logger := testLogger()
	hub := app.NewHub(logger, 16)
	twilioHandler := adapterhttp.NewTwilioHandler(hub, adapterhttp.TwilioConfig{}, logger)
	wsHandler := ws.NewSubscriberHandler(hub, logger)

	r := chi.NewRouter()
	r.Group(func(gr chi.Router) {
		gr.Use(chimiddleware.Timeout(60 * time.Second))
		gr.Post("/voice/webhook", twilioHandler.VoiceWebhook)
	})
	// The event channel stays outside the timeout group; its connections
	// are long-lived.
	r.Get("/hubs/calls", wsHandler.ServeHTTP)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub
}

func postWebhook(t *testing.T, baseURL, from, callSid string) {
	t.Helper()
	form := url.Values{
		"From":       {from},
		"CallSid":    {callSid},
		"CallStatus": {"ringing"},
		"Direction":  {"inbound"},
	}
	resp, err := http.Post(baseURL+"/voice/webhook",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body)
}

func TestRoundTrip_WebhookToTransportClient(t *testing.T) {
	srv, hub := newTestServer(t)

	client := transport.NewClient(testLogger(), transport.Options{
		Delays: []time.Duration{0, 10 * time.Millisecond},
	})
	client.Start(srv.URL)
	defer client.Stop()

	require.Eventually(t, func() bool { return hub.Len() == 1 },
		2*time.Second, 5*time.Millisecond, "transport client never joined the hub")

	postWebhook(t, srv.URL, "+353851234567", "CA123")

	select {
	case ev := <-client.Events():
		assert.Equal(t, "+353851234567", ev.FromNumber)
		assert.Equal(t, "CA123", ev.CallSid)
		assert.False(t, ev.TimestampUTC.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the transport client")
	}

	cur := client.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "CA123", cur.CallSid)
}

func TestRoundTrip_WebhookToNotificationState(t *testing.T) {
	srv, hub := newTestServer(t)

	client := transport.NewClient(testLogger(), transport.Options{
		Delays: []time.Duration{0, 10 * time.Millisecond},
	})
	client.Start(srv.URL)
	defer client.Stop()

	lookup := staticLookup{c: &domain.Customer{
		ID: "1", Name: "Dublin Tech Solutions Ltd", Phone: "+353851234567",
	}}
	machine := notify.NewMachine(lookup, nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	machine.Start(ctx)

	go func() {
		for ev := range client.Events() {
			machine.Deliver(ev)
		}
	}()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	postWebhook(t, srv.URL, "+353851234567", "CA123")

	var st notify.State
	require.Eventually(t, func() bool {
		st = machine.State()
		return st.Visible && !st.Resolving
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "+353851234567", st.FromNumber)
	assert.Equal(t, "CA123", st.CallSid)
	require.NotNil(t, st.Customer)
	assert.Equal(t, "Dublin Tech Solutions Ltd", st.Customer.Name)
}

// Re-joining a group swaps the hub registration while the connection's
// writer may still be draining the replaced subscriber. Every event must
// still arrive exactly once, in order, over the same socket.
func TestSubscriberHandler_GroupRejoinDoesNotDisruptDelivery(t *testing.T) {
	srv, hub := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/hubs/calls"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	// readUntil skips group-switch markers still queued from earlier rounds.
	readUntil := func(sid string) callsdomain.ServerMessage {
		deadline := time.Now().Add(2 * time.Second)
		for {
			require.NoError(t, conn.SetReadDeadline(deadline))
			var msg callsdomain.ServerMessage
			require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", sid)
			require.Equal(t, callsdomain.MessageTypeIncomingCall, msg.Type)
			if msg.Data.CallSid == sid {
				return msg
			}
		}
	}

	for round := 0; round < 3; round++ {
		group := fmt.Sprintf("operators-%d", round)
		join := callsdomain.ClientMessage{Type: callsdomain.MessageTypeJoinGroup, Group: group}
		require.NoError(t, conn.WriteJSON(join))

		// Group-addressed markers only reach the connection once the
		// re-join has taken effect; publish until one comes back.
		marker := fmt.Sprintf("MARK-%d", round)
		stop := make(chan struct{})
		published := make(chan struct{})
		go func() {
			defer close(published)
			for {
				hub.PublishToGroup(group, callsdomain.CallArrivalEvent{
					FromNumber: "+353851234567", CallSid: marker, TimestampUTC: time.Now().UTC(),
				})
				select {
				case <-stop:
					return
				case <-time.After(5 * time.Millisecond):
				}
			}
		}()
		readUntil(marker)
		close(stop)
		<-published

		for i := 0; i < 5; i++ {
			sid := fmt.Sprintf("CA-%d-%d", round, i)
			hub.Publish(callsdomain.CallArrivalEvent{
				FromNumber: "+353851234567", CallSid: sid, TimestampUTC: time.Now().UTC(),
			})
			msg := readUntil(sid)
			assert.Equal(t, "+353851234567", msg.Data.FromNumber)
		}
	}

	assert.Equal(t, 1, hub.Len(), "the connection should still hold exactly one registration")
}

func TestSubscriberHandler_StopDeliveryAfterClientGone(t *testing.T) {
	srv, hub := newTestServer(t)

	client := transport.NewClient(testLogger(), transport.Options{
		Delays: []time.Duration{0, 10 * time.Millisecond},
	})
	client.Start(srv.URL)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	client.Stop()
	require.Eventually(t, func() bool { return hub.Len() == 0 },
		2*time.Second, 5*time.Millisecond, "hub should notice the disconnect")

	// Publishing now must not panic or deliver anywhere.
	postWebhook(t, srv.URL, "+353861234567", "CA999")
}
