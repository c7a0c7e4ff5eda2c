package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Source layers device lifecycle and readiness tracking over a softphone
// Device, producing the same ring indications as the server transport but
// sourced from the provider SDK directly. Initialization is best-effort for
// callers: an Init failure disables this path only.
type Source struct {
	logger     *slog.Logger
	factory    Factory
	httpClient *http.Client

	incoming     chan IncomingCall
	incomingOnce sync.Once

	mu       sync.Mutex
	dev      Device
	ready    bool
	closed   bool
	cancel   context.CancelFunc
	pumpDone chan struct{}
}

func NewSource(factory Factory, logger *slog.Logger) *Source {
	return &Source{
		logger:     logger.With("component", "softphone_source"),
		factory:    factory,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		incoming:   make(chan IncomingCall, 8),
	}
}

// Init fetches an access token from the server's token endpoint, constructs
// and registers the device, and starts pumping its events. The error return
// is deliberate: callers decide whether to disable device features, and a
// failure here must never take the rest of the client down.
func (s *Source) Init(ctx context.Context, identity, serverAddr string) error {
	if s.factory == nil {
		return fmt.Errorf("no device factory configured")
	}

	token, err := s.fetchToken(ctx, identity, serverAddr)
	if err != nil {
		s.logger.Warn("Softphone unavailable, continuing in demo mode", "error", err)
		return fmt.Errorf("fetching access token: %w", err)
	}

	dev, err := s.factory(token)
	if err != nil {
		return fmt.Errorf("constructing softphone device: %w", err)
	}
	if err := dev.Register(ctx); err != nil {
		dev.Destroy()
		return fmt.Errorf("registering softphone device: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	pumpDone := make(chan struct{})

	s.mu.Lock()
	if s.dev != nil || s.closed {
		closed := s.closed
		s.mu.Unlock()
		cancel()
		dev.Destroy()
		if closed {
			return fmt.Errorf("source already disconnected")
		}
		return fmt.Errorf("device already initialized")
	}
	s.dev = dev
	s.cancel = cancel
	s.pumpDone = pumpDone
	s.mu.Unlock()

	go func() {
		defer close(pumpDone)
		s.pump(pumpCtx, dev)
	}()
	s.logger.Info("Softphone device registered", "identity", identity)
	return nil
}

func (s *Source) fetchToken(ctx context.Context, identity, serverAddr string) (string, error) {
	base := strings.TrimSuffix(serverAddr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	endpoint := base + "/api/twilio/token?identity=" + url.QueryEscape(identity)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if len(body) == 0 {
		return "", fmt.Errorf("token endpoint returned an empty token")
	}
	return string(body), nil
}

func (s *Source) pump(ctx context.Context, dev Device) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-dev.Events():
			if !open {
				s.setReady(false)
				return
			}
			switch ev.Kind {
			case EventReady:
				s.logger.Info("Softphone device ready")
				s.setReady(true)
			case EventError:
				s.logger.Warn("Softphone device error", "error", ev.Err)
				s.setReady(false)
			case EventDisconnect:
				s.logger.Info("Softphone device disconnected")
				s.setReady(false)
			case EventIncoming:
				s.logger.Info("Incoming call via softphone device",
					"from", ev.From, "call_sid", ev.CallSid)
				select {
				case s.incoming <- IncomingCall{From: ev.From, CallSid: ev.CallSid}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (s *Source) setReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

// Incoming is the stream of device-originated ring indications.
func (s *Source) Incoming() <-chan IncomingCall {
	return s.incoming
}

// Ready reports whether the device is registered and has signalled ready.
func (s *Source) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev != nil && s.ready
}

// PlaceCall dials target through the device. It fails fast with ErrNotReady
// when the device is missing or not ready.
func (s *Source) PlaceCall(ctx context.Context, target string) (Call, error) {
	s.mu.Lock()
	dev := s.dev
	ready := s.ready
	s.mu.Unlock()

	if dev == nil || !ready {
		return nil, ErrNotReady
	}

	call, err := dev.Connect(ctx, map[string]string{"To": target})
	if err != nil {
		s.logger.Error("Error placing call", "to", target, "error", err)
		return nil, fmt.Errorf("placing call: %w", err)
	}
	return call, nil
}

// Disconnect tears the device down, resets readiness, and closes the
// Incoming stream so consumers ranging over it terminate. Idempotent, and
// terminal: a disconnected source cannot be re-initialized.
func (s *Source) Disconnect() {
	s.mu.Lock()
	dev := s.dev
	cancel := s.cancel
	pumpDone := s.pumpDone
	s.dev = nil
	s.cancel = nil
	s.pumpDone = nil
	s.ready = false
	s.closed = true
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pumpDone != nil {
		// Wait for the pump to stop sending before closing its channel.
		<-pumpDone
	}
	if dev != nil {
		dev.Destroy()
	}
	s.incomingOnce.Do(func() { close(s.incoming) })
}
