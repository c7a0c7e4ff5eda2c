package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dublintech/callbridge/internal/customer/domain"
)

// CustomerClient resolves customers against the call server's REST API. It
// satisfies the notification machine's Lookup port; the machine handles
// degradation when this client errors.
type CustomerClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewCustomerClient(serverAddr string, logger *slog.Logger) *CustomerClient {
	base := strings.TrimSuffix(serverAddr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &CustomerClient{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "customer_client"),
	}
}

func (c *CustomerClient) GetByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	endpoint := c.baseURL + "/api/customers/by-phone?number=" + url.QueryEscape(phone)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying customer API: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var customer domain.Customer
		if err := json.NewDecoder(resp.Body).Decode(&customer); err != nil {
			return nil, fmt.Errorf("decoding customer response: %w", err)
		}
		return &customer, nil
	case http.StatusNotFound:
		return nil, domain.ErrNotFound
	default:
		return nil, fmt.Errorf("customer API returned %d", resp.StatusCode)
	}
}
