/*
Package gateway is the REST client for the payment gateway's charge list API.

PURPOSE:
  Fetches succeeded gateway payments inside a trailing time window for
  reconciliation. The gateway paginates its list endpoint; this client pages
  through until exhausted and returns one flattened slice. Each call
  re-fetches from scratch; the result is finite, not restartable.

ENDPOINT SHAPE:
  GET {base}/v1/payments?limit=N&created_gte=UNIX[&starting_after=ID]
  Authorization: Bearer <api key>
  Response: {"data": [...], "has_more": bool}

RESILIENCE:
  - Circuit breaker trips after consecutive failures so a down gateway fails
    runs fast instead of hammering a dead endpoint
  - Client-side rate limiting keeps pagination under the gateway's quota
  - The caller's context deadline bounds the whole fetch

FILTERING:
  The gateway returns every charge in the window regardless of outcome;
  non-succeeded charges are dropped client-side.
*/
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/textmatch/recon-engine/recon"
)

const defaultPageSize = 100

// Config holds gateway client settings.
type Config struct {
	BaseURL string
	APIKey  string

	// PageSize per list request. Default 100, the gateway's maximum.
	PageSize int

	// Timeout for a single HTTP request. Default 10s.
	Timeout time.Duration

	// RequestsPerSecond caps pagination speed. Default 10.
	RequestsPerSecond float64

	// BreakerFailures is the consecutive-failure count that trips the
	// circuit. Default 5.
	BreakerFailures uint32

	// BreakerCooldown is how long the circuit stays open. Default 30s.
	BreakerCooldown time.Duration
}

// Client implements recon.GatewaySource over the gateway's REST API.
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int

	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New creates a gateway client. Zero-valued config fields fall back to
// defaults.
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	settings := gobreaker.Settings{Name: "gateway"}
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= cfg.BreakerFailures
	}
	settings.Timeout = cfg.BreakerCooldown

	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
		httpc:    &http.Client{Timeout: cfg.Timeout},
		breaker:  gobreaker.NewCircuitBreaker(settings),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		log:      log.With().Str("component", "gateway").Logger(),
	}
}

// paymentJSON is the gateway's wire representation of a charge.
type paymentJSON struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Status   string            `json:"status"`
	Created  int64             `json:"created"`
	Metadata map[string]string `json:"metadata"`
}

type listResponse struct {
	Data    []paymentJSON `json:"data"`
	HasMore bool          `json:"has_more"`
}

// ListSucceededSince returns every succeeded payment created at or after
// since, in the order the gateway returns them.
func (c *Client) ListSucceededSince(ctx context.Context, since time.Time) ([]recon.Payment, error) {
	payments := make([]recon.Payment, 0)
	startingAfter := ""
	pages := 0

	for {
		page, err := c.listPage(ctx, since, startingAfter)
		if err != nil {
			return nil, err
		}
		pages++

		for _, p := range page.Data {
			if p.Status != recon.PaymentSucceeded {
				continue
			}
			payments = append(payments, recon.Payment{
				ID:        p.ID,
				Amount:    p.Amount,
				Status:    p.Status,
				CreatedAt: p.Created,
				Metadata:  p.Metadata,
			})
		}

		if !page.HasMore || len(page.Data) == 0 {
			break
		}
		startingAfter = page.Data[len(page.Data)-1].ID
	}

	c.log.Debug().Int("pages", pages).Int("payments", len(payments)).
		Time("since", since).Msg("gateway fetch complete")

	return payments, nil
}

func (c *Client) listPage(ctx context.Context, since time.Time, startingAfter string) (*listResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.doList(ctx, since, startingAfter)
	})
	if err != nil {
		return nil, err
	}
	return result.(*listResponse), nil
}

func (c *Client) doList(ctx context.Context, since time.Time, startingAfter string) (*listResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageSize))
	q.Set("created_gte", strconv.FormatInt(since.Unix(), 10))
	if startingAfter != "" {
		q.Set("starting_after", startingAfter)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/payments?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var page listResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return &page, nil
}
