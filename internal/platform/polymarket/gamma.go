package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/metrics"
)

// WindowLength is the lifetime of one up/down market.
const WindowLength = 15 * time.Minute

// GammaConfig configures a GammaClient.
type GammaConfig struct {
	// BaseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
	BaseURL string

	// RequestsPerSecond and Burst bound the outgoing request rate.
	RequestsPerSecond float64
	Burst             int

	// BreakerFailures is the number of consecutive failed requests that
	// opens the circuit; BreakerCooldown is how long it stays open.
	BreakerFailures uint32
	BreakerCooldown time.Duration

	Timeout time.Duration
}

// GammaClient discovers the currently tradable 15-minute up/down markets
// through the Polymarket Gamma API.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	now        func() time.Time
}

// NewGammaClient creates a new Gamma API client.
func NewGammaClient(cfg GammaConfig, logger *slog.Logger) *GammaClient {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger = logger.With(slog.String("component", "polymarket_gamma"))
	failures := cfg.BreakerFailures

	return &GammaClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "gamma",
			Timeout: cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, domain.ErrNotFound)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		}),
		logger: logger,
		now:    time.Now,
	}
}

// WindowSlugs returns the market slugs for asset covering the window that
// contains now and the one after it.
func WindowSlugs(asset string, now time.Time) []string {
	start := now.UTC().Truncate(WindowLength)
	prefix := strings.ToLower(asset) + "-updown-15m-"
	return []string{
		prefix + strconv.FormatInt(start.Unix(), 10),
		prefix + strconv.FormatInt(start.Add(WindowLength).Unix(), 10),
	}
}

// ListActiveMarkets returns the open up/down markets for every asset, in
// asset order and then window order. Slugs the API does not know yet are
// skipped. Any other failure aborts the whole discovery so callers never
// mistake a partial answer for the full set.
func (g *GammaClient) ListActiveMarkets(ctx context.Context, assets []string) ([]domain.Market, error) {
	now := g.now()
	seen := make(map[string]struct{})
	var out []domain.Market

	for _, asset := range assets {
		for _, slug := range WindowSlugs(asset, now) {
			markets, err := g.marketsBySlug(ctx, slug)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					continue
				}
				metrics.DiscoveryRequests.WithLabelValues("error").Inc()
				return nil, fmt.Errorf("polymarket/gamma: %w: %s: %w", domain.ErrDiscoveryUnavailable, slug, err)
			}
			metrics.DiscoveryRequests.WithLabelValues("ok").Inc()

			for i := range markets {
				m, ok := markets[i].ToDomainMarket(asset)
				if !ok || m.Expired(now) {
					continue
				}
				if _, dup := seen[m.ID]; dup {
					continue
				}
				seen[m.ID] = struct{}{}
				out = append(out, m)
			}
		}
	}

	g.logger.DebugContext(ctx, "discovery complete",
		slog.Int("assets", len(assets)),
		slog.Int("markets", len(out)),
	)
	return out, nil
}

func (g *GammaClient) marketsBySlug(ctx context.Context, slug string) ([]APIMarket, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("get market by slug: %w", err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	return apiMarkets, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request through the rate limiter and
// circuit breaker.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
			return nil, err
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

// checkHTTPStatus maps non-2xx responses onto domain sentinel errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
