package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Feed URL limits.
const (
	MaxFeedURLLength = 2048
	maxBodyBytes     = 10 * 1024 * 1024
)

// Fetch validation errors.
var (
	ErrInvalidFeedURL = errors.New("feed URL must be a well-formed https URL")
	ErrFeedURLTooLong = errors.New("feed URL exceeds maximum length")
	ErrBodyTooLarge   = errors.New("feed body exceeds size limit")
)

// ValidateFeedURL checks scheme, length, and shape of a feed URL.
func ValidateFeedURL(raw string) (string, error) {
	if len(raw) > MaxFeedURLLength {
		return "", ErrFeedURLTooLong
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return "", ErrInvalidFeedURL
	}
	return u.String(), nil
}

// FetchResult is the outcome of one conditional GET. StatusCode 0 means
// the request never completed.
type FetchResult struct {
	StatusCode   int
	Body         []byte
	ETag         string
	LastModified string
}

// Fetcher performs conditional feed fetches with a per-host circuit
// breaker and a global outbound rate limiter.
type Fetcher struct {
	client   *http.Client
	limiter  *rate.Limiter
	maxBody  int64
	logger   *slog.Logger
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*FetchResult]
}

// FetcherConfig configures the fetcher.
type FetcherConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	// RatePerSecond bounds outbound fetches across all feeds.
	RatePerSecond float64
	Burst         int
	Logger        *slog.Logger
}

// NewFetcher creates a feed fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = maxBodyBytes
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		maxBody:  cfg.MaxBodyBytes,
		logger:   cfg.Logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[*FetchResult]),
	}
}

func (f *Fetcher) breaker(host string) *gobreaker.CircuitBreaker[*FetchResult] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.breakers[host]; ok {
		return b
	}

	settings := gobreaker.Settings{
		Name:    host,
		Timeout: 2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Info("feed host circuit breaker state changed",
				"host", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	b := gobreaker.NewCircuitBreaker[*FetchResult](settings)
	f.breakers[host] = b
	return b
}

// Fetch performs a conditional GET. etag and lastModified are the stored
// validators; empty values skip the corresponding header. Transport
// failures return a result with StatusCode 0 rather than an error so the
// caller can classify them uniformly.
func (f *Fetcher) Fetch(ctx context.Context, feedURL, etag, lastModified string) (*FetchResult, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u, err := url.Parse(feedURL)
	if err != nil {
		return nil, ErrInvalidFeedURL
	}

	result, err := f.breaker(u.Host).Execute(func() (*FetchResult, error) {
		return f.doFetch(ctx, feedURL, etag, lastModified)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Treat an open breaker like a transport failure; it is
			// retryable once the host recovers.
			return &FetchResult{StatusCode: 0}, nil
		}
		if result != nil {
			// 5xx responses count as breaker failures but still classify
			// by their status code.
			return result, nil
		}
		return nil, err
	}
	return result, nil
}

func (f *Fetcher) doFetch(ctx context.Context, feedURL, etag, lastModified string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar, text/plain")
	req.Header.Set("User-Agent", "tminus-feed-sync/1.0")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) || isTransport(err) {
			return &FetchResult{StatusCode: 0}, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	result := &FetchResult{
		StatusCode:   resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}

	if resp.StatusCode == http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
		if err != nil {
			return &FetchResult{StatusCode: 0}, nil
		}
		if int64(len(body)) > f.maxBody {
			return nil, ErrBodyTooLarge
		}
		result.Body = body
	}

	// Server errors count as breaker failures so a melting host trips it.
	if resp.StatusCode >= 500 {
		return result, fmt.Errorf("feed server error: %d", resp.StatusCode)
	}
	return result, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func isTransport(err error) bool {
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
