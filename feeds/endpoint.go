package feeds

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

type AuthMethod interface {
	Apply(req *http.Request)
}

type BearerAuth struct {
	Token string
}

func (b BearerAuth) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+b.Token)
}

type KeyAuth struct {
	Header string
	Key    string
}

func (k KeyAuth) Apply(req *http.Request) {
	req.Header.Set(k.Header, k.Key)
}

type NoAuth struct{}

func (NoAuth) Apply(req *http.Request) {}

// Endpoint wraps one upstream host with auth, a rate limiter, and
// bounded retries. Collectors share the pattern so backoff behavior is
// uniform across feeds.
type Endpoint struct {
	Auth    AuthMethod
	Gateway *http.Client
	Limiter *rate.Limiter
	Retries int
	Logger  *log.Logger
}

func NewEndpoint(auth AuthMethod, insecure bool, rps float64, logger *log.Logger) *Endpoint {
	client := &http.Client{Timeout: 2 * time.Minute}
	if insecure {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	if rps <= 0 {
		rps = 2
	}
	return &Endpoint{
		Auth:    auth,
		Gateway: client,
		Limiter: rate.NewLimiter(rate.Limit(rps), 1),
		Retries: 3,
		Logger:  logger,
	}
}

// Fetch GETs a URL with rate limiting and capped exponential backoff.
// Status 429 and 5xx retry; other non-200s fail immediately.
func (e *Endpoint) Fetch(ctx context.Context, url string) ([]byte, error) {
	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt <= e.Retries; attempt++ {
		if attempt > 0 {
			e.Logger.Printf("retrying %s in %s (attempt %d)", url, backoff, attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}
		if err := e.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
		body, retryable, err := e.fetchOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("fetching %s: %w", url, lastErr)
}

func (e *Endpoint) fetchOnce(ctx context.Context, url string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", "supplyco-collector/1.0")
	e.Auth.Apply(req)
	resp, err := e.Gateway.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("status %d", resp.StatusCode)
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return body, false, nil
}
