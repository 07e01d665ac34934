// Package plantapi fetches raw plant records from the public readings API.
// Every call carries a hard timeout and maps the upstream status codes onto
// a small typed taxonomy so callers can branch on errors.Is instead of
// parsing strings.
package plantapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultTimeout bounds one API round-trip; the upstream occasionally
	// hangs on cold plants and five seconds is the budget a one-minute
	// pipeline cycle can afford per request.
	DefaultTimeout = 5 * time.Second

	// maxUpstreamRetries caps the backoff loop for 5xx answers. Not-found
	// and auth failures are never retried; they will not get better.
	maxUpstreamRetries = 3
)

// Typed outcomes for one fetch. NotFound skips the plant, Auth aborts the
// whole sweep, Upstream is retried with backoff before surfacing.
var (
	ErrNotFound = errors.New("plant not found")
	ErrAuth     = errors.New("api key invalid or not authorised")
	ErrUpstream = errors.New("upstream unavailable")
)

// StatusError wraps any other non-200 answer so the raw code stays visible
// in logs.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected api status %d", e.Code)
}

// Client talks to the readings API. The zero value is not usable; call
// NewClient so the timeout is always set.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Logf    func(string, ...any)

	// newBackOff overrides the retry policy; tests set it to skip the
	// waits. Nil means the default exponential policy.
	newBackOff func() backoff.BackOff
}

// NewClient builds a client for the given base URL, e.g.
// "https://sigma-labs-bot.herokuapp.com/api/plants". Logf is optional.
func NewClient(baseURL string, logf func(string, ...any)) *Client {
	if logf == nil {
		logf = log.Printf
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: DefaultTimeout},
		Logf:    logf,
	}
}

// FetchPlant retrieves one plant record by numeric id. The payload is
// returned as a generic map so the validator can report exactly which
// fields the upstream dropped this time.
func (c *Client) FetchPlant(ctx context.Context, id int) (map[string]any, error) {
	var payload map[string]any

	attempt := 0
	operation := func() error {
		attempt++
		rec, err := c.fetchOnce(ctx, id)
		if err == nil {
			payload = rec
			return nil
		}
		if errors.Is(err, ErrUpstream) && attempt <= maxUpstreamRetries {
			c.Logf("plant %d: upstream failure, retrying (attempt %d): %v", id, attempt, err)
			return err
		}
		return backoff.Permanent(err)
	}

	var base backoff.BackOff = backoff.NewExponentialBackOff()
	if c.newBackOff != nil {
		base = c.newBackOff()
	}
	policy := backoff.WithContext(base, ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return payload, nil
}

// fetchOnce performs a single GET and classifies the response.
func (c *Client) fetchOnce(ctx context.Context, id int) (map[string]any, error) {
	url := fmt.Sprintf("%s/%d", c.BaseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// Transport-level failures (timeouts included) are treated like an
		// unavailable upstream so they ride the same retry loop.
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var rec map[string]any
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("plant %d: decode payload: %w", id, err)
		}
		return rec, nil

	case resp.StatusCode == http.StatusNotFound:
		// The 404 body is itself JSON with an "error" field; surface it so
		// the skip log says what the upstream said.
		return nil, fmt.Errorf("%w: %s", ErrNotFound, errorMessage(body))

	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrAuth

	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)

	default:
		return nil, &StatusError{Code: resp.StatusCode}
	}
}

// errorMessage pulls the "error" field out of a JSON error payload, falling
// back to the raw body when the shape surprises us.
func errorMessage(body []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	const maxRaw = 200
	if len(body) > maxRaw {
		body = body[:maxRaw]
	}
	return string(body)
}
