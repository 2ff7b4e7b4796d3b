// Package crm talks to the remote CRM REST API. Webhook payloads may be
// partial, so the worker always re-fetches the authoritative record through
// this client; the poller uses it to page through modified records. All
// calls share one rate limiter.
package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prudhvinik1/crmsync/internal/ratelimit"
)

var (
	// ErrRecordNotFound is permanent: the referenced record does not exist
	// upstream and retrying cannot change that.
	ErrRecordNotFound = errors.New("record not found in remote CRM")
)

// TransientError marks failures that are worth retrying at the queue level:
// timeouts, 5xx responses, and throttling that outlasted its backoff budget.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient remote error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient remote error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be handled by redelivery rather
// than dead-lettered.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// TokenProvider returns a current bearer token for the upstream API. Token
// acquisition and refresh live outside this subsystem.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken wraps a fixed token as a TokenProvider.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) { return token, nil }
}

// Page is one page of a modified-records listing.
type Page struct {
	Records     []map[string]any
	MoreRecords bool
}

// API is the surface the worker and poller consume; tests substitute fakes.
type API interface {
	GetRecord(ctx context.Context, module, recordID string) (map[string]any, error)
	ListModifiedSince(ctx context.Context, module string, since time.Time, page int) (*Page, error)
}

const perPage = 200

type Client struct {
	baseURL string
	http    *http.Client
	token   TokenProvider
	limiter *ratelimit.Limiter
	backoff ratelimit.Backoff
}

func NewClient(baseURL string, token TokenProvider, limiter *ratelimit.Limiter) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		token:   token,
		limiter: limiter,
		backoff: ratelimit.DefaultBackoff,
	}
}

// envelope matches the provider's response wrapper.
type envelope struct {
	Data []map[string]any `json:"data"`
	Info struct {
		MoreRecords bool `json:"more_records"`
	} `json:"info"`
}

func (c *Client) GetRecord(ctx context.Context, module, recordID string) (map[string]any, error) {
	path := fmt.Sprintf("/records/%s/%s", url.PathEscape(module), url.PathEscape(recordID))
	env, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 {
		return nil, ErrRecordNotFound
	}
	return env.Data[0], nil
}

func (c *Client) ListModifiedSince(ctx context.Context, module string, since time.Time, page int) (*Page, error) {
	query := url.Values{}
	query.Set("modified_since", since.UTC().Format(time.RFC3339))
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	env, err := c.get(ctx, "/records/"+url.PathEscape(module), query)
	if err != nil {
		return nil, err
	}
	return &Page{Records: env.Data, MoreRecords: env.Info.MoreRecords}, nil
}

// get performs one rate-limited GET with capped exponential backoff on
// throttle and server errors. Each attempt takes its own token so a backing-
// off call never starves other callers.
func (c *Client) get(ctx context.Context, path string, query url.Values) (*envelope, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if attempt > c.backoff.MaxAttempts {
				return nil, lastErr
			}
			if err := c.backoff.Sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		env, err := c.doOnce(ctx, path, query)
		if err == nil {
			return env, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
}

func (c *Client) doOnce(ctx context.Context, path string, query url.Values) (*envelope, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get API token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrRecordNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, &TransientError{StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d from remote API: %s", resp.StatusCode, body)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode remote response: %w", err)
	}
	return &env, nil
}

// ModifiedTime extracts the record's authoritative modification timestamp
// from its raw fields.
func ModifiedTime(fields map[string]any) (time.Time, bool) {
	for _, key := range []string{"Modified_Time", "modified_time", "Modified_Time__s"} {
		raw, ok := fields[key].(string)
		if !ok || raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05-0700", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// RecordID extracts the remote-assigned stable record id.
func RecordID(fields map[string]any) (string, bool) {
	for _, key := range []string{"id", "Id", "ID"} {
		if v, ok := fields[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
