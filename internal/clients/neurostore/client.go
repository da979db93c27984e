package neurostore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/neurostuff/neurostore-go/internal/logger"
	"github.com/neurostuff/neurostore-go/internal/pkg/httpx"
)

// Client talks to the companion data store. Writes are performed with the
// caller's bearer token when one is available, falling back to a
// client-credentials token so background work can push without a live
// request.
type Client interface {
	GetStudyset(ctx context.Context, id string, nested bool) (map[string]interface{}, error)
	GetAnnotation(ctx context.Context, id string) (map[string]interface{}, error)
	CreateStudy(ctx context.Context, token string, payload map[string]interface{}) (map[string]interface{}, error)
	UpdateStudy(ctx context.Context, token, id string, payload map[string]interface{}) (map[string]interface{}, error)
	CreateAnalysis(ctx context.Context, token string, payload map[string]interface{}) (map[string]interface{}, error)
	UpdateAnalysis(ctx context.Context, token, id string, payload map[string]interface{}) (map[string]interface{}, error)
}

// StatusError carries the upstream response for callers that record failures
// instead of propagating them.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("neurostore http %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type client struct {
	log        *logger.Logger
	baseURL    string
	httpClient *http.Client
	maxRetries int

	tokenURL     string
	clientID     string
	clientSecret string
	audience     string

	mu          sync.Mutex
	cachedToken string
	tokenExpiry time.Time
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimSpace(os.Getenv("NEUROSTORE_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://neurostore.org"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeoutSec := 30
	if v := os.Getenv("NEUROSTORE_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	maxRetries := 3
	if v := os.Getenv("NEUROSTORE_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &client{
		log:          log.With("service", "NeurostoreClient"),
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries:   maxRetries,
		tokenURL:     strings.TrimSpace(os.Getenv("AUTH_TOKEN_URL")),
		clientID:     strings.TrimSpace(os.Getenv("AUTH_CLIENT_ID")),
		clientSecret: strings.TrimSpace(os.Getenv("AUTH_CLIENT_SECRET")),
		audience:     strings.TrimSpace(os.Getenv("AUTH_AUDIENCE")),
	}, nil
}

func (c *client) GetStudyset(ctx context.Context, id string, nested bool) (map[string]interface{}, error) {
	path := "/api/studysets/" + url.PathEscape(id)
	if nested {
		path += "?nested=true"
	}
	return c.doJSON(ctx, http.MethodGet, path, "", nil)
}

func (c *client) GetAnnotation(ctx context.Context, id string) (map[string]interface{}, error) {
	return c.doJSON(ctx, http.MethodGet, "/api/annotations/"+url.PathEscape(id), "", nil)
}

func (c *client) CreateStudy(ctx context.Context, token string, payload map[string]interface{}) (map[string]interface{}, error) {
	return c.doJSON(ctx, http.MethodPost, "/api/studies/", token, payload)
}

func (c *client) UpdateStudy(ctx context.Context, token, id string, payload map[string]interface{}) (map[string]interface{}, error) {
	return c.doJSON(ctx, http.MethodPut, "/api/studies/"+url.PathEscape(id), token, payload)
}

func (c *client) CreateAnalysis(ctx context.Context, token string, payload map[string]interface{}) (map[string]interface{}, error) {
	return c.doJSON(ctx, http.MethodPost, "/api/analyses/", token, payload)
}

func (c *client) UpdateAnalysis(ctx context.Context, token, id string, payload map[string]interface{}) (map[string]interface{}, error) {
	return c.doJSON(ctx, http.MethodPut, "/api/analyses/"+url.PathEscape(id), token, payload)
}

func (c *client) doJSON(ctx context.Context, method, path, token string, body map[string]interface{}) (map[string]interface{}, error) {
	if token == "" && method != http.MethodGet {
		t, err := c.serviceToken(ctx)
		if err != nil {
			return nil, err
		}
		token = t
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := httpx.JitterSleep(time.Duration(attempt) * time.Second)
			var se *StatusError
			if errors.As(lastErr, &se) && se.RetryAfter > 0 {
				wait = se.RetryAfter
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		out, err := c.doOnce(ctx, method, path, token, body)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !httpx.IsRetryableError(err) {
			return nil, err
		}
		c.log.Warn("Retrying request", "method", method, "path", path, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (c *client) doOnce(ctx context.Context, method, path, token string, body map[string]interface{}) (map[string]interface{}, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			RetryAfter: httpx.RetryAfterDuration(resp, 0, 30*time.Second),
		}
	}
	var out map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decoding neurostore response: %w", err)
		}
	}
	return out, nil
}

// serviceToken exchanges client credentials for a bearer token and caches it
// until shortly before expiry.
func (c *client) serviceToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cachedToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.cachedToken, nil
	}
	if c.tokenURL == "" || c.clientID == "" || c.clientSecret == "" {
		return "", fmt.Errorf("no caller token and client credentials are not configured")
	}

	payload := map[string]interface{}{
		"grant_type":    "client_credentials",
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	}
	if c.audience != "" {
		payload["audience"] = c.audience
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access_token")
	}
	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.cachedToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(ttl - 60*time.Second)
	return c.cachedToken, nil
}
