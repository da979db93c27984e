package neurovault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neurostuff/neurostore-go/internal/logger"
	"github.com/neurostuff/neurostore-go/internal/pkg/httpx"
)

// Collection is the subset of the image-hosting service's collection resource
// this backend cares about.
type Collection struct {
	ID int `json:"id"`
}

// Image is one uploaded statistical map.
type Image struct {
	ID   int    `json:"id"`
	File string `json:"file"`
	Name string `json:"name"`
}

// ImageUpload describes one file to push into a collection.
type ImageUpload struct {
	Filename  string
	Contents  []byte
	Name      string
	MapType   string
	Space     string
	ValueType string
}

// Client uploads result maps to the external image-hosting service.
type Client interface {
	CreateCollection(ctx context.Context, name string) (*Collection, error)
	AddImage(ctx context.Context, collectionID int, up ImageUpload) (*Image, error)
}

type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("neurovault http %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type client struct {
	log         *logger.Logger
	baseURL     string
	accessToken string
	httpClient  *http.Client
	maxRetries  int
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	accessToken := strings.TrimSpace(os.Getenv("NEUROVAULT_ACCESS_TOKEN"))
	if accessToken == "" {
		return nil, fmt.Errorf("missing NEUROVAULT_ACCESS_TOKEN")
	}
	baseURL := strings.TrimSpace(os.Getenv("NEUROVAULT_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://neurovault.org"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeoutSec := 120
	if v := os.Getenv("NEUROVAULT_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	maxRetries := 3
	if v := os.Getenv("NEUROVAULT_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &client{
		log:         log.With("service", "NeurovaultClient"),
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries:  maxRetries,
	}, nil
}

func (c *client) CreateCollection(ctx context.Context, name string) (*Collection, error) {
	body := map[string]interface{}{"name": name}
	raw, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/collections/", &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	var col Collection
	if err := json.Unmarshal(raw, &col); err != nil {
		return nil, fmt.Errorf("decoding collection response: %w", err)
	}
	return &col, nil
}

func (c *client) AddImage(ctx context.Context, collectionID int, up ImageUpload) (*Image, error) {
	path := fmt.Sprintf("/api/collections/%d/images/", collectionID)
	raw, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		fw, err := w.CreateFormFile("file", up.Filename)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(up.Contents); err != nil {
			return nil, err
		}
		fields := map[string]string{
			"name":                  up.Name,
			"map_type":              up.MapType,
			"modality":              "fMRI-BOLD",
			"target_template_image": up.Space,
			"image_type":            "statistic_map",
			"analysis_level":        "G",
			"is_valid":              "true",
		}
		for k, v := range fields {
			if v == "" {
				continue
			}
			if err := w.WriteField(k, v); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	var img Image
	if err := json.Unmarshal(raw, &img); err != nil {
		return nil, fmt.Errorf("decoding image response: %w", err)
	}
	return &img, nil
}

func (c *client) doWithRetry(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
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
		req, err := build()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		raw, err := c.doOnce(req)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !httpx.IsRetryableError(err) {
			return nil, err
		}
		c.log.Warn("Retrying upload request", "url", req.URL.Path, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (c *client) doOnce(req *http.Request) ([]byte, error) {
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
	return raw, nil
}
