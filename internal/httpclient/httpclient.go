// Package httpclient is the agent's uniform HTTP client: GET/POST/
// download with bearer auth, JSON bodies, and multipart upload,
// returning either a decoded body or a typed error. It generalizes
// beadsapi/client.go's doJSON helper (the teacher's sole HTTP-calling
// package) from a single control-plane base URL to the several base
// URLs spec.md §6 names (accounting, main, devices APIs).
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// APIError represents a non-2xx HTTP response from the control plane.
// Grounded on beadsapi.APIError; callers use errors.As to detect the
// 401-class authentication bucket in spec.md §7's error taxonomy.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Unauthorized reports whether this error is the 401-class failure
// that should invalidate a cached token and force a refresh.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// Config configures a Client.
type Config struct {
	// BaseURL is prefixed to every relative path passed to the call
	// methods.
	BaseURL string
	// Token, if non-empty, is sent as a bearer Authorization header
	// on every request. Client.SetToken updates it in place so token
	// rotation (C7) never requires rebuilding the client.
	Token string
	// Timeout bounds every request. Zero uses the default of 30s.
	Timeout time.Duration
}

// Client is a thin, typed wrapper over net/http, matching
// beadsapi.Client's shape: one *http.Client, a base URL, and a
// mutable bearer token.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// New returns a Client configured per cfg.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
	}
}

// SetToken updates the bearer token used on subsequent requests. It
// does not affect in-flight requests. This is how C7's token rotation
// propagates to every HTTP-calling component without a reconnect.
func (c *Client) SetToken(token string) {
	c.token = token
}

// PostJSON POSTs body as JSON to path and decodes the response into
// result (which may be nil to discard the body). A 204 No Content
// response leaves result untouched, mirroring beadsapi's doJSON.
func (c *Client) PostJSON(ctx context.Context, path string, body, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, result)
}

// GetJSON GETs path and decodes the response into result.
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Message: extractErrorMessage(respBody)}
	}

	if resp.StatusCode == http.StatusNoContent || len(respBody) == 0 || result == nil {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

func extractErrorMessage(body []byte) string {
	var wrapped struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error != "" {
		return wrapped.Error
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return string(body)
}

// Download GETs path, taken as a complete URL (BaseURL is not
// prefixed), and streams the response body to w, returning
// the number of bytes written. Used by the firmware/package updater
// (C11) to fetch signed artifacts.
func (c *Client) Download(ctx context.Context, path string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("building download request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("downloading %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return 0, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("streaming download body: %w", err)
	}
	return n, nil
}

// UploadFile performs a multipart POST of a single file field,
// decoding a JSON response into result. Used for CSR signing
// (spec.md §6's "Sign CSR" call), an external-collaborator boundary
// this package implements the transport for.
func (c *Client) UploadFile(ctx context.Context, path, fieldName, fileName string, content io.Reader, result any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(fieldName, fileName)
	if err != nil {
		return fmt.Errorf("creating multipart field: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("writing multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("uploading to %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading upload response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Message: extractErrorMessage(respBody)}
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding upload response: %w", err)
		}
	}
	return nil
}

// BuildQuery is a small helper around url.Values for components that
// need query-string construction (grounded on beadsapi's url.Values
// usage).
func BuildQuery(pairs map[string]string) string {
	v := url.Values{}
	for k, val := range pairs {
		if val != "" {
			v.Set(k, val)
		}
	}
	return v.Encode()
}
