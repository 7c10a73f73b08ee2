// Package webodm is a client for the WebODM REST API.
//
// Every error returned by the client is a *fault.Error so callers can decide
// on retries and re-login without inspecting HTTP details.
package webodm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mordilloSan/go-logger/logger"

	"odmclient/internal/config"
	"odmclient/internal/fault"
)

// ErrNotAuthenticated is returned when an operation needs a token and none is set
var ErrNotAuthenticated = errors.New("not authenticated, log in first")

// maxErrorBody bounds how much of an error response is kept as detail
const maxErrorBody = 4096

// Client talks to one WebODM server
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for the server in cfg
func NewClient(cfg config.ServerConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		timeout: cfg.Timeout,
		http:    &http.Client{},
	}
}

// BaseURL returns the server URL without trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken installs a token obtained earlier
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current token, empty when logged out
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Authenticate exchanges credentials for a JWT and keeps it for later calls
func (c *Client) Authenticate(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var resp struct {
		Token string `json:"token"`
	}
	// Bad credentials come back as 400; report them as an authorization problem.
	err := c.doJSON(ctx, "authenticate", http.MethodPost, "/api/token-auth/", form, false, &resp)
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Status == http.StatusBadRequest {
		fe.Kind = fault.KindAuthorization
	}
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &fault.Error{Kind: fault.KindAuthorization, Op: "authenticate", Detail: "server returned no token"}
	}

	c.SetToken(resp.Token)
	logger.DebugKV("authenticated", "server", c.baseURL, "user", username)
	return resp.Token, nil
}

// newRequest builds a request against the API. body may be url.Values,
// an io.Reader or nil.
func (c *Client) newRequest(ctx context.Context, method, path string, body any, auth bool) (*http.Request, error) {
	var (
		reader      io.Reader
		contentType string
	)
	switch b := body.(type) {
	case nil:
	case url.Values:
		reader = strings.NewReader(b.Encode())
		contentType = "application/x-www-form-urlencoded"
	case io.Reader:
		reader = b
	default:
		return nil, fmt.Errorf("unsupported request body %T", body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	if auth {
		token := c.Token()
		if token == "" {
			return nil, ErrNotAuthenticated
		}
		req.Header.Set("Authorization", "JWT "+token)
	}
	return req, nil
}

// send performs req and turns transport failures and non-2xx answers into
// classified errors. The caller owns the returned body.
func (c *Client) send(op string, req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &fault.Error{Kind: fault.KindNetwork, Op: op, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, statusError(op, resp.StatusCode, data)
}

// doJSON runs a bounded request and decodes the answer into out (if non-nil)
func (c *Client) doJSON(ctx context.Context, op, method, path string, body any, auth bool, out any) error {
	data, err := c.doRaw(ctx, op, method, path, body, auth)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &fault.Error{Kind: fault.KindRejected, Op: op, Detail: "unexpected response", Err: err}
	}
	return nil
}

// doRaw runs a bounded request and returns the response body
func (c *Client) doRaw(ctx context.Context, op, method, path string, body any, auth bool) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, body, auth)
	if err != nil {
		return nil, wrapRequestError(op, err)
	}

	resp, err := c.send(op, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &fault.Error{Kind: fault.KindNetwork, Op: op, Err: err}
	}
	return data, nil
}

func wrapRequestError(op string, err error) error {
	if errors.Is(err, ErrNotAuthenticated) {
		return &fault.Error{Kind: fault.KindAuthorization, Op: op, Err: err}
	}
	return &fault.Error{Kind: fault.KindRejected, Op: op, Err: err}
}

// statusError classifies a non-2xx response
func statusError(op string, status int, body []byte) *fault.Error {
	e := &fault.Error{Op: op, Status: status, Detail: errorDetail(body)}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = fault.KindAuthorization
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		e.Kind = fault.KindNetwork
	default:
		e.Kind = fault.KindRejected
	}
	return e
}

// errorDetail extracts the human readable part of an error body
func errorDetail(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		for _, key := range []string{"detail", "error", "non_field_errors"} {
			if v, ok := obj[key]; ok {
				return flattenDetail(v)
			}
		}
		parts := make([]string, 0, len(obj))
		for k, v := range obj {
			parts = append(parts, k+": "+flattenDetail(v))
		}
		return strings.Join(parts, "; ")
	}

	text := string(body)
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return text
}

func flattenDetail(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, flattenDetail(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}
