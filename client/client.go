// Package client is the Go API client for the IB study server. It maps the
// auth, credit and plan responses onto errors and hooks and returns every
// other response untouched. There are no retries.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"ibstudy-server/sse"
)

var (
	// ErrUnauthorized is matched by *UnauthorizedError.
	ErrUnauthorized = errors.New("authentication required")
	// ErrInsufficientCredits is returned on HTTP 402.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// UnauthorizedError carries the login page to send the user to.
type UnauthorizedError struct {
	LoginPath string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("%v: sign in at %s", ErrUnauthorized, e.LoginPath)
}

func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

// UpgradeRequiredError is a 403 naming the plan the feature needs.
type UpgradeRequiredError struct {
	Plan    string
	Message string
}

func (e *UpgradeRequiredError) Error() string {
	return fmt.Sprintf("upgrade to %s required: %s", e.Plan, e.Message)
}

// APIError is a non-2xx response decoded by the JSON helpers.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

// Hooks run before the matching error is returned, the way the web app opens
// its login redirect, credits modal and upgrade prompt.
type Hooks struct {
	OnUnauthorized        func(loginPath string)
	OnInsufficientCredits func(credits int)
	OnUpgradeRequired     func(plan string)
}

// Client talks to one server. Cookies are kept in a jar so a login carries
// over to later calls; the CSRF token is sent on every request once known.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Hooks      Hooks

	mu   sync.RWMutex
	csrf string
}

// New builds a client. A nil transport uses http.DefaultTransport.
func New(baseURL, token string, transport http.RoundTripper, timeoutSec int) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   time.Duration(timeoutSec) * time.Second,
		},
	}
}

// SetCSRFToken stores the token sent in the X-CSRF-Token header.
func (c *Client) SetCSRFToken(token string) {
	c.mu.Lock()
	c.csrf = token
	c.mu.Unlock()
}

// CSRFToken returns the stored token.
func (c *Client) CSRFToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.csrf
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t := c.CSRFToken(); t != "" {
		req.Header.Set("X-CSRF-Token", t)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

// Do sends one request. 401, 402 and 403-with-required_plan become errors
// (after running the hooks); any other response is returned as is and the
// caller closes its body.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Path, err)
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		resp.Body.Close()
		e := &UnauthorizedError{LoginPath: LoginPath(req.URL.RequestURI())}
		if c.Hooks.OnUnauthorized != nil {
			c.Hooks.OnUnauthorized(e.LoginPath)
		}
		return nil, e
	case http.StatusPaymentRequired:
		var b struct {
			Credits int `json:"credits"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&b)
		resp.Body.Close()
		if c.Hooks.OnInsufficientCredits != nil {
			c.Hooks.OnInsufficientCredits(b.Credits)
		}
		return nil, fmt.Errorf("%w: %d left", ErrInsufficientCredits, b.Credits)
	case http.StatusForbidden:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		var b struct {
			Error        string `json:"error"`
			RequiredPlan string `json:"required_plan"`
		}
		if json.Unmarshal(raw, &b) == nil && b.RequiredPlan != "" {
			if c.Hooks.OnUpgradeRequired != nil {
				c.Hooks.OnUpgradeRequired(b.RequiredPlan)
			}
			return nil, &UpgradeRequiredError{Plan: b.RequiredPlan, Message: b.Error}
		}
		resp.Body = io.NopCloser(bytes.NewReader(raw))
	}
	return resp, nil
}

// IsNetworkError reports whether err means the server could not be reached,
// as opposed to the server answering with an error.
func IsNetworkError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// LoginPath is the login page that returns to next afterwards.
func LoginPath(next string) string {
	return "/login?next=" + url.QueryEscape(next)
}

// JSON sends body and decodes a 2xx response into out (which may be nil).
// Other statuses become *APIError.
func (c *Client) JSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var b struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &b) == nil && b.Error != "" {
		msg = b.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// Stream posts body and feeds the event stream through an sse.Parser,
// calling fn for each data event. It returns the parser so the caller can read
// the accumulated text and the final question.
func (c *Client) Stream(ctx context.Context, path string, body any, fn func(sse.Event) bool) (*sse.Parser, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", sse.ContentType)
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	p, err := sse.Read(resp.Body, fn)
	if err != nil {
		return p, fmt.Errorf("stream %s interrupted: %w", path, err)
	}
	return p, nil
}
