// Package bigarena implements the authenticated session against the BigArena
// vendor panel: the credentialed login handshake, CSRF token management, and
// the product-listing call used by the inventory monitor.
package bigarena

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultBaseURL   = "https://my.bigarena.net"
	defaultTimeout   = 20 * time.Second
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/123.0.0.0 Safari/537.36"

	loginPath    = "/login"
	productsPath = "/orders/get-products"

	// The panel answers 419 when the session cookie or CSRF token has gone
	// stale. Everything else non-2xx is a plain transport failure.
	statusSessionExpired = 419

	// Page size for the DataTables-style product listing. The panel caps a
	// vendor's catalogue well below this, so one page is always enough.
	productPageLength = 2000
)

// ErrSessionExpired is returned by FetchProducts when the panel rejects the
// current session. Callers are expected to Refresh once and retry.
var ErrSessionExpired = errors.New("session expired")

// AuthError wraps a failed login handshake.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bigarena auth: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("bigarena auth: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError reports a non-2xx response that is not a session expiry.
type TransportError struct {
	StatusCode int
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bigarena: unexpected status %d", e.StatusCode)
}

// Variant carries the per-variant stock level of a product. Quantities arrive
// as numbers or numeric strings depending on the panel build; anything else
// counts as zero.
type Variant struct {
	OnHandQuantity Quantity `json:"on_hand_quantity"`
}

// Product is one entry of the panel's product listing. Name is HTML markup,
// not plain text.
type Product struct {
	ID       json.Number `json:"id"`
	Name     string      `json:"name"`
	Variants []Variant   `json:"variants"`
}

// Quantity tolerates the panel's loose typing of stock counts: integers,
// numeric strings, fractional values (truncated), anything else zero.
type Quantity int

func (q *Quantity) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(strings.Trim(string(data), `"`))
	if n, err := strconv.Atoi(s); err == nil {
		*q = Quantity(n)
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*q = Quantity(int(f))
		return nil
	}
	*q = 0
	return nil
}

// Config controls how the Client talks to the panel.
type Config struct {
	BaseURL   string
	Email     string
	Password  string
	UserAgent string
	Timeout   time.Duration
}

// Client holds the authenticated session state shared by all vendor fetches
// in a run: the cookie jar and the CSRF header token. Both live behind the
// mutex so fetches may run concurrently with a refresh, and re-authentication
// is serialized through a single-flight group so concurrent expirers share
// one refresh instead of racing.
type Client struct {
	baseURL   string
	email     string
	password  string
	userAgent string
	timeout   time.Duration

	mu         sync.RWMutex
	httpClient *http.Client
	token      string

	refresh singleflight.Group
}

// NewClient validates the configuration and returns an unauthenticated Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Email == "" {
		return nil, errors.New("email is required")
	}
	if cfg.Password == "" {
		return nil, errors.New("password is required")
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	return &Client{
		baseURL:    base,
		email:      cfg.Email,
		password:   cfg.Password,
		userAgent:  ua,
		timeout:    timeout,
		httpClient: &http.Client{Jar: jar, Timeout: timeout},
	}, nil
}

// Authenticated reports whether a login has produced a usable header token.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

// EnsureSession logs in unless a session token is already held.
func (c *Client) EnsureSession(ctx context.Context) error {
	if c.Authenticated() {
		return nil
	}
	return c.Login(ctx)
}

// Login performs the credentialed handshake: fetch the login page, extract
// the CSRF token, POST the credentials, then derive the header token from the
// response body or, failing that, from the XSRF-TOKEN cookie. A session
// without a verifiable token is unusable, so that case fails even when the
// HTTP status was a success.
func (c *Client) Login(ctx context.Context) error {
	page, _, err := c.get(ctx, loginPath)
	if err != nil {
		return &AuthError{Reason: "load login page", Err: err}
	}

	formToken, err := extractToken(string(page))
	if err != nil {
		return &AuthError{Reason: "login page", Err: err}
	}

	form := url.Values{
		"_token":   {formToken},
		"email":    {c.email},
		"password": {c.password},
		"remember": {"on"},
	}

	body, resp, err := c.postForm(ctx, loginPath, form)
	if err != nil {
		return &AuthError{Reason: "submit credentials", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &AuthError{Reason: fmt.Sprintf("credentials rejected (status %d)", resp.StatusCode)}
	}

	// Prefer a refreshed token embedded in the response page.
	if token, err := extractToken(string(body)); err == nil {
		c.setToken(token)
		return nil
	}

	// Fall back to the XSRF-TOKEN cookie, percent-decoded.
	httpClient, _ := c.session()
	for _, cookie := range httpClient.Jar.Cookies(c.mustURL(loginPath)) {
		if cookie.Name == "XSRF-TOKEN" && cookie.Value != "" {
			c.setToken(unquoteCookieToken(cookie.Value))
			return nil
		}
	}

	return &AuthError{Reason: "no token in response or cookies", Err: ErrTokenNotFound}
}

// Refresh discards the session state wholesale and logs in again. The HTTP
// client is replaced rather than patched so in-flight fetches keep their own
// jar and never observe a half-reset session. Concurrent callers collapse
// into a single login; every waiter observes its result.
func (c *Client) Refresh(ctx context.Context) error {
	_, err, _ := c.refresh.Do("login", func() (any, error) {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("reset cookie jar: %w", err)
		}

		c.mu.Lock()
		c.token = ""
		c.httpClient = &http.Client{Jar: jar, Timeout: c.timeout}
		c.mu.Unlock()

		return nil, c.Login(ctx)
	})
	return err
}

// FetchProducts retrieves the current product listing for a vendor using the
// authenticated session. Returns ErrSessionExpired on the panel's 419 signal;
// all other non-2xx statuses surface as *TransportError.
func (c *Client) FetchProducts(ctx context.Context, vendorID int) ([]Product, error) {
	form := url.Values{
		"draw":          {"1"},
		"start":         {"0"},
		"length":        {strconv.Itoa(productPageLength)},
		"vendor_id":     {strconv.Itoa(vendorID)},
		"search[value]": {""},
		"search[regex]": {"false"},
	}

	body, resp, err := c.postForm(ctx, productsPath, form)
	if err != nil {
		return nil, fmt.Errorf("fetch products: %w", err)
	}

	switch {
	case resp.StatusCode == statusSessionExpired:
		return nil, ErrSessionExpired
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &TransportError{StatusCode: resp.StatusCode}
	}

	var payload struct {
		Data []Product `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode product listing: %w", err)
	}
	return payload.Data, nil
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) session() (*http.Client, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.httpClient, c.token
}

func (c *Client) mustURL(path string) *url.URL {
	u, _ := url.Parse(c.baseURL + path)
	return u
}

func (c *Client) get(ctx context.Context, path string) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, nil, err
	}
	return c.do(req)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, *http.Response, error) {
	httpClient, token := c.session()

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.baseURL+"/")
	if token != "" {
		req.Header.Set("X-CSRF-TOKEN", token)
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, fmt.Errorf("read response body: %w", err)
	}
	return body, resp, nil
}
