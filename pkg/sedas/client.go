package sedas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	sedashttp "github.com/SatelliteApplicationsCatapult/sedas-go/internal/http"
)

// DefaultBaseURL is the production SeDAS API endpoint.
const DefaultBaseURL = "https://geobrowser.satapps.org/api/"

// validUntilLayout is the timestamp format the authentication endpoint uses
// for token expiry.
const validUntilLayout = "2006-01-02T15:04:05Z"

// tokenSafetyMargin is how long before the advertised expiry a token is
// treated as stale and refreshed.
const tokenSafetyMargin = 5 * time.Minute

var (
	// ErrMissingCredentials is returned by NewClient when the username or
	// password is blank.
	ErrMissingCredentials = errors.New("sedas: username and password must not be blank")

	// ErrNoDownloadURL is returned when fetching a product that has no
	// download URL, typically because it is still in the long term archive.
	ErrNoDownloadURL = errors.New("sedas: no download url defined for product")
)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different SeDAS deployment.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(base, "/") + "/"
	}
}

// WithHTTPOptions overrides the transport settings, such as timeouts and
// retry behavior.
func WithHTTPOptions(opts sedashttp.Options) Option {
	return func(c *Client) {
		c.httpOpts = opts
	}
}

// WithLogger sets the logger used by the client. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// Client talks to the SeDAS API. It logs in on first use and keeps the
// session token refreshed, so callers never deal with authentication
// directly. A Client is safe for use from multiple goroutines.
type Client struct {
	baseURL  string
	username string
	password string
	httpOpts sedashttp.Options
	http     *sedashttp.Client
	log      *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a client for the given SeDAS account.
func NewClient(username, password string, opts ...Option) (*Client, error) {
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	c := &Client{
		baseURL:  DefaultBaseURL,
		username: username,
		password: password,
		httpOpts: sedashttp.DefaultOptions(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = sedashttp.NewClient(c.httpOpts)

	return c, nil
}

// Login authenticates against the SeDAS platform and stores the session
// token. Calling it is optional: every operation logs in automatically when
// no valid token is held.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

// ensureToken logs in when no token is held or the current one is within
// the safety margin of its expiry.
func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return nil
	}
	return c.loginLocked(ctx)
}

// loginLocked performs the authentication request. c.mu must be held.
// Login failures are returned directly rather than routed through the
// token recovery path, which would loop on bad credentials.
func (c *Client) loginLocked(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return fmt.Errorf("sedas: encode credentials: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	resp, err := c.http.Post(ctx, c.baseURL+"authentication", payload, header)
	if err != nil {
		return fmt.Errorf("sedas: login: %w", err)
	}
	defer resp.Body.Close()

	if err := sedashttp.CheckStatus(resp.StatusCode); err != nil {
		body, _ := io.ReadAll(resp.Body)
		c.log.Error("login failed",
			"status", resp.StatusCode,
			"body", strings.TrimSpace(string(body)))
		return fmt.Errorf("sedas: login: %w", err)
	}

	var auth struct {
		Token      string `json:"token"`
		ValidUntil string `json:"validUntil"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return fmt.Errorf("sedas: decode login response: %w", err)
	}

	expiry, err := time.Parse(validUntilLayout, auth.ValidUntil)
	if err != nil {
		return fmt.Errorf("sedas: parse token expiry: %w", err)
	}

	c.token = auth.Token
	c.tokenExpiry = expiry.Add(-tokenSafetyMargin)
	c.log.Debug("successful login", "valid_until", auth.ValidUntil)
	return nil
}

// header builds the authenticated request headers using the current token.
func (c *Client) header() http.Header {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Token "+token)
	return h
}

// call performs an authenticated request, logging in first when needed.
// When the API reports a token error the client logs in again and retries
// the request exactly once.
func (c *Client) call(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(ctx, method, url, body, c.header())
	if err != nil {
		return nil, err
	}

	recovered, err := c.recoverToken(ctx, resp)
	if err != nil {
		return nil, err
	}
	if recovered {
		resp, err = c.http.Do(ctx, method, url, body, c.header())
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// recoverToken reports whether resp is a token error that was recovered by
// logging in again. The response body is closed when recovery happens.
func (c *Client) recoverToken(ctx context.Context, resp *http.Response) (bool, error) {
	if !isTokenError(resp) {
		return false, nil
	}
	resp.Body.Close()

	c.log.Debug("session token rejected, logging in again", "status", resp.StatusCode)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	if err := c.loginLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// isTokenError reports whether the response indicates an expired or missing
// session token. The API signals this with a 401 or 403, or with a 400
// whose body names the token.
func isTokenError(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	case http.StatusBadRequest:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return strings.Contains(string(body), "User token does not exist")
	}
	return false
}

// Request asks the SeDAS long term archive to stage the given product for
// download. It returns the identifier of the archive request, to be polled
// with IsRequestReady.
func (c *Client) Request(ctx context.Context, product *Product) (string, error) {
	resp, err := c.call(ctx, http.MethodPost, c.baseURL+"request/"+url.PathEscape(product.SupplierID), nil)
	if err != nil {
		return "", fmt.Errorf("sedas: request %s: %w", product.SupplierID, err)
	}
	defer resp.Body.Close()

	if err := sedashttp.CheckStatus(resp.StatusCode); err != nil {
		return "", fmt.Errorf("sedas: request %s: %w", product.SupplierID, err)
	}

	var out struct {
		RequestID string `json:"requestId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("sedas: decode request response: %w", err)
	}
	return out.RequestID, nil
}

// IsRequestReady checks on an archive request. It returns the download URL
// once the request is complete, or the empty string while the product is
// still being staged.
func (c *Client) IsRequestReady(ctx context.Context, requestID string) (string, error) {
	resp, err := c.call(ctx, http.MethodGet, c.baseURL+"request?ids="+url.QueryEscape(requestID), nil)
	if err != nil {
		return "", fmt.Errorf("sedas: request status %s: %w", requestID, err)
	}
	defer resp.Body.Close()

	if err := sedashttp.CheckStatus(resp.StatusCode); err != nil {
		return "", fmt.Errorf("sedas: request status %s: %w", requestID, err)
	}

	var statuses []struct {
		DownloadURL string `json:"downloadUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return "", fmt.Errorf("sedas: decode request status: %w", err)
	}
	if len(statuses) == 0 {
		return "", nil
	}
	return statuses[0].DownloadURL, nil
}

// Fetch opens the download stream for a product. The caller must close the
// returned reader. Use Fetch over Download when the data is written
// somewhere other than a local file.
func (c *Client) Fetch(ctx context.Context, product *Product) (io.ReadCloser, error) {
	if product.DownloadURL == "" {
		return nil, fmt.Errorf("sedas: fetch %s: %w", product.SupplierID, ErrNoDownloadURL)
	}

	resp, err := c.call(ctx, http.MethodGet, product.DownloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("sedas: fetch %s: %w", product.SupplierID, err)
	}
	if err := sedashttp.CheckStatus(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("sedas: fetch %s: %w", product.SupplierID, err)
	}
	return resp.Body, nil
}

// Download transfers a product to a local file at path.
func (c *Client) Download(ctx context.Context, product *Product, path string) error {
	stream, err := c.Fetch(ctx, product)
	if err != nil {
		return err
	}
	defer stream.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sedas: create %s: %w", path, err)
	}
	if _, err := io.Copy(f, stream); err != nil {
		f.Close()
		return fmt.Errorf("sedas: download %s: %w", product.SupplierID, err)
	}
	return f.Close()
}
