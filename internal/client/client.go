// Package client is the Go SDK of the TimeEgg API. It attaches the bearer
// token, refreshes an expired session once per 401 and turns every error
// body into an *APIError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	refreshPath    = "/api/auth/refresh"
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 64 << 10
)

// Options configures a Client. Only BaseURL is required.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenStore
	// DevToken is sent when the store holds no access token.
	DevToken string
	Clock    clockwork.Clock
	Logger   *zap.Logger
	// CacheTTL is how long room queries are served from memory. Zero
	// disables the cache.
	CacheTTL time.Duration
	// OnSessionExpired runs after a failed refresh cleared the tokens.
	OnSessionExpired func()
}

type Client struct {
	baseURL   string
	hc        *http.Client
	tokens    TokenStore
	devToken  string
	clock     clockwork.Clock
	logger    *zap.Logger
	cache     *Cache
	onExpired func()
	refreshes singleflight.Group
}

func New(opts Options) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		hc:        opts.HTTPClient,
		tokens:    opts.Tokens,
		devToken:  opts.DevToken,
		clock:     opts.Clock,
		logger:    opts.Logger,
		onExpired: opts.OnSessionExpired,
	}
	if c.hc == nil {
		c.hc = &http.Client{Timeout: defaultTimeout}
	}
	if c.tokens == nil {
		c.tokens = NewMemoryTokenStore()
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.cache = NewCache(opts.CacheTTL, c.clock)
	return c
}

// Tokens exposes the session store.
func (c *Client) Tokens() TokenStore { return c.tokens }

// Cache exposes the query cache so callers can invalidate after writes.
func (c *Client) Cache() *Cache { return c.cache }

// call is one logical request. The flags keep each kind of retry to a
// single attempt.
type call struct {
	method      string
	path        string
	body        []byte
	contentType string
	out         any
	anonymous   bool
	retry5xx    bool

	refreshed bool
	retried   bool
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	cl := call{method: method, path: path, out: out}
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		cl.body, cl.contentType = raw, "application/json"
	}
	return c.send(ctx, cl)
}

// query is a GET that is retried once on a 5xx.
func (c *Client) query(ctx context.Context, path string, out any) error {
	return c.send(ctx, call{method: http.MethodGet, path: path, out: out, retry5xx: true})
}

func (c *Client) send(ctx context.Context, cl call) error {
	used := c.bearer()
	status, body, err := c.roundTrip(ctx, cl, used)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusUnauthorized && !cl.anonymous && !cl.refreshed && cl.path != refreshPath:
		if err := c.refresh(ctx, used); err != nil {
			return err
		}
		cl.refreshed = true
		return c.send(ctx, cl)
	case status >= 500 && cl.retry5xx && !cl.retried:
		c.logger.Debug("retrying query after server error", zap.String("path", cl.path), zap.Int("status", status))
		cl.retried = true
		return c.send(ctx, cl)
	case status >= 400:
		return normalize(status, body)
	}
	if cl.out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, cl.out); err != nil {
		return &APIError{Status: status, Code: "DECODE_ERROR", Message: err.Error()}
	}
	return nil
}

func (c *Client) bearer() string {
	if t := c.tokens.Access(); t != "" {
		return t
	}
	return c.devToken
}

func (c *Client) roundTrip(ctx context.Context, cl call, token string) (int, []byte, error) {
	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return 0, nil, networkError(err)
	}
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" && !cl.anonymous {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, networkError(err)
	}
	defer resp.Body.Close()
	reader := io.Reader(resp.Body)
	if resp.StatusCode >= 400 {
		reader = io.LimitReader(resp.Body, maxErrorBody)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return 0, nil, networkError(err)
	}
	return resp.StatusCode, raw, nil
}

type tokenPair struct {
	Access struct {
		Token string `json:"token"`
	} `json:"access"`
	Refresh struct {
		Token string `json:"token"`
	} `json:"refresh"`
}

// CodeSessionExpired is returned once a refresh failed and the tokens
// were cleared.
const CodeSessionExpired = "SESSION_EXPIRED"

func sessionExpired() *APIError {
	return &APIError{Status: http.StatusUnauthorized, Code: CodeSessionExpired, Message: "session expired; sign in again"}
}

// refresh exchanges the refresh token once for every request that failed
// with the access token `used`. Requests that arrive after another one
// already rotated the tokens just retry.
func (c *Client) refresh(ctx context.Context, used string) error {
	if cur := c.bearer(); cur != "" && cur != used {
		return nil
	}
	_, err, _ := c.refreshes.Do("refresh", func() (any, error) {
		if cur := c.bearer(); cur != "" && cur != used {
			return nil, nil
		}
		rt := c.tokens.Refresh()
		if rt == "" {
			return nil, c.expire()
		}
		raw, _ := json.Marshal(map[string]string{"refresh_token": rt})
		var pair tokenPair
		err := c.send(context.WithoutCancel(ctx), call{
			method: http.MethodPost, path: refreshPath, body: raw,
			contentType: "application/json", out: &pair, anonymous: true,
		})
		var ae *APIError
		if errors.As(err, &ae) && ae.Code == CodeNetwork {
			return nil, err
		}
		if err != nil || pair.Access.Token == "" {
			c.logger.Info("session refresh rejected", zap.Error(err))
			return nil, c.expire()
		}
		if err := c.tokens.Set(pair.Access.Token, pair.Refresh.Token); err != nil {
			c.logger.Warn("store refreshed tokens", zap.Error(err))
		}
		return nil, nil
	})
	return err
}

func (c *Client) expire() error {
	if err := c.tokens.Clear(); err != nil {
		c.logger.Warn("clear tokens", zap.Error(err))
	}
	if c.onExpired != nil {
		c.onExpired()
	}
	return sessionExpired()
}
