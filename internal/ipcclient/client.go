// Package ipcclient is the client side of the local IPC surface
// (spec.md §4.11): it lets the config-sync and log-collector
// processes pull the current access token from the agent process
// without each maintaining its own credential refresh logic.
//
// Grounded on the same original_source/apps/agent/services/ubus_server.h
// contract the server (internal/ipcserver) implements, from the caller's
// side: is_token_valid, refresh_access_token, current_token, gated by
// an acceptance flag that starts false and is only set once a valid
// token has actually been observed.
package ipcclient

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"wayru-agent/internal/devicemodel"
)

// DefaultDialTimeout bounds how long a single IPC call waits to
// connect before giving up.
const DefaultDialTimeout = 2 * time.Second

// maxConsecutiveFailures is how many refresh failures in a row flip
// acceptance back off, per spec.md §4.11's "may be flipped off by
// repeated [...] failures".
const maxConsecutiveFailures = 3

type request struct {
	Method string `json:"method"`
}

type rpcError struct {
	Error string `json:"error"`
	Code  int32  `json:"code"`
}

// Client calls the agent's local IPC server (internal/ipcserver) over
// its Unix domain socket to obtain the current access token.
type Client struct {
	socketPath string
	logger     *slog.Logger

	mu          sync.Mutex
	cached      devicemodel.AccessToken
	acceptance  bool
	failStreak  int
}

// New constructs a Client targeting the agent's IPC socket.
func New(socketPath string, logger *slog.Logger) *Client {
	return &Client{socketPath: socketPath, logger: logger}
}

type accessTokenResponse struct {
	Token     string `json:"token"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
	Valid     uint8  `json:"valid"`
}

// call dials the socket fresh, sends one request, and decodes one
// response. IPC calls are infrequent enough (one per refresh cycle)
// that a short-lived connection per call is simpler than pooling.
func (c *Client) call(method string, out any) error {
	conn, err := net.DialTimeout("unix", c.socketPath, DefaultDialTimeout)
	if err != nil {
		return fmt.Errorf("ipcclient: dial: %w", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(request{Method: method}); err != nil {
		return fmt.Errorf("ipcclient: encode request: %w", err)
	}

	raw, err := readOneMessage(conn)
	if err != nil {
		return fmt.Errorf("ipcclient: read response: %w", err)
	}

	var rpcErr rpcError
	if json.Unmarshal(raw, &rpcErr) == nil && rpcErr.Error != "" {
		return fmt.Errorf("ipcclient: %s (code %d)", rpcErr.Error, rpcErr.Code)
	}
	return json.Unmarshal(raw, out)
}

func readOneMessage(conn net.Conn) (json.RawMessage, error) {
	dec := json.NewDecoder(bufio.NewReader(conn))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// RefreshAccessToken calls get_access_token and updates the cached
// token and acceptance flag. Acceptance flips true on the first valid
// token observed and flips false after maxConsecutiveFailures
// consecutive call failures.
func (c *Client) RefreshAccessToken() error {
	var resp accessTokenResponse
	err := c.call("get_access_token", &resp)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.failStreak++
		if c.failStreak >= maxConsecutiveFailures {
			c.acceptance = false
		}
		if c.logger != nil {
			c.logger.Warn("ipc client: refresh access token failed", "error", err, "fail_streak", c.failStreak)
		}
		return err
	}

	c.failStreak = 0
	c.cached = devicemodel.AccessToken{
		Token:        resp.Token,
		IssuedAtSec:  resp.IssuedAt,
		ExpiresAtSec: resp.ExpiresAt,
	}
	if resp.Valid == 1 {
		c.acceptance = true
	}
	return nil
}

// IsTokenValid reports whether the cached token is currently usable.
func (c *Client) IsTokenValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptance && c.cached.Usable(time.Now())
}

// CurrentToken satisfies the configsync.TokenProvider and
// logcollector.TokenProvider interfaces: it returns the cached token
// and whether it is currently usable, without making an IPC call.
func (c *Client) CurrentToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cached.Token, c.acceptance && c.cached.Usable(time.Now())
}

// Invalidate clears the cached token and acceptance flag, forcing the
// next RefreshAccessToken call to re-establish trust.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = devicemodel.AccessToken{}
	c.acceptance = false
}
