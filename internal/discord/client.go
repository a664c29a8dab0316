// Package discord is a small REST client for the handful of bot operations
// verification needs: DMs, role edits, member fetches and nickname edits.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"vrcverify/pkg/platform/sentinel"
)

const apiBase = "https://discord.com/api/v10"

// Member is a guild member as returned by the API.
type Member struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Nick  string   `json:"nick"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the member currently holds roleID.
func (m *Member) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// Client issues bot-token REST calls with retry on 429.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
	maxRetries int
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a test server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient replaces the transport, for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New builds a client with a pooled transport tuned for the Discord API.
func New(token string, logger *slog.Logger, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	c := &Client{
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		baseURL:    apiBase,
		token:      token,
		logger:     logger,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetMember fetches one guild member. Returns sentinel.ErrNotFound when the
// user is not (or no longer) in the guild.
func (c *Client) GetMember(ctx context.Context, guildID, userID string) (*Member, error) {
	var member Member
	path := fmt.Sprintf("/guilds/%s/members/%s", guildID, userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// AddRole grants roleID to the member.
func (c *Client) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s", guildID, userID, roleID)
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// RemoveRole revokes roleID from the member.
func (c *Client) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s", guildID, userID, roleID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// EditNickname sets the member's guild nickname.
func (c *Client) EditNickname(ctx context.Context, guildID, userID, nick string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s", guildID, userID)
	return c.do(ctx, http.MethodPatch, path, map[string]string{"nick": nick}, nil)
}

// SendDM opens (or reuses) the DM channel with userID and sends content.
func (c *Client) SendDM(ctx context.Context, userID, content string) error {
	var channel struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/users/@me/channels",
		map[string]string{"recipient_id": userID}, &channel)
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/channels/"+channel.ID+"/messages",
		map[string]string{"content": content}, nil)
}

// do issues one API call, retrying on 429 with the server's Retry-After.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bot "+c.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < c.maxRetries {
			wait := retryAfter(resp)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			c.logger.Warn("rate limited by discord", "path", path, "retry_after", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%s %s: %w", method, path, sentinel.ErrForbidden)
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", method, path, sentinel.ErrNotFound)
		case resp.StatusCode >= 400:
			return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, sentinel.ErrUnavailable)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode %s response: %w", path, err)
			}
		} else {
			io.Copy(io.Discard, resp.Body)
		}
		return nil
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs*1000)*time.Millisecond + 500*time.Millisecond
		}
	}
	return time.Second
}
