// Package vrchat is a minimal VRChat API client covering what verification
// needs: one logged-in session and profile reads.
package vrchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"vrcverify/pkg/platform/sentinel"
)

// AgeVerified18Plus is the exact sentinel the API reports for a completed
// 18+ age verification. "unknown" or an absent field never matches.
const AgeVerified18Plus = "18+"

// Profile is the subset of a VRChat user we evaluate.
type Profile struct {
	ID                    string `json:"id"`
	DisplayName           string `json:"displayName"`
	Bio                   string `json:"bio"`
	AgeVerificationStatus string `json:"ageVerificationStatus"`
}

// Client talks to the VRChat API through one persistent cookie session.
// Logins are rate-limited hard upstream, so the session is established once
// and re-established only on auth expiry.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	twoFactor  string // optional one-time code supplied via config
	userAgent  string
	logger     *slog.Logger

	mu       sync.Mutex
	loggedIn bool
}

// Config carries the client settings.
type Config struct {
	BaseURL   string
	Username  string
	Password  string
	TwoFactor string
	UserAgent string
}

// New builds a client with a pooled transport and its own cookie jar.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &Client{
		httpClient: &http.Client{Transport: transport, Jar: jar, Timeout: 30 * time.Second},
		baseURL:    cfg.BaseURL,
		username:   cfg.Username,
		password:   cfg.Password,
		twoFactor:  cfg.TwoFactor,
		userAgent:  cfg.UserAgent,
		logger:     logger,
	}, nil
}

// GetProfile fetches a user profile. Auth is established lazily and retried
// once if the session expired. Callers are expected to dispatch through the
// rate-limited scheduler; this method does no pacing of its own.
func (c *Client) GetProfile(ctx context.Context, vrchatID string) (*Profile, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	profile, err := c.fetchProfile(ctx, vrchatID)
	if errors.Is(err, errSessionExpired) {
		c.mu.Lock()
		c.loggedIn = false
		c.mu.Unlock()
		if err := c.ensureSession(ctx); err != nil {
			return nil, err
		}
		profile, err = c.fetchProfile(ctx, vrchatID)
	}
	return profile, err
}

var errSessionExpired = fmt.Errorf("vrchat session expired: %w", sentinel.ErrUnavailable)

func (c *Client) fetchProfile(ctx context.Context, vrchatID string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/"+vrchatID, nil)
	if err != nil {
		return nil, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch profile %s: %w", vrchatID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, errSessionExpired
	case http.StatusNotFound:
		return nil, fmt.Errorf("vrchat user %s: %w", vrchatID, sentinel.ErrNotFound)
	default:
		return nil, fmt.Errorf("fetch profile %s: status %d: %w", vrchatID, resp.StatusCode, sentinel.ErrUnavailable)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", vrchatID, err)
	}
	return &profile, nil
}

func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}

	status, body, err := c.authUser(ctx, true)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("vrchat login: status %d: %w", status, sentinel.ErrUnavailable)
	}

	var authResp struct {
		RequiresTwoFactorAuth []string `json:"requiresTwoFactorAuth"`
		DisplayName           string   `json:"displayName"`
	}
	if err := json.Unmarshal(body, &authResp); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}

	if len(authResp.RequiresTwoFactorAuth) > 0 {
		if err := c.verifyTwoFactor(ctx, authResp.RequiresTwoFactorAuth); err != nil {
			return err
		}
		// confirm the session is now usable
		status, body, err = c.authUser(ctx, false)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("vrchat login after 2fa: status %d: %w", status, sentinel.ErrUnavailable)
		}
		if err := json.Unmarshal(body, &authResp); err != nil {
			return fmt.Errorf("decode auth response: %w", err)
		}
	}

	c.loggedIn = true
	c.logger.Info("vrchat session established", "display_name", authResp.DisplayName)
	return nil
}

// authUser calls GET /auth/user, with basic credentials on the first pass
// and cookie auth afterwards.
func (c *Client) authUser(ctx context.Context, basicAuth bool) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/user", nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if basicAuth {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("vrchat auth: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read auth response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) verifyTwoFactor(ctx context.Context, methods []string) error {
	if c.twoFactor == "" {
		return fmt.Errorf("vrchat requires two-factor auth and no code is configured: %w", sentinel.ErrUnavailable)
	}

	endpoint := "/auth/twofactorauth/totp/verify"
	for _, m := range methods {
		if m == "emailOtp" {
			endpoint = "/auth/twofactorauth/emailotp/verify"
			break
		}
	}

	payload, _ := json.Marshal(map[string]string{"code": c.twoFactor})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build 2fa request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vrchat 2fa verify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vrchat 2fa verify: status %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}
	return nil
}
