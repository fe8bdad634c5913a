package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yanqian/clinic-console/internal/domain/session"
	apperrors "github.com/yanqian/clinic-console/pkg/errors"
)

const defaultTimeout = 15 * time.Second

// Backend auth routes, relative to the API base URL.
const (
	pathLogin                = "auth/login"
	pathLogout               = "auth/logout"
	pathForceLogout          = "auth/force-logout"
	pathRegister             = "auth/register"
	pathChangePassword       = "auth/change-password"
	pathResetPassword        = "auth/reset-password"
	pathVerifyEmail          = "auth/verify-email/%s/%s"
	pathResetPasswordConfirm = "auth/reset-password-confirm/%s/%s"
	pathTokenRefresh         = "auth/token/refresh"
	pathTokenLifetime        = "auth/token/lifetime"
	pathUserInfo             = "auth/user-info"
)

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status=%d body=%s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client calls the clinic backend auth endpoints. It is stateless: one
// request per call, no retries, no caching.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client. transport is usually the authorization
// Transport; nil uses http.DefaultTransport.
func NewClient(baseURL string, timeout time.Duration, transport http.RoundTripper) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

func (c *Client) Login(ctx context.Context, creds session.Credentials) (session.LoginResponse, error) {
	var resp session.LoginResponse
	err := c.do(ctx, http.MethodPost, pathLogin, creds, &resp)
	return resp, err
}

func (c *Client) Logout(ctx context.Context, refresh string) error {
	return c.do(ctx, http.MethodPost, pathLogout, map[string]string{"refresh": refresh}, nil)
}

func (c *Client) ForceLogout(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, pathForceLogout, map[string]string{"email": email}, nil)
}

func (c *Client) Register(ctx context.Context, req session.RegisterRequest) error {
	return c.do(ctx, http.MethodPost, pathRegister, req, nil)
}

func (c *Client) VerifyEmail(ctx context.Context, params session.VerificationParams) error {
	return c.do(ctx, http.MethodGet, linkPath(pathVerifyEmail, params), nil, nil)
}

func (c *Client) ResetPassword(ctx context.Context, req session.ResetPasswordRequest) error {
	return c.do(ctx, http.MethodPost, pathResetPassword, req, nil)
}

func (c *Client) ConfirmResetPassword(ctx context.Context, params session.VerificationParams, req session.ResetPasswordConfirmRequest) error {
	return c.do(ctx, http.MethodPost, linkPath(pathResetPasswordConfirm, params), req, nil)
}

func (c *Client) ChangePassword(ctx context.Context, req session.ChangePasswordRequest) error {
	return c.do(ctx, http.MethodPost, pathChangePassword, req, nil)
}

func (c *Client) RefreshTokens(ctx context.Context, refresh string) (session.TokenPair, error) {
	var pair session.TokenPair
	err := c.do(ctx, http.MethodPost, pathTokenRefresh, map[string]string{"refresh": refresh}, &pair)
	return pair, err
}

func (c *Client) UserInfo(ctx context.Context) (session.User, error) {
	var user session.User
	err := c.do(ctx, http.MethodGet, pathUserInfo, nil, &user)
	return user, err
}

func (c *Client) TokenLifetime(ctx context.Context) (session.TokenLifetime, error) {
	var lifetime session.TokenLifetime
	err := c.do(ctx, http.MethodGet, pathTokenLifetime, nil, &lifetime)
	return lifetime, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidInput, "encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, buildURL(c.baseURL, path), reader)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeNetwork, fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		statusErr := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(payload)}
		code := apperrors.CodeAPI
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			code = apperrors.CodeUnauthorized
		}
		return apperrors.Wrap(code, "backend rejected request", statusErr)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.CodeAPI, fmt.Sprintf("decode %s response", path), err)
	}
	return nil
}

// buildURL joins parts without duplicate slashes and always ends with "/".
func buildURL(parts ...string) string {
	trimmed := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed = append(trimmed, strings.Trim(part, "/"))
	}
	return strings.Join(trimmed, "/") + "/"
}

func linkPath(format string, params session.VerificationParams) string {
	return fmt.Sprintf(format, url.PathEscape(params.UID), url.PathEscape(params.Token))
}

var _ session.API = (*Client)(nil)
