package api

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

	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/keyring"
)

// HTTPClient talks to the vaultfs server over its JSON API. It keeps the
// session token pair and refreshes it transparently when the access
// token expires mid-session.
type HTTPClient struct {
	baseURL string
	http    *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Logout drops the session tokens.
func (c *HTTPClient) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = ""
	c.refreshToken = ""
}

func (c *HTTPClient) tokens() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, c.refreshToken
}

func (c *HTTPClient) setTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = access
	c.refreshToken = refresh
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type apiError struct {
	Error string `json:"error"`
}

// do performs one JSON request/response exchange. A 401 on an
// authenticated call triggers one token refresh and one retry.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	status, err := c.doOnce(ctx, method, path, in, out, true)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		_, refresh := c.tokens()
		if refresh == "" {
			return common.ErrUnauthorized
		}
		if err := c.refresh(ctx); err != nil {
			return err
		}
		status, err = c.doOnce(ctx, method, path, in, out, true)
		if err != nil {
			return err
		}
	}
	return mapStatus(status)
}

// doOpen is do without a bearer token, for the auth bootstrap endpoints.
func (c *HTTPClient) doOpen(ctx context.Context, method, path string, in, out any) error {
	status, err := c.doOnce(ctx, method, path, in, out, false)
	if err != nil {
		return err
	}
	return mapStatus(status)
}

func (c *HTTPClient) doOnce(ctx context.Context, method, path string, in, out any, authed bool) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		access, _ := c.tokens()
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// ErrUnavailable wraps transport-level failures so callers can tell
// "server unreachable" from an application error.
var ErrUnavailable = errors.New("server unavailable")

func mapStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return common.ErrUnauthorized
	case status == http.StatusForbidden:
		return common.ErrAccessDenied
	case status == http.StatusNotFound:
		return common.ErrNotFound
	case status == http.StatusConflict:
		return common.ErrConflict
	default:
		return fmt.Errorf("server returned status %d", status)
	}
}

func (c *HTTPClient) refresh(ctx context.Context) error {
	_, refresh := c.tokens()
	var pair tokenPair
	if err := c.doOpen(ctx, http.MethodPost, "/auth/refresh", tokenPair{RefreshToken: refresh}, &pair); err != nil {
		return err
	}
	c.setTokens(pair.AccessToken, pair.RefreshToken)
	return nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.doOpen(ctx, http.MethodGet, "/ping", nil, nil)
}

func (c *HTTPClient) Register(ctx context.Context, reg *Registration) error {
	return c.doOpen(ctx, http.MethodPost, "/auth/register", reg, nil)
}

func (c *HTTPClient) GetSalt(ctx context.Context, userName string) ([]byte, error) {
	var resp struct {
		Salt []byte `json:"salt"`
	}
	if err := c.doOpen(ctx, http.MethodGet, "/auth/salt/"+url.PathEscape(userName), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Salt, nil
}

func (c *HTTPClient) Login(ctx context.Context, userName string, verifier []byte) (*LoginResult, error) {
	req := struct {
		UserName string `json:"username"`
		Verifier []byte `json:"verifier"`
	}{userName, verifier}

	var resp struct {
		AccessToken   string `json:"access_token"`
		RefreshToken  string `json:"refresh_token"`
		PublicKey     []byte `json:"public_key"`
		EncPrivateKey []byte `json:"enc_private_key"`
	}
	if err := c.doOpen(ctx, http.MethodPost, "/auth/login", req, &resp); err != nil {
		return nil, err
	}

	c.setTokens(resp.AccessToken, resp.RefreshToken)
	return &LoginResult{PublicKey: resp.PublicKey, EncPrivateKey: resp.EncPrivateKey}, nil
}

func (c *HTTPClient) ChangePassword(ctx context.Context, salt, verifier, encPrivateKey []byte) error {
	req := struct {
		Salt          []byte `json:"salt"`
		Verifier      []byte `json:"verifier"`
		EncPrivateKey []byte `json:"enc_private_key"`
	}{salt, verifier, encPrivateKey}
	return c.do(ctx, http.MethodPost, "/auth/change_password", req, nil)
}

func (c *HTTPClient) GetPublicKey(ctx context.Context, userName string) ([]byte, error) {
	var resp struct {
		PublicKey []byte `json:"public_key"`
	}
	if err := c.do(ctx, http.MethodGet, "/pubkey/"+url.PathEscape(userName), nil, &resp); err != nil {
		return nil, err
	}
	return resp.PublicKey, nil
}

func (c *HTTPClient) GetKeyring(ctx context.Context) (*keyring.WireKeyring, error) {
	var ring keyring.WireKeyring
	if err := c.do(ctx, http.MethodGet, "/keyring", nil, &ring); err != nil {
		return nil, err
	}
	return &ring, nil
}

func (c *HTTPClient) CreateFolder(ctx context.Context, parentID string, nameCT, wrappedKey []byte) (string, error) {
	req := struct {
		ParentID   string `json:"parent_id,omitempty"`
		NameCT     []byte `json:"name_ct"`
		WrappedKey []byte `json:"wrapped_key"`
	}{parentID, nameCT, wrappedKey}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/folder", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *HTTPClient) UploadFile(ctx context.Context, parentID string, nameCT, wrappedKey, content []byte) (string, error) {
	req := struct {
		ParentID   string `json:"parent_id,omitempty"`
		NameCT     []byte `json:"name_ct"`
		WrappedKey []byte `json:"wrapped_key"`
		Content    []byte `json:"content"`
	}{parentID, nameCT, wrappedKey, content}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/file", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *HTTPClient) Download(ctx context.Context, nodeID string) ([]byte, error) {
	var resp struct {
		Content []byte `json:"content"`
	}
	if err := c.do(ctx, http.MethodGet, "/file/"+nodeID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Content, nil
}

func (c *HTTPClient) WriteFile(ctx context.Context, nodeID string, content []byte) error {
	req := struct {
		Content []byte `json:"content"`
	}{content}
	return c.do(ctx, http.MethodPut, "/file/"+nodeID, req, nil)
}

func (c *HTTPClient) DeleteNode(ctx context.Context, nodeID string) error {
	return c.do(ctx, http.MethodDelete, "/node/"+nodeID, nil, nil)
}

func (c *HTTPClient) GetHolders(ctx context.Context, nodeID string) ([]Holder, error) {
	var resp struct {
		Holders []Holder `json:"holders"`
	}
	if err := c.do(ctx, http.MethodGet, "/node/"+nodeID+"/holders", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Holders, nil
}

func (c *HTTPClient) Share(ctx context.Context, nodeID, granteeName string, wrappedKey []byte, role string) error {
	req := struct {
		NodeID     string `json:"node_id"`
		Grantee    string `json:"grantee"`
		WrappedKey []byte `json:"wrapped_key"`
		Role       string `json:"role"`
	}{nodeID, granteeName, wrappedKey, role}
	return c.do(ctx, http.MethodPost, "/share", req, nil)
}

func (c *HTTPClient) Revoke(ctx context.Context, batch *RevokeBatch) error {
	return c.do(ctx, http.MethodPost, "/revoke", batch, nil)
}
