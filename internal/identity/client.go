package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nimbuschat/gatekeeper/internal/domain"
)

// Provider exchanges a credential for a verified identity. The external
// identity provider owns the identity records; this interface only reads.
type Provider interface {
	UserFromToken(ctx context.Context, token string) (*domain.Identity, error)
	UserFromCookies(ctx context.Context, cookies []*http.Cookie) (*domain.Identity, error)
}

var ErrNoIdentity = errors.New("identity provider returned no identity")

// Client talks to the identity provider's user endpoint. Immutable after
// construction so a single instance is safe to share across requests.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

var (
	defaultOnce   sync.Once
	defaultClient *Client
)

// Default returns the process-wide provider client, constructing it on first
// use. Every later call returns the same handle regardless of arguments, so
// requests never pay reconnect overhead.
func Default(baseURL, apiKey string) *Client {
	defaultOnce.Do(func() {
		defaultClient = NewClient(baseURL, apiKey)
	})
	return defaultClient
}

type userPayload struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	EmailConfirmedAt string `json:"email_confirmed_at"`
}

// UserFromToken verifies the literal bearer credential against the provider.
func (c *Client) UserFromToken(ctx context.Context, token string) (*domain.Identity, error) {
	req, err := c.userRequest(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.doUser(req)
}

// UserFromCookies attempts the cookie-session-scoped verification path: the
// provider may recover an identity from ambient session cookies even without
// an explicit bearer token.
func (c *Client) UserFromCookies(ctx context.Context, cookies []*http.Cookie) (*domain.Identity, error) {
	req, err := c.userRequest(ctx)
	if err != nil {
		return nil, err
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	return c.doUser(req)
}

func (c *Client) userRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) doUser(req *http.Request) (*domain.Identity, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrNoIdentity, resp.StatusCode)
	}
	var payload userPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if payload.ID == "" {
		return nil, ErrNoIdentity
	}
	return &domain.Identity{
		ID:       payload.ID,
		Email:    payload.Email,
		Verified: payload.EmailConfirmedAt != "",
	}, nil
}
