// Package api implements the typed client for the remote storefront
// service. Every response schema is validated at this boundary so that
// undefined fields never propagate into the sync subsystems.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/packlane/storefront-sync/pkg/config"
	pkgerrors "github.com/packlane/storefront-sync/pkg/errors"
)

// TokenSource supplies the bearer token for user-scoped calls. An
// implementation must return a CodeAuth error when no usable token is
// held, so the call fails fast without touching the network.
type TokenSource interface {
	Token() (string, error)
}

type successEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// Client is the typed remote client. Methods that target user-scoped
// endpoints attach the bearer token from the TokenSource.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	tokens    TokenSource
	validate  *validator.Validate
}

// NewClient builds a client from configuration. tokens may not be nil;
// anonymous endpoints simply never consult it.
func NewClient(cfg config.APIConfig, tokens TokenSource) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.RequestTimeout},
		tokens:    tokens,
		validate:  newValidator(),
	}, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// SignIn exchanges email/password credentials for a session.
func (c *Client) SignIn(ctx context.Context, req SignInRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/v1/auth/sign-in", false, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SignUp registers a new account and signs it in.
func (c *Client) SignUp(ctx context.Context, req SignUpRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/v1/auth/sign-up", false, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExchangeOAuthToken trades a login-provider token for a platform session.
func (c *Client) ExchangeOAuthToken(ctx context.Context, req OAuthRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/v1/auth/oauth", false, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetProfile re-fetches the profile for the current token.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	var resp Profile
	if err := c.do(ctx, http.MethodGet, "/v1/profile", true, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateProfile applies a partial profile mutation and returns the
// canonical profile.
func (c *Client) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (*Profile, error) {
	var resp Profile
	if err := c.do(ctx, http.MethodPatch, "/v1/profile", true, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCart fetches the remote authoritative cart, if any.
func (c *Client) GetCart(ctx context.Context) (*CartSnapshot, error) {
	var resp CartSnapshot
	if err := c.do(ctx, http.MethodGet, "/v1/cart", true, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReplaceCart submits the entire cart snapshot and returns the canonical
// cart computed by the server.
func (c *Client) ReplaceCart(ctx context.Context, snapshot CartSnapshot) (*CartSnapshot, error) {
	var resp CartSnapshot
	if err := c.do(ctx, http.MethodPatch, "/v1/cart", true, snapshot, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateOrder submits an order for the given cart and profile.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderConfirmation, error) {
	var resp OrderConfirmation
	if err := c.do(ctx, http.MethodPost, "/v1/orders", true, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListProducts fetches the full product catalog.
func (c *Client) ListProducts(ctx context.Context) ([]CatalogEntry, error) {
	var resp []CatalogEntry
	if err := c.do(ctx, http.MethodGet, "/v1/products", true, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SearchProducts runs a server-side catalog search.
func (c *Client) SearchProducts(ctx context.Context, query string) ([]CatalogEntry, error) {
	var resp []CatalogEntry
	path := "/v1/products/search?q=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, true, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListNotifications fetches the authoritative feed plus unread count.
func (c *Client) ListNotifications(ctx context.Context) (*NotificationList, error) {
	var resp NotificationList
	if err := c.do(ctx, http.MethodGet, "/v1/notifications", true, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkAllNotificationsRead issues the bulk mark-read call.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/notifications/mark-all-read", true, nil, nil)
}

// DeleteNotification removes one notification remotely.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}
	return c.do(ctx, http.MethodDelete, "/v1/notifications/"+url.PathEscape(id), true, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, authed bool, body, dest any) error {
	var token string
	if authed {
		var err error
		token, err = c.tokens.Token()
		if err != nil {
			return err
		}
	}

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode request body")
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, fmt.Sprintf("%s %s", method, path))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}
	if dest == nil {
		return nil
	}

	var envelope successEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode response envelope")
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode response body")
	}
	return c.validateResponse(dest)
}

// validateResponse checks decoded payloads against their schema tags.
// Slices are validated element-wise since validator.Struct only accepts
// structs at the top level.
func (c *Client) validateResponse(dest any) error {
	value := reflect.ValueOf(dest)
	if value.Kind() == reflect.Pointer {
		value = value.Elem()
	}

	switch value.Kind() {
	case reflect.Struct:
		if err := c.validate.Struct(value.Interface()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "response failed validation")
		}
	case reflect.Slice:
		for i := 0; i < value.Len(); i++ {
			element := value.Index(i)
			if element.Kind() != reflect.Struct {
				continue
			}
			if err := c.validate.Struct(element.Interface()); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "response failed validation")
			}
		}
	}
	return nil
}
