package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/packlane/storefront-sync/pkg/config"
	pkgerrors "github.com/packlane/storefront-sync/pkg/errors"
	"github.com/shopspring/decimal"
)

func testUserID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.MustParse("5b0c1a52-7c8f-4a43-9a71-6a8be6833c10")
}

type staticTokens struct {
	token string
	err   error
	calls int32
}

func (s *staticTokens) Token() (string, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}

func newTestClient(t *testing.T, handler http.Handler, tokens TokenSource) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(config.APIConfig{BaseURL: server.URL, UserAgent: "storefront-sync-test"}, tokens)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestClientAttachesBearerToken(t *testing.T) {
	var gotAuth string
	router := chi.NewRouter()
	router.Get("/v1/profile", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeData(w, Profile{UserID: testUserID(t), Email: "jo@packlane.test"})
	})

	client := newTestClient(t, router, &staticTokens{token: "tok-abc"})
	if _, err := client.GetProfile(context.Background()); err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if gotAuth != "Bearer tok-abc" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
}

func TestClientFailsFastWithoutToken(t *testing.T) {
	var hits int32
	router := chi.NewRouter()
	router.Get("/v1/profile", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeData(w, Profile{})
	})

	authErr := pkgerrors.New(pkgerrors.CodeAuth, "no active session")
	client := newTestClient(t, router, &staticTokens{err: authErr})

	_, err := client.GetProfile(context.Background())
	if !pkgerrors.Is(err, pkgerrors.CodeAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("call must not reach the network without a token")
	}
}

func TestClientAnonymousEndpointsSkipTokenSource(t *testing.T) {
	router := chi.NewRouter()
	router.Post("/v1/auth/sign-in", func(w http.ResponseWriter, r *http.Request) {
		var req SignInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode sign-in request: %v", err)
		}
		writeData(w, AuthResponse{
			Token:   "tok-new",
			Profile: Profile{UserID: testUserID(t), Email: req.Email},
		})
	})

	tokens := &staticTokens{err: pkgerrors.New(pkgerrors.CodeAuth, "no session")}
	client := newTestClient(t, router, tokens)

	resp, err := client.SignIn(context.Background(), SignInRequest{Email: "jo@packlane.test", Password: "hunter22"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if resp.Token != "tok-new" {
		t.Fatalf("unexpected token %q", resp.Token)
	}
	if atomic.LoadInt32(&tokens.calls) != 0 {
		t.Fatalf("anonymous endpoint must not consult the token source")
	}
}

func TestClientMapsStatusCodes(t *testing.T) {
	tests := []struct {
		status int
		code   pkgerrors.Code
	}{
		{status: http.StatusUnauthorized, code: pkgerrors.CodeAuth},
		{status: http.StatusForbidden, code: pkgerrors.CodeAuth},
		{status: http.StatusNotFound, code: pkgerrors.CodeNotFound},
		{status: http.StatusBadRequest, code: pkgerrors.CodeValidation},
		{status: http.StatusUnprocessableEntity, code: pkgerrors.CodeValidation},
		{status: http.StatusInternalServerError, code: pkgerrors.CodeNetwork},
		{status: http.StatusBadGateway, code: pkgerrors.CodeNetwork},
	}

	for _, tt := range tests {
		router := chi.NewRouter()
		router.Get("/v1/notifications", func(w http.ResponseWriter, r *http.Request) {
			writeAPIError(w, tt.status, "SOME_CODE", "remote said no")
		})
		client := newTestClient(t, router, &staticTokens{token: "tok"})

		_, err := client.ListNotifications(context.Background())
		typed := pkgerrors.As(err)
		if typed == nil {
			t.Fatalf("status %d: expected typed error, got %v", tt.status, err)
		}
		if typed.Code() != tt.code {
			t.Fatalf("status %d: expected code %s got %s", tt.status, tt.code, typed.Code())
		}
		if typed.Message() != "remote said no" {
			t.Fatalf("status %d: server message should be preserved, got %q", tt.status, typed.Message())
		}
	}
}

func TestClientTransportFailureIsNetworkError(t *testing.T) {
	client, err := NewClient(config.APIConfig{BaseURL: "http://127.0.0.1:1"}, &staticTokens{token: "tok"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.ListProducts(context.Background())
	if !pkgerrors.Is(err, pkgerrors.CodeNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if !pkgerrors.Retryable(err) {
		t.Fatalf("network errors must be retryable")
	}
}

func TestClientRejectsInvalidResponsePayload(t *testing.T) {
	router := chi.NewRouter()
	router.Patch("/v1/cart", func(w http.ResponseWriter, r *http.Request) {
		// quantity 0 violates the schema: such a line must not exist
		writeData(w, CartSnapshot{Lines: []CartLine{{ItemID: "p1", Quantity: 0}}})
	})
	client := newTestClient(t, router, &staticTokens{token: "tok"})

	_, err := client.ReplaceCart(context.Background(), CartSnapshot{})
	if !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for bad payload, got %v", err)
	}
}

func TestClientValidatesSliceResponses(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/v1/products", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, []CatalogEntry{{ID: "", Name: "nameless"}})
	})
	client := newTestClient(t, router, &staticTokens{token: "tok"})

	_, err := client.ListProducts(context.Background())
	if !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for entry without id, got %v", err)
	}
}

func TestClientSearchEncodesQuery(t *testing.T) {
	var gotQuery string
	router := chi.NewRouter()
	router.Get("/v1/products/search", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		writeData(w, []CatalogEntry{{ID: "p1", Name: "Lounge Chair", Price: decimal.NewFromInt(10)}})
	})
	client := newTestClient(t, router, &staticTokens{token: "tok"})

	entries, err := client.SearchProducts(context.Background(), "lounge chair")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotQuery != "lounge chair" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if len(entries) != 1 || entries[0].ID != "p1" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestClientDeleteNotificationRequiresID(t *testing.T) {
	client, err := NewClient(config.APIConfig{BaseURL: "http://example.invalid"}, &staticTokens{token: "tok"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.DeleteNotification(context.Background(), " "); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
