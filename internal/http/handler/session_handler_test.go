package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/secure-session-store/internal/domain"
)

type stubStore struct {
	getErr    error
	lookupErr error
}

func (s stubStore) Create(context.Context, map[string]any) (*domain.Session, error) {
	return nil, errors.New("boom")
}

func (s stubStore) Get(_ context.Context, id string) (*domain.Session, error) {
	return nil, s.getErr
}

func (s stubStore) Delete(context.Context, string) error { return s.getErr }

func (s stubStore) Save(context.Context, *domain.Session) error { return nil }

func (s stubStore) Login(context.Context, *domain.Session, string, string) (*domain.Identity, error) {
	return nil, nil
}

func (s stubStore) Logout(context.Context, *domain.Session) error { return nil }

func (s stubStore) Lookup(context.Context, string) (string, bool, error) {
	return "", false, s.lookupErr
}

func (s stubStore) Policy() domain.TTLPolicy { return domain.TTLPolicy{} }

func serve(h http.Handler, method, target string) (int, string) {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.NewDecoder(rr.Body).Decode(&env)
	return rr.Code, env.Error.Code
}

func TestSessionHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "not found", err: domain.SessionNotFound("x"), status: http.StatusNotFound, code: "SESSION_NOT_FOUND"},
		{name: "expired", err: domain.SessionExpired("x"), status: http.StatusUnauthorized, code: "SESSION_EXPIRED"},
		{name: "invalid", err: domain.ErrInvalidSession, status: http.StatusBadRequest, code: "BAD_REQUEST"},
		{name: "storage", err: errors.New("disk on fire"), status: http.StatusInternalServerError, code: "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewSessionHandler(stubStore{getErr: tc.err}, nil, 0)
			r := chi.NewRouter()
			r.Get("/sessions/{id}", h.Get)
			r.Delete("/sessions/{id}", h.Delete)

			for _, method := range []string{http.MethodGet, http.MethodDelete} {
				status, code := serve(r, method, "/sessions/x")
				if status != tc.status || code != tc.code {
					t.Fatalf("%s: expected %d %s, got %d %s", method, tc.status, tc.code, status, code)
				}
			}
		})
	}
}

func TestSessionHandlerCreateFailureIsInternal(t *testing.T) {
	h := NewSessionHandler(stubStore{}, nil, 0)
	status, code := serve(http.HandlerFunc(h.Create), http.MethodPost, "/sessions")
	if status != http.StatusInternalServerError || code != "INTERNAL" {
		t.Fatalf("expected 500 INTERNAL, got %d %s", status, code)
	}
}

func TestSessionHandlerLookupIndexUnavailable(t *testing.T) {
	h := NewSessionHandler(stubStore{lookupErr: errors.New("redis down")}, nil, 0)
	r := chi.NewRouter()
	r.Get("/index/{id}", h.LookupIndex)
	status, code := serve(r, http.MethodGet, "/index/x")
	if status != http.StatusServiceUnavailable || code != "INDEX_UNAVAILABLE" {
		t.Fatalf("expected 503 INDEX_UNAVAILABLE, got %d %s", status, code)
	}
}
