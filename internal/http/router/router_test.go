package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/secure-session-store/internal/domain"
	"github.com/sandeepkv93/secure-session-store/internal/health"
	"github.com/sandeepkv93/secure-session-store/internal/http/handler"
	"github.com/sandeepkv93/secure-session-store/internal/repository"
	"github.com/sandeepkv93/secure-session-store/internal/security"
	"github.com/sandeepkv93/secure-session-store/internal/service"
)

type unhealthyChecker struct{}

func (unhealthyChecker) Check(ctx context.Context) health.CheckResult {
	return health.CheckResult{Name: "db", Healthy: false, Error: "db down"}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type routerFixture struct {
	dep        Dependencies
	clock      *testClock
	identities repository.IdentityRepository
}

func newRouterFixture(t *testing.T, policy domain.TTLPolicy) *routerFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&domain.Session{}, &domain.Identity{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clock := &testClock{now: time.Now()}
	index := service.NewInMemoryIdentityIndex()
	identities := repository.NewIdentityRepository(db)
	svc := service.NewSessionService(
		repository.NewSessionRepository(db),
		identities,
		index,
		policy,
		security.NewSIDGenerator(10, false),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		service.WithClock(clock.Now),
	)
	jwtMgr := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456")
	return &routerFixture{
		dep: Dependencies{
			SessionHandler:     handler.NewSessionHandler(svc, jwtMgr, 15*time.Minute),
			JWTManager:         jwtMgr,
			AccessRecorder:     index,
			CreateRateLimitRPM: 1000,
		},
		clock:      clock,
		identities: identities,
	}
}

func perform(r http.Handler, method, target string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.10.10.10:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func errorCode(env map[string]any) string {
	errObj, _ := env["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func TestRouterHealthReadyNilAndUnreadyBranches(t *testing.T) {
	t.Run("nil readiness returns ready", func(t *testing.T) {
		f := newRouterFixture(t, domain.TTLPolicy{})
		r := NewRouter(f.dep)

		rr := perform(r, http.MethodGet, "/health/ready", nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"status":"ready"`) {
			t.Fatalf("expected ready status payload, got %s", rr.Body.String())
		}
	})

	t.Run("unready dependency returns 503", func(t *testing.T) {
		f := newRouterFixture(t, domain.TTLPolicy{})
		f.dep.Readiness = health.NewProbeRunner(time.Second, 0, unhealthyChecker{})
		r := NewRouter(f.dep)

		rr := perform(r, http.MethodGet, "/health/ready", nil, "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"code":"DEPENDENCY_UNREADY"`) {
			t.Fatalf("expected DEPENDENCY_UNREADY error envelope, got %s", rr.Body.String())
		}
	})
}

func TestRouterHealthLiveAlwaysOK(t *testing.T) {
	r := NewRouter(newRouterFixture(t, domain.TTLPolicy{}).dep)

	rr := perform(r, http.MethodGet, "/health/live", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("expected health live payload, got %s", rr.Body.String())
	}
}

func TestRouterFallbackCreateRateLimiter(t *testing.T) {
	f := newRouterFixture(t, domain.TTLPolicy{})
	f.dep.CreateRateLimitRPM = 1
	r := NewRouter(f.dep)

	first := perform(r, http.MethodPost, "/api/v1/sessions", nil, "")
	if first.Code != http.StatusCreated {
		t.Fatalf("first create expected 201, got %d body=%s", first.Code, first.Body.String())
	}
	second := perform(r, http.MethodPost, "/api/v1/sessions", nil, "")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second create expected 429 from fallback limiter, got %d", second.Code)
	}
	if rr := perform(r, http.MethodGet, "/health/live", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("create limiter must not apply to other routes, got %d", rr.Code)
	}
}

func TestRouterSessionLifecycle(t *testing.T) {
	f := newRouterFixture(t, domain.TTLPolicy{})
	r := NewRouter(f.dep)

	hash, err := security.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := f.identities.Create(context.Background(), &domain.Identity{ID: "u-1", DisplayName: "alice", PasswordHash: hash}); err != nil {
		t.Fatalf("create identity: %v", err)
	}

	rr := perform(r, http.MethodPost, "/api/v1/sessions", nil, `{"data":{"cart":"2 items"}}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	data := decodeEnvelope(t, rr)["data"].(map[string]any)
	id := data["id"].(string)
	if data["session_data"].(map[string]any)["cart"] != "2 items" {
		t.Fatalf("unexpected session data: %+v", data)
	}

	rr = perform(r, http.MethodPut, "/api/v1/sessions/"+id, nil, `{"data":{"cart":"3 items"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = perform(r, http.MethodPost, "/api/v1/sessions/"+id+"/login", nil, `{"name":"alice","password":"nope"}`)
	if rr.Code != http.StatusUnauthorized || errorCode(decodeEnvelope(t, rr)) != "INVALID_CREDENTIALS" {
		t.Fatalf("bad login: expected 401 INVALID_CREDENTIALS, got %d", rr.Code)
	}

	rr = perform(r, http.MethodPost, "/api/v1/sessions/"+id+"/login", nil, `{"name":"alice","password":"s3cret"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	login := decodeEnvelope(t, rr)["data"].(map[string]any)
	token := login["access_token"].(string)
	bearer := map[string]string{"Authorization": "Bearer " + token}

	rr = perform(r, http.MethodGet, "/api/v1/index/"+id, nil, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("index lookup without token: expected 401, got %d", rr.Code)
	}
	rr = perform(r, http.MethodGet, "/api/v1/index/"+id, bearer, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"identity_name":"alice"`) {
		t.Fatalf("index lookup: expected alice, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = perform(r, http.MethodGet, "/api/v1/sessions/"+id, bearer, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}
	got := decodeEnvelope(t, rr)["data"].(map[string]any)
	if got["identity_ref"] != "u-1" || got["session_data"].(map[string]any)["cart"] != "3 items" {
		t.Fatalf("unexpected session: %+v", got)
	}

	rr = perform(r, http.MethodPost, "/api/v1/sessions/"+id+"/logout", bearer, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rr.Code)
	}
	rr = perform(r, http.MethodGet, "/api/v1/index/"+id, bearer, "")
	if rr.Code != http.StatusNotFound || errorCode(decodeEnvelope(t, rr)) != "INDEX_MISS" {
		t.Fatalf("index after logout: expected 404 INDEX_MISS, got %d", rr.Code)
	}

	rr = perform(r, http.MethodDelete, "/api/v1/sessions/"+id, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rr.Code)
	}
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rr = perform(r, method, "/api/v1/sessions/"+id, nil, "")
		if rr.Code != http.StatusNotFound || errorCode(decodeEnvelope(t, rr)) != "SESSION_NOT_FOUND" {
			t.Fatalf("%s after delete: expected 404 SESSION_NOT_FOUND, got %d", method, rr.Code)
		}
	}
}

func TestRouterExpiredSessionReturnsUnauthorized(t *testing.T) {
	f := newRouterFixture(t, domain.TTLPolicy{TimeToLive: time.Minute, Type: domain.TTLTypeCreated})
	r := NewRouter(f.dep)

	rr := perform(r, http.MethodPost, "/api/v1/sessions", nil, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rr.Code)
	}
	data := decodeEnvelope(t, rr)["data"].(map[string]any)
	if _, ok := data["expires_at"]; !ok {
		t.Fatalf("expected expires_at with ttl enabled: %+v", data)
	}
	id := data["id"].(string)

	f.clock.Advance(2 * time.Minute)
	rr = perform(r, http.MethodGet, "/api/v1/sessions/"+id, nil, "")
	if rr.Code != http.StatusUnauthorized || errorCode(decodeEnvelope(t, rr)) != "SESSION_EXPIRED" {
		t.Fatalf("expected 401 SESSION_EXPIRED, got %d", rr.Code)
	}
}

func TestRouterRejectsInvalidPayloads(t *testing.T) {
	r := NewRouter(newRouterFixture(t, domain.TTLPolicy{}).dep)

	if rr := perform(r, http.MethodPost, "/api/v1/sessions", nil, `{"data":`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", rr.Code)
	}
	if rr := perform(r, http.MethodPost, "/api/v1/sessions/x/login", nil, `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty login, got %d", rr.Code)
	}
}

func TestRouterStaleBearerDoesNotBlockAnonymousRoutes(t *testing.T) {
	r := NewRouter(newRouterFixture(t, domain.TTLPolicy{}).dep)
	stale := map[string]string{"Authorization": "Bearer garbage"}

	rr := perform(r, http.MethodPost, "/api/v1/sessions", stale, `{"data":{"k":"v"}}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create with stale bearer: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	id := decodeEnvelope(t, rr)["data"].(map[string]any)["id"].(string)

	if rr := perform(r, http.MethodGet, "/api/v1/sessions/"+id, stale, ""); rr.Code != http.StatusOK {
		t.Fatalf("get with stale bearer: expected 200, got %d", rr.Code)
	}
	if rr := perform(r, http.MethodGet, "/api/v1/index/"+id, stale, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("index lookup with stale bearer: expected 401, got %d", rr.Code)
	}
}
