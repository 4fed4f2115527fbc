package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nimbuschat/gatekeeper/internal/domain"
	"github.com/nimbuschat/gatekeeper/internal/http/handler"
	"github.com/nimbuschat/gatekeeper/internal/http/middleware"
	"github.com/nimbuschat/gatekeeper/internal/repository"
	"github.com/nimbuschat/gatekeeper/internal/service"
)

const routerTestSecret = "router-test-secret"

// stubVerifier accepts exactly one bearer token and maps it to a fixed
// identity, standing in for the identity provider round-trip.
type stubVerifier struct {
	token    string
	identity *domain.Identity
}

func (v *stubVerifier) Verify(_ context.Context, token string, _ []*http.Cookie) (*domain.Identity, error) {
	if token != v.token {
		return nil, domain.ErrUnauthenticated
	}
	return v.identity, nil
}

type routerFixture struct {
	handler http.Handler
	db      *gorm.DB
}

func newRouterFixture(t *testing.T, loginLimit int) *routerFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&domain.UsageRecord{}, &domain.Subscription{}, &domain.Plan{}, &domain.AdminSession{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	catalog := service.NewCatalogService(repository.NewPlanRepository(db))
	ledger := service.NewUsageLedger(
		repository.NewUsageRepository(db),
		repository.NewSubscriptionRepository(db),
		catalog,
		time.UTC,
		0,
	)
	hash, err := bcrypt.GenerateFromPassword([]byte(routerTestSecret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	sessions := service.NewAdminSessions(repository.NewAdminSessionRepository(db), string(hash), "router-test-pepper", time.Hour)

	var loginLimiter func(http.Handler) http.Handler
	if loginLimit > 0 {
		loginLimiter = middleware.NewRateLimiter(
			middleware.NewLocalFixedWindowLimiter(loginLimit, time.Minute),
			loginLimit,
			middleware.FailClosed,
			"admin_login",
		).Middleware()
	}

	h := NewRouter(Dependencies{
		UsageHandler:     handler.NewUsageHandler(ledger),
		PlanHandler:      handler.NewPlanHandler(catalog),
		AdminHandler:     handler.NewAdminHandler(sessions),
		Verifier:         &stubVerifier{token: "valid-token", identity: &domain.Identity{ID: "id-1", Verified: true}},
		AdminSessions:    sessions,
		LoginRateLimiter: loginLimiter,
	})
	return &routerFixture{handler: h, db: db}
}

func (f *routerFixture) seed(t *testing.T, value any) {
	t.Helper()
	if err := f.db.Create(value).Error; err != nil {
		t.Fatalf("seed %T: %v", value, err)
	}
}

func perform(h http.Handler, method, target string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.10.10.10:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v: %s", err, rr.Body.String())
	}
	return envelope.Data
}

func TestHealthEndpoints(t *testing.T) {
	f := newRouterFixture(t, 0)

	if rr := perform(f.handler, http.MethodGet, "/health/live", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("live: expected 200, got %d", rr.Code)
	}
	// No readiness func configured means ready.
	if rr := perform(f.handler, http.MethodGet, "/health/ready", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", rr.Code)
	}
}

func TestReadinessFailureReturns503(t *testing.T) {
	h := NewRouter(Dependencies{
		UsageHandler:  handler.NewUsageHandler(nil),
		PlanHandler:   handler.NewPlanHandler(nil),
		AdminHandler:  handler.NewAdminHandler(nil),
		Verifier:      &stubVerifier{},
		AdminSessions: nil,
		Readiness: func(context.Context) (bool, map[string]string) {
			return false, map[string]string{"database": "down"}
		},
	})

	rr := perform(h, http.MethodGet, "/health/ready", nil, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"code":"DEPENDENCY_UNREADY"`) {
		t.Fatalf("expected DEPENDENCY_UNREADY envelope, got %s", rr.Body.String())
	}
}

func TestPlansEndpointIsPublic(t *testing.T) {
	f := newRouterFixture(t, 0)
	f.seed(t, &domain.Plan{PlanType: "basic", DailyLimit: 20, PriceRef: "price_basic"})
	f.seed(t, &domain.Plan{PlanType: "internal", DailyLimit: 1000})

	rr := perform(f.handler, http.MethodGet, "/api/v1/plans", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	data := decodeData(t, rr)
	plans, ok := data["plans"].([]any)
	if !ok || len(plans) != 1 {
		t.Fatalf("expected exactly the sellable plan, got %v", data["plans"])
	}
}

func TestUsageEndpointsRequireIdentity(t *testing.T) {
	f := newRouterFixture(t, 0)

	for _, target := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/usage/increment"},
		{http.MethodGet, "/api/v1/usage/remaining"},
		{http.MethodGet, "/api/v1/usage/today"},
	} {
		rr := perform(f.handler, target.method, target.path, nil, "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", target.method, target.path, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"code":"UNAUTHORIZED"`) {
			t.Fatalf("expected UNAUTHORIZED envelope, got %s", rr.Body.String())
		}
	}
}

func TestUsageWithoutSubscriptionIs402(t *testing.T) {
	f := newRouterFixture(t, 0)
	auth := map[string]string{"Authorization": "Bearer valid-token"}

	rr := perform(f.handler, http.MethodPost, "/api/v1/usage/increment", auth, "")
	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"code":"SUBSCRIPTION_REQUIRED"`) {
		t.Fatalf("expected SUBSCRIPTION_REQUIRED envelope, got %s", rr.Body.String())
	}
}

func TestUsageIncrementFlowToQuotaExhaustion(t *testing.T) {
	f := newRouterFixture(t, 0)
	f.seed(t, &domain.Subscription{IdentityID: "id-1", PlanType: "basic"})
	f.seed(t, &domain.Plan{PlanType: "basic", DailyLimit: 2, PriceRef: "price_basic"})
	auth := map[string]string{"Authorization": "Bearer valid-token"}

	for i := 1; i <= 2; i++ {
		rr := perform(f.handler, http.MethodPost, "/api/v1/usage/increment", auth, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("increment %d: expected 200, got %d: %s", i, rr.Code, rr.Body.String())
		}
		data := decodeData(t, rr)
		if int(data["count"].(float64)) != i {
			t.Fatalf("increment %d: count = %v", i, data["count"])
		}
	}

	rr := perform(f.handler, http.MethodPost, "/api/v1/usage/increment", auth, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rr.Code, rr.Body.String())
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Error.Code != "QUOTA_EXCEEDED" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
	if int(envelope.Error.Details["limit"].(float64)) != 2 || int(envelope.Error.Details["used"].(float64)) != 2 {
		t.Fatalf("details = %v", envelope.Error.Details)
	}
	if _, ok := envelope.Error.Details["resets_at"]; !ok {
		t.Fatal("details missing resets_at")
	}

	rr = perform(f.handler, http.MethodGet, "/api/v1/usage/remaining", auth, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("remaining: expected 200, got %d", rr.Code)
	}
	data := decodeData(t, rr)
	if data["allowed"].(bool) {
		t.Fatal("exhausted identity reported as allowed")
	}

	rr = perform(f.handler, http.MethodGet, "/api/v1/usage/today", auth, "")
	data = decodeData(t, rr)
	if int(data["count"].(float64)) != 2 {
		t.Fatalf("today count = %v", data["count"])
	}
}

func TestAdminLoginLogoutFlow(t *testing.T) {
	f := newRouterFixture(t, 0)

	rr := perform(f.handler, http.MethodPost, "/admin/login", nil, `{"secret":"wrong"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: expected 401, got %d", rr.Code)
	}

	rr = perform(f.handler, http.MethodPost, "/admin/login", nil, `{"secret":"`+routerTestSecret+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	token, _ := decodeData(t, rr)["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}
	var sessionCookie string
	for _, c := range rr.Result().Cookies() {
		if c.Name == middleware.AdminSessionCookie {
			sessionCookie = c.Value
			if !c.HttpOnly {
				t.Fatal("session cookie must be HttpOnly")
			}
		}
	}
	if sessionCookie != token {
		t.Fatal("cookie and body token disagree")
	}

	auth := map[string]string{"Authorization": "Bearer " + token}
	rr = perform(f.handler, http.MethodGet, "/admin/sessions", auth, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list sessions: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	data := decodeData(t, rr)
	if int(data["total"].(float64)) != 1 {
		t.Fatalf("total sessions = %v", data["total"])
	}
	if strings.Contains(rr.Body.String(), token) {
		t.Fatal("raw session token leaked in session listing")
	}

	rr = perform(f.handler, http.MethodPost, "/admin/logout", auth, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rr.Code)
	}
	// Idempotent: a second logout with the same dead token still succeeds.
	if rr := perform(f.handler, http.MethodPost, "/admin/logout", auth, ""); rr.Code != http.StatusOK {
		t.Fatalf("second logout: expected 200, got %d", rr.Code)
	}

	rr = perform(f.handler, http.MethodGet, "/admin/sessions", auth, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token: expected 401, got %d", rr.Code)
	}
}

func TestAdminCleanupEndpoint(t *testing.T) {
	f := newRouterFixture(t, 0)

	login := perform(f.handler, http.MethodPost, "/admin/login", nil, `{"secret":"`+routerTestSecret+`"}`)
	token, _ := decodeData(t, login)["token"].(string)
	auth := map[string]string{"Authorization": "Bearer " + token}

	stale := &domain.AdminSession{TokenHash: "stale-hash", ExpiresAt: time.Now().Add(-time.Hour)}
	f.seed(t, stale)

	rr := perform(f.handler, http.MethodPost, "/admin/sessions/cleanup", auth, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("cleanup: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if removed := int(decodeData(t, rr)["removed"].(float64)); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}

func TestAdminLoginRateLimited(t *testing.T) {
	f := newRouterFixture(t, 3)

	for i := 0; i < 3; i++ {
		rr := perform(f.handler, http.MethodPost, "/admin/login", nil, `{"secret":"wrong"}`)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rr.Code)
		}
	}

	rr := perform(f.handler, http.MethodPost, "/admin/login", nil, `{"secret":"wrong"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"code":"RATE_LIMITED"`) {
		t.Fatalf("expected RATE_LIMITED envelope, got %s", rr.Body.String())
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("429 without Retry-After header")
	}
}

func TestResponsesCarryRequestID(t *testing.T) {
	f := newRouterFixture(t, 0)

	rr := perform(f.handler, http.MethodGet, "/health/live", nil, "")
	var envelope struct {
		Meta struct {
			RequestID string `json:"request_id"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Meta.RequestID == "" || envelope.Meta.RequestID == "req-unknown" {
		t.Fatalf("request_id = %q", envelope.Meta.RequestID)
	}
}
