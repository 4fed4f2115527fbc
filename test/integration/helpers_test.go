package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nimbuschat/gatekeeper/internal/domain"
	"github.com/nimbuschat/gatekeeper/internal/http/handler"
	"github.com/nimbuschat/gatekeeper/internal/http/middleware"
	"github.com/nimbuschat/gatekeeper/internal/http/router"
	"github.com/nimbuschat/gatekeeper/internal/identity"
	"github.com/nimbuschat/gatekeeper/internal/repository"
	"github.com/nimbuschat/gatekeeper/internal/service"
)

const (
	integrationSecret = "integration-admin-secret"
	integrationToken  = "integration-access-token"
)

// stack is the whole service wired like production, except the identity
// provider is an httptest stub and storage is in-memory sqlite plus miniredis.
type stack struct {
	server        *httptest.Server
	db            *gorm.DB
	redis         *miniredis.Miniredis
	providerCalls *atomic.Int64
}

func newStack(t *testing.T, loginLimit int, rateMode middleware.FailureMode) *stack {
	t.Helper()

	var providerCalls atomic.Int64
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		providerCalls.Add(1)
		if r.URL.Path != "/auth/v1/user" || r.Header.Get("apikey") == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+integrationToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":                 "user-1",
			"email":              "user@example.com",
			"email_confirmed_at": time.Now().Format(time.RFC3339),
		})
	}))
	t.Cleanup(provider.Close)

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

	redisServer := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	catalog := service.NewCatalogService(repository.NewPlanRepository(db))
	ledger := service.NewUsageLedger(
		repository.NewUsageRepository(db),
		repository.NewSubscriptionRepository(db),
		catalog,
		time.UTC,
		0,
	)
	verifier := service.NewVerifier(
		identity.NewClient(provider.URL, "integration-api-key"),
		service.NewRedisVerifyCacheStore(redisClient, "itest_verify"),
		time.Minute,
	)
	hash, err := bcrypt.GenerateFromPassword([]byte(integrationSecret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	sessions := service.NewAdminSessions(repository.NewAdminSessionRepository(db), string(hash), "itest-pepper", time.Hour)

	loginRateLimiter := middleware.NewRateLimiter(
		middleware.NewRedisFixedWindowLimiter(redisClient, "itest_rl", loginLimit, time.Minute),
		loginLimit,
		rateMode,
		"admin_login",
	).Middleware()

	h := router.NewRouter(router.Dependencies{
		UsageHandler:     handler.NewUsageHandler(ledger),
		PlanHandler:      handler.NewPlanHandler(catalog),
		AdminHandler:     handler.NewAdminHandler(sessions),
		Verifier:         verifier,
		AdminSessions:    sessions,
		LoginRateLimiter: loginRateLimiter,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &stack{server: srv, db: db, redis: redisServer, providerCalls: &providerCalls}
}

func (s *stack) seed(t *testing.T, value any) {
	t.Helper()
	if err := s.db.Create(value).Error; err != nil {
		t.Fatalf("seed %T: %v", value, err)
	}
}

func (s *stack) do(t *testing.T, method, path string, headers map[string]string, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("%s %s: decode envelope: %v", method, path, err)
	}
	return resp, envelope
}

func dataField(t *testing.T, envelope map[string]any) map[string]any {
	t.Helper()
	data, ok := envelope["data"].(map[string]any)
	if !ok {
		t.Fatalf("envelope has no data object: %v", envelope)
	}
	return data
}

func errorCode(envelope map[string]any) string {
	errObj, ok := envelope["error"].(map[string]any)
	if !ok {
		return ""
	}
	code, _ := errObj["code"].(string)
	return code
}
