package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/trampoja/trampoja-api/internal/config"
	"github.com/trampoja/trampoja-api/internal/domain"
	"github.com/trampoja/trampoja-api/internal/handler"
	"github.com/trampoja/trampoja-api/internal/infra/cache"
	"github.com/trampoja/trampoja-api/internal/infra/observability"
	"github.com/trampoja/trampoja-api/internal/infra/onesignal"
	"github.com/trampoja/trampoja-api/internal/service"

	"go.uber.org/zap"
)

type stubSessionStore struct {
	events chan domain.SessionEvent
}

func (s *stubSessionStore) CurrentSession(ctx context.Context) (*domain.Session, error) {
	return nil, nil
}

func (s *stubSessionStore) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	return nil, &domain.ErrUnauthorized{Message: "Invalid login credentials"}
}

func (s *stubSessionStore) SignUp(ctx context.Context, req *domain.SignUpRequest) (*domain.Session, error) {
	return nil, &domain.ErrUnauthorized{Message: "signups disabled"}
}

func (s *stubSessionStore) SignOut(ctx context.Context, accessToken string) error { return nil }

func (s *stubSessionStore) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	return nil, &domain.ErrUnauthorized{Message: "invalid refresh token"}
}

func (s *stubSessionStore) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	return nil
}

func (s *stubSessionStore) RequestPasswordReset(ctx context.Context, email string) error {
	return nil
}

func (s *stubSessionStore) Subscribe() (<-chan domain.SessionEvent, func()) {
	return s.events, func() {}
}

type stubProfileStore struct{}

func (s *stubProfileStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	return nil, nil
}

func (s *stubProfileStore) GetWorkerProfile(ctx context.Context, userID string) (*domain.WorkerProfile, error) {
	return nil, nil
}

func (s *stubProfileStore) GetClientProfile(ctx context.Context, userID string) (*domain.ClientProfile, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	resolver := service.NewProfileResolver(
		&stubProfileStore{},
		cache.New[*domain.ResolvedProfile](time.Minute),
		metrics,
		logger,
	)

	manager := service.NewSessionManager(
		&stubSessionStore{events: make(chan domain.SessionEvent, 1)},
		resolver,
		metrics,
		logger,
	)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("manager.Start: %v", err)
	}
	t.Cleanup(manager.Close)

	// No app id configured: push stays disabled, which healthz must survive.
	push := onesignal.New(&http.Client{}, "", "", logger)
	lifecycle := service.NewNotificationLifecycle(push, metrics, logger)
	t.Cleanup(lifecycle.Close)

	return handler.NewRouter(handler.Deps{
		Manager:   manager,
		Resolver:  resolver,
		Lifecycle: lifecycle,
		Sessions:  &stubSessionStore{events: make(chan domain.SessionEvent, 1)},
		Metrics:   metrics,
		Config:    &config.Config{},
		Logger:    logger,
	})
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAuthStateStartsUnauthenticated(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/state", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Phase   string `json:"phase"`
		Loading bool   `json:"loading"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Phase != "unauthenticated" {
		t.Errorf("expected phase unauthenticated, got %q", body.Phase)
	}
	if body.Loading {
		t.Error("expected loading=false after bootstrap")
	}
}

func TestGuardRedirectsAnonymousToLogin(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/guard",
		strings.NewReader(`{"route":"/worker","allowedRoles":["worker"]}`))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Action   string `json:"action"`
		Target   string `json:"target"`
		ReturnTo string `json:"returnTo"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Action != "redirect" || body.Target != "/login" {
		t.Errorf("expected redirect to /login, got action=%q target=%q", body.Action, body.Target)
	}
	if body.ReturnTo != "/worker" {
		t.Errorf("expected returnTo /worker, got %q", body.ReturnTo)
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/profile", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestPushStatusIsPublic(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/push/status", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status domain.PushStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status.Initialized {
		t.Error("expected push to be uninitialized without an app id")
	}
}

func TestOpsDispatchDisabledWithoutHash(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/push/dispatch",
		strings.NewReader(`{"title":"t","body":"b","userIds":["u-1"]}`))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
