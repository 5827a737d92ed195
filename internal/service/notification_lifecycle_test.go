package service

import (
	"context"
	"sync"
	"testing"

	"github.com/trampoja/trampoja-api/internal/domain"
	"github.com/trampoja/trampoja-api/internal/infra/observability"

	"go.uber.org/zap"
)

type fakePushGateway struct {
	mu sync.Mutex

	initErr     error
	initCalls   int
	registerErr error

	registerCalls   int
	unregisterCalls int
	tagUpdateCalls  int

	registeredUser string
	tags           map[string]string
	permission     domain.PermissionStatus
	promptCalls    int
}

func newFakePushGateway() *fakePushGateway {
	return &fakePushGateway{permission: domain.PermissionDefault}
}

func (f *fakePushGateway) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakePushGateway) RegisterUser(ctx context.Context, userID string, role domain.Role, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCalls++
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registeredUser = userID
	all := map[string]string{"role": string(role)}
	for k, v := range tags {
		all[k] = v
	}
	f.tags = all
	return nil
}

func (f *fakePushGateway) UnregisterUser(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisterCalls++
	f.registeredUser = ""
	f.tags = nil
	return nil
}

func (f *fakePushGateway) UpdateTags(ctx context.Context, userID string, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagUpdateCalls++
	f.tags = tags
	return nil
}

func (f *fakePushGateway) PromptForPermission(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promptCalls++
	if f.permission == domain.PermissionDenied {
		return false
	}
	f.permission = domain.PermissionGranted
	return true
}

func (f *fakePushGateway) IsSubscribed(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registeredUser != ""
}

func (f *fakePushGateway) PermissionStatus(ctx context.Context) domain.PermissionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission
}

func (f *fakePushGateway) OnNotificationReceived(fn func(domain.PushEvent)) func() { return func() {} }
func (f *fakePushGateway) OnNotificationClicked(fn func(domain.PushEvent)) func()  { return func() {} }

// --- helpers ---

func workerState(userID, approvalStatus string, isActive bool) domain.AuthState {
	profile := &domain.ResolvedProfile{
		Profile: domain.Profile{ID: userID, Role: domain.RoleWorker},
		Kind: domain.WorkerKind{Worker: &domain.WorkerProfile{
			ID:             userID,
			IsActive:       isActive,
			ApprovalStatus: approvalStatus,
		}},
	}
	return domain.AuthState{
		Phase:           domain.PhaseReady,
		User:            &domain.User{ID: userID},
		Session:         &domain.Session{AccessToken: "tok", User: domain.User{ID: userID}},
		Profile:         profile,
		ProfileComplete: true,
	}
}

func newTestLifecycle(t *testing.T, gateway *fakePushGateway) *NotificationLifecycle {
	t.Helper()
	l := NewNotificationLifecycle(gateway, observability.NewMetrics(), zap.NewNop())
	t.Cleanup(l.Close)
	return l
}

// --- tests ---

func TestSyncRegistersOnce(t *testing.T) {
	gateway := newFakePushGateway()
	l := newTestLifecycle(t, gateway)
	l.Init(context.Background())

	state := workerState("u1", "approved", true)
	l.Sync(context.Background(), state)
	l.Sync(context.Background(), state)
	l.Sync(context.Background(), state)

	if gateway.registerCalls != 1 {
		t.Errorf("register calls = %d, want 1", gateway.registerCalls)
	}
	if gateway.registeredUser != "u1" {
		t.Errorf("registered user = %q", gateway.registeredUser)
	}
	if gateway.tags["role"] != "worker" || gateway.tags["approval_status"] != "approved" {
		t.Errorf("tags = %v", gateway.tags)
	}
}

func TestSyncRetriesAfterRegisterFailure(t *testing.T) {
	gateway := newFakePushGateway()
	gateway.registerErr = &domain.ErrExternalService{Service: "onesignal", Err: context.DeadlineExceeded}
	l := newTestLifecycle(t, gateway)
	l.Init(context.Background())

	state := workerState("u1", "approved", true)
	l.Sync(context.Background(), state)
	if gateway.registeredUser != "" {
		t.Fatal("registration should have failed")
	}

	// The failure must not latch: the next sync tries again and succeeds.
	gateway.mu.Lock()
	gateway.registerErr = nil
	gateway.mu.Unlock()

	l.Sync(context.Background(), state)
	if gateway.registeredUser != "u1" {
		t.Error("second sync did not register the user")
	}
	if gateway.registerCalls != 2 {
		t.Errorf("register calls = %d, want 2", gateway.registerCalls)
	}
}

func TestSyncTagResyncOnlyOnChange(t *testing.T) {
	gateway := newFakePushGateway()
	l := newTestLifecycle(t, gateway)
	l.Init(context.Background())

	l.Sync(context.Background(), workerState("u1", "pending", true))
	if gateway.tagUpdateCalls != 0 {
		t.Fatalf("tag updates after initial registration = %d, want 0", gateway.tagUpdateCalls)
	}

	// Same state again: no provider traffic.
	l.Sync(context.Background(), workerState("u1", "pending", true))
	if gateway.tagUpdateCalls != 0 {
		t.Errorf("tag updates after identical sync = %d, want 0", gateway.tagUpdateCalls)
	}

	// Approval status changed: exactly one tag update.
	l.Sync(context.Background(), workerState("u1", "approved", true))
	if gateway.tagUpdateCalls != 1 {
		t.Errorf("tag updates after approval change = %d, want 1", gateway.tagUpdateCalls)
	}
	if gateway.tags["approval_status"] != "approved" {
		t.Errorf("tags = %v", gateway.tags)
	}

	// And again unchanged: still one.
	l.Sync(context.Background(), workerState("u1", "approved", true))
	if gateway.tagUpdateCalls != 1 {
		t.Errorf("tag updates after repeat sync = %d, want 1", gateway.tagUpdateCalls)
	}
}

func TestSyncWaitsForWorkerExtensionRecord(t *testing.T) {
	gateway := newFakePushGateway()
	l := newTestLifecycle(t, gateway)
	l.Init(context.Background())

	// Worker signed in but extension record not loaded yet.
	profile := &domain.ResolvedProfile{
		Profile: domain.Profile{ID: "u1", Role: domain.RoleWorker},
		Kind:    domain.WorkerKind{},
	}
	state := domain.AuthState{
		Phase:   domain.PhaseReady,
		User:    &domain.User{ID: "u1"},
		Profile: profile,
	}
	l.Sync(context.Background(), state)
	if gateway.registerCalls != 0 {
		t.Errorf("registered a worker without extension record, calls = %d", gateway.registerCalls)
	}

	l.Sync(context.Background(), workerState("u1", "pending", true))
	if gateway.registerCalls != 1 {
		t.Errorf("register calls after record appeared = %d, want 1", gateway.registerCalls)
	}
}

func TestSyncUnregistersOnSignOut(t *testing.T) {
	gateway := newFakePushGateway()
	l := newTestLifecycle(t, gateway)
	l.Init(context.Background())

	l.Sync(context.Background(), workerState("u1", "approved", true))
	if gateway.registeredUser != "u1" {
		t.Fatal("precondition: user not registered")
	}

	l.Sync(context.Background(), domain.AuthState{Phase: domain.PhaseUnauthenticated})
	if gateway.unregisterCalls != 1 {
		t.Errorf("unregister calls = %d, want 1", gateway.unregisterCalls)
	}

	// Already unregistered: signing out again is quiet.
	l.Sync(context.Background(), domain.AuthState{Phase: domain.PhaseUnauthenticated})
	if gateway.unregisterCalls != 1 {
		t.Errorf("unregister calls after second sync = %d, want 1", gateway.unregisterCalls)
	}
}

func TestDisabledProviderNeverBreaksSync(t *testing.T) {
	gateway := newFakePushGateway()
	gateway.initErr = &domain.ErrPushDisabled{Reason: "app id not configured"}
	l := newTestLifecycle(t, gateway)
	l.Init(context.Background())

	status := l.Status(context.Background())
	if status.Initialized {
		t.Error("disabled provider reports initialized")
	}
	if status.Error == "" {
		t.Error("disabled provider should surface a reason")
	}

	// Sync against a disabled provider is a no-op, not a panic or error.
	l.Sync(context.Background(), workerState("u1", "approved", true))
	if gateway.registerCalls != 0 {
		t.Errorf("register calls = %d, want 0", gateway.registerCalls)
	}
}

func TestRequestPermissionStickyDenied(t *testing.T) {
	gateway := newFakePushGateway()
	l := newTestLifecycle(t, gateway)
	l.Init(context.Background())

	gateway.mu.Lock()
	gateway.permission = domain.PermissionDenied
	gateway.mu.Unlock()

	if l.RequestPermission(context.Background()) {
		t.Error("denied permission must not be re-prompted into granted")
	}
	if gateway.promptCalls != 0 {
		t.Errorf("prompt calls = %d, want 0 for denied permission", gateway.promptCalls)
	}
}
