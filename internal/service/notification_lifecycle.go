package service

import (
	"context"
	"errors"
	"sync"

	"github.com/trampoja/trampoja-api/internal/domain"
	"github.com/trampoja/trampoja-api/internal/infra/observability"
	"github.com/trampoja/trampoja-api/internal/port"

	"go.uber.org/zap"
)

// NotificationLifecycle keeps the push provider in step with the auth state:
// initialize once, register the signed-in user exactly once, keep provider
// tags current, and tear everything down on sign-out. Every provider failure
// is soft; auth never waits on push and never fails because of it.
type NotificationLifecycle struct {
	gateway port.PushGateway
	metrics *observability.Metrics
	logger  *zap.Logger

	mu             sync.Mutex
	initialized    bool
	loading        bool
	lastErr        string
	registeredUser string
	lastTags       map[string]string

	detachReceived func()
	detachClicked  func()
}

// NewNotificationLifecycle creates the lifecycle around an injected gateway.
func NewNotificationLifecycle(gateway port.PushGateway, metrics *observability.Metrics, logger *zap.Logger) *NotificationLifecycle {
	return &NotificationLifecycle{
		gateway: gateway,
		metrics: metrics,
		logger:  logger,
	}
}

// Init initializes the provider and wires notification listeners. Safe to
// call repeatedly; a disabled provider is recorded, not propagated.
func (l *NotificationLifecycle) Init(ctx context.Context) {
	l.mu.Lock()
	if l.initialized {
		l.mu.Unlock()
		return
	}
	l.loading = true
	l.mu.Unlock()

	err := l.gateway.Init(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loading = false

	if err != nil {
		var disabled *domain.ErrPushDisabled
		if errors.As(err, &disabled) {
			l.lastErr = disabled.Reason
			l.logger.Warn("push disabled", zap.String("reason", disabled.Reason))
		} else {
			l.lastErr = err.Error()
			l.logger.Warn("push init failed", zap.Error(err))
		}
		return
	}

	l.initialized = true
	l.lastErr = ""
	l.detachReceived = l.gateway.OnNotificationReceived(func(ev domain.PushEvent) {
		l.logger.Info("push received in foreground",
			zap.String("notification_id", ev.NotificationID),
			zap.String("title", ev.Title),
		)
	})
	l.detachClicked = l.gateway.OnNotificationClicked(func(ev domain.PushEvent) {
		l.logger.Info("push clicked",
			zap.String("notification_id", ev.NotificationID),
			zap.String("url", ev.URL),
		)
	})
}

// Sync reconciles provider registration with an auth snapshot.
//
// Registration happens once per signed-in user; a failure clears the guard
// so the next Sync retries. Workers are only registered after their
// extension record exists, because the registration tags come from it.
// Once registered, only a change in the tag values triggers provider
// traffic again.
func (l *NotificationLifecycle) Sync(ctx context.Context, state domain.AuthState) {
	l.mu.Lock()
	initialized := l.initialized
	registered := l.registeredUser
	l.mu.Unlock()

	if !initialized {
		return
	}

	if state.Phase != domain.PhaseReady || state.User == nil {
		if state.Phase == domain.PhaseUnauthenticated && registered != "" {
			l.unregister(ctx)
		}
		return
	}

	profile := state.Profile
	if profile == nil {
		return
	}
	if profile.Profile.Role == domain.RoleWorker && profile.WorkerRecord() == nil {
		// Tags come from the worker record; wait for it.
		return
	}

	tags := registrationTags(profile)

	if registered == state.User.ID {
		l.resyncTags(ctx, state.User.ID, tags)
		return
	}

	// A different user was registered on this device: replace, don't stack.
	if registered != "" {
		l.unregister(ctx)
	}

	if err := l.gateway.RegisterUser(ctx, state.User.ID, profile.Profile.Role, tags); err != nil {
		l.logger.Warn("push registration failed",
			zap.String("user_id", state.User.ID),
			zap.Error(err),
		)
		return
	}

	l.metrics.IncrPushRegistration()
	l.mu.Lock()
	l.registeredUser = state.User.ID
	l.lastTags = tags
	l.mu.Unlock()
}

// RequestPermission prompts for notification permission and reports whether
// it ended up granted. An already-denied permission is not re-prompted.
func (l *NotificationLifecycle) RequestPermission(ctx context.Context) bool {
	l.mu.Lock()
	initialized := l.initialized
	l.mu.Unlock()
	if !initialized {
		return false
	}

	switch l.gateway.PermissionStatus(ctx) {
	case domain.PermissionGranted:
		return true
	case domain.PermissionDenied, domain.PermissionUnsupported:
		return false
	}
	return l.gateway.PromptForPermission(ctx)
}

// Status reports the current push state.
func (l *NotificationLifecycle) Status(ctx context.Context) domain.PushStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.PushStatus{
		Initialized: l.initialized,
		Subscribed:  l.initialized && l.gateway.IsSubscribed(ctx),
		Permission:  l.gateway.PermissionStatus(ctx),
		Loading:     l.loading,
		Error:       l.lastErr,
	}
}

// Close detaches the notification listeners.
func (l *NotificationLifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.detachReceived != nil {
		l.detachReceived()
		l.detachReceived = nil
	}
	if l.detachClicked != nil {
		l.detachClicked()
		l.detachClicked = nil
	}
}

func (l *NotificationLifecycle) unregister(ctx context.Context) {
	if err := l.gateway.UnregisterUser(ctx); err != nil {
		l.logger.Warn("push unregister failed", zap.Error(err))
	}
	l.mu.Lock()
	l.registeredUser = ""
	l.lastTags = nil
	l.mu.Unlock()
}

func (l *NotificationLifecycle) resyncTags(ctx context.Context, userID string, tags map[string]string) {
	l.mu.Lock()
	same := tagsEqual(l.lastTags, tags)
	l.mu.Unlock()
	if same {
		return
	}

	if err := l.gateway.UpdateTags(ctx, userID, tags); err != nil {
		l.logger.Warn("push tag resync failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}
	l.mu.Lock()
	l.lastTags = tags
	l.mu.Unlock()
}

// registrationTags builds the provider tag set for a resolved profile.
// Workers carry their moderation state so campaigns can target it.
func registrationTags(profile *domain.ResolvedProfile) map[string]string {
	tags := map[string]string{
		"role": string(profile.Profile.Role),
	}
	if worker := profile.WorkerRecord(); worker != nil {
		tags["approval_status"] = worker.ApprovalStatus
		if worker.IsActive {
			tags["is_active"] = "true"
		} else {
			tags["is_active"] = "false"
		}
	}
	return tags
}

func tagsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
