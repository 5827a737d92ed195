// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/trampoja/trampoja-api/internal/domain"
)

// SessionStore wraps the identity provider's session primitives.
// Implemented by the Supabase GoTrue adapter.
type SessionStore interface {
	// CurrentSession returns the persisted session, nil when none exists.
	CurrentSession(ctx context.Context) (*domain.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	SignUp(ctx context.Context, req *domain.SignUpRequest) (*domain.Session, error)
	// SignOut invalidates the session locally and best-effort remotely.
	SignOut(ctx context.Context, accessToken string) error
	RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error)
	UpdatePassword(ctx context.Context, accessToken, newPassword string) error
	RequestPasswordReset(ctx context.Context, email string) error

	// Subscribe registers for ambient session-change events. The returned
	// func detaches the subscription; events stop after it is called.
	Subscribe() (<-chan domain.SessionEvent, func())
}

// ProfileStore loads base profiles and role extension records.
// A missing row is (nil, nil): not-found is not an error for resolution.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	GetWorkerProfile(ctx context.Context, userID string) (*domain.WorkerProfile, error)
	GetClientProfile(ctx context.Context, userID string) (*domain.ClientProfile, error)
}

// PushGateway wraps the push notification provider SDK. Every operation is
// tolerant of the provider being uninitialized or unconfigured; failures are
// logged at the boundary and never propagate into the auth flow.
type PushGateway interface {
	Init(ctx context.Context) error
	RegisterUser(ctx context.Context, userID string, role domain.Role, tags map[string]string) error
	UnregisterUser(ctx context.Context) error
	UpdateTags(ctx context.Context, userID string, tags map[string]string) error
	PromptForPermission(ctx context.Context) bool
	IsSubscribed(ctx context.Context) bool
	PermissionStatus(ctx context.Context) domain.PermissionStatus

	// Listener registration returns a detach func; detaching is a no-op
	// when the provider was never initialized.
	OnNotificationReceived(fn func(domain.PushEvent)) func()
	OnNotificationClicked(fn func(domain.PushEvent)) func()
}

// PushSender delivers provider push payloads to stored subscriptions.
// Gone reports subscription ids the transport says no longer exist.
type PushSender interface {
	SendPush(ctx context.Context, subscriptionIDs []string, req *domain.PushRequest) (gone []string, err error)
}

// NotificationStore persists in-app notifications and push subscriptions.
type NotificationStore interface {
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]domain.Notification, error)
	InsertNotification(ctx context.Context, n *domain.Notification) error
	MarkNotificationRead(ctx context.Context, notifID string) error

	ListPushSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error)
	UpsertPushSubscription(ctx context.Context, sub *domain.PushSubscription) error
	DeletePushSubscription(ctx context.Context, subscriptionID string) error
}

// JobStore persists jobs, applications and assignments.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListOpenJobs(ctx context.Context, city string, page, pageSize int) ([]domain.Job, error)
	ListJobsByClient(ctx context.Context, clientID string) ([]domain.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error

	CreateApplication(ctx context.Context, app *domain.Application) (*domain.Application, error)
	GetApplication(ctx context.Context, appID string) (*domain.Application, error)
	ListApplicationsByJob(ctx context.Context, jobID string) ([]domain.Application, error)
	ListApplicationsByWorker(ctx context.Context, workerID string) ([]domain.Application, error)
	UpdateApplicationStatus(ctx context.Context, appID string, status domain.ApplicationStatus) error

	CreateAssignment(ctx context.Context, a *domain.Assignment) (*domain.Assignment, error)
	GetAssignment(ctx context.Context, assignmentID string) (*domain.Assignment, error)
	ListAssignmentsByWorker(ctx context.Context, workerID string) ([]domain.Assignment, error)
	ListAssignmentsByClient(ctx context.Context, clientID string) ([]domain.Assignment, error)
	UpdateAssignment(ctx context.Context, assignmentID string, updates map[string]any) error

	UpdateWorkerRating(ctx context.Context, workerID string, rating float64, totalJobs int) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
