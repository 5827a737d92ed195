package domain

import "time"

// ============================================================
// Notifications & push subscriptions
// ============================================================

// Notification is a delivered (or pending) in-app notification row.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	URL       string    `json:"url,omitempty"`
	Type      string    `json:"type,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// PushSubscription maps a user to a push-provider subscription id
// (push_subscriptions table).
type PushSubscription struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	SubscriptionID string    `json:"subscription_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// PushRequest is what the delivery dispatcher accepts for fan-out.
type PushRequest struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	URL     string   `json:"url,omitempty"`
	UserIDs []string `json:"userIds,omitempty"`
	Type    string   `json:"type,omitempty"`
}

// PermissionStatus mirrors the platform notification-permission states.
type PermissionStatus string

const (
	PermissionGranted     PermissionStatus = "granted"
	PermissionDenied      PermissionStatus = "denied"
	PermissionDefault     PermissionStatus = "default"
	PermissionUnsupported PermissionStatus = "unsupported"
)

// PushStatus is the client-local subscription state, recomputed on demand
// from the provider rather than persisted.
type PushStatus struct {
	Initialized bool             `json:"isInitialized"`
	Subscribed  bool             `json:"isSubscribed"`
	Permission  PermissionStatus `json:"permissionStatus"`
	Loading     bool             `json:"isLoading"`
	Error       string           `json:"error,omitempty"`
}

// PushEvent is an incoming push notification surfaced to listeners
// (foreground display or click).
type PushEvent struct {
	NotificationID string `json:"notification_id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	URL            string `json:"url,omitempty"`
}
