package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/trampoja/trampoja-api/internal/domain"
)

// PushStore implements port.NotificationStore against the notifications and
// push_subscriptions tables.
type PushStore struct {
	client *Client
}

// NewPushStore creates a notification/subscription store.
func NewPushStore(client *Client) *PushStore {
	return &PushStore{client: client}
}

// ListNotifications returns a user's notifications, newest first.
func (s *PushStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]domain.Notification, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	path := fmt.Sprintf("notifications?user_id=eq.%s&order=created_at.desc&limit=%d&offset=%d",
		userID, pageSize, offset)
	if unreadOnly {
		path += "&read=eq.false"
	}

	body, err := s.client.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	if emptyBody(body) {
		return []domain.Notification{}, nil
	}

	var rows []domain.Notification
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return rows, nil
}

// InsertNotification records an in-app notification row.
func (s *PushStore) InsertNotification(ctx context.Context, n *domain.Notification) error {
	data := map[string]any{
		"user_id": n.UserID,
		"title":   n.Title,
		"body":    n.Body,
		"read":    false,
	}
	if n.ID != "" {
		data["id"] = n.ID
	}
	if n.URL != "" {
		data["url"] = n.URL
	}
	if n.Type != "" {
		data["type"] = n.Type
	}

	_, err := s.client.doPost(ctx, "notifications", data)
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return nil
}

// MarkNotificationRead flags a notification as read.
func (s *PushStore) MarkNotificationRead(ctx context.Context, notifID string) error {
	path := fmt.Sprintf("notifications?id=eq.%s", notifID)
	if err := s.client.doPatch(ctx, path, map[string]any{"read": true}); err != nil {
		return &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return nil
}

// ListPushSubscriptions returns the stored push subscriptions for a user.
func (s *PushStore) ListPushSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error) {
	path := fmt.Sprintf("push_subscriptions?user_id=eq.%s", userID)
	body, err := s.client.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	if emptyBody(body) {
		return []domain.PushSubscription{}, nil
	}

	var rows []domain.PushSubscription
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode push_subscriptions: %w", err)
	}
	return rows, nil
}

// UpsertPushSubscription stores the user/subscription pair, replacing a row
// that already holds the same subscription id. PostgREST merge-duplicates
// needs a unique constraint on subscription_id, which the schema carries.
func (s *PushStore) UpsertPushSubscription(ctx context.Context, sub *domain.PushSubscription) error {
	data := map[string]any{
		"user_id":         sub.UserID,
		"subscription_id": sub.SubscriptionID,
	}
	_, err := s.client.doPostPrefer(ctx, "push_subscriptions?on_conflict=subscription_id", data,
		"resolution=merge-duplicates")
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return nil
}

// DeletePushSubscription removes a subscription row by provider id.
func (s *PushStore) DeletePushSubscription(ctx context.Context, subscriptionID string) error {
	path := fmt.Sprintf("push_subscriptions?subscription_id=eq.%s", url.QueryEscape(subscriptionID))
	if err := s.client.doDelete(ctx, path); err != nil {
		return &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return nil
}
