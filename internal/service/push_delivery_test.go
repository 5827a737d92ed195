package service

import (
	"context"
	"sync"
	"testing"

	"github.com/trampoja/trampoja-api/internal/domain"
	"github.com/trampoja/trampoja-api/internal/infra/observability"

	"go.uber.org/zap"
)

type fakeNotificationStore struct {
	mu            sync.Mutex
	notifications []domain.Notification
	subs          map[string][]domain.PushSubscription
	deleted       []string
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{subs: make(map[string][]domain.PushSubscription)}
}

func (f *fakeNotificationStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]domain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Notification
	for _, n := range f.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeNotificationStore) InsertNotification(ctx context.Context, n *domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, *n)
	return nil
}

func (f *fakeNotificationStore) MarkNotificationRead(ctx context.Context, notifID string) error {
	return nil
}

func (f *fakeNotificationStore) ListPushSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[userID], nil
}

func (f *fakeNotificationStore) UpsertPushSubscription(ctx context.Context, sub *domain.PushSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub.UserID] = append(f.subs[sub.UserID], *sub)
	return nil
}

func (f *fakeNotificationStore) DeletePushSubscription(ctx context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, subscriptionID)
	return nil
}

type fakePushSender struct {
	mu      sync.Mutex
	sent    [][]string
	gone    []string
	sendErr error
}

func (f *fakePushSender) SendPush(ctx context.Context, subscriptionIDs []string, req *domain.PushRequest) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, subscriptionIDs)
	return f.gone, nil
}

func newTestDelivery(t *testing.T, store *fakeNotificationStore, sender *fakePushSender) *PushDelivery {
	t.Helper()
	return NewPushDelivery(store, sender, observability.NewMetrics(), zap.NewNop())
}

func TestDispatchRecordsNotificationAndSends(t *testing.T) {
	store := newFakeNotificationStore()
	store.subs["u1"] = []domain.PushSubscription{{UserID: "u1", SubscriptionID: "sub-1"}}
	sender := &fakePushSender{}
	d := newTestDelivery(t, store, sender)

	err := d.Dispatch(context.Background(), &domain.PushRequest{
		Title:   "Nova vaga",
		Body:    "Garçom para sábado",
		UserIDs: []string{"u1"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(store.notifications) != 1 {
		t.Fatalf("notifications recorded = %d, want 1", len(store.notifications))
	}
	if store.notifications[0].ID == "" {
		t.Error("notification recorded without id")
	}
	if len(sender.sent) != 1 || sender.sent[0][0] != "sub-1" {
		t.Errorf("sent = %v", sender.sent)
	}
}

func TestDispatchWithoutSubscriptionsStillRecords(t *testing.T) {
	store := newFakeNotificationStore()
	sender := &fakePushSender{}
	d := newTestDelivery(t, store, sender)

	err := d.Dispatch(context.Background(), &domain.PushRequest{
		Title:   "Aviso",
		Body:    "Sem dispositivos",
		UserIDs: []string{"u1"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(store.notifications) != 1 {
		t.Errorf("notifications recorded = %d, want 1", len(store.notifications))
	}
	if len(sender.sent) != 0 {
		t.Errorf("push sent with no subscriptions: %v", sender.sent)
	}
}

func TestDispatchPrunesGoneSubscriptions(t *testing.T) {
	store := newFakeNotificationStore()
	store.subs["u1"] = []domain.PushSubscription{
		{UserID: "u1", SubscriptionID: "sub-live"},
		{UserID: "u1", SubscriptionID: "sub-dead"},
	}
	sender := &fakePushSender{gone: []string{"sub-dead"}}
	d := newTestDelivery(t, store, sender)

	err := d.Dispatch(context.Background(), &domain.PushRequest{
		Title:   "Teste",
		Body:    "corpo",
		UserIDs: []string{"u1"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "sub-dead" {
		t.Errorf("deleted = %v, want [sub-dead]", store.deleted)
	}
}

func TestDispatchDisabledProviderIsSoft(t *testing.T) {
	store := newFakeNotificationStore()
	store.subs["u1"] = []domain.PushSubscription{{UserID: "u1", SubscriptionID: "sub-1"}}
	sender := &fakePushSender{sendErr: &domain.ErrPushDisabled{Reason: "not configured"}}
	d := newTestDelivery(t, store, sender)

	err := d.Dispatch(context.Background(), &domain.PushRequest{
		Title:   "Teste",
		Body:    "corpo",
		UserIDs: []string{"u1"},
	})
	if err != nil {
		t.Fatalf("disabled provider must not fail dispatch: %v", err)
	}
	if len(store.notifications) != 1 {
		t.Errorf("in-app notification missing, got %d", len(store.notifications))
	}
}

func TestDispatchValidatesRequest(t *testing.T) {
	d := newTestDelivery(t, newFakeNotificationStore(), &fakePushSender{})

	err := d.Dispatch(context.Background(), &domain.PushRequest{UserIDs: []string{"u1"}})
	if err == nil {
		t.Error("empty title/body accepted")
	}
	err = d.Dispatch(context.Background(), &domain.PushRequest{Title: "a", Body: "b"})
	if err == nil {
		t.Error("empty recipient list accepted")
	}
}
