package service

import (
	"context"
	"errors"

	"github.com/trampoja/trampoja-api/internal/domain"
	"github.com/trampoja/trampoja-api/internal/infra/observability"
	"github.com/trampoja/trampoja-api/internal/port"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// deliveryConcurrency bounds parallel per-user deliveries in one dispatch.
const deliveryConcurrency = 8

// PushDelivery fans a push request out to every stored subscription of the
// target users, records the in-app notification rows, and prunes
// subscriptions the transport reports as gone.
type PushDelivery struct {
	store   port.NotificationStore
	sender  port.PushSender
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewPushDelivery creates a dispatcher.
func NewPushDelivery(store port.NotificationStore, sender port.PushSender, metrics *observability.Metrics, logger *zap.Logger) *PushDelivery {
	return &PushDelivery{
		store:   store,
		sender:  sender,
		metrics: metrics,
		logger:  logger,
	}
}

// Dispatch delivers req to every user in req.UserIDs. Users are processed
// concurrently; one user's failure does not stop the others, and the first
// error is returned after the whole fan-out settles.
func (d *PushDelivery) Dispatch(ctx context.Context, req *domain.PushRequest) error {
	if req.Title == "" || req.Body == "" {
		return &domain.ErrValidation{Field: "title", Message: "título e mensagem são obrigatórios"}
	}
	if len(req.UserIDs) == 0 {
		return &domain.ErrValidation{Field: "userIds", Message: "informe ao menos um destinatário"}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(deliveryConcurrency)
	for _, userID := range req.UserIDs {
		userID := userID
		g.Go(func() error {
			return d.deliverToUser(ctx, userID, req)
		})
	}
	return g.Wait()
}

func (d *PushDelivery) deliverToUser(ctx context.Context, userID string, req *domain.PushRequest) error {
	// The in-app row is written regardless of push: a user with no
	// subscriptions still sees the notification in the app.
	notif := &domain.Notification{
		ID:     uuid.NewString(),
		UserID: userID,
		Title:  req.Title,
		Body:   req.Body,
		URL:    req.URL,
		Type:   req.Type,
	}
	if err := d.store.InsertNotification(ctx, notif); err != nil {
		d.metrics.IncrPushDelivery("failed")
		d.logger.Error("failed to record notification",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return err
	}

	subs, err := d.store.ListPushSubscriptions(ctx, userID)
	if err != nil {
		d.metrics.IncrPushDelivery("failed")
		return err
	}
	if len(subs) == 0 {
		d.metrics.IncrPushDelivery("no_subscription")
		return nil
	}

	ids := make([]string, len(subs))
	for i, sub := range subs {
		ids[i] = sub.SubscriptionID
	}

	gone, err := d.sender.SendPush(ctx, ids, req)
	if err != nil {
		var disabled *domain.ErrPushDisabled
		if errors.As(err, &disabled) {
			// Configured-off provider: the in-app row already landed.
			d.metrics.IncrPushDelivery("disabled")
			return nil
		}
		d.metrics.IncrPushDelivery("failed")
		d.logger.Error("push send failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return err
	}

	d.metrics.IncrPushDelivery("sent")
	d.prune(ctx, userID, gone)
	return nil
}

// prune removes subscriptions the transport no longer recognizes. Pruning is
// best effort; a failed delete just means the id comes back next dispatch.
func (d *PushDelivery) prune(ctx context.Context, userID string, gone []string) {
	for _, id := range gone {
		if err := d.store.DeletePushSubscription(ctx, id); err != nil {
			d.logger.Warn("failed to prune gone subscription",
				zap.String("user_id", userID),
				zap.String("subscription_id", id),
				zap.Error(err),
			)
			continue
		}
		d.metrics.IncrPrunedSubscription()
		d.logger.Info("pruned gone subscription",
			zap.String("user_id", userID),
			zap.String("subscription_id", id),
		)
	}
}
