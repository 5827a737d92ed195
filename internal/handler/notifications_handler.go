package handler

import (
	"encoding/json"
	"net/http"

	"github.com/trampoja/trampoja-api/internal/domain"
	"github.com/trampoja/trampoja-api/internal/port"
	"github.com/trampoja/trampoja-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Notifications & push
// ============================================================

func listNotificationsHandler(store port.NotificationStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, pageSize := parsePagination(r)
		unreadOnly := r.URL.Query().Get("unread") == "true"

		notifications, err := store.ListNotifications(r.Context(), UserIDFromContext(r.Context()), unreadOnly, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
	}
}

func markNotificationReadHandler(store port.NotificationStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.MarkNotificationRead(r.Context(), chi.URLParam(r, "notifId")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// registerSubscriptionHandler stores the device's push-provider subscription
// id for the authenticated user.
func registerSubscriptionHandler(store port.NotificationStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SubscriptionID string `json:"subscriptionId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.SubscriptionID == "" {
			writeError(w, http.StatusBadRequest, "subscriptionId é obrigatório")
			return
		}

		sub := &domain.PushSubscription{
			UserID:         UserIDFromContext(r.Context()),
			SubscriptionID: req.SubscriptionID,
		}
		if err := store.UpsertPushSubscription(r.Context(), sub); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	}
}

func removeSubscriptionHandler(store port.NotificationStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.DeletePushSubscription(r.Context(), chi.URLParam(r, "subscriptionId")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func pushStatusHandler(lifecycle *service.NotificationLifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, lifecycle.Status(r.Context()))
	}
}

func pushPermissionHandler(lifecycle *service.NotificationLifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		granted := lifecycle.RequestPermission(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{
			"granted": granted,
			"status":  lifecycle.Status(r.Context()),
		})
	}
}

// pushDispatchHandler is the ops fan-out endpoint, the server-side
// counterpart of the client lifecycle: it records in-app notifications and
// pushes to every stored subscription of the targets.
func pushDispatchHandler(delivery *service.PushDelivery, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.PushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := delivery.Dispatch(r.Context(), &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"message":    "notificações enviadas",
			"recipients": len(req.UserIDs),
		})
	}
}
