package handler

import (
	"net/http"
	"time"

	"github.com/trampoja/trampoja-api/internal/config"
	"github.com/trampoja/trampoja-api/internal/domain"
	"github.com/trampoja/trampoja-api/internal/infra/observability"
	"github.com/trampoja/trampoja-api/internal/port"
	"github.com/trampoja/trampoja-api/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps carries everything the router wires together.
type Deps struct {
	Manager       *service.SessionManager
	Resolver      *service.ProfileResolver
	Lifecycle     *service.NotificationLifecycle
	Delivery      *service.PushDelivery
	Jobs          *service.JobsService
	Sessions      port.SessionStore
	Notifications port.NotificationStore
	Metrics       *observability.Metrics
	Config        *config.Config
	Logger        *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
// Routes follow the API contract of the Trampo Já PWA.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	logger := deps.Logger

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	// The PWA runs on a separate origin.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Ops-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(deps.Lifecycle))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))

	requireAuth := JWTAuthMiddleware(deps.Config.SupabaseJWTSecret, logger)
	requireOps := OpsTokenMiddleware(deps.Config.OpsTokenHash, logger)
	requireWorker := RequireRole(deps.Resolver, logger, domain.RoleWorker)
	requireClient := RequireRole(deps.Resolver, logger, domain.RoleClient)
	requireAnyRole := RequireRole(deps.Resolver, logger)

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// Auth — session lifecycle
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authRegisterHandler(deps.Manager, logger))
			r.Post("/login", authLoginHandler(deps.Manager, logger))
			r.Post("/refresh", authRefreshHandler(deps.Sessions, logger))
			r.Post("/password/reset-request", authPasswordResetRequestHandler(deps.Manager, logger))
			r.Get("/state", authStateHandler(deps.Manager))
			r.Post("/guard", authGuardHandler(deps.Manager))

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/logout", authLogoutHandler(deps.Manager, logger))
				r.Put("/password", authChangePasswordHandler(deps.Sessions, logger))
			})
		})

		// Profile
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/profile", getProfileHandler(deps.Resolver, logger))
			r.Post("/profile/refresh", refreshProfileHandler(deps.Resolver, logger))
		})

		// Jobs
		r.Route("/jobs", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/", listJobsHandler(deps.Jobs, logger))
			r.Get("/{jobId}", getJobHandler(deps.Jobs, logger))

			r.Group(func(r chi.Router) {
				r.Use(requireClient)
				r.Post("/", createJobHandler(deps.Jobs, logger))
				r.Get("/mine", listMyJobsHandler(deps.Jobs, logger))
				r.Delete("/{jobId}", cancelJobHandler(deps.Jobs, logger))
				r.Get("/{jobId}/applications", listJobApplicationsHandler(deps.Jobs, logger))
			})

			r.Group(func(r chi.Router) {
				r.Use(requireWorker)
				r.Post("/{jobId}/apply", applyHandler(deps.Jobs, logger))
			})
		})

		// Applications
		r.Route("/applications", func(r chi.Router) {
			r.Use(requireAuth)

			r.Group(func(r chi.Router) {
				r.Use(requireWorker)
				r.Get("/", listMyApplicationsHandler(deps.Jobs, logger))
			})

			r.Group(func(r chi.Router) {
				r.Use(requireClient)
				r.Post("/{appId}/approve", approveApplicationHandler(deps.Jobs, logger))
				r.Post("/{appId}/reject", rejectApplicationHandler(deps.Jobs, logger))
			})
		})

		// Assignments
		r.Route("/assignments", func(r chi.Router) {
			r.Use(requireAuth)
			r.With(requireAnyRole).Get("/", listAssignmentsHandler(deps.Jobs, logger))

			r.Group(func(r chi.Router) {
				r.Use(requireWorker)
				r.Post("/{assignmentId}/checkin", checkInHandler(deps.Jobs, logger))
				r.Post("/{assignmentId}/checkout", checkOutHandler(deps.Jobs, logger))
			})

			r.With(requireAnyRole).Post("/{assignmentId}/rate", rateAssignmentHandler(deps.Jobs, logger))
		})

		// Notifications
		r.Route("/notifications", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/", listNotificationsHandler(deps.Notifications, logger))
			r.Post("/{notifId}/read", markNotificationReadHandler(deps.Notifications, logger))
		})

		// Push
		r.Route("/push", func(r chi.Router) {
			r.Get("/status", pushStatusHandler(deps.Lifecycle))

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/permission", pushPermissionHandler(deps.Lifecycle))
				r.Post("/subscriptions", registerSubscriptionHandler(deps.Notifications, logger))
				r.Delete("/subscriptions/{subscriptionId}", removeSubscriptionHandler(deps.Notifications, logger))
			})

			r.With(requireOps).Post("/dispatch", pushDispatchHandler(deps.Delivery, logger))
		})

		// Metrics snapshot for the ops dashboard
		r.With(requireOps).Get("/metrics/auth", authMetricsHandler(deps.Metrics))
	})

	return r
}

// ============================================================
// Health & metrics
// ============================================================

func healthzHandler(lifecycle *service.NotificationLifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		push := lifecycle.Status(r.Context())
		pushState := "disabled"
		if push.Initialized {
			pushState = "healthy"
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
			"services": map[string]string{
				"api":  "healthy",
				"push": pushState,
			},
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func authMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetAuthSnapshot())
	}
}
