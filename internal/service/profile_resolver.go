// Package service holds the application core: session state machine,
// profile resolution, notification lifecycle and marketplace operations.
package service

import (
	"context"
	"fmt"

	"github.com/trampoja/trampoja-api/internal/domain"
	"github.com/trampoja/trampoja-api/internal/infra/observability"
	"github.com/trampoja/trampoja-api/internal/port"

	"go.uber.org/zap"
)

// Outcome classifies a profile resolution. Missing and failed are distinct:
// a user without a base row is a data state the caller routes on, while a
// failure says nothing about whether the row exists.
type Outcome int

const (
	// OutcomeResolved means the base profile loaded. The extension record
	// may still be missing; check Profile.Complete().
	OutcomeResolved Outcome = iota
	// OutcomeMissing means the base row does not exist.
	OutcomeMissing
	// OutcomeError means resolution failed and should be retried.
	OutcomeError
)

// Resolution is the typed result of a profile lookup.
type Resolution struct {
	Outcome Outcome
	Profile *domain.ResolvedProfile
	Err     error
}

// ProfileResolver loads and caches resolved profiles.
type ProfileResolver struct {
	store   port.ProfileStore
	cache   port.Cache[*domain.ResolvedProfile]
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewProfileResolver creates a resolver.
func NewProfileResolver(store port.ProfileStore, cache port.Cache[*domain.ResolvedProfile], metrics *observability.Metrics, logger *zap.Logger) *ProfileResolver {
	return &ProfileResolver{
		store:   store,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

// Resolve loads the base profile and its role extension for a user.
// A missing extension record never fails resolution; the profile comes back
// incomplete and the caller decides what that means.
func (r *ProfileResolver) Resolve(ctx context.Context, userID string) Resolution {
	if cached, ok := r.cache.Get(userID); ok {
		r.metrics.IncrCacheHit("profile")
		return Resolution{Outcome: OutcomeResolved, Profile: cached}
	}
	r.metrics.IncrCacheMiss("profile")

	base, err := r.store.GetProfile(ctx, userID)
	if err != nil {
		r.metrics.IncrExternalError("supabase")
		r.logger.Error("profile resolution failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return Resolution{Outcome: OutcomeError, Err: err}
	}
	if base == nil {
		r.logger.Warn("no base profile for user", zap.String("user_id", userID))
		return Resolution{Outcome: OutcomeMissing}
	}

	resolved, err := r.attachExtension(ctx, base)
	if err != nil {
		r.metrics.IncrExternalError("supabase")
		return Resolution{Outcome: OutcomeError, Err: err}
	}

	r.cache.Set(userID, resolved)
	return Resolution{Outcome: OutcomeResolved, Profile: resolved}
}

// ResolveFresh bypasses and refills the cache. Used after writes that change
// the extension record (approval, rating) and by explicit profile refresh.
func (r *ProfileResolver) ResolveFresh(ctx context.Context, userID string) Resolution {
	r.cache.Delete(userID)
	return r.Resolve(ctx, userID)
}

// Invalidate drops a user from the cache.
func (r *ProfileResolver) Invalidate(userID string) {
	r.cache.Delete(userID)
}

func (r *ProfileResolver) attachExtension(ctx context.Context, base *domain.Profile) (*domain.ResolvedProfile, error) {
	resolved := &domain.ResolvedProfile{Profile: *base}

	switch base.Role {
	case domain.RoleAdmin:
		resolved.Kind = domain.AdminKind{}
	case domain.RoleWorker:
		worker, err := r.store.GetWorkerProfile(ctx, base.ID)
		if err != nil {
			return nil, err
		}
		if worker == nil {
			r.logger.Warn("worker extension record missing",
				zap.String("user_id", base.ID),
			)
		}
		resolved.Kind = domain.WorkerKind{Worker: worker}
	case domain.RoleClient:
		client, err := r.store.GetClientProfile(ctx, base.ID)
		if err != nil {
			return nil, err
		}
		if client == nil {
			r.logger.Warn("client extension record missing",
				zap.String("user_id", base.ID),
			)
		}
		resolved.Kind = domain.ClientKind{Client: client}
	default:
		return nil, fmt.Errorf("unknown role %q for user %s", base.Role, base.ID)
	}

	return resolved, nil
}
