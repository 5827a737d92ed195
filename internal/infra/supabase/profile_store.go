package supabase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/trampoja/trampoja-api/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ProfileStore implements port.ProfileStore against the users, workers and
// clients tables. Missing rows return (nil, nil): profile resolution treats
// absence as incompleteness, not failure.
type ProfileStore struct {
	client *Client
}

// NewProfileStore creates a profile store on top of the PostgREST client.
func NewProfileStore(client *Client) *ProfileStore {
	return &ProfileStore{client: client}
}

// GetProfile loads the base profile row for a user.
func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "profiles.GetProfile")
	span.SetAttributes(attribute.String("user.id", userID))
	defer span.End()

	path := fmt.Sprintf("users?id=eq.%s&limit=1", userID)
	body, err := s.client.doGetRetry(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	if emptyBody(body) {
		return nil, nil
	}

	var rows []domain.Profile
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode users row: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// GetWorkerProfile loads the worker extension row for a user.
func (s *ProfileStore) GetWorkerProfile(ctx context.Context, userID string) (*domain.WorkerProfile, error) {
	ctx, span := tracer.Start(ctx, "profiles.GetWorkerProfile")
	span.SetAttributes(attribute.String("user.id", userID))
	defer span.End()

	path := fmt.Sprintf("workers?id=eq.%s&limit=1", userID)
	body, err := s.client.doGetRetry(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	if emptyBody(body) {
		return nil, nil
	}

	var rows []domain.WorkerProfile
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode workers row: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// GetClientProfile loads the client extension row for a user.
func (s *ProfileStore) GetClientProfile(ctx context.Context, userID string) (*domain.ClientProfile, error) {
	ctx, span := tracer.Start(ctx, "profiles.GetClientProfile")
	span.SetAttributes(attribute.String("user.id", userID))
	defer span.End()

	path := fmt.Sprintf("clients?id=eq.%s&limit=1", userID)
	body, err := s.client.doGetRetry(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	if emptyBody(body) {
		return nil, nil
	}

	var rows []domain.ClientProfile
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode clients row: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
