package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/trampoja/trampoja-api/internal/domain"
)

// JobStore implements port.JobStore against the jobs, applications and
// assignments tables.
type JobStore struct {
	client *Client
}

// NewJobStore creates a job store on top of the PostgREST client.
func NewJobStore(client *Client) *JobStore {
	return &JobStore{client: client}
}

// --- jobs ---

// CreateJob inserts a job row and returns the stored representation.
func (s *JobStore) CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	data := map[string]any{
		"client_id":   job.ClientID,
		"title":       job.Title,
		"description": job.Description,
		"date":        job.Date,
		"address":     job.Address,
		"city":        job.City,
		"daily_rate":  job.DailyRate,
		"vacancies":   job.Vacancies,
		"status":      string(domain.JobOpen),
	}
	if job.Latitude != 0 || job.Longitude != 0 {
		data["latitude"] = job.Latitude
		data["longitude"] = job.Longitude
	}

	body, err := s.client.doPost(ctx, "jobs", data)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return decodeOne[domain.Job](body, "jobs")
}

// GetJob loads a single job by id, (nil, nil) when missing.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	path := fmt.Sprintf("jobs?id=eq.%s&limit=1", jobID)
	body, err := s.client.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return decodeFirst[domain.Job](body, "jobs")
}

// ListOpenJobs returns open jobs, newest first, optionally filtered by city.
func (s *JobStore) ListOpenJobs(ctx context.Context, city string, page, pageSize int) ([]domain.Job, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	path := fmt.Sprintf("jobs?status=eq.open&order=created_at.desc&limit=%d&offset=%d", pageSize, offset)
	if city != "" {
		path += "&city=eq." + url.QueryEscape(city)
	}

	body, err := s.client.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return decodeMany[domain.Job](body, "jobs")
}

// ListJobsByClient returns every job a client has posted, newest first.
func (s *JobStore) ListJobsByClient(ctx context.Context, clientID string) ([]domain.Job, error) {
	path := fmt.Sprintf("jobs?client_id=eq.%s&order=created_at.desc", clientID)
	body, err := s.client.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return decodeMany[domain.Job](body, "jobs")
}

// UpdateJobStatus moves a job through its lifecycle.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	path := fmt.Sprintf("jobs?id=eq.%s", jobID)
	if err := s.client.doPatch(ctx, path, map[string]any{"status": string(status)}); err != nil {
		return &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return nil
}

// --- applications ---

// CreateApplication inserts a pending application.
func (s *JobStore) CreateApplication(ctx context.Context, app *domain.Application) (*domain.Application, error) {
	data := map[string]any{
		"job_id":    app.JobID,
		"worker_id": app.WorkerID,
		"status":    string(domain.ApplicationPending),
	}
	body, err := s.client.doPost(ctx, "applications", data)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return decodeOne[domain.Application](body, "applications")
}

// GetApplication loads a single application, (nil, nil) when missing.
func (s *JobStore) GetApplication(ctx context.Context, appID string) (*domain.Application, error) {
	path := fmt.Sprintf("applications?id=eq.%s&limit=1", appID)
	body, err := s.client.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return decodeFirst[domain.Application](body, "applications")
}

// ListApplicationsByJob returns every application for a job.
func (s *JobStore) ListApplicationsByJob(ctx context.Context, jobID string) ([]domain.Application, error) {
	path := fmt.Sprintf("applications?job_id=eq.%s&order=created_at.asc", jobID)
	body, err := s.client.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return decodeMany[domain.Application](body, "applications")
}

// ListApplicationsByWorker returns a worker's applications, newest first.
func (s *JobStore) ListApplicationsByWorker(ctx context.Context, workerID string) ([]domain.Application, error) {
	path := fmt.Sprintf("applications?worker_id=eq.%s&order=created_at.desc", workerID)
	body, err := s.client.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return decodeMany[domain.Application](body, "applications")
}

// UpdateApplicationStatus approves or rejects an application.
func (s *JobStore) UpdateApplicationStatus(ctx context.Context, appID string, status domain.ApplicationStatus) error {
	path := fmt.Sprintf("applications?id=eq.%s", appID)
	if err := s.client.doPatch(ctx, path, map[string]any{"status": string(status)}); err != nil {
		return &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return nil
}

// --- assignments ---

// CreateAssignment inserts a scheduled assignment.
func (s *JobStore) CreateAssignment(ctx context.Context, a *domain.Assignment) (*domain.Assignment, error) {
	data := map[string]any{
		"job_id":    a.JobID,
		"worker_id": a.WorkerID,
		"client_id": a.ClientID,
		"status":    string(domain.AssignmentScheduled),
	}
	body, err := s.client.doPost(ctx, "assignments", data)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return decodeOne[domain.Assignment](body, "assignments")
}

// GetAssignment loads a single assignment, (nil, nil) when missing.
func (s *JobStore) GetAssignment(ctx context.Context, assignmentID string) (*domain.Assignment, error) {
	path := fmt.Sprintf("assignments?id=eq.%s&limit=1", assignmentID)
	body, err := s.client.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return decodeFirst[domain.Assignment](body, "assignments")
}

// ListAssignmentsByWorker returns a worker's assignments, newest first.
func (s *JobStore) ListAssignmentsByWorker(ctx context.Context, workerID string) ([]domain.Assignment, error) {
	path := fmt.Sprintf("assignments?worker_id=eq.%s&order=created_at.desc", workerID)
	body, err := s.client.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return decodeMany[domain.Assignment](body, "assignments")
}

// ListAssignmentsByClient returns a client's assignments, newest first.
func (s *JobStore) ListAssignmentsByClient(ctx context.Context, clientID string) ([]domain.Assignment, error) {
	path := fmt.Sprintf("assignments?client_id=eq.%s&order=created_at.desc", clientID)
	body, err := s.client.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return decodeMany[domain.Assignment](body, "assignments")
}

// UpdateAssignment patches assignment columns (check-in/out timestamps,
// status, ratings). Callers own column naming.
func (s *JobStore) UpdateAssignment(ctx context.Context, assignmentID string, updates map[string]any) error {
	path := fmt.Sprintf("assignments?id=eq.%s", assignmentID)
	if err := s.client.doPatch(ctx, path, updates); err != nil {
		return &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return nil
}

// UpdateWorkerRating writes the recomputed aggregate back to the worker row.
func (s *JobStore) UpdateWorkerRating(ctx context.Context, workerID string, rating float64, totalJobs int) error {
	path := fmt.Sprintf("workers?id=eq.%s", workerID)
	data := map[string]any{
		"rating":     rating,
		"total_jobs": totalJobs,
	}
	if err := s.client.doPatch(ctx, path, data); err != nil {
		return &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return nil
}

// --- decode helpers ---

func decodeOne[T any](body []byte, table string) (*T, error) {
	rows, err := decodeMany[T](body, table)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("supabase %s insert returned no representation", table)
	}
	return &rows[0], nil
}

func decodeFirst[T any](body []byte, table string) (*T, error) {
	rows, err := decodeMany[T](body, table)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func decodeMany[T any](body []byte, table string) ([]T, error) {
	if emptyBody(body) {
		return []T{}, nil
	}
	var rows []T
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode %s rows: %w", table, err)
	}
	return rows, nil
}
