package service

import (
	"context"
	"fmt"
	"time"

	"github.com/trampoja/trampoja-api/internal/domain"
	"github.com/trampoja/trampoja-api/internal/infra/observability"
	"github.com/trampoja/trampoja-api/internal/port"

	"go.uber.org/zap"
)

// JobsService implements the marketplace flows: clients post jobs, workers
// apply, clients approve into assignments, workers check in and out, and
// both sides rate. Push notifications ride along on the state changes but
// never fail the operation that triggered them.
type JobsService struct {
	store    port.JobStore
	delivery *PushDelivery
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewJobsService creates the marketplace service.
func NewJobsService(store port.JobStore, delivery *PushDelivery, metrics *observability.Metrics, logger *zap.Logger) *JobsService {
	return &JobsService{
		store:    store,
		delivery: delivery,
		metrics:  metrics,
		logger:   logger,
	}
}

// CreateJob posts a new open job for a client.
func (s *JobsService) CreateJob(ctx context.Context, clientID string, req *domain.CreateJobRequest) (*domain.Job, error) {
	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("create_job", time.Since(start)) }()

	if req.Title == "" {
		return nil, &domain.ErrValidation{Field: "title", Message: "título é obrigatório"}
	}
	if req.Date == "" {
		return nil, &domain.ErrValidation{Field: "date", Message: "data é obrigatória"}
	}
	if req.DailyRate <= 0 {
		return nil, &domain.ErrValidation{Field: "dailyRate", Message: "diária deve ser maior que zero"}
	}
	if req.Vacancies < 1 {
		return nil, &domain.ErrValidation{Field: "vacancies", Message: "informe ao menos uma vaga"}
	}

	job, err := s.store.CreateJob(ctx, &domain.Job{
		ClientID:    clientID,
		Title:       req.Title,
		Description: req.Description,
		Date:        req.Date,
		Address:     req.Address,
		City:        req.City,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		DailyRate:   req.DailyRate,
		Vacancies:   req.Vacancies,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("client_id", clientID),
		zap.String("city", job.City),
	)
	return job, nil
}

// GetJob loads a job, ErrNotFound when missing.
func (s *JobsService) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, &domain.ErrNotFound{Resource: "job", ID: jobID}
	}
	return job, nil
}

// ListOpenJobs returns the open-jobs board, optionally filtered by city.
func (s *JobsService) ListOpenJobs(ctx context.Context, city string, page, pageSize int) ([]domain.Job, error) {
	return s.store.ListOpenJobs(ctx, city, page, pageSize)
}

// ListJobsByClient returns a client's own postings.
func (s *JobsService) ListJobsByClient(ctx context.Context, clientID string) ([]domain.Job, error) {
	return s.store.ListJobsByClient(ctx, clientID)
}

// CancelJob closes an open job. Only the posting client may cancel.
func (s *JobsService) CancelJob(ctx context.Context, clientID, jobID string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.ClientID != clientID {
		return &domain.ErrForbidden{Action: "cancel job of another client"}
	}
	if job.Status != domain.JobOpen {
		return &domain.ErrConflict{Message: "apenas vagas abertas podem ser canceladas"}
	}
	return s.store.UpdateJobStatus(ctx, jobID, domain.JobCancelled)
}

// Apply files a worker's application to an open job. Duplicate applications
// to the same job are rejected.
func (s *JobsService) Apply(ctx context.Context, workerID, jobID string) (*domain.Application, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobOpen {
		return nil, &domain.ErrConflict{Message: "esta vaga não está mais aberta"}
	}

	existing, err := s.store.ListApplicationsByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for _, app := range existing {
		if app.WorkerID == workerID {
			return nil, &domain.ErrDuplicate{Key: fmt.Sprintf("application %s/%s", jobID, workerID)}
		}
	}

	app, err := s.store.CreateApplication(ctx, &domain.Application{
		JobID:    jobID,
		WorkerID: workerID,
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, []string{job.ClientID}, &domain.PushRequest{
		Title: "Nova candidatura",
		Body:  fmt.Sprintf("Um profissional se candidatou à vaga %q", job.Title),
		URL:   fmt.Sprintf("/client/jobs/%s", job.ID),
		Type:  "application_received",
	})
	return app, nil
}

// ListApplicationsByWorker returns a worker's applications.
func (s *JobsService) ListApplicationsByWorker(ctx context.Context, workerID string) ([]domain.Application, error) {
	return s.store.ListApplicationsByWorker(ctx, workerID)
}

// ListApplicationsByJob returns a job's applications for the posting client.
func (s *JobsService) ListApplicationsByJob(ctx context.Context, clientID, jobID string) ([]domain.Application, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.ClientID != clientID {
		return nil, &domain.ErrForbidden{Action: "list applications of another client's job"}
	}
	return s.store.ListApplicationsByJob(ctx, jobID)
}

// ApproveApplication accepts a pending application, creates the scheduled
// assignment and notifies the worker. The job flips to filled once its
// vacancies are all taken.
func (s *JobsService) ApproveApplication(ctx context.Context, clientID, appID string) (*domain.Assignment, error) {
	app, err := s.store.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, &domain.ErrNotFound{Resource: "application", ID: appID}
	}
	if app.Status != domain.ApplicationPending {
		return nil, &domain.ErrConflict{Message: "candidatura já foi processada"}
	}

	job, err := s.GetJob(ctx, app.JobID)
	if err != nil {
		return nil, err
	}
	if job.ClientID != clientID {
		return nil, &domain.ErrForbidden{Action: "approve application of another client's job"}
	}

	if err := s.store.UpdateApplicationStatus(ctx, appID, domain.ApplicationApproved); err != nil {
		return nil, err
	}

	assignment, err := s.store.CreateAssignment(ctx, &domain.Assignment{
		JobID:    app.JobID,
		WorkerID: app.WorkerID,
		ClientID: clientID,
	})
	if err != nil {
		return nil, err
	}

	approved := 0
	apps, err := s.store.ListApplicationsByJob(ctx, app.JobID)
	if err == nil {
		for _, a := range apps {
			if a.Status == domain.ApplicationApproved {
				approved++
			}
		}
		if approved >= job.Vacancies {
			if err := s.store.UpdateJobStatus(ctx, job.ID, domain.JobFilled); err != nil {
				s.logger.Warn("failed to mark job filled",
					zap.String("job_id", job.ID),
					zap.Error(err),
				)
			}
		}
	}

	s.notify(ctx, []string{app.WorkerID}, &domain.PushRequest{
		Title: "Candidatura aprovada!",
		Body:  fmt.Sprintf("Você foi aprovado para a vaga %q em %s", job.Title, job.Date),
		URL:   fmt.Sprintf("/worker/assignments/%s", assignment.ID),
		Type:  "application_approved",
	})
	return assignment, nil
}

// RejectApplication declines a pending application and notifies the worker.
func (s *JobsService) RejectApplication(ctx context.Context, clientID, appID string) error {
	app, err := s.store.GetApplication(ctx, appID)
	if err != nil {
		return err
	}
	if app == nil {
		return &domain.ErrNotFound{Resource: "application", ID: appID}
	}
	if app.Status != domain.ApplicationPending {
		return &domain.ErrConflict{Message: "candidatura já foi processada"}
	}

	job, err := s.GetJob(ctx, app.JobID)
	if err != nil {
		return err
	}
	if job.ClientID != clientID {
		return &domain.ErrForbidden{Action: "reject application of another client's job"}
	}

	if err := s.store.UpdateApplicationStatus(ctx, appID, domain.ApplicationRejected); err != nil {
		return err
	}

	s.notify(ctx, []string{app.WorkerID}, &domain.PushRequest{
		Title: "Candidatura não aprovada",
		Body:  fmt.Sprintf("Sua candidatura para %q não foi aprovada desta vez", job.Title),
		URL:   "/worker/jobs",
		Type:  "application_rejected",
	})
	return nil
}

// ListAssignmentsByWorker returns a worker's assignments.
func (s *JobsService) ListAssignmentsByWorker(ctx context.Context, workerID string) ([]domain.Assignment, error) {
	return s.store.ListAssignmentsByWorker(ctx, workerID)
}

// ListAssignmentsByClient returns a client's assignments.
func (s *JobsService) ListAssignmentsByClient(ctx context.Context, clientID string) ([]domain.Assignment, error) {
	return s.store.ListAssignmentsByClient(ctx, clientID)
}

// CheckIn records the worker's arrival at the job.
func (s *JobsService) CheckIn(ctx context.Context, workerID, assignmentID string) error {
	assignment, err := s.getWorkerAssignment(ctx, workerID, assignmentID)
	if err != nil {
		return err
	}
	if assignment.Status != domain.AssignmentScheduled {
		return &domain.ErrConflict{Message: "check-in só é permitido em agendamentos confirmados"}
	}

	now := time.Now().UTC()
	err = s.store.UpdateAssignment(ctx, assignmentID, map[string]any{
		"status":      string(domain.AssignmentCheckedIn),
		"check_in_at": now.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	s.notify(ctx, []string{assignment.ClientID}, &domain.PushRequest{
		Title: "Profissional chegou",
		Body:  "O profissional fez check-in no trabalho",
		URL:   fmt.Sprintf("/client/assignments/%s", assignmentID),
		Type:  "check_in",
	})
	return nil
}

// CheckOut records the worker leaving; the day is done and rating opens.
func (s *JobsService) CheckOut(ctx context.Context, workerID, assignmentID string) error {
	assignment, err := s.getWorkerAssignment(ctx, workerID, assignmentID)
	if err != nil {
		return err
	}
	if assignment.Status != domain.AssignmentCheckedIn {
		return &domain.ErrConflict{Message: "check-out exige check-in prévio"}
	}

	now := time.Now().UTC()
	err = s.store.UpdateAssignment(ctx, assignmentID, map[string]any{
		"status":       string(domain.AssignmentCheckedOut),
		"check_out_at": now.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	s.notify(ctx, []string{assignment.ClientID}, &domain.PushRequest{
		Title: "Trabalho concluído",
		Body:  "O profissional finalizou o trabalho. Avalie o serviço!",
		URL:   fmt.Sprintf("/client/assignments/%s/rate", assignmentID),
		Type:  "check_out",
	})
	return nil
}

// RateWorker records the client's rating of the worker and folds it into the
// worker's running average.
func (s *JobsService) RateWorker(ctx context.Context, clientID, assignmentID string, req *domain.RateAssignmentRequest) error {
	if req.Rating < 1 || req.Rating > 5 {
		return &domain.ErrValidation{Field: "rating", Message: "avaliação deve ser entre 1 e 5"}
	}

	assignment, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	if assignment == nil {
		return &domain.ErrNotFound{Resource: "assignment", ID: assignmentID}
	}
	if assignment.ClientID != clientID {
		return &domain.ErrForbidden{Action: "rate another client's assignment"}
	}
	if assignment.Status != domain.AssignmentCheckedOut {
		return &domain.ErrConflict{Message: "avaliação só é permitida após o check-out"}
	}

	err = s.store.UpdateAssignment(ctx, assignmentID, map[string]any{
		"status":        string(domain.AssignmentRated),
		"worker_rating": req.Rating,
	})
	if err != nil {
		return err
	}

	if err := s.recomputeWorkerRating(ctx, assignment.WorkerID, assignmentID, req.Rating); err != nil {
		s.logger.Warn("failed to update worker aggregate rating",
			zap.String("worker_id", assignment.WorkerID),
			zap.Error(err),
		)
	}

	s.notify(ctx, []string{assignment.WorkerID}, &domain.PushRequest{
		Title: "Você recebeu uma avaliação",
		Body:  fmt.Sprintf("Um cliente avaliou seu trabalho com nota %.0f", req.Rating),
		URL:   "/worker/profile",
		Type:  "rated",
	})
	return nil
}

// RateClient records the worker's rating of the client on the assignment.
func (s *JobsService) RateClient(ctx context.Context, workerID, assignmentID string, req *domain.RateAssignmentRequest) error {
	if req.Rating < 1 || req.Rating > 5 {
		return &domain.ErrValidation{Field: "rating", Message: "avaliação deve ser entre 1 e 5"}
	}

	assignment, err := s.getWorkerAssignment(ctx, workerID, assignmentID)
	if err != nil {
		return err
	}
	if assignment.Status != domain.AssignmentCheckedOut && assignment.Status != domain.AssignmentRated {
		return &domain.ErrConflict{Message: "avaliação só é permitida após o check-out"}
	}

	return s.store.UpdateAssignment(ctx, assignmentID, map[string]any{
		"client_rating": req.Rating,
	})
}

// --- internals ---

func (s *JobsService) getWorkerAssignment(ctx context.Context, workerID, assignmentID string) (*domain.Assignment, error) {
	assignment, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, &domain.ErrNotFound{Resource: "assignment", ID: assignmentID}
	}
	if assignment.WorkerID != workerID {
		return nil, &domain.ErrForbidden{Action: "access another worker's assignment"}
	}
	return assignment, nil
}

// recomputeWorkerRating folds one new rating into the stored average.
func (s *JobsService) recomputeWorkerRating(ctx context.Context, workerID, ratedAssignmentID string, rating float64) error {
	assignments, err := s.store.ListAssignmentsByWorker(ctx, workerID)
	if err != nil {
		return err
	}

	var sum float64
	var count int
	seen := false
	for _, a := range assignments {
		if a.WorkerRating == nil {
			continue
		}
		if a.ID == ratedAssignmentID {
			seen = true
		}
		sum += *a.WorkerRating
		count++
	}
	// The just-written rating may not be visible yet through the store;
	// fold it in whenever the listing missed it.
	if !seen {
		sum += rating
		count++
	}

	return s.store.UpdateWorkerRating(ctx, workerID, sum/float64(count), count)
}

// notify is fire-and-forget: marketplace operations never fail because a
// push could not be delivered.
func (s *JobsService) notify(ctx context.Context, userIDs []string, req *domain.PushRequest) {
	req.UserIDs = userIDs
	if err := s.delivery.Dispatch(ctx, req); err != nil {
		s.logger.Warn("notification dispatch failed",
			zap.String("type", req.Type),
			zap.Error(err),
		)
	}
}
