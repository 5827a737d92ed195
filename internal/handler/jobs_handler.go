package handler

import (
	"encoding/json"
	"net/http"

	"github.com/trampoja/trampoja-api/internal/domain"
	"github.com/trampoja/trampoja-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Jobs — postings, applications and assignments
// ============================================================

func createJobHandler(jobs *service.JobsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.CreateJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		job, err := jobs.CreateJob(r.Context(), UserIDFromContext(r.Context()), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, job)
	}
}

func listJobsHandler(jobs *service.JobsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, pageSize := parsePagination(r)
		city := r.URL.Query().Get("city")

		result, err := jobs.ListOpenJobs(r.Context(), city, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": result})
	}
}

func getJobHandler(jobs *service.JobsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := jobs.GetJob(r.Context(), chi.URLParam(r, "jobId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func listMyJobsHandler(jobs *service.JobsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := jobs.ListJobsByClient(r.Context(), UserIDFromContext(r.Context()))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": result})
	}
}

func cancelJobHandler(jobs *service.JobsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := jobs.CancelJob(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "jobId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func applyHandler(jobs *service.JobsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app, err := jobs.Apply(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "jobId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, app)
	}
}

func listMyApplicationsHandler(jobs *service.JobsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apps, err := jobs.ListApplicationsByWorker(r.Context(), UserIDFromContext(r.Context()))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"applications": apps})
	}
}

func listJobApplicationsHandler(jobs *service.JobsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apps, err := jobs.ListApplicationsByJob(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "jobId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"applications": apps})
	}
}

func approveApplicationHandler(jobs *service.JobsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assignment, err := jobs.ApproveApplication(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "appId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, assignment)
	}
}

func rejectApplicationHandler(jobs *service.JobsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := jobs.RejectApplication(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "appId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listAssignmentsHandler(jobs *service.JobsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := UserIDFromContext(r.Context())
		profile := ProfileFromContext(r.Context())

		var (
			assignments []domain.Assignment
			err         error
		)
		if profile != nil && profile.Profile.Role == domain.RoleClient {
			assignments, err = jobs.ListAssignmentsByClient(r.Context(), userID)
		} else {
			assignments, err = jobs.ListAssignmentsByWorker(r.Context(), userID)
		}
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
	}
}

func checkInHandler(jobs *service.JobsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := jobs.CheckIn(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "assignmentId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.AssignmentCheckedIn)})
	}
}

func checkOutHandler(jobs *service.JobsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := jobs.CheckOut(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "assignmentId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.AssignmentCheckedOut)})
	}
}

func rateAssignmentHandler(jobs *service.JobsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.RateAssignmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		userID := UserIDFromContext(r.Context())
		assignmentID := chi.URLParam(r, "assignmentId")
		profile := ProfileFromContext(r.Context())

		var err error
		if profile != nil && profile.Profile.Role == domain.RoleClient {
			err = jobs.RateWorker(r.Context(), userID, assignmentID, &req)
		} else {
			err = jobs.RateClient(r.Context(), userID, assignmentID, &req)
		}
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Avaliação registrada"})
	}
}
