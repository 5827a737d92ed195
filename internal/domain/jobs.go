package domain

import "time"

// ============================================================
// Marketplace — jobs, applications and assignments
// ============================================================

// JobStatus is the lifecycle state of a posted job.
type JobStatus string

const (
	JobOpen      JobStatus = "open"
	JobFilled    JobStatus = "filled"
	JobCancelled JobStatus = "cancelled"
	JobDone      JobStatus = "done"
)

// Job is a temporary position posted by a client.
type Job struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Date        string    `json:"date"`
	Address     string    `json:"address"`
	City        string    `json:"city"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	DailyRate   float64   `json:"daily_rate"`
	Vacancies   int       `json:"vacancies"`
	Status      JobStatus `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// ApplicationStatus is the state of a worker's application to a job.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

// Application links a worker to a job they applied for.
type Application struct {
	ID        string            `json:"id"`
	JobID     string            `json:"job_id"`
	WorkerID  string            `json:"worker_id"`
	Status    ApplicationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// AssignmentStatus tracks an approved worker through the job day.
type AssignmentStatus string

const (
	AssignmentScheduled  AssignmentStatus = "scheduled"
	AssignmentCheckedIn  AssignmentStatus = "checked_in"
	AssignmentCheckedOut AssignmentStatus = "checked_out"
	AssignmentRated      AssignmentStatus = "rated"
)

// Assignment is created when a client approves an application.
type Assignment struct {
	ID           string           `json:"id"`
	JobID        string           `json:"job_id"`
	WorkerID     string           `json:"worker_id"`
	ClientID     string           `json:"client_id"`
	Status       AssignmentStatus `json:"status"`
	CheckInAt    *time.Time       `json:"check_in_at,omitempty"`
	CheckOutAt   *time.Time       `json:"check_out_at,omitempty"`
	WorkerRating *float64         `json:"worker_rating,omitempty"`
	ClientRating *float64         `json:"client_rating,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// CreateJobRequest is the body for POST /v1/jobs.
type CreateJobRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Date        string  `json:"date"`
	Address     string  `json:"address"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	DailyRate   float64 `json:"dailyRate"`
	Vacancies   int     `json:"vacancies"`
}

// RateAssignmentRequest is the body for POST /v1/assignments/{id}/rate.
type RateAssignmentRequest struct {
	Rating  float64 `json:"rating"`
	Comment string  `json:"comment,omitempty"`
}
