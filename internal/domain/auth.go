package domain

import "time"

// ============================================================
// Auth — sessions, events and request/response types
// ============================================================

// User is the identity-provider user object attached to a session.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the opaque token pair plus user issued by the identity provider.
// The session manager holds a read-only cached copy; the provider owns it.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// SessionEventType identifies an ambient session-change event.
type SessionEventType string

const (
	SessionSignedIn       SessionEventType = "SIGNED_IN"
	SessionSignedOut      SessionEventType = "SIGNED_OUT"
	SessionTokenRefreshed SessionEventType = "TOKEN_REFRESHED"
)

// SessionEvent is emitted by the session store whenever the underlying
// session changes, regardless of which operation caused the change.
type SessionEvent struct {
	Type    SessionEventType
	Session *Session // nil on SIGNED_OUT
}

// SignUpRequest carries registration credentials plus profile metadata.
// Extension records are provisioned server-side from the metadata; the
// session manager only relays it.
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`

	Name        string `json:"name"`
	Role        Role   `json:"role"`
	Phone       string `json:"phone,omitempty"`
	CPF         string `json:"cpf,omitempty"`
	CNPJ        string `json:"cnpj,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
}

// AuthPhase is the coarse state of the session manager.
type AuthPhase int

const (
	PhaseBootstrapping AuthPhase = iota
	PhaseUnauthenticated
	PhaseLoadingProfile
	// PhaseSigningIn is a first-class state: while a manual sign-in is in
	// flight, ambient session events must not race with it.
	PhaseSigningIn
	PhaseReady
)

func (p AuthPhase) String() string {
	switch p {
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseLoadingProfile:
		return "loading_profile"
	case PhaseSigningIn:
		return "signing_in"
	case PhaseReady:
		return "ready"
	}
	return "unknown"
}

// AuthState is a point-in-time snapshot of the session manager, the only
// view the route guard and notification lifecycle consume.
type AuthState struct {
	Phase           AuthPhase
	User            *User
	Session         *Session
	Profile         *ResolvedProfile
	Loading         bool
	ProfileComplete bool
}
