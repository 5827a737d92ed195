// Package guard decides, from an auth snapshot, whether a requested route
// renders, redirects, or waits. Decisions are pure: no I/O, no side effects,
// so the same rules serve HTTP middleware and tests alike.
package guard

import (
	"github.com/trampoja/trampoja-api/internal/domain"
)

// Action is what the caller should do with the request.
type Action int

const (
	// ActionAllow renders the requested route.
	ActionAllow Action = iota
	// ActionRedirect sends the user to Decision.Target.
	ActionRedirect
	// ActionLoading holds the request: auth state is still settling and
	// neither allowing nor redirecting would be correct yet.
	ActionLoading
)

// Decision is the guard's verdict for one request.
type Decision struct {
	Action Action
	// Target is the redirect destination when Action is ActionRedirect.
	Target string
	// ReturnTo carries the originally requested route through a login
	// redirect so the user lands back where they were headed.
	ReturnTo string
}

// Options configures a protected route.
type Options struct {
	// AllowedRoles limits the route to these roles. Empty allows any
	// authenticated user.
	AllowedRoles []domain.Role
	// RequireCompleteProfile additionally demands a complete profile,
	// redirecting to the role's completion route otherwise.
	RequireCompleteProfile bool
}

const loginRoute = "/login"

// RoleHome is the landing route for each role.
func RoleHome(role domain.Role) string {
	switch role {
	case domain.RoleWorker:
		return "/worker"
	case domain.RoleClient:
		return "/client"
	case domain.RoleAdmin:
		return "/admin"
	}
	return loginRoute
}

// completionRoute is where an incomplete profile goes to finish onboarding.
func completionRoute(role domain.Role) string {
	switch role {
	case domain.RoleWorker:
		return "/worker/complete-profile"
	case domain.RoleClient:
		return "/client/complete-profile"
	}
	return loginRoute
}

// Protect guards an authenticated route.
//
// While the state machine is settling (bootstrap, profile load, or a manual
// sign-in in flight) the verdict is ActionLoading, never a redirect: kicking
// a user to login because their session was still being restored is the bug
// this exists to prevent.
func Protect(state domain.AuthState, requested string, opts Options) Decision {
	switch state.Phase {
	case domain.PhaseBootstrapping, domain.PhaseLoadingProfile, domain.PhaseSigningIn:
		return Decision{Action: ActionLoading}
	case domain.PhaseUnauthenticated:
		return Decision{Action: ActionRedirect, Target: loginRoute, ReturnTo: requested}
	}

	// PhaseReady from here on.
	if state.Profile == nil {
		// Authenticated but the profile never resolved. Without a role
		// there is no home to send them to; login restarts resolution.
		return Decision{Action: ActionRedirect, Target: loginRoute, ReturnTo: requested}
	}

	role := state.Profile.Profile.Role
	if len(opts.AllowedRoles) > 0 && !roleAllowed(role, opts.AllowedRoles) {
		return Decision{Action: ActionRedirect, Target: RoleHome(role)}
	}

	if opts.RequireCompleteProfile && !state.ProfileComplete {
		target := completionRoute(role)
		if requested == target {
			// The completion route itself must stay reachable.
			return Decision{Action: ActionAllow}
		}
		return Decision{Action: ActionRedirect, Target: target}
	}

	return Decision{Action: ActionAllow}
}

// Public guards routes for signed-out users (login, register). A user who is
// already signed in gets sent home instead of seeing the login form again;
// one whose profile is still incomplete goes to the completion route first.
func Public(state domain.AuthState, requested string) Decision {
	switch state.Phase {
	case domain.PhaseBootstrapping, domain.PhaseLoadingProfile:
		return Decision{Action: ActionLoading}
	case domain.PhaseReady:
		if state.Profile != nil {
			role := state.Profile.Profile.Role
			if !state.ProfileComplete && role != domain.RoleAdmin {
				return Decision{Action: ActionRedirect, Target: completionRoute(role)}
			}
			return Decision{Action: ActionRedirect, Target: RoleHome(role)}
		}
		return Decision{Action: ActionAllow}
	}
	// Unauthenticated, or a sign-in driven from this very page.
	return Decision{Action: ActionAllow}
}

func roleAllowed(role domain.Role, allowed []domain.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
