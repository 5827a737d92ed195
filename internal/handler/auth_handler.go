package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/trampoja/trampoja-api/internal/domain"
	"github.com/trampoja/trampoja-api/internal/guard"
	"github.com/trampoja/trampoja-api/internal/port"
	"github.com/trampoja/trampoja-api/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Auth — session lifecycle and state
// ============================================================

// authStateResponse is the wire shape of an auth snapshot.
type authStateResponse struct {
	Phase           string          `json:"phase"`
	User            *domain.User    `json:"user,omitempty"`
	Session         *domain.Session `json:"session,omitempty"`
	Profile         *profileView    `json:"profile,omitempty"`
	Loading         bool            `json:"loading"`
	ProfileComplete bool            `json:"profileComplete"`
}

// profileView flattens the role-tagged profile for JSON.
type profileView struct {
	domain.Profile
	Worker   *domain.WorkerProfile `json:"worker,omitempty"`
	Client   *domain.ClientProfile `json:"client,omitempty"`
	Complete bool                  `json:"complete"`
}

func newProfileView(p *domain.ResolvedProfile) *profileView {
	if p == nil {
		return nil
	}
	return &profileView{
		Profile:  p.Profile,
		Worker:   p.WorkerRecord(),
		Client:   p.ClientRecord(),
		Complete: p.Complete(),
	}
}

func newAuthStateResponse(state domain.AuthState) authStateResponse {
	return authStateResponse{
		Phase:           state.Phase.String(),
		User:            state.User,
		Session:         state.Session,
		Profile:         newProfileView(state.Profile),
		Loading:         state.Loading,
		ProfileComplete: state.ProfileComplete,
	}
}

func authLoginHandler(manager *service.SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "e-mail e senha são obrigatórios")
			return
		}

		state, err := manager.SignIn(r.Context(), strings.TrimSpace(req.Email), req.Password)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, newAuthStateResponse(state))
	}
}

func authRegisterHandler(manager *service.SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.SignUpRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "e-mail e senha são obrigatórios")
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "nome é obrigatório")
			return
		}

		state, err := manager.SignUp(r.Context(), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, newAuthStateResponse(state))
	}
}

func authLogoutHandler(manager *service.SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := manager.SignOut(r.Context())
		writeJSON(w, http.StatusOK, newAuthStateResponse(state))
	}
}

func authRefreshHandler(sessions port.SessionStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.RefreshToken == "" {
			writeError(w, http.StatusBadRequest, "refreshToken é obrigatório")
			return
		}

		session, err := sessions.RefreshSession(r.Context(), req.RefreshToken)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

func authStateHandler(manager *service.SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, newAuthStateResponse(manager.Snapshot()))
	}
}

// authGuardHandler evaluates the route guard against the current auth state.
// The PWA shell asks this before rendering a route.
func authGuardHandler(manager *service.SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Route                  string   `json:"route"`
			Public                 bool     `json:"public,omitempty"`
			AllowedRoles           []string `json:"allowedRoles,omitempty"`
			RequireCompleteProfile bool     `json:"requireCompleteProfile,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Route == "" {
			writeError(w, http.StatusBadRequest, "route é obrigatório")
			return
		}

		state := manager.Snapshot()
		var decision guard.Decision
		if req.Public {
			decision = guard.Public(state, req.Route)
		} else {
			roles := make([]domain.Role, 0, len(req.AllowedRoles))
			for _, role := range req.AllowedRoles {
				roles = append(roles, domain.Role(role))
			}
			decision = guard.Protect(state, req.Route, guard.Options{
				AllowedRoles:           roles,
				RequireCompleteProfile: req.RequireCompleteProfile,
			})
		}

		action := "allow"
		switch decision.Action {
		case guard.ActionRedirect:
			action = "redirect"
		case guard.ActionLoading:
			action = "loading"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"action":   action,
			"target":   decision.Target,
			"returnTo": decision.ReturnTo,
		})
	}
}

func authPasswordResetRequestHandler(manager *service.SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Email == "" {
			writeError(w, http.StatusBadRequest, "e-mail é obrigatório")
			return
		}

		if err := manager.RequestPasswordReset(r.Context(), req.Email); err != nil {
			// Do not leak whether the address exists.
			logger.Warn("password reset request failed", zap.Error(err))
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Se o e-mail existir, enviaremos instruções de recuperação.",
		})
	}
}

func authChangePasswordHandler(sessions port.SessionStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			NewPassword string `json:"newPassword"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.NewPassword) < 6 {
			writeError(w, http.StatusBadRequest, "A senha deve ter no mínimo 6 caracteres")
			return
		}

		// The caller's own access token authorizes the change upstream.
		parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
		if len(parts) != 2 {
			writeError(w, http.StatusUnauthorized, "Token de autenticação não fornecido")
			return
		}

		if err := sessions.UpdatePassword(r.Context(), parts[1], req.NewPassword); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Senha alterada com sucesso"})
	}
}

// ============================================================
// Profile
// ============================================================

func getProfileHandler(resolver *service.ProfileResolver, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := UserIDFromContext(r.Context())

		res := resolver.Resolve(r.Context(), userID)
		switch res.Outcome {
		case service.OutcomeError:
			handleServiceError(w, res.Err, logger)
			return
		case service.OutcomeMissing:
			writeError(w, http.StatusNotFound, "Perfil não encontrado")
			return
		}
		writeJSON(w, http.StatusOK, newProfileView(res.Profile))
	}
}

func refreshProfileHandler(resolver *service.ProfileResolver, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := UserIDFromContext(r.Context())

		res := resolver.ResolveFresh(r.Context(), userID)
		switch res.Outcome {
		case service.OutcomeError:
			handleServiceError(w, res.Err, logger)
			return
		case service.OutcomeMissing:
			writeError(w, http.StatusNotFound, "Perfil não encontrado")
			return
		}
		writeJSON(w, http.StatusOK, newProfileView(res.Profile))
	}
}
