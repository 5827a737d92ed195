package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/trampoja/trampoja-api/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// GoTrue session store — implements port.SessionStore
// ============================================================

// GoTrue wraps the Supabase Auth API. Besides the credential operations it
// keeps the most recent session (the way the browser SDK persists one) and
// fans ambient session-change events out to subscribers.
type GoTrue struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *zap.Logger

	mu      sync.Mutex
	current *domain.Session
	subs    map[int]chan domain.SessionEvent
	nextSub int
}

// NewGoTrue creates a session store backed by the Supabase Auth API.
func NewGoTrue(httpClient *http.Client, baseURL, apiKey string, logger *zap.Logger) *GoTrue {
	return &GoTrue{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logger,
		subs:       make(map[int]chan domain.SessionEvent),
	}
}

// tokenResponse is the GoTrue token/signup response shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type gotrueError struct {
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

func (e *gotrueError) message() string {
	if e.ErrorDescription != "" {
		return e.ErrorDescription
	}
	return e.Msg
}

// CurrentSession returns the persisted session, nil when none exists.
// Sessions past their expiry are refreshed before being handed out; a
// failed refresh clears the session rather than returning a stale one.
func (g *GoTrue) CurrentSession(ctx context.Context) (*domain.Session, error) {
	g.mu.Lock()
	session := g.current
	g.mu.Unlock()

	if session == nil {
		return nil, nil
	}
	if time.Now().Before(session.ExpiresAt) {
		return session, nil
	}

	refreshed, err := g.RefreshSession(ctx, session.RefreshToken)
	if err != nil {
		g.logger.Warn("gotrue: session refresh failed, clearing session", zap.Error(err))
		g.mu.Lock()
		g.current = nil
		g.mu.Unlock()
		return nil, nil
	}
	return refreshed, nil
}

// SignInWithPassword exchanges credentials for a session and emits SIGNED_IN.
func (g *GoTrue) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	body := map[string]any{"email": email, "password": password}
	session, err := g.tokenRequest(ctx, "token?grant_type=password", body)
	if err != nil {
		return nil, err
	}

	g.setSession(session)
	g.emit(domain.SessionEvent{Type: domain.SessionSignedIn, Session: session})
	return session, nil
}

// SignUp registers a new account; profile metadata rides along so the
// server-side trigger can provision the base profile row.
func (g *GoTrue) SignUp(ctx context.Context, req *domain.SignUpRequest) (*domain.Session, error) {
	data := map[string]any{
		"name": req.Name,
		"role": string(req.Role),
	}
	if req.Phone != "" {
		data["phone"] = req.Phone
	}
	if req.CPF != "" {
		data["cpf"] = req.CPF
	}
	if req.CNPJ != "" {
		data["cnpj"] = req.CNPJ
	}
	if req.CompanyName != "" {
		data["company_name"] = req.CompanyName
	}

	body := map[string]any{
		"email":    req.Email,
		"password": req.Password,
		"data":     data,
	}
	session, err := g.tokenRequest(ctx, "signup", body)
	if err != nil {
		return nil, err
	}

	// Email-confirmation flows return no tokens; only a live session
	// becomes current and observable.
	if session.AccessToken != "" {
		g.setSession(session)
		g.emit(domain.SessionEvent{Type: domain.SessionSignedIn, Session: session})
	}
	return session, nil
}

// SignOut clears the persisted session immediately, then revokes it
// remotely. The local clear is not rolled back on a failed revoke.
func (g *GoTrue) SignOut(ctx context.Context, accessToken string) error {
	g.mu.Lock()
	g.current = nil
	g.mu.Unlock()
	g.emit(domain.SessionEvent{Type: domain.SessionSignedOut})

	err := g.doAuth(ctx, http.MethodPost, "logout", nil, accessToken, nil)
	if err != nil {
		g.logger.Warn("gotrue: remote sign-out failed", zap.Error(err))
	}
	return err
}

// RefreshSession rotates the token pair and emits TOKEN_REFRESHED.
func (g *GoTrue) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	body := map[string]any{"refresh_token": refreshToken}
	session, err := g.tokenRequest(ctx, "token?grant_type=refresh_token", body)
	if err != nil {
		return nil, err
	}

	g.setSession(session)
	g.emit(domain.SessionEvent{Type: domain.SessionTokenRefreshed, Session: session})
	return session, nil
}

// UpdatePassword changes the password of the session's user.
func (g *GoTrue) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	body := map[string]any{"password": newPassword}
	return g.doAuth(ctx, http.MethodPut, "user", body, accessToken, nil)
}

// RequestPasswordReset asks GoTrue to send a recovery email. Always
// succeeds from the caller's perspective unless the transport fails.
func (g *GoTrue) RequestPasswordReset(ctx context.Context, email string) error {
	body := map[string]any{"email": email}
	return g.doAuth(ctx, http.MethodPost, "recover", body, "", nil)
}

// Subscribe registers for session-change events. The returned func
// detaches the subscription and closes its channel.
func (g *GoTrue) Subscribe() (<-chan domain.SessionEvent, func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextSub
	g.nextSub++
	ch := make(chan domain.SessionEvent, 16)
	g.subs[id] = ch

	return ch, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if c, ok := g.subs[id]; ok {
			delete(g.subs, id)
			close(c)
		}
	}
}

// --- internals ---

func (g *GoTrue) setSession(s *domain.Session) {
	g.mu.Lock()
	g.current = s
	g.mu.Unlock()
}

func (g *GoTrue) emit(ev domain.SessionEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, ch := range g.subs {
		select {
		case ch <- ev:
		default:
			g.logger.Warn("gotrue: dropping session event for slow subscriber",
				zap.Int("subscriber", id),
				zap.String("event", string(ev.Type)),
			)
		}
	}
}

func (g *GoTrue) tokenRequest(ctx context.Context, path string, body map[string]any) (*domain.Session, error) {
	var resp tokenResponse
	if err := g.doAuth(ctx, http.MethodPost, path, body, "", &resp); err != nil {
		return nil, err
	}

	return &domain.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		User: domain.User{
			ID:    resp.User.ID,
			Email: resp.User.Email,
		},
	}, nil
}

func (g *GoTrue) doAuth(ctx context.Context, method, path string, body map[string]any, bearer string, out any) error {
	url := fmt.Sprintf("%s/auth/v1/%s", g.baseURL, path)

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", g.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", bearer))
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Error("gotrue: request failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gerr gotrueError
		_ = json.Unmarshal(respBody, &gerr)
		msg := gerr.message()
		if msg == "" {
			msg = fmt.Sprintf("auth request failed with status %d", resp.StatusCode)
		}
		g.logger.Warn("gotrue: non-2xx response",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg),
		)
		// The provider's message string is the error contract callers
		// pattern-match for localized messages.
		return &domain.ErrUnauthorized{Message: msg}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode auth response: %w", err)
		}
	}
	return nil
}
