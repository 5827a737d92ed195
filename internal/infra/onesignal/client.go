// Package onesignal wraps the OneSignal REST API behind the push gateway
// and sender ports. The wrapper is deliberately forgiving: a missing app id
// or a rejected configuration disables push instead of failing callers, and
// nothing in here may take the auth flow down with it.
package onesignal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/trampoja/trampoja-api/internal/domain"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultBaseURL = "https://api.onesignal.com"

// Client talks to the OneSignal REST API. It implements both
// port.PushGateway and port.PushSender. Construct one per process and inject
// it; the zero value is not usable.
type Client struct {
	httpClient *http.Client
	baseURL    string
	appID      string
	apiKey     string
	logger     *zap.Logger

	initGroup singleflight.Group

	mu          sync.Mutex
	initialized bool
	disabled    bool
	disabledWhy string
	subscribed  bool
	permission  domain.PermissionStatus
	externalID  string

	nextListener int
	onReceived   map[int]func(domain.PushEvent)
	onClicked    map[int]func(domain.PushEvent)
}

// New creates a OneSignal client. An empty appID is allowed: the client
// constructs fine and reports push as disabled on first use.
func New(httpClient *http.Client, appID, apiKey string, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    defaultBaseURL,
		appID:      appID,
		apiKey:     apiKey,
		logger:     logger,
		permission: domain.PermissionDefault,
		onReceived: make(map[int]func(domain.PushEvent)),
		onClicked:  make(map[int]func(domain.PushEvent)),
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

// Init validates the configuration against the provider, exactly once even
// under concurrent callers. Calling Init again after success is a no-op
// success. Configuration problems disable push and return ErrPushDisabled;
// they are never hard failures.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	if c.disabled {
		why := c.disabledWhy
		c.mu.Unlock()
		return &domain.ErrPushDisabled{Reason: why}
	}
	c.mu.Unlock()

	_, err, _ := c.initGroup.Do("init", func() (any, error) {
		return nil, c.doInit(ctx)
	})
	return err
}

func (c *Client) doInit(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.appID == "" {
		c.disable("app id not configured")
		return &domain.ErrPushDisabled{Reason: "app id not configured"}
	}

	status, body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/apps/%s", c.appID), nil)
	if err != nil {
		// Transport errors are retryable: leave the client uninitialized
		// so a later Init can succeed.
		c.logger.Warn("onesignal: init request failed", zap.Error(err))
		return &domain.ErrPushDisabled{Reason: "provider unreachable"}
	}
	if status < 200 || status >= 300 {
		// A rejected app id (wrong key, unknown app, unapproved domain)
		// is permanent for this process.
		reason := fmt.Sprintf("provider rejected configuration (status %d)", status)
		c.logger.Warn("onesignal: init rejected",
			zap.Int("status", status),
			zap.String("body", string(body)),
		)
		c.disable(reason)
		return &domain.ErrPushDisabled{Reason: reason}
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	c.logger.Info("onesignal: initialized", zap.String("app_id", c.appID))
	return nil
}

func (c *Client) disable(why string) {
	c.mu.Lock()
	c.disabled = true
	c.disabledWhy = why
	c.mu.Unlock()
}

// RegisterUser links the device to the user on the provider side and applies
// the initial tag set.
func (c *Client) RegisterUser(ctx context.Context, userID string, role domain.Role, tags map[string]string) error {
	if err := c.requireInit(); err != nil {
		return err
	}

	allTags := map[string]string{"role": string(role)}
	for k, v := range tags {
		allTags[k] = v
	}

	payload := map[string]any{
		"identity": map[string]string{"external_id": userID},
		"properties": map[string]any{
			"tags": allTags,
		},
	}
	status, body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/apps/%s/users", c.appID), payload)
	if err != nil {
		return &domain.ErrExternalService{Service: "onesignal", Err: err}
	}
	// 409 means the external id is already linked, which is what we want.
	if status != http.StatusConflict && (status < 200 || status >= 300) {
		return &domain.ErrExternalService{
			Service: "onesignal",
			Err:     fmt.Errorf("register user returned %d: %s", status, string(body)),
		}
	}

	c.mu.Lock()
	c.externalID = userID
	c.subscribed = true
	c.mu.Unlock()

	c.logger.Info("onesignal: user registered",
		zap.String("user_id", userID),
		zap.String("role", string(role)),
	)
	return nil
}

// UnregisterUser unlinks the device from the current user. Safe to call when
// nobody is registered.
func (c *Client) UnregisterUser(ctx context.Context) error {
	if err := c.requireInit(); err != nil {
		return err
	}

	c.mu.Lock()
	externalID := c.externalID
	c.externalID = ""
	c.subscribed = false
	c.mu.Unlock()

	if externalID == "" {
		return nil
	}

	status, body, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/apps/%s/users/by/external_id/%s", c.appID, externalID), nil)
	if err != nil {
		return &domain.ErrExternalService{Service: "onesignal", Err: err}
	}
	if status != http.StatusNotFound && (status < 200 || status >= 300) {
		return &domain.ErrExternalService{
			Service: "onesignal",
			Err:     fmt.Errorf("unregister user returned %d: %s", status, string(body)),
		}
	}

	c.logger.Info("onesignal: user unregistered", zap.String("user_id", externalID))
	return nil
}

// UpdateTags replaces the given tags on the user.
func (c *Client) UpdateTags(ctx context.Context, userID string, tags map[string]string) error {
	if err := c.requireInit(); err != nil {
		return err
	}

	payload := map[string]any{
		"properties": map[string]any{"tags": tags},
	}
	status, body, err := c.do(ctx, http.MethodPatch,
		fmt.Sprintf("/apps/%s/users/by/external_id/%s", c.appID, userID), payload)
	if err != nil {
		return &domain.ErrExternalService{Service: "onesignal", Err: err}
	}
	if status < 200 || status >= 300 {
		return &domain.ErrExternalService{
			Service: "onesignal",
			Err:     fmt.Errorf("update tags returned %d: %s", status, string(body)),
		}
	}
	return nil
}

// PromptForPermission mirrors the platform permission prompt. A denied
// permission stays denied; prompting again does not re-ask.
func (c *Client) PromptForPermission(ctx context.Context) bool {
	if err := c.requireInit(); err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.permission {
	case domain.PermissionDenied, domain.PermissionUnsupported:
		return false
	case domain.PermissionGranted:
		return true
	default:
		c.permission = domain.PermissionGranted
		return true
	}
}

// IsSubscribed reports whether a user is currently registered.
func (c *Client) IsSubscribed(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized && c.subscribed
}

// PermissionStatus reports the current permission state, unsupported when
// push is disabled.
func (c *Client) PermissionStatus(ctx context.Context) domain.PermissionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return domain.PermissionUnsupported
	}
	return c.permission
}

// OnNotificationReceived registers a foreground-notification listener and
// returns its detach func.
func (c *Client) OnNotificationReceived(fn func(domain.PushEvent)) func() {
	return c.addListener(c.onReceived, fn)
}

// OnNotificationClicked registers a click listener and returns its detach func.
func (c *Client) OnNotificationClicked(fn func(domain.PushEvent)) func() {
	return c.addListener(c.onClicked, fn)
}

func (c *Client) addListener(m map[int]func(domain.PushEvent), fn func(domain.PushEvent)) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	m[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(m, id)
		c.mu.Unlock()
	}
}

// EmitReceived fans a push event out to received-listeners. Called by the
// delivery dispatcher when a notification lands while the app is foreground.
func (c *Client) EmitReceived(ev domain.PushEvent) {
	c.emit(c.onReceived, ev)
}

// EmitClicked fans a push event out to click-listeners.
func (c *Client) EmitClicked(ev domain.PushEvent) {
	c.emit(c.onClicked, ev)
}

func (c *Client) emit(m map[int]func(domain.PushEvent), ev domain.PushEvent) {
	c.mu.Lock()
	fns := make([]func(domain.PushEvent), 0, len(m))
	for _, fn := range m {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// --- sending ---

type sendResponse struct {
	ID     string `json:"id"`
	Errors struct {
		InvalidPlayerIDs []string `json:"invalid_player_ids"`
	} `json:"errors"`
}

// SendPush delivers a notification to the given subscription ids. The gone
// return lists ids the provider no longer recognizes so the caller can prune
// them from storage.
func (c *Client) SendPush(ctx context.Context, subscriptionIDs []string, req *domain.PushRequest) (gone []string, err error) {
	if c.appID == "" || c.apiKey == "" {
		return nil, &domain.ErrPushDisabled{Reason: "provider not configured"}
	}
	if len(subscriptionIDs) == 0 {
		return nil, nil
	}

	payload := map[string]any{
		"app_id":                   c.appID,
		"include_subscription_ids": subscriptionIDs,
		"headings":                 map[string]string{"en": req.Title, "pt": req.Title},
		"contents":                 map[string]string{"en": req.Body, "pt": req.Body},
	}
	if req.URL != "" {
		payload["url"] = req.URL
	}
	if req.Type != "" {
		payload["data"] = map[string]string{"type": req.Type}
	}

	status, body, err := c.do(ctx, http.MethodPost, "/notifications", payload)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "onesignal", Err: err}
	}

	var resp sendResponse
	_ = json.Unmarshal(body, &resp)

	if status == http.StatusGone || status == http.StatusNotFound {
		// Whole batch is gone.
		return subscriptionIDs, nil
	}
	if status < 200 || status >= 300 {
		return nil, &domain.ErrExternalService{
			Service: "onesignal",
			Err:     fmt.Errorf("send push returned %d: %s", status, string(body)),
		}
	}
	return resp.Errors.InvalidPlayerIDs, nil
}

// --- internals ---

func (c *Client) requireInit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return &domain.ErrPushDisabled{Reason: c.disabledWhy}
	}
	if !c.initialized {
		return &domain.ErrPushDisabled{Reason: "not initialized"}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Basic %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
