// Package carexpert is the Go client for the CareXpert healthcare-appointment
// platform.
//
// It covers the session lifecycle (cookie-based login, cross-process logout
// sync, 401-driven recovery), the shared real-time chat connection, TTL
// caching of fetched data, and the REST surface (doctors, appointments,
// notifications, reports, chat history).
//
// Example:
//
//	client := carexpert.NewClient(carexpert.WithBaseURL("https://api.carexpert.example"))
//	store := carexpert.NewAuthStore(client, storage, bus, nil)
//
//	if err := store.Login(ctx, "a@x.com", "secret"); err != nil { ... }
//
//	socket := carexpert.NewSocket(client.BaseURL())
//	cancel := socket.Subscribe(func(m carexpert.ChatMessage) { ... })
//	defer cancel()
package carexpert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:5000"
	DefaultTimeout = 30 * time.Second

	// recoveryCooldown is how long after a 401-triggered recovery further
	// 401s in the same burst are absorbed without re-triggering it.
	recoveryCooldown = 3 * time.Second

	// doctorsCacheTTL bounds how stale a cached doctor listing may be.
	doctorsCacheTTL = 5 * time.Minute

	doctorsCacheKey = "doctors_list"
)

// ErrSessionExpired is returned by any request that came back unauthorized.
// The global recovery sequence (notification, store cleanup, redirect) has
// already been triggered when a caller sees this.
var ErrSessionExpired = errors.New("session expired")

// ============================================================================
// Notifier
// ============================================================================

// Notifier receives user-facing notifications (session loss, server errors).
type Notifier interface {
	Notify(level, message string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(level, message string)

func (f NotifierFunc) Notify(level, message string) { f(level, message) }

type nopNotifier struct{}

func (nopNotifier) Notify(string, string) {}

// ============================================================================
// Client
// ============================================================================

// Client is the single outbound request gateway. The session credential is
// ambient: it rides the cookie jar, and the client never injects a stored
// token into request headers.
type Client struct {
	baseURL    string
	httpClient *http.Client
	notifier   Notifier
	logger     *slog.Logger
	cache      *Cache
	guard      *recoveryGuard

	handlerMu        sync.Mutex
	onSessionExpired func(reason string)
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithNotifier(n Notifier) ClientOption {
	return func(c *Client) { c.notifier = n }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func WithCache(cache *Cache) ClientOption {
	return func(c *Client) { c.cache = cache }
}

// NewClient creates a new CareXpert client with a fresh cookie jar.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		notifier: nopNotifier{},
		logger:   slog.Default(),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		guard: newRecoveryGuard(recoveryCooldown),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient.Jar == nil {
		// cookiejar.New with nil options never fails
		jar, _ := cookiejar.New(nil)
		c.httpClient.Jar = jar
	}
	if c.cache == nil {
		c.cache = NewCache(NewMemoryStorage(), NewMemoryStorage(), c.logger)
	}
	return c
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Cache returns the client's cache manager.
func (c *Client) Cache() *Cache { return c.cache }

// SetSessionExpiryHandler wires the auth store's session-expiry handler into
// the 401 recovery sequence. The AuthStore constructor calls this.
func (c *Client) SetSessionExpiryHandler(fn func(reason string)) {
	c.handlerMu.Lock()
	c.onSessionExpired = fn
	c.handlerMu.Unlock()
}

func (c *Client) sessionExpiryHandler() func(string) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	return c.onSessionExpired
}

// ============================================================================
// Recovery guard
// ============================================================================

// recoveryGuard deduplicates the 401 recovery sequence: the first trigger in
// a burst wins, later ones within the cooldown are absorbed. After the
// cooldown it re-arms so an unrelated expiry can trigger recovery again.
type recoveryGuard struct {
	mu        sync.Mutex
	cooldown  time.Duration
	handledAt time.Time
	now       func() time.Time
}

func newRecoveryGuard(cooldown time.Duration) *recoveryGuard {
	return &recoveryGuard{cooldown: cooldown, now: time.Now}
}

// trigger reports whether the caller owns this burst's recovery.
func (g *recoveryGuard) trigger() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.handledAt.IsZero() && g.now().Sub(g.handledAt) < g.cooldown {
		return false
	}
	g.handledAt = g.now()
	return true
}

// ============================================================================
// Request gateway
// ============================================================================

// do performs a JSON request through the gateway with the 401 interceptor
// armed. Auth endpoints use doNoRecover so a rejected login is a credential
// error rather than a session-expiry event.
func (c *Client) do(ctx context.Context, method, path string, body any, query url.Values, out any) error {
	return c.request(ctx, method, path, body, query, out, true)
}

func (c *Client) doNoRecover(ctx context.Context, method, path string, body any, query url.Values, out any) error {
	return c.request(ctx, method, path, body, query, out, false)
}

func (c *Client) request(ctx context.Context, method, path string, body any, query url.Values, out any, allowRecovery bool) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, out, allowRecovery)
}

// send executes a prepared request and routes the response through the
// interceptor: 401 triggers at most one recovery per burst, 403/5xx surface
// a notification without touching session state, everything else propagates
// to the caller.
func (c *Client) send(req *http.Request, out any, allowRecovery bool) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	// a non-JSON error body still yields a usable status-driven error below
	_ = json.Unmarshal(data, &env)

	if resp.StatusCode == http.StatusUnauthorized && allowRecovery {
		c.handleUnauthorized()
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ErrSessionExpired)
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode >= 500 {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.notifier.Notify("error", msg)
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if resp.StatusCode >= 400 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) handleUnauthorized() {
	if !c.guard.trigger() {
		return
	}
	c.logger.Info("session expired, triggering recovery")
	c.notifier.Notify("warning", "Your session has expired. Please log in again.")
	if h := c.sessionExpiryHandler(); h != nil {
		h("unauthorized")
	}
}

// ============================================================================
// Auth endpoints
// ============================================================================

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User Session `json:"user"`
}

// LoginSession authenticates against the session endpoint. The session
// cookie lands in the jar; only identity fields from the response are
// retained. Most callers want AuthStore.Login, which adds state tracking,
// persistence, and error categorization on top.
func (c *Client) LoginSession(ctx context.Context, email, password string) (*Session, error) {
	var res loginResponse
	err := c.doNoRecover(ctx, http.MethodPost, "/api/v1/auth/login", loginRequest{Email: email, Password: password}, nil, &res)
	if err != nil {
		return nil, err
	}
	return &res.User, nil
}

// LogoutSession invalidates the server-side session.
func (c *Client) LogoutSession(ctx context.Context) error {
	if err := c.doNoRecover(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil, nil); err != nil {
		return fmt.Errorf("carexpert.LogoutSession: %w", err)
	}
	return nil
}

// Me returns the identity behind the current session cookie.
func (c *Client) Me(ctx context.Context) (*Session, error) {
	var res loginResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/me", nil, nil, &res); err != nil {
		return nil, fmt.Errorf("carexpert.Me: %w", err)
	}
	return &res.User, nil
}

// ============================================================================
// Doctors
// ============================================================================

func (f DoctorFilter) query() url.Values {
	q := url.Values{}
	if f.City != "" {
		q.Set("city", f.City)
	}
	if f.Specialization != "" {
		q.Set("specialization", f.Specialization)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	return q
}

func (f DoctorFilter) cacheKey() string {
	q := f.query()
	if len(q) == 0 {
		return doctorsCacheKey
	}
	return doctorsCacheKey + ":" + q.Encode()
}

// ListDoctors fetches the doctor listing, serving from the cache when a
// fresh snapshot for the same filter exists.
func (c *Client) ListDoctors(ctx context.Context, filter DoctorFilter) ([]Doctor, error) {
	doctors, err := GetOrFetch(ctx, c.cache, filter.cacheKey(), func(ctx context.Context) ([]Doctor, error) {
		var out struct {
			Doctors []Doctor `json:"doctors"`
		}
		if err := c.do(ctx, http.MethodGet, "/api/v1/doctors", nil, filter.query(), &out); err != nil {
			return nil, err
		}
		return out.Doctors, nil
	}, CacheOptions{TTL: doctorsCacheTTL, Backend: BackendSession})
	if err != nil {
		return nil, fmt.Errorf("carexpert.ListDoctors: %w", err)
	}
	return doctors, nil
}

// GetDoctor fetches a single doctor profile.
func (c *Client) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	var out struct {
		Doctor Doctor `json:"doctor"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/doctors/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("carexpert.GetDoctor: %w", err)
	}
	return &out.Doctor, nil
}

// ============================================================================
// Appointments
// ============================================================================

// BookAppointment books a consultation slot with a doctor.
func (c *Client) BookAppointment(ctx context.Context, req BookAppointmentRequest) (*Appointment, error) {
	var out struct {
		Appointment Appointment `json:"appointment"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/appointments", req, nil, &out); err != nil {
		return nil, fmt.Errorf("carexpert.BookAppointment: %w", err)
	}
	return &out.Appointment, nil
}

// ListAppointments returns the caller's appointments (as patient or doctor,
// per the session role).
func (c *Client) ListAppointments(ctx context.Context) ([]Appointment, error) {
	var out struct {
		Appointments []Appointment `json:"appointments"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/appointments", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("carexpert.ListAppointments: %w", err)
	}
	return out.Appointments, nil
}

// UpdateAppointmentStatus sets an appointment's status (doctors confirm or
// reject, the backend enforces who may do what).
func (c *Client) UpdateAppointmentStatus(ctx context.Context, id string, status AppointmentStatus) error {
	body := map[string]AppointmentStatus{"status": status}
	if err := c.do(ctx, http.MethodPatch, "/api/v1/appointments/"+url.PathEscape(id)+"/status", body, nil, nil); err != nil {
		return fmt.Errorf("carexpert.UpdateAppointmentStatus: %w", err)
	}
	return nil
}

// CancelAppointment cancels an appointment.
func (c *Client) CancelAppointment(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/v1/appointments/"+url.PathEscape(id), nil, nil, nil); err != nil {
		return fmt.Errorf("carexpert.CancelAppointment: %w", err)
	}
	return nil
}

// ============================================================================
// Notifications
// ============================================================================

// ListNotifications returns one page of notifications.
func (c *Client) ListNotifications(ctx context.Context, page, limit int) (*NotificationPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out NotificationPage
	if err := c.do(ctx, http.MethodGet, "/api/v1/notifications", nil, q, &out); err != nil {
		return nil, fmt.Errorf("carexpert.ListNotifications: %w", err)
	}
	return &out, nil
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodPatch, "/api/v1/notifications/"+url.PathEscape(id)+"/read", nil, nil, nil); err != nil {
		return fmt.Errorf("carexpert.MarkNotificationRead: %w", err)
	}
	return nil
}

// MarkAllNotificationsRead marks every notification as read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPatch, "/api/v1/notifications/read-all", nil, nil, nil); err != nil {
		return fmt.Errorf("carexpert.MarkAllNotificationsRead: %w", err)
	}
	return nil
}

// ============================================================================
// Reports
// ============================================================================

// UploadReport uploads a medical report as a multipart form.
func (c *Client) UploadReport(ctx context.Context, upload ReportUpload) (*Report, error) {
	if upload.FileName == "" {
		return nil, fmt.Errorf("carexpert.UploadReport: fileName is required")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if upload.Title != "" {
		_ = w.WriteField("title", upload.Title)
	}
	if upload.Description != "" {
		_ = w.WriteField("description", upload.Description)
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, upload.FileName))
	if upload.MimeType != "" {
		header.Set("Content-Type", upload.MimeType)
	} else {
		header.Set("Content-Type", "application/octet-stream")
	}
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("carexpert.UploadReport: create form file: %w", err)
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, fmt.Errorf("carexpert.UploadReport: write file data: %w", err)
	}
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/reports", &buf)
	if err != nil {
		return nil, fmt.Errorf("carexpert.UploadReport: create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out struct {
		Report Report `json:"report"`
	}
	if err := c.send(req, &out, true); err != nil {
		return nil, fmt.Errorf("carexpert.UploadReport: %w", err)
	}
	return &out.Report, nil
}
