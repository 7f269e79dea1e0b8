package carexpert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

func writeEnvelope(w http.ResponseWriter, status int, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := map[string]any{"success": status < 400}
	if data != nil {
		env["data"] = data
	}
	if message != "" {
		env["message"] = message
	}
	json.NewEncoder(w).Encode(env)
}

// countingNotifier records every notification.
type countingNotifier struct {
	mu     sync.Mutex
	levels []string
}

func (n *countingNotifier) Notify(level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.levels = append(n.levels, level)
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.levels)
}

// ============================================================================
// Envelope handling
// ============================================================================

func TestClientDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/appointments" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeEnvelope(w, http.StatusOK, map[string]any{
			"appointments": []map[string]any{
				{"id": "a1", "doctorId": "d1", "date": "2026-03-01", "slot": "10:30", "status": "PENDING"},
			},
		}, "")
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	appointments, err := client.ListAppointments(context.Background())
	if err != nil {
		t.Fatalf("ListAppointments: %v", err)
	}
	if len(appointments) != 1 || appointments[0].ID != "a1" || appointments[0].Status != AppointmentPending {
		t.Fatalf("unexpected appointments: %+v", appointments)
	}
}

func TestClientEnvelopeFailureIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusBadRequest, nil, "slot already booked")
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.BookAppointment(context.Background(), BookAppointmentRequest{DoctorID: "d1", Date: "2026-03-01", Slot: "10:30"})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Message != "slot already booked" {
		t.Fatalf("unexpected APIError: %+v", apiErr)
	}
	if !IsStatus(err, http.StatusBadRequest) {
		t.Fatal("IsStatus must see through the wrapping")
	}
}

// ============================================================================
// 401 interceptor
// ============================================================================

func TestUnauthorizedTriggersRecoveryOncePerBurst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, nil, "jwt expired")
	}))
	defer srv.Close()

	notifier := &countingNotifier{}
	client := NewClient(WithBaseURL(srv.URL), WithNotifier(notifier))

	clock := newFakeClock()
	client.guard.now = clock.now

	var handlerCalls int
	client.SetSessionExpiryHandler(func(reason string) {
		handlerCalls++
		if reason != "unauthorized" {
			t.Errorf("unexpected reason %q", reason)
		}
	})

	// A burst of failing requests while the session is dead.
	for i := 0; i < 5; i++ {
		_, err := client.ListAppointments(context.Background())
		if !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("request %d: expected ErrSessionExpired, got %v", i, err)
		}
		clock.advance(100 * time.Millisecond)
	}

	if handlerCalls != 1 {
		t.Fatalf("expected exactly 1 recovery in the burst, got %d", handlerCalls)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected exactly 1 notification in the burst, got %d", notifier.count())
	}
}

func TestRecoveryGuardReArmsAfterCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, nil, "jwt expired")
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	clock := newFakeClock()
	client.guard.now = clock.now

	var handlerCalls int
	client.SetSessionExpiryHandler(func(string) { handlerCalls++ })

	client.ListAppointments(context.Background())
	clock.advance(recoveryCooldown + time.Second)
	client.ListAppointments(context.Background())

	if handlerCalls != 2 {
		t.Fatalf("expected recovery to re-arm after the cooldown, got %d calls", handlerCalls)
	}
}

func TestForbiddenNotifiesWithoutRecovery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusForbidden, nil, "doctors only")
	}))
	defer srv.Close()

	notifier := &countingNotifier{}
	client := NewClient(WithBaseURL(srv.URL), WithNotifier(notifier))

	recovered := false
	client.SetSessionExpiryHandler(func(string) { recovered = true })

	err := client.UpdateAppointmentStatus(context.Background(), "a1", AppointmentConfirmed)
	if !IsStatus(err, http.StatusForbidden) {
		t.Fatalf("expected 403 APIError, got %v", err)
	}
	if recovered {
		t.Fatal("403 must not trigger session recovery")
	}
	if notifier.count() != 1 {
		t.Fatalf("expected 1 notification, got %d", notifier.count())
	}
}

func TestServerErrorNotifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream exploded") // not JSON
	}))
	defer srv.Close()

	notifier := &countingNotifier{}
	client := NewClient(WithBaseURL(srv.URL), WithNotifier(notifier))

	err := client.MarkAllNotificationsRead(context.Background())
	if !IsStatus(err, http.StatusBadGateway) {
		t.Fatalf("expected 502 APIError, got %v", err)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected 1 notification, got %d", notifier.count())
	}
}

func TestRejectedLoginDoesNotTriggerRecovery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, nil, "invalid credentials")
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	recovered := false
	client.SetSessionExpiryHandler(func(string) { recovered = true })

	_, err := client.LoginSession(context.Background(), "a@x.com", "wrong")
	if errors.Is(err, ErrSessionExpired) {
		t.Fatal("a rejected login is a credential error, not a session expiry")
	}
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if recovered {
		t.Fatal("login failure must not trigger the recovery sequence")
	}
}

// ============================================================================
// Cookie-based session
// ============================================================================

func TestLoginStoresCookieAndReplaysIt(t *testing.T) {
	const cookieName = "carexpert_session"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			http.SetCookie(w, &http.Cookie{Name: cookieName, Value: "s3cr3t", Path: "/", HttpOnly: true})
			writeEnvelope(w, http.StatusOK, map[string]any{
				"user": map[string]any{"id": "u1", "name": "A", "email": "a@x.com", "role": "PATIENT"},
			}, "")
		case "/api/v1/auth/me":
			c, err := r.Cookie(cookieName)
			if err != nil || c.Value != "s3cr3t" {
				writeEnvelope(w, http.StatusUnauthorized, nil, "no session")
				return
			}
			writeEnvelope(w, http.StatusOK, map[string]any{
				"user": map[string]any{"id": "u1", "name": "A", "email": "a@x.com", "role": "PATIENT"},
			}, "")
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))

	sess, err := client.LoginSession(context.Background(), "a@x.com", "pw")
	if err != nil {
		t.Fatalf("LoginSession: %v", err)
	}
	if sess.ID != "u1" || sess.Role != RolePatient {
		t.Fatalf("unexpected session: %+v", sess)
	}

	// The follow-up request must carry the jar's cookie, with no header
	// injection by the client.
	me, err := client.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if me.Email != "a@x.com" {
		t.Fatalf("unexpected identity: %+v", me)
	}
}

// ============================================================================
// Doctors cache
// ============================================================================

func TestListDoctorsServedFromCache(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		writeEnvelope(w, http.StatusOK, map[string]any{
			"doctors": []map[string]any{{"id": "d1", "name": "Dr. A", "specialization": "Cardiology", "city": "Pune"}},
		}, "")
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))

	for i := 0; i < 3; i++ {
		doctors, err := client.ListDoctors(context.Background(), DoctorFilter{})
		if err != nil {
			t.Fatalf("ListDoctors: %v", err)
		}
		if len(doctors) != 1 || doctors[0].ID != "d1" {
			t.Fatalf("unexpected doctors: %+v", doctors)
		}
	}
	if hits != 1 {
		t.Fatalf("expected 1 backend hit for repeat listings, got %d", hits)
	}
}

func TestListDoctorsFilterGetsOwnCacheEntry(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		writeEnvelope(w, http.StatusOK, map[string]any{
			"doctors": []map[string]any{{"id": "d-" + r.URL.Query().Get("city"), "name": "Dr.", "specialization": "x", "city": r.URL.Query().Get("city")}},
		}, "")
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))

	a, _ := client.ListDoctors(context.Background(), DoctorFilter{City: "Pune"})
	b, _ := client.ListDoctors(context.Background(), DoctorFilter{City: "Surat"})
	if hits != 2 {
		t.Fatalf("different filters must not share an entry, got %d hits", hits)
	}
	if a[0].ID == b[0].ID {
		t.Fatal("filters returned the same cached payload")
	}
}

// ============================================================================
// Report upload
// ============================================================================

func TestUploadReportMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Fatalf("not a multipart request: %v", err)
		}
		if got := r.FormValue("title"); got != "Blood Report" {
			t.Errorf("title = %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer file.Close()
		if header.Filename != "report.pdf" {
			t.Errorf("filename = %q", header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "application/pdf" {
			t.Errorf("content type = %q", ct)
		}
		writeEnvelope(w, http.StatusOK, map[string]any{
			"report": map[string]any{"id": "r1", "title": "Blood Report", "fileName": "report.pdf"},
		}, "")
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	report, err := client.UploadReport(context.Background(), ReportUpload{
		FileName: "report.pdf",
		MimeType: "application/pdf",
		Data:     []byte("%PDF-1.4"),
		Title:    "Blood Report",
	})
	if err != nil {
		t.Fatalf("UploadReport: %v", err)
	}
	if report.ID != "r1" {
		t.Fatalf("unexpected report: %+v", report)
	}
}
