package carexpert

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a non-success response from the CareXpert API.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err (or any wrapped error) is an APIError with the
// given HTTP status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == status
	}
	return false
}

// envelope is the JSON wrapper every CareXpert endpoint returns.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// ============================================================================
// Session Types
// ============================================================================

// Role is the closed set of account roles.
type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
	RoleAdmin   Role = "ADMIN"
)

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Session is the authenticated identity for this client. It carries identity
// and profile fields only; credential material never appears here and is
// never persisted.
type Session struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	ProfileImage string `json:"profileImage,omitempty"`
	Role         Role   `json:"role"`
}

// ============================================================================
// Doctor Types
// ============================================================================

// Doctor is a doctor listing entry.
type Doctor struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Specialization string  `json:"specialization"`
	City           string  `json:"city"`
	Hospital       string  `json:"hospital,omitempty"`
	Experience     int     `json:"experience,omitempty"`
	Fee            float64 `json:"fee,omitempty"`
	ProfileImage   string  `json:"profileImage,omitempty"`
	Rating         float64 `json:"rating,omitempty"`
}

// DoctorFilter narrows a doctor listing query.
type DoctorFilter struct {
	City           string
	Specialization string
	Search         string
}

// ============================================================================
// Appointment Types
// ============================================================================

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "PENDING"
	AppointmentConfirmed AppointmentStatus = "CONFIRMED"
	AppointmentRejected  AppointmentStatus = "REJECTED"
	AppointmentCancelled AppointmentStatus = "CANCELLED"
	AppointmentCompleted AppointmentStatus = "COMPLETED"
)

// Appointment is a booked consultation between a patient and a doctor.
type Appointment struct {
	ID          string            `json:"id"`
	PatientID   string            `json:"patientId"`
	PatientName string            `json:"patientName,omitempty"`
	DoctorID    string            `json:"doctorId"`
	DoctorName  string            `json:"doctorName,omitempty"`
	Date        string            `json:"date"`
	Slot        string            `json:"slot"`
	Reason      string            `json:"reason,omitempty"`
	Status      AppointmentStatus `json:"status"`
	CreatedAt   string            `json:"createdAt,omitempty"`
}

// BookAppointmentRequest is the payload for booking an appointment.
type BookAppointmentRequest struct {
	DoctorID string `json:"doctorId"`
	Date     string `json:"date"`
	Slot     string `json:"slot"`
	Reason   string `json:"reason,omitempty"`
}

// ============================================================================
// Notification Types
// ============================================================================

// Notification is a user-facing platform notification.
type Notification struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Body      string `json:"body,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"createdAt"`
}

// NotificationPage is one page of the notification list.
type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unreadCount"`
	Page          int            `json:"page"`
	Limit         int            `json:"limit"`
	Total         int            `json:"total"`
}

// ============================================================================
// Report Types
// ============================================================================

// ReportUpload is the payload for uploading a medical report.
type ReportUpload struct {
	FileName    string
	MimeType    string
	Data        []byte
	Title       string
	Description string
}

// Report is an uploaded medical report.
type Report struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	FileName   string `json:"fileName"`
	FileURL    string `json:"fileUrl"`
	MimeType   string `json:"mimeType,omitempty"`
	UploadedAt string `json:"uploadedAt"`
}

// ============================================================================
// Chat Types
// ============================================================================

// SurfaceKind identifies the kind of chat surface a message belongs to.
type SurfaceKind string

const (
	SurfaceDirect    SurfaceKind = "direct"
	SurfaceCity      SurfaceKind = "city"
	SurfaceCommunity SurfaceKind = "community"
)

// ChatMessage is the canonical message record. Every backend shape variant is
// normalized into this before leaving the SDK boundary.
type ChatMessage struct {
	ID         string `json:"id"`
	RoomID     string `json:"roomId,omitempty"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	Content    string `json:"content"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

// HistoryPage is one page of chat history for a surface.
type HistoryPage struct {
	Messages []ChatMessage `json:"messages"`
	Page     int           `json:"page"`
	Limit    int           `json:"limit"`
	Total    int           `json:"total"`
}

// HasMore reports whether pages beyond this one exist, based on the total
// reported by the server at query time.
func (p *HistoryPage) HasMore() bool {
	return p.Page*p.Limit < p.Total
}

// DirectMessagePayload is an outbound one-on-one chat message.
type DirectMessagePayload struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// RoomMessagePayload is an outbound city or community room message.
type RoomMessagePayload struct {
	Room       string `json:"room"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	Content    string `json:"content"`
}
