package provider

import (
	"fmt"
	"strings"
)

// Status values are defined by the provider and passed through unchanged.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// VideoError is the structured failure detail attached to a failed job.
// Every field is optional.
type VideoError struct {
	Code    string `json:"code,omitempty"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

// Video is the provider's job object.
type Video struct {
	ID          string      `json:"id"`
	Object      string      `json:"object,omitempty"`
	Model       string      `json:"model,omitempty"`
	Status      Status      `json:"status"`
	Progress    *int        `json:"progress,omitempty"`
	Prompt      string      `json:"prompt,omitempty"`
	Size        string      `json:"size,omitempty"`
	Seconds     string      `json:"seconds,omitempty"`
	CreatedAt   int64       `json:"created_at,omitempty"`
	CompletedAt int64       `json:"completed_at,omitempty"`
	Error       *VideoError `json:"error,omitempty"`
}

// VideoStatus is the normalized, transient view of one job's remote state.
type VideoStatus struct {
	ID       string      `json:"id"`
	Status   Status      `json:"status"`
	Progress *int        `json:"progress,omitempty"`
	Error    *VideoError `json:"error,omitempty"`
}

// StatusView normalizes a provider job into a VideoStatus. Progress is
// clamped to 0..100.
func (v *Video) StatusView() VideoStatus {
	vs := VideoStatus{ID: v.ID, Status: v.Status, Error: v.Error}
	if v.Progress != nil {
		p := *v.Progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		vs.Progress = &p
	}
	return vs
}

const genericFailure = "Video generation failed"

// FailureMessage renders the user-facing message for a failed job.
func (vs VideoStatus) FailureMessage() string {
	if vs.Error == nil {
		return genericFailure
	}
	var details []string
	if vs.Error.Code != "" {
		details = append(details, "Code: "+vs.Error.Code)
	}
	if vs.Error.Type != "" {
		details = append(details, "Type: "+vs.Error.Type)
	}
	switch {
	case vs.Error.Message != "" && len(details) > 0:
		return fmt.Sprintf("%s (%s)", vs.Error.Message, strings.Join(details, ", "))
	case vs.Error.Message != "":
		return vs.Error.Message
	case len(details) > 0:
		return fmt.Sprintf("%s - %s", genericFailure, strings.Join(details, ", "))
	}
	return genericFailure
}

// VideoPage is one page of the job listing.
type VideoPage struct {
	Object  string  `json:"object,omitempty"`
	Data    []Video `json:"data"`
	FirstID string  `json:"first_id,omitempty"`
	LastID  string  `json:"last_id,omitempty"`
	HasMore bool    `json:"has_more"`
}

type Deleted struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	Deleted bool   `json:"deleted"`
}

// CreateRequest carries everything a submission needs. Reference, when set,
// must already be prepared to the exact Size.
type CreateRequest struct {
	APIKey        string
	Prompt        string
	Model         string
	Size          string
	Seconds       int
	Reference     []byte
	ReferenceName string
	ReferenceType string
}

// APIError is a non-success response from the provider.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code,omitempty"`
	Type       string `json:"type,omitempty"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return e.Message
}
