package queue

import (
	"time"

	"soraq/pricing"
	"soraq/provider"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition can happen.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Request is a user's "add to queue" or "generate now" action.
type Request struct {
	Prompt           string
	Model            pricing.Tier
	Size             string
	Seconds          int
	Reference        []byte
	ReferenceName    string
	ReferenceVideoID string
	SessionUser      string
}

// Item is one pending or historical generation request. Reference is held in
// memory only and is never persisted.
type Item struct {
	ID               string       `json:"id"`
	Prompt           string       `json:"prompt"`
	Model            pricing.Tier `json:"model"`
	Size             string       `json:"size"`
	Duration         int          `json:"duration"`
	Reference        []byte       `json:"-"`
	ReferenceName    string       `json:"referenceName,omitempty"`
	HasReference     bool         `json:"hasReference"`
	ReferenceVideoID string       `json:"referenceVideoId,omitempty"`
	Status           Status       `json:"status"`
	JobID            string       `json:"videoId,omitempty"`
	Progress         *int         `json:"progress,omitempty"`
	Error            string       `json:"error,omitempty"`
	Interrupted      bool         `json:"interrupted,omitempty"`
	SessionUser      string       `json:"sessionUser,omitempty"`
	ArtifactFile     string       `json:"artifact,omitempty"`
	AddedAt          time.Time    `json:"addedAt"`
	StartedAt        *time.Time   `json:"startedAt,omitempty"`
	CompletedAt      *time.Time   `json:"completedAt,omitempty"`
	Cost             float64      `json:"cost"`
}

func (it *Item) clone() Item {
	c := *it
	c.HasReference = len(it.Reference) > 0
	if it.Progress != nil {
		p := *it.Progress
		c.Progress = &p
	}
	return c
}

// EventType tells subscribers what changed.
type EventType string

const (
	EventItem   EventType = "item"
	EventQueue  EventType = "queue"
	EventStatus EventType = "status"
)

// Event is published after every queue mutation and every poll tick.
type Event struct {
	Type   EventType             `json:"type"`
	Item   *Item                 `json:"item,omitempty"`
	Status *provider.VideoStatus `json:"status,omitempty"`
}
