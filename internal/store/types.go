package store

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a task. Transitions only leave StatusOpen.
type Status string

const (
	StatusOpen      Status = "open"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a stored status value.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Priority is the stored urgency of a task.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a stored priority value.
func (p Priority) Valid() bool {
	return p == PriorityNormal || p == PriorityUrgent
}

// ParsePriority maps a priority name onto the stored pair. "high" collapses
// to urgent and "low"/"medium" to normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "urgent", "urgente", "high", "alta":
		return PriorityUrgent, nil
	case "normal", "", "medium", "media", "low", "baja":
		return PriorityNormal, nil
	}
	return "", fmt.Errorf("%w: priority %q", ErrInvalidValue, s)
}

// Task is a unit of work owned by one user.
type Task struct {
	ID          int64
	OwnerID     int64
	OwnerName   string
	Title       string
	Description string
	Status      Status
	Priority    Priority
	TaskDate    *time.Time

	// ClientID is nulled when the client is deleted; ClientNameRaw keeps
	// the name as it was spoken.
	ClientID      *int64
	ClientNameRaw string

	Solution   string
	Ampliacion string
	Category   string
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Images []TaskImage
}

// Client is an entry of the client registry.
type Client struct {
	ID             int64
	Name           string
	NormalizedName string
	Aliases        []string
	CreatedAt      time.Time
}

// Category classifies tasks.
type Category struct {
	ID          int64
	Name        string
	Icon        string
	Color       string
	DisplayName string
}

// Label renders the category for menus, e.g. "🔧 Averías".
func (c Category) Label() string {
	if c.Icon == "" {
		return c.DisplayName
	}
	return c.Icon + " " + c.DisplayName
}

// TaskImage is an image attached to a task. FileRef is the transport file
// identifier; StoragePath is set when the blob was copied locally.
type TaskImage struct {
	ID          int64
	TaskID      int64
	FileRef     string
	StoragePath string
	CreatedAt   time.Time
}

// TaskFilter selects tasks for ListTasks. Zero fields do not filter.
type TaskFilter struct {
	OwnerID  int64
	Status   Status
	ClientID int64

	// From and To bound task_date as [From, To). Tasks without a date are
	// excluded when either bound is set.
	From time.Time
	To   time.Time

	Limit int
}

// DefaultCategories are seeded on first migration.
var DefaultCategories = []Category{
	{Name: "administracion", Icon: "📋", Color: "#3498db", DisplayName: "Administración"},
	{Name: "averias", Icon: "🔧", Color: "#e74c3c", DisplayName: "Averías"},
	{Name: "clientes", Icon: "👤", Color: "#2ecc71", DisplayName: "Clientes"},
	{Name: "servicios", Icon: "⚙️", Color: "#f39c12", DisplayName: "Servicios"},
}
