package briefs

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmm-1987/agente/internal/store"
)

// Brief is the morning agenda of one user.
type Brief struct {
	OwnerID     int64
	OwnerName   string
	GeneratedAt time.Time
	Period      BriefPeriod
	Overdue     []TaskSummary
	Today       []TaskSummary
	Upcoming    []TaskSummary
	Metrics     BriefMetrics
}

// BriefPeriod is the day a brief covers.
type BriefPeriod struct {
	Start time.Time
	End   time.Time
}

// TaskSummary represents a task in the brief
type TaskSummary struct {
	ID       int64
	Title    string
	Client   string
	Priority store.Priority
	Date     *time.Time
}

// BriefMetrics counts the open tasks of the owner.
type BriefMetrics struct {
	OpenCount   int
	UrgentCount int
	Undated     int
}

// Empty reports whether nothing is due up to the end of the period.
func (b *Brief) Empty() bool {
	return len(b.Overdue) == 0 && len(b.Today) == 0
}

// BriefConfig holds configuration for brief generation
type BriefConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // Cron syntax: "0 8 * * 1-5"
	// UpcomingDays is how many days after today are previewed.
	UpcomingDays       int  `yaml:"upcoming_days"`
	MaxItemsPerSection int  `yaml:"max_items_per_section"`
	SkipEmpty          bool `yaml:"skip_empty"` // no message when nothing is due
}

// Validate checks the schedule of an enabled brief and the section sizes.
func (c *BriefConfig) Validate() error {
	if c.UpcomingDays < 0 {
		return fmt.Errorf("briefs.upcoming_days must not be negative")
	}
	if c.MaxItemsPerSection < 0 {
		return fmt.Errorf("briefs.max_items_per_section must not be negative")
	}
	if !c.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid briefs.schedule %q: %w", c.Schedule, err)
	}
	return nil
}

// DeliveryResult represents the result of sending a brief
type DeliveryResult struct {
	OwnerID   int64
	Success   bool
	Skipped   bool
	Error     error
	SentAt    time.Time
	MessageID int64
}
