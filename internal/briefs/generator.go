package briefs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmm-1987/agente/internal/store"
)

// TaskLister is the read side of the task store used for briefs.
type TaskLister interface {
	ListTasks(ctx context.Context, f store.TaskFilter) ([]*store.Task, error)
}

// Generator builds morning agendas from the open tasks of every user.
type Generator struct {
	tasks  TaskLister
	config *BriefConfig
	loc    *time.Location
	now    func() time.Time
}

// NewGenerator creates a new brief generator
func NewGenerator(tasks TaskLister, config *BriefConfig, loc *time.Location) *Generator {
	if config == nil {
		config = DefaultBriefConfig()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Generator{
		tasks:  tasks,
		config: config,
		loc:    loc,
		now:    time.Now,
	}
}

// DefaultBriefConfig returns default brief configuration
func DefaultBriefConfig() *BriefConfig {
	return &BriefConfig{
		Enabled:            false,
		Schedule:           "0 8 * * 1-5", // 8 AM weekdays
		UpcomingDays:       3,
		MaxItemsPerSection: 10,
		SkipEmpty:          true,
	}
}

// Generate returns one brief per user with open tasks, ordered by user ID.
// day selects the calendar day in the generator's location.
func (g *Generator) Generate(ctx context.Context, day time.Time) ([]*Brief, error) {
	tasks, err := g.tasks.ListTasks(ctx, store.TaskFilter{Status: store.StatusOpen})
	if err != nil {
		return nil, fmt.Errorf("failed to list open tasks: %w", err)
	}

	d := day.In(g.loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, g.loc)
	end := start.AddDate(0, 0, 1)
	horizon := end.AddDate(0, 0, g.config.UpcomingDays)

	byOwner := make(map[int64]*Brief)
	for _, t := range tasks {
		b, ok := byOwner[t.OwnerID]
		if !ok {
			b = &Brief{
				OwnerID:     t.OwnerID,
				OwnerName:   t.OwnerName,
				GeneratedAt: g.now(),
				Period:      BriefPeriod{Start: start, End: end},
			}
			byOwner[t.OwnerID] = b
		}

		b.Metrics.OpenCount++
		if t.Priority == store.PriorityUrgent {
			b.Metrics.UrgentCount++
		}
		if t.TaskDate == nil {
			b.Metrics.Undated++
			continue
		}

		summary := summarize(t)
		switch date := *t.TaskDate; {
		case date.Before(start):
			b.Overdue = g.appendCapped(b.Overdue, summary)
		case date.Before(end):
			b.Today = g.appendCapped(b.Today, summary)
		case date.Before(horizon):
			b.Upcoming = g.appendCapped(b.Upcoming, summary)
		}
	}

	briefs := make([]*Brief, 0, len(byOwner))
	for _, b := range byOwner {
		for _, section := range [][]TaskSummary{b.Overdue, b.Today, b.Upcoming} {
			sortSection(section)
		}
		briefs = append(briefs, b)
	}
	sort.Slice(briefs, func(i, j int) bool { return briefs[i].OwnerID < briefs[j].OwnerID })
	return briefs, nil
}

// GenerateDaily creates the briefs for the current day
func (g *Generator) GenerateDaily(ctx context.Context) ([]*Brief, error) {
	return g.Generate(ctx, g.now())
}

func (g *Generator) appendCapped(section []TaskSummary, s TaskSummary) []TaskSummary {
	if max := g.config.MaxItemsPerSection; max > 0 && len(section) >= max {
		return section
	}
	return append(section, s)
}

func summarize(t *store.Task) TaskSummary {
	return TaskSummary{
		ID:       t.ID,
		Title:    t.Title,
		Client:   t.ClientNameRaw,
		Priority: t.Priority,
		Date:     t.TaskDate,
	}
}

// sortSection orders urgent tasks first, then by date.
func sortSection(s []TaskSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		ui, uj := s[i].Priority == store.PriorityUrgent, s[j].Priority == store.PriorityUrgent
		if ui != uj {
			return ui
		}
		return s[i].Date.Before(*s[j].Date)
	})
}
