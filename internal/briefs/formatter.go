package briefs

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmm-1987/agente/internal/store"
)

// Formatter formats briefs for delivery
type Formatter interface {
	Format(brief *Brief) (string, error)
}

// PlainTextFormatter renders a brief as a Spanish chat message.
type PlainTextFormatter struct {
	loc *time.Location
}

// NewPlainTextFormatter creates a new plain text formatter
func NewPlainTextFormatter(loc *time.Location) *PlainTextFormatter {
	if loc == nil {
		loc = time.Local
	}
	return &PlainTextFormatter{loc: loc}
}

var weekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

// Format formats a brief as plain text
func (f *PlainTextFormatter) Format(brief *Brief) (string, error) {
	if brief == nil {
		return "", fmt.Errorf("nil brief")
	}
	var sb strings.Builder

	day := brief.Period.Start.In(f.loc)
	greeting := "☀️ Buenos días"
	if brief.OwnerName != "" {
		greeting += ", " + brief.OwnerName
	}
	sb.WriteString(fmt.Sprintf("%s - %s %s\n", greeting, weekdays[day.Weekday()], day.Format("02/01/2006")))

	m := brief.Metrics
	sb.WriteString(fmt.Sprintf("Tienes %d %s, %d %s.\n",
		m.OpenCount, plural(m.OpenCount, "tarea abierta", "tareas abiertas"),
		m.UrgentCount, plural(m.UrgentCount, "urgente", "urgentes")))

	f.section(&sb, "⏰ Atrasadas", brief.Overdue, func(t time.Time) string {
		return t.Format("02/01")
	})
	f.section(&sb, "📌 Hoy", brief.Today, func(t time.Time) string {
		if t.Hour() == 0 && t.Minute() == 0 {
			return ""
		}
		return t.Format("15:04")
	})
	f.section(&sb, "🗓️ Próximos días", brief.Upcoming, func(t time.Time) string {
		return weekdays[t.Weekday()] + " " + t.Format("02/01")
	})

	if brief.Empty() {
		sb.WriteString("\nNada pendiente para hoy 🎉\n")
	}
	if m.Undated > 0 {
		sb.WriteString(fmt.Sprintf("\nSin fecha: %d\n", m.Undated))
	}

	return sb.String(), nil
}

func (f *PlainTextFormatter) section(sb *strings.Builder, title string, tasks []TaskSummary, when func(time.Time) string) {
	if len(tasks) == 0 {
		return
	}
	sb.WriteString(fmt.Sprintf("\n%s (%d)\n", title, len(tasks)))
	for _, t := range tasks {
		line := "  " + priorityEmoji(t.Priority) + " " + t.Title
		if t.Date != nil {
			if w := when(t.Date.In(f.loc)); w != "" {
				line += " - " + w
			}
		}
		if t.Client != "" {
			line += " - 👤 " + t.Client
		}
		sb.WriteString(line + "\n")
	}
}

func priorityEmoji(p store.Priority) string {
	if p == store.PriorityUrgent {
		return "🔴"
	}
	return "🟡"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
