// Package parser extracts structured entities from a short Spanish command
// and assembles them with the intent and client resolution into a Command.
package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/jmm-1987/agente/internal/intent"
	"github.com/jmm-1987/agente/internal/store"
	"github.com/jmm-1987/agente/internal/textnorm"
)

const (
	// MinTitleLen is the shortest cleaned title kept; anything shorter
	// falls back to the original text.
	MinTitleLen = 5
	// MaxTitleLen caps stored titles.
	MaxTitleLen = 200
	// maxMentionWords bounds the client name taken after "cliente".
	maxMentionWords = 4
)

// Entities is what Extract finds in a command.
type Entities struct {
	Date          *time.Time
	Priority      store.Priority
	ClientMention string
	Title         string
}

// priorityKeyword maps a spoken keyword to the stored priority.
type priorityKeyword struct {
	keyword  string
	priority store.Priority
}

// priorityTable is scanned in order; the first keyword present wins. "alta"
// and "high" collapse to urgent, "baja" and "low" to normal.
var priorityTable = []priorityKeyword{
	{"urgente", store.PriorityUrgent},
	{"urgent", store.PriorityUrgent},
	{"alta", store.PriorityUrgent},
	{"high", store.PriorityUrgent},
	{"importante", store.PriorityUrgent},
	{"normal", store.PriorityNormal},
	{"media", store.PriorityNormal},
	{"baja", store.PriorityNormal},
	{"low", store.PriorityNormal},
	{"sin prisa", store.PriorityNormal},
}

var (
	priorityPatterns = compilePriorities()
	priorityWords    = intent.WordPattern(priorityKeywords())

	// clientPhrase finds "cliente X" style mentions. Submatch 1 spans the
	// whole phrase start, submatch 2 the text after the keyword.
	clientPhrase = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])((?:para\s+el|del|al|el|con\s+el)?\s*cliente)\s+(\S.*)$`)

	// mentionStops end a client name.
	mentionStops = map[string]bool{
		"para": true, "por": true, "que": true, "y": true, "con": true, "sobre": true,
		"en": true, "a": true, "al": true, "antes": true, "despues": true, "sin": true,
		"hoy": true, "manana": true, "pasado": true, "esta": true, "este": true,
		"proxima": true, "proximo": true, "semana": true,
		"lunes": true, "martes": true, "miercoles": true, "jueves": true,
		"viernes": true, "sabado": true, "domingo": true,
		"urgente": true, "urgent": true, "alta": true, "high": true, "importante": true,
		"normal": true, "media": true, "baja": true, "low": true,
	}
	// trailing connectors dropped from a mention
	mentionTail = map[string]bool{"el": true, "la": true, "de": true, "del": true, "los": true, "las": true}
)

func priorityKeywords() []string {
	out := make([]string, len(priorityTable))
	for i, p := range priorityTable {
		out[i] = p.keyword
	}
	return out
}

func compilePriorities() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(priorityTable))
	for i, p := range priorityTable {
		out[i] = intent.WordPattern([]string{p.keyword})
	}
	return out
}

// Extractor pulls date, priority, client mention and title out of text.
type Extractor struct {
	now      func() time.Time
	loc      *time.Location
	dates    DateParser
	keywords *regexp.Regexp
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock sets the time source used for relative dates.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// WithLocation sets the zone dates are resolved in.
func WithLocation(loc *time.Location) Option {
	return func(e *Extractor) { e.loc = loc }
}

// WithDateParser replaces the natural-language fallback. nil disables it.
func WithDateParser(p DateParser) Option {
	return func(e *Extractor) { e.dates = p }
}

// WithIntentKeywords sets the command words stripped from titles.
func WithIntentKeywords(re *regexp.Regexp) Option {
	return func(e *Extractor) { e.keywords = re }
}

// NewExtractor returns an Extractor using local time, go-dateparser and the
// default intent keywords.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		now:      time.Now,
		loc:      time.Local,
		dates:    NewNaturalDates(),
		keywords: intent.DefaultKeywords(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract finds the entities of text.
func (e *Extractor) Extract(text string) Entities {
	ent := Entities{Priority: ExtractPriority(text)}

	// Clock and date phrases are cut before the mention so "cliente Acme
	// mañana a las 10" does not read "10" as part of the name.
	d := newDualText(text)
	ent.Date = e.extractDate(d)
	ent.ClientMention = extractMention(d)

	ent.Title = e.title(text)
	return ent
}

// ExtractPriority returns the priority of the first table keyword present
// in text, or normal.
func ExtractPriority(text string) store.Priority {
	folded := textnorm.Fold(text)
	for i, re := range priorityPatterns {
		if re.MatchString(folded) {
			return priorityTable[i].priority
		}
	}
	return store.PriorityNormal
}

// ExtractMention returns the first "cliente X" mention in text.
func ExtractMention(text string) string {
	d := newDualText(text)
	extractClock(d)
	return extractMention(d)
}

// extractMention reads the client name after the first "cliente" keyword
// and cuts the whole phrase from d.
func extractMention(d *dualText) string {
	start, end, name := findMention(d)
	if name == "" {
		return ""
	}
	d.cut(start, end)
	return name
}

// findMention locates the first mention; start and end are folded byte
// offsets of the phrase including its keyword.
func findMention(d *dualText) (start, end int, name string) {
	folded := d.folded()
	m := clientPhrase.FindStringSubmatchIndex(folded)
	if m == nil {
		return 0, 0, ""
	}
	start = m[2]
	pos := m[4]
	rest := folded[pos:]

	var words []string
	end = pos
	offset := 0
	for _, field := range strings.Fields(rest) {
		idx := strings.Index(rest[offset:], field) + offset
		word := strings.TrimRight(field, ",.;:!?")
		if word == "" || mentionStops[word] || len(words) == maxMentionWords {
			break
		}
		words = append(words, word)
		end = pos + idx + len(word)
		offset = idx + len(field)
		if word != field {
			break
		}
	}
	for len(words) > 0 && mentionTail[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	if len(words) == 0 {
		return 0, 0, ""
	}
	// Recompute the end after dropping trailing connectors.
	last := words[len(words)-1]
	end = pos + lastIndexBefore(rest, last, end-pos) + len(last)
	return start, end, textnorm.CollapseSpaces(d.slice(pos, end))
}

// lastIndexBefore returns the start of the last occurrence of word ending
// at or before limit.
func lastIndexBefore(s, word string, limit int) int {
	if limit > len(s) {
		limit = len(s)
	}
	return strings.LastIndex(s[:limit], word)
}

// title strips command words, the client phrase, priority keywords and date
// phrases from text. A remainder shorter than MinTitleLen falls back to the
// original text.
func (e *Extractor) title(text string) string {
	d := newDualText(text)
	for changed := true; changed; {
		changed = false
		if _, ok := extractClock(d); ok {
			changed = true
		}
		for _, rd := range relativeDates {
			if d.removeAll(rd.pattern, 1) {
				changed = true
			}
		}
		if d.removeAll(dateFragment, 1) {
			changed = true
		}
		if extractMention(d) != "" {
			changed = true
		}
		if e.keywords != nil && d.removeAll(e.keywords, 1) {
			changed = true
		}
		if d.removeAll(priorityWords, 1) {
			changed = true
		}
	}

	t := cleanTitle(d.original())
	if len([]rune(t)) < MinTitleLen {
		t = text
	}
	return cleanTitle(textnorm.Truncate(t, MaxTitleLen))
}
