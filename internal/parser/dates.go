package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"
)

// DefaultHour is the time of day given to dates spoken without one.
const DefaultHour = 9

// DateParser is the natural-language fallback for dates the keyword table
// does not cover.
type DateParser interface {
	// Parse returns the date expressed by text relative to now, preferring
	// future interpretations.
	Parse(text string, now time.Time) (time.Time, bool)
}

// NaturalDates parses Spanish dates with go-dateparser. Numeric dates are
// read day first.
type NaturalDates struct {
	parser    *dps.Parser
	languages []string
}

// NewNaturalDates returns a DateParser for the given languages ("es" when
// none is given).
func NewNaturalDates(languages ...string) *NaturalDates {
	if len(languages) == 0 {
		languages = []string{"es"}
	}
	return &NaturalDates{parser: &dps.Parser{}, languages: languages}
}

// leadingArticle is dropped before parsing: "el 15 de noviembre".
var leadingArticle = regexp.MustCompile(`(?i)^\s*(?:para\s+)?(?:el|la)\s+`)

// Parse implements DateParser.
func (n *NaturalDates) Parse(text string, now time.Time) (time.Time, bool) {
	text = strings.TrimSpace(leadingArticle.ReplaceAllString(text, ""))
	if text == "" {
		return time.Time{}, false
	}
	cfg := &dps.Configuration{
		Languages:           n.languages,
		DateOrder:           dps.DMY,
		CurrentTime:         now,
		DefaultTimezone:     now.Location(),
		PreferredDateSource: dps.Future,
	}
	d, err := n.parser.Parse(cfg, text)
	if err != nil || d.Time.IsZero() {
		return time.Time{}, false
	}
	return d.Time.In(now.Location()), true
}

// relativeDate resolves a keyword to a day relative to today.
type relativeDate struct {
	pattern *regexp.Regexp
	resolve func(today time.Time) time.Time
}

func addDays(n int) func(time.Time) time.Time {
	return func(today time.Time) time.Time { return today.AddDate(0, 0, n) }
}

// nextWeekday returns the next occurrence of wd strictly after today.
func nextWeekday(wd time.Weekday) func(time.Time) time.Time {
	return func(today time.Time) time.Time {
		days := (int(wd) - int(today.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return today.AddDate(0, 0, days)
	}
}

// relativeDates is checked in order on folded text; "pasado mañana" must
// come before "mañana".
var relativeDates = []relativeDate{
	{wordRe(`pasado\s+manana`), addDays(2)},
	{wordRe(`manana`), addDays(1)},
	{wordRe(`hoy`), addDays(0)},
	{wordRe(`esta\s+semana`), addDays(0)},
	{wordRe(`(?:la\s+)?(?:proxima\s+semana|semana\s+que\s+viene|semana\s+proxima)`), addDays(7)},
	{wordRe(`(?:el\s+)?lunes`), nextWeekday(time.Monday)},
	{wordRe(`(?:el\s+)?martes`), nextWeekday(time.Tuesday)},
	{wordRe(`(?:el\s+)?miercoles`), nextWeekday(time.Wednesday)},
	{wordRe(`(?:el\s+)?jueves`), nextWeekday(time.Thursday)},
	{wordRe(`(?:el\s+)?viernes`), nextWeekday(time.Friday)},
	{wordRe(`(?:el\s+)?sabado`), nextWeekday(time.Saturday)},
	{wordRe(`(?:el\s+)?domingo`), nextWeekday(time.Sunday)},
}

// wordRe wraps a folded pattern in Unicode-aware word boundaries. The
// phrase itself is submatch 1.
func wordRe(p string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(` + p + `)(?:$|[^\p{L}\p{N}])`)
}

var (
	// "a las 10", "a las 17:30", "a las 5 y media de la tarde", "sobre las 8h"
	clockPhrase = wordRe(`(?:a|sobre|hacia)\s+las?\s+(\d{1,2})(?:[:.h](\d{2}))?(?:\s*h(?:oras)?)?(?:\s+y\s+(media|cuarto))?(?:\s+(?:de|por)\s+la\s+(manana|tarde|noche))?`)
	// "17:30" on its own
	bareClock = wordRe(`(\d{1,2}):(\d{2})`)
	// "por la tarde" without an hour
	dayPart = wordRe(`(?:por|de)\s+la\s+(manana|tarde|noche)`)
	// "15 de marzo", "el 3 de enero de 2027", "15/03", "15/03/2027". The
	// date without its article is submatch 2.
	dateFragment = wordRe(`(?:el\s+)?(\d{1,2}\s+de\s+(?:enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|setiembre|octubre|noviembre|diciembre)(?:\s+de\s+\d{4})?|\d{1,2}/\d{1,2}(?:/\d{2,4})?)`)
)

var dayPartHour = map[string]int{"manana": 9, "tarde": 16, "noche": 20}

type clock struct {
	hour, min int
}

// extractClock finds and cuts an explicit time of day from d.
func extractClock(d *dualText) (clock, bool) {
	if m := clockPhrase.FindStringSubmatchIndex(d.folded()); m != nil {
		f := d.folded()
		hour, _ := strconv.Atoi(f[m[4]:m[5]])
		min := 0
		if m[6] >= 0 {
			min, _ = strconv.Atoi(f[m[6]:m[7]])
		}
		if m[8] >= 0 {
			if f[m[8]:m[9]] == "media" {
				min = 30
			} else {
				min = 15
			}
		}
		if m[10] >= 0 {
			switch f[m[10]:m[11]] {
			case "tarde", "noche":
				if hour < 12 {
					hour += 12
				}
			case "manana":
				if hour == 12 {
					hour = 0
				}
			}
		}
		d.cut(m[2], m[3])
		if hour > 23 || min > 59 {
			return clock{}, false
		}
		return clock{hour, min}, true
	}
	if m := bareClock.FindStringSubmatchIndex(d.folded()); m != nil {
		f := d.folded()
		hour, _ := strconv.Atoi(f[m[4]:m[5]])
		min, _ := strconv.Atoi(f[m[6]:m[7]])
		d.cut(m[2], m[3])
		if hour > 23 || min > 59 {
			return clock{}, false
		}
		return clock{hour, min}, true
	}
	if m := dayPart.FindStringSubmatchIndex(d.folded()); m != nil {
		part := d.folded()[m[4]:m[5]]
		d.cut(m[2], m[3])
		return clock{dayPartHour[part], 0}, true
	}
	return clock{}, false
}

func atClock(day time.Time, c clock) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.min, 0, 0, day.Location())
}

// extractDate resolves the date spoken in d and cuts the phrases it used.
func (e *Extractor) extractDate(d *dualText) *time.Time {
	now := e.now().In(e.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.loc)

	c, hasClock := extractClock(d)
	if !hasClock {
		c = clock{DefaultHour, 0}
	}

	for _, rd := range relativeDates {
		m := rd.pattern.FindStringSubmatchIndex(d.folded())
		if m == nil {
			continue
		}
		d.cut(m[2], m[3])
		t := atClock(rd.resolve(today), c)
		return &t
	}

	if m := dateFragment.FindStringSubmatchIndex(d.folded()); m != nil {
		fragment := d.slice(m[4], m[5])
		d.cut(m[2], m[3])
		// A fragment never carries a time of day.
		if t, ok := e.resolveNatural(fragment, now, c, true); ok {
			return &t
		}
	}

	if e.dates != nil {
		if t, ok := e.resolveNatural(d.original(), now, c, hasClock); ok {
			return &t
		}
	}

	if hasClock {
		t := atClock(today, c)
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return &t
	}
	return nil
}

func (e *Extractor) resolveNatural(text string, now time.Time, c clock, hasClock bool) (time.Time, bool) {
	if e.dates == nil {
		return time.Time{}, false
	}
	t, ok := e.dates.Parse(text, now)
	if !ok {
		return time.Time{}, false
	}
	t = t.In(e.loc)
	if hasClock || (t.Hour() == 0 && t.Minute() == 0) {
		t = atClock(t, c)
	}
	return t, true
}
