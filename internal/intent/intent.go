// Package intent classifies a short Spanish command into one of a closed set
// of task intents.
package intent

import (
	"regexp"
	"sort"
	"strings"

	"github.com/jmm-1987/agente/internal/textnorm"
)

// Intent is the action a command asks for.
type Intent string

const (
	IntentCreate         Intent = "CREATE"
	IntentList           Intent = "LIST"
	IntentClose          Intent = "CLOSE"
	IntentReschedule     Intent = "RESCHEDULE"
	IntentChangePriority Intent = "CHANGE_PRIORITY"
)

// Description returns a short Spanish label for the intent.
func (i Intent) Description() string {
	switch i {
	case IntentCreate:
		return "crear tarea"
	case IntentList:
		return "listar tareas"
	case IntentClose:
		return "cerrar tarea"
	case IntentReschedule:
		return "reprogramar tarea"
	case IntentChangePriority:
		return "cambiar prioridad"
	}
	return string(i)
}

// Rule defines an intent as groups of keywords. Every group must match
// (AND); within a group any keyword matches (OR). Keywords match whole
// words, ignoring case and accents.
type Rule struct {
	Intent Intent
	Groups [][]string
}

// DefaultRules is the production rule set. Evaluation follows slice order
// and the first rule whose groups all match wins, so order is part of the
// contract:
//
//  1. CREATE before CLOSE: "crear tarea cerrar persiana" is a new task.
//  2. LIST before CLOSE: "dame las tareas a terminar" lists.
//  3. CLOSE before RESCHEDULE and CHANGE_PRIORITY.
//  4. RESCHEDULE before CHANGE_PRIORITY: "aplaza la urgente al lunes"
//     reschedules.
//  5. CHANGE_PRIORITY needs a verb and a priority word. "poner urgente la
//     tarea" also matches CREATE and creates.
//
// Text matching no rule is CREATE.
var DefaultRules = []Rule{
	{IntentCreate, [][]string{
		{"crear", "crea", "nueva", "nuevo", "añadir", "añade", "agregar", "agrega", "poner", "hacer",
			"tengo que", "necesito", "apunta", "apuntar", "recuérdame"},
		{"tarea", "recordatorio", "nota", "evento", "cosa"},
	}},
	{IntentList, [][]string{
		{"listar", "lista", "mostrar", "muestra", "muéstrame", "ver", "dame", "qué", "cuáles", "cuántas"},
		{"tareas", "pendientes", "cosas", "recordatorios"},
	}},
	{IntentClose, [][]string{
		{"cerrar", "cierra", "completar", "completa", "terminar", "termina", "terminada", "hecho", "hecha",
			"realizado", "realizada", "finalizar", "finaliza", "marcar como hecha", "da por hecha"},
		{"tarea", "tareas", "cosa", "cosas"},
	}},
	{IntentReschedule, [][]string{
		{"reprogramar", "reprograma", "cambiar fecha", "cambiar la fecha", "cambia la fecha", "mover", "mueve",
			"posponer", "pospón", "aplazar", "aplaza"},
	}},
	{IntentChangePriority, [][]string{
		{"cambiar", "cambia", "subir", "sube", "bajar", "baja", "marcar", "marca", "pon", "dejar", "deja"},
		{"prioridad", "urgente", "importante", "normal"},
	}},
}

type compiledRule struct {
	intent Intent
	groups []*regexp.Regexp
}

// Classifier evaluates an ordered rule set.
type Classifier struct {
	rules    []compiledRule
	keywords *regexp.Regexp
}

// NewClassifier compiles rules, keeping their order.
func NewClassifier(rules []Rule) *Classifier {
	c := &Classifier{}
	var all []string
	for _, r := range rules {
		cr := compiledRule{intent: r.Intent}
		for _, g := range r.Groups {
			cr.groups = append(cr.groups, WordPattern(g))
			all = append(all, g...)
		}
		c.rules = append(c.rules, cr)
	}
	c.keywords = WordPattern(all)
	return c
}

var defaultClassifier = NewClassifier(DefaultRules)

// Classify returns the intent of text using DefaultRules.
func Classify(text string) Intent {
	return defaultClassifier.Classify(text)
}

// Classify returns the first intent whose groups all match text, or
// IntentCreate.
func (c *Classifier) Classify(text string) Intent {
	folded := textnorm.Fold(text)
	for _, r := range c.rules {
		if r.matches(folded) {
			return r.intent
		}
	}
	return IntentCreate
}

func (r compiledRule) matches(folded string) bool {
	for _, g := range r.groups {
		if !g.MatchString(folded) {
			return false
		}
	}
	return true
}

// Keywords matches any keyword of any rule. Title extraction uses it to
// strip command words.
func (c *Classifier) Keywords() *regexp.Regexp {
	return c.keywords
}

// DefaultKeywords is Keywords of the default classifier.
func DefaultKeywords() *regexp.Regexp {
	return defaultClassifier.keywords
}

// WordPattern compiles keywords into a case-insensitive pattern matching any
// of them as whole words of folded text. Keywords are folded too, and the
// inner spaces of multi-word keywords match any whitespace run. Submatch 1
// is the keyword itself. Longer keywords are tried first.
func WordPattern(keywords []string) *regexp.Regexp {
	alts := make([]string, 0, len(keywords))
	seen := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		k = textnorm.NormalizeName(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		parts := strings.Fields(k)
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		alts = append(alts, strings.Join(parts, `\s+`))
	}
	sort.SliceStable(alts, func(i, j int) bool { return len(alts[i]) > len(alts[j]) })
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(` + strings.Join(alts, "|") + `)(?:$|[^\p{L}\p{N}])`)
}
