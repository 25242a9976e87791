// Package resolver matches a free-text client mention against the client
// registry.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/agext/levenshtein"

	"github.com/jmm-1987/agente/internal/logging"
	"github.com/jmm-1987/agente/internal/store"
	"github.com/jmm-1987/agente/internal/textnorm"
)

// Action tells the caller what to do with a match.
type Action string

const (
	// ActionAuto accepts the top client without asking.
	ActionAuto Action = "auto"
	// ActionConfirm asks the user to pick among Candidates.
	ActionConfirm Action = "confirm"
	// ActionCreate means nothing matched well enough.
	ActionCreate Action = "create"
)

// Config holds the matching thresholds, 0-100, with Confirm <= Auto.
type Config struct {
	AutoThreshold    int `yaml:"auto_threshold"`
	ConfirmThreshold int `yaml:"confirm_threshold"`
	MaxCandidates    int `yaml:"max_candidates"`
}

// DefaultConfig returns the thresholds used in production.
func DefaultConfig() Config {
	return Config{
		AutoThreshold:    90,
		ConfirmThreshold: 70,
		MaxCandidates:    3,
	}
}

// Validate checks 0 <= confirm <= auto <= 100 and a positive candidate cap.
func (c Config) Validate() error {
	if c.ConfirmThreshold < 0 || c.AutoThreshold > 100 || c.ConfirmThreshold > c.AutoThreshold {
		return fmt.Errorf("thresholds must satisfy 0 <= confirm (%d) <= auto (%d) <= 100", c.ConfirmThreshold, c.AutoThreshold)
	}
	if c.MaxCandidates < 1 {
		return fmt.Errorf("max_candidates must be positive, got %d", c.MaxCandidates)
	}
	return nil
}

// Candidate is one client offered for confirmation.
type Candidate struct {
	ClientID int64
	Name     string
	// Matched is the name or alias that produced Score.
	Matched string
	Score   int
}

// Match is the outcome of resolving a mention.
type Match struct {
	Found      bool
	ClientID   int64
	ClientName string
	Confidence int
	Action     Action
	// Candidates is only set for ActionConfirm.
	Candidates []Candidate
}

// ClientSource lists the registry.
type ClientSource interface {
	ListClients(ctx context.Context) ([]*store.Client, error)
}

// Scorer rates the similarity of two normalized strings from 0 to 100.
type Scorer interface {
	Score(a, b string) int
}

// IndelScorer scores by insert/delete edit distance normalized over the
// combined length, so a substitution costs two edits.
type IndelScorer struct {
	params *levenshtein.Params
}

// NewIndelScorer returns the default scorer.
func NewIndelScorer() *IndelScorer {
	return &IndelScorer{params: levenshtein.NewParams().SubCost(2)}
}

// Score implements Scorer.
func (s *IndelScorer) Score(a, b string) int {
	if a == "" && b == "" {
		return 100
	}
	return int(math.Round(levenshtein.Similarity(a, b, s.params) * 100))
}

// Resolver resolves mentions to clients.
type Resolver struct {
	clients ClientSource
	scorer  Scorer
	cfg     Config
	log     *slog.Logger
}

// New creates a Resolver. A nil scorer selects IndelScorer.
func New(clients ClientSource, scorer Scorer, cfg Config) *Resolver {
	if scorer == nil {
		scorer = NewIndelScorer()
	}
	return &Resolver{
		clients: clients,
		scorer:  scorer,
		cfg:     cfg,
		log:     logging.WithComponent("resolver"),
	}
}

// Resolve matches mention against every client name and alias.
func (r *Resolver) Resolve(ctx context.Context, mention string) (*Match, error) {
	key := textnorm.NormalizeName(mention)
	if key == "" {
		return &Match{Action: ActionCreate}, nil
	}

	clients, err := r.clients.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve client %q: %w", mention, err)
	}
	if len(clients) == 0 {
		return &Match{Action: ActionCreate}, nil
	}

	for _, c := range clients {
		if c.NormalizedName == key {
			return &Match{Found: true, ClientID: c.ID, ClientName: c.Name, Confidence: 100, Action: ActionAuto}, nil
		}
	}

	ranked := r.rank(key, clients)
	best := ranked[0]

	m := &Match{Confidence: best.Score}
	switch {
	case best.Score >= r.cfg.AutoThreshold:
		m.Found, m.ClientID, m.ClientName, m.Action = true, best.ClientID, best.Name, ActionAuto
	case best.Score >= r.cfg.ConfirmThreshold:
		m.Found, m.ClientID, m.ClientName, m.Action = true, best.ClientID, best.Name, ActionConfirm
		m.Candidates = ranked
	default:
		m.Action = ActionCreate
	}

	r.log.Debug("client resolved",
		slog.String("mention", mention),
		slog.String("action", string(m.Action)),
		slog.Int("confidence", m.Confidence))
	return m, nil
}

// rank scores every name and alias, keeps each client's best score and
// returns the top MaxCandidates, highest first.
func (r *Resolver) rank(key string, clients []*store.Client) []Candidate {
	best := make(map[int64]Candidate, len(clients))
	consider := func(c *store.Client, name string) {
		score := r.scorer.Score(key, textnorm.NormalizeName(name))
		if cur, ok := best[c.ID]; !ok || score > cur.Score {
			best[c.ID] = Candidate{ClientID: c.ID, Name: c.Name, Matched: name, Score: score}
		}
	}
	for _, c := range clients {
		consider(c, c.Name)
		for _, a := range c.Aliases {
			consider(c, a)
		}
	}

	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})

	limit := r.cfg.MaxCandidates
	if limit < 1 {
		limit = 1
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
