package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/jmm-1987/agente/internal/store"
)

type fakeClients struct {
	clients []*store.Client
	err     error
}

func (f *fakeClients) ListClients(context.Context) ([]*store.Client, error) {
	return f.clients, f.err
}

// tableScorer returns fixed scores for normalized candidate strings.
type tableScorer map[string]int

func (t tableScorer) Score(_, b string) int { return t[b] }

func registry() *fakeClients {
	return &fakeClients{clients: []*store.Client{
		{ID: 1, Name: "Acme", NormalizedName: "acme"},
		{ID: 2, Name: "Talleres García", NormalizedName: "talleres garcia", Aliases: []string{"García", "TG"}},
		{ID: 3, Name: "Construcciones Pérez", NormalizedName: "construcciones perez"},
	}}
}

func TestResolveExactNormalizedMatchIsAuto100(t *testing.T) {
	// The scorer would reject everything; the exact path must not use it.
	r := New(registry(), tableScorer{}, DefaultConfig())

	for _, mention := range []string{"Acme", "  ACME ", "talleres  GARCÍA"} {
		m, err := r.Resolve(context.Background(), mention)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", mention, err)
		}
		if m.Action != ActionAuto || m.Confidence != 100 || !m.Found {
			t.Errorf("Resolve(%q) = %+v, want auto/100", mention, m)
		}
	}
}

func TestResolveThresholdBands(t *testing.T) {
	tests := []struct {
		name       string
		scores     tableScorer
		wantAction Action
		wantID     int64
		wantCands  int
	}{
		{
			name:       "above auto",
			scores:     tableScorer{"acme": 95, "construcciones perez": 10},
			wantAction: ActionAuto,
			wantID:     1,
		},
		{
			name:       "confirm band returns candidates",
			scores:     tableScorer{"acme": 80, "garcia": 75, "construcciones perez": 72},
			wantAction: ActionConfirm,
			wantID:     1,
			wantCands:  3,
		},
		{
			name:       "alias drives the score",
			scores:     tableScorer{"tg": 91},
			wantAction: ActionAuto,
			wantID:     2,
		},
		{
			name:       "below confirm creates",
			scores:     tableScorer{"acme": 69},
			wantAction: ActionCreate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(registry(), tt.scores, DefaultConfig())
			m, err := r.Resolve(context.Background(), "algo distinto")
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if m.Action != tt.wantAction {
				t.Errorf("Action = %s, want %s", m.Action, tt.wantAction)
			}
			if m.ClientID != tt.wantID {
				t.Errorf("ClientID = %d, want %d", m.ClientID, tt.wantID)
			}
			if len(m.Candidates) != tt.wantCands {
				t.Errorf("Candidates = %d, want %d", len(m.Candidates), tt.wantCands)
			}
			if tt.wantAction == ActionCreate && m.Found {
				t.Error("create must not report Found")
			}
		})
	}
}

func TestResolveCandidatesDeduplicatedAndCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCandidates = 2
	scores := tableScorer{"talleres garcia": 71, "garcia": 85, "acme": 80, "construcciones perez": 75}
	r := New(registry(), scores, cfg)

	m, err := r.Resolve(context.Background(), "garsia")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.Action != ActionConfirm {
		t.Fatalf("Action = %s, want confirm", m.Action)
	}
	if len(m.Candidates) != 2 {
		t.Fatalf("Candidates = %+v, want 2", m.Candidates)
	}
	if c := m.Candidates[0]; c.ClientID != 2 || c.Score != 85 || c.Matched != "García" {
		t.Errorf("top candidate = %+v", c)
	}
	if m.Candidates[1].ClientID != 1 {
		t.Errorf("second candidate = %+v, want Acme", m.Candidates[1])
	}
}

func TestResolveEmptyRegistryAndMention(t *testing.T) {
	r := New(&fakeClients{}, nil, DefaultConfig())
	m, err := r.Resolve(context.Background(), "Acme")
	if err != nil || m.Action != ActionCreate {
		t.Errorf("empty registry = %+v, %v", m, err)
	}
	m, err = r.Resolve(context.Background(), "   ")
	if err != nil || m.Action != ActionCreate {
		t.Errorf("blank mention = %+v, %v", m, err)
	}
}

func TestResolvePropagatesSourceError(t *testing.T) {
	boom := errors.New("disk gone")
	r := New(&fakeClients{err: boom}, nil, DefaultConfig())
	if _, err := r.Resolve(context.Background(), "Acme"); !errors.Is(err, boom) {
		t.Errorf("Resolve error = %v, want %v", err, boom)
	}
}

func TestIndelScorer(t *testing.T) {
	s := NewIndelScorer()
	tests := []struct {
		a, b string
		want int
	}{
		{"acme", "acme", 100},
		{"acme", "acne", 75},
		{"garcia", "garsia", 83},
		{"abc", "xyz", 0},
	}
	for _, tt := range tests {
		if got := s.Score(tt.a, tt.b); got != tt.want {
			t.Errorf("Score(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	bad := Config{AutoThreshold: 60, ConfirmThreshold: 70, MaxCandidates: 3}
	if err := bad.Validate(); err == nil {
		t.Error("confirm > auto should be invalid")
	}
}
