package parser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmm-1987/agente/internal/intent"
	"github.com/jmm-1987/agente/internal/logging"
	"github.com/jmm-1987/agente/internal/resolver"
)

// Command is one parsed user utterance. It lives only for the turn that
// produced it, or until the conversation that holds it finishes.
type Command struct {
	Intent       intent.Intent
	Entities     Entities
	Client       *resolver.Match
	OriginalText string
}

// ClientResolver resolves a mention to a client.
type ClientResolver interface {
	Resolve(ctx context.Context, mention string) (*resolver.Match, error)
}

// Parser assembles a Command from intent, entities and client resolution.
type Parser struct {
	extractor  *Extractor
	classifier *intent.Classifier
	clients    ClientResolver
}

// New creates a Parser. A nil classifier uses the default rules; a nil
// clients resolver leaves Command.Client unset.
func New(extractor *Extractor, classifier *intent.Classifier, clients ClientResolver) *Parser {
	if extractor == nil {
		extractor = NewExtractor()
	}
	if classifier == nil {
		classifier = intent.NewClassifier(intent.DefaultRules)
	}
	return &Parser{
		extractor:  extractor,
		classifier: classifier,
		clients:    clients,
	}
}

// Parse classifies text, extracts its entities and resolves the client
// mention, if any.
func (p *Parser) Parse(ctx context.Context, text string) (*Command, error) {
	cmd := &Command{
		Intent:       p.classifier.Classify(text),
		Entities:     p.extractor.Extract(text),
		OriginalText: text,
	}

	if cmd.Entities.ClientMention != "" && p.clients != nil {
		m, err := p.clients.Resolve(ctx, cmd.Entities.ClientMention)
		if err != nil {
			return nil, fmt.Errorf("parse command: %w", err)
		}
		cmd.Client = m
	}

	logging.WithContext(ctx).Debug("command parsed",
		slog.String("component", "parser"),
		slog.String("intent", string(cmd.Intent)),
		slog.String("client_mention", cmd.Entities.ClientMention),
		slog.String("priority", string(cmd.Entities.Priority)),
		slog.Bool("has_date", cmd.Entities.Date != nil))
	return cmd, nil
}
