package briefs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmm-1987/agente/internal/logging"
)

// Sender delivers a text message to a chat. Private chats share the ID of
// their user, so a brief goes to its owner's ID.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) (int64, error)
}

// DeliveryService sends each brief to its owner.
type DeliveryService struct {
	config    *BriefConfig
	sender    Sender
	formatter Formatter
	logger    *slog.Logger
}

// DeliveryOption configures the delivery service
type DeliveryOption func(*DeliveryService)

// WithFormatter replaces the plain text formatter.
func WithFormatter(f Formatter) DeliveryOption {
	return func(d *DeliveryService) {
		d.formatter = f
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) DeliveryOption {
	return func(d *DeliveryService) {
		d.logger = logger
	}
}

// NewDeliveryService creates a new delivery service
func NewDeliveryService(config *BriefConfig, sender Sender, opts ...DeliveryOption) *DeliveryService {
	if config == nil {
		config = DefaultBriefConfig()
	}
	d := &DeliveryService{
		config:    config,
		sender:    sender,
		formatter: NewPlainTextFormatter(nil),
		logger:    logging.WithComponent("briefs"),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// DeliverAll sends every brief in order and reports one result per brief.
func (d *DeliveryService) DeliverAll(ctx context.Context, briefs []*Brief) []DeliveryResult {
	results := make([]DeliveryResult, 0, len(briefs))
	for _, brief := range briefs {
		if ctx.Err() != nil {
			results = append(results, DeliveryResult{OwnerID: brief.OwnerID, Error: ctx.Err()})
			continue
		}
		results = append(results, d.Deliver(ctx, brief))
	}
	return results
}

// Deliver sends one brief to its owner.
func (d *DeliveryService) Deliver(ctx context.Context, brief *Brief) DeliveryResult {
	result := DeliveryResult{OwnerID: brief.OwnerID}

	if d.config.SkipEmpty && brief.Empty() {
		result.Skipped = true
		result.Success = true
		return result
	}

	text, err := d.formatter.Format(brief)
	if err != nil {
		result.Error = fmt.Errorf("failed to format brief: %w", err)
		return result
	}

	msgID, err := d.sender.SendText(ctx, brief.OwnerID, text)
	if err != nil {
		result.Error = fmt.Errorf("failed to send brief: %w", err)
		return result
	}

	result.Success = true
	result.MessageID = msgID
	result.SentAt = time.Now()
	d.logger.Debug("brief sent", "owner_id", brief.OwnerID, "message_id", msgID)
	return result
}
