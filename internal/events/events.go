package events

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	obscontext "github.com/smallbiznis/packclaim/internal/observability/context"
	"go.uber.org/zap"
)

// Event types double as AMQP routing keys.
const (
	TypePackageClaimed     = "package.claimed"
	TypePackageDepositPaid = "package.deposit_paid"
	TypePackagePaid        = "package.paid"
	TypePackageCancelled   = "package.cancelled"
)

// Event is a committed package state change, published for the revenue rollup.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	PackageID     string    `json:"package_id"`
	CustomerID    string    `json:"customer_id,omitempty"`
	AgentID       string    `json:"agent_id,omitempty"`
	CompanyID     string    `json:"company_id,omitempty"`
	Status        string    `json:"status"`
	PaymentType   string    `json:"payment_type,omitempty"`
	InsuranceTier string    `json:"insurance_tier,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Publisher delivers events after the transaction that produced them commits.
// Implementations never block a caller on broker availability for long.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close()
}

// Stamp fills the id and correlation id when missing.
func Stamp(ctx context.Context, evt Event) Event {
	if evt.ID == "" {
		evt.ID = ulid.Make().String()
	}
	if evt.CorrelationID == "" {
		_, evt.CorrelationID = obscontext.EnsureCorrelationID(ctx)
	}
	return evt
}

// PublishAfterCommit publishes evt and logs failures; the committed state is
// never affected by the broker.
func PublishAfterCommit(ctx context.Context, p Publisher, log *zap.Logger, evt Event) {
	if p == nil {
		return
	}
	evt = Stamp(ctx, evt)
	if err := p.Publish(ctx, evt); err != nil {
		log.Warn("event publish failed",
			zap.String("event_type", evt.Type),
			zap.String("package_id", evt.PackageID),
			zap.Error(err),
		)
	}
}

// NoopPublisher drops events. It stands in when no broker is configured.
type NoopPublisher struct {
	log *zap.Logger
}

func NewNoopPublisher(log *zap.Logger) *NoopPublisher {
	return &NoopPublisher{log: log}
}

func (p *NoopPublisher) Publish(_ context.Context, evt Event) error {
	if p.log != nil {
		p.log.Debug("publish skipped", zap.String("event_type", evt.Type), zap.String("package_id", evt.PackageID))
	}
	return nil
}

func (p *NoopPublisher) Close() {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *Recorder) Close() {}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events with the given type.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, evt := range r.Events() {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}
