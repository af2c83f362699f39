package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Sponsorship semantic convention attributes.
var (
	// Proposal attributes
	AttrProposalID     = attribute.Key("sponsorship.proposal.id")
	AttrProposalTag    = attribute.Key("sponsorship.proposal.tag")
	AttrProposalStatus = attribute.Key("sponsorship.proposal.status")
	AttrActor          = attribute.Key("sponsorship.actor")

	// Badge attributes
	AttrBadgeID     = attribute.Key("sponsorship.badge.id")
	AttrBadgeAction = attribute.Key("sponsorship.badge.action")
	AttrBadgeDays   = attribute.Key("sponsorship.badge.days")

	// Treasury attributes
	AttrReceiptKind = attribute.Key("sponsorship.receipt.kind")
	AttrReceiptSeq  = attribute.Key("sponsorship.receipt.seq")
	AttrAmount      = attribute.Key("sponsorship.amount")
)

// ProposalOperation creates attributes for proposal lifecycle operations.
func ProposalOperation(id uint64, tag, status, actor string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrProposalID.Int64(int64(id)),
		AttrProposalTag.String(tag),
		AttrProposalStatus.String(status),
		AttrActor.String(actor),
	}
}

// BadgeOperation creates attributes for badge issue and extend operations.
func BadgeOperation(badgeID, action string, days int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBadgeID.String(badgeID),
		AttrBadgeAction.String(action),
		AttrBadgeDays.Int(days),
	}
}

// TreasuryOperation creates attributes for receipt movements.
func TreasuryOperation(kind string, seq uint64, amount int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrReceiptKind.String(kind),
		AttrReceiptSeq.Int64(int64(seq)),
		AttrAmount.Int64(amount),
	}
}

// SpanFromContext returns the span recorded in ctx, or a no-op span.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent annotates the active span with a named event.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus marks the active span ok or errored.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
