package domain

import (
	"context"
	"time"
)

// EventKind names a structured engine event. Kinds are dotted
// "<component>.<action>" strings so sinks can route by prefix.
type EventKind string

const (
	EventCreatorRegistered      EventKind = "creator.registered"
	EventCreatorBanned          EventKind = "creator.banned"
	EventCreatorUnbanned        EventKind = "creator.unbanned"
	EventOperatorAuthorization  EventKind = "operator.authorization_set"
	EventOperatorGranted        EventKind = "operator.granted"
	EventOperatorRevoked        EventKind = "operator.revoked"
	EventAdjudicatorSet         EventKind = "adjudicator.set"
	EventLedgerPriceUpdated     EventKind = "ledger.price_updated"
	EventLedgerIntervalUpdated  EventKind = "ledger.price_interval_updated"
	EventLedgerTransfer         EventKind = "ledger.transfer"
	EventLedgerApproval         EventKind = "ledger.approval"
	EventExchangePurchase       EventKind = "exchange.purchase"
	EventExchangeSale           EventKind = "exchange.sale"
	EventExchangeFeeUpdated     EventKind = "exchange.fee_updated"
	EventExchangeFeesWithdrawn  EventKind = "exchange.fees_withdrawn"
	EventExchangeEmergency      EventKind = "exchange.emergency_withdrawal"
	EventExchangeDeposit        EventKind = "exchange.deposit"
	EventPredictionCreated      EventKind = "prediction.created"
	EventPredictionClosed       EventKind = "prediction.closed"
	EventBetPlaced              EventKind = "prediction.bet_placed"
	EventPredictionResolved     EventKind = "prediction.resolved"
	EventCooldownStarted        EventKind = "prediction.cooldown_started"
	EventOutcomeReported        EventKind = "prediction.outcome_reported"
	EventPredictionUnderReview  EventKind = "prediction.under_review"
	EventPredictionConfirmed    EventKind = "prediction.confirmed"
	EventPredictionDisputed     EventKind = "prediction.disputed"
	EventRewardClaimed          EventKind = "prediction.reward_claimed"
	EventRefundClaimed          EventKind = "prediction.refund_claimed"
	EventCreatorFeeClaimed      EventKind = "prediction.creator_fee_claimed"
	EventMarketConfigUpdated    EventKind = "market.config_updated"
	EventNativeDeposit          EventKind = "native.deposit"
)

// Event is one entry of the append-only engine event log.
type Event struct {
	ID        uint64         `json:"id"`
	Kind      EventKind      `json:"kind"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Emitter records engine events. Implementations must not block and must not
// call back into the engine.
type Emitter interface {
	Emit(kind EventKind, payload map[string]any)
}

// EventSink receives events asynchronously after they were recorded.
type EventSink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// NopEmitter discards events.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(EventKind, map[string]any) {}
