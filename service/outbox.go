package service

import (
	"github.com/shopspring/decimal"

	"tradecore/domain/order"
	"tradecore/infra/queue"
	"tradecore/infra/store"
	pkgerrors "tradecore/pkg/errors"
	"tradecore/snapshot"
)

type NotificationType string

const (
	OrderMatched  NotificationType = "order_matched"
	OrderCanceled NotificationType = "order_canceled"
)

// Outcome answers one request. Order is set on success of an order
// request or a cancel, ErrorCode on failure.
type Outcome struct {
	RefID     string              `json:"refId"`
	Success   bool                `json:"success"`
	Order     *order.Order        `json:"order,omitempty"`
	ErrorCode pkgerrors.ErrorCode `json:"errorCode,omitempty"`
}

type Notification struct {
	Timestamp int64            `json:"timestamp"`
	Type      NotificationType `json:"type"`
	UserID    int64            `json:"userId"`
	Payload   order.Order      `json:"payload"`
}

type Tick struct {
	SequenceID   int64           `json:"sequenceId"`
	TakerOrderID int64           `json:"takerOrderId"`
	MakerOrderID int64           `json:"makerOrderId"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	TakerIsBuyer bool            `json:"takerIsBuyer"`
	CreatedAt    int64           `json:"createdAt"`
}

// Outbox holds the hand-off queues the driver fills and the publishers
// drain.
type Outbox struct {
	Outcomes      *queue.Queue[Outcome]
	Notifications *queue.Queue[Notification]
	Ticks         *queue.Queue[Tick]
	Archive       *queue.Queue[store.Batch]
	Checkpoints   *queue.Queue[snapshot.State]
}

func NewOutbox() *Outbox {
	return &Outbox{
		Outcomes:      queue.New[Outcome](),
		Notifications: queue.New[Notification](),
		Ticks:         queue.New[Tick](),
		Archive:       queue.New[store.Batch](),
		Checkpoints:   queue.New[snapshot.State](),
	}
}

func success(refID string, o *order.Order) Outcome {
	out := Outcome{RefID: refID, Success: true}
	if o != nil {
		snap := o.Snapshot()
		out.Order = &snap
	}
	return out
}

func failure(refID string, code pkgerrors.ErrorCode) Outcome {
	return Outcome{RefID: refID, ErrorCode: code}
}
