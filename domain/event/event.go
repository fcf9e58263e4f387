// Package event defines the requests that flow through the sequencer into
// the trading engine. The set of kinds is closed: OrderRequest,
// OrderCancel and Transfer.
package event

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/domain/asset"
	"tradecore/domain/order"
)

type Kind string

const (
	KindOrderRequest Kind = "order_request"
	KindOrderCancel  Kind = "order_cancel"
	KindTransfer     Kind = "transfer"
)

var ErrInvalid = errors.New("event: invalid")

// Header is assigned by the sequencer, except UniqueID and RefID which
// come from the producer.
type Header struct {
	SequenceID int64  `json:"sequenceId"`
	PreviousID int64  `json:"previousId"`
	UniqueID   string `json:"uniqueId,omitempty"`
	RefID      string `json:"refId,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}

func (h *Header) Head() *Header { return h }

// Event is implemented only by the kinds in this package.
type Event interface {
	Head() *Header
	Kind() Kind
	Validate() error
	sealed()
}

type OrderRequest struct {
	Header
	UserID    int64           `json:"userId"`
	Direction order.Direction `json:"direction"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type OrderCancel struct {
	Header
	UserID     int64 `json:"userId"`
	RefOrderID int64 `json:"refOrderId"`
}

// Transfer moves available funds between users. Sufficient is false only
// for issuance from the debt account.
type Transfer struct {
	Header
	FromUserID int64           `json:"fromUserId"`
	ToUserID   int64           `json:"toUserId"`
	Asset      asset.ID        `json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
	Sufficient bool            `json:"sufficient"`
}

func (*OrderRequest) Kind() Kind { return KindOrderRequest }
func (*OrderCancel) Kind() Kind  { return KindOrderCancel }
func (*Transfer) Kind() Kind     { return KindTransfer }

func (*OrderRequest) sealed() {}
func (*OrderCancel) sealed()  {}
func (*Transfer) sealed()     {}

func (e *OrderRequest) Validate() error {
	switch {
	case e.UserID <= 0:
		return invalid("order request: user id %d", e.UserID)
	case e.Direction != order.Buy && e.Direction != order.Sell:
		return invalid("order request: direction %d", e.Direction)
	case !e.Price.IsPositive():
		return invalid("order request: price %s", e.Price)
	case !e.Quantity.IsPositive():
		return invalid("order request: quantity %s", e.Quantity)
	}
	return nil
}

func (e *OrderCancel) Validate() error {
	if e.UserID <= 0 || e.RefOrderID <= 0 {
		return invalid("order cancel: user %d order %d", e.UserID, e.RefOrderID)
	}
	return nil
}

func (e *Transfer) Validate() error {
	switch {
	case e.FromUserID <= 0 || e.ToUserID <= 0:
		return invalid("transfer: users %d -> %d", e.FromUserID, e.ToUserID)
	case e.FromUserID == e.ToUserID:
		return invalid("transfer: same user %d", e.FromUserID)
	case e.Asset == "":
		return invalid("transfer: empty asset")
	case !e.Amount.IsPositive():
		return invalid("transfer: amount %s", e.Amount)
	case !e.Sufficient && e.FromUserID != asset.DebtUserID:
		return invalid("transfer: only the debt account may skip the balance check")
	}
	return nil
}

// NewTransfer builds a transfer; the balance check is waived only when the
// source is the debt account.
func NewTransfer(uniqueID string, from, to int64, id asset.ID, amount decimal.Decimal) *Transfer {
	return &Transfer{
		Header:     Header{UniqueID: uniqueID},
		FromUserID: from,
		ToUserID:   to,
		Asset:      id,
		Amount:     amount,
		Sufficient: from != asset.DebtUserID,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
