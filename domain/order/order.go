package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Direction int8

const (
	Buy Direction = iota + 1
	Sell
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the side an order of direction d matches against.
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "BUY":
		*d = Buy
	case "SELL":
		*d = Sell
	default:
		return fmt.Errorf("order: unknown direction %q", b)
	}
	return nil
}

type Status int8

const (
	Pending Status = iota
	PartialFilled
	FullyFilled
	PartialCancelled
	FullyCancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case PartialFilled:
		return "PARTIAL_FILLED"
	case FullyFilled:
		return "FULLY_FILLED"
	case PartialCancelled:
		return "PARTIAL_CANCELLED"
	case FullyCancelled:
		return "FULLY_CANCELLED"
	default:
		return "UNKNOWN"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for st := Pending; st <= FullyCancelled; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("order: unknown status %q", b)
}

// IsFinal reports whether the order can no longer change.
func (s Status) IsFinal() bool {
	return s == FullyFilled || s == PartialCancelled || s == FullyCancelled
}

// Order is a limit order. ID, UserID, Direction, Price, Quantity and
// SequenceID never change after creation; the rest is owned by the engine.
type Order struct {
	ID         int64           `json:"id"`
	SequenceID int64           `json:"sequenceId"`
	UserID     int64           `json:"userId"`
	Direction  Direction       `json:"direction"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`

	UnfilledQuantity decimal.Decimal `json:"unfilledQuantity"`
	Status           Status          `json:"status"`
	Version          int64           `json:"version"`
	CreatedAt        int64           `json:"createdAt"`
	UpdatedAt        int64           `json:"updatedAt"`
}

// NewID derives a time-partitioned order id: the sequence id followed by
// the UTC year and month of the creating event.
func NewID(sequenceID int64, createdAt int64) int64 {
	t := time.UnixMilli(createdAt).UTC()
	return sequenceID*10000 + int64(t.Year()*100+int(t.Month()))
}

// New creates a pending order with nothing filled.
func New(id, sequenceID, userID int64, dir Direction, price, quantity decimal.Decimal, createdAt int64) *Order {
	return &Order{
		ID:               id,
		SequenceID:       sequenceID,
		UserID:           userID,
		Direction:        dir,
		Price:            price,
		Quantity:         quantity,
		UnfilledQuantity: quantity,
		Status:           Pending,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}

// Update sets the mutable state and bumps the version.
func (o *Order) Update(unfilled decimal.Decimal, status Status, ts int64) {
	o.Version++
	o.UnfilledQuantity = unfilled
	o.Status = status
	o.UpdatedAt = ts
}

// Fill consumes q from the unfilled quantity.
func (o *Order) Fill(q decimal.Decimal, ts int64) {
	unfilled := o.UnfilledQuantity.Sub(q)
	status := PartialFilled
	if unfilled.IsZero() {
		status = FullyFilled
	}
	o.Update(unfilled, status, ts)
}

// Cancel moves the order to its cancelled terminal status.
func (o *Order) Cancel(ts int64) {
	status := FullyCancelled
	if o.UnfilledQuantity.LessThan(o.Quantity) {
		status = PartialCancelled
	}
	o.Update(o.UnfilledQuantity, status, ts)
}

// Filled returns the executed quantity.
func (o *Order) Filled() decimal.Decimal {
	return o.Quantity.Sub(o.UnfilledQuantity)
}

// Snapshot returns an immutable copy for readers outside the engine.
func (o *Order) Snapshot() Order {
	return *o
}
