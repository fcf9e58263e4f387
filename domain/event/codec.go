package event

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"

	"tradecore/domain/asset"
	"tradecore/domain/order"
)

// Codec turns events into the opaque payload stored in the event log and
// carried on the wire.
type Codec interface {
	Marshal(e Event) ([]byte, error)
	Unmarshal(data []byte) (Event, error)
}

var ErrCorrupt = errors.New("event: corrupted payload")

// ---------- JSON ----------

// JSONCodec writes {"kind": ..., "data": {...}}.
type JSONCodec struct{}

type envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (JSONCodec) Marshal(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: e.Kind(), Data: data})
}

func (JSONCodec) Unmarshal(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	e, err := newOfKind(env.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Data, e); err != nil {
		return nil, err
	}
	return e, nil
}

func newOfKind(k Kind) (Event, error) {
	switch k {
	case KindOrderRequest:
		return &OrderRequest{}, nil
	case KindOrderCancel:
		return &OrderCancel{}, nil
	case KindTransfer:
		return &Transfer{}, nil
	default:
		return nil, fmt.Errorf("event: unknown kind %q", k)
	}
}

// ---------- Protobuf wire ----------

// BinaryCodec encodes events in protobuf wire format framed as
// [len:4][crc:4][body], both little endian.
type BinaryCodec struct{}

const (
	fieldKind protowire.Number = iota + 1
	fieldSequenceID
	fieldPreviousID
	fieldUniqueID
	fieldRefID
	fieldCreatedAt
)

const (
	fieldUserID protowire.Number = iota + 10
	fieldDirection
	fieldPrice
	fieldQuantity
	fieldRefOrderID
	fieldFromUserID
	fieldToUserID
	fieldAsset
	fieldAmount
	fieldSufficient
)

var kindTags = map[Kind]uint64{KindOrderRequest: 1, KindOrderCancel: 2, KindTransfer: 3}

func (BinaryCodec) Marshal(e Event) ([]byte, error) {
	tag, ok := kindTags[e.Kind()]
	if !ok {
		return nil, fmt.Errorf("event: unknown kind %q", e.Kind())
	}
	h := e.Head()

	var b []byte
	b = appendVarint(b, fieldKind, tag)
	b = appendVarint(b, fieldSequenceID, uint64(h.SequenceID))
	b = appendVarint(b, fieldPreviousID, uint64(h.PreviousID))
	b = appendString(b, fieldUniqueID, h.UniqueID)
	b = appendString(b, fieldRefID, h.RefID)
	b = appendVarint(b, fieldCreatedAt, uint64(h.CreatedAt))

	switch e := e.(type) {
	case *OrderRequest:
		b = appendVarint(b, fieldUserID, uint64(e.UserID))
		b = appendVarint(b, fieldDirection, uint64(e.Direction))
		b = appendString(b, fieldPrice, e.Price.String())
		b = appendString(b, fieldQuantity, e.Quantity.String())
	case *OrderCancel:
		b = appendVarint(b, fieldUserID, uint64(e.UserID))
		b = appendVarint(b, fieldRefOrderID, uint64(e.RefOrderID))
	case *Transfer:
		b = appendVarint(b, fieldFromUserID, uint64(e.FromUserID))
		b = appendVarint(b, fieldToUserID, uint64(e.ToUserID))
		b = appendString(b, fieldAsset, string(e.Asset))
		b = appendString(b, fieldAmount, e.Amount.String())
		b = appendVarint(b, fieldSufficient, protowire.EncodeBool(e.Sufficient))
	}

	frame := make([]byte, 8, 8+len(b))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(b)))
	binary.LittleEndian.PutUint32(frame[4:], crc32.ChecksumIEEE(b))
	return append(frame, b...), nil
}

// wire holds every field of every kind while decoding.
type wire struct {
	kind                    uint64
	header                  Header
	userID, refOrderID      int64
	fromUserID, toUserID    int64
	direction               order.Direction
	price, quantity, amount string
	asset                   string
	sufficient              bool
}

func (BinaryCodec) Unmarshal(data []byte) (Event, error) {
	if len(data) < 8 {
		return nil, ErrCorrupt
	}
	body := data[8:]
	if int(binary.LittleEndian.Uint32(data[:4])) != len(body) ||
		binary.LittleEndian.Uint32(data[4:8]) != crc32.ChecksumIEEE(body) {
		return nil, ErrCorrupt
	}

	var w wire
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		body = body[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			body = body[n:]
			w.setVarint(num, v)
		case protowire.BytesType:
			v, n := protowire.ConsumeString(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			body = body[n:]
			w.setString(num, v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			body = body[n:]
		}
	}
	return w.event()
}

func (w *wire) setVarint(num protowire.Number, v uint64) {
	switch num {
	case fieldKind:
		w.kind = v
	case fieldSequenceID:
		w.header.SequenceID = int64(v)
	case fieldPreviousID:
		w.header.PreviousID = int64(v)
	case fieldCreatedAt:
		w.header.CreatedAt = int64(v)
	case fieldUserID:
		w.userID = int64(v)
	case fieldDirection:
		w.direction = order.Direction(v)
	case fieldRefOrderID:
		w.refOrderID = int64(v)
	case fieldFromUserID:
		w.fromUserID = int64(v)
	case fieldToUserID:
		w.toUserID = int64(v)
	case fieldSufficient:
		w.sufficient = protowire.DecodeBool(v)
	}
}

func (w *wire) setString(num protowire.Number, v string) {
	switch num {
	case fieldUniqueID:
		w.header.UniqueID = v
	case fieldRefID:
		w.header.RefID = v
	case fieldPrice:
		w.price = v
	case fieldQuantity:
		w.quantity = v
	case fieldAsset:
		w.asset = v
	case fieldAmount:
		w.amount = v
	}
}

func (w *wire) event() (Event, error) {
	switch w.kind {
	case kindTags[KindOrderRequest]:
		price, err := decimal.NewFromString(w.price)
		if err != nil {
			return nil, fmt.Errorf("%w: price: %v", ErrCorrupt, err)
		}
		qty, err := decimal.NewFromString(w.quantity)
		if err != nil {
			return nil, fmt.Errorf("%w: quantity: %v", ErrCorrupt, err)
		}
		return &OrderRequest{Header: w.header, UserID: w.userID, Direction: w.direction, Price: price, Quantity: qty}, nil
	case kindTags[KindOrderCancel]:
		return &OrderCancel{Header: w.header, UserID: w.userID, RefOrderID: w.refOrderID}, nil
	case kindTags[KindTransfer]:
		amount, err := decimal.NewFromString(w.amount)
		if err != nil {
			return nil, fmt.Errorf("%w: amount: %v", ErrCorrupt, err)
		}
		return &Transfer{
			Header:     w.header,
			FromUserID: w.fromUserID,
			ToUserID:   w.toUserID,
			Asset:      asset.ID(w.asset),
			Amount:     amount,
			Sufficient: w.sufficient,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind tag %d", ErrCorrupt, w.kind)
	}
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}
