package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMalformedEvent marks feed frames that cannot be decoded into a FeedEvent:
// unknown type tags, wrong arity, missing fields or unparsable numbers and
// timestamps. Malformed frames are dropped and reported, never applied.
var ErrMalformedEvent = errors.New("malformed feed event")

// Side identifies which half of the book an order rests on.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide validates the wire representation of an order side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", ErrMalformedEvent, s)
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// EventType discriminates the FeedEvent union.
type EventType string

const (
	EventTypeOpen   EventType = "open"
	EventTypeDone   EventType = "done"
	EventTypeChange EventType = "change"
	EventTypeMatch  EventType = "match"
	EventTypeNoop   EventType = "noop"
	EventTypeError  EventType = "error"
)

// DoneReason explains why an order left the book.
type DoneReason string

const (
	DoneReasonFilled   DoneReason = "filled"
	DoneReasonCanceled DoneReason = "canceled"
)

// FeedEvent is one decoded message from the order event stream. The Type field
// selects which variant fields are meaningful:
//
//	Open:   OrderID, Side, Price, RemainingSize
//	Done:   OrderID, Reason (when the venue includes it)
//	Change: OrderID, NewSize, and Price when the venue includes it
//	Match:  MakerOrderID, TakerOrderID, Price, Size
//	Noop:   common fields only, advances the sequence counter
//	Error:  Message; surfaced to the session, never applied to a book
//
// Sequence is the per-product total order over events; nothing else orders
// variants relative to each other.
type FeedEvent struct {
	Type      EventType
	ProductID string
	Sequence  uint64
	Time      time.Time

	OrderID       string
	Side          Side
	Price         decimal.Decimal
	RemainingSize decimal.Decimal
	NewSize       decimal.Decimal
	Reason        DoneReason

	MakerOrderID string
	TakerOrderID string
	Size         decimal.Decimal

	Message string
}

// ControlType discriminates non-event frames on the feed socket.
type ControlType string

const (
	ControlTypeSubscriptions ControlType = "subscriptions"
	ControlTypeHeartbeat     ControlType = "heartbeat"
	ControlTypeSchema        ControlType = "level3"
	ControlTypeError         ControlType = "error"
)

// ControlMessage is a non-event frame: subscription acks, the level3 schema
// announcement, heartbeats and server-side errors.
type ControlMessage struct {
	Type        ControlType
	ProductID   string
	Sequence    uint64
	LastTradeID uint64
	Time        time.Time
	Message     string
	Reason      string
}

// RawFeedMessage wraps one raw frame read off the feed socket before parsing.
type RawFeedMessage struct {
	Data     []byte
	Received time.Time
}

// ParsedFrame is the result of decoding one raw frame. Exactly one of Event
// and Control is set.
type ParsedFrame struct {
	Event   *FeedEvent
	Control *ControlMessage
}

// ParseFrame decodes a single raw frame from the feed socket. Array frames are
// level3 order events; object frames are either control messages or the
// object-encoded event forms the full channel emits.
func ParseFrame(raw []byte) (ParsedFrame, error) {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			ev, err := parseArrayEvent(raw)
			if err != nil {
				return ParsedFrame{}, err
			}
			return ParsedFrame{Event: ev}, nil
		case '{':
			return parseObjectFrame(raw)
		default:
			return ParsedFrame{}, fmt.Errorf("%w: frame is neither array nor object", ErrMalformedEvent)
		}
	}
	return ParsedFrame{}, fmt.Errorf("%w: empty frame", ErrMalformedEvent)
}

// Array event layouts, first element is the type tag:
//
//	["open",   product_id, sequence, order_id, side, price, size, time]
//	["done",   product_id, sequence, order_id, time]
//	["change", product_id, sequence, order_id, price, size, time]
//	["match",  product_id, sequence, maker_order_id, taker_order_id, price, size, time]
//	["noop",   product_id, sequence, time]
func parseArrayEvent(raw []byte) (*FeedEvent, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("%w: empty array frame", ErrMalformedEvent)
	}

	tag, err := parseString(elems[0], "type")
	if err != nil {
		return nil, err
	}

	arity := map[string]int{
		"open":   8,
		"done":   5,
		"change": 7,
		"match":  8,
		"noop":   4,
	}
	want, ok := arity[tag]
	if !ok {
		return nil, fmt.Errorf("%w: unknown type tag %q", ErrMalformedEvent, tag)
	}
	if len(elems) != want {
		return nil, fmt.Errorf("%w: %s frame has %d elements, want %d", ErrMalformedEvent, tag, len(elems), want)
	}

	ev := &FeedEvent{}
	if ev.ProductID, err = parseString(elems[1], "product_id"); err != nil {
		return nil, err
	}
	if ev.Sequence, err = parseSequence(elems[2]); err != nil {
		return nil, err
	}

	switch tag {
	case "open":
		ev.Type = EventTypeOpen
		if ev.OrderID, err = parseString(elems[3], "order_id"); err != nil {
			return nil, err
		}
		side, err := parseString(elems[4], "side")
		if err != nil {
			return nil, err
		}
		if ev.Side, err = ParseSide(side); err != nil {
			return nil, err
		}
		if ev.Price, err = parseDecimal(elems[5], "price"); err != nil {
			return nil, err
		}
		if ev.RemainingSize, err = parseDecimal(elems[6], "size"); err != nil {
			return nil, err
		}
		ev.Time, err = parseTime(elems[7])
	case "done":
		ev.Type = EventTypeDone
		if ev.OrderID, err = parseString(elems[3], "order_id"); err != nil {
			return nil, err
		}
		ev.Time, err = parseTime(elems[4])
	case "change":
		ev.Type = EventTypeChange
		if ev.OrderID, err = parseString(elems[3], "order_id"); err != nil {
			return nil, err
		}
		if ev.Price, err = parseDecimal(elems[4], "price"); err != nil {
			return nil, err
		}
		if ev.NewSize, err = parseDecimal(elems[5], "size"); err != nil {
			return nil, err
		}
		ev.Time, err = parseTime(elems[6])
	case "match":
		ev.Type = EventTypeMatch
		if ev.MakerOrderID, err = parseString(elems[3], "maker_order_id"); err != nil {
			return nil, err
		}
		if ev.TakerOrderID, err = parseString(elems[4], "taker_order_id"); err != nil {
			return nil, err
		}
		if ev.Price, err = parseDecimal(elems[5], "price"); err != nil {
			return nil, err
		}
		if ev.Size, err = parseDecimal(elems[6], "size"); err != nil {
			return nil, err
		}
		ev.Time, err = parseTime(elems[7])
	case "noop":
		ev.Type = EventTypeNoop
		ev.Time, err = parseTime(elems[3])
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// objectFrame covers both control messages and the object-encoded event forms.
// Fields that do not apply to a given type are simply absent on the wire.
type objectFrame struct {
	Type          string          `json:"type"`
	ProductID     string          `json:"product_id"`
	Sequence      json.RawMessage `json:"sequence"`
	Time          string          `json:"time"`
	OrderID       string          `json:"order_id"`
	Side          string          `json:"side"`
	Price         string          `json:"price"`
	RemainingSize string          `json:"remaining_size"`
	Size          string          `json:"size"`
	NewSize       string          `json:"new_size"`
	Reason        string          `json:"reason"`
	MakerOrderID  string          `json:"maker_order_id"`
	TakerOrderID  string          `json:"taker_order_id"`
	LastTradeID   uint64          `json:"last_trade_id"`
	Message       string          `json:"message"`
}

func parseObjectFrame(raw []byte) (ParsedFrame, error) {
	var obj objectFrame
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ParsedFrame{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch obj.Type {
	case "subscriptions":
		return ParsedFrame{Control: &ControlMessage{Type: ControlTypeSubscriptions}}, nil
	case "level3":
		return ParsedFrame{Control: &ControlMessage{Type: ControlTypeSchema}}, nil
	case "heartbeat":
		ctl := &ControlMessage{
			Type:        ControlTypeHeartbeat,
			ProductID:   obj.ProductID,
			LastTradeID: obj.LastTradeID,
		}
		var err error
		if ctl.Sequence, err = parseSequence(obj.Sequence); err != nil {
			return ParsedFrame{}, err
		}
		if obj.Time != "" {
			if ctl.Time, err = parseTimeString(obj.Time); err != nil {
				return ParsedFrame{}, err
			}
		}
		return ParsedFrame{Control: ctl}, nil
	case "error":
		return ParsedFrame{Control: &ControlMessage{
			Type:    ControlTypeError,
			Message: obj.Message,
			Reason:  obj.Reason,
		}}, nil
	case "open", "done", "change", "match", "received", "activate":
		ev, err := objectEvent(&obj)
		if err != nil {
			return ParsedFrame{}, err
		}
		return ParsedFrame{Event: ev}, nil
	}
	return ParsedFrame{}, fmt.Errorf("%w: unknown type tag %q", ErrMalformedEvent, obj.Type)
}

// objectEvent maps the full-channel object encodings onto the same FeedEvent
// union the level3 arrays produce. "received" and "activate" consume a
// sequence number without touching the book, so they decode as Noop.
func objectEvent(obj *objectFrame) (*FeedEvent, error) {
	ev := &FeedEvent{ProductID: obj.ProductID}

	var err error
	if ev.Sequence, err = parseSequence(obj.Sequence); err != nil {
		return nil, err
	}
	if obj.Time != "" {
		if ev.Time, err = parseTimeString(obj.Time); err != nil {
			return nil, err
		}
	}

	switch obj.Type {
	case "open":
		ev.Type = EventTypeOpen
		ev.OrderID = obj.OrderID
		if ev.Side, err = ParseSide(obj.Side); err != nil {
			return nil, err
		}
		if ev.Price, err = parseDecimalString(obj.Price, "price"); err != nil {
			return nil, err
		}
		if ev.RemainingSize, err = parseDecimalString(obj.RemainingSize, "remaining_size"); err != nil {
			return nil, err
		}
	case "done":
		ev.Type = EventTypeDone
		ev.OrderID = obj.OrderID
		switch obj.Reason {
		case "":
		case "filled":
			ev.Reason = DoneReasonFilled
		case "canceled":
			ev.Reason = DoneReasonCanceled
		default:
			return nil, fmt.Errorf("%w: unknown done reason %q", ErrMalformedEvent, obj.Reason)
		}
	case "change":
		ev.Type = EventTypeChange
		ev.OrderID = obj.OrderID
		if ev.NewSize, err = parseDecimalString(obj.NewSize, "new_size"); err != nil {
			return nil, err
		}
		if obj.Price != "" && obj.Price != "null" {
			if ev.Price, err = parseDecimalString(obj.Price, "price"); err != nil {
				return nil, err
			}
		}
	case "match":
		ev.Type = EventTypeMatch
		ev.MakerOrderID = obj.MakerOrderID
		ev.TakerOrderID = obj.TakerOrderID
		if ev.Price, err = parseDecimalString(obj.Price, "price"); err != nil {
			return nil, err
		}
		if ev.Size, err = parseDecimalString(obj.Size, "size"); err != nil {
			return nil, err
		}
	case "received", "activate":
		ev.Type = EventTypeNoop
	}

	if ev.Type != EventTypeNoop && ev.OrderID == "" && ev.MakerOrderID == "" {
		return nil, fmt.Errorf("%w: %s event without order id", ErrMalformedEvent, obj.Type)
	}
	return ev, nil
}

// parseSequence accepts both JSON numbers and numeric strings; the level3
// arrays quote their sequence numbers while heartbeats do not.
func parseSequence(raw json.RawMessage) (uint64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: missing sequence", ErrMalformedEvent)
	}
	s := string(raw)
	if s[0] == '"' {
		var err error
		if s, err = strconv.Unquote(s); err != nil {
			return 0, fmt.Errorf("%w: bad sequence %s", ErrMalformedEvent, raw)
		}
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad sequence %q", ErrMalformedEvent, s)
	}
	return seq, nil
}

func parseString(raw json.RawMessage, field string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: bad %s %s", ErrMalformedEvent, field, raw)
	}
	if s == "" {
		return "", fmt.Errorf("%w: empty %s", ErrMalformedEvent, field)
	}
	return s, nil
}

func parseDecimal(raw json.RawMessage, field string) (decimal.Decimal, error) {
	s := string(raw)
	if len(s) > 1 && s[0] == '"' {
		var err error
		if s, err = strconv.Unquote(s); err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: bad %s %s", ErrMalformedEvent, field, raw)
		}
	}
	return parseDecimalString(s, field)
}

func parseDecimalString(s, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: bad %s %q", ErrMalformedEvent, field, s)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: negative %s %q", ErrMalformedEvent, field, s)
	}
	return d, nil
}

func parseTime(raw json.RawMessage) (time.Time, error) {
	s, err := parseString(raw, "time")
	if err != nil {
		return time.Time{}, err
	}
	return parseTimeString(s)
}

func parseTimeString(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad time %q", ErrMalformedEvent, s)
	}
	return t, nil
}
