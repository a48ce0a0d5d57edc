package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotOrder is one resting order inside a book snapshot.
type SnapshotOrder struct {
	OrderID       string
	Side          Side
	Price         decimal.Decimal
	RemainingSize decimal.Decimal
}

// SnapshotRecord is a point-in-time full listing of the resting orders on one
// product's book, valid as of Sequence: every feed event with sequence <=
// Sequence is already reflected in it. Bids are ordered best (highest) first,
// asks best (lowest) first; within a level the listing order is queue
// priority.
type SnapshotRecord struct {
	ProductID string
	Sequence  uint64
	Time      time.Time
	Bids      []SnapshotOrder
	Asks      []SnapshotOrder
}

// snapshotResponse mirrors GET /products/{id}/book?level=3. Each entry is a
// [price, size, order_id] string triplet.
type snapshotResponse struct {
	Sequence json.RawMessage `json:"sequence"`
	Time     string          `json:"time"`
	Bids     [][]string      `json:"bids"`
	Asks     [][]string      `json:"asks"`
}

// ParseSnapshot decodes a level 3 book response for the given product.
func ParseSnapshot(productID string, raw []byte) (*SnapshotRecord, error) {
	var resp snapshotResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode book snapshot: %w", err)
	}

	seq, err := parseSequence(resp.Sequence)
	if err != nil {
		return nil, fmt.Errorf("book snapshot sequence: %w", err)
	}

	snap := &SnapshotRecord{
		ProductID: productID,
		Sequence:  seq,
	}
	if resp.Time != "" {
		if snap.Time, err = parseTimeString(resp.Time); err != nil {
			return nil, fmt.Errorf("book snapshot time: %w", err)
		}
	}

	if snap.Bids, err = parseSnapshotSide(resp.Bids, SideBuy); err != nil {
		return nil, err
	}
	if snap.Asks, err = parseSnapshotSide(resp.Asks, SideSell); err != nil {
		return nil, err
	}
	return snap, nil
}

func parseSnapshotSide(entries [][]string, side Side) ([]SnapshotOrder, error) {
	orders := make([]SnapshotOrder, 0, len(entries))
	for i, entry := range entries {
		if len(entry) != 3 {
			return nil, fmt.Errorf("book snapshot %s entry %d has %d fields, want 3", side, i, len(entry))
		}
		price, err := decimal.NewFromString(entry[0])
		if err != nil {
			return nil, fmt.Errorf("book snapshot %s entry %d price %q: %v", side, i, entry[0], err)
		}
		size, err := decimal.NewFromString(entry[1])
		if err != nil {
			return nil, fmt.Errorf("book snapshot %s entry %d size %q: %v", side, i, entry[1], err)
		}
		if entry[2] == "" {
			return nil, fmt.Errorf("book snapshot %s entry %d has empty order id", side, i)
		}
		orders = append(orders, SnapshotOrder{
			OrderID:       entry[2],
			Side:          side,
			Price:         price,
			RemainingSize: size,
		})
	}
	return orders, nil
}
