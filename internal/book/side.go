package book

import (
	"container/list"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"bookflow/models"
)

// restingOrder is one order waiting on the book.
type restingOrder struct {
	id   string
	size decimal.Decimal
}

// priceLevel holds the FIFO queue of orders resting at one price plus the
// running total of their remaining sizes. The queue head is the oldest order
// at that price.
type priceLevel struct {
	price decimal.Decimal
	total decimal.Decimal
	queue *list.List
}

func newPriceLevel(price decimal.Decimal) *priceLevel {
	return &priceLevel{price: price, queue: list.New()}
}

// Quote summarizes one price level for readers: the price, the aggregate
// remaining size and the number of resting orders.
type Quote struct {
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
	Orders int             `json:"orders"`
}

// bookSide keeps one side's levels in a price-ascending slice for ordered
// walks plus a map for O(1) lookup. The map key is the trimmed decimal string
// so "295.96" and "295.960" land on the same level.
type bookSide struct {
	side   models.Side
	levels map[string]*priceLevel
	prices []decimal.Decimal
}

func newBookSide(side models.Side) *bookSide {
	return &bookSide{
		side:   side,
		levels: make(map[string]*priceLevel),
	}
}

func levelKey(price decimal.Decimal) string {
	s := price.String()
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	return s
}

func (s *bookSide) level(price decimal.Decimal) (*priceLevel, bool) {
	lvl, ok := s.levels[levelKey(price)]
	return lvl, ok
}

// ensureLevel returns the level at price, creating and slotting it into the
// sorted order when absent.
func (s *bookSide) ensureLevel(price decimal.Decimal) *priceLevel {
	key := levelKey(price)
	if lvl, ok := s.levels[key]; ok {
		return lvl
	}
	lvl := newPriceLevel(price)
	s.levels[key] = lvl

	idx := sort.Search(len(s.prices), func(i int) bool {
		return s.prices[i].Cmp(price) >= 0
	})
	s.prices = append(s.prices, decimal.Decimal{})
	copy(s.prices[idx+1:], s.prices[idx:])
	s.prices[idx] = price
	return lvl
}

// dropIfEmpty removes a level whose queue has drained.
func (s *bookSide) dropIfEmpty(lvl *priceLevel) {
	if lvl.queue.Len() != 0 {
		return
	}
	delete(s.levels, levelKey(lvl.price))

	idx := sort.Search(len(s.prices), func(i int) bool {
		return s.prices[i].Cmp(lvl.price) >= 0
	})
	if idx < len(s.prices) && s.prices[idx].Equal(lvl.price) {
		s.prices = append(s.prices[:idx], s.prices[idx+1:]...)
	}
}

// best returns the side's top level: highest price for bids, lowest for asks.
func (s *bookSide) best() (*priceLevel, bool) {
	if len(s.prices) == 0 {
		return nil, false
	}
	var price decimal.Decimal
	if s.side == models.SideBuy {
		price = s.prices[len(s.prices)-1]
	} else {
		price = s.prices[0]
	}
	lvl, ok := s.levels[levelKey(price)]
	return lvl, ok
}

// depth walks up to n levels from the top of the side outward.
func (s *bookSide) depth(n int) []Quote {
	if n <= 0 || len(s.prices) == 0 {
		return nil
	}
	if n > len(s.prices) {
		n = len(s.prices)
	}

	quotes := make([]Quote, 0, n)
	for i := 0; i < n; i++ {
		var price decimal.Decimal
		if s.side == models.SideBuy {
			price = s.prices[len(s.prices)-1-i]
		} else {
			price = s.prices[i]
		}
		lvl := s.levels[levelKey(price)]
		quotes = append(quotes, Quote{
			Price:  lvl.price,
			Size:   lvl.total,
			Orders: lvl.queue.Len(),
		})
	}
	return quotes
}

func (s *bookSide) levelCount() int {
	return len(s.prices)
}

func (s *bookSide) reset() {
	s.levels = make(map[string]*priceLevel)
	s.prices = nil
}
