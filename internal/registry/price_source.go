package registry

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// StaticPriceSource is a settable in-memory price source. Production wires an
// oracle-backed source here; operations tooling and tests drive this one.
type StaticPriceSource struct {
	mu    sync.RWMutex
	price decimal.Decimal
	set   bool
}

func NewStaticPriceSource(initial decimal.Decimal) *StaticPriceSource {
	return &StaticPriceSource{price: initial, set: true}
}

// SetPrice replaces the reported mark price.
func (s *StaticPriceSource) SetPrice(p decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = p
	s.set = true
}

// Fail makes subsequent MarkPrice calls error until a new price is set.
func (s *StaticPriceSource) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = false
}

func (s *StaticPriceSource) MarkPrice() (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return decimal.Zero, errors.New("price source unavailable")
	}
	return s.price, nil
}
