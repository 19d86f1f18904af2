package rpcrelay

import (
	"sync"

	"github.com/bloXroute-Labs/rpcrelay/common"
	"github.com/holiman/uint256"
)

// Funds are the cycles a caller attached to one call.
type Funds interface {
	// Available is what is still left of the offer.
	Available() *uint256.Int
	// Accept takes up to amount from the offer and returns what was taken.
	Accept(amount *uint256.Int) *uint256.Int
}

// OfferedFunds is an in-process offer. Whatever is not accepted is handed
// back to the caller when the call completes.
type OfferedFunds struct {
	mu       sync.Mutex
	offered  *uint256.Int
	accepted *uint256.Int
}

func NewOfferedFunds(offered *uint256.Int) *OfferedFunds {
	if offered == nil {
		offered = common.ZeroCycles()
	}
	return &OfferedFunds{offered: offered.Clone(), accepted: common.ZeroCycles()}
}

func (f *OfferedFunds) Available() *uint256.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(uint256.Int).Sub(f.offered, f.accepted)
}

func (f *OfferedFunds) Accept(amount *uint256.Int) *uint256.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	take := new(uint256.Int).Sub(f.offered, f.accepted)
	if amount.Lt(take) {
		take.Set(amount)
	}
	f.accepted.Add(f.accepted, take)
	return take
}

// Accepted is the total taken so far.
func (f *OfferedFunds) Accepted() *uint256.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted.Clone()
}

// Refund is the part of the offer that goes back to the caller.
func (f *OfferedFunds) Refund() *uint256.Int {
	return f.Available()
}
