package gate

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// StaticOracle is an in-memory AttestationOracle over a fixed set of
// verified addresses. It serves deployments without an external attestation
// provider and the test suite.
type StaticOracle struct {
	mu       sync.RWMutex
	verified map[common.Address]bool
}

// NewStaticOracle builds an oracle marking the given addresses as verified.
func NewStaticOracle(addrs ...common.Address) *StaticOracle {
	o := &StaticOracle{verified: make(map[common.Address]bool, len(addrs))}
	for _, addr := range addrs {
		o.verified[addr] = true
	}
	return o
}

// IsVerified implements AttestationOracle.
func (o *StaticOracle) IsVerified(addr common.Address) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.verified[addr], nil
}

// SetVerified marks or unmarks an address as verified.
func (o *StaticOracle) SetVerified(addr common.Address, verified bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if verified {
		o.verified[addr] = true
	} else {
		delete(o.verified, addr)
	}
}
