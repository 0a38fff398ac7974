// Package chainoracle implements locktx.ChainOracle: the state machine's
// read-only view of Chain A's tip height and kernel confirmation status.
// Grounded on the teacher's internal/backend.Backend (GetBlockHeight), the
// same polling shape repurposed from per-address UTXO queries to the two
// facts the LockTx driver actually needs.
package chainoracle

import (
	"context"
	"sync"

	"github.com/klingon-exchange/locktx-core/internal/backend"
	"github.com/klingon-exchange/locktx-core/pkg/helpers"
)

// Polling implements locktx.ChainOracle by polling a backend.Backend for
// height on demand and tracking confirmed kernel excesses in memory as
// they are observed. A production host would instead scan Chain A's
// kernel set directly; nothing in the example repos does that for a
// mimblewimble-style chain, so this keeps the same Backend-polling idiom
// the teacher uses for its UTXO-chain backends and layers a manual
// confirmation ledger on top, compared with the teacher's own
// pkg/helpers.ConstantTimeCompare rather than a hash map.
type Polling struct {
	mu        sync.RWMutex
	backend   backend.Backend
	height    uint64
	confirmed [][]byte
}

// NewPolling constructs an oracle backed by b. b may be nil, in which case
// CurrentHeight reports whatever was last set with SetHeight (useful for
// tests and for hosts with no live backend configured).
func NewPolling(b backend.Backend) *Polling {
	return &Polling{backend: b}
}

// CurrentHeight implements locktx.ChainOracle.
func (o *Polling) CurrentHeight() uint64 {
	if o.backend != nil && o.backend.IsConnected() {
		if h, err := o.backend.GetBlockHeight(context.Background()); err == nil && h >= 0 {
			o.mu.Lock()
			o.height = uint64(h)
			o.mu.Unlock()
		}
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.height
}

// SetHeight overrides the tracked height directly, for tests and for a
// host with no live backend configured.
func (o *Polling) SetHeight(h uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.height = h
}

// IsKernelConfirmed implements locktx.ChainOracle. Excesses are compared
// with a constant-time comparison rather than a hash-map lookup: this
// value is a public key derived from spend-controlling secrets, and
// there's no reason to leak timing about which ledger entry it matches.
func (o *Polling) IsKernelConfirmed(aggregateExcess []byte) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, c := range o.confirmed {
		if helpers.ConstantTimeCompare(c, aggregateExcess) {
			return true, nil
		}
	}
	return false, nil
}

// ConfirmKernel marks aggregateExcess as seen on chain. A production host
// would set this from a kernel-set scan driven off new blocks; tests and
// the demo driver call it directly to simulate confirmation.
func (o *Polling) ConfirmKernel(aggregateExcess []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.confirmed {
		if helpers.ConstantTimeCompare(c, aggregateExcess) {
			return
		}
	}
	o.confirmed = append(o.confirmed, aggregateExcess)
}
