// Package gateway provides locktx.Gateway implementations: an in-process
// adapter for tests and same-process demo runs, and a websocket-relayed
// adapter for two separate processes. Grounded on the teacher's
// internal/rpc/websocket.go hub (register/unregister/broadcast channels),
// repurposed here to relay opaque parameter bundles between exactly two
// peers instead of broadcasting UI events to many subscribers.
package gateway

import (
	"sync"

	"github.com/klingon-exchange/locktx-core/internal/locktx"
)

// InProcess wires two locktx.Gateway endpoints together with a direct
// function hand-off, for tests and single-process demo runs where both
// parties share the same machine.
type InProcess struct {
	mu      sync.Mutex
	deliver func(msg locktx.Message) error
}

// NewInProcessPair returns two Gateways, each of which hands Send calls
// straight to the other side's Deliver callback. Call SetDeliver on each
// before use, or use Link for the common two-party case.
func NewInProcessPair() (a *InProcess, b *InProcess) {
	a = &InProcess{}
	b = &InProcess{}
	return a, b
}

// SetDeliver registers the function this endpoint's Send calls invoke:
// normally the peer's Manager.Deliver.
func (g *InProcess) SetDeliver(deliver func(msg locktx.Message) error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deliver = deliver
}

// Send implements locktx.Gateway, delivering synchronously and reporting
// whether the peer's handler accepted the message without error.
func (g *InProcess) Send(msg locktx.Message) bool {
	g.mu.Lock()
	deliver := g.deliver
	g.mu.Unlock()
	if deliver == nil {
		return false
	}
	return deliver(msg) == nil
}

// Link connects two Gateways so each one's Send reaches the other's
// deliver callback, the common case for a two-party in-process test.
func Link(a, b *InProcess, deliverToA, deliverToB func(msg locktx.Message) error) {
	a.SetDeliver(deliverToB)
	b.SetDeliver(deliverToA)
}
