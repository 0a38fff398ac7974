package locktx

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/klingon-exchange/locktx-core/internal/params"
	"github.com/klingon-exchange/locktx-core/internal/txbuilder"
	"github.com/klingon-exchange/locktx-core/pkg/logging"
)

// ErrTxNotFound is returned when a TxID has no registered Machine.
var ErrTxNotFound = errors.New("locktx: transaction not found")

// ErrTxExists is returned by Register when the TxID is already tracked.
var ErrTxExists = errors.New("locktx: transaction already registered")

// Event is emitted on every state transition a Machine makes, grounded on
// the teacher's SwapEvent.
type Event struct {
	TxID      params.TxID
	State     params.LockState
	EventType string
	Timestamp time.Time
}

// EventHandler is called when a Manager-tracked Machine changes state.
type EventHandler func(event Event)

// Manager tracks every in-flight LockTx by TxID and drives periodic
// updates, the locktx-package equivalent of the teacher's swap.Coordinator.
type Manager struct {
	mu sync.RWMutex

	store   params.TypedStore
	gateway Gateway
	log     *logging.Logger
	chain   ChainOracle
	cfg     Config

	machines      map[params.TxID]*Machine
	eventHandlers []EventHandler

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager constructs a Manager sharing one store, gateway and chain
// oracle across every tracked transaction.
func NewManager(store params.TypedStore, gateway Gateway, log *logging.Logger, chain ChainOracle, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:    store,
		gateway:  gateway,
		log:      log.Component("locktx-manager"),
		chain:    chain,
		cfg:      cfg,
		machines: make(map[params.TxID]*Machine),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnEvent registers an event handler.
func (m *Manager) OnEvent(handler EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventHandlers = append(m.eventHandlers, handler)
}

// emitEvent fans an event out to every registered handler on its own
// goroutine. Caller must hold m.mu (read or write).
func (m *Manager) emitEvent(txID params.TxID, eventType string, state params.LockState) {
	event := Event{TxID: txID, State: state, EventType: eventType, Timestamp: time.Now()}
	handlers := make([]EventHandler, len(m.eventHandlers))
	copy(handlers, m.eventHandlers)
	for _, h := range handlers {
		go h(event)
	}
}

// Register creates and tracks a new sender-side Machine, then runs Start.
func (m *Manager) Register(txID params.TxID, wallet txbuilder.InputSource, kdf WalletKDF, amount, fee, minHeight, atomicSwapAmount uint64, atomicSwapCoin uint32) (*Machine, error) {
	m.mu.Lock()
	if _, exists := m.machines[txID]; exists {
		m.mu.Unlock()
		return nil, ErrTxExists
	}
	machine := NewMachine(txID, m.store, m.gateway, m.log, wallet, kdf, m.chain, m.cfg)
	m.machines[txID] = machine
	m.mu.Unlock()

	if err := machine.Start(amount, fee, minHeight, atomicSwapAmount, atomicSwapCoin); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.emitEvent(txID, "started", params.StateInitial)
	m.mu.Unlock()
	return machine, nil
}

// RegisterResponder tracks a Machine for a transaction this party is
// responding to, without calling Start (the Invitation itself, delivered
// through Deliver, drives it forward).
func (m *Manager) RegisterResponder(txID params.TxID, wallet txbuilder.InputSource, kdf WalletKDF) (*Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.machines[txID]; exists {
		return nil, ErrTxExists
	}
	machine := NewMachine(txID, m.store, m.gateway, m.log, wallet, kdf, m.chain, m.cfg)
	m.machines[txID] = machine
	return machine, nil
}

// Get returns the Machine tracking txID.
func (m *Manager) Get(txID params.TxID) (*Machine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.machines[txID]
	if !ok {
		return nil, ErrTxNotFound
	}
	return machine, nil
}

// Deliver routes an inbound message to its Machine.
func (m *Manager) Deliver(msg Message) error {
	machine, err := m.Get(msg.TxID)
	if err != nil {
		return err
	}
	before, _ := machine.GetState(params.LockTx)
	if err := machine.HandleMessage(msg); err != nil {
		return err
	}
	after, _ := machine.GetState(params.LockTx)
	if after != before {
		m.mu.Lock()
		m.emitEvent(msg.TxID, "state_changed", after)
		m.mu.Unlock()
	}
	return nil
}

// Tick drives every tracked Machine's Update once, for sub-transactions
// whose next step does not depend on an inbound message: TTL expiry checks
// and kernel-confirmation polling.
func (m *Manager) Tick() {
	m.mu.RLock()
	snapshot := make(map[params.TxID]*Machine, len(m.machines))
	for id, machine := range m.machines {
		snapshot[id] = machine
	}
	m.mu.RUnlock()

	for txID, machine := range snapshot {
		before, _ := machine.GetState(params.LockTx)
		if err := machine.Update(); err != nil {
			m.log.Warn("update failed", "tx_id", txID, "error", err)
			continue
		}
		after, _ := machine.GetState(params.LockTx)
		if after != before {
			m.mu.Lock()
			m.emitEvent(txID, "state_changed", after)
			m.mu.Unlock()
		}
	}
}

// StartTicker runs Tick on a fixed interval until Stop is called, the
// locktx equivalent of the teacher's StartTimeoutMonitor.
func (m *Manager) StartTicker(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.Tick()
			}
		}
	}()
}

// Stop halts the background ticker.
func (m *Manager) Stop() {
	m.cancel()
}
