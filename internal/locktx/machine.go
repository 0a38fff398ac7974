package locktx

import (
	"errors"
	"fmt"

	"github.com/klingon-exchange/locktx-core/internal/ecc"
	"github.com/klingon-exchange/locktx-core/internal/params"
	"github.com/klingon-exchange/locktx-core/internal/txbuilder"
	"github.com/klingon-exchange/locktx-core/pkg/logging"
)

// ChainOracle is the minimal read-only view of the counterparty chains
// Update needs: current tip height, for TTL expiry, and whether a given
// kernel excess has already landed on chain (spec.md §9's open question on
// kernel-confirmation handling, resolved here by keying the lookup on the
// aggregate public excess point, which both parties can compute as soon as
// they know each other's public excess and nonce, well before either side
// has a finalized signature).
type ChainOracle interface {
	CurrentHeight() uint64
	IsKernelConfirmed(aggregateExcess []byte) (bool, error)
}

// Config bounds the per-machine policy values spec.md §4.7 leaves to the
// host: how long a sub-transaction may sit unconfirmed before it is
// considered expired, and the chain's own size ceiling.
type Config struct {
	TTLBlocks        uint64
	MaxInputsOutputs int
}

// DefaultConfig mirrors the teacher's conservative defaults for values
// spec.md leaves to the host.
func DefaultConfig() Config {
	return Config{TTLBlocks: 1440, MaxInputsOutputs: 64}
}

// Machine drives the LockTx sub-transaction's state machine (spec.md
// §4.1): one Machine per TxID, reconstructing all working state from the
// parameter store on every Update call rather than caching it across
// restarts.
type Machine struct {
	txID    params.TxID
	store   params.TypedStore
	gateway Gateway
	log     *logging.Logger

	wallet txbuilder.InputSource
	kdf    WalletKDF
	chain  ChainOracle
	cfg    Config
}

// NewMachine constructs a driver for txID. wallet and kdf are the two
// halves of the host wallet capability LockTxBuilder needs; chain is the
// confirmation oracle; gateway delivers the three LockTx wire messages to
// the counterparty.
func NewMachine(txID params.TxID, store params.TypedStore, gateway Gateway, log *logging.Logger, wallet txbuilder.InputSource, kdf WalletKDF, chain ChainOracle, cfg Config) *Machine {
	return &Machine{
		txID:    txID,
		store:   store,
		gateway: gateway,
		log:     log.Component("locktx"),
		wallet:  wallet,
		kdf:     kdf,
		chain:   chain,
		cfg:     cfg,
	}
}

// GetType identifies the sub-transaction kind this machine drives, the
// equivalent of BaseTransaction::GetType().
func (m *Machine) GetType() string { return "lock_tx" }

// GetState returns the persisted LockState for sub, defaulting to Initial
// if nothing has been written yet.
func (m *Machine) GetState(sub params.SubTxID) (params.LockState, error) {
	state, ok, err := m.store.GetState(m.txID, sub)
	if err != nil {
		return 0, err
	}
	if !ok {
		return params.StateInitial, nil
	}
	return state, nil
}

// Start persists the sender-side initiation parameters spec.md §4.1's
// "Initial" entry conditions require and runs the first Update tick. The
// responder never calls Start: its equivalent entry point is HandleMessage
// receiving the Invitation.
func (m *Machine) Start(amount, fee, minHeight, atomicSwapAmount uint64, atomicSwapCoin uint32) error {
	sub := params.LockTx
	if err := m.store.SetBool(m.txID, sub, params.IsSender, true); err != nil {
		return err
	}
	if err := m.store.SetUint64(m.txID, sub, params.Amount, amount); err != nil {
		return err
	}
	if err := m.store.SetUint64(m.txID, sub, params.Fee, fee); err != nil {
		return err
	}
	if err := m.store.SetUint64(m.txID, sub, params.MinHeight, minHeight); err != nil {
		return err
	}
	if err := m.store.SetUint64(m.txID, sub, params.AtomicSwapAmount, atomicSwapAmount); err != nil {
		return err
	}
	if err := m.store.SetUint32(m.txID, sub, params.AtomicSwapCoin, atomicSwapCoin); err != nil {
		return err
	}
	if err := m.store.SetTxStatus(m.txID, sub, params.TxStatusPending); err != nil {
		return err
	}
	return m.Update()
}

// Cancel abandons the sub-transaction without notifying the peer beyond
// what a subsequent expiry would already tell it (spec.md §4.6: cancel is
// a local-only decision, distinct from a protocol-detected failure).
func (m *Machine) Cancel() error {
	sub := params.LockTx
	if err := m.store.SetState(m.txID, sub, params.StateFailed); err != nil {
		return err
	}
	return m.store.SetTxStatus(m.txID, sub, params.TxStatusCancelled)
}

// HandleMessage applies an incoming LockTx message's fields to the
// parameter store, then drives Update. Message delivery is expected to be
// at-least-once and out-of-order-tolerant; every field application here is
// itself idempotent (re-applying the same Invitation twice is a no-op past
// the first time, since the builder's own idempotence guards prevent
// double-counting).
func (m *Machine) HandleMessage(msg Message) error {
	if msg.TxID != m.txID {
		return fmt.Errorf("locktx: message tx id %s does not match machine tx id %s", msg.TxID, m.txID)
	}
	sub := params.LockTx

	switch msg.Kind {
	case KindInvitation:
		inv := msg.Invitation
		if inv == nil {
			return errors.New("locktx: invitation message missing payload")
		}
		if inv.PeerProtoVersion < MinSupportedProtoVersion {
			return fmt.Errorf("locktx: peer protocol version %d below minimum %d", inv.PeerProtoVersion, MinSupportedProtoVersion)
		}
		if err := m.store.SetBool(m.txID, sub, params.IsSender, inv.IsSender); err != nil {
			return err
		}
		if err := m.store.SetUint64(m.txID, sub, params.Amount, inv.Amount); err != nil {
			return err
		}
		if err := m.store.SetUint64(m.txID, sub, params.Fee, inv.Fee); err != nil {
			return err
		}
		if err := m.store.SetUint64(m.txID, sub, params.MinHeight, inv.MinHeight); err != nil {
			return err
		}
		if err := m.store.SetUint64(m.txID, sub, params.AtomicSwapAmount, inv.AtomicSwapAmount); err != nil {
			return err
		}
		if err := m.store.SetUint32(m.txID, sub, params.AtomicSwapCoin, inv.AtomicSwapCoin); err != nil {
			return err
		}
		if err := m.store.SetUint32(m.txID, sub, params.PeerProtoVersion, inv.PeerProtoVersion); err != nil {
			return err
		}
		if _, ok, err := m.store.GetTxStatus(m.txID, sub); err != nil {
			return err
		} else if !ok {
			if err := m.store.SetTxStatus(m.txID, sub, params.TxStatusPending); err != nil {
				return err
			}
		}
		base := m.newBase(sub)
		if err := base.SetPeerPublicExcessAndNonce(inv.PeerPublicExcess, inv.PeerPublicNonce); err != nil {
			return err
		}

	case KindBulletProofPart2:
		p2 := msg.Part2
		if p2 == nil {
			return errors.New("locktx: part2 message missing payload")
		}
		if p2.ProtoVersion != 0 && p2.ProtoVersion < MinSupportedProtoVersion {
			return fmt.Errorf("locktx: peer protocol version %d below minimum %d", p2.ProtoVersion, MinSupportedProtoVersion)
		}
		base := m.newBase(sub)
		if err := base.GetInitialTxParams(); err != nil {
			return err
		}
		// The kernel shell is never persisted before FinalizeSignature (see
		// step 3 in Update), so a freshly reconstructed builder needs it
		// recreated here too before it can validate the peer's signature.
		base.CreateKernel(txbuilder.KernelPlain, nil)
		if p2.Offset != nil {
			if err := m.store.SetScalar(m.txID, sub, params.PeerOffset, p2.Offset); err != nil {
				return err
			}
		}
		isSender, _, err := m.store.GetBool(m.txID, sub, params.IsSender)
		if err != nil {
			return err
		}
		lb := NewLockTxBuilder(base, m.kdf, isSender)
		if err := lb.LoadInitial(); err != nil {
			return err
		}
		if isSender {
			// Sender receives the responder's identity and Part2 contribution,
			// which must land before the signature check below: the peer's
			// excess and nonce are what the signature is validated against,
			// and this is the first message that carries them.
			if p2.PublicExcess != nil && p2.PublicNonce != nil && p2.PublicSharedBlinding != nil {
				if err := base.SetPeerPublicExcessAndNonce(*p2.PublicExcess, *p2.PublicNonce); err != nil {
					return err
				}
				if err := lb.SetPeerPublicSharedBlinding(*p2.PublicSharedBlinding); err != nil {
					return err
				}
			}
			if p2.SharedBulletProofPart2 != nil {
				if err := lb.SetPeerPart2(p2.SharedBulletProofPart2); err != nil {
					return err
				}
			}
		} else if p2.MSig != nil {
			if err := lb.SetPeerMSig(p2.MSig); err != nil {
				return err
			}
		}
		if p2.Signature != nil {
			if err := base.SetPeerSignature(p2.Signature); err != nil {
				return m.OnFailed(sub, FailureInvalidPeerSignature, false)
			}
		}

	case KindBulletProofPart3:
		p3 := msg.Part3
		if p3 == nil {
			return errors.New("locktx: part3 message missing payload")
		}
		base := m.newBase(sub)
		if err := base.GetInitialTxParams(); err != nil {
			return err
		}
		isSender, _, err := m.store.GetBool(m.txID, sub, params.IsSender)
		if err != nil {
			return err
		}
		lb := NewLockTxBuilder(base, m.kdf, isSender)
		if err := lb.LoadInitial(); err != nil {
			return err
		}
		if err := lb.SetPeerPart3(p3.SharedBulletProofPart3); err != nil {
			return err
		}

	case KindFailureNotice:
		return m.OnFailed(sub, msg.FailureReason, false)

	default:
		return fmt.Errorf("locktx: unknown message kind %d", msg.Kind)
	}

	return m.Update()
}

func (m *Machine) newBase(sub params.SubTxID) *txbuilder.BaseTxBuilder {
	amount, _, _ := m.store.GetUint64(m.txID, sub, params.Amount)
	fee, _, _ := m.store.GetUint64(m.txID, sub, params.Fee)
	minHeight, _, _ := m.store.GetUint64(m.txID, sub, params.MinHeight)
	return txbuilder.NewBaseTxBuilder(m.store, m.log, m.txID, sub, amount, fee, minHeight)
}

// Update implements spec.md §4.1's driving loop: rebuild the builder from
// the store, advance as far as the currently available peer data allows,
// and stop as soon as it is waiting on either the peer or the chain. It is
// always safe to call again; every side effect it performs is gated on the
// persisted state so a crash mid-step resumes exactly where it left off.
func (m *Machine) Update() error {
	sub := params.LockTx

	isSender, ok, err := m.store.GetBool(m.txID, sub, params.IsSender)
	if err != nil {
		return err
	}
	if !ok {
		// Neither Start nor an Invitation has registered this transaction yet.
		return nil
	}

	state, err := m.GetState(sub)
	if err != nil {
		return err
	}
	if state.IsTerminal() {
		return nil
	}

	base := m.newBase(sub)
	if err := base.GetInitialTxParams(); err != nil {
		return err
	}
	lb := NewLockTxBuilder(base, m.kdf, isSender)
	if err := lb.LoadInitial(); err != nil {
		return err
	}

	if m.chain.CurrentHeight() > base.MinHeight+m.cfg.TTLBlocks {
		return m.OnFailed(sub, FailureTransactionExpired, true)
	}

	// Steps 1-2: coin selection and change are the sender's responsibility
	// and run once, before the Invitation is sent.
	if state == params.StateInitial {
		if isSender {
			if err := base.SelectInputs(m.wallet); err != nil {
				return err
			}
			if err := base.AddChangeOutput(m.wallet); err != nil {
				return err
			}
		}
		if !base.FinalizeOutputs(m.cfg.MaxInputsOutputs) {
			return m.OnFailed(sub, FailureSizeOverflow, true)
		}
		if err := m.store.SetTxStatus(m.txID, sub, params.TxStatusInProgress); err != nil {
			return err
		}
	}

	// Step 3: the kernel shell exists from the first tick on, signed later.
	base.CreateKernel(txbuilder.KernelPlain, nil)

	// Step 4: the sender emits the Invitation once it has its own
	// excess/nonce to offer; the responder can go no further until it
	// receives one.
	if !base.HasPeerPublicExcessAndNonce() {
		if !isSender {
			return nil
		}
		if state != params.StateInitial {
			return nil
		}
		amount, _, _ := m.store.GetUint64(m.txID, sub, params.Amount)
		fee, _, _ := m.store.GetUint64(m.txID, sub, params.Fee)
		atomicSwapAmount, _, _ := m.store.GetUint64(m.txID, sub, params.AtomicSwapAmount)
		atomicSwapCoin, _, _ := m.store.GetUint32(m.txID, sub, params.AtomicSwapCoin)
		inv := &Invitation{
			SubTxIndex:       sub,
			Amount:           amount,
			Fee:              fee,
			AtomicSwapAmount: atomicSwapAmount,
			AtomicSwapCoin:   atomicSwapCoin,
			IsSender:         false,
			MinHeight:        base.MinHeight,
			PeerProtoVersion: ProtocolVersion,
			PeerPublicExcess: base.GetPublicExcess(),
			PeerPublicNonce:  base.GetPublicNonce(),
		}
		if !m.gateway.Send(Message{TxID: m.txID, SubTxIndex: sub, Kind: KindInvitation, Invitation: inv}) {
			return m.OnFailed(sub, FailureFailedToSendParameters, false)
		}
		return m.store.SetState(m.txID, sub, params.StateInvitation)
	}

	// Step 5: derive the shared output's coin, blinding and seed now that
	// both sides' identities are known.
	if err := lb.LoadSharedParameters(); err != nil {
		return err
	}

	// Step 6: sign this party's partial kernel signature. Deterministic, so
	// recomputing it on every tick is free and never diverges.
	localSig, err := base.SignPartial()
	if err != nil {
		return err
	}

	// Step 7: bidirectional Part2 exchange.
	if state == params.StateInitial || state == params.StateInvitation {
		msig, contribution, err := lb.SharedUTXOProofPart2(isSender)
		if errors.Is(err, ErrMissingSharedParameter) || errors.Is(err, txbuilder.ErrMissingPeerParams) {
			return nil
		}
		if err != nil {
			return err
		}

		p2 := &BulletProofPart2{SubTxIndex: sub, Signature: localSig, Offset: base.Offset}
		if isSender {
			p2.MSig = msig
		} else {
			publicExcess := base.GetPublicExcess()
			publicNonce := base.GetPublicNonce()
			publicSharedBlinding := ecc.GeneratorG().ScalarMult(lb.SharedBlindingFactor)
			p2.ProtoVersion = ProtocolVersion
			p2.PublicExcess = &publicExcess
			p2.PublicNonce = &publicNonce
			p2.PublicSharedBlinding = &publicSharedBlinding
			p2.SharedBulletProofPart2 = contribution
		}
		if !m.gateway.Send(Message{TxID: m.txID, SubTxIndex: sub, Kind: KindBulletProofPart2, Part2: p2}) {
			return m.OnFailed(sub, FailureFailedToSendParameters, false)
		}
		return m.store.SetState(m.txID, sub, params.StateSharedUTXOProofPart2)
	}

	// Step 8: the peer's aggregate offset contribution is already folded in
	// via GetInitialTxParams/LoadSharedParameters; nothing further to do.

	// Step 9: Part3. The two roles diverge here: the responder only ever
	// sends its contribution and waits; the sender must additionally
	// validate the peer's kernel signature and assemble and validate the
	// final transaction before it can consider this sub-transaction done.
	if state == params.StateSharedUTXOProofPart2 {
		contribution, err := lb.SharedUTXOProofPart3(isSender)
		if errors.Is(err, ErrMissingSharedParameter) {
			return nil
		}
		if err != nil {
			return err
		}

		if !isSender {
			p3 := &BulletProofPart3{SubTxIndex: sub, SharedBulletProofPart3: contribution}
			if !m.gateway.Send(Message{TxID: m.txID, SubTxIndex: sub, Kind: KindBulletProofPart3, Part3: p3}) {
				return m.OnFailed(sub, FailureFailedToSendParameters, false)
			}
			return m.store.SetState(m.txID, sub, params.StateSharedUTXOProofPart3)
		}

		if !base.HasPeerSignature() {
			return nil
		}
		if !base.IsPeerSignatureValid(base.PeerSignature()) {
			// Silent on the wire: a resend from the peer may still recover
			// before expiry, so this does not notify.
			return m.OnFailed(sub, FailureInvalidPeerSignature, false)
		}
		if err := base.FinalizeSignature(); err != nil {
			return err
		}
		if err := lb.AddSharedOutput(); err != nil {
			return err
		}
		tx, err := base.CreateTransaction()
		if err != nil {
			return err
		}
		if err := tx.Validate(); err != nil {
			return m.OnFailed(sub, FailureInvalidTransaction, true)
		}
		return m.store.SetState(m.txID, sub, params.StateSharedUTXOProofPart3)
	}

	// Step 10: both roles have nothing local left to do once Part3 has
	// completed; advance straight into the kernel-confirmation wait.
	if state == params.StateSharedUTXOProofPart3 {
		return m.store.SetState(m.txID, sub, params.StateKernelConfirmation)
	}

	// Step 11: poll the chain for the kernel this sub-transaction produced.
	if state == params.StateKernelConfirmation {
		aggExcess := base.AggregatePublicExcess().SerializeCompressed()
		confirmed, err := m.chain.IsKernelConfirmed(aggExcess)
		if err != nil {
			return err
		}
		if confirmed {
			if err := m.store.SetState(m.txID, sub, params.StateCompleted); err != nil {
				return err
			}
			return m.store.SetTxStatus(m.txID, sub, params.TxStatusCompleted)
		}
		return nil
	}

	return nil
}
