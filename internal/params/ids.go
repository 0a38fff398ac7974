// Package params implements the parameter store contract of spec.md §3: a
// persistent mapping from (TxID, SubTxID, ParamID) to a typed value, the
// sole source of truth the LockTx state machine rebuilds itself from on
// every Update.
package params

import "github.com/google/uuid"

// TxID is the opaque 16-byte transaction identifier shared between peers.
// uuid.UUID is already a [16]byte array, the exact shape spec.md names.
type TxID = uuid.UUID

// NewTxID generates a fresh transaction identifier.
func NewTxID() TxID { return uuid.New() }

// SubTxID tags a sub-transaction within an atomic swap.
type SubTxID int32

const (
	LockTx SubTxID = iota
	RedeemTx
	RefundTx
)

func (s SubTxID) String() string {
	switch s {
	case LockTx:
		return "lock_tx"
	case RedeemTx:
		return "redeem_tx"
	case RefundTx:
		return "refund_tx"
	default:
		return "unknown_sub_tx"
	}
}

// ParamID enumerates the typed values the core persists and exchanges.
// This is the exact list spec.md §3 requires, plus TxStatus (spec.md §4.1
// step 2: "Mark status InProgress", a value distinct from the per-sub-tx
// State machine state).
type ParamID int32

const (
	IsSender ParamID = iota
	Amount
	Fee
	AtomicSwapAmount
	AtomicSwapCoin
	MinHeight
	State
	TxStatus
	SubTxIndex
	PeerProtoVersion
	PeerPublicExcess
	PeerPublicNonce
	PeerSignature
	PeerOffset
	PeerPublicSharedBlindingFactor
	PeerSharedBulletProofPart2
	PeerSharedBulletProofPart3
	PeerSharedBulletProofMSig
	SharedBlindingFactor
	SharedSeed
	SharedCoinID
	SharedBulletProof

	// Beyond spec.md's minimum list: the BaseTxBuilder's own working state,
	// so it is fully reconstructible from the store per spec.md §3's
	// ownership rule ("the builder owns transient in-memory copies tied to
	// one update call... must be reconstructible from the store alone").
	InputCoinIDs
	OutputCoinIDs
	ChangeAmount
	BlindingExcess
	Offset
	KernelData
)

// LockState is the per-sub-transaction state machine position spec.md §3
// defines: Initial → Invitation → SharedUTXOProofPart2 →
// SharedUTXOProofPart3 → KernelConfirmation → Completed/Failed.
type LockState int32

const (
	StateInitial LockState = iota
	StateInvitation
	StateSharedUTXOProofPart2
	StateSharedUTXOProofPart3
	StateKernelConfirmation
	StateCompleted
	StateFailed
)

func (s LockState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateInvitation:
		return "invitation"
	case StateSharedUTXOProofPart2:
		return "shared_utxo_proof_part2"
	case StateSharedUTXOProofPart3:
		return "shared_utxo_proof_part3"
	case StateKernelConfirmation:
		return "kernel_confirmation"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown_state"
	}
}

// IsTerminal reports whether s is Completed or Failed.
func (s LockState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// TxStatusValue mirrors beam::wallet::TxStatus for the coarse lifecycle of
// the whole transaction (as opposed to the per-sub-tx LockState).
type TxStatusValue int32

const (
	TxStatusPending TxStatusValue = iota
	TxStatusInProgress
	TxStatusCompleted
	TxStatusFailed
	TxStatusCancelled
)
