// Package locktx implements the LockTx state machine (spec.md §4.1/§4.2):
// the AtomicSwapTransaction driver and the LockTxBuilder it rebuilds from
// the parameter store on every Update call.
package locktx

import (
	"github.com/klingon-exchange/locktx-core/internal/ecc"
	"github.com/klingon-exchange/locktx-core/internal/params"
	"github.com/klingon-exchange/locktx-core/internal/rangeproof"
)

// ProtocolVersion is this core's PeerProtoVersion. Invitation and Part2
// messages carry it so a peer running an incompatible version can be
// rejected at ingestion instead of failing deep inside the crypto path.
const ProtocolVersion = 1

// MinSupportedProtoVersion is the oldest PeerProtoVersion this core will
// still process a message from (spec.md §3's expansion note on
// PeerProtoVersion gating).
const MinSupportedProtoVersion = 1

// Invitation is the initiator's opening message (spec.md §6): state
// Initial → Invitation on the sending side.
type Invitation struct {
	SubTxIndex       params.SubTxID
	Amount           uint64
	Fee              uint64
	AtomicSwapAmount uint64
	AtomicSwapCoin   uint32
	// IsSender is the role the *recipient* should persist for itself: the
	// invitation always advertises the opposite of the sender's own role.
	IsSender         bool
	MinHeight        uint64
	PeerProtoVersion uint32
	PeerPublicExcess ecc.Point
	PeerPublicNonce  ecc.Point
}

// BulletProofPart2 is the bidirectional phase-2 message (spec.md §6).
// Fields present depend on role: the sender (multisig producer) fills
// MSig; the responder fills the peer-identity and Part2 fields. Both
// roles always fill Signature and Offset.
type BulletProofPart2 struct {
	SubTxIndex params.SubTxID
	Signature  *ecc.Scalar
	Offset     *ecc.Scalar

	// Sender-only.
	MSig *rangeproof.MultiSig

	// Responder-only.
	ProtoVersion           uint32
	PublicExcess           *ecc.Point
	PublicNonce            *ecc.Point
	PublicSharedBlinding   *ecc.Point
	SharedBulletProofPart2 []byte
}

// BulletProofPart3 is the responder→sender phase-3 message (spec.md §6).
type BulletProofPart3 struct {
	SubTxIndex             params.SubTxID
	SharedBulletProofPart3 []byte
}

// MessageKind tags which of the three LockTx messages a Message carries.
type MessageKind int

const (
	KindInvitation MessageKind = iota
	KindBulletProofPart2
	KindBulletProofPart3
	// KindFailureNotice is the best-effort "I'm aborting" notice spec.md
	// §4.4's on_failed(reason, notify_peer=true) sends; the peer is free to
	// ignore it since local expiry will reach the same conclusion anyway.
	KindFailureNotice
)

// Message is the opaque parameter bundle spec.md §4.4/§6 describes:
// everything needed to route and decode it, treated as opaque payload by
// the Gateway itself.
type Message struct {
	TxID       params.TxID
	SubTxIndex params.SubTxID
	Kind       MessageKind

	Invitation *Invitation
	Part2      *BulletProofPart2
	Part3      *BulletProofPart3

	// FailureReason is set only on KindFailureNotice.
	FailureReason FailureReason
}

// Gateway is the narrow transport contract spec.md §4.4 requires: send an
// opaque bundle to the single counterparty this transaction talks to,
// reporting whether it was accepted for delivery. At-least-once delivery
// and idempotent receipt are the transport's responsibility; Machine only
// needs a boolean.
type Gateway interface {
	Send(msg Message) bool
}
