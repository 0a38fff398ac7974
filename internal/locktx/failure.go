package locktx

import "github.com/klingon-exchange/locktx-core/internal/params"

// FailureReason enumerates the terminal and non-terminal failure kinds
// spec.md §7 names. Modeled as a type rather than a plain error because
// the driving loop needs to decide both whether to persist Failed and
// whether to notify the peer, which a bare `error` can't carry.
type FailureReason int

const (
	FailureNone FailureReason = iota
	// FailureFailedToSendParameters is non-terminal: the transport refused
	// delivery; the caller retries on the next tick.
	FailureFailedToSendParameters
	// FailureTransactionExpired: current height passed MinHeight+TTL.
	FailureTransactionExpired
	// FailureInvalidPeerSignature: the peer's Schnorr partial signature
	// did not verify. Non-terminal: the local side does not transition
	// state on a single rejected signature, and notifyPeer is always
	// false here, since spec.md §7's propagation policy keeps
	// cryptographic rejections silent on the wire. A resend may still
	// recover; only expiry eventually ends a sub-transaction stuck on
	// repeated bad signatures.
	FailureInvalidPeerSignature
	// FailureSizeOverflow: the finalized transaction exceeds the chain's
	// kernel size limit.
	FailureSizeOverflow
	// FailureInvalidTransaction: tx.Validate() rejected the assembled
	// transaction.
	FailureInvalidTransaction
)

func (r FailureReason) String() string {
	switch r {
	case FailureNone:
		return "none"
	case FailureFailedToSendParameters:
		return "failed_to_send_parameters"
	case FailureTransactionExpired:
		return "transaction_expired"
	case FailureInvalidPeerSignature:
		return "invalid_peer_signature"
	case FailureSizeOverflow:
		return "size_overflow"
	case FailureInvalidTransaction:
		return "invalid_transaction"
	default:
		return "unknown_failure"
	}
}

// isTerminal reports whether a failure reason moves the sub-transaction to
// the terminal Failed state (as opposed to a retriable condition the next
// tick may resolve on its own). FailureInvalidPeerSignature is deliberately
// non-terminal: spec.md's InvalidPeerSignature note says the local side
// does not transition on a single rejected signature, since a resend may
// still recover before expiry. Only expiry, an oversized finalized
// transaction, or a failed Validate() are genuinely terminal.
func (r FailureReason) isTerminal() bool {
	switch r {
	case FailureTransactionExpired, FailureSizeOverflow, FailureInvalidTransaction:
		return true
	default:
		return false
	}
}

// OnFailed implements spec.md §4.4's on_failed(reason, notify_peer):
// persists Failed for terminal reasons, logs always, and best-effort
// notifies the peer when asked (a send failure here is not itself
// escalated — there is no one left to retry to).
func (m *Machine) OnFailed(sub params.SubTxID, reason FailureReason, notifyPeer bool) error {
	m.log.Warn("sub-transaction failed", "tx_id", m.txID, "sub_tx", sub, "reason", reason.String())

	if reason.isTerminal() {
		if err := m.store.SetState(m.txID, sub, params.StateFailed); err != nil {
			return err
		}
		if err := m.store.SetTxStatus(m.txID, sub, params.TxStatusFailed); err != nil {
			return err
		}
	}

	if notifyPeer {
		m.gateway.Send(Message{TxID: m.txID, SubTxIndex: sub, Kind: KindFailureNotice, FailureReason: reason})
	}
	return nil
}
