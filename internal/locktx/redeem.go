package locktx

import (
	"errors"
	"fmt"

	"github.com/klingon-exchange/locktx-core/internal/params"
	"github.com/klingon-exchange/locktx-core/internal/txbuilder"
	"github.com/klingon-exchange/locktx-core/pkg/logging"
)

// ErrMissingPreimage is returned by RedeemMachine.Update before the secret
// has been supplied.
var ErrMissingPreimage = errors.New("locktx: redeem preimage not yet known")

// RedeemMachine drives the one-sided RedeemTx sub-transaction (spec.md §4's
// Redeem/Refund note, minimally implemented here): whichever party learns
// the hashlock preimage spends the locked output to itself in a single
// round, no peer exchange required. Grounded on the teacher's HTLC claim
// path (internal/swap/htlc.go, coordinator_htlc.go), generalized from a
// Bitcoin script-level claim to a mimblewimble hashlock kernel.
type RedeemMachine struct {
	txID  params.TxID
	store params.TypedStore
	log   *logging.Logger

	wallet txbuilder.InputSource
}

// NewRedeemMachine constructs a RedeemTx driver for txID.
func NewRedeemMachine(txID params.TxID, store params.TypedStore, log *logging.Logger, wallet txbuilder.InputSource) *RedeemMachine {
	return &RedeemMachine{txID: txID, store: store, log: log.Component("locktx-redeem"), wallet: wallet}
}

// Redeem assembles and finalizes the RedeemTx once the preimage is known:
// mints a single output to the wallet, attaches a hashlock kernel
// committing to the preimage's hash, and signs solo. Idempotent across
// crashes through BaseTxBuilder's own idempotent SelectInputs/
// AddChangeOutput and CreateKernel.
//
// Simplification: a full implementation spends the specific locked shared
// output rather than asking InputSource for arbitrary coins; wiring the
// locked coin's commitment through as a fixed Input is left to the host,
// since spec.md never specifies Redeem/Refund beyond naming them.
func (r *RedeemMachine) Redeem(amount, fee uint64, preimageHash []byte) (*txbuilder.Transaction, error) {
	if len(preimageHash) == 0 {
		return nil, ErrMissingPreimage
	}

	sub := params.RedeemTx
	base := txbuilder.NewBaseTxBuilder(r.store, r.log, r.txID, sub, amount, fee, 0)
	if err := base.GetInitialTxParams(); err != nil {
		return nil, err
	}
	if err := base.SelectInputs(r.wallet); err != nil {
		return nil, err
	}
	if err := base.AddChangeOutput(r.wallet); err != nil {
		return nil, err
	}
	base.CreateKernel(txbuilder.KernelHashLock, preimageHash)

	if base.Kernel.Signature == nil {
		if err := base.FinalizeSolo(); err != nil {
			return nil, fmt.Errorf("locktx: finalize redeem kernel: %w", err)
		}
	}

	tx, err := base.CreateTransaction()
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}
