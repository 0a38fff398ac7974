package locktx

import (
	"fmt"

	"github.com/klingon-exchange/locktx-core/internal/params"
	"github.com/klingon-exchange/locktx-core/internal/txbuilder"
	"github.com/klingon-exchange/locktx-core/pkg/logging"
)

// RefundMachine drives the one-sided RefundTx sub-transaction: once
// MinHeight+TTL has passed without a redeem, the original locker reclaims
// the output with a timelock kernel instead of a hashlock one. Grounded on
// the same HTLC refund path as RedeemMachine, generalized to mimblewimble's
// MinHeight kernel field rather than a script-level CSV clause.
type RefundMachine struct {
	txID  params.TxID
	store params.TypedStore
	log   *logging.Logger

	wallet txbuilder.InputSource
}

// NewRefundMachine constructs a RefundTx driver for txID.
func NewRefundMachine(txID params.TxID, store params.TypedStore, log *logging.Logger, wallet txbuilder.InputSource) *RefundMachine {
	return &RefundMachine{txID: txID, store: store, log: log.Component("locktx-refund"), wallet: wallet}
}

// Refund assembles and finalizes the RefundTx once the lock's expiry
// height has passed. Same simplification as RedeemMachine.Redeem: spends
// wallet-selected coins rather than the specific expired locked output.
func (r *RefundMachine) Refund(amount, fee, expiryHeight uint64) (*txbuilder.Transaction, error) {
	sub := params.RefundTx
	base := txbuilder.NewBaseTxBuilder(r.store, r.log, r.txID, sub, amount, fee, expiryHeight)
	if err := base.GetInitialTxParams(); err != nil {
		return nil, err
	}
	if err := base.SelectInputs(r.wallet); err != nil {
		return nil, err
	}
	if err := base.AddChangeOutput(r.wallet); err != nil {
		return nil, err
	}
	base.CreateKernel(txbuilder.KernelTimeLock, nil)

	if base.Kernel.Signature == nil {
		if err := base.FinalizeSolo(); err != nil {
			return nil, fmt.Errorf("locktx: finalize refund kernel: %w", err)
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
