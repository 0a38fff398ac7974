package txbuilder

import "errors"

// ErrInvalidTransaction is returned by Validate when the assembled
// transaction fails the chain's own consistency rules (spec.md §7's
// InvalidTransaction failure, checked at tx.IsValid(ctx)).
var ErrInvalidTransaction = errors.New("txbuilder: assembled transaction failed validation")

// Validate runs the minimal chain-context checks spec.md §4.1 calls
// IsValid(ctx): the kernel's aggregate signature must verify under its own
// aggregate excess, there must be at least one output, and every output
// must carry a non-empty range proof. A real chain node would also replay
// full Bulletproof verification here; that lives behind the rangeproof
// oracle boundary documented in SPEC_FULL.md §6.1.
func (t *Transaction) Validate() error {
	if len(t.Outputs) == 0 {
		return errors.New("txbuilder: transaction has no outputs")
	}
	for _, o := range t.Outputs {
		if len(o.Proof) == 0 {
			return errors.New("txbuilder: output missing range proof")
		}
	}
	if t.Kernel.Signature == nil {
		return ErrKernelNotSigned
	}
	e := challenge(t.Kernel.Nonce, t.Kernel.Excess, t.Kernel.message())
	if !verifyPartial(t.Kernel.Signature, t.Kernel.Nonce, t.Kernel.Excess, e) {
		return ErrInvalidTransaction
	}
	return nil
}
