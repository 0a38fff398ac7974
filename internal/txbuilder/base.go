package txbuilder

import (
	"fmt"

	"github.com/klingon-exchange/locktx-core/internal/ecc"
	"github.com/klingon-exchange/locktx-core/internal/params"
	"github.com/klingon-exchange/locktx-core/pkg/logging"
	"golang.org/x/crypto/blake2b"
)

// BaseTxBuilder carries the inputs, outputs, kernel and partial-signature
// state common to every sub-transaction (LockTx, RedeemTx, RefundTx),
// mirroring the original source's BaseTxBuilder: a generic confidential-tx
// assembler that concrete builders embed and specialize. Every field that
// survives a crash is also mirrored into the parameter store by the method
// that computed it — the struct itself is a cache, never the source of
// truth (spec.md §3).
type BaseTxBuilder struct {
	store params.TypedStore
	log   *logging.Logger

	TxID params.TxID
	Sub  params.SubTxID

	Amount    uint64
	Fee       uint64
	MinHeight uint64
	MaxHeight uint64

	Inputs  []Input
	Outputs []Output
	Change  uint64

	BlindingExcess *ecc.Scalar
	Offset         *ecc.Scalar

	Kernel *Kernel

	peerPublicExcess ecc.Point
	havePeerExcess   bool
	peerPublicNonce  ecc.Point
	havePeerNonce    bool
	peerSignature    *ecc.Scalar
	peerOffset       *ecc.Scalar
}

// NewBaseTxBuilder constructs a builder for a fresh or resuming
// sub-transaction. Callers must follow it with GetInitialTxParams to pick
// up any state a previous Update call already persisted.
func NewBaseTxBuilder(store params.TypedStore, log *logging.Logger, txID params.TxID, sub params.SubTxID, amount, fee, minHeight uint64) *BaseTxBuilder {
	return &BaseTxBuilder{
		store:     store,
		log:       log.Component("txbuilder"),
		TxID:      txID,
		Sub:       sub,
		Amount:    amount,
		Fee:       fee,
		MinHeight: minHeight,
		MaxHeight: minHeight, // grows only if a future height-window feature needs it
	}
}

// GetInitialTxParams reloads everything a prior call already computed and
// persisted, the equivalent of BaseTxBuilder::GetInitialTxParams. It never
// errors on missing values — absence just means this step has not run yet.
func (b *BaseTxBuilder) GetInitialTxParams() error {
	if excess, ok, err := b.store.GetScalar(b.TxID, b.Sub, params.BlindingExcess); err != nil {
		return fmt.Errorf("txbuilder: load blinding excess: %w", err)
	} else if ok {
		b.BlindingExcess = excess
	}
	if offset, ok, err := b.store.GetScalar(b.TxID, b.Sub, params.Offset); err != nil {
		return fmt.Errorf("txbuilder: load offset: %w", err)
	} else if ok {
		b.Offset = offset
	}
	if change, ok, err := b.store.GetUint64(b.TxID, b.Sub, params.ChangeAmount); err != nil {
		return fmt.Errorf("txbuilder: load change: %w", err)
	} else if ok {
		b.Change = change
	}
	if raw, ok, err := b.store.GetBytes(b.TxID, b.Sub, params.InputCoinIDs); err != nil {
		return fmt.Errorf("txbuilder: load inputs: %w", err)
	} else if ok {
		ins, err := decodeInputs(raw)
		if err != nil {
			return err
		}
		b.Inputs = ins
	}
	if raw, ok, err := b.store.GetBytes(b.TxID, b.Sub, params.OutputCoinIDs); err != nil {
		return fmt.Errorf("txbuilder: load outputs: %w", err)
	} else if ok {
		outs, err := decodeOutputs(raw)
		if err != nil {
			return err
		}
		b.Outputs = outs
	}
	if raw, ok, err := b.store.GetBytes(b.TxID, b.Sub, params.KernelData); err != nil {
		return fmt.Errorf("txbuilder: load kernel: %w", err)
	} else if ok {
		k, err := decodeKernel(raw)
		if err != nil {
			return err
		}
		b.Kernel = k
	}
	if p, ok, err := b.store.GetPoint(b.TxID, b.Sub, params.PeerPublicExcess); err != nil {
		return fmt.Errorf("txbuilder: load peer excess: %w", err)
	} else if ok {
		b.peerPublicExcess, b.havePeerExcess = p, true
	}
	if p, ok, err := b.store.GetPoint(b.TxID, b.Sub, params.PeerPublicNonce); err != nil {
		return fmt.Errorf("txbuilder: load peer nonce: %w", err)
	} else if ok {
		b.peerPublicNonce, b.havePeerNonce = p, true
	}
	if s, ok, err := b.store.GetScalar(b.TxID, b.Sub, params.PeerSignature); err != nil {
		return fmt.Errorf("txbuilder: load peer signature: %w", err)
	} else if ok {
		b.peerSignature = s
	}
	if s, ok, err := b.store.GetScalar(b.TxID, b.Sub, params.PeerOffset); err != nil {
		return fmt.Errorf("txbuilder: load peer offset: %w", err)
	} else if ok {
		b.peerOffset = s
	}
	return nil
}

func (b *BaseTxBuilder) saveExcess() error {
	return b.store.SetScalar(b.TxID, b.Sub, params.BlindingExcess, b.BlindingExcess)
}

func (b *BaseTxBuilder) saveInputs() error {
	return b.store.SetBytes(b.TxID, b.Sub, params.InputCoinIDs, encodeInputs(b.Inputs))
}

func (b *BaseTxBuilder) saveOutputs() error {
	return b.store.SetBytes(b.TxID, b.Sub, params.OutputCoinIDs, encodeOutputs(b.Outputs))
}

// Store exposes the underlying parameter store so a wrapping builder (the
// LockTx builder) can persist its own additional parameters without
// reaching into BaseTxBuilder's unexported fields.
func (b *BaseTxBuilder) Store() params.TypedStore {
	return b.store
}

// SetOffset replaces the builder's blinding offset and persists it. Used
// by the LockTx builder to fold the shared output's blinding factor out of
// the offset (spec.md §4.2: "add -SharedBlindingFactor to the builder's
// aggregate offset").
func (b *BaseTxBuilder) SetOffset(o *ecc.Scalar) error {
	b.Offset = o
	return b.store.SetScalar(b.TxID, b.Sub, params.Offset, o)
}

// AddOutput appends a fully-formed output (used by the LockTx builder for
// the one shared output, which is assembled outside CreateOutput's
// single-party proof path) and persists the resulting output list.
func (b *BaseTxBuilder) AddOutput(out Output) error {
	b.Outputs = append(b.Outputs, out)
	return b.saveOutputs()
}

func (b *BaseTxBuilder) saveKernel() error {
	return b.store.SetBytes(b.TxID, b.Sub, params.KernelData, encodeKernel(b.Kernel))
}

// addExcess folds a blinding factor into the running excess, treating a nil
// BlindingExcess (first call) as zero.
func (b *BaseTxBuilder) addExcess(delta *ecc.Scalar) {
	if b.BlindingExcess == nil {
		cp := *delta
		b.BlindingExcess = &cp
		return
	}
	b.BlindingExcess = ecc.AddScalars(b.BlindingExcess, delta)
}

// SelectInputs asks src for coins covering Amount+Fee, committing to them
// as Inputs and folding their blinding factors out of the running excess
// (an input's blinding is owed back, so it subtracts). Idempotent: if
// Inputs are already loaded from a prior crash, it does nothing.
func (b *BaseTxBuilder) SelectInputs(src InputSource) error {
	if len(b.Inputs) > 0 {
		return nil
	}
	coins, err := src.SelectCoins(b.Amount + b.Fee)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}

	var total uint64
	for _, c := range coins {
		b.Inputs = append(b.Inputs, Input{Commitment: ecc.Commit(c.Value, c.Blinding)})
		b.addExcess(ecc.NegateScalar(c.Blinding))
		total += c.Value
	}
	b.Change = total - (b.Amount + b.Fee)

	if err := b.saveInputs(); err != nil {
		return err
	}
	if err := b.saveExcess(); err != nil {
		return err
	}
	return b.store.SetUint64(b.TxID, b.Sub, params.ChangeAmount, b.Change)
}

// CreateOutput commits to amount under blinding, attaching a minimal
// single-party range-proof placeholder from localProof; only the one shared
// output gets the full multi-party proof. It does not persist — the caller
// (AddChangeOutput) appends the result and calls saveOutputs/saveExcess
// itself.
func (b *BaseTxBuilder) CreateOutput(amount uint64, blinding *ecc.Scalar) Output {
	commitment := ecc.Commit(amount, blinding)
	proof := localProof(amount, blinding)
	return Output{Commitment: commitment, Proof: proof}
}

// AddChangeOutput mints a change coin for b.Change (a no-op if there is no
// change) and folds its blinding into the excess. Idempotent across
// restarts: once Outputs already reflects a change output, it does nothing.
func (b *BaseTxBuilder) AddChangeOutput(src InputSource) error {
	if b.Change == 0 || len(b.Outputs) > 0 {
		return nil
	}
	coin, err := src.NewChangeCoin(b.Change)
	if err != nil {
		return fmt.Errorf("txbuilder: mint change coin: %w", err)
	}
	out := b.CreateOutput(b.Change, coin.Blinding)
	b.Outputs = append(b.Outputs, out)
	b.addExcess(coin.Blinding)

	if err := b.saveOutputs(); err != nil {
		return err
	}
	return b.saveExcess()
}

// FinalizeOutputs applies the transaction size ceiling spec.md §9 resolves
// a SizeOverflow failure for: too many inputs/outputs and the transaction
// is rejected outright rather than silently trimmed.
func (b *BaseTxBuilder) FinalizeOutputs(maxInputsOutputs int) bool {
	return len(b.Inputs)+len(b.Outputs) <= maxInputsOutputs
}

// CreateKernel builds the (as yet unsigned) kernel for this sub-transaction
// if one does not already exist.
func (b *BaseTxBuilder) CreateKernel(variant KernelVariant, hashLock []byte) {
	if b.Kernel != nil {
		return
	}
	b.Kernel = &Kernel{
		Fee:       b.Fee,
		MinHeight: b.MinHeight,
		MaxHeight: b.MaxHeight,
		Variant:   variant,
		HashLock:  hashLock,
	}
}

// GetPublicExcess returns this party's half of the kernel's public key:
// BlindingExcess·G.
func (b *BaseTxBuilder) GetPublicExcess() ecc.Point {
	return ecc.GeneratorG().ScalarMult(b.BlindingExcess)
}

// GetPublicNonce returns this party's half of the kernel's public nonce:
// k·G, where k is the deterministic per-sub-tx nonce.
func (b *BaseTxBuilder) GetPublicNonce() ecc.Point {
	return ecc.GeneratorG().ScalarMult(b.nonce())
}

func (b *BaseTxBuilder) nonce() *ecc.Scalar {
	return deriveNonce(b.BlindingExcess, b.TxID, b.Sub)
}

// SetPeerPublicExcessAndNonce records the peer's contribution to the
// aggregate kernel key, persisting both so a later Update call does not
// need the peer to resend them.
func (b *BaseTxBuilder) SetPeerPublicExcessAndNonce(excess, nonce ecc.Point) error {
	b.peerPublicExcess, b.havePeerExcess = excess, true
	b.peerPublicNonce, b.havePeerNonce = nonce, true
	if err := b.store.SetPoint(b.TxID, b.Sub, params.PeerPublicExcess, excess); err != nil {
		return err
	}
	return b.store.SetPoint(b.TxID, b.Sub, params.PeerPublicNonce, nonce)
}

// HasPeerPublicExcessAndNonce reports whether the peer's key-share and
// nonce have arrived yet.
func (b *BaseTxBuilder) HasPeerPublicExcessAndNonce() bool {
	return b.havePeerExcess && b.havePeerNonce
}

// aggregate returns the aggregate nonce and excess the kernel signature
// challenge is computed over.
func (b *BaseTxBuilder) aggregate() (aggNonce, aggExcess ecc.Point) {
	aggNonce = b.GetPublicNonce().Add(b.peerPublicNonce)
	aggExcess = b.GetPublicExcess().Add(b.peerPublicExcess)
	return
}

// AggregatePublicExcess returns this sub-transaction's full public excess
// (this party's share plus the peer's), the value a chain observer can use
// to recognize the eventual on-chain kernel before either side has even
// finalized a signature.
func (b *BaseTxBuilder) AggregatePublicExcess() ecc.Point {
	return b.GetPublicExcess().Add(b.peerPublicExcess)
}

// PeerSignature returns the peer's partial signature, if one has arrived.
func (b *BaseTxBuilder) PeerSignature() *ecc.Scalar { return b.peerSignature }

// HasPeerSignature reports whether the peer's partial signature has
// arrived.
func (b *BaseTxBuilder) HasPeerSignature() bool { return b.peerSignature != nil }

// SignPartial computes this party's partial Schnorr signature over the
// kernel message, requiring the peer's excess and nonce to already be
// known (the shared challenge binds both). Deterministic: calling it twice
// with the same persisted state yields the same partial signature, which
// is what lets a crashed-and-resumed builder rejoin the protocol without
// diverging from what it already sent the peer.
func (b *BaseTxBuilder) SignPartial() (*ecc.Scalar, error) {
	if b.Kernel == nil {
		return nil, fmt.Errorf("txbuilder: SignPartial called before CreateKernel")
	}
	if !b.HasPeerPublicExcessAndNonce() {
		return nil, ErrMissingPeerParams
	}
	aggNonce, aggExcess := b.aggregate()
	msg := b.Kernel.message()
	e := challenge(aggNonce, aggExcess, msg)

	k := b.nonce()
	s := ecc.AddScalars(k, mulScalar(e, b.BlindingExcess))
	return s, nil
}

// mulScalar returns a*b without depending on ModNScalar exposing a public
// multiply-by-value helper beyond the in-place one.
func mulScalar(a, b *ecc.Scalar) *ecc.Scalar {
	r := *a
	r.Mul(b)
	return &r
}

// SetPeerSignature records the peer's partial signature, validating it
// against the shared challenge before accepting it (spec.md §8: a forged
// or mismatched PeerSignature must be caught here, not at broadcast).
func (b *BaseTxBuilder) SetPeerSignature(sig *ecc.Scalar) error {
	if !b.IsPeerSignatureValid(sig) {
		return ErrInvalidPeerSignature
	}
	b.peerSignature = sig
	return b.store.SetScalar(b.TxID, b.Sub, params.PeerSignature, sig)
}

// IsPeerSignatureValid checks sig·G == peerNonce + e·peerExcess.
func (b *BaseTxBuilder) IsPeerSignatureValid(sig *ecc.Scalar) bool {
	if b.Kernel == nil || !b.HasPeerPublicExcessAndNonce() {
		return false
	}
	aggNonce, aggExcess := b.aggregate()
	e := challenge(aggNonce, aggExcess, b.Kernel.message())
	return verifyPartial(sig, b.peerPublicNonce, b.peerPublicExcess, e)
}

// FinalizeSignature combines the local and peer partial signatures into
// the kernel's final aggregate signature and persists the finalized
// kernel.
func (b *BaseTxBuilder) FinalizeSignature() error {
	if b.peerSignature == nil {
		return ErrMissingPeerParams
	}
	local, err := b.SignPartial()
	if err != nil {
		return err
	}
	aggNonce, aggExcess := b.aggregate()
	total := ecc.AddScalars(local, b.peerSignature)

	b.Kernel.Nonce = aggNonce
	b.Kernel.Excess = aggExcess
	b.Kernel.Signature = total
	return b.saveKernel()
}

// FinalizeSolo signs and finalizes the kernel single-handedly: no peer
// excess or nonce is aggregated in, because RedeemTx and RefundTx are one
// party spending a hashlock/timelock output they alone can unlock, not a
// two-party shared output (spec.md §4's note that Redeem/Refund "mirror
// LockTx with hashlock/timelock kernels" without requiring the full
// Invitation/Part2/Part3 exchange).
func (b *BaseTxBuilder) FinalizeSolo() error {
	if b.Kernel == nil {
		return fmt.Errorf("txbuilder: FinalizeSolo called before CreateKernel")
	}
	nonce := b.GetPublicNonce()
	excess := b.GetPublicExcess()
	e := challenge(nonce, excess, b.Kernel.message())
	s := ecc.AddScalars(b.nonce(), mulScalar(e, b.BlindingExcess))

	b.Kernel.Nonce = nonce
	b.Kernel.Excess = excess
	b.Kernel.Signature = s
	return b.saveKernel()
}

// CreateTransaction assembles the final Transaction once the kernel is
// signed.
func (b *BaseTxBuilder) CreateTransaction() (*Transaction, error) {
	if b.Kernel == nil || b.Kernel.Signature == nil {
		return nil, fmt.Errorf("txbuilder: CreateTransaction called before kernel finalized")
	}
	offset := b.Offset
	if offset == nil {
		offset = ecc.ScalarFromUint64(0)
	}
	return &Transaction{
		Inputs:  b.Inputs,
		Outputs: b.Outputs,
		Offset:  offset,
		Kernel:  *b.Kernel,
	}, nil
}

// localProof stands in for the single-party range proof a plain (non-
// shared) output needs. It is intentionally not the multi-party protocol
// rangeproof.Proof implements — a lone party proving its own output in
// range has no peer to co-sign with, so it is out of this core's scope
// (spec.md's cryptographic oracle covers the *shared* proof only). Derived
// from the commitment alone so the placeholder never carries the amount or
// blinding factor a real output is supposed to keep confidential.
func localProof(amount uint64, blinding *ecc.Scalar) []byte {
	commitment := ecc.Commit(amount, blinding).SerializeCompressed()
	sum := blake2b.Sum256(append([]byte("local-output-proof"), commitment...))
	return sum[:]
}
