package locktx

import (
	"errors"
	"fmt"

	"github.com/klingon-exchange/locktx-core/internal/ecc"
	"github.com/klingon-exchange/locktx-core/internal/params"
	"github.com/klingon-exchange/locktx-core/internal/rangeproof"
	"github.com/klingon-exchange/locktx-core/internal/txbuilder"
)

// WalletKDF is the narrow wallet-database capability LockTxBuilder needs
// beyond plain coin selection (spec.md §5: "Wallet DB... read-only from the
// cryptographic path except for generateSharedCoin, which reserves a fresh
// subkey index atomically. Master KDF is read-only after wallet open.").
type WalletKDF interface {
	// GenerateSharedCoin reserves a fresh subkey index and returns the coin
	// identity for the shared output of the given value.
	GenerateSharedCoin(amount uint64) (ecc.CoinID, error)
	// SwitchCommitmentBlinding derives a coin's blinding factor.
	SwitchCommitmentBlinding(coin ecc.CoinID) (*ecc.Scalar, error)
	// GenerateSeedKid derives the deterministic proof-creator seed from a
	// public commitment.
	GenerateSeedKid(commitment ecc.Point) ([32]byte, error)
}

// ErrMissingSharedParameter mirrors ErrMissingPeerParams but names the
// shared-output-specific data a step needed but did not yet have.
var ErrMissingSharedParameter = errors.New("locktx: required shared-output parameter not yet available")

// LockTxBuilder is BaseTxBuilder specialized for the one sub-transaction
// that produces a two-party shared output (spec.md §4.2), grounded on the
// original source's LockTxBuilder (wallet/base_tx_builder.h +
// swap_transaction.cpp's SharedUTXOProofPart2/3 handling).
type LockTxBuilder struct {
	*txbuilder.BaseTxBuilder
	kdf      WalletKDF
	isSender bool

	SharedCoin           ecc.CoinID
	haveSharedCoin       bool
	SharedBlindingFactor *ecc.Scalar
	SharedSeed           [32]byte
	haveSharedSeed       bool
	SharedProof          rangeproof.Proof

	peerPublicSharedBlinding ecc.Point
	havePeerSharedBlinding   bool
	peerPart2                []byte
	peerPart3                []byte
	peerMSig                 *rangeproof.MultiSig

	used *rangeproof.UsedSeeds
}

// NewLockTxBuilder wraps an already-constructed BaseTxBuilder.
func NewLockTxBuilder(base *txbuilder.BaseTxBuilder, kdf WalletKDF, isSender bool) *LockTxBuilder {
	return &LockTxBuilder{BaseTxBuilder: base, kdf: kdf, isSender: isSender, used: rangeproof.NewUsedSeeds()}
}

// LoadInitial reloads everything LockTxBuilder itself persists, the shared-
// output analogue of BaseTxBuilder.GetInitialTxParams. Call it once per
// Update alongside the embedded builder's own GetInitialTxParams.
func (b *LockTxBuilder) LoadInitial() error {
	store := b.Store()

	if coin, ok, err := store.GetCoinID(b.TxID, b.Sub, params.SharedCoinID); err != nil {
		return fmt.Errorf("locktx: load shared coin id: %w", err)
	} else if ok {
		b.SharedCoin, b.haveSharedCoin = coin, true
	}
	if s, ok, err := store.GetScalar(b.TxID, b.Sub, params.SharedBlindingFactor); err != nil {
		return fmt.Errorf("locktx: load shared blinding factor: %w", err)
	} else if ok {
		b.SharedBlindingFactor = s
	}
	if raw, ok, err := store.GetBytes(b.TxID, b.Sub, params.SharedSeed); err != nil {
		return fmt.Errorf("locktx: load shared seed: %w", err)
	} else if ok {
		if len(raw) != 32 {
			return fmt.Errorf("locktx: shared seed: expected 32 bytes, got %d", len(raw))
		}
		copy(b.SharedSeed[:], raw)
		b.haveSharedSeed = true
	}
	if raw, ok, err := store.GetBytes(b.TxID, b.Sub, params.SharedBulletProof); err != nil {
		return fmt.Errorf("locktx: load shared proof: %w", err)
	} else if ok {
		proof, err := rangeproof.DecodeProof(raw)
		if err != nil {
			return fmt.Errorf("locktx: decode shared proof: %w", err)
		}
		b.SharedProof = proof
	}
	if p, ok, err := store.GetPoint(b.TxID, b.Sub, params.PeerPublicSharedBlindingFactor); err != nil {
		return fmt.Errorf("locktx: load peer shared blinding: %w", err)
	} else if ok {
		b.peerPublicSharedBlinding, b.havePeerSharedBlinding = p, true
	}
	if raw, ok, err := store.GetBytes(b.TxID, b.Sub, params.PeerSharedBulletProofPart2); err != nil {
		return fmt.Errorf("locktx: load peer part2: %w", err)
	} else if ok {
		b.peerPart2 = raw
	}
	if raw, ok, err := store.GetBytes(b.TxID, b.Sub, params.PeerSharedBulletProofPart3); err != nil {
		return fmt.Errorf("locktx: load peer part3: %w", err)
	} else if ok {
		b.peerPart3 = raw
	}
	if raw, ok, err := store.GetBytes(b.TxID, b.Sub, params.PeerSharedBulletProofMSig); err != nil {
		return fmt.Errorf("locktx: load peer msig: %w", err)
	} else if ok {
		b.peerMSig = &rangeproof.MultiSig{Data: raw}
	}
	return nil
}

// SetPeerPublicSharedBlinding records the peer's public share of the
// shared output's blinding factor.
func (b *LockTxBuilder) SetPeerPublicSharedBlinding(p ecc.Point) error {
	b.peerPublicSharedBlinding, b.havePeerSharedBlinding = p, true
	return b.Store().SetPoint(b.TxID, b.Sub, params.PeerPublicSharedBlindingFactor, p)
}

// SetPeerPart2 records the peer's Part2 contribution.
func (b *LockTxBuilder) SetPeerPart2(data []byte) error {
	b.peerPart2 = data
	return b.Store().SetBytes(b.TxID, b.Sub, params.PeerSharedBulletProofPart2, data)
}

// SetPeerPart3 records the peer's Part3 contribution.
func (b *LockTxBuilder) SetPeerPart3(data []byte) error {
	b.peerPart3 = data
	return b.Store().SetBytes(b.TxID, b.Sub, params.PeerSharedBulletProofPart3, data)
}

// SetPeerMSig records the multisig aggregation object the sender sent the
// responder after Step2.
func (b *LockTxBuilder) SetPeerMSig(m *rangeproof.MultiSig) error {
	b.peerMSig = m
	return b.Store().SetBytes(b.TxID, b.Sub, params.PeerSharedBulletProofMSig, m.Data)
}

// HasPeerPart2/HasPeerPart3/HasPeerMSig/HasPeerPublicSharedBlinding report
// whether the corresponding peer contribution has arrived.
func (b *LockTxBuilder) HasPeerPart2() bool                   { return b.peerPart2 != nil }
func (b *LockTxBuilder) HasPeerPart3() bool                   { return b.peerPart3 != nil }
func (b *LockTxBuilder) HasPeerMSig() bool                    { return b.peerMSig != nil }
func (b *LockTxBuilder) HasPeerPublicSharedBlinding() bool     { return b.havePeerSharedBlinding }

// LoadSharedParameters implements spec.md §4.2's load_shared_parameters.
func (b *LockTxBuilder) LoadSharedParameters() error {
	if b.SharedBlindingFactor != nil {
		return nil
	}

	if !b.haveSharedCoin {
		coin, err := b.kdf.GenerateSharedCoin(b.Amount)
		if err != nil {
			return fmt.Errorf("locktx: generate shared coin: %w", err)
		}
		b.SharedCoin, b.haveSharedCoin = coin, true
		if err := b.Store().SetCoinID(b.TxID, b.Sub, params.SharedCoinID, coin); err != nil {
			return err
		}
	}

	blinding, err := b.kdf.SwitchCommitmentBlinding(b.SharedCoin)
	if err != nil {
		return fmt.Errorf("locktx: derive shared blinding: %w", err)
	}
	b.SharedBlindingFactor = blinding
	if err := b.Store().SetScalar(b.TxID, b.Sub, params.SharedBlindingFactor, blinding); err != nil {
		return err
	}

	tr := rangeproof.New("shared-seed")
	tr.Append("tx-id", b.TxID[:])
	seed := rangeproof.GenerateSeed(blinding, b.Amount, tr)
	b.SharedSeed, b.haveSharedSeed = seed, true
	if err := b.Store().SetBytes(b.TxID, b.Sub, params.SharedSeed, seed[:]); err != nil {
		return err
	}
	b.SharedProof.Part1 = rangeproof.Part1Seed(seed)

	current := b.Offset
	if current == nil {
		current = ecc.ScalarFromUint64(0)
	}
	newOffset := ecc.AddScalars(current, ecc.NegateScalar(blinding))
	return b.BaseTxBuilder.SetOffset(newOffset)
}

// GetSharedCommitment implements spec.md §4.2's shared_commitment():
// amount·H + mine_blinding·G + peer_public_shared_blinding_factor.
func (b *LockTxBuilder) GetSharedCommitment() ecc.Point {
	valueTerm := ecc.GeneratorH().ScalarMult(ecc.ScalarFromUint64(b.Amount))
	myPublic := ecc.GeneratorG().ScalarMult(b.SharedBlindingFactor)
	return valueTerm.Add(myPublic).Add(b.peerPublicSharedBlinding)
}

// ProofCreatorParams implements spec.md §4.2's proof_creator_params().
func (b *LockTxBuilder) ProofCreatorParams() (rangeproof.CreatorParams, error) {
	seed, err := b.kdf.GenerateSeedKid(b.GetSharedCommitment())
	if err != nil {
		return rangeproof.CreatorParams{}, fmt.Errorf("locktx: proof creator params: %w", err)
	}
	return rangeproof.CreatorParams{Coin: b.SharedCoin, Seed: seed}, nil
}

// SharedUTXOProofPart2 implements spec.md §4.2's shared_utxo_proof_part2.
// When produceMultisig (the sender), it returns the multisig aggregation
// object to send the responder. Otherwise it returns this party's raw
// Part2 contribution bytes.
func (b *LockTxBuilder) SharedUTXOProofPart2(produceMultisig bool) (msig *rangeproof.MultiSig, contribution []byte, err error) {
	tr := rangeproof.New("utxo-proof-part2")
	tr.Append("tx-id", b.TxID[:])
	tr.AppendHeight(0)

	if produceMultisig {
		if !b.HasPeerPart2() {
			return nil, nil, ErrMissingSharedParameter
		}
		creator, err := b.ProofCreatorParams()
		if err != nil {
			return nil, nil, err
		}
		msigOut := &rangeproof.MultiSig{}
		combined, err := rangeproof.CoSign(b.used, b.SharedSeed, b.SharedBlindingFactor, creator, tr, rangeproof.PhaseStep2, b.peerPart2, msigOut)
		if err != nil {
			return nil, nil, fmt.Errorf("locktx: shared utxo proof part2 (producer): %w", err)
		}
		b.SharedProof.Part2 = combined
		if err := b.Store().SetBytes(b.TxID, b.Sub, params.SharedBulletProof, b.SharedProof.Encode()); err != nil {
			return nil, nil, err
		}
		return msigOut, nil, nil
	}

	b.SharedProof.Part2 = nil
	contribution, err = rangeproof.CoSignPart2(b.used, b.SharedSeed)
	if err != nil {
		return nil, nil, fmt.Errorf("locktx: shared utxo proof part2 (responder): %w", err)
	}
	return nil, contribution, nil
}

// SharedUTXOProofPart3 implements spec.md §4.2's shared_utxo_proof_part3.
func (b *LockTxBuilder) SharedUTXOProofPart3(produceMultisig bool) (contribution []byte, err error) {
	tr := rangeproof.New("utxo-proof-part3")
	tr.Append("tx-id", b.TxID[:])
	tr.AppendHeight(0)

	if produceMultisig {
		if !b.HasPeerPart3() {
			return nil, ErrMissingSharedParameter
		}
		creator, err := b.ProofCreatorParams()
		if err != nil {
			return nil, err
		}
		combined, err := rangeproof.CoSign(b.used, b.SharedSeed, b.SharedBlindingFactor, creator, tr, rangeproof.PhaseFinalize, b.peerPart3, nil)
		if err != nil {
			return nil, fmt.Errorf("locktx: shared utxo proof part3 (producer): %w", err)
		}
		b.SharedProof.Part3 = combined
		if err := b.Store().SetBytes(b.TxID, b.Sub, params.SharedBulletProof, b.SharedProof.Encode()); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if !b.HasPeerMSig() {
		return nil, ErrMissingSharedParameter
	}
	b.SharedProof.Part3 = nil
	contribution, err = b.peerMSig.CoSignPart3(b.used, b.SharedSeed, b.SharedBlindingFactor)
	if err != nil {
		return nil, fmt.Errorf("locktx: shared utxo proof part3 (responder): %w", err)
	}
	return contribution, nil
}

// AddSharedOutput implements spec.md §4.2's add_shared_output: appends the
// confidential shared output, carrying the finalized three-part proof, to
// the underlying transaction builder. Only the sender calls this, once
// Part3 has been finalized.
func (b *LockTxBuilder) AddSharedOutput() error {
	out := txbuilder.Output{
		Commitment: b.GetSharedCommitment(),
		Proof:      b.SharedProof.Encode(),
	}
	return b.BaseTxBuilder.AddOutput(out)
}
