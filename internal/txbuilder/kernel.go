package txbuilder

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klingon-exchange/locktx-core/internal/ecc"
	"github.com/klingon-exchange/locktx-core/internal/params"
	"github.com/klingon-exchange/locktx-core/internal/rangeproof"
	"golang.org/x/crypto/blake2b"
)

// Kernel is the transaction kernel: the fee and height window it commits
// to, the aggregate public excess it is signed under, and the aggregate
// signature itself once both parties have contributed. Grounded on the
// original source's TxKernelStd plus BaseTxBuilder::CreateKernel /
// FinalizeSignature, generalized from a single style of kernel to the
// hashlock/timelock variants Redeem and Refund need (see Variant below).
type Kernel struct {
	Fee       uint64
	MinHeight uint64
	MaxHeight uint64

	// Variant distinguishes the plain LockTx kernel from the hashlock kernel
	// a RedeemTx carries and the timelock kernel a RefundTx carries (spec.md
	// §9's minimally-implemented Redeem/Refund sub-transactions).
	Variant  KernelVariant
	HashLock []byte // preimage commitment, set only when Variant == KernelHashLock

	Excess    ecc.Point // aggregate public excess, the kernel's "public key"
	Nonce     ecc.Point // aggregate public nonce R
	Signature *ecc.Scalar
}

// KernelVariant names which of the three sub-transaction kernels this is.
type KernelVariant uint8

const (
	KernelPlain KernelVariant = iota
	KernelHashLock
	KernelTimeLock
)

// ErrKernelNotSigned is returned by Serialize/ID when the kernel's
// signature has not yet been finalized.
var ErrKernelNotSigned = errors.New("txbuilder: kernel has no finalized signature")

// message is the value the kernel signature actually signs: everything the
// kernel commits to, so a tampered fee or height window invalidates the
// signature (spec.md §8: height/fee tampering must be caught before
// broadcast).
func (k *Kernel) message() [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("kernel-message"))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], k.Fee)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], k.MinHeight)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], k.MaxHeight)
	h.Write(buf[:])
	h.Write([]byte{byte(k.Variant)})
	if k.Variant == KernelHashLock {
		h.Write(k.HashLock)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// challenge derives the Schnorr challenge e = H(R_agg || P_agg || message)
// both parties must compute identically. Reusing rangeproof.Transcript here
// is deliberate: it is the one append-and-challenge oracle spec.md §6
// names, and the kernel signature is just another thing the protocol binds
// through it.
func challenge(aggNonce, aggExcess ecc.Point, msg [32]byte) *ecc.Scalar {
	tr := rangeproof.New("kernel-signature")
	tr.Append("nonce", aggNonce.SerializeCompressed())
	tr.Append("excess", aggExcess.SerializeCompressed())
	tr.Append("message", msg[:])
	return tr.Challenge("challenge")
}

// deriveNonce computes this party's kernel-signing nonce deterministically
// from its own excess secret and the sub-transaction identity, instead of
// drawing fresh randomness. Spec.md §8's "restarting a transaction yields
// bit-identical kernel and proof" invariant requires this: a randomly drawn
// nonce would make SignPartial non-repeatable across a crash, producing a
// different (still valid) signature every time the builder resumes, which
// the spec's bit-identical-resume test would catch as a protocol bug.
func deriveNonce(blindingExcess *ecc.Scalar, txID params.TxID, sub params.SubTxID) *ecc.Scalar {
	excessBytes := blindingExcess.Bytes()
	mac, _ := blake2b.New256(excessBytes[:])
	mac.Write(txID[:])
	mac.Write([]byte(sub.String()))
	mac.Write([]byte("kernel-nonce"))
	sum := mac.Sum(nil)

	var s ecc.Scalar
	s.SetByteSlice(sum)
	if s.IsZero() {
		s.SetInt(1)
	}
	return &s
}

// verifyPartial checks that partial*G == nonce + e*excess: the generic
// Schnorr partial-signature equation, used both to validate the peer's
// contribution and, in tests, our own.
func verifyPartial(partial *ecc.Scalar, nonce, excess ecc.Point, e *ecc.Scalar) bool {
	lhs := ecc.GeneratorG().ScalarMult(partial)
	rhs := nonce.Add(excess.ScalarMult(e))
	return string(lhs.SerializeCompressed()) == string(rhs.SerializeCompressed())
}

// ID returns a stable identifier for the finalized kernel, the analogue of
// TxKernelStd::m_Internal.m_ID the original source stores after signing
// (BaseTxBuilder::StoreKernelID).
func (k *Kernel) ID() ([32]byte, error) {
	if k.Signature == nil {
		return [32]byte{}, ErrKernelNotSigned
	}
	h, _ := blake2b.New256(nil)
	h.Write(k.Excess.SerializeCompressed())
	h.Write(k.Nonce.SerializeCompressed())
	sigBytes := k.Signature.Bytes()
	h.Write(sigBytes[:])
	msg := k.message()
	h.Write(msg[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

func (k *Kernel) String() string {
	return fmt.Sprintf("kernel{fee=%d minHeight=%d maxHeight=%d variant=%d}", k.Fee, k.MinHeight, k.MaxHeight, k.Variant)
}

// encodeKernel/decodeKernel give Kernel a stable wire form for the
// parameter store (ParamID KernelData).
func encodeKernel(k *Kernel) []byte {
	buf := make([]byte, 0, 256)
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], k.Fee)
	buf = append(buf, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], k.MinHeight)
	buf = append(buf, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], k.MaxHeight)
	buf = append(buf, u64[:]...)
	buf = append(buf, byte(k.Variant))
	buf = appendUint32(buf, uint32(len(k.HashLock)))
	buf = append(buf, k.HashLock...)

	excess := k.Excess.SerializeCompressed()
	buf = appendUint32(buf, uint32(len(excess)))
	buf = append(buf, excess...)

	nonce := k.Nonce.SerializeCompressed()
	buf = appendUint32(buf, uint32(len(nonce)))
	buf = append(buf, nonce...)

	if k.Signature != nil {
		buf = append(buf, 1)
		sig := k.Signature.Bytes()
		buf = append(buf, sig[:]...)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decodeKernel(b []byte) (*Kernel, error) {
	if len(b) < 25 {
		return nil, fmt.Errorf("txbuilder: decodeKernel: short buffer")
	}
	k := &Kernel{}
	k.Fee = binary.BigEndian.Uint64(b[0:8])
	k.MinHeight = binary.BigEndian.Uint64(b[8:16])
	k.MaxHeight = binary.BigEndian.Uint64(b[16:24])
	k.Variant = KernelVariant(b[24])
	rest := b[25:]

	hlen, rest, err := readUint32(rest)
	if err != nil {
		return nil, err
	}
	if uint32(len(rest)) < hlen {
		return nil, fmt.Errorf("txbuilder: decodeKernel: truncated hashlock")
	}
	k.HashLock = append([]byte(nil), rest[:hlen]...)
	rest = rest[hlen:]

	elen, rest, err := readUint32(rest)
	if err != nil {
		return nil, err
	}
	if uint32(len(rest)) < elen {
		return nil, fmt.Errorf("txbuilder: decodeKernel: truncated excess")
	}
	k.Excess, err = ecc.PointFromCompressed(rest[:elen])
	if err != nil {
		return nil, fmt.Errorf("txbuilder: decodeKernel: excess: %w", err)
	}
	rest = rest[elen:]

	nlen, rest, err := readUint32(rest)
	if err != nil {
		return nil, err
	}
	if uint32(len(rest)) < nlen {
		return nil, fmt.Errorf("txbuilder: decodeKernel: truncated nonce")
	}
	k.Nonce, err = ecc.PointFromCompressed(rest[:nlen])
	if err != nil {
		return nil, fmt.Errorf("txbuilder: decodeKernel: nonce: %w", err)
	}
	rest = rest[nlen:]

	if len(rest) < 1 {
		return nil, fmt.Errorf("txbuilder: decodeKernel: missing signature flag")
	}
	if rest[0] == 1 {
		if len(rest) < 33 {
			return nil, fmt.Errorf("txbuilder: decodeKernel: truncated signature")
		}
		var sig ecc.Scalar
		sig.SetByteSlice(rest[1:33])
		k.Signature = &sig
	}
	return k, nil
}
