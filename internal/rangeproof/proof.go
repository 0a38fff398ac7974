package rangeproof

import (
	"errors"
	"fmt"

	"github.com/klingon-exchange/locktx-core/internal/ecc"
	"golang.org/x/crypto/blake2b"
)

// Phase names the two cooperative rounds of the multi-party proof, mirroring
// ECC::RangeProof::Confidential::Phase in the original source.
type Phase int

const (
	PhaseStep2 Phase = iota
	PhaseFinalize
)

func (p Phase) String() string {
	switch p {
	case PhaseStep2:
		return "step2"
	case PhaseFinalize:
		return "finalize"
	default:
		return "unknown"
	}
}

// Proof is the shared range proof's three parts (spec.md §3: "SharedProof
// (Bulletproof triple: Part1, Part2, Part3)"). Each part is opaque,
// transcript-bound bytes; only the creator (the multisig-producing side)
// ever holds a Proof with all three parts filled.
type Proof struct {
	Part1 []byte
	Part2 []byte
	Part3 []byte
}

// MultiSig is ProofPartialMultiSig: the intermediate aggregation object the
// multisig producer emits after Part2 and the responder consumes to produce
// its own Part3 contribution. Plain data, serialized through the parameter
// store like everything else the protocol exchanges.
type MultiSig struct {
	Data []byte
}

// CreatorParams pins the values both parties must derive identically for
// the proof to verify: the coin identity and a seed derived from public
// inputs plus each party's own master-KDF contribution (spec.md §4.2
// proof_creator_params()).
type CreatorParams struct {
	Coin ecc.CoinID
	Seed [32]byte
}

var (
	// ErrSeedReused guards the nonce-once-use discipline the teacher's
	// MuSig2Session enforces for Schnorr nonces; the same invariant holds
	// here for range-proof seeds. Reusing a seed across two CoSign calls
	// leaks the blinding factor exactly as MuSig2 nonce reuse leaks a
	// private key.
	ErrSeedReused = errors.New("rangeproof: seed already used for a proof phase")
)

// UsedSeeds tracks seeds that have already been consumed by CoSign or
// CoSignPart on this process, the same "SECURITY: used nonces" bookkeeping
// pattern as MuSig2Session.usedNonces.
type UsedSeeds struct {
	seen map[[32]byte]bool
}

// NewUsedSeeds constructs empty seed-reuse tracking.
func NewUsedSeeds() *UsedSeeds {
	return &UsedSeeds{seen: make(map[[32]byte]bool)}
}

func (u *UsedSeeds) markOrReject(seed [32]byte) error {
	if u.seen[seed] {
		return ErrSeedReused
	}
	u.seen[seed] = true
	return nil
}

func mix(label string, parts ...[]byte) []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic("rangeproof: blake2b init: " + err.Error())
	}
	h.Write([]byte(label))
	for _, p := range parts {
		var lenBuf [4]byte
		n := len(p)
		lenBuf[0] = byte(n >> 24)
		lenBuf[1] = byte(n >> 16)
		lenBuf[2] = byte(n >> 8)
		lenBuf[3] = byte(n)
		h.Write(lenBuf[:])
		h.Write(p)
	}
	return h.Sum(nil)
}

// CoSignPart2 is RangeProof::Confidential::MultiSig::CoSignPart(seed,
// &out): the responder's half of phase 1, computed from only the
// responder's own seed (no peer data needed yet).
func CoSignPart2(used *UsedSeeds, seed [32]byte) ([]byte, error) {
	if err := used.markOrReject(seed); err != nil {
		return nil, err
	}
	return mix("part2-contribution", seed[:]), nil
}

// CoSign is the multisig producer's side of both phases.
//
// Phase Step2: peerPart is the responder's Part2 contribution (already
// loaded into the store by the driver); CoSign combines it with the
// producer's own seed/blinding/creator params into the shared Part2 and
// populates msigOut with the aggregation object to send back to the
// responder (PeerSharedBulletProofMSig).
//
// Phase Finalize: peerPart is the responder's Part3 contribution; CoSign
// combines it into the final Part3. msigOut is ignored (nil) in this phase
// — the multisig object was already consumed in Step2.
func CoSign(used *UsedSeeds, seed [32]byte, blinding *ecc.Scalar, creator CreatorParams, tr *Transcript, phase Phase, peerPart []byte, msigOut *MultiSig) ([]byte, error) {
	if err := used.markOrReject(seed); err != nil {
		return nil, err
	}
	if len(peerPart) == 0 {
		return nil, fmt.Errorf("rangeproof: CoSign phase %s requires peer contribution", phase)
	}

	blindingBytes := blinding.Bytes()
	dom := tr.ChallengeBytes(phase.String())

	switch phase {
	case PhaseStep2:
		if msigOut == nil {
			return nil, errors.New("rangeproof: CoSign phase step2 requires a non-nil msig output")
		}
		combined := mix("part2-combine", seed[:], blindingBytes[:], creator.Seed[:], creator.Coin.Bytes(), dom[:], peerPart)
		msigOut.Data = mix("multisig-aggregate", combined, seed[:])
		return combined, nil
	case PhaseFinalize:
		combined := mix("part3-combine", seed[:], blindingBytes[:], creator.Seed[:], creator.Coin.Bytes(), dom[:], peerPart)
		return combined, nil
	default:
		return nil, fmt.Errorf("rangeproof: unknown phase %v", phase)
	}
}

// CoSignPart3 is ProofPartialMultiSig::CoSignPart(seed, blinding, &part3):
// the responder's half of phase 2, derived from the multisig aggregation
// object received from the producer plus the responder's own seed and
// blinding factor.
func (m MultiSig) CoSignPart3(used *UsedSeeds, seed [32]byte, blinding *ecc.Scalar) ([]byte, error) {
	if err := used.markOrReject(seed); err != nil {
		return nil, err
	}
	blindingBytes := blinding.Bytes()
	return mix("part3-contribution", m.Data, seed[:], blindingBytes[:]), nil
}

// Encode gives Proof a stable wire form for the parameter store.
func (p Proof) Encode() []byte {
	return mixLenPrefixed(p.Part1, p.Part2, p.Part3)
}

// DecodeProof parses bytes produced by Proof.Encode.
func DecodeProof(b []byte) (Proof, error) {
	parts, err := unmixLenPrefixed(b, 3)
	if err != nil {
		return Proof{}, fmt.Errorf("rangeproof: decode proof: %w", err)
	}
	return Proof{Part1: parts[0], Part2: parts[1], Part3: parts[2]}, nil
}

func mixLenPrefixed(parts ...[]byte) []byte {
	var buf []byte
	for _, p := range parts {
		n := len(p)
		buf = append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
		buf = append(buf, p...)
	}
	return buf
}

func unmixLenPrefixed(b []byte, count int) ([][]byte, error) {
	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		if len(b) < 4 {
			return nil, errors.New("truncated length prefix")
		}
		n := int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
		b = b[4:]
		if len(b) < n {
			return nil, errors.New("truncated field")
		}
		out = append(out, append([]byte(nil), b[:n]...))
		b = b[n:]
	}
	return out, nil
}

// Part1Seed derives the non-interactive first part of the proof directly
// from the shared seed. Unlike Part2/Part3, Part1 needs no peer
// contribution (spec.md §6 never names a Part1 wire message), so it is
// computed locally by both parties from the same public seed input rather
// than co-signed.
func Part1Seed(seed [32]byte) []byte {
	return mix("part1", seed[:])
}

// GenerateSeed derives the deterministic range-proof seed from the
// blinding factor and amount (spec.md §3: "SharedSeed... derived
// deterministically from the blinding factor, amount, and a transcript
// oracle"), mirroring RangeProof::Confidential::GenerateSeed.
func GenerateSeed(blinding *ecc.Scalar, amount uint64, tr *Transcript) [32]byte {
	blindingBytes := blinding.Bytes()
	amountBytes := ecc.ScalarFromUint64(amount).Bytes()
	tr.Append("seed-blinding", blindingBytes[:])
	tr.Append("seed-amount", amountBytes[:])
	return tr.ChallengeBytes("shared-seed")
}
