// Package rangeproof implements the three-phase multi-party range-proof
// co-signing protocol named by spec.md §4.2/§6/§9/§10: the Bulletproof
// oracle's choreography, not its succinct zero-knowledge math. See
// SPEC_FULL.md §6.1 for why no real multi-party Bulletproof library was
// groundable in the retrieval pack, and what is implemented here instead.
package rangeproof

import (
	"bytes"
	"encoding/binary"

	"github.com/klingon-exchange/locktx-core/internal/ecc"
	"golang.org/x/crypto/blake2b"
)

// Transcript is the "Oracle <<" append/challenge object spec.md §6 requires:
// every value mixed in deterministically narrows the next challenge, giving
// both parties an identical view of the protocol's randomness as long as
// they append the same values in the same order.
type Transcript struct {
	buf bytes.Buffer
}

// New starts a transcript under a domain label.
func New(domain string) *Transcript {
	t := &Transcript{}
	t.Append("domain", []byte(domain))
	return t
}

// Append mixes a labelled value into the transcript.
func (t *Transcript) Append(label string, data []byte) {
	t.writeFramed([]byte(label))
	t.writeFramed(data)
}

// AppendHeight mixes in the shared-output maturity marker (spec.md §9: the
// Height=0 constant used as a domain separator for the range-proof oracle).
func (t *Transcript) AppendHeight(height uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	t.Append("height", buf[:])
}

func (t *Transcript) writeFramed(b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	t.buf.Write(lenBuf[:])
	t.buf.Write(b)
}

// Challenge derives a scalar challenge bound to everything appended so far,
// then folds the challenge itself back into the transcript so a later
// Challenge call under the same label sequence can never collide with an
// earlier one.
func (t *Transcript) Challenge(label string) *ecc.Scalar {
	t.writeFramed([]byte(label))
	sum := blake2b.Sum256(t.buf.Bytes())
	t.buf.Write(sum[:])

	var s ecc.Scalar
	s.SetByteSlice(sum[:])
	return &s
}

// ChallengeBytes is Challenge without the scalar reduction, used where the
// protocol needs raw transcript-bound bytes rather than a group scalar.
func (t *Transcript) ChallengeBytes(label string) [32]byte {
	t.writeFramed([]byte(label))
	sum := blake2b.Sum256(t.buf.Bytes())
	t.buf.Write(sum[:])
	return sum
}
