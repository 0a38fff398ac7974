// Package txbuilder implements the chain-side half of the protocol:
// coin selection, change, the kernel, and partial-signature exchange that
// spec.md §2's stack diagram calls "BaseTxBuilder" — grounded on the
// original source's wallet::BaseTxBuilder, generalized from a single
// confidential-transaction builder into the shared base every LockTx,
// RedeemTx and RefundTx builder embeds.
package txbuilder

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klingon-exchange/locktx-core/internal/ecc"
)

// Coin is a spendable output the host wallet database resolved for us: its
// identity, value and blinding factor. The core never derives a coin's
// blinding itself (that is the Master KDF's job, kept on the wallet side of
// spec.md §5's "Master KDF is read-only after wallet open" boundary); it
// only asks for coins through InputSource and commits to what it is given.
type Coin struct {
	ID       ecc.CoinID
	Value    uint64
	Blinding *ecc.Scalar
}

// InputSource is the narrow coin-selection contract the host wallet
// database must satisfy, distinct from the parameter Store: Store persists
// protocol state, InputSource hands out spendable value.
type InputSource interface {
	// SelectCoins returns coins whose total value is at least amount, or
	// ErrInsufficientFunds if the wallet cannot cover it.
	SelectCoins(amount uint64) ([]Coin, error)
	// NewChangeCoin mints a fresh coin of the given value for change,
	// deriving its blinding from the next unused subkey index.
	NewChangeCoin(value uint64) (Coin, error)
}

var (
	// ErrInsufficientFunds is returned by SelectInputs when InputSource
	// cannot cover amount+fee.
	ErrInsufficientFunds = errors.New("txbuilder: insufficient funds for requested amount and fee")
	// ErrMissingPeerParams guards every step that needs a peer-supplied
	// value the store does not yet have (spec.md §8: a peer message has not
	// arrived yet, not a protocol violation).
	ErrMissingPeerParams = errors.New("txbuilder: required peer parameter not yet available")
	// ErrInvalidPeerSignature is returned by IsPeerSignatureValid's caller
	// path when the peer's partial signature does not verify.
	ErrInvalidPeerSignature = errors.New("txbuilder: peer partial signature does not verify")
)

// Input is a transaction input: just the commitment being spent. The
// output being consumed is assumed already confirmed on-chain; nothing
// here re-proves its range, mirroring the original source's Input type.
type Input struct {
	Commitment ecc.Point
}

// Output is a transaction output: its commitment plus an opaque range
// proof. For a plain (non-shared) output this proof is produced locally by
// one party alone; for the one shared output a LockTx carries, this field
// holds the encoded multi-party rangeproof.Proof. Validate rejects an
// output whose Proof is empty.
type Output struct {
	Commitment ecc.Point
	Proof      []byte
}

// encodeInputs/decodeInputs and encodeOutputs/decodeOutputs give Inputs and
// Outputs a stable wire form for the parameter store, length-prefixed the
// same way Transcript frames its fields.
func encodeInputs(ins []Input) []byte {
	buf := make([]byte, 0, len(ins)*33+4)
	buf = appendUint32(buf, uint32(len(ins)))
	for _, in := range ins {
		c := in.Commitment.SerializeCompressed()
		buf = appendUint32(buf, uint32(len(c)))
		buf = append(buf, c...)
	}
	return buf
}

func decodeInputs(b []byte) ([]Input, error) {
	n, rest, err := readUint32(b)
	if err != nil {
		return nil, err
	}
	ins := make([]Input, 0, n)
	for i := uint32(0); i < n; i++ {
		var clen uint32
		clen, rest, err = readUint32(rest)
		if err != nil {
			return nil, err
		}
		if uint32(len(rest)) < clen {
			return nil, fmt.Errorf("txbuilder: decodeInputs: truncated commitment")
		}
		p, err := ecc.PointFromCompressed(rest[:clen])
		if err != nil {
			return nil, fmt.Errorf("txbuilder: decodeInputs: %w", err)
		}
		rest = rest[clen:]
		ins = append(ins, Input{Commitment: p})
	}
	return ins, nil
}

func encodeOutputs(outs []Output) []byte {
	buf := make([]byte, 0, len(outs)*64+4)
	buf = appendUint32(buf, uint32(len(outs)))
	for _, o := range outs {
		c := o.Commitment.SerializeCompressed()
		buf = appendUint32(buf, uint32(len(c)))
		buf = append(buf, c...)
		buf = appendUint32(buf, uint32(len(o.Proof)))
		buf = append(buf, o.Proof...)
	}
	return buf
}

func decodeOutputs(b []byte) ([]Output, error) {
	n, rest, err := readUint32(b)
	if err != nil {
		return nil, err
	}
	outs := make([]Output, 0, n)
	for i := uint32(0); i < n; i++ {
		var clen uint32
		clen, rest, err = readUint32(rest)
		if err != nil {
			return nil, err
		}
		if uint32(len(rest)) < clen {
			return nil, fmt.Errorf("txbuilder: decodeOutputs: truncated commitment")
		}
		p, err := ecc.PointFromCompressed(rest[:clen])
		if err != nil {
			return nil, fmt.Errorf("txbuilder: decodeOutputs: %w", err)
		}
		rest = rest[clen:]

		var plen uint32
		plen, rest, err = readUint32(rest)
		if err != nil {
			return nil, err
		}
		if uint32(len(rest)) < plen {
			return nil, fmt.Errorf("txbuilder: decodeOutputs: truncated proof")
		}
		proof := append([]byte(nil), rest[:plen]...)
		rest = rest[plen:]

		outs = append(outs, Output{Commitment: p, Proof: proof})
	}
	return outs, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("txbuilder: short buffer reading length prefix")
	}
	return binary.BigEndian.Uint32(b[:4]), b[4:], nil
}

// Transaction is the fully assembled, ready-to-broadcast transaction:
// every input and output the two parties contributed, the blinding offset,
// and the one kernel that carries the aggregate signature.
type Transaction struct {
	Inputs  []Input
	Outputs []Output
	Offset  *ecc.Scalar
	Kernel  Kernel
}
