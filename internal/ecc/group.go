// Package ecc provides the group, scalar and Pedersen-commitment arithmetic
// the LockTx protocol is built on. It is the concrete binding of the
// cryptographic oracle spec.md §6 leaves abstract: a prime-order group with
// fixed generators G and H.
package ecc

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Scalar is an element of the secp256k1 scalar field.
type Scalar = btcec.ModNScalar

// ErrInvalidPoint is returned when a peer-supplied point does not lie on the
// curve (spec.md §8: "Peer supplies PeerPublicSharedBlindingFactor not on
// the curve").
var ErrInvalidPoint = errors.New("ecc: point is not on the curve")

// Point is a non-identity point on secp256k1, held in Jacobian coordinates
// so repeated Add/ScalarMult calls avoid the cost of affine conversion until
// serialization.
type Point struct {
	jp btcec.JacobianPoint
}

// RandomScalar draws a uniformly random non-zero scalar.
func RandomScalar() (*Scalar, error) {
	var buf [32]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, fmt.Errorf("ecc: read random scalar: %w", err)
		}
		var s Scalar
		overflow := s.SetBytes(&buf)
		if overflow == 0 && !s.IsZero() {
			return &s, nil
		}
	}
}

// ScalarFromUint64 encodes a non-negative integer (an amount, in spec.md
// terms) as a scalar.
func ScalarFromUint64(v uint64) *Scalar {
	var buf [32]byte
	for i := 0; i < 8; i++ {
		buf[31-i] = byte(v >> (8 * i))
	}
	var s Scalar
	s.SetBytes(&buf)
	return &s
}

// AddScalars returns a+b without mutating either argument.
func AddScalars(a, b *Scalar) *Scalar {
	r := *a
	r.Add(b)
	return &r
}

// NegateScalar returns -a without mutating a.
func NegateScalar(a *Scalar) *Scalar {
	r := *a
	r.Negate()
	return &r
}

// basePoint returns the secp256k1 base point G as a JacobianPoint.
func basePoint() btcec.JacobianPoint {
	var one Scalar
	one.SetInt(1)
	var result btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&one, &result)
	return result
}

// deriveH derives the second Pedersen generator H as a nothing-up-my-sleeve
// point: repeatedly hash a fixed label until the candidate x-coordinate maps
// to a valid curve point. This is the standard construction used when no
// trusted setup is available (see the dual-generator note carried from
// spec.md's GLOSSARY entry for Pedersen commitment).
func deriveH() btcec.JacobianPoint {
	label := []byte("locktx-core/pedersen-generator-H")
	counter := uint32(0)
	for {
		h := sha256.New()
		h.Write(label)
		h.Write([]byte{byte(counter >> 24), byte(counter >> 16), byte(counter >> 8), byte(counter)})
		sum := h.Sum(nil)

		candidate := append([]byte{0x02}, sum...)
		pk, err := btcec.ParsePubKey(candidate)
		if err == nil {
			var jp btcec.JacobianPoint
			pk.AsJacobian(&jp)
			return jp
		}
		counter++
	}
}

var (
	genG = basePoint()
	genH = deriveH()
)

// GeneratorG returns the group's first generator.
func GeneratorG() Point { return Point{jp: genG} }

// GeneratorH returns the group's second (blinding) generator.
func GeneratorH() Point { return Point{jp: genH} }

// Add returns p+q.
func (p Point) Add(q Point) Point {
	var r btcec.JacobianPoint
	p.jp.ToAffine()
	q.jp.ToAffine()
	btcec.AddNonConst(&p.jp, &q.jp, &r)
	return Point{jp: r}
}

// ScalarMult returns s*p.
func (p Point) ScalarMult(s *Scalar) Point {
	var r btcec.JacobianPoint
	btcec.ScalarMultNonConst(s, &p.jp, &r)
	return Point{jp: r}
}

// SerializeCompressed returns the 33-byte compressed SEC1 encoding.
func (p Point) SerializeCompressed() []byte {
	jp := p.jp
	jp.ToAffine()
	pk := btcec.NewPublicKey(&jp.X, &jp.Y)
	return pk.SerializeCompressed()
}

// PointFromCompressed parses a compressed point, rejecting bytes that are
// not a valid on-curve encoding (the ErrInvalidPoint case spec.md §8 names).
func PointFromCompressed(b []byte) (Point, error) {
	pk, err := btcec.ParsePubKey(b)
	if err != nil {
		return Point{}, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	var jp btcec.JacobianPoint
	pk.AsJacobian(&jp)
	return Point{jp: jp}, nil
}

// IsZero reports whether p is the point at infinity.
func (p Point) IsZero() bool {
	jp := p.jp
	jp.ToAffine()
	return jp.X.IsZero() && jp.Y.IsZero()
}

// Commit returns the Pedersen commitment amount*H + blinding*G, the
// SharedCommitment formula of spec.md §3.
func Commit(amount uint64, blinding *Scalar) Point {
	return GeneratorH().ScalarMult(ScalarFromUint64(amount)).Add(GeneratorG().ScalarMult(blinding))
}
