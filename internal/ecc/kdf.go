package ecc

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"golang.org/x/crypto/blake2b"
)

// CoinID identifies a coin the way spec.md §3 describes a SharedCoin:
// a subkey index, a value, and an asset type tag.
type CoinID struct {
	SubIdx uint32
	Value  uint64
	Asset  uint32
}

// Bytes gives a stable encoding of the coin identifier for use as hash
// transcript material (GenerateSeedKid, switch-commitment derivation).
func (c CoinID) Bytes() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], c.SubIdx)
	binary.BigEndian.PutUint64(buf[4:12], c.Value)
	binary.BigEndian.PutUint32(buf[12:16], c.Asset)
	return buf
}

// MasterKDF is the wallet's root key derivation capability: the narrow
// read-only-after-open contract spec.md §5 describes ("Master KDF is
// read-only after wallet open"). It is grounded on the teacher's own HD
// derivation stack (internal/wallet/wallet.go), reused here instead of a
// bespoke scheme.
type MasterKDF struct {
	master *hdkeychain.ExtendedKey
}

// NewMasterKDF derives the master extended key from wallet seed bytes.
func NewMasterKDF(seed []byte) (*MasterKDF, error) {
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("ecc: derive master kdf: %w", err)
	}
	return &MasterKDF{master: master}, nil
}

// ChildKdf derives the child KDF rooted at the given subkey index, the
// "child-kdf[coin.subidx]" the original source passes into SwitchCommitment.
func (m *MasterKDF) ChildKdf(subIdx uint32) (*hdkeychain.ExtendedKey, error) {
	child, err := m.master.Derive(hdkeychain.HardenedKeyStart + subIdx)
	if err != nil {
		return nil, fmt.Errorf("ecc: derive child kdf %d: %w", subIdx, err)
	}
	return child, nil
}

// SwitchCommitmentBlinding derives the blinding factor for a coin, mirroring
// beam::SwitchCommitment::Create(blindingFactor, childKdf, coin.m_ID): the
// child key's private scalar, domain-separated by the coin's identity so
// the same child index never yields the same blinding for two different
// coins.
func (m *MasterKDF) SwitchCommitmentBlinding(coin CoinID) (*Scalar, error) {
	child, err := m.ChildKdf(coin.SubIdx)
	if err != nil {
		return nil, err
	}
	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("ecc: child private key: %w", err)
	}
	keyBytes := priv.Key.Bytes()

	mac, err := blake2b.New256(keyBytes[:])
	if err != nil {
		return nil, fmt.Errorf("ecc: blinding mac: %w", err)
	}
	mac.Write(coin.Bytes())
	tweak := mac.Sum(nil)

	var tweakScalar Scalar
	tweakScalar.SetByteSlice(tweak)

	var keyScalar Scalar
	keyScalar.SetByteSlice(keyBytes[:])

	return AddScalars(&keyScalar, &tweakScalar), nil
}

// GenerateSeedKid derives the deterministic range-proof seed
// (beam::Output::GenerateSeedKid) from the shared commitment's public bytes
// and the wallet's master seed, so both parties compute identical creator
// params from public inputs plus their own private master contribution.
func (m *MasterKDF) GenerateSeedKid(commitment Point) ([32]byte, error) {
	key := blake2b.Sum256([]byte(m.master.String()))
	mac, err := blake2b.New256(key[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("ecc: seed kid mac: %w", err)
	}
	mac.Write(commitment.SerializeCompressed())
	sum := mac.Sum(nil)

	var out [32]byte
	copy(out[:], sum)
	return out, nil
}
