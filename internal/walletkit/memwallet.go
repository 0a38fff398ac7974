// Package walletkit provides a minimal wallet implementation that
// satisfies both the coin-selection and key-derivation contracts the
// locktx/txbuilder packages need (txbuilder.InputSource and
// locktx.WalletKDF). It lives above both of those packages specifically to
// avoid the import cycle a combined type would create if placed inside
// ecc, which both txbuilder and locktx already import.
//
// Grounded on the teacher's internal/wallet/wallet.go HD-derivation shape,
// generalized from per-chain address derivation to per-coin blinding
// derivation, and on internal/swap's in-memory UTXO bookkeeping for the
// spendable coin set.
package walletkit

import (
	"sync"

	"github.com/klingon-exchange/locktx-core/internal/ecc"
	"github.com/klingon-exchange/locktx-core/internal/txbuilder"
)

// MemWallet is a process-local wallet: a master KDF rooted at a caller-
// supplied seed, a monotonic subkey counter, and an in-memory set of
// spendable coins. It is the reference InputSource/WalletKDF used by the
// driver (cmd/locktxd) demo run and by locktx's own tests; a production
// host would back SelectCoins with a real on-chain UTXO index instead of a
// fixed in-memory list.
type MemWallet struct {
	mu sync.Mutex

	kdf      *ecc.MasterKDF
	nextSub  uint32
	unspent  []txbuilder.Coin
	assetTag uint32
}

// NewMemWallet derives a wallet's master KDF from seed and seeds its
// spendable coin set with funding.
func NewMemWallet(seed []byte, assetTag uint32, funding []txbuilder.Coin) (*MemWallet, error) {
	kdf, err := ecc.NewMasterKDF(seed)
	if err != nil {
		return nil, err
	}
	w := &MemWallet{kdf: kdf, assetTag: assetTag}
	w.unspent = append(w.unspent, funding...)
	for _, c := range funding {
		if c.ID.SubIdx >= w.nextSub {
			w.nextSub = c.ID.SubIdx + 1
		}
	}
	return w, nil
}

// reserveSubkey returns the next unused subkey index (caller must hold mu).
func (w *MemWallet) reserveSubkey() uint32 {
	idx := w.nextSub
	w.nextSub++
	return idx
}

// SelectCoins implements txbuilder.InputSource: a simple greedy scan of
// the in-memory unspent set, consuming whichever coins it returns.
func (w *MemWallet) SelectCoins(amount uint64) ([]txbuilder.Coin, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var total uint64
	var picked []txbuilder.Coin
	var remaining []txbuilder.Coin
	for _, c := range w.unspent {
		if total < amount {
			picked = append(picked, c)
			total += c.Value
			continue
		}
		remaining = append(remaining, c)
	}
	if total < amount {
		return nil, txbuilder.ErrInsufficientFunds
	}
	w.unspent = remaining
	return picked, nil
}

// NewChangeCoin implements txbuilder.InputSource: mints a fresh coin at
// the next subkey index and derives its blinding through the master KDF.
func (w *MemWallet) NewChangeCoin(value uint64) (txbuilder.Coin, error) {
	w.mu.Lock()
	idx := w.reserveSubkey()
	w.mu.Unlock()

	id := ecc.CoinID{SubIdx: idx, Value: value, Asset: w.assetTag}
	blinding, err := w.kdf.SwitchCommitmentBlinding(id)
	if err != nil {
		return txbuilder.Coin{}, err
	}
	coin := txbuilder.Coin{ID: id, Value: value, Blinding: blinding}

	w.mu.Lock()
	w.unspent = append(w.unspent, coin)
	w.mu.Unlock()
	return coin, nil
}

// GenerateSharedCoin implements locktx.WalletKDF: reserves a fresh subkey
// index for the two-party shared output, without minting a spendable coin
// (the shared output belongs to neither party alone).
func (w *MemWallet) GenerateSharedCoin(amount uint64) (ecc.CoinID, error) {
	w.mu.Lock()
	idx := w.reserveSubkey()
	w.mu.Unlock()
	return ecc.CoinID{SubIdx: idx, Value: amount, Asset: w.assetTag}, nil
}

// SwitchCommitmentBlinding implements locktx.WalletKDF.
func (w *MemWallet) SwitchCommitmentBlinding(coin ecc.CoinID) (*ecc.Scalar, error) {
	return w.kdf.SwitchCommitmentBlinding(coin)
}

// GenerateSeedKid implements locktx.WalletKDF.
func (w *MemWallet) GenerateSeedKid(commitment ecc.Point) ([32]byte, error) {
	return w.kdf.GenerateSeedKid(commitment)
}

// Fund adds a pre-existing coin to the wallet's spendable set, for tests
// and for seeding a demo run with a starting balance.
func (w *MemWallet) Fund(coin txbuilder.Coin) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unspent = append(w.unspent, coin)
	if coin.ID.SubIdx >= w.nextSub {
		w.nextSub = coin.ID.SubIdx + 1
	}
}

// Balance returns the total value of unspent coins.
func (w *MemWallet) Balance() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total uint64
	for _, c := range w.unspent {
		total += c.Value
	}
	return total
}
