package walletkit

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/klingon-exchange/locktx-core/internal/ecc"
	"github.com/klingon-exchange/locktx-core/internal/txbuilder"
)

func seed(label string) []byte {
	sum := sha256.Sum256([]byte(label))
	return sum[:]
}

func mustWallet(t *testing.T, label string, funding []txbuilder.Coin) *MemWallet {
	t.Helper()
	w, err := NewMemWallet(seed(label), 0, funding)
	if err != nil {
		t.Fatalf("NewMemWallet: %v", err)
	}
	return w
}

func TestNewMemWalletTracksFundingSubkeys(t *testing.T) {
	w := mustWallet(t, "funding-subkeys", []txbuilder.Coin{
		{ID: ecc.CoinID{SubIdx: 3, Value: 100}, Value: 100},
	})
	// nextSub must start past the highest funded index so a later
	// NewChangeCoin never collides with a pre-existing coin's derivation.
	coin, err := w.NewChangeCoin(50)
	if err != nil {
		t.Fatalf("NewChangeCoin: %v", err)
	}
	if coin.ID.SubIdx != 4 {
		t.Fatalf("expected change coin at subkey 4, got %d", coin.ID.SubIdx)
	}
}

func TestSelectCoinsGreedyAndInsufficient(t *testing.T) {
	w := mustWallet(t, "select-coins", []txbuilder.Coin{
		{ID: ecc.CoinID{SubIdx: 0, Value: 100}, Value: 100},
		{ID: ecc.CoinID{SubIdx: 1, Value: 200}, Value: 200},
	})

	picked, err := w.SelectCoins(150)
	if err != nil {
		t.Fatalf("SelectCoins: %v", err)
	}
	var total uint64
	for _, c := range picked {
		total += c.Value
	}
	if total < 150 {
		t.Fatalf("expected selected coins to cover 150, got %d", total)
	}
	if w.Balance() != 300-total {
		t.Fatalf("expected remaining balance %d, got %d", 300-total, w.Balance())
	}

	if _, err := w.SelectCoins(1_000_000); err != txbuilder.ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestSelectCoinsConsumesSelected(t *testing.T) {
	w := mustWallet(t, "select-consumes", []txbuilder.Coin{
		{ID: ecc.CoinID{SubIdx: 0, Value: 100}, Value: 100},
	})
	if _, err := w.SelectCoins(100); err != nil {
		t.Fatalf("SelectCoins: %v", err)
	}
	if w.Balance() != 0 {
		t.Fatalf("expected wallet drained after selecting its only coin, got balance %d", w.Balance())
	}
	if _, err := w.SelectCoins(1); err != txbuilder.ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds on empty wallet, got %v", err)
	}
}

func TestNewChangeCoinDerivesDistinctBlinding(t *testing.T) {
	w := mustWallet(t, "change-blinding", nil)

	c1, err := w.NewChangeCoin(10)
	if err != nil {
		t.Fatalf("NewChangeCoin 1: %v", err)
	}
	c2, err := w.NewChangeCoin(10)
	if err != nil {
		t.Fatalf("NewChangeCoin 2: %v", err)
	}
	if c1.ID.SubIdx == c2.ID.SubIdx {
		t.Fatal("expected distinct subkey indices across calls")
	}
	b1 := c1.Blinding.Bytes()
	b2 := c2.Blinding.Bytes()
	if bytes.Equal(b1[:], b2[:]) {
		t.Fatal("expected distinct blinding factors for distinct coins")
	}
}

func TestSwitchCommitmentBlindingDeterministic(t *testing.T) {
	w := mustWallet(t, "deterministic-blinding", nil)
	coin := ecc.CoinID{SubIdx: 7, Value: 42, Asset: 0}

	b1, err := w.SwitchCommitmentBlinding(coin)
	if err != nil {
		t.Fatalf("SwitchCommitmentBlinding 1: %v", err)
	}
	b2, err := w.SwitchCommitmentBlinding(coin)
	if err != nil {
		t.Fatalf("SwitchCommitmentBlinding 2: %v", err)
	}
	r1, r2 := b1.Bytes(), b2.Bytes()
	if !bytes.Equal(r1[:], r2[:]) {
		t.Fatal("expected the same CoinID to derive the same blinding every time")
	}
}

func TestGenerateSharedCoinReservesSubkeyWithoutSpendableBalance(t *testing.T) {
	w := mustWallet(t, "shared-coin", nil)
	before := w.Balance()

	id, err := w.GenerateSharedCoin(500)
	if err != nil {
		t.Fatalf("GenerateSharedCoin: %v", err)
	}
	if id.Value != 500 {
		t.Fatalf("expected shared coin ID to carry the requested value, got %d", id.Value)
	}
	if w.Balance() != before {
		t.Fatal("GenerateSharedCoin must not mint a spendable coin")
	}

	changeCoin, err := w.NewChangeCoin(1)
	if err != nil {
		t.Fatalf("NewChangeCoin: %v", err)
	}
	if changeCoin.ID.SubIdx == id.SubIdx {
		t.Fatal("expected the shared coin's subkey to be reserved, not reused")
	}
}

func TestGenerateSeedKid(t *testing.T) {
	w := mustWallet(t, "seed-kid", nil)
	kid, err := w.GenerateSeedKid(ecc.GeneratorG())
	if err != nil {
		t.Fatalf("GenerateSeedKid: %v", err)
	}
	var zero [32]byte
	if kid == zero {
		t.Fatal("expected a non-zero seed kid")
	}
}

func TestFundAndBalance(t *testing.T) {
	w := mustWallet(t, "fund-balance", nil)
	if w.Balance() != 0 {
		t.Fatalf("expected empty wallet to start at 0, got %d", w.Balance())
	}
	w.Fund(txbuilder.Coin{ID: ecc.CoinID{SubIdx: 0, Value: 1000}, Value: 1000})
	w.Fund(txbuilder.Coin{ID: ecc.CoinID{SubIdx: 1, Value: 2000}, Value: 2000})
	if w.Balance() != 3000 {
		t.Fatalf("expected balance 3000, got %d", w.Balance())
	}
}
