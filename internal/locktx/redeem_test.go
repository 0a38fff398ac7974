package locktx

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/klingon-exchange/locktx-core/internal/ecc"
	"github.com/klingon-exchange/locktx-core/internal/params"
	"github.com/klingon-exchange/locktx-core/internal/txbuilder"
	"github.com/klingon-exchange/locktx-core/internal/walletkit"
	"github.com/klingon-exchange/locktx-core/pkg/logging"
)

func newTestStoreForRedeem(t *testing.T) params.TypedStore {
	t.Helper()
	raw, err := params.NewSQLiteStore(params.SQLiteConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	return params.Wrap(raw)
}

func newTestWallet(t *testing.T, label string, funding uint64) *walletkit.MemWallet {
	t.Helper()
	sum := sha256.Sum256([]byte(label))
	w, err := walletkit.NewMemWallet(sum[:], 0, nil)
	if err != nil {
		t.Fatalf("NewMemWallet: %v", err)
	}
	blinding, err := ecc.RandomScalar()
	if err != nil {
		t.Fatalf("RandomScalar: %v", err)
	}
	w.Fund(txbuilder.Coin{ID: ecc.CoinID{SubIdx: 0, Value: funding}, Value: funding, Blinding: blinding})
	return w
}

func TestRedeemRequiresPreimage(t *testing.T) {
	store := newTestStoreForRedeem(t)
	wallet := newTestWallet(t, "redeem-no-preimage", 1_000_000)
	r := NewRedeemMachine(params.NewTxID(), store, logging.Default(), wallet)

	if _, err := r.Redeem(500_000, 1_000, nil); err != ErrMissingPreimage {
		t.Fatalf("expected ErrMissingPreimage, got %v", err)
	}
}

func TestRedeemProducesValidTransaction(t *testing.T) {
	store := newTestStoreForRedeem(t)
	wallet := newTestWallet(t, "redeem-happy-path", 1_000_000)
	r := NewRedeemMachine(params.NewTxID(), store, logging.Default(), wallet)

	hash := sha256.Sum256([]byte("the preimage"))
	tx, err := r.Redeem(500_000, 1_000, hash[:])
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if tx == nil {
		t.Fatal("expected a non-nil transaction")
	}
	if err := tx.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestRedeemIsIdempotentAcrossCalls(t *testing.T) {
	store := newTestStoreForRedeem(t)
	wallet := newTestWallet(t, "redeem-idempotent", 1_000_000)
	txID := params.NewTxID()
	hash := sha256.Sum256([]byte("idempotent preimage"))

	r1 := NewRedeemMachine(txID, store, logging.Default(), wallet)
	tx1, err := r1.Redeem(500_000, 1_000, hash[:])
	if err != nil {
		t.Fatalf("first Redeem: %v", err)
	}

	// A fresh machine over the same store and txID, as a restarted process
	// would build, must reach the same finalized kernel rather than
	// re-deriving a different nonce or re-selecting different coins.
	r2 := NewRedeemMachine(txID, store, logging.Default(), wallet)
	tx2, err := r2.Redeem(500_000, 1_000, hash[:])
	if err != nil {
		t.Fatalf("second Redeem: %v", err)
	}

	e1 := tx1.Kernel.Excess.SerializeCompressed()
	e2 := tx2.Kernel.Excess.SerializeCompressed()
	if !bytes.Equal(e1, e2) {
		t.Fatalf("expected the same kernel excess across resumed Redeem calls, got %x vs %x", e1, e2)
	}
}
