package locktx

import (
	"bytes"
	"testing"

	"github.com/klingon-exchange/locktx-core/internal/params"
	"github.com/klingon-exchange/locktx-core/pkg/logging"
)

func TestRefundProducesValidTransaction(t *testing.T) {
	store := newTestStoreForRedeem(t)
	wallet := newTestWallet(t, "refund-happy-path", 1_000_000)
	r := NewRefundMachine(params.NewTxID(), store, logging.Default(), wallet)

	tx, err := r.Refund(500_000, 1_000, 100)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if tx == nil {
		t.Fatal("expected a non-nil transaction")
	}
	if err := tx.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestRefundIsIdempotentAcrossCalls(t *testing.T) {
	store := newTestStoreForRedeem(t)
	wallet := newTestWallet(t, "refund-idempotent", 1_000_000)
	txID := params.NewTxID()

	r1 := NewRefundMachine(txID, store, logging.Default(), wallet)
	tx1, err := r1.Refund(500_000, 1_000, 144)
	if err != nil {
		t.Fatalf("first Refund: %v", err)
	}

	r2 := NewRefundMachine(txID, store, logging.Default(), wallet)
	tx2, err := r2.Refund(500_000, 1_000, 144)
	if err != nil {
		t.Fatalf("second Refund: %v", err)
	}

	e1 := tx1.Kernel.Excess.SerializeCompressed()
	e2 := tx2.Kernel.Excess.SerializeCompressed()
	if !bytes.Equal(e1, e2) {
		t.Fatalf("expected the same kernel excess across resumed Refund calls, got %x vs %x", e1, e2)
	}
}
