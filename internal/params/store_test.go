package params

import (
	"testing"

	"github.com/klingon-exchange/locktx-core/internal/ecc"
)

func newTestStore(t *testing.T) TypedStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(SQLiteConfig{DataDir: dir})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return Wrap(s)
}

func TestGetAbsentParam(t *testing.T) {
	store := newTestStore(t)
	txID := NewTxID()

	_, ok, err := store.GetUint64(txID, LockTx, Amount)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected absent parameter to report ok=false")
	}
}

func TestSetGetUint64RoundTrip(t *testing.T) {
	store := newTestStore(t)
	txID := NewTxID()

	if err := store.SetUint64(txID, LockTx, Amount, 100); err != nil {
		t.Fatalf("SetUint64: %v", err)
	}
	got, ok, err := store.GetUint64(txID, LockTx, Amount)
	if err != nil || !ok {
		t.Fatalf("GetUint64: got=%d ok=%v err=%v", got, ok, err)
	}
	if got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
}

func TestSetOverwritesIdempotently(t *testing.T) {
	store := newTestStore(t)
	txID := NewTxID()

	if err := store.SetUint64(txID, LockTx, Fee, 1); err != nil {
		t.Fatalf("SetUint64: %v", err)
	}
	if err := store.SetUint64(txID, LockTx, Fee, 1); err != nil {
		t.Fatalf("SetUint64 (repeat): %v", err)
	}
	got, _, _ := store.GetUint64(txID, LockTx, Fee)
	if got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}

func TestStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	txID := NewTxID()

	if err := store.SetState(txID, LockTx, StateInvitation); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	got, ok, err := store.GetState(txID, LockTx)
	if err != nil || !ok {
		t.Fatalf("GetState: ok=%v err=%v", ok, err)
	}
	if got != StateInvitation {
		t.Fatalf("expected StateInvitation, got %v", got)
	}
}

func TestScalarRoundTrip(t *testing.T) {
	store := newTestStore(t)
	txID := NewTxID()

	s, err := ecc.RandomScalar()
	if err != nil {
		t.Fatalf("RandomScalar: %v", err)
	}
	if err := store.SetScalar(txID, LockTx, SharedBlindingFactor, s); err != nil {
		t.Fatalf("SetScalar: %v", err)
	}
	got, ok, err := store.GetScalar(txID, LockTx, SharedBlindingFactor)
	if err != nil || !ok {
		t.Fatalf("GetScalar: ok=%v err=%v", ok, err)
	}
	if !got.Equals(s) {
		t.Fatal("round-tripped scalar does not match original")
	}
}

func TestPointRoundTrip(t *testing.T) {
	store := newTestStore(t)
	txID := NewTxID()

	s, err := ecc.RandomScalar()
	if err != nil {
		t.Fatalf("RandomScalar: %v", err)
	}
	p := ecc.GeneratorG().ScalarMult(s)

	if err := store.SetPoint(txID, LockTx, PeerPublicExcess, p); err != nil {
		t.Fatalf("SetPoint: %v", err)
	}
	got, ok, err := store.GetPoint(txID, LockTx, PeerPublicExcess)
	if err != nil || !ok {
		t.Fatalf("GetPoint: ok=%v err=%v", ok, err)
	}
	if string(got.SerializeCompressed()) != string(p.SerializeCompressed()) {
		t.Fatal("round-tripped point does not match original")
	}
}

func TestParamsAreScopedPerSubTx(t *testing.T) {
	store := newTestStore(t)
	txID := NewTxID()

	if err := store.SetUint64(txID, LockTx, Amount, 100); err != nil {
		t.Fatalf("SetUint64: %v", err)
	}
	_, ok, err := store.GetUint64(txID, RedeemTx, Amount)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected Amount under RedeemTx to be absent (scoped per sub-tx)")
	}
}
