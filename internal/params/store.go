package params

import (
	"encoding/binary"
	"fmt"

	"github.com/klingon-exchange/locktx-core/internal/ecc"
)

// Store is the narrow persistence contract spec.md §3/§4.4 requires of the
// host: get returns value-or-absent, set upserts durably. Nothing in this
// package ever deletes a parameter — spec.md §7: "the parameter store is
// append-only in practice... no parameter is ever deleted mid-transaction
// to preserve crash recovery."
type Store interface {
	Get(txID TxID, sub SubTxID, id ParamID) ([]byte, bool, error)
	Set(txID TxID, sub SubTxID, id ParamID, value []byte) error
}

// TypedStore wraps a raw Store with the typed accessors the builder and
// state machine actually use, matching the shape of BaseTransaction's
// templated GetParameter<T>/SetParameter<T> in the original source — made
// explicit per Go type here instead of reached for generically, since each
// value has its own wire encoding (scalar, point, proof, uint).
type TypedStore struct {
	Store
}

// Wrap adapts a raw Store into a TypedStore.
func Wrap(s Store) TypedStore { return TypedStore{Store: s} }

func (s TypedStore) GetBytes(tx TxID, sub SubTxID, id ParamID) ([]byte, bool, error) {
	return s.Get(tx, sub, id)
}

func (s TypedStore) SetBytes(tx TxID, sub SubTxID, id ParamID, v []byte) error {
	return s.Set(tx, sub, id, v)
}

func (s TypedStore) GetUint64(tx TxID, sub SubTxID, id ParamID) (uint64, bool, error) {
	b, ok, err := s.Get(tx, sub, id)
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(b) != 8 {
		return 0, false, fmt.Errorf("params: param %d: expected 8 bytes, got %d", id, len(b))
	}
	return binary.BigEndian.Uint64(b), true, nil
}

func (s TypedStore) SetUint64(tx TxID, sub SubTxID, id ParamID, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return s.Set(tx, sub, id, buf[:])
}

func (s TypedStore) GetUint32(tx TxID, sub SubTxID, id ParamID) (uint32, bool, error) {
	b, ok, err := s.Get(tx, sub, id)
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(b) != 4 {
		return 0, false, fmt.Errorf("params: param %d: expected 4 bytes, got %d", id, len(b))
	}
	return binary.BigEndian.Uint32(b), true, nil
}

func (s TypedStore) SetUint32(tx TxID, sub SubTxID, id ParamID, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return s.Set(tx, sub, id, buf[:])
}

func (s TypedStore) GetBool(tx TxID, sub SubTxID, id ParamID) (bool, bool, error) {
	b, ok, err := s.Get(tx, sub, id)
	if err != nil || !ok {
		return false, ok, err
	}
	if len(b) != 1 {
		return false, false, fmt.Errorf("params: param %d: expected 1 byte, got %d", id, len(b))
	}
	return b[0] != 0, true, nil
}

func (s TypedStore) SetBool(tx TxID, sub SubTxID, id ParamID, v bool) error {
	var b byte
	if v {
		b = 1
	}
	return s.Set(tx, sub, id, []byte{b})
}

func (s TypedStore) GetState(tx TxID, sub SubTxID) (LockState, bool, error) {
	v, ok, err := s.GetUint32(tx, sub, State)
	return LockState(v), ok, err
}

func (s TypedStore) SetState(tx TxID, sub SubTxID, v LockState) error {
	return s.SetUint32(tx, sub, State, uint32(v))
}

func (s TypedStore) GetTxStatus(tx TxID, sub SubTxID) (TxStatusValue, bool, error) {
	v, ok, err := s.GetUint32(tx, sub, TxStatus)
	return TxStatusValue(v), ok, err
}

func (s TypedStore) SetTxStatus(tx TxID, sub SubTxID, v TxStatusValue) error {
	return s.SetUint32(tx, sub, TxStatus, uint32(v))
}

func (s TypedStore) GetScalar(tx TxID, sub SubTxID, id ParamID) (*ecc.Scalar, bool, error) {
	b, ok, err := s.Get(tx, sub, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	var sc ecc.Scalar
	if sc.SetByteSlice(b) {
		return nil, false, fmt.Errorf("params: param %d: scalar overflow", id)
	}
	return &sc, true, nil
}

func (s TypedStore) SetScalar(tx TxID, sub SubTxID, id ParamID, v *ecc.Scalar) error {
	b := v.Bytes()
	return s.Set(tx, sub, id, b[:])
}

func (s TypedStore) GetPoint(tx TxID, sub SubTxID, id ParamID) (ecc.Point, bool, error) {
	b, ok, err := s.Get(tx, sub, id)
	if err != nil || !ok {
		return ecc.Point{}, ok, err
	}
	p, err := ecc.PointFromCompressed(b)
	if err != nil {
		return ecc.Point{}, false, fmt.Errorf("params: param %d: %w", id, err)
	}
	return p, true, nil
}

func (s TypedStore) SetPoint(tx TxID, sub SubTxID, id ParamID, v ecc.Point) error {
	return s.Set(tx, sub, id, v.SerializeCompressed())
}

func (s TypedStore) GetCoinID(tx TxID, sub SubTxID, id ParamID) (ecc.CoinID, bool, error) {
	b, ok, err := s.Get(tx, sub, id)
	if err != nil || !ok || len(b) != 16 {
		if err == nil && ok && len(b) != 16 {
			err = fmt.Errorf("params: param %d: expected 16 bytes, got %d", id, len(b))
		}
		return ecc.CoinID{}, ok && err == nil, err
	}
	return ecc.CoinID{
		SubIdx: binary.BigEndian.Uint32(b[0:4]),
		Value:  binary.BigEndian.Uint64(b[4:12]),
		Asset:  binary.BigEndian.Uint32(b[12:16]),
	}, true, nil
}

func (s TypedStore) SetCoinID(tx TxID, sub SubTxID, id ParamID, v ecc.CoinID) error {
	return s.Set(tx, sub, id, v.Bytes())
}
