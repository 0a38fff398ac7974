package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/klingon-exchange/locktx-core/internal/ecc"
	"github.com/klingon-exchange/locktx-core/internal/locktx"
	"github.com/klingon-exchange/locktx-core/internal/params"
	"github.com/klingon-exchange/locktx-core/internal/rangeproof"
	"github.com/klingon-exchange/locktx-core/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocket is the real two-process Gateway: a single connection to the
// one counterparty this transaction talks to, relaying the three LockTx
// messages as JSON frames. Grounded on the teacher's WSHub, narrowed from a
// many-subscriber broadcast hub to a point-to-point relay, since a LockTx
// Gateway only ever has one peer.
type WebSocket struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	log     *logging.Logger
	handler func(msg locktx.Message) error
}

// NewWebSocket wraps an already-established connection (either side of a
// Dial/Upgrade) as a Gateway.
func NewWebSocket(conn *websocket.Conn, log *logging.Logger) *WebSocket {
	return &WebSocket{conn: conn, log: log.Component("gateway-ws")}
}

// Dial connects to a peer's WebSocket gateway endpoint as a client.
func Dial(url string, log *logging.Logger) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", url, err)
	}
	return NewWebSocket(conn, log), nil
}

// Upgrade promotes an inbound HTTP request to a WebSocket gateway
// connection, for the side acting as server.
func Upgrade(w http.ResponseWriter, r *http.Request, log *logging.Logger) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: upgrade: %w", err)
	}
	return NewWebSocket(conn, log), nil
}

// OnMessage registers the callback invoked for every inbound message, then
// starts the read loop on its own goroutine. Normally this is the
// Manager's Deliver method.
func (g *WebSocket) OnMessage(handler func(msg locktx.Message) error) {
	g.mu.Lock()
	g.handler = handler
	g.mu.Unlock()
	go g.readLoop()
}

func (g *WebSocket) readLoop() {
	for {
		_, data, err := g.conn.ReadMessage()
		if err != nil {
			g.log.Debug("gateway connection closed", "error", err)
			return
		}
		var w wireMessage
		if err := json.Unmarshal(data, &w); err != nil {
			g.log.Error("gateway: malformed frame", "error", err)
			continue
		}
		msg, err := w.toMessage()
		if err != nil {
			g.log.Error("gateway: invalid frame", "error", err)
			continue
		}
		g.mu.Lock()
		handler := g.handler
		g.mu.Unlock()
		if handler == nil {
			continue
		}
		if err := handler(msg); err != nil {
			g.log.Warn("gateway: handler rejected message", "error", err)
		}
	}
}

// Send implements locktx.Gateway.
func (g *WebSocket) Send(msg locktx.Message) bool {
	w := toWire(msg)
	data, err := json.Marshal(w)
	if err != nil {
		g.log.Error("gateway: marshal message", "error", err)
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		g.log.Error("gateway: send failed", "error", err)
		return false
	}
	return true
}

// Close shuts down the underlying connection.
func (g *WebSocket) Close() error {
	return g.conn.Close()
}

// Wire encoding: every cryptographic value crosses as its stable
// compressed/byte form rather than relying on JSON reflection over ecc's
// unexported fields.

type wireInvitation struct {
	SubTxIndex       int32
	Amount           uint64
	Fee              uint64
	AtomicSwapAmount uint64
	AtomicSwapCoin   uint32
	IsSender         bool
	MinHeight        uint64
	PeerProtoVersion uint32
	PeerPublicExcess []byte
	PeerPublicNonce  []byte
}

type wirePart2 struct {
	SubTxIndex int32
	Signature  []byte
	Offset     []byte

	MSig []byte

	ProtoVersion           uint32
	PublicExcess           []byte
	PublicNonce            []byte
	PublicSharedBlinding   []byte
	SharedBulletProofPart2 []byte
}

type wirePart3 struct {
	SubTxIndex             int32
	SharedBulletProofPart3 []byte
}

type wireMessage struct {
	TxID          [16]byte
	SubTxIndex    int32
	Kind          int
	FailureReason int

	Invitation *wireInvitation
	Part2      *wirePart2
	Part3      *wirePart3
}

func scalarBytes(s *ecc.Scalar) []byte {
	if s == nil {
		return nil
	}
	b := s.Bytes()
	return b[:]
}

func scalarFromBytes(b []byte) (*ecc.Scalar, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var s ecc.Scalar
	if s.SetByteSlice(b) {
		return nil, fmt.Errorf("gateway: scalar overflow")
	}
	return &s, nil
}

func pointBytes(p *ecc.Point) []byte {
	if p == nil {
		return nil
	}
	return p.SerializeCompressed()
}

func pointFromBytes(b []byte) (*ecc.Point, error) {
	if len(b) == 0 {
		return nil, nil
	}
	p, err := ecc.PointFromCompressed(b)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func toWire(msg locktx.Message) wireMessage {
	w := wireMessage{
		TxID:          msg.TxID,
		SubTxIndex:    int32(msg.SubTxIndex),
		Kind:          int(msg.Kind),
		FailureReason: int(msg.FailureReason),
	}
	if msg.Invitation != nil {
		inv := msg.Invitation
		peerExcess := inv.PeerPublicExcess
		peerNonce := inv.PeerPublicNonce
		w.Invitation = &wireInvitation{
			SubTxIndex:       int32(inv.SubTxIndex),
			Amount:           inv.Amount,
			Fee:              inv.Fee,
			AtomicSwapAmount: inv.AtomicSwapAmount,
			AtomicSwapCoin:   inv.AtomicSwapCoin,
			IsSender:         inv.IsSender,
			MinHeight:        inv.MinHeight,
			PeerProtoVersion: inv.PeerProtoVersion,
			PeerPublicExcess: pointBytes(&peerExcess),
			PeerPublicNonce:  pointBytes(&peerNonce),
		}
	}
	if msg.Part2 != nil {
		p2 := msg.Part2
		var msigData []byte
		if p2.MSig != nil {
			msigData = p2.MSig.Data
		}
		w.Part2 = &wirePart2{
			SubTxIndex:             int32(p2.SubTxIndex),
			Signature:              scalarBytes(p2.Signature),
			Offset:                 scalarBytes(p2.Offset),
			MSig:                   msigData,
			ProtoVersion:           p2.ProtoVersion,
			PublicExcess:           pointBytes(p2.PublicExcess),
			PublicNonce:            pointBytes(p2.PublicNonce),
			PublicSharedBlinding:   pointBytes(p2.PublicSharedBlinding),
			SharedBulletProofPart2: p2.SharedBulletProofPart2,
		}
	}
	if msg.Part3 != nil {
		w.Part3 = &wirePart3{
			SubTxIndex:             int32(msg.Part3.SubTxIndex),
			SharedBulletProofPart3: msg.Part3.SharedBulletProofPart3,
		}
	}
	return w
}

func (w wireMessage) toMessage() (locktx.Message, error) {
	msg := locktx.Message{
		TxID:          w.TxID,
		SubTxIndex:    params.SubTxID(w.SubTxIndex),
		Kind:          locktx.MessageKind(w.Kind),
		FailureReason: locktx.FailureReason(w.FailureReason),
	}
	if w.Invitation != nil {
		inv := w.Invitation
		excess, err := pointFromBytes(inv.PeerPublicExcess)
		if err != nil {
			return msg, err
		}
		nonce, err := pointFromBytes(inv.PeerPublicNonce)
		if err != nil {
			return msg, err
		}
		out := &locktx.Invitation{
			SubTxIndex:       params.SubTxID(inv.SubTxIndex),
			Amount:           inv.Amount,
			Fee:              inv.Fee,
			AtomicSwapAmount: inv.AtomicSwapAmount,
			AtomicSwapCoin:   inv.AtomicSwapCoin,
			IsSender:         inv.IsSender,
			MinHeight:        inv.MinHeight,
			PeerProtoVersion: inv.PeerProtoVersion,
		}
		if excess != nil {
			out.PeerPublicExcess = *excess
		}
		if nonce != nil {
			out.PeerPublicNonce = *nonce
		}
		msg.Invitation = out
	}
	if w.Part2 != nil {
		p2 := w.Part2
		sig, err := scalarFromBytes(p2.Signature)
		if err != nil {
			return msg, err
		}
		offset, err := scalarFromBytes(p2.Offset)
		if err != nil {
			return msg, err
		}
		excess, err := pointFromBytes(p2.PublicExcess)
		if err != nil {
			return msg, err
		}
		nonce, err := pointFromBytes(p2.PublicNonce)
		if err != nil {
			return msg, err
		}
		shared, err := pointFromBytes(p2.PublicSharedBlinding)
		if err != nil {
			return msg, err
		}
		out := &locktx.BulletProofPart2{
			SubTxIndex:             params.SubTxID(p2.SubTxIndex),
			Signature:              sig,
			Offset:                 offset,
			ProtoVersion:           p2.ProtoVersion,
			PublicExcess:           excess,
			PublicNonce:            nonce,
			PublicSharedBlinding:   shared,
			SharedBulletProofPart2: p2.SharedBulletProofPart2,
		}
		if p2.MSig != nil {
			out.MSig = &rangeproof.MultiSig{Data: p2.MSig}
		}
		msg.Part2 = out
	}
	if w.Part3 != nil {
		msg.Part3 = &locktx.BulletProofPart3{
			SubTxIndex:             params.SubTxID(w.Part3.SubTxIndex),
			SharedBulletProofPart3: w.Part3.SharedBulletProofPart3,
		}
	}
	return msg, nil
}
