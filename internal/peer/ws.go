package peer

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/brollup/internal/wire"
)

// WSPeer is a Capability backed by a single websocket connection,
// framing every request/response with internal/wire's fixed header and
// a 16-byte request-id prefix (this package's own correlation scheme,
// opaque to the wire frame's payload) so concurrent in-flight requests
// on one connection can be matched to their responses.
//
// Grounded on the teacher's internal/node/message_sender.go (per-request
// correlation ID, pending-response map, deadline-bound wait) adapted
// from libp2p streams to a plain gorilla/websocket connection.
type WSPeer struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[[16]byte]chan wsResponse
	closed  bool
}

type wsResponse struct {
	payload []byte
	err     error
}

// DialWSPeer opens a websocket connection to addr and starts its read
// loop.
func DialWSPeer(addr string) (*WSPeer, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("peer: dial %s: %w", addr, err)
	}
	return NewWSPeer(conn), nil
}

// NewWSPeer wraps an already-established websocket connection, e.g. one
// accepted by an http.Handler upgrading an inbound connection.
func NewWSPeer(conn *websocket.Conn) *WSPeer {
	p := &WSPeer{conn: conn, pending: make(map[[16]byte]chan wsResponse)}
	go p.readLoop()
	return p
}

func (p *WSPeer) readLoop() {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			p.failAllPending(err)
			return
		}
		msg, err := wire.ReadMessage(bytes.NewReader(data))
		if err != nil || len(msg.Payload) < 16 {
			continue
		}
		var id [16]byte
		copy(id[:], msg.Payload[:16])
		body := msg.Payload[16:]

		p.mu.Lock()
		ch, ok := p.pending[id]
		if ok {
			delete(p.pending, id)
		}
		p.mu.Unlock()
		if ok {
			ch <- wsResponse{payload: body}
		}
	}
}

func (p *WSPeer) failAllPending(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, ch := range p.pending {
		ch <- wsResponse{err: err}
		delete(p.pending, id)
	}
}

func (p *WSPeer) request(ctx context.Context, kind wire.Kind, payload []byte) ([]byte, error) {
	id := uuid.New()
	var idBytes [16]byte
	copy(idBytes[:], id[:])

	framed := make([]byte, 16+len(payload))
	copy(framed, idBytes[:])
	copy(framed[16:], payload)

	ch := make(chan wsResponse, 1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrConnClosed
	}
	p.pending[idBytes] = ch
	p.mu.Unlock()

	msg := wire.NewMessage(kind, framed)
	if err := p.conn.WriteMessage(websocket.BinaryMessage, msg.Encode()); err != nil {
		p.mu.Lock()
		delete(p.pending, idBytes)
		p.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp.payload, resp.err
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, idBytes)
		p.mu.Unlock()
		return nil, ErrTimeout
	}
}

func (p *WSPeer) Ping(ctx context.Context) error {
	_, err := p.request(ctx, wire.KindPing, nil)
	return err
}

func (p *WSPeer) RequestVSEKeymap(ctx context.Context, payload []byte) ([]byte, error) {
	return p.request(ctx, wire.KindRequestVSEKeymap, payload)
}

func (p *WSPeer) DeliverVSESetup(ctx context.Context, payload []byte) error {
	_, err := p.request(ctx, wire.KindDeliverVSESetup, payload)
	return err
}

func (p *WSPeer) RetrieveVSESetup(ctx context.Context, payload []byte) ([]byte, error) {
	return p.request(ctx, wire.KindRetrieveVSESetup, payload)
}

func (p *WSPeer) RequestDKGPackages(ctx context.Context, setupHeight, count uint64) ([]byte, error) {
	payload := wire.EncodeRequestDKGPackagesPayload(setupHeight, count)
	return p.request(ctx, wire.KindRequestDKGPackages, payload[:])
}

func (p *WSPeer) DeliverDKGSessions(ctx context.Context, payload []byte) error {
	_, err := p.request(ctx, wire.KindDeliverDKGSessions, payload)
	return err
}

func (p *WSPeer) RequestOpCov(ctx context.Context, payload []byte) ([]byte, error) {
	return p.request(ctx, wire.KindRequestOpCov, payload)
}

func (p *WSPeer) RequestCommit(ctx context.Context, payload []byte) ([]byte, error) {
	return p.request(ctx, wire.KindRequestCommit, payload)
}

func (p *WSPeer) RequestUphold(ctx context.Context, payload []byte) ([]byte, error) {
	return p.request(ctx, wire.KindRequestUphold, payload)
}

func (p *WSPeer) RequestPartialSigs(ctx context.Context, payload []byte) ([]byte, error) {
	return p.request(ctx, wire.KindRequestPartialSigs, payload)
}

func (p *WSPeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.conn.Close()
}

// Upgrader is the shared websocket upgrader used by cmd/rollupd's
// accept loop.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Accept upgrades an inbound HTTP connection to a websocket and wraps it
// as a WSPeer.
func Accept(w http.ResponseWriter, r *http.Request) (*WSPeer, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWSPeer(conn), nil
}

