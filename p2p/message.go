// Package p2p implements the gossip node: framed message exchange, peer
// lifecycle, rate limiting, bans, and the dispatch contract that wires
// incoming messages into the chain/mempool/reorg/store layer (spec.md §4.8,
// C9).
package p2p

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"go.utxod.dev/node/consensus"
)

// MaxFrameBytes bounds a single message's encoded length (spec.md §4.8):
// len == 0 or len > 10 MiB is fatal.
const MaxFrameBytes = 10 * 1024 * 1024

// Per-kind element count caps (spec.md §4.8).
const (
	MaxAddrEntries    = 1000
	MaxInvEntries     = 5000
	MaxGetEntries     = 2000
	MaxHeadersEntries = 2000
)

// Kind names the wire `"type"` tag (spec.md §6: `{"type": "Hello"|"Addr"|…,
// "data": <payload>}`).
type Kind string

const (
	KindHello      Kind = "Hello"
	KindAddr       Kind = "Addr"
	KindInv        Kind = "Inv"
	KindGetTx      Kind = "GetTx"
	KindGetBlock   Kind = "GetBlock"
	KindGetHeaders Kind = "GetHeaders"
	KindHeaders    Kind = "Headers"
	KindPing       Kind = "Ping"
	KindPong       Kind = "Pong"
	KindTx         Kind = "Tx"
	KindBlock      Kind = "Block"
)

// Message is the tagged union every frame carries. Only the field relevant
// to Kind is populated; it is the one marshaled as "data" on the wire.
type Message struct {
	Kind Kind

	Hello      *HelloPayload
	Addr       []string
	Inv        *InvPayload
	GetTx      [][32]byte
	GetBlock   [][32]byte
	GetHeaders [][32]byte // locator
	Headers    []consensus.BlockHeader
	Tx         *consensus.Transaction
	Block      *consensus.Block
}

// HelloPayload is the handshake payload exchanged on connect.
type HelloPayload struct {
	Version     uint32 `json:"version"`
	Network     string `json:"network"`
	NodeID      string `json:"node_id"`
	TxidVersion int    `json:"txid_version"`
}

// InvPayload advertises known txids/block hashes to a peer.
type InvPayload struct {
	Txids  [][32]byte `json:"txids,omitempty"`
	Blocks [][32]byte `json:"blocks,omitempty"`
}

// wireEnvelope is the on-wire shape: {"type": "...", "data": ...}.
type wireEnvelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes m as the spec's {"type", "data"} envelope.
func (m *Message) MarshalJSON() ([]byte, error) {
	var data interface{}
	switch m.Kind {
	case KindHello:
		data = m.Hello
	case KindAddr:
		data = m.Addr
	case KindInv:
		data = m.Inv
	case KindGetTx:
		data = m.GetTx
	case KindGetBlock:
		data = m.GetBlock
	case KindGetHeaders:
		data = m.GetHeaders
	case KindHeaders:
		data = m.Headers
	case KindTx:
		data = m.Tx
	case KindBlock:
		data = m.Block
	case KindPing, KindPong:
		data = nil
	default:
		return nil, fmt.Errorf("p2p: unknown message kind %q", m.Kind)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{Type: m.Kind, Data: raw})
}

// UnmarshalJSON decodes the spec's {"type", "data"} envelope into m.
func (m *Message) UnmarshalJSON(b []byte) error {
	var env wireEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	m.Kind = env.Type
	switch env.Type {
	case KindHello:
		m.Hello = &HelloPayload{}
		return json.Unmarshal(env.Data, m.Hello)
	case KindAddr:
		return json.Unmarshal(env.Data, &m.Addr)
	case KindInv:
		m.Inv = &InvPayload{}
		return json.Unmarshal(env.Data, m.Inv)
	case KindGetTx:
		return json.Unmarshal(env.Data, &m.GetTx)
	case KindGetBlock:
		return json.Unmarshal(env.Data, &m.GetBlock)
	case KindGetHeaders:
		return json.Unmarshal(env.Data, &m.GetHeaders)
	case KindHeaders:
		return json.Unmarshal(env.Data, &m.Headers)
	case KindTx:
		m.Tx = &consensus.Transaction{}
		return json.Unmarshal(env.Data, m.Tx)
	case KindBlock:
		m.Block = &consensus.Block{}
		return json.Unmarshal(env.Data, m.Block)
	case KindPing, KindPong:
		return nil
	default:
		return fmt.Errorf("p2p: unknown message type %q", env.Type)
	}
}

// sizeCheck enforces the per-kind element caps before a message is
// dispatched (spec.md §4.8's "validate size caps" step).
func (m *Message) sizeCheck() error {
	switch m.Kind {
	case KindAddr:
		if len(m.Addr) > MaxAddrEntries {
			return fmt.Errorf("p2p: addr entries exceed %d", MaxAddrEntries)
		}
	case KindInv:
		if m.Inv == nil {
			return fmt.Errorf("p2p: inv message missing payload")
		}
		if len(m.Inv.Txids) > MaxInvEntries || len(m.Inv.Blocks) > MaxInvEntries {
			return fmt.Errorf("p2p: inv entries exceed %d", MaxInvEntries)
		}
	case KindGetTx:
		if len(m.GetTx) > MaxGetEntries {
			return fmt.Errorf("p2p: get_tx entries exceed %d", MaxGetEntries)
		}
	case KindGetBlock:
		if len(m.GetBlock) > MaxGetEntries {
			return fmt.Errorf("p2p: get_block entries exceed %d", MaxGetEntries)
		}
	case KindGetHeaders:
		if len(m.GetHeaders) > MaxGetEntries {
			return fmt.Errorf("p2p: get_headers locator exceeds %d", MaxGetEntries)
		}
	case KindHeaders:
		if len(m.Headers) > MaxHeadersEntries {
			return fmt.Errorf("p2p: headers entries exceed %d", MaxHeadersEntries)
		}
	}
	return nil
}

// WriteFrame encodes msg as a 4-byte big-endian length prefix followed by
// its JSON body.
func WriteFrame(w io.Writer, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("p2p: encode frame: %w", err)
	}
	if len(body) == 0 || uint64(len(body)) > MaxFrameBytes {
		return fmt.Errorf("p2p: frame length %d out of bounds", len(body))
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadFrame reads exactly one length-prefixed JSON frame from r and
// validates the per-kind element caps.
func ReadFrame(r io.Reader) (*Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n == 0 || uint64(n) > MaxFrameBytes {
		return nil, fmt.Errorf("p2p: frame length %d out of bounds", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("p2p: decode frame: %w", err)
	}
	if err := msg.sizeCheck(); err != nil {
		return nil, err
	}
	return &msg, nil
}
