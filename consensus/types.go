package consensus

// Constants fixed by the wire format (spec.md §6).
const (
	MaxScriptSize  = 10_000
	MaxTxInOuts    = 10_000
	TargetBlockTime = 600 // seconds
	DifficultyWindow = 10
	InitialSubsidy  = 5_000_000_000
	HalvingInterval = 210_000
	MaxFutureDrift  = 7200 // seconds
	InitialBits     = 0x207fffff
)

// OutPoint identifies one output of one transaction. Ordered lexicographically
// when serialized as txid||vout_le (spec.md §3).
type OutPoint struct {
	Txid [32]byte
	Vout uint32
}

// TxOut is a value locked behind an opaque script. The core never inspects
// script contents beyond the length bound; signature/script verification is
// an external wallet/signing-oracle concern (spec.md §1, §9).
type TxOut struct {
	Value        uint64
	ScriptPubkey []byte
}

// TxIn spends a prior output.
type TxIn struct {
	Prevout   OutPoint
	ScriptSig []byte
	Sequence  uint32
}

// Transaction is the unit of value transfer. The first transaction of a
// block (the coinbase) has an empty Vin.
type Transaction struct {
	Version  int32
	Vin      []TxIn
	Vout     []TxOut
	LockTime uint32
}

// BlockHeader is the fixed 80-byte, little-endian-encoded proof-of-work
// header (spec.md §3, §6).
type BlockHeader struct {
	Version       int32
	PrevBlockHash [32]byte
	MerkleRoot    [32]byte
	Time          uint32
	Bits          uint32
	Nonce         uint32
}

// Block pairs a header with its ordered transaction list. Invariant:
// header.MerkleRoot == MerkleRoot(txid_v2(tx) for tx in Txs).
type Block struct {
	Header BlockHeader
	Txs    []Transaction
}

// IsCoinbase reports whether tx has the empty-Vin shape required of the
// first transaction of a block (spec.md §3).
func (tx *Transaction) IsCoinbase() bool {
	return tx != nil && len(tx.Vin) == 0
}
