package consensus

// GenesisMerkleRoot is the fixed 32-byte commitment baked into the genesis
// header (spec.md §6). Identical across nodes in the same network.
var GenesisMerkleRoot = [32]byte{
	0x4d, 0x65, 0x72, 0x6b, 0x6c, 0x65, 0x52, 0x6f,
	0x6f, 0x74, 0x47, 0x65, 0x6e, 0x65, 0x73, 0x69,
	0x73, 0x55, 0x54, 0x58, 0x4f, 0x43, 0x6f, 0x72,
	0x65, 0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x31,
}

// GenesisHeader returns the fixed genesis block header (spec.md §6):
// prev=0..0, time=1_769_936_400, bits=0x207fffff, nonce=2, version=1.
func GenesisHeader() BlockHeader {
	return BlockHeader{
		Version:       1,
		PrevBlockHash: [32]byte{},
		MerkleRoot:    GenesisMerkleRoot,
		Time:          1_769_936_400,
		Bits:          InitialBits,
		Nonce:         2,
	}
}
