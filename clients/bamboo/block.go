package bamboo

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Block is the candidate block a job was built from.
type Block struct {
	ID            uint32
	Timestamp     uint64
	ChallengeSize uint32
	LastHash      []byte
	RootHash      chainhash.Hash
	Transactions  []Transaction
}

// Nonce is the mining target: SHA-256 of the root, the previous hash, the
// challenge size and the timestamp.
func (b *Block) Nonce() []byte {
	var buf bytes.Buffer
	buf.Write(b.RootHash[:])
	buf.Write(b.LastHash)
	binary.Write(&buf, binary.LittleEndian, b.ChallengeSize)
	binary.Write(&buf, binary.LittleEndian, b.Timestamp)
	return chainhash.HashB(buf.Bytes())
}

// MarshalBinary encodes the block with solution in the little endian
// layout the node accepts on /submit.
func (b *Block) MarshalBinary(solution []byte) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	binary.Write(&buf, le, b.ID)
	binary.Write(&buf, le, b.Timestamp)
	binary.Write(&buf, le, b.ChallengeSize)
	binary.Write(&buf, le, int32(len(b.Transactions)))
	buf.Write(b.LastHash)
	buf.Write(b.RootHash[:])
	buf.Write(solution)
	for _, tx := range b.Transactions {
		buf.Write(fixed(tx.Signature, SignatureSize))
		buf.Write(fixed(tx.SigningKey, SigningKeySize))
		binary.Write(&buf, le, tx.Timestamp)
		buf.Write(fixed(tx.To, WalletSize))
		binary.Write(&buf, le, tx.Amount)
		binary.Write(&buf, le, tx.Fee)
		var isFee uint32
		if tx.IsTransactionFee {
			isFee = 1
		}
		binary.Write(&buf, le, isFee)
	}
	return buf.Bytes()
}

// fixed pads or truncates b to n bytes.
func fixed(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}
