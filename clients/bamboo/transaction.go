package bamboo

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	SignatureSize  = 64
	SigningKeySize = 32
	WalletSize     = 25

	// TxInfoSize is the size of one record returned by /gettx, padding
	// included.
	TxInfoSize = 184

	offSignature  = 0
	offSigningKey = 64
	offTimestamp  = 96
	offTo         = 104
	offFrom       = 129
	offAmount     = 160
	offFee        = 168
	offIsFee      = 176
)

// Transaction is a pending transaction or the block reward.
type Transaction struct {
	Signature        []byte
	SigningKey       []byte
	Timestamp        uint64
	To               []byte
	From             []byte
	Amount           uint64
	Fee              uint64
	IsTransactionFee bool
}

// ParseTransactions decodes the fixed size records of a /gettx body.
// Trailing bytes short of a full record are ignored.
func ParseTransactions(data []byte) []Transaction {
	n := len(data) / TxInfoSize
	txs := make([]Transaction, 0, n)
	for i := 0; i < n; i++ {
		rec := data[i*TxInfoSize : (i+1)*TxInfoSize]
		txs = append(txs, Transaction{
			Signature:        clone(rec[offSignature : offSignature+SignatureSize]),
			SigningKey:       clone(rec[offSigningKey : offSigningKey+SigningKeySize]),
			Timestamp:        binary.LittleEndian.Uint64(rec[offTimestamp:]),
			To:               clone(rec[offTo : offTo+WalletSize]),
			From:             clone(rec[offFrom : offFrom+WalletSize]),
			Amount:           binary.LittleEndian.Uint64(rec[offAmount:]),
			Fee:              binary.LittleEndian.Uint64(rec[offFee:]),
			IsTransactionFee: binary.LittleEndian.Uint32(rec[offIsFee:]) != 0,
		})
	}
	return txs
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// ContentHash covers the recipient, the sender unless this is a fee
// transaction, then fee, amount and timestamp.
func (tx *Transaction) ContentHash() chainhash.Hash {
	var buf bytes.Buffer
	buf.Write(tx.To)
	if !tx.IsTransactionFee {
		buf.Write(tx.From)
	}
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], tx.Fee)
	buf.Write(le[:])
	binary.LittleEndian.PutUint64(le[:], tx.Amount)
	buf.Write(le[:])
	binary.LittleEndian.PutUint64(le[:], tx.Timestamp)
	buf.Write(le[:])
	return chainhash.HashH(buf.Bytes())
}

// Hash is the Merkle leaf of the transaction.
func (tx *Transaction) Hash() chainhash.Hash {
	content := tx.ContentHash()
	if tx.IsTransactionFee {
		return chainhash.HashH(content[:])
	}
	return chainhash.HashH(append(content[:], tx.Signature...))
}

// MerkleRoot hashes leaves pairwise, pairing the last node with itself on
// odd levels.
func MerkleRoot(txs []Transaction) chainhash.Hash {
	if len(txs) == 0 {
		return chainhash.Hash{}
	}
	level := make([]chainhash.Hash, len(txs))
	for i := range txs {
		level[i] = txs[i].Hash()
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash, len(level)/2)
		for i := range next {
			var pair [2 * chainhash.HashSize]byte
			copy(pair[:], level[2*i][:])
			copy(pair[chainhash.HashSize:], level[2*i+1][:])
			next[i] = chainhash.HashH(pair[:])
		}
		level = next
	}
	return level[0]
}
