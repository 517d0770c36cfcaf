package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// GenesisHash is the prevHash of the first entry in every account chain.
var GenesisHash = computeGenesisHash()

func computeGenesisHash() string {
	sum := sha256.Sum256([]byte(genesisHashSeed))
	return hex.EncodeToString(sum[:])
}

// ComputeEntryHash returns SHA-256(account || amount || entryType || idempotencyKey || prevHash).
// Variable-length fields are length-prefixed so distinct inputs never share an encoding.
func ComputeEntryHash(account Account, amount Amount, entryType EntryType, idempotencyKey IdempotencyKey, prevHash string) string {
	hasher := sha256.New()
	writeField(hasher, []byte(account.String()))

	var amountBuf [8]byte
	binary.BigEndian.PutUint64(amountBuf[:], uint64(amount.Int64()))
	hasher.Write(amountBuf[:])

	writeField(hasher, []byte(entryType.String()))
	writeField(hasher, []byte(idempotencyKey.String()))
	writeField(hasher, []byte(prevHash))
	return hex.EncodeToString(hasher.Sum(nil))
}

// Verify reports whether the stored hash matches a recomputation from the entry fields.
func (entry Entry) Verify() bool {
	return entry.EntryHash == ComputeEntryHash(entry.Account, entry.Amount, entry.Type, entry.IdempotencyKey, entry.PrevHash)
}

func writeField(hasher hash.Hash, value []byte) {
	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(value)))
	hasher.Write(lengthBuf[:])
	hasher.Write(value)
}
