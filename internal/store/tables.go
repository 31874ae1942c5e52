package store

import (
	"fmt"

	"github.com/google/orderedcode"

	"github.com/tendermint/stagesync/internal/chain"
)

// ReadHeader returns the stored header at height, or nil if there is none.
func ReadHeader(r Reader, height uint64) (*chain.Header, error) {
	bz, err := r.Get(headerKey(height))
	if err != nil || bz == nil {
		return nil, err
	}
	return chain.UnmarshalHeader(bz)
}

// WriteHeader stores h under its height.
func WriteHeader(w Writer, h *chain.Header) error {
	bz, err := h.Marshal()
	if err != nil {
		return err
	}
	return w.Set(headerKey(h.Height), bz)
}

// DeleteHeader removes the header at height.
func DeleteHeader(w Writer, height uint64) error {
	return w.Delete(headerKey(height))
}

// ReadCanonicalHash returns the canonical block hash at height, or nil.
func ReadCanonicalHash(r Reader, height uint64) ([]byte, error) {
	return r.Get(canonicalHashKey(height))
}

// WriteCanonicalHash marks hash as the canonical block at height.
func WriteCanonicalHash(w Writer, height uint64, hash []byte) error {
	return w.Set(canonicalHashKey(height), hash)
}

// DeleteCanonicalHash removes the canonical hash at height.
func DeleteCanonicalHash(w Writer, height uint64) error {
	return w.Delete(canonicalHashKey(height))
}

// ReadBody returns the stored body at height, or nil if there is none.
func ReadBody(r Reader, height uint64) (*chain.Body, error) {
	bz, err := r.Get(bodyKey(height))
	if err != nil || bz == nil {
		return nil, err
	}
	return chain.UnmarshalBody(bz)
}

// WriteBody stores b at height.
func WriteBody(w Writer, height uint64, b *chain.Body) error {
	bz, err := b.Marshal()
	if err != nil {
		return err
	}
	return w.Set(bodyKey(height), bz)
}

// DeleteBody removes the body at height.
func DeleteBody(w Writer, height uint64) error {
	return w.Delete(bodyKey(height))
}

// StateEntry is the execution result of one block.
type StateEntry struct {
	Root []byte
	// TxCount is the number of transactions executed up to and including
	// this block.
	TxCount uint64
}

// ReadStateEntry returns the execution result at height, or nil.
func ReadStateEntry(r Reader, height uint64) (*StateEntry, error) {
	bz, err := r.Get(stateRootKey(height))
	if err != nil || bz == nil {
		return nil, err
	}

	var (
		root  string
		entry StateEntry
	)
	remaining, err := orderedcode.Parse(string(bz), &root, &entry.TxCount)
	if err != nil {
		return nil, fmt.Errorf("decoding state entry %d: %w", height, err)
	}
	if remaining != "" {
		return nil, fmt.Errorf("decoding state entry %d: %d trailing bytes", height, len(remaining))
	}
	entry.Root = []byte(root)
	return &entry, nil
}

// WriteStateEntry stores the execution result at height.
func WriteStateEntry(w Writer, height uint64, e StateEntry) error {
	return w.Set(stateRootKey(height), mustAppend(string(e.Root), e.TxCount))
}

// DeleteStateEntry removes the execution result at height.
func DeleteStateEntry(w Writer, height uint64) error {
	return w.Delete(stateRootKey(height))
}

// ReadTxLookup returns the height of the block including the transaction.
func ReadTxLookup(r Reader, txHash []byte) (height uint64, found bool, err error) {
	bz, err := r.Get(txLookupKey(txHash))
	if err != nil || bz == nil {
		return 0, false, err
	}
	height, err = decodeHeight(bz)
	if err != nil {
		return 0, false, err
	}
	return height, true, nil
}

// WriteTxLookup indexes the transaction hash to the height including it.
func WriteTxLookup(w Writer, txHash []byte, height uint64) error {
	return w.Set(txLookupKey(txHash), encodeHeight(height))
}

// DeleteTxLookup removes the transaction's index entry.
func DeleteTxLookup(w Writer, txHash []byte) error {
	return w.Delete(txLookupKey(txHash))
}

// ReadSyncHead returns the height up to which the node is fully synced.
func ReadSyncHead(r Reader) (height uint64, found bool, err error) {
	bz, err := r.Get(syncHeadKey())
	if err != nil || bz == nil {
		return 0, false, err
	}
	height, err = decodeHeight(bz)
	if err != nil {
		return 0, false, err
	}
	return height, true, nil
}

// WriteSyncHead records the fully synced height.
func WriteSyncHead(w Writer, height uint64) error {
	return w.Set(syncHeadKey(), encodeHeight(height))
}

// WriteInvalidHeader records a header hash rejected at height so it is never
// accepted again.
func WriteInvalidHeader(w Writer, hash []byte, height uint64) error {
	return w.Set(invalidHeaderKey(hash), encodeHeight(height))
}

// IsInvalidHeader reports whether hash was recorded as invalid.
func IsInvalidHeader(r Reader, hash []byte) (bool, error) {
	return r.Has(invalidHeaderKey(hash))
}
