package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/orderedcode"

	"github.com/tendermint/stagesync/crypto"
	"github.com/tendermint/stagesync/crypto/merkle"
)

var (
	// ErrNotFound is returned by a source asked for a height above its tip.
	ErrNotFound = errors.New("block not found")
	// ErrUnavailable is a transient source failure; the request may succeed
	// when retried.
	ErrUnavailable = errors.New("source temporarily unavailable")
)

// HeaderSource serves the canonical chain's headers.
type HeaderSource interface {
	Tip(ctx context.Context) (uint64, error)
	Header(ctx context.Context, height uint64) (*Header, error)
}

// BodySource serves the canonical chain's block bodies.
type BodySource interface {
	Body(ctx context.Context, height uint64) (*Body, error)
}

// Header is a block header. Hash covers every other field.
type Header struct {
	Height     uint64
	ParentHash []byte
	TxRoot     []byte
	StateRoot  []byte
	Time       time.Time
	Hash       []byte
}

// ComputeHash returns the hash the header should carry.
func (h *Header) ComputeHash() []byte {
	bz, err := orderedcode.Append(nil,
		h.Height,
		string(h.ParentHash),
		string(h.TxRoot),
		string(h.StateRoot),
		h.Time.UnixNano(),
	)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256(bz)
}

// ValidateBasic checks the header is self-consistent.
func (h *Header) ValidateBasic() error {
	if len(h.Hash) != crypto.HashSize {
		return fmt.Errorf("invalid hash length %d", len(h.Hash))
	}
	if h.Height > 0 && len(h.ParentHash) != crypto.HashSize {
		return fmt.Errorf("invalid parent hash length %d", len(h.ParentHash))
	}
	if !bytes.Equal(h.Hash, h.ComputeHash()) {
		return fmt.Errorf("header %d: hash mismatch: got %X, want %X", h.Height, h.Hash, h.ComputeHash())
	}
	return nil
}

// Marshal encodes the header.
func (h *Header) Marshal() ([]byte, error) {
	return orderedcode.Append(nil,
		h.Height,
		string(h.ParentHash),
		string(h.TxRoot),
		string(h.StateRoot),
		h.Time.UnixNano(),
		string(h.Hash),
	)
}

// UnmarshalHeader decodes a header produced by Header.Marshal.
func UnmarshalHeader(bz []byte) (*Header, error) {
	var (
		h                               Header
		parent, txRoot, stateRoot, hash string
		nanos                           int64
	)
	remaining, err := orderedcode.Parse(string(bz),
		&h.Height, &parent, &txRoot, &stateRoot, &nanos, &hash)
	if err != nil {
		return nil, fmt.Errorf("decoding header: %w", err)
	}
	if remaining != "" {
		return nil, fmt.Errorf("decoding header: %d trailing bytes", len(remaining))
	}
	h.ParentHash = bytesOrNil(parent)
	h.TxRoot = bytesOrNil(txRoot)
	h.StateRoot = bytesOrNil(stateRoot)
	h.Hash = bytesOrNil(hash)
	h.Time = time.Unix(0, nanos).UTC()
	return &h, nil
}

// Body holds a block's transactions in order.
type Body struct {
	Txs [][]byte
}

// TxRoot is the merkle root of the body's transactions.
func (b *Body) TxRoot() []byte {
	return merkle.HashFromByteSlices(b.Txs)
}

// Marshal encodes the body.
func (b *Body) Marshal() ([]byte, error) {
	items := make([]interface{}, 0, len(b.Txs)+1)
	items = append(items, uint64(len(b.Txs)))
	for _, tx := range b.Txs {
		items = append(items, string(tx))
	}
	return orderedcode.Append(nil, items...)
}

// UnmarshalBody decodes a body produced by Body.Marshal.
func UnmarshalBody(bz []byte) (*Body, error) {
	var n uint64
	remaining, err := orderedcode.Parse(string(bz), &n)
	if err != nil {
		return nil, fmt.Errorf("decoding body: %w", err)
	}

	b := &Body{Txs: make([][]byte, 0, n)}
	for i := uint64(0); i < n; i++ {
		var tx string
		remaining, err = orderedcode.Parse(remaining, &tx)
		if err != nil {
			return nil, fmt.Errorf("decoding body tx %d: %w", i, err)
		}
		b.Txs = append(b.Txs, []byte(tx))
	}
	if remaining != "" {
		return nil, fmt.Errorf("decoding body: %d trailing bytes", len(remaining))
	}
	return b, nil
}

// TxHash identifies a transaction.
func TxHash(tx []byte) []byte {
	return crypto.Keccak256(tx)
}

// NextStateRoot folds a block into the state root of its parent.
func NextStateRoot(parentRoot, txRoot []byte, height uint64) []byte {
	hbz, err := orderedcode.Append(nil, height)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256(parentRoot, txRoot, hbz)
}

func bytesOrNil(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}
