package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/tendermint/stagesync/crypto"
)

// Part selects what Corrupt damages.
type Part int

const (
	// PartHeader makes the header's hash disagree with its contents.
	PartHeader Part = iota
	// PartBody adds a transaction the header's TxRoot does not commit to.
	PartBody
	// PartState gives the header a state root execution cannot reproduce.
	// The header stays hash-consistent and linked to its descendants.
	PartState
)

func (p Part) String() string {
	switch p {
	case PartHeader:
		return "header"
	case PartBody:
		return "body"
	case PartState:
		return "state"
	default:
		return fmt.Sprintf("Part(%d)", int(p))
	}
}

const (
	maxTxsPerBlock = 4
	blockTime      = 6 * time.Second
)

var genesisTime = time.Unix(1600000000, 0).UTC()

// MemoryChain is a deterministic in-memory canonical chain. Given the same
// seed and the same sequence of calls it always produces identical blocks.
type MemoryChain struct {
	mtx     sync.RWMutex
	rng     *rand.Rand
	headers []*Header
	bodies  []*Body

	unavailable int
}

var (
	_ HeaderSource = (*MemoryChain)(nil)
	_ BodySource   = (*MemoryChain)(nil)
)

// NewMemoryChain creates a chain holding a genesis block followed by blocks
// generated from seed.
func NewMemoryChain(seed int64, blocks uint64) *MemoryChain {
	c := &MemoryChain{rng: rand.New(rand.NewSource(seed))} // nolint:gosec
	c.appendBlock(&Body{})
	c.generate(blocks)
	return c
}

// Generate appends n blocks on top of the current tip.
func (c *MemoryChain) Generate(n uint64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.generate(n)
}

// Reorg replaces every block from height from upwards with a new branch of
// the same length generated from seed. Height 0 cannot be replaced.
func (c *MemoryChain) Reorg(from uint64, seed int64) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	tip := c.tip()
	if from == 0 || from > tip {
		return fmt.Errorf("cannot reorg from %d: valid range is [1, %d]", from, tip)
	}

	c.headers = c.headers[:from]
	c.bodies = c.bodies[:from]
	c.rng = rand.New(rand.NewSource(seed)) // nolint:gosec
	c.generate(tip - from + 1)
	return nil
}

// Corrupt damages the block at height so that the stage responsible for
// part rejects it.
func (c *MemoryChain) Corrupt(height uint64, part Part) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if height == 0 || height > c.tip() {
		return fmt.Errorf("cannot corrupt block %d: valid range is [1, %d]", height, c.tip())
	}

	switch part {
	case PartHeader:
		h := c.headers[height]
		h.Hash = crypto.Keccak256(h.Hash)
	case PartBody:
		b := c.bodies[height]
		b.Txs = append(b.Txs, []byte("unexpected transaction"))
	case PartState:
		h := c.headers[height]
		h.StateRoot = crypto.Keccak256(h.StateRoot, []byte("corrupt"))
		c.relinkFrom(height)
	default:
		return fmt.Errorf("unknown part %v", part)
	}
	return nil
}

// SetUnavailable makes the next n source calls fail with ErrUnavailable.
func (c *MemoryChain) SetUnavailable(n int) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.unavailable = n
}

// Tip returns the height of the highest block.
func (c *MemoryChain) Tip(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if err := c.checkAvailable(); err != nil {
		return 0, err
	}
	return c.tip(), nil
}

// Header returns a copy of the header at height.
func (c *MemoryChain) Header(ctx context.Context, height uint64) (*Header, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if err := c.checkAvailable(); err != nil {
		return nil, err
	}
	if height > c.tip() {
		return nil, fmt.Errorf("header %d: %w", height, ErrNotFound)
	}
	h := *c.headers[height]
	return &h, nil
}

// Body returns a copy of the body at height.
func (c *MemoryChain) Body(ctx context.Context, height uint64) (*Body, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if err := c.checkAvailable(); err != nil {
		return nil, err
	}
	if height > c.tip() {
		return nil, fmt.Errorf("body %d: %w", height, ErrNotFound)
	}
	txs := make([][]byte, len(c.bodies[height].Txs))
	copy(txs, c.bodies[height].Txs)
	return &Body{Txs: txs}, nil
}

func (c *MemoryChain) checkAvailable() error {
	if c.unavailable > 0 {
		c.unavailable--
		return ErrUnavailable
	}
	return nil
}

func (c *MemoryChain) tip() uint64 {
	return uint64(len(c.headers) - 1)
}

func (c *MemoryChain) generate(n uint64) {
	for i := uint64(0); i < n; i++ {
		height := uint64(len(c.headers))
		count := c.rng.Intn(maxTxsPerBlock + 1)
		body := &Body{Txs: make([][]byte, 0, count)}
		for j := 0; j < count; j++ {
			tx := make([]byte, 17)
			binary.BigEndian.PutUint64(tx, height)
			binary.BigEndian.PutUint64(tx[8:], c.rng.Uint64())
			tx[16] = byte(j)
			body.Txs = append(body.Txs, tx)
		}
		c.appendBlock(body)
	}
}

func (c *MemoryChain) appendBlock(body *Body) {
	height := uint64(len(c.headers))
	h := &Header{
		Height: height,
		TxRoot: body.TxRoot(),
		Time:   genesisTime.Add(time.Duration(height) * blockTime),
	}
	var parentRoot []byte
	if height > 0 {
		parent := c.headers[height-1]
		h.ParentHash = parent.Hash
		parentRoot = parent.StateRoot
	}
	h.StateRoot = NextStateRoot(parentRoot, h.TxRoot, height)
	h.Hash = h.ComputeHash()

	c.headers = append(c.headers, h)
	c.bodies = append(c.bodies, body)
}

// relinkFrom recomputes the hash of the header at height and re-points every
// descendant at its rewritten parent.
func (c *MemoryChain) relinkFrom(height uint64) {
	for i := height; i < uint64(len(c.headers)); i++ {
		h := c.headers[i]
		if i > height {
			h.ParentHash = c.headers[i-1].Hash
		}
		h.Hash = h.ComputeHash()
	}
}
