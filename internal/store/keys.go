package store

import (
	"fmt"

	"github.com/google/orderedcode"
)

//---------------------------------- KEY ENCODING -----------------------------------------

const (
	// prefixes are unique across all tables
	prefixStageCheckpoint = int64(0)
	prefixHeader          = int64(1)
	prefixCanonicalHash   = int64(2)
	prefixBody            = int64(3)
	prefixStateRoot       = int64(4)
	prefixTxLookup        = int64(5)
	prefixSyncHead        = int64(6)
	prefixInvalidHeader   = int64(7)
)

// StageCheckpointKey is the key under which a stage's checkpoint is stored.
func StageCheckpointKey(stageID string) []byte {
	return mustAppend(prefixStageCheckpoint, stageID)
}

func headerKey(height uint64) []byte {
	return mustAppend(prefixHeader, height)
}

func canonicalHashKey(height uint64) []byte {
	return mustAppend(prefixCanonicalHash, height)
}

func bodyKey(height uint64) []byte {
	return mustAppend(prefixBody, height)
}

func stateRootKey(height uint64) []byte {
	return mustAppend(prefixStateRoot, height)
}

func txLookupKey(txHash []byte) []byte {
	return mustAppend(prefixTxLookup, string(txHash))
}

func syncHeadKey() []byte {
	return mustAppend(prefixSyncHead)
}

func invalidHeaderKey(hash []byte) []byte {
	return mustAppend(prefixInvalidHeader, string(hash))
}

func mustAppend(items ...interface{}) []byte {
	key, err := orderedcode.Append(nil, items...)
	if err != nil {
		panic(err)
	}
	return key
}

func encodeHeight(height uint64) []byte {
	return mustAppend(height)
}

func decodeHeight(bz []byte) (uint64, error) {
	var height uint64
	remaining, err := orderedcode.Parse(string(bz), &height)
	if err != nil {
		return 0, fmt.Errorf("decoding height: %w", err)
	}
	if remaining != "" {
		return 0, fmt.Errorf("decoding height: %d trailing bytes", len(remaining))
	}
	return height, nil
}
