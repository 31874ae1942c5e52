package stagedsync

import (
	"fmt"

	"github.com/google/orderedcode"

	"github.com/tendermint/stagesync/internal/store"
)

// LoadCheckpoint reads the stage's persisted checkpoint. found is false when
// the stage never committed one.
func LoadCheckpoint(r store.Reader, id StageID) (cp Checkpoint, found bool, err error) {
	bz, err := r.Get(store.StageCheckpointKey(string(id)))
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("reading checkpoint of %s: %w", id, err)
	}
	if bz == nil {
		return Checkpoint{}, false, nil
	}
	cp, err = decodeCheckpoint(bz)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("checkpoint of %s: %w", id, err)
	}
	return cp, true, nil
}

// SaveCheckpoint overwrites the stage's checkpoint.
func SaveCheckpoint(w store.Writer, id StageID, cp Checkpoint) error {
	bz, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	return w.Set(store.StageCheckpointKey(string(id)), bz)
}

func encodeCheckpoint(cp Checkpoint) ([]byte, error) {
	return orderedcode.Append(nil, cp.BlockNumber, string(cp.Extra))
}

func decodeCheckpoint(bz []byte) (Checkpoint, error) {
	var (
		cp    Checkpoint
		extra string
	)
	remaining, err := orderedcode.Parse(string(bz), &cp.BlockNumber, &extra)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("decoding checkpoint: %w", err)
	}
	if remaining != "" {
		return Checkpoint{}, fmt.Errorf("decoding checkpoint: %d trailing bytes", len(remaining))
	}
	if extra != "" {
		cp.Extra = []byte(extra)
	}
	return cp, nil
}
