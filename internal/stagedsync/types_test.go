package stagedsync

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func u64(v uint64) *uint64 { return &v }

func TestExecInputNextRange(t *testing.T) {
	testCases := []struct {
		name      string
		in        ExecInput
		threshold uint64
		from, to  uint64
		last      bool
	}{
		{"fresh stage", ExecInput{Target: u64(10)}, 0, 1, 10, true},
		{"threshold caps the range", ExecInput{Target: u64(10)}, 4, 1, 4, false},
		{"resumes after checkpoint", ExecInput{Target: u64(10), Checkpoint: &Checkpoint{BlockNumber: 8}}, 4, 9, 10, true},
		{"target reached", ExecInput{Target: u64(5), Checkpoint: &Checkpoint{BlockNumber: 5}}, 4, 6, 5, true},
		{"no target", ExecInput{Checkpoint: &Checkpoint{BlockNumber: 3}}, 4, 4, 3, true},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			from, to, last := tc.in.NextRange(tc.threshold)
			assert.Equal(t, tc.from, from)
			assert.Equal(t, tc.to, to)
			assert.Equal(t, tc.last, last)
		})
	}
}

func TestExecInputBound(t *testing.T) {
	assert.EqualValues(t, 7, *ExecInput{}.Bound(7).Target)
	assert.EqualValues(t, 7, *ExecInput{Target: u64(9)}.Bound(7).Target)
	assert.EqualValues(t, 5, *ExecInput{Target: u64(5)}.Bound(7).Target)

	target := u64(9)
	in := ExecInput{Target: target}
	_ = in.Bound(3)
	assert.EqualValues(t, 9, *target)
}

func TestExecInputDone(t *testing.T) {
	in := ExecInput{Target: u64(10), Checkpoint: &Checkpoint{BlockNumber: 4}}
	assert.False(t, in.TargetReached())
	assert.EqualValues(t, 5, in.NextBlock())
	assert.False(t, in.IsDone(ExecOutput{Checkpoint: NewCheckpoint(9)}))
	assert.True(t, in.IsDone(ExecOutput{Checkpoint: NewCheckpoint(10)}))
	assert.True(t, ExecInput{}.IsDone(ExecOutput{}))
	assert.Equal(t, Checkpoint{}, ExecInput{}.CurrentCheckpoint())
}

func TestUnwindInputRange(t *testing.T) {
	in := UnwindInput{UnwindTo: 3, Checkpoint: NewCheckpoint(7)}
	from, to := in.Range()
	assert.EqualValues(t, 4, from)
	assert.EqualValues(t, 7, to)
	assert.False(t, in.Empty())

	assert.True(t, UnwindInput{UnwindTo: 7, Checkpoint: NewCheckpoint(7)}.Empty())
}

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	testCases := map[string]struct {
		err  error
		kind ErrorKind
	}{
		"plain":     {base, KindFatal},
		"fatal":     {Fatal(base), KindFatal},
		"retryable": {Retryable(base), KindRetryable},
		"wrapped":   {fmt.Errorf("fetching: %w", Retryable(base)), KindRetryable},
		"bad block": {&BadBlockError{Height: 3, Err: base}, KindBadBlock},
		"invalid":   {validationErrorf("broken %d", 1), KindValidation},
	}
	for name, tc := range testCases {
		assert.Equal(t, tc.kind, KindOf(tc.err), name)
	}

	assert.Nil(t, Fatal(nil))
	assert.Nil(t, Retryable(nil))
	assert.True(t, errors.Is(Retryable(base), base))
}
