package decoder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDecoder struct {
	blockCount   int
	acquired     int
	submitted    []submission
	initErr      error
	acquireCalls int
}

type submission struct {
	pts   uint64
	size  int
	flags uint32
	data  []byte
}

func (f *fakeDecoder) Init(cfg Config) error { return f.initErr }
func (f *fakeDecoder) Start() error          { return nil }

func (f *fakeDecoder) AcquireInput(timeout time.Duration) (*InputBuffer, error) {
	f.acquireCalls++
	if f.acquired < f.blockCount {
		f.acquired++
		return nil, ErrWouldBlock
	}
	return &InputBuffer{Index: 0, Data: make([]byte, 4096)}, nil
}

func (f *fakeDecoder) SubmitInput(buf *InputBuffer, pts uint64, size int, flags uint32) error {
	data := make([]byte, size)
	copy(data, buf.Data[:size])
	f.submitted = append(f.submitted, submission{pts: pts, size: size, flags: flags, data: data})
	return nil
}

func (f *fakeDecoder) Stop() error { return nil }

func TestPushWithBackpressureSucceedsAfterTransientBlocks(t *testing.T) {
	dec := &fakeDecoder{blockCount: 3}
	policy := BackpressurePolicy{RetryDelay: time.Millisecond, MaxRetries: 500}

	err := PushWithBackpressure(dec, []byte("frame-data"), 1000, 0, policy, "video")
	require.NoError(t, err)
	require.Len(t, dec.submitted, 1)
	assert.Equal(t, uint64(1000), dec.submitted[0].pts)
	assert.Equal(t, "frame-data", string(dec.submitted[0].data))
}

func TestPushWithBackpressureDropsAfterRetryWindow(t *testing.T) {
	dec := &fakeDecoder{blockCount: 1000000}
	policy := BackpressurePolicy{RetryDelay: time.Microsecond, MaxRetries: 5}

	err := PushWithBackpressure(dec, []byte("x"), 1, 0, policy, "video")
	assert.Error(t, err)
	assert.Empty(t, dec.submitted)
}

func TestRegistryRegisterGetRemove(t *testing.T) {
	reg := NewRegistry()
	dec := &fakeDecoder{}
	handle := reg.Register(dec)

	got, ok := reg.Get(handle)
	require.True(t, ok)
	assert.Same(t, dec, got)

	reg.Remove(handle)
	_, ok = reg.Get(handle)
	assert.False(t, ok)
}
