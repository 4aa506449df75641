package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useDefault installs h as the process-wide handle for the test and
// restores the previous one afterwards.
func useDefault(t *testing.T, h *Handle) {
	t.Helper()
	prev := SetDefault(h)
	t.Cleanup(func() { SetDefault(prev) })
}

func TestReader_ExplicitHandle(t *testing.T) {
	h, _ := newTestHandle(t)
	r := NewReader(h)

	images, err := r.Read(context.Background(), twoChannelPath)
	require.NoError(t, err)
	assert.Len(t, images, 2)

	md, err := r.GetMetadata(context.Background(), twoChannelPath)
	require.NoError(t, err)
	assert.Len(t, md, 2)
	require.NoError(t, r.Close())
}

func TestReader_CloseKeepsRuntimeRunning(t *testing.T) {
	h, fake := newTestHandle(t)

	for range 3 {
		r := NewReader(h)
		_, err := r.Read(context.Background(), twoChannelPath)
		require.NoError(t, err)
		require.NoError(t, r.Close())
	}
	assert.Equal(t, StateRunning, h.State())
	assert.Equal(t, 1, fake.Inits(), "readers share one runtime")
	assert.Equal(t, 0, fake.Shutdowns())
}

func TestReader_UsesDefaultHandle(t *testing.T) {
	h, _ := newTestHandle(t)
	useDefault(t, h)

	md, err := NewReader(nil).GetMetadata(context.Background(), twoChannelPath)
	require.NoError(t, err)
	assert.Contains(t, md, "STED 640")
}

func TestReader_NoDefault(t *testing.T) {
	useDefault(t, nil)

	_, err := NewReader(nil).Read(context.Background(), twoChannelPath)
	assert.ErrorIs(t, err, ErrNoDefault)
	_, err = NewReader(nil).GetMetadata(context.Background(), twoChannelPath)
	assert.ErrorIs(t, err, ErrNoDefault)
}

func TestWithReader(t *testing.T) {
	h, _ := newTestHandle(t)

	var count int
	err := WithReader(h, func(r *Reader) error {
		images, err := r.Read(context.Background(), twoChannelPath)
		count = len(images)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	boom := errors.New("boom")
	err = WithReader(h, func(*Reader) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestShutdownStopsDefault(t *testing.T) {
	h, fake := newTestHandle(t)
	useDefault(t, h)
	require.NoError(t, h.Start())

	require.NoError(t, Shutdown())
	assert.Equal(t, StateStopped, h.State())
	assert.Equal(t, 1, fake.Shutdowns())

	SetDefault(nil)
	assert.NoError(t, Shutdown(), "shutdown without a default handle is a no-op")
}

func TestSetDefaultReturnsPrevious(t *testing.T) {
	first, _ := newTestHandle(t)
	second, _ := newTestHandle(t)
	useDefault(t, first)

	prev := SetDefault(second)
	assert.Same(t, first, prev)
	assert.Same(t, second, Default())
}
