package lsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSegmentRejectsExistingFile(t *testing.T) {
	dir := t.TempDir()

	seg, err := OpenSegment(1, dir)
	require.NoError(t, err)
	defer seg.Close()

	_, err = OpenSegment(1, dir)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrSegmentOpen))
}

func TestSegmentWriteAndSync(t *testing.T) {
	dir := t.TempDir()

	seg, err := OpenSegment(1, dir)
	require.NoError(t, err)
	defer seg.Close()

	n, err := seg.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, seg.Sync())
}

func TestSegmentCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	seg, err := OpenSegment(1, dir)
	require.NoError(t, err)

	require.NoError(t, seg.Close())
	require.NoError(t, seg.Close())
}

func TestSegmentRemoveDeletesFile(t *testing.T) {
	dir := t.TempDir()

	seg, err := OpenSegment(1, dir)
	require.NoError(t, err)

	path := seg.Path()
	require.NoError(t, seg.Remove())

	_, err = openExistingSegment(1, path)
	assert.Error(t, err)
}

func TestSegmentIDMatchesConstructorArgument(t *testing.T) {
	dir := t.TempDir()

	seg, err := OpenSegment(42, dir)
	require.NoError(t, err)
	defer seg.Close()

	assert.Equal(t, uint64(42), seg.ID())
}
