package evidence

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatprint/pkg/logger"
)

func newTestProtector(t *testing.T) *Protector {
	t.Helper()
	p, err := NewProtector(logger.Nop(), 0, 0)
	require.NoError(t, err)
	return p
}

func randomBlob(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

func TestProtectGeometry(t *testing.T) {
	p := newTestProtector(t)
	data := randomBlob(9500)

	set, err := p.Protect("ev-1", data)
	require.NoError(t, err)

	assert.Equal(t, "ev-1", set.EvidenceID)
	assert.Equal(t, 9500, set.OriginalSize)
	assert.Equal(t, 10, set.DataShards)
	assert.Equal(t, 3, set.ParityShards)
	assert.Equal(t, 950, set.ShardSize)
	require.Len(t, set.Shards, 13)
	for i, s := range set.Shards {
		assert.Len(t, s, 950, "shard %d", i)
	}
}

func TestProtectRecoverRoundTrip(t *testing.T) {
	p := newTestProtector(t)

	for _, n := range []int{1, 9, 10, 9500, 9999, 10000} {
		data := randomBlob(n)
		set, err := p.Protect("ev", data)
		require.NoError(t, err, "size %d", n)

		got, err := p.RecoverSet(set)
		require.NoError(t, err, "size %d", n)
		assert.True(t, bytes.Equal(data, got), "size %d", n)
	}
}

func TestRecoverWithMissingShards(t *testing.T) {
	p := newTestProtector(t)
	data := randomBlob(9500)

	set, err := p.Protect("ev", data)
	require.NoError(t, err)

	// lose two data shards and one parity shard, the tolerated maximum
	set.Shards[2] = nil
	set.Shards[7] = nil
	set.Shards[12] = nil

	got, err := p.RecoverSet(set)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestRecoverTooFewShards(t *testing.T) {
	p := newTestProtector(t)

	set, err := p.Protect("ev", randomBlob(4096))
	require.NoError(t, err)

	for _, i := range []int{0, 3, 6, 9} {
		set.Shards[i] = nil
	}

	_, err = p.RecoverSet(set)
	require.ErrorIs(t, err, ErrUnrecoverable)
}

func TestRecoverEmptyBlob(t *testing.T) {
	p := newTestProtector(t)

	set, err := p.Protect("ev", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, set.ShardSize, "empty blobs still shard at one byte")

	set.Shards[0] = nil
	got, err := p.RecoverSet(set)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecoverShardCountMismatch(t *testing.T) {
	p := newTestProtector(t)

	_, err := p.Recover(make([][]byte, 7), 100)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnrecoverable, "a malformed request is not a data-loss condition")
}

func TestRecoverSetGeometryMismatch(t *testing.T) {
	wide, err := NewProtector(logger.Nop(), 4, 2)
	require.NoError(t, err)

	set, err := wide.Protect("ev", randomBlob(1024))
	require.NoError(t, err)

	p := newTestProtector(t)
	_, err = p.RecoverSet(set)
	assert.ErrorContains(t, err, "geometry mismatch")
}

func TestRecoverDoesNotMutateInput(t *testing.T) {
	p := newTestProtector(t)
	data := randomBlob(2048)

	set, err := p.Protect("ev", data)
	require.NoError(t, err)

	shards := make([][]byte, len(set.Shards))
	copy(shards, set.Shards)
	shards[1] = nil
	shards[5] = nil

	_, err = p.Recover(shards, set.OriginalSize)
	require.NoError(t, err)
	assert.Nil(t, shards[1], "caller's slice stays untouched")
	assert.Nil(t, shards[5])
}
