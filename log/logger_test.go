package log_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/aptpod/wsconn-go/log"
)

func TestGenTrackID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := GenTrackID()
		require.Regexp(t, "^[0-9a-f]{8}$", id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 90)
}

func TestTrack(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TrackConnID(ctx))
	assert.Empty(t, TrackSessionID(ctx))
	assert.Empty(t, TrackMember(ctx))

	ctx = WithTrackMember(WithTrackConnID(ctx, "conn-1"), "backup")
	assert.Equal(t, "conn-1", TrackConnID(ctx))
	assert.Equal(t, "backup", TrackMember(ctx))

	s1 := WithTrackSessionID(ctx)
	s2 := WithTrackSessionID(ctx)
	assert.Regexp(t, "^[0-9a-f]{8}$", TrackSessionID(s1))
	assert.Equal(t, "conn-1", TrackConnID(s1))
	assert.NotEqual(t, TrackSessionID(s1), TrackSessionID(s2))
}
