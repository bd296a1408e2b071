package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aptpod/wsconn-go/errors"
	"github.com/aptpod/wsconn-go/message"
	. "github.com/aptpod/wsconn-go/storage"
)

func TestMarshalUnmarshal(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	envs := []message.Envelope{
		{ID: "a", Type: message.TypeText, Data: []byte("hello"), Timestamp: ts, Priority: message.PriorityNormal},
		{ID: "b", Type: message.TypeBinary, Data: []byte{0, 1}, Timestamp: ts, ExpiresAt: ts.Add(time.Minute), RetryCount: 2},
	}
	bs, err := Marshal(envs)
	require.NoError(t, err)
	got, err := Unmarshal(bs)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, []byte{0, 1}, got[1].Data)
	assert.True(t, ts.Add(time.Minute).Equal(got[1].ExpiresAt))
	assert.Equal(t, 2, got[1].RetryCount)

	got, err = Unmarshal(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Unmarshal([]byte(`{"version":99,"messages":[]}`))
	assert.ErrorIs(t, err, errors.ErrMalformedMessage)
	_, err = Unmarshal([]byte(`not json`))
	assert.ErrorIs(t, err, errors.ErrMalformedMessage)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	got, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, got)

	envs := []message.Envelope{{ID: "1", Type: message.TypeText, Data: []byte("x")}}
	require.NoError(t, s.Save(ctx, "k", envs))
	envs[0].ID = "mutated"

	got, err = s.Load(ctx, "k")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Clear(ctx, "k"))
	assert.Equal(t, 0, s.Len())
}
