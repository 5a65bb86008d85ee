package artifact

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutGet(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	digest, err := s.Put("runs/r1/ingest", []byte("hello"))
	require.NoError(t, err)
	assert.Len(t, digest, 64)

	got, err := s.Get("runs/r1/ingest")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	assert.True(t, s.Exists("runs/r1/ingest"))
	assert.False(t, s.Exists("runs/r1/train"))
}

func TestStore_DigestIsContentAddressed(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	d1, err := s.Put("a/b", []byte("same"))
	require.NoError(t, err)
	d2, err := s.Put("c/d", []byte("same"))
	require.NoError(t, err)
	d3, err := s.Put("e/f", []byte("different"))
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.NotEqual(t, d1, d3)
}

func TestStore_GetMissing(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get("runs/missing/stage")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_InvalidKeys(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "a//b", "../escape", "a/../b", "."} {
		_, err := s.Put(key, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}

func TestStore_JSONRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	type payload struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}

	_, err = s.PutJSON(StageKey("r1", "evaluate"), payload{Name: "candidate", Score: 0.83})
	require.NoError(t, err)

	var got payload
	require.NoError(t, s.GetJSON(StageKey("r1", "evaluate"), &got))
	assert.Equal(t, payload{Name: "candidate", Score: 0.83}, got)
}

func TestStore_RepointKey(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Put("k", []byte("v1"))
	require.NoError(t, err)
	_, err = s.Put("k", []byte("v2"))
	require.NoError(t, err)

	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestStore_ConcurrentPutsSameKey(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	const writers = 16
	values := make(map[string]struct{}, writers)

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		v := fmt.Sprintf("payload-%d", i)
		values[v] = struct{}{}

		wg.Add(1)
		go func(i int, v string) {
			defer wg.Done()
			_, errs[i] = s.Put("runs/r1/ingest", []byte(v))
		}(i, v)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	// The key ends up pointing at one intact payload, never a torn write.
	got, err := s.Get("runs/r1/ingest")
	require.NoError(t, err)
	assert.Contains(t, values, string(got))
}

func TestStageKey(t *testing.T) {
	assert.Equal(t, "runs/r-123/train", StageKey("r-123", "train"))
}
