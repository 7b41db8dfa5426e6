package record

import (
	"strings"
	"sync"
	"testing"

	"github.com/maxpert/livefeed/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AppendAssignsMonotonicIDs(t *testing.T) {
	s := NewStore(0)

	for i := 1; i <= 5; i++ {
		rec, err := s.Append("msg")
		require.NoError(t, err)
		assert.Equal(t, uint64(i), rec.ID)
	}
}

func TestStore_ListAllReturnsCreationOrder(t *testing.T) {
	s := NewStore(0)

	_, err := s.Append("hello")
	require.NoError(t, err)
	_, err = s.Append("world")
	require.NoError(t, err)

	assert.Equal(t, []Record{
		{ID: 1, Content: "hello"},
		{ID: 2, Content: "world"},
	}, s.ListAll())
	assert.Equal(t, 2, s.Len())
}

func TestStore_ListAllIsSnapshot(t *testing.T) {
	s := NewStore(0)
	_, err := s.Append("a")
	require.NoError(t, err)

	snap := s.ListAll()
	snap[0].Content = "mutated"

	_, err = s.Append("b")
	require.NoError(t, err)

	assert.Len(t, snap, 1)
	assert.Equal(t, "a", s.ListAll()[0].Content)
}

func TestStore_RejectsInvalidContent(t *testing.T) {
	s := NewStore(8)

	tests := []struct {
		name    string
		content string
		target  error
	}{
		{"empty", "", ErrEmptyContent},
		{"whitespace", "  \t\n", ErrEmptyContent},
		{"too long", strings.Repeat("x", 9), ErrContentTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Append(tt.content)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, errs.CodeInvalidInput, errs.CodeOf(err))
		})
	}

	assert.Zero(t, s.Len())

	// A rejected append must not consume an id.
	rec, err := s.Append("ok")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.ID)
}

func TestStore_ConcurrentAppendsProduceUniqueIDs(t *testing.T) {
	s := NewStore(0)

	const workers = 8
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := s.Append("x")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	all := s.ListAll()
	require.Len(t, all, workers*perWorker)
	for i, rec := range all {
		assert.Equal(t, uint64(i+1), rec.ID)
	}
}

func TestCreateInput_Validate(t *testing.T) {
	assert.NoError(t, CreateInput{Content: "hi"}.Validate(0))
	assert.NoError(t, CreateInput{Content: strings.Repeat("é", 4)}.Validate(4))
	assert.Error(t, CreateInput{Content: strings.Repeat("é", 5)}.Validate(4))
	assert.Error(t, CreateInput{}.Validate(0))
}

func TestStore_Get(t *testing.T) {
	s := NewStore(0)
	_, err := s.Append("first")
	require.NoError(t, err)
	_, err = s.Append("second")
	require.NoError(t, err)

	rec, err := s.Get(2)
	require.NoError(t, err)
	assert.Equal(t, Record{ID: 2, Content: "second"}, rec)

	for _, id := range []uint64{0, 3} {
		_, err := s.Get(id)
		require.Error(t, err)
		assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
	}
}

func TestStore_AfterPages(t *testing.T) {
	s := NewStore(0)
	for _, c := range []string{"a", "b", "c", "d", "e"} {
		_, err := s.Append(c)
		require.NoError(t, err)
	}

	page, more := s.After(0, 2)
	assert.True(t, more)
	assert.Equal(t, []Record{{ID: 1, Content: "a"}, {ID: 2, Content: "b"}}, page)

	page, more = s.After(2, 2)
	assert.True(t, more)
	assert.Equal(t, uint64(3), page[0].ID)

	page, more = s.After(4, 2)
	assert.False(t, more)
	assert.Equal(t, []Record{{ID: 5, Content: "e"}}, page)

	page, more = s.After(5, 2)
	assert.False(t, more)
	assert.Empty(t, page)

	page, _ = s.After(0, 0)
	assert.Len(t, page, 5)
}
