package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	ID   string
	Name string
}

func TestBaseRegistry_Register(t *testing.T) {
	registry := NewBaseRegistry[testItem]()

	tests := []struct {
		name    string
		item    testItem
		wantErr error
	}{
		{name: "register valid item", item: testItem{ID: "test-1", Name: "Test Item 1"}},
		{name: "register item with empty name", item: testItem{Name: "Test Item"}, wantErr: ErrEmptyName},
		{name: "register duplicate item", item: testItem{ID: "test-1", Name: "Test Item 2"}, wantErr: ErrDuplicate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Register(tt.item.ID, tt.item)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestBaseRegistry_PreservesOrder(t *testing.T) {
	registry := NewBaseRegistry[int]()
	for i, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, registry.Register(name, i))
	}

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, registry.Names())
	assert.Equal(t, []int{0, 1, 2}, registry.List())

	require.NoError(t, registry.Remove("alpha"))
	assert.Equal(t, []string{"zeta", "mid"}, registry.Names())
	assert.Equal(t, []int{0, 2}, registry.List())
	assert.Equal(t, 2, registry.Count())
}

func TestBaseRegistry_GetAndRemove(t *testing.T) {
	registry := NewBaseRegistry[testItem]()
	require.NoError(t, registry.Register("a", testItem{ID: "a", Name: "A"}))

	got, ok := registry.Get("a")
	require.True(t, ok)
	assert.Equal(t, "A", got.Name)

	_, ok = registry.Get("missing")
	assert.False(t, ok)

	err := registry.Remove("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	registry.Clear()
	assert.Equal(t, 0, registry.Count())
	assert.Empty(t, registry.Names())
}

func TestBaseRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewBaseRegistry[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = registry.Register(fmt.Sprintf("item-%d", i), i)
			_, _ = registry.Get(fmt.Sprintf("item-%d", i/2))
			_ = registry.List()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, registry.Count())
	assert.Len(t, registry.Names(), 50)
}
