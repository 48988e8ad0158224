package draft

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewthread/pkg/models"
)

func anchor(file string, side models.DiffSide, line int64) models.Anchor {
	return models.Anchor{FilePath: file, Side: side, LineNumber: line}
}

func TestRegistry(t *testing.T) {
	t.Run("SetGetClear", func(t *testing.T) {
		r := NewRegistry()
		key := anchor("main.go", models.SideNew, 10)

		_, ok := r.Get(key)
		assert.False(t, ok)

		snapshot := "x := compute()"
		r.Set(models.Draft{Anchor: key, Text: "is this safe?", CodeLine: &snapshot})

		d, ok := r.Get(key)
		require.True(t, ok)
		assert.Equal(t, "is this safe?", d.Text)
		require.NotNil(t, d.CodeLine)
		assert.Equal(t, snapshot, *d.CodeLine)

		r.Clear(key)
		_, ok = r.Get(key)
		assert.False(t, ok)

		// clearing again is harmless
		r.Clear(key)
	})

	t.Run("OneDraftPerAnchor", func(t *testing.T) {
		r := NewRegistry()
		key := anchor("main.go", models.SideNew, 10)

		r.Set(models.Draft{Anchor: key, Text: "first thought"})
		r.Set(models.Draft{Anchor: key, Text: "better thought"})

		d, ok := r.Get(key)
		require.True(t, ok)
		assert.Equal(t, "better thought", d.Text)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("AnchorsAreDistinctPerSideAndLine", func(t *testing.T) {
		r := NewRegistry()
		r.Set(models.Draft{Anchor: anchor("main.go", models.SideOld, 5), Text: "old side"})
		r.Set(models.Draft{Anchor: anchor("main.go", models.SideNew, 5), Text: "new side"})
		r.Set(models.Draft{Anchor: anchor("main.go", models.SideNew, 6), Text: "next line"})
		r.Set(models.Draft{Anchor: anchor("other.go", models.SideNew, 5), Text: "other file"})

		assert.Equal(t, 4, r.Len())
		d, ok := r.Get(anchor("main.go", models.SideOld, 5))
		require.True(t, ok)
		assert.Equal(t, "old side", d.Text)
	})

	t.Run("ClearAll", func(t *testing.T) {
		r := NewRegistry()
		for i := int64(1); i <= 5; i++ {
			r.Set(models.Draft{Anchor: anchor("main.go", models.SideNew, i), Text: "draft"})
		}
		require.Equal(t, 5, r.Len())

		r.ClearAll()
		assert.Zero(t, r.Len())
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		r := NewRegistry()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := anchor(fmt.Sprintf("file%d.go", i%4), models.SideNew, int64(i))
				r.Set(models.Draft{Anchor: key, Text: "concurrent"})
				r.Get(key)
				if i%2 == 0 {
					r.Clear(key)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 10, r.Len())
	})
}
