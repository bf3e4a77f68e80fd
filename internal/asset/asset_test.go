package asset_test

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shopfloor/mtcagent/internal/asset"
)

func newStore(t *testing.T, capacity int) *asset.Store {
	t.Helper()
	s, err := asset.New(&asset.Config{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Capacity: capacity,
	})
	require.NoError(t, err)
	return s
}

const toolXML = `<CuttingTool serialNumber="7"><ToolLife>120</ToolLife></CuttingTool>`

func TestAsset_Store(t *testing.T) {
	t.Parallel()

	t.Run("upsert then get", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 8)
		require.NoError(t, s.Upsert("dev", "tool-1", "CuttingTool", toolXML, "t1"))

		a, ok := s.Get("tool-1")
		require.True(t, ok)
		require.Equal(t, "CuttingTool", a.Type)
		require.Equal(t, "dev", a.DeviceUUID)
		require.Equal(t, "t1", a.Timestamp)
		require.Equal(t, "CuttingTool", a.Root.Tag)
		require.Equal(t, 1, s.Count())
	})

	t.Run("upsert rejects malformed XML", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 8)
		require.Error(t, s.Upsert("dev", "tool-1", "CuttingTool", "<broken", "t1"))
		require.Error(t, s.Upsert("dev", "tool-1", "CuttingTool", "", "t1"))
	})

	t.Run("re-upsert replaces the current state", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 8)
		require.NoError(t, s.Upsert("dev", "tool-1", "CuttingTool", toolXML, "t1"))
		require.NoError(t, s.Upsert("dev", "tool-1", "CuttingTool", `<CuttingTool serialNumber="8"/>`, "t2"))

		a, _ := s.Get("tool-1")
		require.Equal(t, "8", a.Root.SelectAttrValue("serialNumber", ""))
		require.Equal(t, 1, s.Count())
		require.Equal(t, 2, s.BufferLen())
	})

	t.Run("update patches the innermost element", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 8)
		require.NoError(t, s.Upsert("dev", "tool-1", "CuttingTool", toolXML, "t1"))
		require.NoError(t, s.Update("tool-1", "t2", []asset.Patch{{Key: "ToolLife", Value: "90"}}))

		a, _ := s.Get("tool-1")
		require.Equal(t, "90", a.Root.FindElement("ToolLife").Text())
		require.Equal(t, "t2", a.Timestamp)
	})

	t.Run("update creates a missing element", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 8)
		require.NoError(t, s.Upsert("dev", "tool-1", "CuttingTool", toolXML, "t1"))
		require.NoError(t, s.Update("tool-1", "t2", []asset.Patch{{Key: "Diameter", Value: "6.35"}}))

		a, _ := s.Get("tool-1")
		require.Equal(t, "6.35", a.Root.FindElement("Diameter").Text())
	})

	t.Run("update of an unknown asset errors", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 8)
		require.ErrorIs(t, s.Update("nope", "t", nil), asset.ErrNotFound)
	})

	t.Run("update does not mutate published state", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 8)
		require.NoError(t, s.Upsert("dev", "tool-1", "CuttingTool", toolXML, "t1"))
		before, _ := s.Get("tool-1")
		require.NoError(t, s.Update("tool-1", "t2", []asset.Patch{{Key: "ToolLife", Value: "90"}}))
		require.Equal(t, "120", before.Root.FindElement("ToolLife").Text())
	})
}

func TestAsset_Removal(t *testing.T) {
	t.Parallel()

	t.Run("removed assets leave listings but stay retrievable", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 8)
		require.NoError(t, s.Upsert("dev", "tool-1", "CuttingTool", toolXML, "t1"))
		require.NoError(t, s.Remove("tool-1", "t2"))

		require.Empty(t, s.List("", 0))
		require.Equal(t, 0, s.Count())

		a, ok := s.Get("tool-1")
		require.True(t, ok)
		require.True(t, a.Removed)
		require.Equal(t, "t2", a.Timestamp)
	})

	t.Run("repeated removal is a no-op", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 8)
		require.NoError(t, s.Upsert("dev", "tool-1", "CuttingTool", toolXML, "t1"))
		require.NoError(t, s.Remove("tool-1", "t2"))
		before := s.BufferLen()
		require.NoError(t, s.Remove("tool-1", "t3"))
		require.Equal(t, before, s.BufferLen())

		a, _ := s.Get("tool-1")
		require.Equal(t, "t2", a.Timestamp)
	})

	t.Run("removing an unknown asset errors", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 8)
		require.ErrorIs(t, s.Remove("nope", "t"), asset.ErrNotFound)
	})

	t.Run("re-upsert revives a removed asset", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 8)
		require.NoError(t, s.Upsert("dev", "tool-1", "CuttingTool", toolXML, "t1"))
		require.NoError(t, s.Remove("tool-1", "t2"))
		require.NoError(t, s.Upsert("dev", "tool-1", "CuttingTool", toolXML, "t3"))

		a, _ := s.Get("tool-1")
		require.False(t, a.Removed)
		require.Len(t, s.List("", 0), 1)
	})
}

func TestAsset_List(t *testing.T) {
	t.Parallel()

	fill := func(t *testing.T, s *asset.Store, n int, assetType string) {
		t.Helper()
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("%s-%d", assetType, i)
			require.NoError(t, s.Upsert("dev", id, assetType, fmt.Sprintf("<%s/>", assetType), fmt.Sprintf("t%d", i)))
		}
	}

	t.Run("newest first", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 8)
		fill(t, s, 3, "CuttingTool")

		out := s.List("", 0)
		require.Len(t, out, 3)
		require.Equal(t, "CuttingTool-2", out[0].AssetID)
		require.Equal(t, "CuttingTool-0", out[2].AssetID)
	})

	t.Run("type filter and count cap", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 8)
		fill(t, s, 2, "CuttingTool")
		fill(t, s, 2, "Fixture")

		out := s.List("CuttingTool", 0)
		require.Len(t, out, 2)
		for _, a := range out {
			require.Equal(t, "CuttingTool", a.Type)
		}

		out = s.List("", 3)
		require.Len(t, out, 3)
		require.Equal(t, "Fixture-1", out[0].AssetID)
	})

	t.Run("an updated asset is not listed twice", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 8)
		fill(t, s, 2, "CuttingTool")
		require.NoError(t, s.Update("CuttingTool-0", "t9", []asset.Patch{{Key: "ToolLife", Value: "1"}}))

		out := s.List("", 0)
		require.Len(t, out, 2)
		require.Equal(t, "CuttingTool-0", out[0].AssetID)
	})
}

func TestAsset_Eviction(t *testing.T) {
	t.Parallel()

	t.Run("history is bounded", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 2)
		require.NoError(t, s.Upsert("dev", "a", "T", "<T/>", "t1"))
		require.NoError(t, s.Upsert("dev", "b", "T", "<T/>", "t2"))
		require.NoError(t, s.Upsert("dev", "c", "T", "<T/>", "t3"))
		require.Equal(t, 2, s.BufferLen())
	})

	t.Run("evicted live assets remain current", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 2)
		require.NoError(t, s.Upsert("dev", "a", "T", "<T/>", "t1"))
		require.NoError(t, s.Upsert("dev", "b", "T", "<T/>", "t2"))
		require.NoError(t, s.Upsert("dev", "c", "T", "<T/>", "t3"))

		_, ok := s.Get("a")
		require.True(t, ok)
	})

	t.Run("tombstone dies when its record is evicted", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, 2)
		require.NoError(t, s.Upsert("dev", "a", "T", "<T/>", "t1"))
		require.NoError(t, s.Remove("a", "t2"))
		require.NoError(t, s.Upsert("dev", "b", "T", "<T/>", "t3"))
		// The upsert record for a is gone; the removal record remains.
		_, ok := s.Get("a")
		require.True(t, ok)

		require.NoError(t, s.Upsert("dev", "c", "T", "<T/>", "t4"))
		_, ok = s.Get("a")
		require.False(t, ok)
	})
}
