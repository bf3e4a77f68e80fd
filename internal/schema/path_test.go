package schema_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shopfloor/mtcagent/internal/schema"
)

func TestSchema_ParsePath(t *testing.T) {
	t.Parallel()

	valid := []string{
		`//DataItem`,
		`//DataItem[@type="AVAILABILITY"]`,
		`//Axes//DataItem[@category="SAMPLE"]`,
		`//Linear[@name='X']//DataItem`,
		`//Linear[@name="X"][@id="x1"]//DataItem`,
		`//*[@category="CONDITION"]`,
	}
	for _, expr := range valid {
		expr := expr
		t.Run("accepts "+expr, func(t *testing.T) {
			t.Parallel()
			p, err := schema.ParsePath(expr)
			require.NoError(t, err)
			require.Equal(t, expr, p.String())
		})
	}

	invalid := []string{
		``,
		`DataItem`,
		`/DataItem`,
		`//`,
		`//DataItem[@type=AVAILABILITY]`,
		`//DataItem[type="AVAILABILITY"]`,
		`//DataItem[@type="A`,
		`//Data Item`,
	}
	for _, expr := range invalid {
		expr := expr
		t.Run("rejects "+expr, func(t *testing.T) {
			t.Parallel()
			_, err := schema.ParsePath(expr)
			require.ErrorIs(t, err, schema.ErrInvalidPath)
		})
	}
}

func TestSchema_Filter(t *testing.T) {
	t.Parallel()

	newRegistry := func(t *testing.T) *schema.Registry {
		r := schema.NewRegistry()
		require.NoError(t, r.Register(testDevice()))
		return r
	}

	filter := func(t *testing.T, r *schema.Registry, expr string) map[string]*schema.DataItem {
		p, err := schema.ParsePath(expr)
		require.NoError(t, err)
		items, err := r.Filter(p, "dev-uuid-1")
		require.NoError(t, err)
		return items
	}

	t.Run("bare DataItem selects everything", func(t *testing.T) {
		t.Parallel()
		items := filter(t, newRegistry(t), `//DataItem`)
		require.Len(t, items, 4)
	})

	t.Run("attribute predicate narrows the match", func(t *testing.T) {
		t.Parallel()
		items := filter(t, newRegistry(t), `//DataItem[@type="AVAILABILITY"]`)
		require.Len(t, items, 1)
		require.Contains(t, items, "avail")
	})

	t.Run("component step scopes descendants", func(t *testing.T) {
		t.Parallel()
		items := filter(t, newRegistry(t), `//Axes//DataItem`)
		require.Len(t, items, 2)
		require.Contains(t, items, "xpos")
		require.Contains(t, items, "xload")
	})

	t.Run("component predicate plus category", func(t *testing.T) {
		t.Parallel()
		items := filter(t, newRegistry(t), `//Linear[@name="X"]//DataItem[@category="SAMPLE"]`)
		require.Len(t, items, 1)
		require.Contains(t, items, "xpos")
	})

	t.Run("component-only path selects nothing", func(t *testing.T) {
		t.Parallel()
		items := filter(t, newRegistry(t), `//Axes`)
		require.Empty(t, items)
	})

	t.Run("unknown device errors", func(t *testing.T) {
		t.Parallel()
		p, err := schema.ParsePath(`//DataItem`)
		require.NoError(t, err)
		_, err = newRegistry(t).Filter(p, "no-such")
		require.ErrorIs(t, err, schema.ErrUnknownDevice)
	})

	t.Run("path validation spans devices", func(t *testing.T) {
		t.Parallel()
		r := newRegistry(t)
		p, err := schema.ParsePath(`//DataItem[@type="POSITION"]`)
		require.NoError(t, err)
		require.True(t, r.PathValidation(p, []string{"dev-uuid-1"}))

		p, err = schema.ParsePath(`//DataItem[@type="NOPE"]`)
		require.NoError(t, err)
		require.False(t, r.PathValidation(p, []string{"dev-uuid-1"}))
	})
}
