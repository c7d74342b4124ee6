package tiling

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanRegion300x200(t *testing.T) {
	t.Parallel()

	bounds := RectFromSize(600, 400)
	tiles, err := Plan(RectFromCorners(0, 0, 300, 200), bounds, Size{W: 60, H: 60}, 0.05)
	require.NoError(t, err)

	cols, rows := Dimensions(tiles)
	assert.Equal(t, 6, cols)
	assert.Equal(t, 4, rows)
	require.Len(t, tiles, 24)

	first := tiles[0]
	assert.Equal(t, 0, first.Row)
	assert.Equal(t, 0, first.Col)
	assert.False(t, first.Edges.Has(EdgeTop))
	assert.False(t, first.Edges.Has(EdgeLeft))
	assert.True(t, first.Edges.Has(EdgeRight))
	assert.True(t, first.Edges.Has(EdgeBottom))
	assert.InDelta(t, 30.0, first.Center.X, 1e-9)
	assert.InDelta(t, 30.0, first.Center.Y, 1e-9)

	// second row runs right to left
	assert.Equal(t, 1, tiles[6].Row)
	assert.Equal(t, 5, tiles[6].Col)
	assert.Equal(t, EdgeTop|EdgeBottom|EdgeLeft, tiles[6].Edges)

	// bottom-right corner of the grid
	last := tiles[len(tiles)-1]
	assert.Equal(t, 3, last.Row)
	assert.Equal(t, 5, last.Col)
	assert.Equal(t, EdgeTop|EdgeLeft, last.Edges)
	assert.InDelta(t, 30+5*57.0, last.Center.X, 1e-9)
	assert.InDelta(t, 30+3*57.0, last.Center.Y, 1e-9)
}

func TestPlanClampsToBounds(t *testing.T) {
	t.Parallel()

	tiles, err := Plan(RectFromCorners(-50, -50, 100, 40), RectFromSize(400, 300), Size{W: 50, H: 50}, 0)
	require.NoError(t, err)

	want := []Tile{
		{Center: Point{X: 25, Y: 25}, Edges: EdgeRight, Row: 0, Col: 0},
		{Center: Point{X: 75, Y: 25}, Edges: EdgeLeft, Row: 0, Col: 1},
	}
	if diff := cmp.Diff(want, tiles, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("Plan() mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanDegenerateRegionYieldsSingleTile(t *testing.T) {
	t.Parallel()

	tiles, err := Plan(RectFromCorners(100, 100, 100, 100), RectFromSize(400, 300), Size{W: 60, H: 40}, 0.05)
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, EdgeMask(0), tiles[0].Edges)
}

func TestPlanErrors(t *testing.T) {
	t.Parallel()

	bounds := RectFromSize(400, 300)
	_, err := Plan(RectFromCorners(0, 0, 10, 10), bounds, Size{W: 0, H: 10}, 0.1)
	assert.ErrorIs(t, err, ErrInvalidFootprint)

	_, err = Plan(RectFromCorners(0, 0, 10, 10), bounds, Size{W: 10, H: 10}, 1)
	assert.ErrorIs(t, err, ErrInvalidOverlap)

	_, err = Plan(RectFromCorners(500, 500, 600, 600), bounds, Size{W: 10, H: 10}, 0.1)
	assert.ErrorIs(t, err, ErrOutsideBounds)
}

// Every tile is visited exactly once, consecutive tiles within a row differ
// only along X, and an edge bit is set exactly when the adjacent grid cell
// exists.
func TestPlanProperties(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	bounds := RectFromSize(600, 400)
	for n := 0; n < 200; n++ {
		req := RectFromCorners(rng.Float64()*600, rng.Float64()*400, rng.Float64()*600, rng.Float64()*400)
		fp := Size{W: 10 + rng.Float64()*120, H: 10 + rng.Float64()*120}
		overlap := rng.Float64() * 0.5

		tiles, err := Plan(req, bounds, fp, overlap)
		require.NoError(t, err)

		cols, rows := Dimensions(tiles)
		require.Len(t, tiles, cols*rows)

		seen := make(map[[2]int]bool, len(tiles))
		for _, tl := range tiles {
			key := [2]int{tl.Row, tl.Col}
			require.False(t, seen[key], "tile %v visited twice", key)
			seen[key] = true
		}

		for k := 1; k < len(tiles); k++ {
			prev, cur := tiles[k-1], tiles[k]
			if prev.Row == cur.Row {
				assert.Equal(t, prev.Center.Y, cur.Center.Y)
				assert.Equal(t, 1, absInt(prev.Col-cur.Col))
			} else {
				assert.Equal(t, prev.Col, cur.Col, "row change must stay in the same column")
			}
		}

		for _, tl := range tiles {
			assert.Equal(t, seen[[2]int{tl.Row - 1, tl.Col}], tl.Edges.Has(EdgeTop))
			assert.Equal(t, seen[[2]int{tl.Row + 1, tl.Col}], tl.Edges.Has(EdgeBottom))
			assert.Equal(t, seen[[2]int{tl.Row, tl.Col - 1}], tl.Edges.Has(EdgeLeft))
			assert.Equal(t, seen[[2]int{tl.Row, tl.Col + 1}], tl.Edges.Has(EdgeRight))
		}

		clamped := req.Intersect(bounds)
		assert.Equal(t, max(1, int(math.Ceil(clamped.Width()/(fp.W*(1-overlap))))), cols)
	}
}

func TestEdgeMaskString(t *testing.T) {
	assert.Equal(t, "none", EdgeMask(0).String())
	assert.Equal(t, "TRBL", (EdgeTop | EdgeRight | EdgeBottom | EdgeLeft).String())
	assert.Equal(t, "RB", (EdgeRight | EdgeBottom).String())
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
