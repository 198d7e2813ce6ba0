package inspect

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

var testViewport = Viewport{Width: 400, Height: 200, Padding: 20}

func assertInViewport(t *testing.T, pts []Point, v Viewport) {
	t.Helper()
	for i, p := range pts {
		assert.False(t, math.IsNaN(p.X) || math.IsInf(p.X, 0), "x of point %d not finite", i)
		assert.False(t, math.IsNaN(p.Y) || math.IsInf(p.Y, 0), "y of point %d not finite", i)
		assert.GreaterOrEqual(t, p.X, v.Padding)
		assert.LessOrEqual(t, p.X, v.Width-v.Padding)
		assert.GreaterOrEqual(t, p.Y, v.Padding)
		assert.LessOrEqual(t, p.Y, v.Height-v.Padding)
	}
}

func TestMapToPixels(t *testing.T) {
	points := []LayerNormPoint{{0, 0}, {1, 5}, {2, 10}}
	d := DomainOf(points, 3)
	assert.Equal(t, Domain{LayerCount: 3, ValueMin: 0, ValueMax: 10}, d)

	got := MapToPixels(points, d, testViewport)
	want := []Point{{20, 180}, {200, 100}, {380, 20}}
	for i := range want {
		assert.InDelta(t, want[i].X, got[i].X, 1e-9)
		assert.InDelta(t, want[i].Y, got[i].Y, 1e-9)
	}
	assertInViewport(t, got, testViewport)
}

func TestMapToPixelsSingleLayer(t *testing.T) {
	points := []LayerNormPoint{{0, 3}}
	got := MapToPixels(points, DomainOf(points, 1), testViewport)
	assert.Len(t, got, 1)
	assert.Equal(t, Point{X: 20, Y: 180}, got[0])
	assertInViewport(t, got, testViewport)
}

func TestMapToPixelsConstantSeries(t *testing.T) {
	points := []LayerNormPoint{{0, 7}, {1, 7}, {2, 7}, {3, 7}}
	d := DomainOf(points, 4)
	assert.True(t, d.Degenerate())

	got := MapToPixels(points, d, testViewport)
	for _, p := range got {
		assert.Equal(t, 180.0, p.Y, "constant series collapses to the baseline")
	}
	assertInViewport(t, got, testViewport)
}

func TestMapToPixelsSmallRangeUsesUnitDivisor(t *testing.T) {
	// A range below 1 is divided by 1, so the series occupies a fraction
	// of the chart height instead of stretching to fill it.
	points := []LayerNormPoint{{0, 0}, {1, 0.5}}
	got := MapToPixels(points, DomainOf(points, 2), testViewport)
	assert.InDelta(t, 100.0, got[1].Y, 1e-9)
	assertInViewport(t, got, testViewport)
}

func TestMapToPixelsPreservesOrder(t *testing.T) {
	points := []LayerNormPoint{{2, 1}, {0, 3}, {1, 2}}
	got := MapToPixels(points, DomainOf(points, 3), testViewport)
	assert.InDelta(t, 380.0, got[0].X, 1e-9)
	assert.InDelta(t, 20.0, got[1].X, 1e-9)
	assert.InDelta(t, 200.0, got[2].X, 1e-9)
}

func TestMapToPixelsEmpty(t *testing.T) {
	got := MapToPixels(nil, DomainOf(nil, 0), testViewport)
	assert.Empty(t, got)
}
