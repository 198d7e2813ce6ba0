package inspect

import "math"

// Domain is the abstract extent of a layer/value series.
type Domain struct {
	LayerCount int     `json:"layer_count"`
	ValueMin   float64 `json:"value_min"`
	ValueMax   float64 `json:"value_max"`
}

// Viewport is the pixel box a chart is drawn into. Padding is applied on
// every side.
type Viewport struct {
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Padding float64 `json:"padding"`
}

// Point is a pixel coordinate with the origin at the top-left corner.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DomainOf derives the value range of points. layerCount is the number of
// layers the series was drawn from, which may exceed len(points) when
// layers were skipped. An empty series yields a zero value range.
func DomainOf(points []LayerNormPoint, layerCount int) Domain {
	d := Domain{LayerCount: layerCount}
	if len(points) == 0 {
		return d
	}
	d.ValueMin, d.ValueMax = math.Inf(1), math.Inf(-1)
	for _, p := range points {
		d.ValueMin = math.Min(d.ValueMin, p.L2Norm)
		d.ValueMax = math.Max(d.ValueMax, p.L2Norm)
	}
	return d
}

// Degenerate reports whether every value in the domain is equal.
func (d Domain) Degenerate() bool {
	return d.ValueMax == d.ValueMin
}

// MapToPixels converts a series into chart coordinates, preserving order.
// The y axis is inverted so larger values sit higher. Both scales divide by
// at least 1, so a single layer or a constant series collapses onto the
// left edge or the baseline instead of producing NaN.
func MapToPixels(points []LayerNormPoint, d Domain, v Viewport) []Point {
	innerW := v.Width - 2*v.Padding
	innerH := v.Height - 2*v.Padding
	xDiv := math.Max(1, float64(d.LayerCount-1))
	yDiv := math.Max(1, d.ValueMax-d.ValueMin)

	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = Point{
			X: v.Padding + (float64(p.Layer)/xDiv)*innerW,
			Y: v.Padding + innerH - ((p.L2Norm-d.ValueMin)/yDiv)*innerH,
		}
	}
	return out
}
