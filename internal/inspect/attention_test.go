package inspect

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAttention() AttentionTensor {
	return AttentionTensor{
		{ // layer 0
			{{0.9, 0.1}, {0.4, 0.6}},
			{{0.5, 0.5}, {0.5, 0.5}},
		},
		{ // layer 1
			{{0.2, 0.8}, {0.3, 0.7}},
		},
	}
}

func TestProjectMinMaxOverWholeMatrix(t *testing.T) {
	cells, err := Project(sampleAttention(), 0, 0)
	require.NoError(t, err)
	require.Len(t, cells, 2)

	assert.InDelta(t, 1.0, cells[0][0].Intensity, 1e-12, "max cell")
	assert.InDelta(t, 0.0, cells[0][1].Intensity, 1e-12, "min cell")
	// Row 1 spans [0.4, 0.6]; per-row normalization would stretch it to [0, 1].
	assert.InDelta(t, 0.375, cells[1][0].Intensity, 1e-12)
	assert.InDelta(t, 0.625, cells[1][1].Intensity, 1e-12)

	assert.Equal(t, 0.4, cells[1][0].RawScore)
	assert.Equal(t, 1, cells[1][0].Row)
	assert.Equal(t, 0, cells[1][0].Col)
}

func TestProjectConstantMatrix(t *testing.T) {
	cells, err := Project(sampleAttention(), 0, 1)
	require.NoError(t, err)

	for i, row := range cells {
		for j, c := range row {
			assert.Equal(t, DegenerateIntensity, c.Intensity, "cell (%d,%d)", i, j)
			assert.Equal(t, 0.5, c.RawScore)
		}
	}
}

func TestProjectIntensityBounds(t *testing.T) {
	m := [][]float64{
		{-3.5, 2, 7.25},
		{0, 1e-9, -1e-9},
		{100, -100, 42},
	}
	cells, degenerate := NormalizeMatrix(m)
	assert.False(t, degenerate)

	var sawMin, sawMax bool
	for _, row := range cells {
		for _, c := range row {
			assert.GreaterOrEqual(t, c.Intensity, 0.0)
			assert.LessOrEqual(t, c.Intensity, 1.0)
			if c.RawScore == -100 {
				sawMin = c.Intensity == 0
			}
			if c.RawScore == 100 {
				sawMax = c.Intensity == 1
			}
		}
	}
	assert.True(t, sawMin, "min score should normalize to 0")
	assert.True(t, sawMax, "max score should normalize to 1")
}

func TestProjectOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		layer int
		head  int
		axis  string
	}{
		{"layer equal to count", 2, 0, AxisLayer},
		{"layer beyond count", 7, 0, AxisLayer},
		{"negative layer", -1, 0, AxisLayer},
		{"head beyond layer heads", 1, 1, AxisHead},
		{"negative head", 0, -1, AxisHead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cells, err := Project(sampleAttention(), tt.layer, tt.head)
			assert.Nil(t, cells)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrIndexOutOfRange))

			var ie *IndexError
			require.True(t, errors.As(err, &ie))
			assert.Equal(t, tt.axis, ie.Axis)
		})
	}
}

func TestProjectEmptyMatrix(t *testing.T) {
	cells, err := Project(AttentionTensor{{{}}}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, cells)
}

func TestNormalizeMatrixNonFinite(t *testing.T) {
	m := [][]float64{{math.NaN(), 1}, {3, math.Inf(1)}}
	cells, degenerate := NormalizeMatrix(m)
	assert.False(t, degenerate)
	assert.Equal(t, 0.0, cells[0][0].Intensity)
	assert.Equal(t, 0.0, cells[0][1].Intensity)
	assert.Equal(t, 1.0, cells[1][0].Intensity)
	assert.Equal(t, 0.0, cells[1][1].Intensity)
}

func TestProjectDoesNotMutateInput(t *testing.T) {
	att := sampleAttention()
	_, err := Project(att, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, sampleAttention(), att)
}

func TestAttentionShape(t *testing.T) {
	att := sampleAttention()
	assert.Equal(t, 2, att.NumLayers())
	assert.Equal(t, 2, att.NumHeads(0))
	assert.Equal(t, 1, att.NumHeads(1))
	assert.Equal(t, 0, att.NumHeads(5))
	assert.Equal(t, 2, att.SeqLen())
	assert.Equal(t, 0, AttentionTensor{}.SeqLen())
}
