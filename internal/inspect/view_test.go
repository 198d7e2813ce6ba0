package inspect

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformAttention(layers, heads, seq int, v float64) AttentionTensor {
	att := make(AttentionTensor, layers)
	for l := range att {
		att[l] = make([][][]float64, heads)
		for h := range att[l] {
			att[l][h] = make([][]float64, seq)
			for i := range att[l][h] {
				att[l][h][i] = make([]float64, seq)
				for j := range att[l][h][i] {
					att[l][h][i][j] = v + float64(i*seq+j)
				}
			}
		}
	}
	return att
}

func rampHidden(layers, seq, dim int) HiddenStateTensor {
	hs := make(HiddenStateTensor, layers)
	for l := range hs {
		hs[l] = make([][]float64, seq)
		for i := range hs[l] {
			hs[l][i] = make([]float64, dim)
			for d := range hs[l][i] {
				hs[l][i][d] = float64(l + 1)
			}
		}
	}
	return hs
}

func TestAlignmentValidate(t *testing.T) {
	a := Validate(4, 4)
	assert.True(t, a.Aligned)
	assert.Equal(t, 4, a.Pairable())
	assert.Empty(t, a.Diagnostic())

	m := Validate(5, 4)
	assert.False(t, m.Aligned)
	assert.Equal(t, 4, m.Pairable())
	assert.Contains(t, m.Diagnostic(), "5 tokens")

	assert.Equal(t, 0, Validate(0, 3).Pairable())
}

func TestBuildHeatmapAligned(t *testing.T) {
	r := NewResult("Hello, world!", "distilgpt2", "", uniformAttention(2, 2, 4, 0), rampHidden(3, 4, 2))

	hm, err := BuildHeatmap(r, 1, 1, DefaultHeatmapStyle())
	require.NoError(t, err)
	assert.True(t, hm.Alignment.Aligned)
	assert.Equal(t, []string{"Hello", ",", "world", "!"}, hm.Labels)
	require.Len(t, hm.Cells, 4)
	assert.Equal(t, 0.0, hm.Cells[0][0].Intensity)
	assert.Equal(t, 1.0, hm.Cells[3][3].Intensity)
	assert.Equal(t, TextDark, hm.Cells[0][0].TextColor)
	assert.Equal(t, TextLight, hm.Cells[3][3].TextColor)
}

func TestBuildHeatmapMismatchRendersPairablePositions(t *testing.T) {
	// Five display tokens, sequence length four.
	r := NewResult("one two three four five", "m", "", uniformAttention(1, 1, 4, 0), rampHidden(2, 4, 2))
	require.Len(t, r.Tokens, 5)

	hm, err := BuildHeatmap(r, 0, 0, DefaultHeatmapStyle())
	require.NoError(t, err)
	assert.False(t, hm.Alignment.Aligned)
	assert.NotEmpty(t, hm.Diagnostic)
	assert.Equal(t, []string{"one", "two", "three", "four"}, hm.Labels)
	require.Len(t, hm.Cells, 4)
	for _, row := range hm.Cells {
		assert.Len(t, row, 4)
	}

	tv, err := BuildTrajectory(r, 3, testViewport)
	require.NoError(t, err)
	assert.Len(t, tv.Points, 2)
	assert.False(t, tv.Alignment.Aligned)

	_, err = BuildTrajectory(r, 4, testViewport)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestBuildHeatmapCropKeepsFullMatrixNormalization(t *testing.T) {
	// Two tokens against a 3x3 matrix: the maximum sits in the cropped-away
	// corner, so no visible cell reaches intensity 1.
	r := NewResult("a b", "m", "", uniformAttention(1, 1, 3, 0), nil)

	hm, err := BuildHeatmap(r, 0, 0, DefaultHeatmapStyle())
	require.NoError(t, err)
	require.Len(t, hm.Cells, 2)
	assert.InDelta(t, 4.0/8.0, hm.Cells[1][1].Intensity, 1e-12)
}

func TestBuildHeatmapConstantMatrix(t *testing.T) {
	att := AttentionTensor{{{{0.5, 0.5}, {0.5, 0.5}}}}
	r := NewResult("a b", "m", "", att, nil)

	hm, err := BuildHeatmap(r, 0, 0, DefaultHeatmapStyle())
	require.NoError(t, err)
	assert.True(t, hm.Degenerate)
	for _, row := range hm.Cells {
		for _, c := range row {
			assert.Equal(t, 0.5, c.Intensity)
		}
	}
}

func TestBuildHeatmapOutOfRange(t *testing.T) {
	r := NewResult("a b", "m", "", uniformAttention(2, 2, 2, 0), nil)
	_, err := BuildHeatmap(r, 2, 0, DefaultHeatmapStyle())
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestHeatmapStyleThreshold(t *testing.T) {
	s := HeatmapStyle{TextFlipThreshold: 0.3}
	assert.Equal(t, TextDark, s.TextColor(0.3))
	assert.Equal(t, TextLight, s.TextColor(0.31))
}

func TestBuildTrajectory(t *testing.T) {
	r := NewResult("a b", "m", "", nil, rampHidden(3, 2, 4))

	tv, err := BuildTrajectory(r, 1, testViewport)
	require.NoError(t, err)
	assert.Equal(t, "b", tv.Token)
	require.Len(t, tv.Points, 3)
	assert.InDelta(t, 2.0, tv.Points[0].L2Norm, 1e-12)
	assert.InDelta(t, 6.0, tv.Points[2].L2Norm, 1e-12)
	assert.Equal(t, Domain{LayerCount: 3, ValueMin: 2, ValueMax: 6}, tv.Domain)
	require.Len(t, tv.Coords, 3)
	assert.Equal(t, 20.0, tv.Coords[0].X)
	assert.Equal(t, 380.0, tv.Coords[2].X)
	assert.False(t, tv.Degenerate)
}

func TestBuildTrajectoryNoTokens(t *testing.T) {
	r := NewResult("", "m", "", nil, rampHidden(2, 3, 2))
	_, err := BuildTrajectory(r, 0, testViewport)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}
