package inspect

import "math"

// DegenerateIntensity is assigned to every cell of a matrix whose scores are
// all equal. It marks the matrix as carrying no discriminative information.
const DegenerateIntensity = 0.5

// NormalizedCell is one heatmap cell. Intensity drives colour, RawScore the
// exact numeric readout.
type NormalizedCell struct {
	Row       int     `json:"row"`
	Col       int     `json:"col"`
	RawScore  float64 `json:"raw_score"`
	Intensity float64 `json:"intensity"`
}

// Project extracts tensor[layer][head] and min-max normalizes it over the
// whole matrix. Out-of-range selections return an error wrapping
// ErrIndexOutOfRange; nothing is clamped.
func Project(t AttentionTensor, layer, head int) ([][]NormalizedCell, error) {
	cells, _, err := project(t, layer, head)
	return cells, err
}

func project(t AttentionTensor, layer, head int) ([][]NormalizedCell, bool, error) {
	if err := checkIndex(AxisLayer, layer, t.NumLayers()); err != nil {
		return nil, false, err
	}
	if err := checkIndex(AxisHead, head, t.NumHeads(layer)); err != nil {
		return nil, false, err
	}
	cells, degenerate := NormalizeMatrix(t[layer][head])
	return cells, degenerate, nil
}

// NormalizeMatrix min-max normalizes m using the range of the entire matrix
// rather than each row, so intensities are comparable across rows. The
// second result reports a degenerate (constant) range. Non-finite scores
// are excluded from the range and get intensity 0.
func NormalizeMatrix(m [][]float64) ([][]NormalizedCell, bool) {
	minScore, maxScore := math.Inf(1), math.Inf(-1)
	for _, row := range m {
		for _, v := range row {
			if !isFinite(v) {
				continue
			}
			minScore = math.Min(minScore, v)
			maxScore = math.Max(maxScore, v)
		}
	}

	degenerate := !(maxScore > minScore)
	span := maxScore - minScore

	out := make([][]NormalizedCell, len(m))
	for i, row := range m {
		out[i] = make([]NormalizedCell, len(row))
		for j, v := range row {
			cell := NormalizedCell{Row: i, Col: j, RawScore: v}
			switch {
			case !isFinite(v):
				cell.Intensity = 0
			case degenerate:
				cell.Intensity = DegenerateIntensity
			default:
				cell.Intensity = (v - minScore) / span
			}
			out[i][j] = cell
		}
	}
	return out, degenerate
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
