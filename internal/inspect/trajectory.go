package inspect

import "math"

// LayerNormPoint is the L2 norm of one token's hidden state at one layer.
type LayerNormPoint struct {
	Layer  int     `json:"layer"`
	L2Norm float64 `json:"l2norm"`
}

// Trajectory computes the L2 norm of tokenIndex's hidden state at every
// layer, embedding layer included. A layer whose token axis does not reach
// tokenIndex is skipped rather than failing the whole series, so the result
// is shorter than NumLayers only in that case. A negative tokenIndex, or
// one that no layer reaches, is rejected.
func Trajectory(t HiddenStateTensor, tokenIndex int) ([]LayerNormPoint, error) {
	points, _, err := trajectory(t, tokenIndex)
	return points, err
}

func trajectory(t HiddenStateTensor, tokenIndex int) ([]LayerNormPoint, int, error) {
	if tokenIndex < 0 {
		return nil, 0, &IndexError{Axis: AxisToken, Index: tokenIndex, Limit: t.SeqLen()}
	}

	points := make([]LayerNormPoint, 0, len(t))
	skipped, widest := 0, 0
	for layer, tokens := range t {
		widest = max(widest, len(tokens))
		if tokenIndex >= len(tokens) {
			skipped++
			continue
		}
		points = append(points, LayerNormPoint{Layer: layer, L2Norm: L2Norm(tokens[tokenIndex])})
	}
	if len(points) == 0 {
		return nil, skipped, &IndexError{Axis: AxisToken, Index: tokenIndex, Limit: widest}
	}
	return points, skipped, nil
}

// L2Norm returns sqrt(sum(v^2)). A zero vector yields exactly 0.
func L2Norm(v []float64) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	return math.Sqrt(sumSq)
}
