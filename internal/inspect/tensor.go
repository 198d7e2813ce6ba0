// Package inspect turns raw attention and hidden-state tensors into bounded,
// renderable values: normalized heatmap cells, per-layer norm trajectories
// and pixel coordinates for line charts.
//
// Every function here is pure and synchronous. Inputs are treated as
// immutable and never modified.
package inspect

// AttentionTensor is indexed [layer][head][queryPos][keyPos].
type AttentionTensor [][][][]float64

// HiddenStateTensor is indexed [layer][tokenPos][dim]. Layer 0 holds the
// embedding output, layers 1..N the transformer blocks.
type HiddenStateTensor [][][]float64

// NumLayers returns the number of attention layers.
func (t AttentionTensor) NumLayers() int {
	return len(t)
}

// NumHeads returns the number of heads in layer, or 0 when the layer does
// not exist.
func (t AttentionTensor) NumHeads(layer int) int {
	if layer < 0 || layer >= len(t) {
		return 0
	}
	return len(t[layer])
}

// SeqLen returns the query extent of the first head of the first layer, the
// declared sequence length of the tensor.
func (t AttentionTensor) SeqLen() int {
	if len(t) == 0 || len(t[0]) == 0 {
		return 0
	}
	return len(t[0][0])
}

// NumLayers returns the number of hidden-state layers including the
// embedding layer.
func (t HiddenStateTensor) NumLayers() int {
	return len(t)
}

// SeqLen returns the token extent of layer 0.
func (t HiddenStateTensor) SeqLen() int {
	if len(t) == 0 {
		return 0
	}
	return len(t[0])
}

// HiddenSize returns the vector width of the first token of layer 0.
func (t HiddenStateTensor) HiddenSize() int {
	if len(t) == 0 || len(t[0]) == 0 {
		return 0
	}
	return len(t[0][0])
}

// Shape summarizes the extents of one analysis.
type Shape struct {
	Layers       int `json:"layers"`
	Heads        int `json:"heads"`
	SeqLen       int `json:"seq_len"`
	HiddenLayers int `json:"hidden_layers"`
	HiddenSize   int `json:"hidden_size"`
}

// ShapeOf reports the extents of a tensor pair. The sequence length comes
// from the attention tensor and falls back to the hidden states when no
// attention was returned.
func ShapeOf(att AttentionTensor, hs HiddenStateTensor) Shape {
	s := Shape{
		Layers:       att.NumLayers(),
		Heads:        att.NumHeads(0),
		SeqLen:       att.SeqLen(),
		HiddenLayers: hs.NumLayers(),
		HiddenSize:   hs.HiddenSize(),
	}
	if s.SeqLen == 0 {
		s.SeqLen = hs.SeqLen()
	}
	return s
}
