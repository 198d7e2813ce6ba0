package inspect

import (
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/metrics"
	"github.com/23skdu/longbow-lens/internal/tokenizer"
)

// Text colours for heatmap cells.
const (
	TextDark  = "dark"
	TextLight = "light"
)

// DefaultTextFlipThreshold is the intensity above which cell text switches
// to the light colour.
const DefaultTextFlipThreshold = 0.6

// HeatmapStyle holds the overridable rendering constants of a heatmap.
type HeatmapStyle struct {
	TextFlipThreshold float64 `json:"text_flip_threshold" yaml:"text_flip_threshold"`
}

// DefaultHeatmapStyle returns the built-in style.
func DefaultHeatmapStyle() HeatmapStyle {
	return HeatmapStyle{TextFlipThreshold: DefaultTextFlipThreshold}
}

// TextColor picks the readable text colour for a cell of the given
// intensity.
func (s HeatmapStyle) TextColor(intensity float64) string {
	if intensity > s.TextFlipThreshold {
		return TextLight
	}
	return TextDark
}

// Result is one analysis: the tensors returned by the inference service
// together with the display tokenization of the prompt.
type Result struct {
	Prompt              string            `json:"prompt"`
	ModelName           string            `json:"model_name"`
	GeneratedText       string            `json:"generated_text"`
	ModelUsedForTesting string            `json:"model_used_for_testing,omitempty"`
	Attentions          AttentionTensor   `json:"-"`
	HiddenStates        HiddenStateTensor `json:"-"`
	Tokens              []tokenizer.Token `json:"tokens"`
}

// NewResult tokenizes the prompt and bundles it with the tensors.
func NewResult(prompt, modelName, generated string, att AttentionTensor, hs HiddenStateTensor) *Result {
	return &Result{
		Prompt:        prompt,
		ModelName:     modelName,
		GeneratedText: generated,
		Attentions:    att,
		HiddenStates:  hs,
		Tokens:        tokenizer.Tokenize(prompt),
	}
}

// Shape reports the tensor extents of the result.
func (r *Result) Shape() Shape {
	return ShapeOf(r.Attentions, r.HiddenStates)
}

// AttentionAlignment compares the tokens against the attention sequence length.
func (r *Result) AttentionAlignment() Alignment {
	return Validate(len(r.Tokens), r.Attentions.SeqLen())
}

// HiddenAlignment compares the tokens against the hidden-state sequence length.
func (r *Result) HiddenAlignment() Alignment {
	return Validate(len(r.Tokens), r.HiddenStates.SeqLen())
}

// HeatmapCell is a normalized cell with its text colour.
type HeatmapCell struct {
	NormalizedCell
	TextColor string `json:"text_color"`
}

// Heatmap is the display-ready grid for one (layer, head) selection.
type Heatmap struct {
	Layer      int             `json:"layer"`
	Head       int             `json:"head"`
	Labels     []string        `json:"labels"`
	Cells      [][]HeatmapCell `json:"cells"`
	Alignment  Alignment       `json:"alignment"`
	Degenerate bool            `json:"degenerate"`
	Diagnostic string          `json:"diagnostic,omitempty"`
}

// BuildHeatmap projects the selected head and crops the grid to the
// positions that pair with a display token. Normalization always uses the
// full matrix, so cropping never changes an intensity.
func BuildHeatmap(r *Result, layer, head int, style HeatmapStyle) (*Heatmap, error) {
	cells, degenerate, err := project(r.Attentions, layer, head)
	if err != nil {
		recordIndexError(err)
		return nil, err
	}

	align := r.AttentionAlignment()
	reportAlignment("attention", align)
	if degenerate {
		metrics.RecordDegenerateRange("attention")
		logger.Log.Debug("constant attention matrix", "layer", layer, "head", head)
	}

	n := align.Pairable()
	grid := make([][]HeatmapCell, 0, n)
	for i := 0; i < n && i < len(cells); i++ {
		row := make([]HeatmapCell, 0, n)
		for j := 0; j < n && j < len(cells[i]); j++ {
			c := cells[i][j]
			row = append(row, HeatmapCell{NormalizedCell: c, TextColor: style.TextColor(c.Intensity)})
		}
		grid = append(grid, row)
	}

	return &Heatmap{
		Layer:      layer,
		Head:       head,
		Labels:     tokenizer.Labels(r.Tokens, n),
		Cells:      grid,
		Alignment:  align,
		Degenerate: degenerate,
		Diagnostic: align.Diagnostic(),
	}, nil
}

// TrajectoryView is the display-ready norm series for one token.
type TrajectoryView struct {
	TokenIndex    int              `json:"token_index"`
	Token         string           `json:"token"`
	Points        []LayerNormPoint `json:"points"`
	Coords        []Point          `json:"coords"`
	Domain        Domain           `json:"domain"`
	Viewport      Viewport         `json:"viewport"`
	SkippedLayers int              `json:"skipped_layers"`
	Alignment     Alignment        `json:"alignment"`
	Degenerate    bool             `json:"degenerate"`
	Diagnostic    string           `json:"diagnostic,omitempty"`
}

// BuildTrajectory computes the norm series of tokenIndex and maps it into
// the viewport. tokenIndex must pair with a display token.
func BuildTrajectory(r *Result, tokenIndex int, v Viewport) (*TrajectoryView, error) {
	align := r.HiddenAlignment()
	if err := checkIndex(AxisToken, tokenIndex, align.Pairable()); err != nil {
		recordIndexError(err)
		return nil, err
	}
	reportAlignment("hidden_states", align)

	points, skipped, err := trajectory(r.HiddenStates, tokenIndex)
	if err != nil {
		recordIndexError(err)
		return nil, err
	}
	if skipped > 0 {
		metrics.RecordSkippedLayers(skipped)
		logger.Log.Warn("token missing from some layers", "token_index", tokenIndex, "skipped", skipped)
	}

	domain := DomainOf(points, r.HiddenStates.NumLayers())
	degenerate := len(points) > 0 && domain.Degenerate()
	if degenerate {
		metrics.RecordDegenerateRange("trajectory")
	}

	return &TrajectoryView{
		TokenIndex:    tokenIndex,
		Token:         r.Tokens[tokenIndex].Text,
		Points:        points,
		Coords:        MapToPixels(points, domain, v),
		Domain:        domain,
		Viewport:      v,
		SkippedLayers: skipped,
		Alignment:     align,
		Degenerate:    degenerate,
		Diagnostic:    align.Diagnostic(),
	}, nil
}

func reportAlignment(tensor string, a Alignment) {
	if a.Aligned {
		return
	}
	logger.Log.Debug("rendering with index pairing", "tensor", tensor, "token_count", a.TokenCount, "seq_len", a.SeqLen)
}

func recordIndexError(err error) {
	if ie, ok := err.(*IndexError); ok {
		metrics.RecordIndexError(ie.Axis)
	}
}
