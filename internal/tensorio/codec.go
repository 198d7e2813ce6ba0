// Package tensorio encodes analysis tensors as Arrow record batches, for IPC
// files on disk and for Flight streams.
//
// Every innermost vector becomes one row, tagged with its tensor kind and
// indices. The extent of every axis is kept in the schema metadata, so ragged
// tensors and empty heads survive a round trip unchanged.
package tensorio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-lens/internal/inspect"
)

// Tensor kinds stored in the "tensor" column.
const (
	KindAttention int8 = 0
	KindHidden    int8 = 1
)

// Schema metadata keys.
const (
	MetaPrompt          = "lens.prompt"
	MetaModelName       = "lens.model_name"
	MetaGeneratedText   = "lens.generated_text"
	MetaModelUsed       = "lens.model_used_for_testing"
	MetaAttentionLayers = "lens.attention_layers"
	MetaHiddenLayers    = "lens.hidden_layers"

	// Heads per attention layer, comma separated.
	MetaAttentionHeads = "lens.attention_heads"
	// Query rows per head, heads comma separated and layers semicolon separated.
	MetaAttentionRows = "lens.attention_rows"
	// Tokens per hidden-state layer, comma separated.
	MetaHiddenTokens = "lens.hidden_tokens"
)

// maxDeclared bounds the total number of slots a schema may declare, so
// corrupt metadata cannot make the decoder allocate without limit.
const maxDeclared = 1 << 24

// Bundle is everything one analysis produced.
type Bundle struct {
	Prompt              string
	ModelName           string
	GeneratedText       string
	ModelUsedForTesting string
	Attentions          inspect.AttentionTensor
	HiddenStates        inspect.HiddenStateTensor
}

var fields = []arrow.Field{
	{Name: "tensor", Type: arrow.PrimitiveTypes.Int8},
	{Name: "layer", Type: arrow.PrimitiveTypes.Int32},
	{Name: "head", Type: arrow.PrimitiveTypes.Int32},
	{Name: "row", Type: arrow.PrimitiveTypes.Int32},
	{Name: "values", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
}

// Schema returns the schema of b, with its scalar fields as metadata.
func Schema(b *Bundle) *arrow.Schema {
	md := arrow.NewMetadata(
		[]string{
			MetaPrompt, MetaModelName, MetaGeneratedText, MetaModelUsed,
			MetaAttentionLayers, MetaHiddenLayers,
			MetaAttentionHeads, MetaAttentionRows, MetaHiddenTokens,
		},
		[]string{
			b.Prompt,
			b.ModelName,
			b.GeneratedText,
			b.ModelUsedForTesting,
			strconv.Itoa(len(b.Attentions)),
			strconv.Itoa(len(b.HiddenStates)),
			joinLens(b.Attentions),
			joinAttentionRows(b.Attentions),
			joinLens(b.HiddenStates),
		},
	)
	return arrow.NewSchema(fields, &md)
}

func joinLens[T any](s [][]T) string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.Itoa(len(v))
	}
	return strings.Join(parts, ",")
}

func joinAttentionRows(t inspect.AttentionTensor) string {
	layers := make([]string, len(t))
	for l, heads := range t {
		layers[l] = joinLens(heads)
	}
	return strings.Join(layers, ";")
}

// Encode builds a single record holding both tensors of b. The caller owns
// the record and must Release it.
func Encode(mem memory.Allocator, b *Bundle) arrow.Record {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	rb := array.NewRecordBuilder(mem, Schema(b))
	defer rb.Release()

	kind := rb.Field(0).(*array.Int8Builder)
	layer := rb.Field(1).(*array.Int32Builder)
	head := rb.Field(2).(*array.Int32Builder)
	row := rb.Field(3).(*array.Int32Builder)
	values := rb.Field(4).(*array.ListBuilder)
	vb := values.ValueBuilder().(*array.Float64Builder)

	appendRow := func(k int8, l, h, r int, v []float64) {
		kind.Append(k)
		layer.Append(int32(l))
		head.Append(int32(h))
		row.Append(int32(r))
		values.Append(true)
		vb.AppendValues(v, nil)
	}

	for l, heads := range b.Attentions {
		for h, rows := range heads {
			for r, v := range rows {
				appendRow(KindAttention, l, h, r, v)
			}
		}
	}
	for l, tokens := range b.HiddenStates {
		for r, v := range tokens {
			appendRow(KindHidden, l, -1, r, v)
		}
	}

	return rb.NewRecord()
}

// Decoder reassembles a Bundle from one or more records sharing a schema.
type Decoder struct {
	bundle Bundle
}

// NewDecoder reads the bundle metadata from schema.
func NewDecoder(schema *arrow.Schema) (*Decoder, error) {
	if err := checkSchema(schema); err != nil {
		return nil, err
	}
	md := schema.Metadata()
	get := func(key string) string {
		if i := md.FindKey(key); i >= 0 {
			return md.Values()[i]
		}
		return ""
	}

	d := &Decoder{bundle: Bundle{
		Prompt:              get(MetaPrompt),
		ModelName:           get(MetaModelName),
		GeneratedText:       get(MetaGeneratedText),
		ModelUsedForTesting: get(MetaModelUsed),
	}}

	budget := maxDeclared
	attLayers, err := atoiMeta(get(MetaAttentionLayers), MetaAttentionLayers)
	if err != nil {
		return nil, err
	}
	hsLayers, err := atoiMeta(get(MetaHiddenLayers), MetaHiddenLayers)
	if err != nil {
		return nil, err
	}
	if attLayers > budget || hsLayers > budget-attLayers {
		return nil, fmt.Errorf("schema declares too many layers (%d, %d)", attLayers, hsLayers)
	}
	budget -= attLayers + hsLayers

	heads, err := parseExtents(get(MetaAttentionHeads), attLayers, MetaAttentionHeads, &budget)
	if err != nil {
		return nil, err
	}
	var layerRows []string
	if attLayers > 0 {
		layerRows = strings.Split(get(MetaAttentionRows), ";")
	} else if v := get(MetaAttentionRows); v != "" {
		return nil, fmt.Errorf("invalid %s metadata %q", MetaAttentionRows, v)
	}
	if len(layerRows) != attLayers {
		return nil, fmt.Errorf("%s declares %d layers, want %d", MetaAttentionRows, len(layerRows), attLayers)
	}
	d.bundle.Attentions = make(inspect.AttentionTensor, attLayers)
	for l := range d.bundle.Attentions {
		rows, err := parseExtents(layerRows[l], heads[l], MetaAttentionRows, &budget)
		if err != nil {
			return nil, err
		}
		d.bundle.Attentions[l] = make([][][]float64, heads[l])
		for h := range d.bundle.Attentions[l] {
			d.bundle.Attentions[l][h] = make([][]float64, rows[h])
		}
	}

	tokens, err := parseExtents(get(MetaHiddenTokens), hsLayers, MetaHiddenTokens, &budget)
	if err != nil {
		return nil, err
	}
	d.bundle.HiddenStates = make(inspect.HiddenStateTensor, hsLayers)
	for l := range d.bundle.HiddenStates {
		d.bundle.HiddenStates[l] = make([][]float64, tokens[l])
	}
	return d, nil
}

// Add decodes every row of rec into the bundle.
func (d *Decoder) Add(rec arrow.Record) error {
	if err := checkSchema(rec.Schema()); err != nil {
		return err
	}
	kind := rec.Column(0).(*array.Int8)
	layer := rec.Column(1).(*array.Int32)
	head := rec.Column(2).(*array.Int32)
	row := rec.Column(3).(*array.Int32)
	values := rec.Column(4).(*array.List)
	child := values.ListValues().(*array.Float64)

	for i := 0; i < int(rec.NumRows()); i++ {
		start, end := values.ValueOffsets(i)
		v := make([]float64, end-start)
		copy(v, child.Float64Values()[start:end])

		l, r := int(layer.Value(i)), int(row.Value(i))
		switch kind.Value(i) {
		case KindAttention:
			h := int(head.Value(i))
			att := d.bundle.Attentions
			if l < 0 || h < 0 || r < 0 || l >= len(att) || h >= len(att[l]) || r >= len(att[l][h]) {
				return fmt.Errorf("attention row %d has invalid position (%d, %d, %d)", i, l, h, r)
			}
			att[l][h][r] = v
		case KindHidden:
			hs := d.bundle.HiddenStates
			if l < 0 || r < 0 || l >= len(hs) || r >= len(hs[l]) {
				return fmt.Errorf("hidden-state row %d has invalid position (%d, %d)", i, l, r)
			}
			hs[l][r] = v
		default:
			return fmt.Errorf("row %d has unknown tensor kind %d", i, kind.Value(i))
		}
	}
	return nil
}

// Bundle returns the decoded bundle.
func (d *Decoder) Bundle() *Bundle {
	b := d.bundle
	return &b
}

// Decode is a convenience for a single record.
func Decode(rec arrow.Record) (*Bundle, error) {
	d, err := NewDecoder(rec.Schema())
	if err != nil {
		return nil, err
	}
	if err := d.Add(rec); err != nil {
		return nil, err
	}
	return d.Bundle(), nil
}

// parseExtents reads n comma separated non-negative sizes from s, charging
// their sum against budget.
func parseExtents(s string, n int, key string, budget *int) ([]int, error) {
	if n == 0 {
		if s != "" {
			return nil, fmt.Errorf("invalid %s metadata %q", key, s)
		}
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("%s metadata %q has %d entries, want %d", key, s, len(parts), n)
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid %s metadata %q", key, s)
		}
		if *budget -= v; *budget < 0 {
			return nil, fmt.Errorf("%s metadata declares more than %d slots", key, maxDeclared)
		}
		out[i] = v
	}
	return out, nil
}

func checkSchema(schema *arrow.Schema) error {
	if len(schema.Fields()) != len(fields) {
		return fmt.Errorf("unexpected schema: %d fields, want %d", len(schema.Fields()), len(fields))
	}
	for i, f := range schema.Fields() {
		if f.Name != fields[i].Name || !arrow.TypeEqual(f.Type, fields[i].Type) {
			return fmt.Errorf("unexpected schema field %d: %s %s", i, f.Name, f.Type)
		}
	}
	return nil
}

func atoiMeta(s, key string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s metadata %q", key, s)
	}
	return n, nil
}
