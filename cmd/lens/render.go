package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/23skdu/longbow-lens/internal/inspect"
	"github.com/23skdu/longbow-lens/internal/session"
)

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func printSummary(w io.Writer, snap session.Snapshot) {
	table := newTable(w)
	rows := [][]string{
		{"Prompt:", snap.Request.Prompt},
		{"Model:", snap.Request.ModelName},
		{"State:", string(snap.State)},
	}
	if snap.Result != nil {
		rows = append(rows, []string{"Generated:", snap.Result.GeneratedText})
		if snap.Result.ModelUsedForTesting != "" {
			rows = append(rows, []string{"Model used:", snap.Result.ModelUsedForTesting})
		}
		rows = append(rows, []string{"Tokens:", strconv.Itoa(len(snap.Result.Tokens))})
	}
	if snap.Shape != nil {
		rows = append(rows,
			[]string{"Layers:", strconv.Itoa(snap.Shape.Layers)},
			[]string{"Heads:", strconv.Itoa(snap.Shape.Heads)},
			[]string{"Sequence length:", strconv.Itoa(snap.Shape.SeqLen)},
			[]string{"Hidden layers:", strconv.Itoa(snap.Shape.HiddenLayers)},
			[]string{"Hidden size:", strconv.Itoa(snap.Shape.HiddenSize)},
		)
	}
	if snap.AttentionAlignment != nil && !snap.AttentionAlignment.Aligned {
		rows = append(rows, []string{"Attention:", snap.AttentionAlignment.Diagnostic()})
	}
	if snap.HiddenAlignment != nil && !snap.HiddenAlignment.Aligned {
		rows = append(rows, []string{"Hidden states:", snap.HiddenAlignment.Diagnostic()})
	}
	if snap.Error != "" {
		rows = append(rows, []string{"Error:", snap.Error})
	}
	table.AppendBulk(rows)
	table.Render()
}

// printHeatmap prints the intensity grid, rows are queries and columns keys.
func printHeatmap(w io.Writer, hm *inspect.Heatmap) {
	fmt.Fprintf(w, "\nAttention layer %d head %d", hm.Layer, hm.Head)
	if hm.Degenerate {
		fmt.Fprint(w, " (constant matrix)")
	}
	fmt.Fprint(w, "\n")
	if hm.Diagnostic != "" {
		fmt.Fprintf(w, "%s\n", hm.Diagnostic)
	}

	table := newTable(w)
	table.SetHeader(append([]string{""}, hm.Labels...))
	for i, row := range hm.Cells {
		line := make([]string, 0, len(row)+1)
		line = append(line, hm.Labels[i])
		for _, c := range row {
			line = append(line, strconv.FormatFloat(c.Intensity, 'f', 2, 64))
		}
		table.Append(line)
	}
	table.Render()
}

func printTrajectory(w io.Writer, tr *inspect.TrajectoryView) {
	fmt.Fprintf(w, "\nHidden-state norm of token %d %q\n", tr.TokenIndex, tr.Token)
	if tr.SkippedLayers > 0 {
		fmt.Fprintf(w, "%d layer(s) skipped: token outside their sequence\n", tr.SkippedLayers)
	}

	table := newTable(w)
	table.SetHeader([]string{"LAYER", "L2 NORM", "X", "Y"})
	for i, p := range tr.Points {
		table.Append([]string{
			strconv.Itoa(p.Layer),
			strconv.FormatFloat(p.L2Norm, 'f', 4, 64),
			strconv.FormatFloat(tr.Coords[i].X, 'f', 1, 64),
			strconv.FormatFloat(tr.Coords[i].Y, 'f', 1, 64),
		})
	}
	table.Render()
}
