package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/23skdu/longbow-lens/internal/inspect"
	"github.com/23skdu/longbow-lens/internal/tensorio"
)

func writeDump(t *testing.T) string {
	t.Helper()
	m := [][]float64{
		{0.1, 0.2, 0.3, 0.4},
		{0.4, 0.3, 0.2, 0.1},
		{0.0, 0.5, 0.5, 0.0},
		{1.0, 0.0, 0.0, 0.0},
	}
	path := filepath.Join(t.TempDir(), "hello.arrow")
	err := tensorio.WriteFile(path, &tensorio.Bundle{
		Prompt:        "Hello, world!",
		ModelName:     "gpt2",
		GeneratedText: "Hello, world! Hi.",
		Attentions:    inspect.AttentionTensor{{m, m}},
		HiddenStates: inspect.HiddenStateTensor{
			{{1, 0}, {0, 1}, {1, 1}, {0, 0}},
			{{3, 4}, {0, 2}, {2, 2}, {0, 0}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewCLI()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAnalyzeFromDump(t *testing.T) {
	dump := writeDump(t)

	out, err := run(t, "analyze", "Hello, world!", "--model", "gpt2", "--backend", "static", "--dump", dump, "--head", "1", "--token", "0")
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"Hello, world! Hi.",
		"Attention layer 0 head 1",
		"1.00",
		`Hidden-state norm of token 0 "Hello"`,
		"5.0000",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAnalyzeJSON(t *testing.T) {
	dump := writeDump(t)

	out, err := run(t, "analyze", "Hello, world!", "-m", "gpt2", "--backend", "static", "--dump", dump, "--json")
	if err != nil {
		t.Fatal(err)
	}

	var got struct {
		Heatmap    inspect.Heatmap        `json:"heatmap"`
		Trajectory inspect.TrajectoryView `json:"trajectory"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if len(got.Heatmap.Cells) != 4 {
		t.Errorf("expected 4 heatmap rows, got %d", len(got.Heatmap.Cells))
	}
	if len(got.Trajectory.Points) != 2 {
		t.Errorf("expected 2 trajectory points, got %d", len(got.Trajectory.Points))
	}
}

func TestAnalyzeErrors(t *testing.T) {
	dump := writeDump(t)

	cases := []struct {
		name string
		args []string
		want string
	}{
		{"empty prompt", []string{"analyze", " ", "-m", "gpt2", "--backend", "static", "--dump", dump}, "invalid prompt"},
		{"unknown prompt", []string{"analyze", "Bye", "-m", "gpt2", "--backend", "static", "--dump", dump}, "no canned response"},
		{"layer out of range", []string{"analyze", "Hello, world!", "-m", "gpt2", "--backend", "static", "--dump", dump, "--layer", "3"}, "layer index 3 out of range"},
		{"bad backend", []string{"analyze", "Hello", "-m", "gpt2", "--backend", "smoke-signal"}, "invalid inference backend"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestDumpRoundTrip(t *testing.T) {
	src := writeDump(t)
	dst := filepath.Join(t.TempDir(), "copy.arrow")

	out, err := run(t, "dump", "Hello, world!", "-m", "gpt2", "--backend", "static", "--dump", src, "-o", dst)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, dst) {
		t.Errorf("expected output to name %s, got %q", dst, out)
	}

	b, err := tensorio.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if b.Prompt != "Hello, world!" || b.ModelName != "gpt2" {
		t.Errorf("unexpected bundle header %q %q", b.Prompt, b.ModelName)
	}
	if len(b.HiddenStates) != 2 {
		t.Errorf("expected 2 hidden layers, got %d", len(b.HiddenStates))
	}
}
