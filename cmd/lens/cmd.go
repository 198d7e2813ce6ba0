package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-lens/internal/config"
	"github.com/23skdu/longbow-lens/internal/inference"
	"github.com/23skdu/longbow-lens/internal/inspect"
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/session"
	"github.com/23skdu/longbow-lens/internal/tensorio"
)

// NewCLI builds the lens command tree.
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lens",
		Short: "Inspect attention and hidden-state tensors of a language model",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			level, _ := cmd.Flags().GetString("log-level")
			logger.SetupWriter(level, "console", cmd.ErrOrStderr())
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("backend", "", "Inference backend: http, flight or static")
	flags.String("inference-url", "", "Base URL of the HTTP inference service")
	flags.String("flight-addr", "", "Address of the Arrow Flight inference server")
	flags.StringSlice("dump", nil, "Arrow IPC dump served by the static backend (repeatable)")
	flags.String("log-level", "warn", "Log level: debug, info, warn, error")

	cobra.EnableCommandSorting = false

	analyzeCmd := &cobra.Command{
		Use:   "analyze PROMPT",
		Short: "Run an analysis and print the heatmap and trajectory",
		Args:  cobra.ExactArgs(1),
		RunE:  AnalyzeHandler,
	}
	analyzeCmd.Flags().StringP("model", "m", "", "Model name sent to the inference service")
	analyzeCmd.Flags().Int("layer", 0, "Attention layer to show")
	analyzeCmd.Flags().Int("head", 0, "Attention head to show")
	analyzeCmd.Flags().Int("token", 0, "Token whose hidden-state trajectory is charted")
	analyzeCmd.Flags().Bool("json", false, "Print the views as JSON")

	dumpCmd := &cobra.Command{
		Use:   "dump PROMPT",
		Short: "Fetch tensors for a prompt and save them as an Arrow IPC file",
		Args:  cobra.ExactArgs(1),
		RunE:  DumpHandler,
	}
	dumpCmd.Flags().StringP("model", "m", "", "Model name sent to the inference service")
	dumpCmd.Flags().StringP("output", "o", "analysis.arrow", "Output file")

	replayCmd := &cobra.Command{
		Use:   "replay DUMP...",
		Short: "Serve Arrow IPC dumps over Flight as an inference backend",
		Args:  cobra.MinimumNArgs(1),
		RunE:  ReplayHandler,
	}
	replayCmd.Flags().String("listen", "127.0.0.1:3000", "Flight listen address")

	rootCmd.AddCommand(analyzeCmd, dumpCmd, replayCmd)
	return rootCmd
}

// loadConfig resolves the inference configuration from the config file and
// the persistent flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}

	if v, _ := cmd.Flags().GetString("backend"); v != "" {
		cfg.Inference.Backend = config.Backend(v)
	}
	if v, _ := cmd.Flags().GetString("inference-url"); v != "" {
		cfg.Inference.URL = v
	}
	if v, _ := cmd.Flags().GetString("flight-addr"); v != "" {
		cfg.Inference.FlightAddr = v
	}
	if v, _ := cmd.Flags().GetStringSlice("dump"); len(v) > 0 {
		cfg.Inference.Dumps = append(cfg.Inference.Dumps, v...)
	}
	// One-shot commands never repeat a request.
	cfg.Inference.CacheSize = 0

	return cfg, cfg.Validate()
}

func requestFrom(cmd *cobra.Command, args []string) inference.Request {
	model, _ := cmd.Flags().GetString("model")
	return inference.Request{Prompt: args[0], ModelName: model}
}

func AnalyzeHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	source, closeSource, err := inference.Open(cfg.Inference)
	if err != nil {
		return err
	}
	defer closeSource()

	sess := session.New(source, session.Options{
		Style: inspect.HeatmapStyle{TextFlipThreshold: cfg.Render.TextFlipThreshold},
		Viewport: inspect.Viewport{
			Width:   cfg.Render.ChartWidth,
			Height:  cfg.Render.ChartHeight,
			Padding: cfg.Render.ChartPadding,
		},
	})

	gen, err := sess.Submit(cmd.Context(), requestFrom(cmd, args))
	if err != nil {
		return err
	}
	var snap session.Snapshot
	err = withProgress(cmd.ErrOrStderr(), "analyzing", func() error {
		var err error
		snap, err = sess.Wait(cmd.Context(), gen)
		return err
	})
	if err != nil {
		return err
	}
	if snap.State == session.StateFailed {
		return errors.New(snap.Error)
	}

	layer, _ := cmd.Flags().GetInt("layer")
	head, _ := cmd.Flags().GetInt("head")
	token, _ := cmd.Flags().GetInt("token")
	if err := sess.SelectAttention(layer, head); err != nil {
		return err
	}
	if err := sess.SelectToken(token); err != nil {
		return err
	}

	hm, err := sess.Heatmap()
	if err != nil {
		return err
	}
	tr, err := sess.Trajectory()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, map[string]interface{}{
			"analysis":   sess.Snapshot(),
			"heatmap":    hm,
			"trajectory": tr,
		})
	}

	printSummary(out, sess.Snapshot())
	printHeatmap(out, hm)
	printTrajectory(out, tr)
	return nil
}

func DumpHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	source, closeSource, err := inference.Open(cfg.Inference)
	if err != nil {
		return err
	}
	defer closeSource()

	req := requestFrom(cmd, args)
	var resp *inference.Response
	err = withProgress(cmd.ErrOrStderr(), "fetching tensors", func() error {
		var err error
		resp, err = source.Analyze(cmd.Context(), req)
		return err
	})
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("output")
	if err := tensorio.WriteFile(path, resp.Bundle(req)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}

func ReplayHandler(cmd *cobra.Command, args []string) error {
	srv := inference.NewReplayServer()
	for _, path := range args {
		if err := srv.LoadFile(path); err != nil {
			return err
		}
	}

	listen, _ := cmd.Flags().GetString("listen")
	addr, err := srv.Listen(listen)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "serving %d analyses on %s\n", srv.Len(), addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
		case <-cmd.Context().Done():
		}
		srv.Shutdown()
	}()

	return srv.Serve()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
