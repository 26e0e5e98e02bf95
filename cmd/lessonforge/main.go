package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"lessonforge/internal/checkpoint"
	"lessonforge/internal/config"
	"lessonforge/internal/generate"
	"lessonforge/internal/writer"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	envFile    string
	verbose    bool
	seedFlag   int64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lessonforge",
		Short: "LessonForge - structured educational content generator",
		Long: `LessonForge generates structured educational content (lesson plans,
quizzes, coding problems) for many topics in parallel by orchestrating
calls to an LLM backend, with resumable checkpointing at both the
pipeline-stage and batch-run level.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the content generation batch",
		Long: `Run the complete generation batch:
1. Expand the configured topic list into jobs
2. Skip jobs already recorded in the run checkpoint
3. For each pending topic: ideas -> lesson plan (graded) -> quiz (graded)
   -> coding problems (graded)
4. Render markdown and JSON artifacts per topic`,
		RunE: runBatch,
	}

	runCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	runCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	runCmd.Flags().Int64Var(&seedFlag, "seed", 0, "Batch seed (overrides checkpoint.seed in config)")

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage run checkpoints",
		Long:  "Inspect run checkpoints left by interrupted sessions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions that contain a run checkpoint",
		RunE:  listCheckpoints,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect <session-dir>",
		Short: "Show completion state recorded in a session's run checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectCheckpoint,
	}

	checkpointCmd.AddCommand(listCmd)
	checkpointCmd.AddCommand(inspectCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkpointCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
			}
		} else if verbose {
			fmt.Fprintf(os.Stderr, "Loaded env file: %s\n", envFile)
		}
	}

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("seed") {
		cfg.Checkpoint.Seed = seedFlag
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	sessionMgr, err := writer.NewSessionManager(slog.Default(), cfg.Generation.ResumeFromSession)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	logger, logFile, err := writer.SetupLogger(sessionMgr, logLevel)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	batch, err := generate.NewBatch(cfg, secrets, sessionMgr, logger)
	if err != nil {
		return err
	}
	defer batch.Close()

	start := time.Now()
	if err := batch.Run(ctx); err != nil {
		return err
	}

	logger.Info("Batch complete", "duration", time.Since(start))
	return nil
}

func listCheckpoints(cmd *cobra.Command, args []string) error {
	entries, err := os.ReadDir("output")
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No output directory found.")
			return nil
		}
		return err
	}

	found := false
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := "output/" + entry.Name() + "/run_checkpoint"
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			fmt.Println(entry.Name())
			found = true
		}
	}
	if !found {
		fmt.Println("No sessions with run checkpoints found.")
	}
	return nil
}

func inspectCheckpoint(cmd *cobra.Command, args []string) error {
	dir := "output/" + args[0] + "/run_checkpoint"
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("Session %s has no run checkpoint.\n", args[0])
			return nil
		}
		return fmt.Errorf("failed to stat run checkpoint: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	mgr, err := checkpoint.Open(dir, time.Hour, 3, logger)
	if err != nil {
		return fmt.Errorf("failed to open run checkpoint: %w", err)
	}
	defer func() { _ = mgr.Close() }()

	fmt.Printf("Session:        %s\n", args[0])
	fmt.Printf("Completed jobs: %d\n", mgr.CompletedCount())
	return nil
}
