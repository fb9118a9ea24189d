package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/fluffyengine/fluffy-engine/internal/config"
	"github.com/fluffyengine/fluffy-engine/internal/policy"
)

// newWatchCmd creates the "watch" subcommand for re-synthesizing on config changes.
func newWatchCmd(o *rootOptions) *cobra.Command {
	var (
		checkOnly bool
		debounce  time.Duration
		outputDir string
		format    string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-synthesize when the config file changes",
		Long: `Watch monitors the config file and re-runs the policy checks and synth on
every change.

The watch command:
- Monitors the config file (--config, or ./fluffy-engine.yaml)
- Runs the policy checks on each change
- Synthesizes if the checks pass (unless --check-only)
- Debounces rapid changes to avoid excessive rebuilds

Examples:
    fluffy-engine watch -c account=123456789012 -c region=us-east-1
    fluffy-engine watch --config prod.yaml --check-only
    fluffy-engine watch --debounce 1s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runWatch(cmd.Context(), watchOptions{
				checkOnly: checkOnly,
				debounce:  debounce,
				outputDir: outputDir,
				format:    format,
			})
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check-only", false, "Only run the policy checks, skip synth")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "Debounce duration for rapid changes")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (default: output.dir from config)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Template format: json or yaml (default: output.format from config)")

	return cmd
}

type watchOptions struct {
	checkOnly bool
	debounce  time.Duration
	outputDir string
	format    string
}

// watchedFile returns the config file path the watch command follows.
func (o *rootOptions) watchedFile() (string, error) {
	path := o.configFile
	if path == "" {
		path = config.FileName + ".yaml"
	}
	return filepath.Abs(path)
}

// runWatch monitors the config file and re-synthesizes on changes.
func (o *rootOptions) runWatch(ctx context.Context, opts watchOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	target, err := o.watchedFile()
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	// Editors replace files on save, so watch the directory.
	dir := filepath.Dir(target)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	fmt.Fprintf(o.stdout, "Watching: %s\n", target)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	fmt.Fprintln(o.stdout, "Running initial check/synth...")
	o.checkAndSynth(ctx, opts)

	var debounceTimer *time.Timer
	rebuildChan := make(chan struct{}, 1)

	fmt.Fprintln(o.stdout, "\nWatching for changes... (Ctrl+C to stop)")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isConfigChange(event, target) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(opts.debounce, func() {
				select {
				case rebuildChan <- struct{}{}:
				default:
				}
			})

		case <-rebuildChan:
			fmt.Fprintf(o.stdout, "\n[%s] Change detected, rebuilding...\n", time.Now().Format("15:04:05"))
			o.checkAndSynth(ctx, opts)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(o.stderr, "Watch error: %v\n", err)

		case <-ctx.Done():
			return nil

		case <-sigChan:
			fmt.Fprintln(o.stdout, "\nStopping watch...")
			return nil
		}
	}
}

// isConfigChange reports whether event writes or recreates target.
func isConfigChange(event fsnotify.Event, target string) bool {
	if filepath.Clean(event.Name) != target {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// checkAndSynth runs the policy checks and, when they pass, synth. It
// reports failures instead of returning them so the watch keeps running.
func (o *rootOptions) checkAndSynth(ctx context.Context, opts watchOptions) bool {
	res, err := o.loadApp(ctx)
	if err != nil {
		fmt.Fprintf(o.stderr, "Error: %v\n", err)
		return false
	}

	in, err := policy.InputFrom(res)
	if err != nil {
		fmt.Fprintf(o.stderr, "Error: %v\n", err)
		return false
	}
	checked := policy.Check(in, policy.Options{})
	for _, issue := range checked.Issues {
		fmt.Fprintln(o.stdout, policy.Format(issue))
	}
	if !checked.Success {
		fmt.Fprintln(o.stdout, "Checks failed, skipping synth")
		return false
	}
	fmt.Fprintln(o.stdout, "Checks passed")

	if opts.checkOnly {
		return true
	}

	dir, format := opts.outputDir, opts.format
	if dir == "" {
		dir = res.Deployment.Output.Dir
	}
	if format == "" {
		format = res.Deployment.Output.Format
	}
	if err := o.runSynth(res, dir, format, false); err != nil {
		fmt.Fprintf(o.stderr, "Synth error: %v\n", err)
		return false
	}
	return true
}
