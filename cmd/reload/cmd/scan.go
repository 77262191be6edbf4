package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/HerbHall/reload/internal/config"
	"github.com/HerbHall/reload/internal/reload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var scanOutput string

var scanCmd = &cobra.Command{
	Use:   "scan [roots...]",
	Short: "List the files that would be watched",
	Long: `Scan traverses the roots with the configured extensions and ignore-list
and prints every file run would watch, without starting anything.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "text", "output format: text, json or yaml")
	scanCmd.Flags().StringSlice("ext", nil, "file extension to watch (repeatable)")
}

func runScan(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.Set("plugins.reload.roots", args)
	}
	if cmd.Flags().Changed("ext") {
		exts, _ := cmd.Flags().GetStringSlice("ext")
		cfg.Set("plugins.reload.extensions", exts)
	}

	opts, err := reload.LoadOptions(cfg.Sub("plugins.reload").Viper())
	if err != nil {
		return err
	}

	dir := cfg.Cluster().Dir
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return err
		}
	}

	ignore := reload.DefaultIgnore.Clone()
	ignore.Add(opts.Ignore...)
	targets := scanTargets(opts, ignore, dir, logger)
	return writeTargets(cmd.OutOrStdout(), scanOutput, targets)
}

// scanTargets returns every file run would watch under opts.Roots, resolved
// against dir, with its current modification time.
func scanTargets(opts reload.Options, ignore *reload.IgnoreSet, dir string, logger *zap.Logger) []reload.WatchTarget {
	roots := make([]string, 0, len(opts.Roots))
	for _, root := range opts.Roots {
		if !filepath.IsAbs(root) {
			root = filepath.Join(dir, root)
		}
		roots = append(roots, filepath.Clean(root))
	}
	if len(roots) == 0 {
		roots = []string{dir}
	}

	traverser := reload.NewTraverser(reload.NewClassifier(ignore, opts.FollowSymlinks), logger, nil)
	targets := []reload.WatchTarget{}
	traverser.Walk(roots, func(path string) {
		if !opts.Watches(path) {
			return
		}
		t := reload.WatchTarget{Path: path}
		if info, err := os.Stat(path); err == nil {
			t.ModTime = info.ModTime().UTC()
		}
		targets = append(targets, t)
	})
	sort.Slice(targets, func(i, j int) bool { return targets[i].Path < targets[j].Path })
	return targets
}

func writeTargets(w io.Writer, format string, targets []reload.WatchTarget) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(targets)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(targets); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		for _, t := range targets {
			if _, err := fmt.Fprintln(w, t.Path); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
