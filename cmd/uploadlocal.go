package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openjudiciary/ecourts-archiver/internal/archive"
	"github.com/openjudiciary/ecourts-archiver/internal/runner"
)

type uploadLocalOptions struct {
	source       string
	year         int
	state        string
	district     string
	complexCode  string
	dryRun       bool
	skipExisting bool
}

// newUploadLocalCmd creates the 'upload-local' subcommand, which archives a
// directory tree of already-scraped documents. The tree is laid out as
// <source>/<year>/<state>/<district>/<complex>/ with loose files inside;
// JSON files become metadata entries, everything else order entries.
func newUploadLocalCmd() *cobra.Command {
	opts := &uploadLocalOptions{}
	cmd := &cobra.Command{
		Use:   "upload-local",
		Short: "Archives a local directory tree of scraped documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUploadLocalCommand(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.source, "source", "", "root of the local document tree (required)")
	cmd.Flags().IntVar(&opts.year, "year", 0, "only archive this year")
	cmd.Flags().StringVar(&opts.state, "state", "", "only archive this state code")
	cmd.Flags().StringVar(&opts.district, "district", "", "only archive this district code")
	cmd.Flags().StringVar(&opts.complexCode, "complex", "", "only archive this complex code")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "list what would be archived without writing anything")
	cmd.Flags().BoolVar(&opts.skipExisting, "skip-existing", true, "skip keys whose remote index already has content")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func runUploadLocalCommand(ctx context.Context, opts *uploadLocalOptions) error {
	// A signal stops dispatching new keys; in-flight keys finish, seal, and
	// upload so no half-archived state is left behind.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	units, err := scanSourceTree(opts.source, opts)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		return fmt.Errorf("no archivable files under %s", opts.source)
	}

	if opts.dryRun {
		for _, unit := range units {
			fmt.Printf("%s: %d files\n", unit.key, len(unit.paths))
		}
		return nil
	}

	svc, err := buildServices(ctx)
	if err != nil {
		return err
	}
	defer svc.close()
	logger := svc.logger

	tasks := make([]runner.Task, 0, len(units))
	for _, unit := range units {
		tasks = append(tasks, unit.task())
	}

	r := runner.New(svc.manager, runner.Config{
		Concurrency:  svc.cfg.Runner.Concurrency,
		Deadline:     svc.cfg.RunDeadline(),
		SkipExisting: opts.skipExisting,
	}, svc.clock, logger.Named("runner"))

	summary, err := r.Run(ctx, tasks)
	logger.Info("upload-local finished",
		zap.Int("completed", summary.Completed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("deadlined", summary.Deadlined),
		zap.Int("failed", summary.Failed),
		zap.Strings("failed_keys", summary.FailedKeys),
	)
	for key, names := range summary.Changes {
		logger.Info("archived entries", zap.String("key", key), zap.Int("count", len(names)))
	}
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d keys failed to archive", summary.Failed)
	}
	return nil
}

// workUnit is one key plus the source files that belong to it.
type workUnit struct {
	key   archive.Key
	paths []string
}

func (u workUnit) task() runner.Task {
	paths := u.paths
	return runner.Task{
		Key: u.key,
		Load: func(context.Context) ([]runner.Entry, error) {
			entries := make([]runner.Entry, 0, len(paths))
			for _, p := range paths {
				data, err := os.ReadFile(p)
				if err != nil {
					return nil, fmt.Errorf("read source file %s: %w", p, err)
				}
				entries = append(entries, runner.Entry{Name: filepath.Base(p), Data: data})
			}
			return entries, nil
		},
	}
}

// scanSourceTree walks <source>/<year>/<state>/<district>/<complex> and
// groups the files it finds into per-key work units.
func scanSourceTree(source string, opts *uploadLocalOptions) ([]workUnit, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("stat source tree: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", source)
	}

	units := make(map[archive.Key]*workUnit)
	err = filepath.WalkDir(source, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 5 {
			return nil
		}
		year, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil
		}
		key := archive.Key{
			Year:         year,
			StateCode:    parts[1],
			DistrictCode: parts[2],
			ComplexCode:  parts[3],
			Type:         archive.TypeOrders,
		}
		if strings.EqualFold(filepath.Ext(parts[4]), ".json") {
			key.Type = archive.TypeMetadata
		}
		if !matchesFilters(key, opts) {
			return nil
		}
		if err := key.Validate(); err != nil {
			return fmt.Errorf("invalid key for %s: %w", rel, err)
		}
		unit, ok := units[key]
		if !ok {
			unit = &workUnit{key: key}
			units[key] = unit
		}
		unit.paths = append(unit.paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan source tree: %w", err)
	}

	out := make([]workUnit, 0, len(units))
	for _, unit := range units {
		sort.Strings(unit.paths)
		out = append(out, *unit)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].key.String() < out[j].key.String()
	})
	return out, nil
}

func matchesFilters(key archive.Key, opts *uploadLocalOptions) bool {
	if opts.year != 0 && key.Year != opts.year {
		return false
	}
	if opts.state != "" && key.StateCode != opts.state {
		return false
	}
	if opts.district != "" && key.DistrictCode != opts.district {
		return false
	}
	if opts.complexCode != "" && key.ComplexCode != opts.complexCode {
		return false
	}
	return true
}
