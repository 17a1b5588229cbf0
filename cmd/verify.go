package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openjudiciary/ecourts-archiver/internal/archive"
)

// newVerifyCmd creates the 'verify' subcommand, which audits remote archive
// state: every index must parse, validate, and reference only parts that
// actually exist in the object store.
func newVerifyCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Audits remote indexes against their container parts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerifyCommand(cmd.Context(), state)
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "only verify this state code")
	return cmd
}

func runVerifyCommand(ctx context.Context, state string) error {
	svc, err := buildServices(ctx)
	if err != nil {
		return err
	}
	defer svc.close()
	logger := svc.logger

	paths, err := svc.provider.List(ctx, svc.syncer.Prefix())
	if err != nil {
		return fmt.Errorf("list remote objects: %w", err)
	}

	stateSegment := ""
	if state != "" {
		stateSegment = "/state=" + state + "/"
	}

	var checked, problems int
	for _, path := range paths {
		if !strings.HasSuffix(path, ".index.json") {
			continue
		}
		if stateSegment != "" && !strings.Contains(path, stateSegment) {
			continue
		}
		checked++
		if err := verifyIndex(ctx, svc, path); err != nil {
			problems++
			logger.Error("index verification failed",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}

	logger.Info("verification finished",
		zap.Int("indexes_checked", checked),
		zap.Int("problems", problems),
	)
	if problems > 0 {
		return fmt.Errorf("%d of %d indexes failed verification", problems, checked)
	}
	return nil
}

func verifyIndex(ctx context.Context, svc *services, path string) error {
	data, err := svc.provider.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("fetch index: %w", err)
	}
	var record archive.IndexRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("parse index: %w", err)
	}
	if err := record.Validate(); err != nil {
		return err
	}
	key := record.Key()
	if got := key.RemoteIndexPath(svc.syncer.Prefix()); got != path {
		return fmt.Errorf("index stored at %s but describes key %s", path, key)
	}
	for _, part := range record.Parts {
		exists, err := svc.provider.Exists(ctx, key.RemotePartPath(svc.syncer.Prefix(), part.Name))
		if err != nil {
			return fmt.Errorf("probe part %s: %w", part.Name, err)
		}
		if !exists {
			return fmt.Errorf("index references missing part %s", part.Name)
		}
	}
	return nil
}
