package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skelly-dev/context-oracle/internal/validate"
)

func RunValidateOrder(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	g, err := s.engine().Graph(commandContext(cmd))
	if err != nil {
		return err
	}
	report := validate.PipelineOrder(g)
	return emit(cmd, report, textOrder(report))
}

// RunValidateSchema checks written columns against schema_lock.json at the
// repository root. --update rewrites the lock first, so the report passes.
func RunValidateSchema(cmd *cobra.Command, args []string) error {
	update, err := OptionalBoolFlag(cmd, "update")
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	g, err := s.engine().Graph(commandContext(cmd))
	if err != nil {
		return err
	}
	lockPath := filepath.Join(s.root, validate.LockFile)
	if update {
		lock, err := validate.Update(g, lockPath)
		if err != nil {
			return err
		}
		s.logger.Info("schema lock updated",
			zap.String("path", lockPath),
			zap.Int("scripts", lock.TotalScripts),
			zap.Int("columns", lock.TotalColumns),
		)
	}
	report, err := validate.Check(g, lockPath)
	if err != nil {
		return err
	}
	return emit(cmd, report, textSchema(report))
}
