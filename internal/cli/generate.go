package cli

import (
	"github.com/spf13/cobra"

	"github.com/skelly-dev/context-oracle/internal/builder"
)

func RunGenerate(cmd *cobra.Command, args []string) error {
	force, err := OptionalBoolFlag(cmd, "force")
	if err != nil {
		return err
	}
	return rebuild(cmd, force)
}

// RunUpdate is generate without --force: only changed files are extracted.
func RunUpdate(cmd *cobra.Command, args []string) error {
	return rebuild(cmd, false)
}

func rebuild(cmd *cobra.Command, force bool) error {
	asJSON, err := OptionalBoolFlag(cmd, "json")
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	progress := newExtractProgressReporter("extract", asJSON)
	summary, err := s.builder.Rebuild(commandContext(cmd), builder.Options{
		Force:    force,
		Progress: progress.Update,
	})
	if err != nil {
		return err
	}
	progress.Done(summary.Extracted)
	return PrintRunSummary(cmd.OutOrStdout(), summary, asJSON)
}
