package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skelly-dev/context-oracle/internal/builder"
	"github.com/skelly-dev/context-oracle/internal/config"
	"github.com/skelly-dev/context-oracle/internal/fileutil"
	"github.com/skelly-dev/context-oracle/internal/logging"
	"github.com/skelly-dev/context-oracle/internal/oerrors"
	"github.com/skelly-dev/context-oracle/internal/query"
)

// Process exit statuses. Negative answers (found:false, passed:false) are
// results and exit with ExitOK.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitContention = 2
)

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case oerrors.IsContention(err):
		return ExitContention
	default:
		return ExitError
	}
}

// session is what every command needs: the resolved root, its config and a
// builder bound to the artifact store.
type session struct {
	root    string
	cfg     *config.Config
	logger  *zap.Logger
	builder *builder.Builder
}

func openSession(cmd *cobra.Command) (*session, error) {
	root, err := resolveRoot(cmd)
	if err != nil {
		return nil, err
	}
	verbose, err := OptionalBoolFlag(cmd, "verbose")
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(verbose)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	return &session{
		root:    root,
		cfg:     cfg,
		logger:  logger,
		builder: builder.New(root, cfg, logger),
	}, nil
}

func (s *session) engine() *query.Engine {
	return query.New(s.builder, query.WithLogger(s.logger))
}

func (s *session) Close() {
	// Sync on stderr fails on some platforms; nothing useful to do about it.
	_ = s.logger.Sync()
}

func resolveRoot(cmd *cobra.Command) (string, error) {
	root, err := OptionalStringFlag(cmd, "root")
	if err != nil {
		return "", err
	}
	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to resolve working directory: %w", err)
		}
	}
	rootPath, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %q: %w", root, err)
	}
	info, err := os.Stat(rootPath)
	if err != nil {
		return "", fmt.Errorf("failed to access path %q: %w", rootPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path %q is not a directory", rootPath)
	}
	return rootPath, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// emit writes a query result: JSON by default, the text rendering with --text.
func emit(cmd *cobra.Command, value any, text func(w io.Writer)) error {
	asText, err := OptionalBoolFlag(cmd, "text")
	if err != nil {
		return err
	}
	if asText && text != nil {
		text(cmd.OutOrStdout())
		return nil
	}
	return fileutil.PrintJSON(cmd.OutOrStdout(), value)
}
