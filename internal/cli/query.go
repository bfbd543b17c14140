package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func RunVerify(cmd *cobra.Command, args []string) error {
	kind, err := ParseKind(cmd)
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.engine().Verify(commandContext(cmd), args[0], kind)
	if err != nil {
		return err
	}
	return emit(cmd, res, textVerify(res))
}

func RunImpact(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.engine().Impact(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	return emit(cmd, res, textImpact(res))
}

func RunWho(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.engine().Who(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	return emit(cmd, res, textWho(res))
}

func RunTrace(cmd *cobra.Command, args []string) error {
	direction, err := ParseDirection(cmd)
	if err != nil {
		return err
	}
	depth, err := OptionalIntFlag(cmd, "depth")
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.engine().Trace(commandContext(cmd), args[0], direction, depth)
	if err != nil {
		return err
	}
	return emit(cmd, res, textTrace(res))
}

func RunSearch(cmd *cobra.Command, args []string) error {
	kind, err := ParseKind(cmd)
	if err != nil {
		return err
	}
	limit, err := OptionalIntFlag(cmd, "limit")
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.engine().Search(commandContext(cmd), strings.Join(args, " "), kind, limit)
	if err != nil {
		return err
	}
	return emit(cmd, res, textSearch(res))
}

func RunPattern(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.engine().Pattern(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	return emit(cmd, res, textPattern(res))
}

func RunSimilar(cmd *cobra.Command, args []string) error {
	limit, err := OptionalIntFlag(cmd, "limit")
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.engine().Similar(commandContext(cmd), strings.Join(args, " "), limit)
	if err != nil {
		return err
	}
	return emit(cmd, res, textSimilar(res))
}

func RunSkeleton(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.engine().Skeleton(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	return emit(cmd, res, textSkeleton(res))
}

// RunHealth reports freshness and counts. It never rebuilds.
func RunHealth(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.engine().Health(commandContext(cmd))
	if err != nil {
		return err
	}
	return emit(cmd, res, textHealth(res))
}
