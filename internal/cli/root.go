package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "oracle",
		Short: "Answer questions about a data pipeline from extracted facts",
		Long: `The context oracle extracts functions, constants, column reads and writes,
file lineage and schema tables from a pipeline repository, and answers
verification and impact questions from those facts instead of guesses.

Artifacts live in .oracle/ and are rebuilt automatically when sources change.
Query commands print JSON; pass --text for a short human summary.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("root", "", "Repository root (default: current directory)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log rebuild phases to stderr")
	rootCmd.PersistentFlags().Bool("text", false, "Print a human summary instead of JSON")

	// Build Commands
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Build or refresh the artifact generation",
		Args:  cobra.NoArgs,
		RunE:  RunGenerate,
	}
	generateCmd.Flags().Bool("force", false, "Re-extract every file instead of only changed ones")
	generateCmd.Flags().Bool("json", false, "Print machine-readable run summary")

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Incrementally refresh artifacts for changed files",
		Args:  cobra.NoArgs,
		RunE:  RunUpdate,
	}
	updateCmd.Flags().Bool("json", false, "Print machine-readable run summary")

	// Inspect Commands
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Report artifact freshness and counts without rebuilding",
		Args:  cobra.NoArgs,
		RunE:  RunHealth,
	}

	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, pattern definitions and artifact store setup",
		Args:  cobra.NoArgs,
		RunE:  RunDoctor,
	}
	doctorCmd.Flags().Bool("json", false, "Print machine-readable doctor output")

	// Query Commands
	verifyCmd := &cobra.Command{
		Use:   "verify <name>",
		Short: "Check that a function, constant, column or table exists",
		Args:  cobra.ExactArgs(1),
		RunE:  RunVerify,
	}
	verifyCmd.Flags().String("kind", "", "Restrict to function|constant|column|table")

	impactCmd := &cobra.Command{
		Use:   "impact <script>",
		Short: "Show which scripts break if a script changes",
		Args:  cobra.ExactArgs(1),
		RunE:  RunImpact,
	}

	whoCmd := &cobra.Command{
		Use:   "who <column>",
		Short: "Show which scripts write and read a column",
		Args:  cobra.ExactArgs(1),
		RunE:  RunWho,
	}

	traceCmd := &cobra.Command{
		Use:   "trace <target>",
		Short: "Trace a column, file, script or table through the lineage graph",
		Args:  cobra.ExactArgs(1),
		RunE:  RunTrace,
	}
	traceCmd.Flags().String("direction", "both", "Traversal direction: up|down|both")
	traceCmd.Flags().Int("depth", 0, "Maximum hops (0 means the default)")

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Fuzzy search over registry names",
		Args:  cobra.MinimumNArgs(1),
		RunE:  RunSearch,
	}
	searchCmd.Flags().Int("limit", 0, "Maximum number of results (0 means search.limit)")
	searchCmd.Flags().String("kind", "", "Restrict to function|constant|column|table")

	patternCmd := &cobra.Command{
		Use:   "pattern <name>",
		Short: "Show the structure and conventions of a code pattern",
		Args:  cobra.ExactArgs(1),
		RunE:  RunPattern,
	}

	similarCmd := &cobra.Command{
		Use:   "similar <description>",
		Short: "Find existing functions matching a description",
		Args:  cobra.MinimumNArgs(1),
		RunE:  RunSimilar,
	}
	similarCmd.Flags().Int("limit", 0, "Maximum number of matches (0 means search.limit)")

	skeletonCmd := &cobra.Command{
		Use:   "skeleton <file>",
		Short: "Print the signature-only skeleton of a python file",
		Args:  cobra.ExactArgs(1),
		RunE:  RunSkeleton,
	}

	// Validate Commands
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Pipeline-level checks over the lineage graph",
	}
	validateOrderCmd := &cobra.Command{
		Use:   "order",
		Short: "Check script dependencies for cycles and prefix order",
		Args:  cobra.NoArgs,
		RunE:  RunValidateOrder,
	}
	validateSchemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Compare written columns against schema_lock.json",
		Args:  cobra.NoArgs,
		RunE:  RunValidateSchema,
	}
	validateSchemaCmd.Flags().Bool("update", false, "Rewrite schema_lock.json from the current sources")
	validateCmd.AddCommand(validateOrderCmd, validateSchemaCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "oracle %s\n", version)
		},
	}

	rootCmd.AddCommand(
		generateCmd,
		updateCmd,
		healthCmd,
		doctorCmd,
		verifyCmd,
		impactCmd,
		whoCmd,
		traceCmd,
		searchCmd,
		patternCmd,
		similarCmd,
		skeletonCmd,
		validateCmd,
		versionCmd,
	)

	return rootCmd
}
