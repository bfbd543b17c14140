package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skelly-dev/context-oracle/internal/lineage"
)

func OptionalStringFlag(cmd *cobra.Command, name string) (string, error) {
	if cmd == nil || cmd.Flags().Lookup(name) == nil {
		return "", nil
	}
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return "", fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	return strings.TrimSpace(value), nil
}

func OptionalBoolFlag(cmd *cobra.Command, name string) (bool, error) {
	if cmd == nil || cmd.Flags().Lookup(name) == nil {
		return false, nil
	}
	value, err := cmd.Flags().GetBool(name)
	if err != nil {
		return false, fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	return value, nil
}

func OptionalIntFlag(cmd *cobra.Command, name string) (int, error) {
	if cmd == nil || cmd.Flags().Lookup(name) == nil {
		return 0, nil
	}
	value, err := cmd.Flags().GetInt(name)
	if err != nil {
		return 0, fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	return value, nil
}

// ParseKind normalizes --kind for verify and search.
func ParseKind(cmd *cobra.Command) (string, error) {
	value, err := OptionalStringFlag(cmd, "kind")
	if err != nil {
		return "", err
	}

	aliases := map[string]string{
		"":         "",
		"function": "function",
		"func":     "function",
		"fn":       "function",
		"constant": "constant",
		"const":    "constant",
		"column":   "column",
		"col":      "column",
		"table":    "table",
	}
	kind, ok := aliases[strings.ToLower(value)]
	if !ok {
		return "", fmt.Errorf("unsupported kind %q (supported: function, constant, column, table)", value)
	}
	return kind, nil
}

func ParseDirection(cmd *cobra.Command) (string, error) {
	value, err := OptionalStringFlag(cmd, "direction")
	if err != nil {
		return "", err
	}
	switch strings.ToLower(value) {
	case "", lineage.DirectionBoth:
		return lineage.DirectionBoth, nil
	case lineage.DirectionUp, "upstream":
		return lineage.DirectionUp, nil
	case lineage.DirectionDown, "downstream":
		return lineage.DirectionDown, nil
	default:
		return "", fmt.Errorf("unsupported direction %q (supported: up, down, both)", value)
	}
}
