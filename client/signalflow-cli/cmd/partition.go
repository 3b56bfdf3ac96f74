package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	duplicateThreshold float64
	importFile         string
	confirmClear       bool
)

var partitionCmd = &cobra.Command{
	Use:   "partition",
	Short: "Inspect and maintain similarity partitions",
}

func partitionPath(name string, rest ...string) string {
	path := "/similarity/partitions/" + url.PathEscape(name)
	for _, r := range rest {
		path += "/" + url.PathEscape(r)
	}
	return path
}

var partitionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List partitions with their statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, "/similarity/partitions", nil)
	},
}

var partitionStatsCmd = &cobra.Command{
	Use:   "stats [name]",
	Short: "Show statistics of a partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, partitionPath(args[0], "stats"), nil)
	},
}

var partitionDuplicatesCmd = &cobra.Command{
	Use:   "duplicates [name]",
	Short: "Group near-identical entries of a partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := partitionPath(args[0], "duplicates")
		if duplicateThreshold > 0 {
			path += "?threshold=" + strconv.FormatFloat(duplicateThreshold, 'f', -1, 64)
		}
		return call(cmd, http.MethodGet, path, nil)
	},
}

var partitionExportCmd = &cobra.Command{
	Use:   "export [name]",
	Short: "Print every entry of a partition, embeddings included",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, partitionPath(args[0], "entries"), nil)
	},
}

var partitionImportCmd = &cobra.Command{
	Use:   "import [name]",
	Short: "Load entries from a file written by 'partition export' (or a bare JSON array)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if importFile == "" {
			return errors.New("--file is required")
		}
		data, err := os.ReadFile(importFile)
		if err != nil {
			return fmt.Errorf("error reading %s: %w", importFile, err)
		}
		entries, err := decodeEntries(data)
		if err != nil {
			return err
		}
		return call(cmd, http.MethodPost, partitionPath(args[0], "entries"), map[string]interface{}{"entries": entries})
	},
}

// decodeEntries accepts both the export envelope and a plain array.
func decodeEntries(data []byte) ([]json.RawMessage, error) {
	var export struct {
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(data, &export); err == nil && export.Entries != nil {
		return export.Entries, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing entries: %w", err)
	}
	return entries, nil
}

var partitionDeleteCmd = &cobra.Command{
	Use:   "delete [name] [id]",
	Short: "Delete one entry from a partition",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodDelete, partitionPath(args[0], "entries", args[1]), nil)
	},
}

var partitionClearCmd = &cobra.Command{
	Use:   "clear [name]",
	Short: "Delete every entry of a partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirmClear {
			return fmt.Errorf("refusing to clear partition %q without --yes", args[0])
		}
		return call(cmd, http.MethodDelete, partitionPath(args[0]), nil)
	},
}

func init() {
	rootCmd.AddCommand(partitionCmd)
	partitionCmd.AddCommand(partitionListCmd, partitionStatsCmd, partitionDuplicatesCmd,
		partitionExportCmd, partitionImportCmd, partitionDeleteCmd, partitionClearCmd)

	partitionDuplicatesCmd.Flags().Float64Var(&duplicateThreshold, "threshold", 0, "minimum similarity, server default when unset")
	partitionImportCmd.Flags().StringVarP(&importFile, "file", "f", "", "JSON file with the entries")
	partitionClearCmd.Flags().BoolVar(&confirmClear, "yes", false, "confirm the purge")
}
