package cmd

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show data source subscriptions and stage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, "/datasource/status", nil)
	},
}

var cursorsCmd = &cobra.Command{
	Use:   "cursors",
	Short: "List subscription cursors",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, "/datasource/cursors", nil)
	},
}

var entityName string

var entitiesCmd = &cobra.Command{
	Use:   "entities [entityId]",
	Short: "List upstream entities, or show one by id",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return call(cmd, http.MethodGet, "/datasource/entities/"+url.PathEscape(args[0]), nil)
		}
		path := "/datasource/entities"
		if entityName != "" {
			path += "?name=" + url.QueryEscape(entityName)
		}
		return call(cmd, http.MethodGet, path, nil)
	},
}

var signalLimit int

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "List the most recent archived signals",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, "/signals?limit="+strconv.Itoa(signalLimit), nil)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, cursorsCmd, entitiesCmd, signalsCmd)
	entitiesCmd.Flags().StringVar(&entityName, "name", "", "filter by a case-insensitive name or id fragment")
	signalsCmd.Flags().IntVar(&signalLimit, "limit", 20, "maximum number of signals")
}
