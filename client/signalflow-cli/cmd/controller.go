package cmd

import (
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Inspect pipeline stage executions",
}

var listControllersCmd = &cobra.Command{
	Use:   "list",
	Short: "List controllers with tracking data",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, "/controllers/available", nil)
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [name]",
	Short: "Show the recent flow executions of a controller",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, "/controllers/"+args[0]+"/executions?limit="+strconv.Itoa(historyLimit), nil)
	},
}

var controllerFlowCmd = &cobra.Command{
	Use:   "flow [name] [flow-id]",
	Short: "Show a controller's execution within one flow",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, "/controllers/"+args[0]+"/flows/"+args[1], nil)
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest [name]",
	Short: "Show the last batch a controller processed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, "/controllers/"+args[0]+"/latest", nil)
	},
}

func init() {
	rootCmd.AddCommand(controllerCmd)
	controllerCmd.AddCommand(listControllersCmd, historyCmd, controllerFlowCmd, latestCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "maximum number of flows")
}
