package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Inject and inspect tracked flows",
}

var (
	injectEntity string
	injectKind   string
	injectFile   string
)

var injectCmd = &cobra.Command{
	Use:   "inject [content...]",
	Short: "Inject records into the pipeline under a new flow id",
	Long:  `Each argument becomes one record. With --file, the file must hold a JSON array of record payloads.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var payloads []map[string]interface{}
		if injectFile != "" {
			data, err := os.ReadFile(injectFile)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &payloads); err != nil {
				return fmt.Errorf("invalid payload file: %w", err)
			}
		}
		for _, content := range args {
			p := map[string]interface{}{"content": content}
			if injectEntity != "" {
				p["entityId"] = injectEntity
				p["entityName"] = injectEntity
			}
			if injectKind != "" {
				p["dataSourceType"] = injectKind
			}
			payloads = append(payloads, p)
		}
		if len(payloads) == 0 {
			return fmt.Errorf("nothing to inject: pass content arguments or --file")
		}

		events := make([]map[string]interface{}, 0, len(payloads))
		for _, p := range payloads {
			events = append(events, map[string]interface{}{"payload": p})
		}
		return call(cmd, http.MethodPost, "/test/inject-flow", map[string]interface{}{"events": events})
	},
}

var flowLimit int

var listFlowsCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent flows",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, "/flows?limit="+strconv.Itoa(flowLimit), nil)
	},
}

var showFlowCmd = &cobra.Command{
	Use:   "show [flow-id]",
	Short: "Show the trace of a flow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, "/flows/"+args[0], nil)
	},
}

var completeStatus string

var completeFlowCmd = &cobra.Command{
	Use:   "complete [flow-id]",
	Short: "Mark a flow as finished",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodPost, "/flows/"+args[0]+"/complete", map[string]string{"status": completeStatus})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all execution tracking data",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodDelete, "/handler/clear-cache", nil)
	},
}

func init() {
	rootCmd.AddCommand(flowCmd)
	flowCmd.AddCommand(injectCmd, listFlowsCmd, showFlowCmd, completeFlowCmd, clearCmd)

	injectCmd.Flags().StringVar(&injectEntity, "entity", "", "entity id and name of the injected records")
	injectCmd.Flags().StringVar(&injectKind, "type", "", "data source type: info or strategy")
	injectCmd.Flags().StringVarP(&injectFile, "file", "f", "", "JSON file with an array of record payloads")
	listFlowsCmd.Flags().IntVar(&flowLimit, "limit", 20, "maximum number of flows")
	completeFlowCmd.Flags().StringVar(&completeStatus, "status", "completed", "final status: completed or error")
}
