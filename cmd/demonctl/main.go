// Command demonctl is the operator-facing CLI: run/approve/deny/graph talk
// to a demond (or demonctl serve) instance over HTTP, and serve runs the
// same process in-place for local use.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/afewell-hh/demon/internal/demonctlclient"
)

// Exit codes per the orchestration core's external contract: 0 success,
// 1 generic failure, 2 invalid configuration/arguments.
const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
)

var (
	apiURL   string
	tenantID string
)

var rootCmd = &cobra.Command{
	Use:   "demonctl",
	Short: "demonctl drives the orchestration core: schedule rituals, grant or deny approvals, and inspect the graph commit log",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !cmd.Flags().Changed("api-url") && viper.GetString("api_url") != "" {
			apiURL = viper.GetString("api_url")
		}
		if !cmd.Flags().Changed("tenant") && viper.GetString("tenant") != "" {
			tenantID = viper.GetString("tenant")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:4180", "base URL of the demond HTTP surface")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant id (defaults to the server's configured default tenant)")
	viper.SetEnvPrefix("DEMON")
	viper.AutomaticEnv()
}

// client builds the HTTP client from the bound --api-url/DEMON_API_URL.
func client() *demonctlclient.Client {
	return demonctlclient.New(apiURL)
}

func fail(cmd *cobra.Command, code int, err error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "demonctl: %v\n", err)
	os.Exit(code)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitConfig)
	}
}
