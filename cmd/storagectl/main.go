// Command storagectl is the provisioning agent's command line for the
// storage request API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"coldfront/internal/agent"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

// cliConfig resolves flags and COLDFRONT_* variables. It is separate from
// the global viper instance the server configuration loads into.
var cliConfig = viper.New()

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "storagectl",
	Short: "Claim and complete faculty storage requests",
	Long: `storagectl drives the provisioning side of faculty storage requests.

An agent logs in once, exports the token as COLDFRONT_TOKEN, then loops
"queue claim", creates the directory on the cluster and reports it with
"request complete".`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("storagectl version %s\nCommit: %s\n", Version, Commit))

	flags := rootCmd.PersistentFlags()
	flags.String("api-url", "http://localhost:8375/api", "Storage API base URL")
	flags.String("token", "", "Bearer token (see the login command)")
	flags.StringP("output", "o", "text", "Output format: text, json or yaml")

	cliConfig.SetEnvPrefix("COLDFRONT")
	cliConfig.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cliConfig.AutomaticEnv()
	_ = cliConfig.BindPFlag("api-url", flags.Lookup("api-url"))
	_ = cliConfig.BindPFlag("token", flags.Lookup("token"))
	_ = cliConfig.BindPFlag("output", flags.Lookup("output"))

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(seedCmd)
}

func newClient() *agent.Client {
	return agent.NewClient(cliConfig.GetString("api-url"), cliConfig.GetString("token"), nil)
}
