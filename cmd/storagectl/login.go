package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Obtain an API token",
	Long: `Exchange a username and password for a bearer token and print it.

The password is read from COLDFRONT_PASSWORD or, when unset, from the first
line of standard input.`,
	Example: `  export COLDFRONT_TOKEN=$(storagectl login --username storage_agent < pw.txt)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		if username == "" {
			return fmt.Errorf("--username is required")
		}

		password := os.Getenv("COLDFRONT_PASSWORD")
		if password == "" {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		token, expiresAt, err := newClient().Login(cmd.Context(), username, password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "Token expires %s\n", expiresAt.Local().Format(time.RFC1123))
		return nil
	},
}

func init() {
	loginCmd.Flags().String("username", "", "Account username")
}
