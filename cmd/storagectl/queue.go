package main

import (
	"fmt"
	"io"
	"time"

	"coldfront/internal/models"
	"coldfront/internal/notifications"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and claim from the provisioning queue",
}

var queueDepthCmd = &cobra.Command{
	Use:   "depth",
	Short: "Show the number of requests in each status",
	RunE: func(cmd *cobra.Command, args []string) error {
		counts, err := newClient().Counts(cmd.Context())
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), counts, func(w io.Writer) {
			for _, status := range models.StorageRequestStatuses {
				fmt.Fprintf(w, "%-24s %d\n", status, counts[status])
			}
		})
	},
}

var queueClaimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Claim the oldest approved request",
	Long: `Claim the oldest approved request and print what to provision.

Exits with status 0 and prints nothing when the queue is empty, so the
command can be looped from a provisioning script.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		claim, err := newClient().ClaimNext(cmd.Context())
		if err != nil {
			return err
		}
		if claim == nil {
			if cliConfig.GetString("output") == "text" {
				fmt.Fprintln(cmd.ErrOrStderr(), "Queue is empty")
			}
			return nil
		}
		return render(cmd.OutOrStdout(), claim, func(w io.Writer) {
			fmt.Fprintf(w, "Claimed request %d\n", claim.ID)
			fmt.Fprintf(w, "  Project:   %s\n", claim.ProjectName)
			fmt.Fprintf(w, "  Directory: %s\n", claim.DirectoryPath)
			fmt.Fprintf(w, "  Set size:  %d GB (+%d GB)\n", claim.SetSizeGB, claim.RequestedDeltaGB)
			if claim.ApprovalTime != nil {
				fmt.Fprintf(w, "  Approved:  %s\n", claim.ApprovalTime.Local().Format(time.RFC3339))
			}
		})
	},
}

var queueWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow storage request events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		return newClient().Watch(cmd.Context(), func(ev notifications.Event) {
			_ = render(out, ev, func(w io.Writer) {
				fmt.Fprintf(w, "%s  %-18s request=%d project=%s status=%q\n",
					ev.OccurredAt.Local().Format(time.RFC3339), ev.Type, ev.RequestID, ev.ProjectName, ev.Status)
			})
		})
	},
}

func init() {
	queueCmd.AddCommand(queueDepthCmd)
	queueCmd.AddCommand(queueClaimCmd)
	queueCmd.AddCommand(queueWatchCmd)
}
