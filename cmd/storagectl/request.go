package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"coldfront/internal/agent"

	"github.com/spf13/cobra"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Show and complete storage requests",
}

func parseRequestID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid request id %q", raw)
	}
	return uint(id), nil
}

var requestShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a storage request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRequestID(args[0])
		if err != nil {
			return err
		}
		r, err := newClient().Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), r, func(w io.Writer) {
			state := r.StateData()
			fmt.Fprintf(w, "Request %d  %s\n", r.ID, r.Status)
			if r.Project != nil {
				fmt.Fprintf(w, "  Project:      %s\n", r.Project.Name)
			}
			fmt.Fprintf(w, "  Requested:    %d GB at %s\n", r.RequestedAmountGB, r.RequestTime.Local().Format(time.RFC3339))
			if r.ApprovedAmountGB != nil {
				fmt.Fprintf(w, "  Approved:     %d GB\n", *r.ApprovedAmountGB)
			}
			fmt.Fprintf(w, "  Eligibility:  %s\n", state.Eligibility.Status)
			fmt.Fprintf(w, "  Intake:       %s\n", state.IntakeConsistency.Status)
			fmt.Fprintf(w, "  Setup:        %s %s\n", state.Setup.Status, state.Setup.DirectoryName)
		})
	},
}

var requestCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Report a claimed request as provisioned",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRequestID(args[0])
		if err != nil {
			return err
		}
		dir, _ := cmd.Flags().GetString("directory")
		detail, err := newClient().Complete(cmd.Context(), id, dir)
		if agent.IsNotFound(err) {
			return fmt.Errorf("request %d does not exist", id)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), detail)
		return nil
	},
}

func init() {
	requestCompleteCmd.Flags().String("directory", "", "Directory name created on the cluster")
	_ = requestCompleteCmd.MarkFlagRequired("directory")

	requestCmd.AddCommand(requestShowCmd)
	requestCmd.AddCommand(requestCompleteCmd)
}
