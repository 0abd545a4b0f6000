package main

import (
	"fmt"

	"coldfront/internal/config"
	"coldfront/internal/database"
	"coldfront/internal/seed"

	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill a development database with demo projects and requests",
	Long: `Connect to the database from the server configuration and create an
agent account, a reviewer and projects with one request in each status.

A populated database is left alone unless --clean is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults := seed.DefaultOptions()
		projects, _ := cmd.Flags().GetInt("projects")
		members, _ := cmd.Flags().GetInt("members")
		clean, _ := cmd.Flags().GetBool("clean")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if cfg.IsProduction() {
			return fmt.Errorf("refusing to seed a production database")
		}
		db, err := database.Connect(cfg)
		if err != nil {
			return err
		}

		deployment := cfg.Deployment()
		summary, err := seed.Demo(db, seed.Options{
			NumProjects:       projects,
			MembersPerProject: members,
			ShouldClean:       clean,
			DryRun:            dryRun,
			MaxDays:           defaults.MaxDays,
			StorageBasePath:   deployment.StorageBasePath,
			ResourceName:      deployment.StorageResourceName,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if summary.Skipped {
			fmt.Fprintln(out, "Database already populated; rerun with --clean to replace it.")
			return nil
		}
		fmt.Fprintf(out, "Seeded %d users, %d projects, %d requests\n",
			summary.Users, summary.Projects, summary.Requests())
		fmt.Fprintf(out, "Agent %q and every seeded user have the password %q\n",
			seed.AgentUsername, seed.DemoPassword)
		return nil
	},
}

func init() {
	defaults := seed.DefaultOptions()
	seedCmd.Flags().Int("projects", defaults.NumProjects, "Projects to create, each with one request")
	seedCmd.Flags().Int("members", defaults.MembersPerProject, "Members per project besides the PI")
	seedCmd.Flags().Bool("clean", false, "Delete existing portal data first")
	seedCmd.Flags().Bool("dry-run", false, "Log the rows without writing them")
}
