package main

import (
	"os"

	"github.com/dsrkit/dsrkit/cmd"
	"github.com/dsrkit/dsrkit/cmd/migrate"
	"github.com/dsrkit/dsrkit/cmd/plan"
	"github.com/dsrkit/dsrkit/cmd/request"
	"github.com/dsrkit/dsrkit/cmd/run"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	runCmd := run.NewRunCommand()
	rootCmd.AddCommand(runCmd)

	migrateCmd := migrate.NewMigrateCommand()
	rootCmd.AddCommand(migrateCmd)

	rootCmd.AddCommand(plan.NewPlanCommand())
	rootCmd.AddCommand(request.NewRequestCommand())
	rootCmd.AddCommand(cmd.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
