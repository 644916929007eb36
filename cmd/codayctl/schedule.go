package main

import (
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codayhq/coday/config"
	"github.com/codayhq/coday/scheduler"
	"github.com/codayhq/coday/telemetry"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run or inspect the project's cron-scheduled commands",
	}
	cmd.AddCommand(newScheduleNextCmd(), newScheduleRunCmd())
	return cmd
}

func newScheduleNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show each scheduled job's next firing time (UTC)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProject(); err != nil {
				return err
			}
			loader := config.NewLoader(flagConfigDir, nil)
			jobs, err := loader.Jobs(flagProject)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("no scheduled jobs")
				return nil
			}

			now := time.Now().UTC()
			names := make([]string, 0, len(jobs))
			byName := make(map[string]scheduler.Job, len(jobs))
			for _, j := range jobs {
				names = append(names, j.Name)
				byName[j.Name] = j
			}
			sort.Strings(names)
			for _, name := range names {
				j := byName[name]
				next, err := scheduler.NextRun(j.Cron, now)
				if err != nil {
					fmt.Printf("%-20s  %s  (invalid: %v)\n", j.Name, j.Cron, err)
					continue
				}
				fmt.Printf("%-20s  %-16s  next %s\n", j.Name, j.Cron, next.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newScheduleRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler headlessly until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProject(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, err := buildEngine(ctx, flagConfigDir, flagProject)
			if err != nil {
				return err
			}
			defer eng.close(ctx)

			jobs, err := eng.loader.Jobs(flagProject)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				return fmt.Errorf("project %q declares no scheduled jobs", flagProject)
			}

			sched, err := scheduler.New(eng.sess, jobs, scheduler.Options{Logger: telemetry.NewClueLogger()})
			if err != nil {
				return err
			}
			fmt.Printf("scheduler running with %d job(s); ctrl-c to stop\n", len(jobs))
			sched.Start(ctx)
			return nil
		},
	}
}
