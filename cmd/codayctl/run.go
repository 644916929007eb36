package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codayhq/coday/runloop"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <script-or-chain>",
		Short: "Run a named script or prompt chain from coday.yaml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProject(); err != nil {
				return err
			}
			ctx := cmd.Context()
			eng, err := buildEngine(ctx, flagConfigDir, flagProject)
			if err != nil {
				return err
			}
			defer eng.close(ctx)

			pc, err := eng.loader.ProjectConfig(flagProject)
			if err != nil {
				return err
			}

			name := args[0]
			var prompts []string
			if script, ok := pc.Scripts[name]; ok {
				prompts = []string{script}
			} else if chain, ok := pc.PromptChains[name]; ok {
				prompts = chain
			} else {
				return fmt.Errorf("project %q declares no script or prompt chain named %q", flagProject, name)
			}

			_, events, sub := eng.bus.Subscribe()
			defer sub.Close()
			go func() {
				for e := range events {
					printEvent(e)
				}
			}()

			for i, prompt := range prompts {
				if len(prompts) > 1 {
					fmt.Println(dimStyle.Render(fmt.Sprintf("step %d/%d", i+1, len(prompts))))
				}
				if _, err := eng.sess.SubmitMessage(ctx, "", prompt); err != nil {
					if errors.Is(err, runloop.ErrInterrupted) {
						return nil
					}
					return fmt.Errorf("step %d: %w", i+1, err)
				}
			}
			return nil
		},
	}
}
