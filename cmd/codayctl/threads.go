package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codayhq/coday/config"
	"github.com/codayhq/coday/thread"
)

func newThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect the project's persisted conversation threads",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List persisted threads with their names and sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProject(); err != nil {
				return err
			}
			loader := config.NewLoader(flagConfigDir, nil)
			dir := loader.ThreadsDir(flagProject)
			entries, err := os.ReadDir(dir)
			if os.IsNotExist(err) {
				fmt.Println("no threads yet")
				return nil
			}
			if err != nil {
				return err
			}

			store := thread.NewFileStore(dir)
			var ids []string
			for _, e := range entries {
				if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
					continue
				}
				ids = append(ids, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
			}
			sort.Strings(ids)

			for _, id := range ids {
				th, err := store.Load(id)
				if err != nil {
					fmt.Printf("%s  (unreadable: %v)\n", id, err)
					continue
				}
				name := th.Name()
				if name == "" {
					name = "(unnamed)"
				}
				fmt.Printf("%s  %-40s  %d entries  modified %s\n",
					id, name, len(th.GetAll()), th.ModifiedAt().Format("2006-01-02 15:04"))
			}
			return nil
		},
	})
	return cmd
}
