package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fullvlad/lava-server/internal/config"
	"github.com/fullvlad/lava-server/internal/scheduler"
	"github.com/fullvlad/lava-server/pkg/model"
)

func newCycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one scheduling cycle and print the jobs ready to dispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			src := scheduler.NewJobSource(st, config.NewProvider(cfg), logger)
			jobs, err := src.GetJobList(cmd.Context())
			if err != nil {
				return fmt.Errorf("scheduling cycle: %w", err)
			}
			printJobs(os.Stdout, jobs)
			return nil
		},
	}
}

func printJobs(w io.Writer, jobs []*model.TestJob) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs ready to dispatch.")
		return
	}
	fmt.Fprintf(w, "%-38s  %-20s  %-8s  %-6s  %s\n", "ID", "DEVICE", "PRIORITY", "HEALTH", "GROUP")
	fmt.Fprintf(w, "%-38s  %-20s  %-8s  %-6s  %s\n", "--", "------", "--------", "------", "-----")
	for _, j := range jobs {
		s := model.Summarize(j)
		fmt.Fprintf(w, "%-38s  %-20s  %-8d  %-6t  %s\n", s.ID, s.Device, s.Priority, s.HealthCheck, s.TargetGroup)
	}
}
