package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/parley/internal/chat"
	"github.com/dyluth/parley/internal/instance"
	"github.com/dyluth/parley/internal/printer"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the configured instance and backend health",
	RunE:  runStatus,
}

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "List available pipeline stages and the configured pipelines",
	RunE:  runStages,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stagesCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	info := instance.Describe(ctx, s.name, s.cfg.Backend.Type, s.backend)
	out := cmd.OutOrStdout()

	if statusJSON {
		data, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "%-10s %-10s %-12s %s\n", "INSTANCE", "BACKEND", "STATUS", "WATCHABLE")
	fmt.Fprintf(out, "%-10s %-10s %-12s %t\n", info.Name, info.Backend, info.Status, info.Watchable)

	if info.Status == instance.StatusUnreachable {
		return printer.Error("backend unreachable", fmt.Sprintf("The %s backend did not answer.", info.Backend), nil)
	}
	return nil
}

func runStages(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Available stages: %s\n", strings.Join(chat.StageNames(), ", "))

	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	names := make([]string, 0, len(s.cfg.Pipelines))
	for name := range s.cfg.Pipelines {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		fmt.Fprintln(out, "No pipelines configured")
		return nil
	}
	for _, name := range names {
		stages := make([]string, 0, len(s.cfg.Pipelines[name]))
		for _, st := range s.cfg.Pipelines[name] {
			stages = append(stages, st.Stage)
		}
		fmt.Fprintf(out, "%s: %s\n", name, strings.Join(stages, " -> "))
	}
	return nil
}
