package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daydemir/isomoira/internal/config"
	"github.com/daydemir/isomoira/internal/controller"
	"github.com/daydemir/isomoira/internal/display"
	"github.com/daydemir/isomoira/internal/ids"
	"github.com/daydemir/isomoira/internal/llmclient"
	"github.com/daydemir/isomoira/internal/logging"
	"github.com/daydemir/isomoira/internal/steering"
	"github.com/daydemir/isomoira/internal/workspace"
)

var (
	runProject    string
	runTask       string
	runPhilosophy string
	runWorkspace  string
	runURL        string
	runNoColor    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the convergence loop against an isomoira project",
	Long: `Run drives the SUMMARISE -> PLAN -> IMPLEMENT -> TEST -> REVIEW loop
until the generated test suite passes, or a halt condition is reached.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop()
	},
}

func init() {
	runCmd.Flags().StringVar(&runProject, "project", ".", "project directory containing philosophy.md/task.md/workspace/")
	runCmd.Flags().StringVar(&runTask, "task", "", "path to task file (default: <project>/task.md)")
	runCmd.Flags().StringVar(&runPhilosophy, "philosophy", "", "path to philosophy file (default: <project>/philosophy.md)")
	runCmd.Flags().StringVar(&runWorkspace, "workspace", "", "workspace directory override")
	runCmd.Flags().StringVar(&runURL, "url", "", "model server base URL override")
	runCmd.Flags().BoolVar(&runNoColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(runCmd)
	rootCmd.Flags().AddFlagSet(runCmd.Flags())
	rootCmd.RunE = runCmd.RunE
}

func runLoop() (err error) {
	outcome := controller.Outcome("")
	// Halts ring the bell inside the controller; every other failure rings it here.
	defer func() {
		if err != nil && outcome != controller.HaltDKUnparseable &&
			outcome != controller.HaltDKLowConfidence && outcome != controller.HaltDKSizeCap {
			fmt.Print("\a")
		}
	}()

	layout := workspace.Resolve(runProject, runTask, runPhilosophy, runWorkspace)

	if err := workspace.EnsureWorkspaceDir(layout.WorkspaceDir); err != nil {
		return fmt.Errorf("ensure workspace: %w", err)
	}

	philosophy := steering.ReadFileSafe(layout.PhilosophyPath)
	if philosophy == "" {
		return fmt.Errorf("missing %s -- the orchestrator needs a steering directive", layout.PhilosophyPath)
	}
	task := steering.ReadFileSafe(layout.TaskPath)
	if task == "" {
		return fmt.Errorf("missing %s -- no task to execute", layout.TaskPath)
	}

	cfg, err := config.Load(runProject)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runURL != "" {
		cfg.LLM.BaseURL = runURL
	}

	runID := ids.NewRunID()
	if err := ids.Init(1); err != nil {
		return fmt.Errorf("init id generator: %w", err)
	}

	log, err := logging.Open(runProject, runID, false)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer log.Close()

	disp := display.NewWithOptions(runNoColor)
	disp.RunHeader(layout.WorkspaceDir, cfg.Models.Planner, cfg.Models.Implementer, cfg.Models.Consultant)

	client := llmclient.New(cfg.LLM.BaseURL, cfg.Rate.RequestsPerMinute, cfg.Rate.Burst, log)

	ctrl := controller.New(cfg, client, disp, log, layout, philosophy, task, layout.TaskPath)

	outcome, err = ctrl.Run(context.Background())
	if err != nil {
		return fmt.Errorf("run ended in %s: %w", outcome, err)
	}

	if outcome != controller.Success {
		return fmt.Errorf("run ended in %s", outcome)
	}

	return nil
}
