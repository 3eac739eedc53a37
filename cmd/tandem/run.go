package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tandem-dev/tandem/internal/a2a"
	"github.com/tandem-dev/tandem/internal/audit"
	"github.com/tandem-dev/tandem/internal/consent"
	"github.com/tandem-dev/tandem/internal/exec"
	"github.com/tandem-dev/tandem/internal/orchestrator"
	"github.com/tandem-dev/tandem/pkg/models"
)

var (
	runWorkers   int
	runPolicy    string
	runJSON      bool
	runUser      string
	runFromAgent string
)

// planFile is the YAML shape of a task plan.
type planFile struct {
	Request string     `yaml:"request"`
	Tasks   []planTask `yaml:"tasks"`
}

type planTask struct {
	ID        string        `yaml:"id"`
	Type      string        `yaml:"type"`
	Title     string        `yaml:"title"`
	Context   string        `yaml:"context"`
	DependsOn []string      `yaml:"depends_on"`
	Agent     string        `yaml:"agent"`
	Scopes    []string      `yaml:"scopes"`
	Targets   []string      `yaml:"targets"`
	Timeout   time.Duration `yaml:"timeout"`
	Priority  int           `yaml:"priority"`
}

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Execute a task plan",
	Long: `Execute a YAML task plan as one orchestration.

Tasks with an agent key are delegated over the A2A protocol; the delegating
user must hold an effective consent for each (from, to) agent pair. Tasks
without an agent run locally.

Plan format:
  request: add-auth
  tasks:
    - id: t1
      type: codegen
      title: Generate auth handlers
      targets: [internal/auth/handlers.go]
    - id: t2
      type: review
      title: Review generated code
      depends_on: [t1]
      agent: reviewer
      scopes: [code:read]

Examples:
  tandem run plan.yaml
  tandem run plan.yaml --workers 8 --policy last_writer_by_priority
  tandem run plan.yaml --json | jq '.conflicts'`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Max concurrent tasks (default from config)")
	runCmd.Flags().StringVar(&runPolicy, "policy", "", "Conflict policy: manual, first_writer, last_writer_by_priority")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Output the result as JSON")
	runCmd.Flags().StringVar(&runUser, "user", "", "User on whose behalf delegated tasks run")
	runCmd.Flags().StringVar(&runFromAgent, "from-agent", "", "Agent key delegating on this user's behalf")
}

func runRun(cmd *cobra.Command, args []string) error {
	plan, err := loadPlan(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if runWorkers == 0 {
		runWorkers = cfg.Orchestrator.MaxWorkers
	}
	if runPolicy == "" {
		runPolicy = cfg.Orchestrator.ConflictPolicy
	}
	policy := orchestrator.ConflictPolicy(runPolicy)
	if !policy.Valid() {
		return fmt.Errorf("unknown conflict policy %q", runPolicy)
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	tasks, delegated := plan.toTasks()
	if delegated && (runUser == "" || runFromAgent == "") {
		return errors.New("plan delegates tasks to agents: --user and --from-agent are required")
	}

	local := orchestrator.NewLocalExecutor()
	registerBuiltins(local)

	opts := []orchestrator.Option{
		orchestrator.WithMaxWorkers(runWorkers),
		orchestrator.WithConflictPolicy(policy),
		orchestrator.WithDefaultTaskTimeout(cfg.Orchestrator.TaskTimeout),
		orchestrator.WithStore(db),
		orchestrator.WithLocalExecutor(local),
	}
	if delegated {
		coordinator := a2a.NewCoordinator(a2a.CoordinatorConfig{
			Agents:    db,
			Tasks:     db,
			Artifacts: db,
			Consents:  consent.New(db),
			Audit:     audit.New(db),
			Transport: a2a.NewHTTPTransport(cfg.Server.JWTSecret),
			Retry: a2a.RetryConfig{
				MaxAttempts: cfg.Delegation.RetryMaxAttempts,
				BaseDelay:   cfg.Delegation.RetryBaseDelay,
			},
			SameOwnerBypass: cfg.Delegation.SameOwnerBypass,
		})
		opts = append(opts, orchestrator.WithRemoteExecutor(
			orchestrator.NewRemoteExecutor(coordinator, runFromAgent, runUser)))
	}

	orch := orchestrator.New(plan.Request, tasks, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go printEvents(orch.Events())

	result, runErr := orch.Run(ctx)
	if result == nil {
		return runErr
	}

	if runJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result.Orchestration); err != nil {
			return err
		}
	} else {
		printSummary(result)
	}

	if errors.Is(runErr, context.Canceled) {
		return errors.New("orchestration cancelled")
	}
	if result.Orchestration.Status == models.OrchestrationFailed {
		return errors.New("orchestration failed")
	}
	return nil
}

func loadPlan(path string) (*planFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	plan := &planFile{}
	if err := yaml.Unmarshal(raw, plan); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	if len(plan.Tasks) == 0 {
		return nil, errors.New("plan contains no tasks")
	}
	return plan, nil
}

// toTasks converts the plan into task models and reports whether any task
// is delegated to an agent.
func (p *planFile) toTasks() ([]*models.Task, bool) {
	delegated := false
	tasks := make([]*models.Task, 0, len(p.Tasks))
	for _, pt := range p.Tasks {
		if pt.Agent != "" {
			delegated = true
		}
		tasks = append(tasks, &models.Task{
			ID:            pt.ID,
			Type:          pt.Type,
			Title:         pt.Title,
			Context:       pt.Context,
			Status:        models.TaskStatusPending,
			DependsOn:     pt.DependsOn,
			Agent:         pt.Agent,
			Scopes:        pt.Scopes,
			OutputTargets: pt.Targets,
			Timeout:       pt.Timeout,
			Priority:      pt.Priority,
		})
	}
	return tasks, delegated
}

// registerBuiltins installs the local task handlers. Shell tasks run their
// context through "sh -c"; the noop type exists for plan testing. Embedding
// callers register their own types.
func registerBuiltins(local *orchestrator.LocalExecutor) {
	runner := exec.NewRunner()
	local.Register("shell", func(ctx context.Context, task *models.Task) (*orchestrator.ExecResult, error) {
		out, err := runner.RunShell(ctx, "", task.Context)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
		}
		return &orchestrator.ExecResult{Output: string(out)}, nil
	})
	local.Register("noop", func(ctx context.Context, task *models.Task) (*orchestrator.ExecResult, error) {
		return &orchestrator.ExecResult{Output: task.Context}, nil
	})
}

func printEvents(events <-chan orchestrator.Event) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	for e := range events {
		switch e.Type {
		case orchestrator.EventTaskStarted:
			fmt.Printf("  %s %s\n", yellow("RUN "), e.TaskID)
		case orchestrator.EventTaskCompleted:
			fmt.Printf("  %s %s\n", green("OK  "), e.TaskID)
		case orchestrator.EventTaskFailed:
			fmt.Printf("  %s %s: %v\n", red("FAIL"), e.TaskID, e.Error)
		case orchestrator.EventTaskSkipped:
			fmt.Printf("  %s %s (%s)\n", yellow("SKIP"), e.TaskID, e.Message)
		case orchestrator.EventConflictDetected:
			fmt.Printf("  %s %s\n", red("CONFLICT"), e.Message)
		}
	}
}

func printSummary(result *orchestrator.RunResult) {
	o := result.Orchestration
	fmt.Println()
	fmt.Printf("Orchestration %s: %s\n", o.ID, o.Status)
	fmt.Printf("  %d total, %d succeeded, %d failed, %d skipped in %s\n",
		o.TotalTasks, o.CompletedTasks, o.FailedTasks, o.SkippedTasks,
		o.Duration.Round(time.Millisecond))

	if len(result.Conflicts) > 0 {
		fmt.Println("\nConflicts:")
		for _, c := range result.Conflicts {
			if c.Resolved {
				fmt.Printf("  %s: tasks %v, winner %s (%s)\n", c.Resource, c.TaskIDs, c.Winner, c.Policy)
			} else {
				fmt.Printf("  %s: tasks %v, unresolved (%s)\n", c.Resource, c.TaskIDs, c.Policy)
			}
		}
	}
}
