package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loopsmith/loopsmith/internal/config"
	"github.com/loopsmith/loopsmith/internal/conversation"
	"github.com/loopsmith/loopsmith/internal/edit"
	"github.com/loopsmith/loopsmith/internal/escalation"
	"github.com/loopsmith/loopsmith/internal/llm"
	"github.com/loopsmith/loopsmith/internal/llm/providers/ollama"
	"github.com/loopsmith/loopsmith/internal/llm/providers/openai"
	"github.com/loopsmith/loopsmith/internal/logging"
	"github.com/loopsmith/loopsmith/internal/observability"
	"github.com/loopsmith/loopsmith/internal/runtime"
	"github.com/loopsmith/loopsmith/internal/tools"
	"github.com/loopsmith/loopsmith/internal/verify"
)

// sharedLocks serializes edits to the same file across every run started by
// this process.
var sharedLocks = edit.NewPathLocks()

// NewRunCmd executes one task to a terminal outcome, streaming progress.
func NewRunCmd(opts *Options) *cobra.Command {
	var workspace string
	var body string
	var bodyFile string
	var modelName string
	var testCommand string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run \"<task title>\"",
		Short: "Run one coding task in a workspace until it completes, blocks, or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			title := strings.TrimSpace(args[0])
			if title == "" {
				return fmt.Errorf("task title cannot be empty")
			}

			taskBody := body
			if bodyFile != "" {
				data, err := os.ReadFile(bodyFile)
				if err != nil {
					return fmt.Errorf("read task body: %w", err)
				}
				taskBody = string(data)
			}
			if strings.TrimSpace(taskBody) == "" {
				taskBody = title
			}

			absWorkspace, err := filepath.Abs(workspace)
			if err != nil {
				return fmt.Errorf("resolve workspace: %w", err)
			}

			provider, route, err := resolveModel(cfg, modelName)
			if err != nil {
				return err
			}

			metrics := observability.NewMetrics()
			ctrl, sink, err := buildController(cfg, logger, runtime.NewTask(title, taskBody, absWorkspace), provider, route, testCommand, metrics)
			if err != nil {
				return err
			}

			if metricsAddr != "" {
				srvCtx, stopMetrics := context.WithCancel(context.Background())
				defer stopMetrics()
				go func() {
					if err := observability.NewServer(metricsAddr, metrics, logger).Run(srvCtx); err != nil {
						logger.Warn("metrics server", zap.Error(err))
					}
				}()
			}

			out := cmd.OutOrStdout()
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for e := range sink.Events() {
					renderEvent(out, e)
				}
			}()

			outcome := ctrl.Run(cmd.Context())
			sink.Close()
			wg.Wait()

			fmt.Fprintf(out, "\nOutcome: %s after %d iteration(s), %d tokens\n",
				outcome.Status, outcome.Iterations, outcome.Usage.TotalTokens)
			switch outcome.Status {
			case runtime.StateCompleted:
				return nil
			case runtime.StateBlocked:
				fmt.Fprintf(out, "Blocked: %s\n", outcome.Question)
				return fmt.Errorf("run blocked, needs human input")
			case runtime.StateCancelled:
				return fmt.Errorf("run cancelled: %s", outcome.Reason)
			default:
				return fmt.Errorf("run failed: %s", outcome.Reason)
			}
		},
	}

	cmd.Flags().StringVarP(&workspace, "workspace", "w", ".", "Workspace directory the task operates on")
	cmd.Flags().StringVar(&body, "body", "", "Task description (defaults to the title)")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "Read the task description from a file")
	cmd.Flags().StringVar(&modelName, "model", "", "Logical model name from config (default: the configured default)")
	cmd.Flags().StringVar(&testCommand, "test-command", "", "Command the run_tests tool executes (default: go test ./...)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the run is active (e.g. :9090)")

	return cmd
}

// resolveModel builds the provider registry from config and resolves the
// requested logical model.
func resolveModel(cfg *config.Config, modelName string) (llm.Provider, llm.ModelRoute, error) {
	registry := llm.NewRegistry()

	for name, pc := range cfg.Providers {
		timeout := pc.Timeout
		switch pc.Type {
		case "openai":
			registry.RegisterProvider(name, openai.NewProvider(name, pc.BaseURL, pc.APIKey, timeout))
		case "ollama":
			registry.RegisterProvider(name, ollama.NewProvider(name, pc.BaseURL, timeout))
		default:
			return nil, llm.ModelRoute{}, fmt.Errorf("provider %q: unsupported type %q", name, pc.Type)
		}
	}
	for name, mc := range cfg.Models {
		registry.RegisterModel(name, llm.ModelRoute{
			Provider:      mc.Provider,
			Model:         mc.Model,
			Temperature:   mc.Temperature,
			MaxTokens:     mc.MaxTokens,
			ContextTokens: mc.ContextTokens,
		}, mc.Default)
	}

	return registry.Resolve(modelName)
}

// durableTools lists the tools whose invocation/result pairs the compactor
// must not drop: they change workspace state.
var durableTools = map[string]bool{
	tools.ToolApplyEdits: true,
	tools.ToolCreateFile: true,
}

func buildController(
	cfg *config.Config,
	logger *zap.Logger,
	task runtime.Task,
	provider llm.Provider,
	route llm.ModelRoute,
	testCommand string,
	metrics *observability.Metrics,
) (*runtime.Controller, *runtime.ChannelSink, error) {
	ws, err := tools.NewWorkspace(task.WorkspaceRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("open workspace: %w", err)
	}

	term := &tools.Terminal{
		WorkingDir:  ws.Root(),
		Denied:      cfg.Sandbox.DeniedPatterns,
		Timeout:     time.Duration(cfg.Sandbox.TimeoutSeconds) * time.Second,
		OutputLimit: cfg.Sandbox.OutputLimit,
	}

	gate := verify.NewCommandGate(
		cfg.Verify.FileCommand,
		cfg.Verify.WorkspaceCommand,
		ws.Root(),
		time.Duration(cfg.Verify.TimeoutSeconds)*time.Second,
		logger,
	)

	dispatcherOpts := []tools.Option{
		tools.WithGate(gate),
		tools.WithLocks(sharedLocks),
		tools.WithSharedFiles(cfg.Runtime.SharedFiles),
	}
	if testCommand != "" {
		dispatcherOpts = append(dispatcherOpts, tools.WithTestCommand(testCommand))
	}
	dispatcher := tools.NewDispatcher(ws, term, edit.NewEngine(cfg.Edit.FuzzyThreshold), logger, dispatcherOpts...)

	contextTokens := route.ContextTokens
	if contextTokens <= 0 {
		contextTokens = 128000
	}
	compactor := conversation.NewCompactor(
		contextTokens,
		cfg.Compactor.Threshold,
		cfg.Compactor.KeepRecent,
		durableTools,
		logger,
	)

	sink := runtime.NewChannelSink(256)
	ctrl, err := runtime.NewController(runtime.Params{
		Task:       task,
		Provider:   provider,
		Route:      route,
		Dispatcher: dispatcher,
		Gate:       gate,
		Tracker:    escalation.NewTracker(cfg.Escalation.SameSignature, cfg.Escalation.DistinctPerFile, logger),
		Compactor:  compactor,
		Backoff: llm.Backoff{
			Attempts:     cfg.Runtime.RetryAttempts,
			InitialDelay: cfg.Runtime.RetryBackoff,
		},
		MaxIterations:  cfg.Runtime.MaxIterations,
		MaxFixAttempts: cfg.Runtime.MaxFixAttempts,
		Events:         sink,
		Metrics:        metrics,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return ctrl, sink, nil
}

func renderEvent(out io.Writer, e runtime.Event) {
	switch e.Kind {
	case runtime.EventIterationStarted:
		fmt.Fprintf(out, "[%s] iteration %d\n", e.Time.Format("15:04:05"), e.Iteration)
	case runtime.EventToolInvoked:
		fmt.Fprintf(out, "[%s]   tool: %s\n", e.Time.Format("15:04:05"), e.Tool)
	case runtime.EventStateTransition:
		fmt.Fprintf(out, "[%s] state: %s\n", e.Time.Format("15:04:05"), e.State)
	case runtime.EventCompaction:
		fmt.Fprintf(out, "[%s] compacted conversation (%s)\n", e.Time.Format("15:04:05"), e.Detail)
	}
}
