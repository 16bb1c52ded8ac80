package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/loopsmith/loopsmith/internal/conversation"
	"github.com/loopsmith/loopsmith/internal/escalation"
	"github.com/loopsmith/loopsmith/internal/llm"
	"github.com/loopsmith/loopsmith/internal/observability"
	"github.com/loopsmith/loopsmith/internal/prompt"
	"github.com/loopsmith/loopsmith/internal/tools"
	"github.com/loopsmith/loopsmith/internal/verify"
)

// Params wires a controller's collaborators. Task, Provider, and Dispatcher
// are required; everything else has a working default.
type Params struct {
	Task       Task
	Provider   llm.Provider
	Route      llm.ModelRoute
	Dispatcher *tools.Dispatcher
	Gate       verify.Gate
	Tracker    *escalation.Tracker
	Compactor  *conversation.Compactor
	Backoff    llm.Backoff

	MaxIterations  int
	MaxFixAttempts int

	Events   Sink
	Blockers BlockerSink
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

// Controller executes one task as a bounded think/act loop. A controller is
// single-use: Run may be called once, and the controller owns its
// conversation exclusively for that run.
type Controller struct {
	task       Task
	provider   llm.Provider
	route      llm.ModelRoute
	dispatcher *tools.Dispatcher
	gate       verify.Gate
	tracker    *escalation.Tracker
	compactor  *conversation.Compactor
	backoff    llm.Backoff

	maxIterations  int
	maxFixAttempts int

	events   Sink
	blockers BlockerSink
	metrics  *observability.Metrics
	logger   *zap.Logger

	conv         *conversation.Conversation
	instructions string
	state        State
	iterations   int
	usage        llm.Usage
}

// NewController validates params and builds a controller in INIT.
func NewController(p Params) (*Controller, error) {
	if p.Task.Title == "" && p.Task.Body == "" {
		return nil, errors.New("task is required")
	}
	if p.Provider == nil {
		return nil, errors.New("model provider is required")
	}
	if p.Dispatcher == nil {
		return nil, errors.New("tool dispatcher is required")
	}
	if p.Gate == nil {
		p.Gate = verify.NopGate{}
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Tracker == nil {
		p.Tracker = escalation.NewTracker(3, 3, p.Logger)
	}
	if p.Events == nil {
		p.Events = NopSink{}
	}
	if p.Blockers == nil {
		p.Blockers = NopBlockerSink{}
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = 30
	}
	if p.MaxFixAttempts <= 0 {
		p.MaxFixAttempts = 5
	}
	if p.Backoff.Attempts == 0 {
		p.Backoff = llm.DefaultBackoff()
	}
	if p.Backoff.OnRetry == nil && p.Metrics != nil {
		p.Backoff.OnRetry = p.Metrics.RecordModelRetry
	}

	return &Controller{
		task:           p.Task,
		provider:       p.Provider,
		route:          p.Route,
		dispatcher:     p.Dispatcher,
		gate:           p.Gate,
		tracker:        p.Tracker,
		compactor:      p.Compactor,
		backoff:        p.Backoff,
		maxIterations:  p.MaxIterations,
		maxFixAttempts: p.MaxFixAttempts,
		events:         p.Events,
		blockers:       p.Blockers,
		metrics:        p.Metrics,
		logger:         p.Logger.With(zap.String("task_id", p.Task.ID.String())),
		conv:           conversation.New(),
		state:          StateInit,
	}, nil
}

// Conversation exposes the transcript, including the partial transcript of a
// cancelled run.
func (c *Controller) Conversation() *conversation.Conversation { return c.conv }

// State returns the controller's current state.
func (c *Controller) State() State { return c.state }

// Run drives the loop to a terminal state and returns the single outcome the
// caller observes. The context is the external stop signal: cancellation is
// observed at the model, tool, and verification suspension points.
func (c *Controller) Run(ctx context.Context) RunOutcome {
	start := time.Now()

	outcome := c.run(ctx)
	outcome.Iterations = c.iterations
	outcome.Usage = c.usage

	c.transition(outcome.Status)
	c.metrics.RecordRun(string(outcome.Status), time.Since(start), c.iterations)
	c.events.Emit(Event{
		Kind:   EventRunFinished,
		State:  outcome.Status,
		Detail: outcome.Reason + outcome.Question,
		Time:   time.Now(),
	})
	c.logger.Info("run finished",
		zap.String("status", string(outcome.Status)),
		zap.Int("iterations", c.iterations),
		zap.Duration("elapsed", time.Since(start)),
	)
	return outcome
}

func (c *Controller) run(ctx context.Context) RunOutcome {
	conventions, err := prompt.LoadConventions(c.task.WorkspaceRoot)
	if err != nil {
		return c.failed(fmt.Sprintf("load workspace conventions: %v", err))
	}
	assembled, err := prompt.Assemble(prompt.Inputs{
		WorkspaceConventions: conventions,
		TaskTitle:            c.task.Title,
		TaskBody:             c.task.Body,
	})
	if err != nil {
		return c.failed(fmt.Sprintf("assemble prompt: %v", err))
	}
	c.instructions = assembled.Instructions
	c.conv.AppendUser(assembled.InitialTurn)

	fixAttempts := 0

	for {
		c.transition(StateThinking)
		c.events.Emit(Event{Kind: EventIterationStarted, State: StateThinking, Iteration: c.iterations + 1, Time: time.Now()})

		resp, err := llm.ChatWithRetry(ctx, c.provider, c.chatRequest(), c.backoff, c.logger)
		if err != nil {
			if ctx.Err() != nil {
				return c.cancelled(ctx)
			}
			return c.failed(fmt.Sprintf("model backend: %v", err))
		}
		c.usage.PromptTokens += resp.Usage.PromptTokens
		c.usage.CompletionTokens += resp.Usage.CompletionTokens
		c.usage.TotalTokens += resp.Usage.TotalTokens
		c.metrics.RecordTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

		invocations := toInvocations(resp.Message.ToolCalls)
		c.conv.AppendModel(resp.Message.Content, invocations)

		if len(invocations) == 0 {
			outcome, done := c.verifyWorkspace(ctx, &fixAttempts)
			if done {
				return outcome
			}
			continue
		}

		c.transition(StateActing)
		for _, inv := range invocations {
			c.events.Emit(Event{Kind: EventToolInvoked, State: StateActing, Iteration: c.iterations + 1, Tool: inv.Name, Time: time.Now()})
		}

		results := c.dispatcher.DispatchAll(ctx, invocations)
		c.conv.AppendObservation(results)

		for i, res := range results {
			c.metrics.RecordTool(res.Tool, res.IsError)
			if !res.IsError {
				continue
			}
			blocker, fired := c.tracker.Record(res.Tool, invocationPath(invocations[i]), res.Content)
			if fired {
				c.blockers.StoreBlocker(c.task.ID, blocker.Question)
				c.metrics.RecordEscalation()
				return RunOutcome{Status: StateBlocked, Question: blocker.Question}
			}
		}

		c.iterations++
		if c.iterations >= c.maxIterations {
			return c.failed("iteration limit exceeded")
		}
		if ctx.Err() != nil {
			return c.cancelled(ctx)
		}

		c.compact()
	}
}

// verifyWorkspace runs the final gate. The second return is false when the
// loop should continue with another correction attempt.
func (c *Controller) verifyWorkspace(ctx context.Context, fixAttempts *int) (RunOutcome, bool) {
	c.transition(StateVerifying)
	if ctx.Err() != nil {
		return c.cancelled(ctx), true
	}

	res, err := c.gate.CheckWorkspace(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return c.cancelled(ctx), true
		}
		return c.failed(fmt.Sprintf("verification gate: %v", err)), true
	}
	if res.Passed {
		return RunOutcome{Status: StateCompleted}, true
	}

	*fixAttempts++
	if *fixAttempts > c.maxFixAttempts {
		return c.failed(fmt.Sprintf("verification failed after %d correction attempts", c.maxFixAttempts)), true
	}

	c.logger.Info("verification failed, feeding back",
		zap.Int("attempt", *fixAttempts),
		zap.Int("cap", c.maxFixAttempts),
	)
	// The correction cycle starts fresh: tool failures from before the
	// verification pass no longer count toward escalation.
	c.tracker.Reset()
	c.conv.AppendUser("Verification failed:\n" + res.Diagnostics + "\n\nFix the reported problems and finish the task.")
	c.compact()
	return RunOutcome{}, false
}

// compact consults the budget compactor between iterations. Compaction never
// changes the controller state.
func (c *Controller) compact() {
	if c.compactor == nil || !c.compactor.NeedsCompaction(c.conv) {
		return
	}
	report := c.compactor.Compact(c.conv)
	for _, tier := range report.TiersApplied {
		c.metrics.RecordCompaction(tier)
	}
	c.events.Emit(Event{
		Kind:   EventCompaction,
		State:  c.state,
		Detail: fmt.Sprintf("%d -> %d tokens", report.TokensBefore, report.TokensAfter),
		Time:   time.Now(),
	})
}

func (c *Controller) chatRequest() llm.ChatRequest {
	messages := make([]llm.ChatMessage, 0, c.conv.Len()+1)
	messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: c.instructions})
	messages = append(messages, c.conv.Messages()...)
	return llm.ChatRequest{
		Model:       c.route.Model,
		Messages:    messages,
		Tools:       tools.Schemas(),
		MaxTokens:   c.route.MaxTokens,
		Temperature: c.route.Temperature,
	}
}

func (c *Controller) transition(next State) {
	if c.state == next {
		return
	}
	c.logger.Debug("state transition", zap.String("from", string(c.state)), zap.String("to", string(next)))
	c.state = next
	c.events.Emit(Event{Kind: EventStateTransition, State: next, Iteration: c.iterations, Time: time.Now()})
}

func (c *Controller) failed(reason string) RunOutcome {
	return RunOutcome{Status: StateFailed, Reason: reason}
}

func (c *Controller) cancelled(ctx context.Context) RunOutcome {
	return RunOutcome{Status: StateCancelled, Reason: ctx.Err().Error()}
}

func toInvocations(calls []llm.ToolCall) []conversation.ToolInvocation {
	if len(calls) == 0 {
		return nil
	}
	out := make([]conversation.ToolInvocation, len(calls))
	for i, call := range calls {
		out[i] = conversation.ToolInvocation{ID: call.ID, Name: call.Name, Args: call.Arguments}
	}
	return out
}

func invocationPath(inv conversation.ToolInvocation) string {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(inv.Args, &args); err != nil {
		return ""
	}
	return args.Path
}
