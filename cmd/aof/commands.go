package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/agenticdevops/aof/internal/activitybus"
	"github.com/agenticdevops/aof/internal/agentexec"
	"github.com/agenticdevops/aof/internal/aoftypes"
	"github.com/agenticdevops/aof/internal/channels"
	"github.com/agenticdevops/aof/internal/channels/discord"
	"github.com/agenticdevops/aof/internal/channels/slack"
	"github.com/agenticdevops/aof/internal/channels/telegram"
	"github.com/agenticdevops/aof/internal/fleet"
	"github.com/agenticdevops/aof/internal/flowengine"
	"github.com/agenticdevops/aof/internal/mcpclient"
	"github.com/agenticdevops/aof/internal/orchestrator"
	"github.com/agenticdevops/aof/internal/provider"
	"github.com/agenticdevops/aof/internal/registry"
	"github.com/agenticdevops/aof/internal/safety"
	"github.com/agenticdevops/aof/internal/scheduler"
	"github.com/agenticdevops/aof/internal/toolregistry"
	"github.com/agenticdevops/aof/internal/triggerrouter"
	"github.com/agenticdevops/aof/internal/webhook"
)

// app holds every long-lived component runServe wires together.
type app struct {
	agents   *registry.AgentRegistry
	flows    *registry.FlowRegistry
	fleets   *registry.FleetRegistry
	triggers *registry.TriggerRegistry
	contexts *registry.ContextRegistry
	bindings *registry.BindingRegistry

	orc           *orchestrator.Orchestrator
	webhookServer http.Handler

	fleetCoordinators map[string]*fleet.Coordinator
	mcp               *mcpclient.Manager
	toolRegistry      *toolregistry.Registry
	scheduler         *scheduler.Scheduler
}

// buildApp loads every resource kind from its subdirectory under dir
// (dir/agents, dir/flows, dir/fleets, dir/triggers, dir/contexts,
// dir/bindings — a missing subdirectory simply loads zero resources of
// that kind rather than failing startup) and wires the Flow Engine,
// Orchestrator, Trigger Router, and webhook Server around them.
func buildApp(dir string) (*app, error) {
	a := &app{
		agents:            registry.NewAgentRegistry(),
		flows:             registry.NewFlowRegistry(),
		fleets:            registry.NewFleetRegistry(),
		triggers:          registry.NewTriggerRegistry(),
		contexts:          registry.NewContextRegistry(),
		bindings:          registry.NewBindingRegistry(),
		fleetCoordinators: make(map[string]*fleet.Coordinator),
	}

	for kind, loader := range map[string]func(string) (int, error){
		"agents":   a.agents.LoadDirectory,
		"flows":    a.flows.LoadDirectory,
		"fleets":   a.fleets.LoadDirectory,
		"triggers": a.triggers.LoadDirectory,
		"contexts": a.contexts.LoadDirectory,
		"bindings": a.bindings.LoadDirectory,
	} {
		sub := filepath.Join(dir, kind)
		if _, err := os.Stat(sub); err != nil {
			continue
		}
		n, err := loader(sub)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", kind, err)
		}
		slog.Debug("loaded resources", "kind", kind, "count", n)
	}

	bus := activitybus.NopBus{}

	// Every provider's Executor shares one Tool Registry, so an MCP
	// server's tools (registered once, below) reach an agent regardless
	// of which provider it's configured to use.
	a.toolRegistry = toolregistry.New()

	mcpConfig, err := mcpclient.NewConfig(true, dedupeMCPServers(a.agents.GetAll()))
	if err != nil {
		return nil, fmt.Errorf("mcp server config: %w", err)
	}
	a.mcp = mcpclient.NewManager(mcpConfig, nil)

	providers, err := buildProviders()
	if err != nil {
		return nil, err
	}
	runner := &multiProviderRunner{executors: make(map[string]*agentexec.Executor, len(providers))}
	for name, p := range providers {
		runner.executors[name] = agentexec.New(p, a.toolRegistry, agentexec.RunConfig{
			MaxParallelTools: 4,
			MaxTokens:        4096,
			Temperature:      0.2,
		}, bus)
	}

	engine := flowengine.New(runner, a.agents, nil, nil, nil, bus)

	a.orc = orchestrator.New(orchestrator.Config{}, bus)
	a.orc.RegisterExecutor(aoftypes.ResourceAgent, &agentTaskExecutor{agents: a.agents, runner: runner})
	a.orc.RegisterExecutor(aoftypes.ResourceFlow, &flowTaskExecutor{flows: a.flows, engine: engine})
	a.orc.RegisterExecutor(aoftypes.ResourceFleet, &fleetTaskExecutor{coordinators: a.fleetCoordinators})

	for _, f := range a.fleets.GetAll() {
		f := f
		a.fleetCoordinators[f.MetadataField.Name] = fleet.New(f, func(member aoftypes.FleetAgentSpec, instanceID string) (fleet.InstanceRunner, error) {
			return &fleetInstanceRunner{name: member.Name, runner: runner}, nil
		})
	}

	platforms := channels.NewRegistry()
	registerPlatforms(platforms)

	router := triggerrouter.New(a.bindings, a.triggers, a.contexts, registry.TargetResolver{
		Agents: a.agents, Flows: a.flows, Fleets: a.fleets,
	})

	a.webhookServer = webhook.New(router, platforms, safety.NewPolicyEngine(), safety.NewToolClassifier(), a.orc, webhook.Config{})

	a.scheduler = scheduler.New(a.triggers, router, a.orc)

	return a, nil
}

func (a *app) startFleets(ctx context.Context) {
	for name, c := range a.fleetCoordinators {
		if err := c.Start(ctx); err != nil {
			slog.Warn("fleet failed to start", "fleet", name, "error", err)
		}
	}
}

func (a *app) stopFleets(grace time.Duration) {
	for _, c := range a.fleetCoordinators {
		c.Stop(grace)
	}
}

// startMCP connects every configured MCP server and adapts its tools into
// the shared Tool Registry, so an Agent's mcp_servers become callable
// through the normal ReAct tool-call path instead of always resolving to
// "tool not found".
func (a *app) startMCP(ctx context.Context) {
	if err := a.mcp.Start(ctx); err != nil {
		slog.Warn("mcp manager failed to start", "error", err)
	}
	a.mcp.RegisterTools(a.toolRegistry)
}

func (a *app) stopMCP() {
	if err := a.mcp.Stop(); err != nil {
		slog.Warn("mcp manager failed to stop cleanly", "error", err)
	}
}

// startScheduler starts the tick loop that fires "schedule"-platform
// Triggers. A resource directory with no such Triggers still starts the
// loop; it simply never finds one due.
func (a *app) startScheduler(ctx context.Context) {
	if err := a.scheduler.Start(ctx); err != nil {
		slog.Warn("scheduler failed to start", "error", err)
	}
}

func (a *app) stopScheduler(grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := a.scheduler.Stop(ctx); err != nil {
		slog.Warn("scheduler failed to stop cleanly", "error", err)
	}
}

// dedupeMCPServers collects every Agent's configured MCP servers into one
// list, keeping the first definition seen for a given server ID.
func dedupeMCPServers(agents []*aoftypes.Agent) []aoftypes.McpServerConfig {
	seen := make(map[string]bool)
	var out []aoftypes.McpServerConfig
	for _, a := range agents {
		for _, s := range a.Spec.MCPServers {
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	return out
}

// buildProviders constructs one provider.Provider per backend with
// credentials present in the environment. A deployment with neither key
// set still serves webhooks; agent/flow/fleet tasks simply fail at
// dispatch with an unconfigured-provider error.
func buildProviders() (map[string]provider.Provider, error) {
	out := make(map[string]provider.Provider)
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		p, err := provider.NewAnthropicProvider(provider.AnthropicConfig{APIKey: key})
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		out["anthropic"] = p
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p, err := provider.NewOpenAIProvider(key, "")
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		out["openai"] = p
	}
	return out, nil
}

func registerPlatforms(reg *channels.Registry) {
	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" {
		reg.Register(slack.New(slack.Config{BotToken: token, SigningSecret: os.Getenv("SLACK_SIGNING_SECRET")}))
	}
	if token := os.Getenv("DISCORD_BOT_TOKEN"); token != "" {
		if a, err := discord.New(token, os.Getenv("DISCORD_BOT_ID")); err == nil {
			reg.Register(a)
		} else {
			slog.Warn("discord adapter not started", "error", err)
		}
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		if a, err := telegram.New(token); err == nil {
			reg.Register(a)
		} else {
			slog.Warn("telegram adapter not started", "error", err)
		}
	}
}

// multiProviderRunner dispatches to the agentexec.Executor matching the
// target Agent's configured provider (default "anthropic"), letting one
// process serve agents backed by different LLM vendors side by side. It
// satisfies flowengine.AgentRunner directly.
type multiProviderRunner struct {
	executors map[string]*agentexec.Executor
}

func (m *multiProviderRunner) Run(ctx context.Context, in agentexec.RunInput) (*agentexec.RunResult, error) {
	name := in.Agent.Spec.Provider
	if name == "" {
		name = "anthropic"
	}
	exec, ok := m.executors[name]
	if !ok {
		return nil, fmt.Errorf("no provider configured for %q (agent %q)", name, in.Agent.MetadataField.Name)
	}
	return exec.Run(ctx, in)
}

// agentTaskExecutor adapts multiProviderRunner to orchestrator.Executor
// for directly-dispatched Agent tasks.
type agentTaskExecutor struct {
	agents *registry.AgentRegistry
	runner *multiProviderRunner
}

func (e *agentTaskExecutor) Execute(ctx context.Context, task *aoftypes.Task) (string, error) {
	agent, ok := e.agents.Get(task.AgentRef)
	if !ok {
		return "", fmt.Errorf("agent %q not found", task.AgentRef)
	}
	result, err := e.runner.Run(ctx, agentexec.RunInput{Agent: agent, Input: task.Input})
	if err != nil {
		return "", err
	}
	return result.Message.Content, nil
}

// flowTaskExecutor adapts an Engine to orchestrator.Executor for
// directly-dispatched AgentFlow tasks.
type flowTaskExecutor struct {
	flows  *registry.FlowRegistry
	engine *flowengine.Engine
}

func (e *flowTaskExecutor) Execute(ctx context.Context, task *aoftypes.Task) (string, error) {
	f, ok := e.flows.Get(task.AgentRef)
	if !ok {
		return "", fmt.Errorf("flow %q not found", task.AgentRef)
	}
	result := e.engine.Execute(ctx, f, flowengine.State{"input": task.Input})
	if result.Err != nil {
		return "", result.Err
	}
	if result.Status != flowengine.StatusCompleted {
		return "", fmt.Errorf("flow %q ended with status %q", task.AgentRef, result.Status)
	}
	return fmt.Sprintf("%v", result.State), nil
}

// fleetTaskExecutor dispatches a Task onto an already-started fleet
// Coordinator and polls its published state until the submitted task
// reaches a terminal status — Coordinator's own API is event-driven
// (SubmitTask returns immediately), so this bridges it into the
// synchronous orchestrator.Executor contract.
type fleetTaskExecutor struct {
	coordinators map[string]*fleet.Coordinator
}

func (e *fleetTaskExecutor) Execute(ctx context.Context, task *aoftypes.Task) (string, error) {
	c, ok := e.coordinators[task.AgentRef]
	if !ok {
		return "", fmt.Errorf("fleet %q not found", task.AgentRef)
	}

	taskID := c.SubmitTask(ctx, task.Input)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			t, ok := c.State().Tasks[taskID]
			if !ok {
				continue
			}
			switch t.Status {
			case aoftypes.FleetTaskCompleted:
				return t.Result, nil
			case aoftypes.FleetTaskFailed:
				return "", fmt.Errorf("fleet task %q failed", taskID)
			}
		}
	}
}

// fleetInstanceRunner adapts multiProviderRunner to fleet.InstanceRunner
// for one fleet member.
type fleetInstanceRunner struct {
	name   string
	runner *multiProviderRunner
}

func (r *fleetInstanceRunner) Execute(ctx context.Context, input string) (string, error) {
	result, err := r.runner.Run(ctx, agentexec.RunInput{
		Agent: &aoftypes.Agent{MetadataField: aoftypes.Metadata{Name: r.name}},
		Input: input,
	})
	if err != nil {
		return "", err
	}
	return result.Message.Content, nil
}
