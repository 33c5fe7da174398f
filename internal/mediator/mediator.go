package mediator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benford266/ComfyImageGen/config"
	"github.com/benford266/ComfyImageGen/internal/clients/comfyui"
	"github.com/benford266/ComfyImageGen/internal/dependencies"
	"github.com/benford266/ComfyImageGen/internal/orchestrator"
	"github.com/benford266/ComfyImageGen/internal/services"
	"github.com/benford266/ComfyImageGen/internal/workflow"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

type App struct {
	api   *services.Api
	rpc   *dependencies.Rpc
	hub   *services.Hub
	async *services.Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	// settings
	Config config.Config
}

func NewApp(config config.Config) (*App, error) {
	config.Normalize()

	roles := workflow.Roles{
		Prompt:   config.Workflow.PromptNode,
		Negative: config.Workflow.NegativeNode,
		Size:     config.Workflow.SizeNode,
		Sampler:  config.Workflow.SamplerNode,
		Output:   config.Workflow.OutputNode,
	}
	tpl, err := workflow.Load(config.Workflow.TemplatePath, roles)
	if err != nil {
		return nil, fmt.Errorf("error creating newapp: %w", err)
	}
	store := workflow.NewStore()
	store.Set(tpl)

	client := comfyui.NewClient(config.Comfy)
	orch := orchestrator.New(store, client, config.Poll, tpl.Roles().Output)

	ctx, cancel := context.WithCancel(context.Background())
	hub := services.NewHub()
	async := services.NewDispatcher(ctx, hub, orch, config.Async)
	api := services.NewApi(ctx, orch, hub, async, config.Api)

	var rpc *dependencies.Rpc
	if config.Rpc.Enabled {
		rpc = dependencies.NewRpc(orch, config.Rpc)
	}

	log.Info("workflow template loaded", "path", config.Workflow.TemplatePath, "comfy", client.BaseURL())

	return &App{
		api:    api,
		rpc:    rpc,
		hub:    hub,
		async:  async,
		ctx:    ctx,
		cancel: cancel,
		Config: config,
	}, nil
}

// Run serves until ctx ends or a listener fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.async.Run()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", "port", a.Config.Api.Port)
		if err := a.api.Start(); err != nil {
			return fmt.Errorf("error starting api: %w", err)
		}
		return nil
	})
	if a.rpc != nil {
		g.Go(func() error {
			return a.rpc.Serve(a.ctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.Shutdown()
		return nil
	})

	return g.Wait()
}

// Shutdown cancels in-flight generations, then stops listeners and workers. Safe to call twice.
func (a *App) Shutdown() {
	a.once.Do(func() {
		log.Info("shutting down")
		a.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.api.Shutdown(ctx); err != nil {
			log.Error("api shutdown", "err", err)
		}

		a.async.Shutdown()
		a.hub.Shutdown()
		if a.rpc != nil {
			a.rpc.Close()
		}
	})
}
