// Package app wires the build and compile stages into runnable pipelines.
package app

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cinmou/singbox-rules/internal/build"
	"github.com/cinmou/singbox-rules/internal/compile"
	"github.com/cinmou/singbox-rules/internal/config"
	"github.com/cinmou/singbox-rules/internal/errors"
	"github.com/cinmou/singbox-rules/internal/fetch"
	"github.com/cinmou/singbox-rules/internal/history"
	"github.com/cinmou/singbox-rules/internal/observability"
	"github.com/cinmou/singbox-rules/internal/source"
	"github.com/cinmou/singbox-rules/internal/watcher"
)

type App struct {
	Config *config.Config
	Root   string

	fetcher *fetch.Client
	builder *build.Builder
	driver  *compile.Driver
	store   *history.Store

	mu        sync.Mutex
	lastRun   time.Time
	lastError string
}

func New(cfg *config.Config) (*App, error) {
	root, err := cfg.ResolveRoot()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeEnv, "resolve install root")
	}

	fetcher := fetch.NewClient(fetch.Options{
		Timeout:     cfg.Fetch.Timeout,
		UserAgent:   cfg.Fetch.UserAgent,
		MaxAttempts: cfg.Fetch.MaxAttempts,
		Rate:        cfg.Fetch.Rate,
		Burst:       cfg.Fetch.Burst,
	})

	a := &App{
		Config:  cfg,
		Root:    root,
		fetcher: fetcher,
		builder: build.New(fetcher, cfg.JSONDir(root), cfg.IndexPath(root)),
		driver:  compile.NewDriver(cfg.Compile.Command, cfg.Compile.Timeout),
	}

	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeEnv, "open history store")
		}
		a.store = store
	}

	return a, nil
}

func (a *App) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// SRSDir is the compiled output directory named in the completion message.
func (a *App) SRSDir() string {
	return a.Config.SRSDir(a.Root)
}

// Build fetches the source manifest and regenerates all rule-set JSON files.
func (a *App) Build(ctx context.Context) (*build.Index, error) {
	loader := source.NewLoader(a.fetcher, a.Config.Sources.URL, a.Config.LocalSourcesPath(a.Root))
	manifest, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	return a.builder.BuildAll(ctx, manifest)
}

// Compile runs the external compiler over every rule-set JSON file. It
// returns the number of files compiled.
func (a *App) Compile(ctx context.Context) (int, error) {
	return a.driver.CompileAll(ctx, a.Config.JSONDir(a.Root), a.SRSDir())
}

// Run executes one pipeline pass and records it in the history store. Mode is
// "compile" or "build+compile".
func (a *App) Run(ctx context.Context, withBuild bool) error {
	mode := "compile"
	if withBuild {
		mode = "build+compile"
	}

	run := history.Run{Mode: mode, StartedAt: time.Now().UTC()}

	var index *build.Index
	var err error
	if withBuild {
		index, err = a.Build(ctx)
		if err == nil {
			run.TagCount = len(index.Sets)
			for _, set := range index.Sets {
				run.DomainCount += set.Domain
				run.SuffixCount += set.DomainSuffix
				run.CIDRCount += set.IPCIDR
			}
		}
	}

	if err == nil {
		run.CompiledCount, err = a.Compile(ctx)
	}

	run.FinishedAt = time.Now().UTC()
	if err != nil {
		run.Outcome = "failure"
		run.Error = err.Error()
		if path, ok := failedInput(err); ok {
			run.FailedInput = path
		}
	}
	a.recordRun(run)

	return err
}

// Watch blocks until ctx is cancelled, recompiling whenever the JSON
// directory changes. Unlike one-shot runs, a failed recompile is logged and
// the watcher keeps running.
func (a *App) Watch(ctx context.Context) error {
	w, err := watcher.NewWatcher(a.Config.Watch.Debounce, a.Config.Watch.ExcludeFiles, func(paths []string) {
		slog.Info("rule-set sources changed, recompiling", "files", len(paths))
		run := history.Run{Mode: "compile", StartedAt: time.Now().UTC()}
		var compileErr error
		run.CompiledCount, compileErr = a.Compile(ctx)
		run.FinishedAt = time.Now().UTC()
		if compileErr != nil {
			run.Outcome = "failure"
			run.Error = compileErr.Error()
			if path, ok := failedInput(compileErr); ok {
				run.FailedInput = path
			}
			slog.Error("recompile failed", "error", compileErr)
		}
		a.recordRun(run)
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeEnv, "create watcher")
	}
	defer w.Close()

	if err := w.Watch(a.Config.JSONDir(a.Root)); err != nil {
		return errors.Wrap(err, errors.CodeEnv, "watch json directory")
	}

	var srv *observability.Server
	if a.Config.Observability.Addr != "" {
		srv = observability.NewServer(a.Config.Observability.Addr, a.Health)
		if err := srv.Start(ctx); err != nil {
			return err
		}
	}

	<-ctx.Done()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(shutdownCtx)
	}
	return nil
}

func (a *App) Health() observability.Health {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := observability.Health{Status: "up", LastRun: a.lastRun, LastError: a.lastError}
	if a.lastError != "" {
		h.Status = "degraded"
	}
	return h
}

func (a *App) recordRun(run history.Run) {
	a.mu.Lock()
	a.lastRun = run.FinishedAt
	a.lastError = run.Error
	a.mu.Unlock()

	if a.store == nil {
		return
	}
	if _, err := a.store.SaveRun(run); err != nil {
		slog.Warn("failed to record run history", "error", err)
	}
}

func failedInput(err error) (string, bool) {
	var de *errors.DomainError
	if !stderrors.As(err, &de) {
		return "", false
	}
	if path, ok := de.Context[errors.CtxPath].(string); ok {
		return path, true
	}
	return "", false
}
