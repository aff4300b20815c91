package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/aristath/taskgraph/internal/config"
	"github.com/aristath/taskgraph/internal/engine"
	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/logging"
	"github.com/aristath/taskgraph/internal/persistence"
	"github.com/aristath/taskgraph/internal/report"
)

// errCheckFailed is returned by commands whose result was already printed
// but should still produce a non-zero exit (invalid graph, gate refusal).
var errCheckFailed = errors.New("check failed")

// app holds the global flags and the output streams shared by all commands.
type app struct {
	dbPath     string
	configPath string
	jsonOut    bool
	verbose    bool
	showEvents bool

	out    io.Writer
	errOut io.Writer
}

// session is an opened engine plus everything that must be torn down with it.
type session struct {
	engine *engine.Engine
	cfg    *config.Config
	close  func()
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath == "" {
		return config.LoadDefault()
	}

	global := ""
	if home, err := os.UserHomeDir(); err == nil {
		global = filepath.Join(home, ".taskgraph", "config.json")
	}
	if _, err := os.Stat(a.configPath); err != nil {
		return nil, fmt.Errorf("config file %s: %w", a.configPath, err)
	}
	return config.Load(global, a.configPath)
}

// open loads configuration, opens the store and builds the engine.
func (a *app) open(ctx context.Context) (*session, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	if a.dbPath != "" {
		cfg.Store.Path = a.dbPath
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: a.errOut,
	})

	sqlite, err := persistence.NewSQLiteStore(ctx, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}
	store := persistence.NewResilientStore(sqlite,
		persistence.DefaultRetryConfig(),
		persistence.DefaultBreakerConfig(),
		logger)

	// Mirror every engine event into the debug log
	bus := events.NewEventBus()
	sub := bus.SubscribeAll(0)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range sub {
			logger.Debug("event", "type", ev.EventType(), "task", ev.TaskID())
		}
	}()

	// With --events, task mutations are collected and printed once the
	// command is done
	var taskEvents []events.Event
	if a.showEvents {
		taskSub := bus.Subscribe(events.TopicTask, 0)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range taskSub {
				taskEvents = append(taskEvents, ev)
			}
		}()
	}

	opts := engine.OptionsFromConfig(cfg)
	opts.Logger = logger
	opts.Events = bus

	return &session{
		engine: engine.New(store, opts),
		cfg:    cfg,
		close: func() {
			bus.Close()
			wg.Wait()
			if n := bus.Dropped(); n > 0 {
				logger.Warn("event subscribers fell behind", "dropped", n)
			}
			a.printEvents(taskEvents)
			if err := store.Close(); err != nil {
				logger.Warn("closing task store", "error", err)
			}
		},
	}, nil
}

// printEvents writes one JSON object per event to the error stream.
func (a *app) printEvents(evs []events.Event) {
	enc := json.NewEncoder(a.errOut)
	for _, ev := range evs {
		enc.Encode(struct {
			Type  string       `json:"type"`
			Task  string       `json:"task"`
			Event events.Event `json:"event"`
		}{ev.EventType(), ev.TaskID(), ev})
	}
}

// run opens a session around fn.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	return fn(ctx, s)
}

// emit writes v as JSON when --json is set, and otherwise calls render.
func (a *app) emit(v any, render func(r *report.Renderer)) error {
	if a.jsonOut {
		return report.JSON(a.out, v)
	}
	render(report.New(a.out))
	return nil
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "taskgraph",
		Short: "Validate, schedule and gate a task dependency graph",
		Long: `taskgraph inspects the task store shared by worker agents.

It validates the dependency graph, groups tasks into execution phases,
finds the critical path, flags stale tasks and file conflicts, and decides
whether a task is safe to dispatch.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "Task database path (overrides store.path)")
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Project config file (JSON or YAML)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Print results as JSON")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&a.showEvents, "events", false, "Print task events as JSON lines on stderr")

	root.AddCommand(
		validateCmd(a),
		phasesCmd(a),
		criticalPathCmd(a),
		readyCmd(a),
		staleCmd(a),
		conflictsCmd(a),
		gateCmd(a),
		claimCmd(a),
		completeCmd(a),
		resetCmd(a),
		depCmd(a),
		importCmd(a),
		historyCmd(a),
		reportCmd(a),
		configCmd(a),
	)

	return root
}
