package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rendis/flowforge/internal/actions"
	"github.com/rendis/flowforge/internal/engine"
	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/internal/loader"
	"github.com/rendis/flowforge/internal/logging"
	"github.com/rendis/flowforge/internal/streaming"
)

// inputFlags collects repeated -input key=value flags. Values are coerced
// like resolved templates: "3" becomes 3, "true" becomes true.
type inputFlags map[string]any

func (f inputFlags) String() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (f inputFlags) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("input %q must be key=value", s)
	}
	f[strings.TrimSpace(k)] = expressions.CoerceScalar(v)
	return nil
}

// lockedWriter serializes writes from the logger and the event printer.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func runFlow(cfg Config, args []string, stdout, stderr io.Writer) int {
	stderr = &lockedWriter{w: stderr}
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	inputs := inputFlags{}
	fs.Var(inputs, "input", "flow input as key=value (repeatable)")
	inputsJSON := fs.String("inputs-json", "", "flow inputs as a JSON object; -input wins on conflicts")
	flowsDir := fs.String("flows-dir", cfg.FlowsDir, "directory flow identifiers and subflows resolve against")
	debug := fs.Bool("debug", cfg.Debug, "enable debug trace logging")
	poolSize := fs.Int("pool-size", cfg.PoolSize, "maximum concurrently running parallel branches")
	events := fs.Bool("events", false, "write run events to stderr as JSON lines")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: run requires exactly one flow argument")
		return 2
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if *debug {
		level = slog.LevelDebug
	}
	logger := logging.New(stderr, cfg.LogFormat, level)

	flowInputs := make(map[string]any)
	if *inputsJSON != "" {
		if err := json.Unmarshal([]byte(*inputsJSON), &flowInputs); err != nil {
			fmt.Fprintf(stderr, "Error: -inputs-json: %v\n", err)
			return 2
		}
	}
	maps.Copy(flowInputs, inputs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fl, err := loader.NewFileLoader(*flowsDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	flow, err := fl.Load(ctx, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	reg, err := actions.NewBuiltinRegistry()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	opts := []engine.Option{
		engine.WithLoader(fl),
		engine.WithLogger(logger),
	}
	var drained chan struct{}
	if *events {
		hub := streaming.NewMemoryHub()
		ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		drained = make(chan struct{})
		go func() {
			defer close(drained)
			enc := json.NewEncoder(stderr)
			for ev := range ch {
				_ = enc.Encode(ev)
			}
		}()
		defer func() {
			cancel()
			<-drained
		}()
		opts = append(opts, engine.WithEventHub(hub))
	}

	eng := engine.New(reg, engine.Config{
		Debug:    *debug,
		BasePath: fl.BaseDir(),
		PoolSize: *poolSize,
	}, opts...)

	res, runErr := eng.ExecuteFlow(ctx, flow, flowInputs)
	if res != nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(stderr, "Error: encode result: %v\n", err)
			return 1
		}
	}
	if runErr != nil {
		fmt.Fprintf(stderr, "Error: %v\n", runErr)
		return 1
	}
	return 0
}
