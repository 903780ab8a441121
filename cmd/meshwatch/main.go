// Command meshwatch supervises worker processes with layered liveness
// detection and a sliding-window restart budget.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/neuralmesh/mesh/core"
	"github.com/neuralmesh/mesh/supervisor"
)

type watchConfig struct {
	StateDir string                    `yaml:"state_dir"`
	Workers  []supervisor.WorkerConfig `yaml:"workers"`
}

func main() {
	path := "meshwatch.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
	if err != nil {
		os.Stderr.WriteString("failed to read config: " + err.Error() + "\n")
		os.Exit(1)
	}

	var cfg watchConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		os.Stderr.WriteString("failed to parse config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "."
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		os.Stderr.WriteString("failed to create state dir: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := core.NewProductionLogger(core.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "meshwatch")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	for _, workerCfg := range cfg.Workers {
		worker := supervisor.NewWorker(workerCfg, supervisor.DefaultProbes(), cfg.StateDir, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}
	wg.Wait()
}
