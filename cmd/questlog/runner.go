package main

import (
	"fmt"
	"io"
	"os"

	"github.com/tech-arch1tect/questlog/config"
	"github.com/urfave/cli/v3"
)

// Runner holds what the subcommands share. A nil config is read from the
// environment when a command first needs it.
type Runner struct {
	config *config.Config
	output io.Writer
}

type RunnerOpts struct {
	Config *config.Config
	Output io.Writer
}

func NewRunner(opts RunnerOpts) *Runner {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{config: opts.Config, output: opts.Output}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		serveCommand, migrateCommand, tokensCommand, openAPICommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

// loadConfig returns the validated configuration.
func (r *Runner) loadConfig() (*config.Config, error) {
	if r.config != nil {
		return r.config, nil
	}
	cfg := &config.Config{}
	if err := config.LoadConfig(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	r.config = cfg
	return cfg, nil
}

// loadDefaults is loadConfig without validation.
func (r *Runner) loadDefaults() (*config.Config, error) {
	if r.config != nil {
		return r.config, nil
	}
	cfg, err := config.LoadDefaults()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	if _, err := fmt.Fprintf(r.output, format, args...); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
