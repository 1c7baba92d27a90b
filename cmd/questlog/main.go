package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	runner := NewRunner(RunnerOpts{})

	cmd := &cli.Command{
		Name:     "questlog",
		Usage:    "Account and session API",
		Version:  version,
		Commands: runner.register(),
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("questlog: %v", err)
	}
}
