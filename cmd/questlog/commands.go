package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tech-arch1tect/questlog/app"
	"github.com/tech-arch1tect/questlog/database"
	"github.com/tech-arch1tect/questlog/handlers/auth"
	"github.com/tech-arch1tect/questlog/services/refreshtoken"
	"github.com/urfave/cli/v3"
)

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the API server until interrupted",
		Action: r.Serve,
	}
}

func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Create or update the database schema",
		Action: r.Migrate,
	}
}

func tokensCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tokens",
		Usage: "Refresh token maintenance",
		Commands: []*cli.Command{
			{
				Name:  "purge",
				Usage: "Delete refresh tokens that expired longer ago than the retention window",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "retention",
						Usage: "How long finished tokens are kept (defaults to REFRESH_TOKEN_RETENTION)",
					},
				},
				Action: r.PurgeTokens,
			},
		},
	}
}

func openAPICommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "openapi",
		Usage: "Print the API document",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "yaml or json",
				Value:   "yaml",
			},
		},
		Action: r.OpenAPI,
	}
}

func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig()
	if err != nil {
		return err
	}

	application, err := app.NewApp().WithConfig(cfg).Build()
	if err != nil {
		return err
	}
	return application.Run()
}

func (r *Runner) Migrate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig()
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	models := app.DefaultModels()
	if err := database.Migrate(db.WithContext(ctx), models...); err != nil {
		return err
	}
	return r.writePlain("migrated %d models\n", len(models))
}

func (r *Runner) PurgeTokens(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig()
	if err != nil {
		return err
	}

	retention := cfg.RefreshToken.Retention
	if cmd.IsSet("retention") {
		retention = cmd.Duration("retention")
	}

	application, err := app.NewApp().WithConfig(cfg).WithoutHTTP().Build()
	if err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer application.Stop()

	deleted, err := application.RefreshTokens().PurgeExpired(ctx, retention)
	if errors.Is(err, refreshtoken.ErrRetentionDisabled) {
		return fmt.Errorf("%w: set REFRESH_TOKEN_RETENTION or pass --retention", err)
	}
	if err != nil {
		return err
	}
	return r.writePlain("purged %d refresh tokens older than %s\n", deleted, retention)
}

func (r *Runner) OpenAPI(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadDefaults()
	if err != nil {
		return err
	}

	doc := auth.BuildDocument(cfg)
	if err := doc.Validate(ctx); err != nil {
		return fmt.Errorf("invalid API document: %w", err)
	}

	var out []byte
	switch format := strings.ToLower(cmd.String("format")); format {
	case "yaml", "yml":
		out, err = doc.YAML()
	case "json":
		out, err = doc.JSON()
	default:
		return fmt.Errorf("unsupported format %q, expected yaml or json", format)
	}
	if err != nil {
		return err
	}
	return r.writePlain("%s\n", strings.TrimRight(string(out), "\n"))
}
