package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/wolfeidau/leadlink/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug    bool                 `help:"Enable debug mode." env:"LEADLINK_DEBUG"`
		Version  kong.VersionFlag
		Serve    commands.ServeCmd    `cmd:"" help:"Start the chat API server"`
		Telegram commands.TelegramCmd `cmd:"" help:"Run the Telegram channel"`
		Migrate  commands.MigrateCmd  `cmd:"" help:"Run database migrations"`
		Orgs     commands.OrgsCmd     `cmd:"" help:"Manage organizations"`
	}
)

func main() {
	// A missing .env is fine; the environment and flags still apply.
	_ = godotenv.Load()

	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("leadlink"),
		kong.Description("Multi-channel lead capture with cross-channel identity merging."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
