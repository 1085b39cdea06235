package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/wolfeidau/leadlink/internal/channel/telegram"
	"github.com/wolfeidau/leadlink/internal/logger"
	"github.com/wolfeidau/leadlink/internal/store"
)

type TelegramCmd struct {
	Token string `help:"Telegram bot token" required:"" env:"TELEGRAM_BOT_TOKEN"`
	OrgID string `help:"organization the bot serves (default organization when empty)" env:"LEADLINK_TELEGRAM_ORG_ID"`

	Store     StoreFlags     `embed:""`
	Pipeline  PipelineFlags  `embed:""`
	Telemetry TelemetryFlags `embed:""`
}

func (c *TelegramCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Msg("Starting telegram channel")

	defer c.Telemetry.setup(ctx, "leadlink-telegram", globals.Version)()

	st, closeStore, err := c.Store.open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	orgID, err := c.resolveOrg(ctx, st.Organizations())
	if err != nil {
		return err
	}

	processor, closePipeline, err := c.Pipeline.build(ctx, st, c.Store.Retry.config())
	if err != nil {
		return err
	}
	defer closePipeline()

	ch, err := telegram.New(telegram.Config{Token: c.Token, OrgID: orgID}, processor)
	if err != nil {
		return err
	}

	log.Info().Str("org_id", orgID.String()).Msg("Telegram channel ready")
	return ch.Run(ctx)
}

func (c *TelegramCmd) resolveOrg(ctx context.Context, orgs store.OrganizationStore) (uuid.UUID, error) {
	if c.OrgID != "" {
		id, err := uuid.Parse(c.OrgID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid organization id: %w", err)
		}
		if _, err := orgs.Get(ctx, id); err != nil {
			return uuid.Nil, fmt.Errorf("failed to load organization %s: %w", id, err)
		}
		return id, nil
	}

	org, err := orgs.GetDefault(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to load default organization: %w", err)
	}
	return org.OrgID, nil
}
