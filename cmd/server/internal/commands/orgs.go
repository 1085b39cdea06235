package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/leadlink/internal/logger"
	"github.com/wolfeidau/leadlink/internal/seed"
	"github.com/wolfeidau/leadlink/internal/store"
)

type OrgsCmd struct {
	Seed OrgsSeedCmd `cmd:"" help:"Create organizations from a YAML file"`
	List OrgsListCmd `cmd:"" help:"List organizations"`
}

type OrgsSeedCmd struct {
	File  string     `arg:"" help:"YAML organization file" type:"existingfile"`
	Store StoreFlags `embed:""`
}

func (c *OrgsSeedCmd) Run(globals *Globals) error {
	logger.Setup(globals.Debug)
	ctx := context.Background()

	st, closeStore, err := c.Store.open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return seedFromFile(ctx, st.Organizations(), c.File)
}

type OrgsListCmd struct {
	Store StoreFlags `embed:""`
}

func (c *OrgsListCmd) Run(globals *Globals) error {
	logger.Setup(globals.Debug)
	ctx := context.Background()

	st, closeStore, err := c.Store.open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	orgs, err := st.Organizations().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list organizations: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tACTIVE\tCREATED")
	for _, org := range orgs {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", org.OrgID, org.Name, org.Active, org.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func seedFromFile(ctx context.Context, orgs store.OrganizationStore, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	file, err := seed.Load(f)
	if err != nil {
		return err
	}

	res, err := seed.Apply(ctx, orgs, file)
	if err != nil {
		return err
	}

	log.Info().Int("created", res.Created).Int("skipped", res.Skipped).Msg("Organizations seeded")
	return nil
}
