// Package seed loads organizations from a YAML file into the organization store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/store"
)

// namespace derives stable organization ids from names when the file gives none.
var namespace = uuid.MustParse("6f1b2c1e-4c55-4f3e-9a51-0d3c7c1f2a10")

// OrganizationConfig is one organization entry of a seed file.
type OrganizationConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	APIKey string `yaml:"api_key"`
	Active *bool  `yaml:"active"`
}

// File is the seed file layout.
type File struct {
	Organizations []OrganizationConfig `yaml:"organizations"`
}

// Load parses and validates a seed file.
func Load(r io.Reader) (*File, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks names, ids and API key uniqueness.
func (f *File) Validate() error {
	if len(f.Organizations) == 0 {
		return errors.New("seed file has no organizations")
	}

	keys := make(map[string]string)
	for i, oc := range f.Organizations {
		if strings.TrimSpace(oc.Name) == "" {
			return fmt.Errorf("organization %d: name is required", i)
		}
		if oc.ID != "" {
			if _, err := uuid.Parse(oc.ID); err != nil {
				return fmt.Errorf("organization %q: invalid id: %w", oc.Name, err)
			}
		}
		if oc.APIKey == "" {
			continue
		}
		if other, ok := keys[oc.APIKey]; ok {
			return fmt.Errorf("organization %q: api key already used by %q", oc.Name, other)
		}
		keys[oc.APIKey] = oc.Name
	}
	return nil
}

// Organization converts the entry into a model. Entries without an id get one derived from the name
// so reseeding the same file is idempotent.
func (oc OrganizationConfig) Organization() *models.Organization {
	id := uuid.NewSHA1(namespace, []byte(strings.TrimSpace(oc.Name)))
	if oc.ID != "" {
		id = uuid.MustParse(oc.ID)
	}

	active := true
	if oc.Active != nil {
		active = *oc.Active
	}

	return &models.Organization{
		OrgID:  id,
		Name:   strings.TrimSpace(oc.Name),
		APIKey: oc.APIKey,
		Active: active,
	}
}

// Result reports what Apply did.
type Result struct {
	Created int
	Skipped int
}

// Apply creates every organization in the file. Organizations that already exist are skipped.
func Apply(ctx context.Context, orgs store.OrganizationStore, f *File) (*Result, error) {
	res := &Result{}

	for _, oc := range f.Organizations {
		org := oc.Organization()

		err := orgs.Create(ctx, org)
		switch {
		case errors.Is(err, store.ErrOrganizationAlreadyExists):
			res.Skipped++
			log.Debug().Str("org_id", org.OrgID.String()).Str("name", org.Name).Msg("Organization already exists")
			continue
		case err != nil:
			return res, fmt.Errorf("failed to create organization %q: %w", org.Name, err)
		}

		res.Created++
		log.Info().Str("org_id", org.OrgID.String()).Str("name", org.Name).Msg("Organization created")
	}

	return res, nil
}
