package repository

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/okian/pqa/internal/domain/model"
)

// Fixtures are collaborator records loaded from YAML for local runs.
type Fixtures struct {
	Sources   []model.Source  `yaml:"sources"`
	Companies []model.Company `yaml:"companies"`
	Contacts  []model.Contact `yaml:"contacts"`
	ICPs      []model.ICP     `yaml:"icps"`
}

// LoadFixtures decodes fixtures from r. Unknown keys are rejected.
func LoadFixtures(r io.Reader) (Fixtures, error) {
	var f Fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return Fixtures{}, fmt.Errorf("decode fixtures: %w", err)
	}
	return f, nil
}

// LoadFixturesFile reads fixtures from path.
func LoadFixturesFile(path string) (Fixtures, error) {
	fh, err := os.Open(path) //nolint:gosec // operator supplied path
	if err != nil {
		return Fixtures{}, fmt.Errorf("open fixtures: %w", err)
	}
	defer func() { _ = fh.Close() }()
	return LoadFixtures(fh)
}

// Seed writes every fixture through s.
func Seed(ctx context.Context, s Seeder, f Fixtures) error {
	for _, src := range f.Sources {
		if err := s.PutSource(ctx, src); err != nil {
			return fmt.Errorf("seed source %s: %w", src.ID, err)
		}
	}
	for _, c := range f.Companies {
		if err := s.PutCompany(ctx, c); err != nil {
			return fmt.Errorf("seed company %s: %w", c.ID, err)
		}
	}
	for _, c := range f.Contacts {
		if err := s.PutContact(ctx, c); err != nil {
			return fmt.Errorf("seed contact %s: %w", c.ID, err)
		}
	}
	for _, icp := range f.ICPs {
		if err := s.PutICP(ctx, icp); err != nil {
			return fmt.Errorf("seed icp %s: %w", icp.OrganizationID, err)
		}
	}
	return nil
}
