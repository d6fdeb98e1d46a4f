package capability

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
)

//go:embed seed.yaml
var seedYAML []byte

type seedFile struct {
	Capabilities []seedCapability `yaml:"capabilities"`
}

type seedCapability struct {
	ID               string `yaml:"id"`
	Category         string `yaml:"category"`
	RiskLevel        string `yaml:"risk_level"`
	RequiresApproval bool   `yaml:"requires_approval"`
	Requires2FA      bool   `yaml:"requires_2fa"`
	RequiresAdmin    bool   `yaml:"requires_admin"`
}

// SeedRegistry loads the embedded capability definitions into the store.
// Existing definitions with the same ID are replaced, so repeated startups
// converge on the embedded registry.
func SeedRegistry(ctx context.Context, capabilities store.CapabilityStore) error {
	var seed seedFile
	if err := yaml.Unmarshal(seedYAML, &seed); err != nil {
		return fmt.Errorf("failed to parse capability seed: %w", err)
	}

	for _, sc := range seed.Capabilities {
		if sc.ID == "" || sc.Category == "" {
			return fmt.Errorf("capability seed entry missing id or category")
		}

		err := capabilities.PutCapability(ctx, &models.Capability{
			ID:               sc.ID,
			Category:         sc.Category,
			RiskLevel:        models.RiskLevel(sc.RiskLevel),
			RequiresApproval: sc.RequiresApproval,
			Requires2FA:      sc.Requires2FA,
			RequiresAdmin:    sc.RequiresAdmin,
			IsActive:         true,
		})
		if err != nil {
			return fmt.Errorf("failed to seed capability %s: %w", sc.ID, err)
		}
	}

	log.Info().Int("count", len(seed.Capabilities)).Msg("Seeded capability registry")

	return nil
}

// EnableDefaults provisions a new organization's capability surface: every
// active low-risk capability is enabled, and a default security policy is
// written. Higher-risk capabilities stay disabled until explicitly enabled.
func EnableDefaults(ctx context.Context, capabilities store.CapabilityStore, directory store.DirectoryStore, orgID uuid.UUID) error {
	defs, err := capabilities.ListCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("failed to list capabilities: %w", err)
	}

	var enabled int
	for _, def := range defs {
		if !def.IsActive || def.RiskLevel != models.RiskLow {
			continue
		}

		err := capabilities.PutOrgCapability(ctx, &models.OrgCapability{
			OrgID:          orgID,
			CapabilityID:   def.ID,
			Enabled:        true,
			ApprovalPolicy: models.ApprovalInherit,
		})
		if err != nil {
			return fmt.Errorf("failed to enable capability %s: %w", def.ID, err)
		}
		enabled++
	}

	if err := directory.PutSecurityPolicy(ctx, models.DefaultSecurityPolicy(orgID)); err != nil {
		return fmt.Errorf("failed to write default security policy: %w", err)
	}

	log.Info().
		Str("org_id", orgID.String()).
		Int("enabled", enabled).
		Msg("Provisioned organization capability defaults")

	return nil
}
