package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fgeck/backup-database/internal/models"
)

// Resolve selects the target named id. It has no side effects.
func Resolve(cfg *models.Config, id string) (models.Target, error) {
	if cfg == nil {
		return models.Target{}, fmt.Errorf("%w: configuration is nil", models.ErrConfig)
	}
	if id == "" {
		return models.Target{}, fmt.Errorf("%w: no target given, expected one of [%s]", models.ErrConfig, KnownTargets(cfg))
	}

	target, ok := cfg.Targets[strings.ToLower(id)]
	if !ok {
		return models.Target{}, fmt.Errorf("%w: unknown target %q, expected one of [%s]", models.ErrConfig, id, KnownTargets(cfg))
	}

	return target, nil
}

// KnownTargets returns the sorted, comma separated target identifiers.
func KnownTargets(cfg *models.Config) string {
	ids := cfg.TargetIDs()
	sort.Strings(ids)
	return strings.Join(ids, ", ")
}
