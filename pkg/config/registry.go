package config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/resources"
	"github.com/openfroyo/converge/pkg/resources/firewall"
	"github.com/openfroyo/converge/pkg/resources/schedule"
	"github.com/openfroyo/converge/pkg/resources/textfile"
	"github.com/openfroyo/converge/pkg/transports"
)

// BuildRegistry creates one adapter per configured resource, bound to host.
func BuildRegistry(settings *Settings, host *transports.Host, logger zerolog.Logger) (*resources.Registry, error) {
	registry := resources.NewRegistry()

	for _, rs := range settings.Resources {
		var adapter engine.Adapter

		switch rs.Kind {
		case engine.KindRule:
			adapter = firewall.New(firewall.Config{
				Name:           rs.Name,
				Binary:         rs.Binary,
				AccessKeys:     rs.AccessKeys,
				AccessCritical: rs.AccessCritical,
			}, host.Runner, logger)

		case engine.KindFileBlock:
			a, err := textfile.New(textfile.Config{
				Name:            rs.Name,
				Path:            rs.Path,
				Syntax:          textfile.Syntax(rs.Syntax),
				ValidateCommand: rs.ValidateCommand,
				ReloadCommand:   rs.ReloadCommand,
				AccessCritical:  rs.AccessCritical,
			}, host.FS, host.Runner, logger)
			if err != nil {
				return nil, fmt.Errorf("resource %s: %w", rs.Name, err)
			}
			adapter = a

		case engine.KindJob:
			adapter = schedule.New(schedule.Config{
				Name:           rs.Name,
				User:           rs.User,
				Binary:         rs.Binary,
				AccessCritical: rs.AccessCritical,
			}, host.Runner, logger)

		default:
			return nil, fmt.Errorf("resource %s: unsupported kind %q", rs.Name, rs.Kind)
		}

		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
