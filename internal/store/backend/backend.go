// Package backend opens the store.Store selected by configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/flexgrid-rsa/internal/config"
	"github.com/signalsfoundry/flexgrid-rsa/internal/logging"
	"github.com/signalsfoundry/flexgrid-rsa/internal/store"
	"github.com/signalsfoundry/flexgrid-rsa/internal/store/postgres"
	"github.com/signalsfoundry/flexgrid-rsa/internal/store/sqlite"
	"github.com/signalsfoundry/flexgrid-rsa/kb"
)

// Open returns the store named by cfg.Store and, when cfg.Topology is set,
// seeds it from that file. Seeding a persistent store that already holds
// the same records fails with store.ErrExists.
func Open(ctx context.Context, cfg config.Config, log logging.Logger) (store.Store, error) {
	log = logging.OrNoop(log)
	var (
		s   store.Store
		err error
	)
	switch cfg.Store {
	case config.StoreMemory, "":
		s = kb.NewKnowledgeBase()
	case config.StoreSQLite:
		s, err = sqlite.Open(ctx, cfg.SQLitePath, log)
	case config.StorePostgres:
		s, err = postgres.New(ctx, cfg.DatabaseDSN, log)
	default:
		err = fmt.Errorf("unknown store %q", cfg.Store)
	}
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "store opened", logging.String("backend", cfg.Store))

	if cfg.Topology == "" {
		return s, nil
	}
	sum, err := store.LoadFile(ctx, s, cfg.Topology)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("seed topology: %w", err)
	}
	log.Info(ctx, "topology seeded",
		logging.String("file", cfg.Topology),
		logging.Int("devices", len(sum.DeviceIDs)),
		logging.Int("endpoints", len(sum.EndpointIDs)),
		logging.Int("links", len(sum.LinkIDs)),
	)
	return s, nil
}
