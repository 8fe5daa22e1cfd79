package daemon

import (
	"context"
	"fmt"
	"strings"

	"github.com/anstrom/ipsweep/internal/config"
	"github.com/anstrom/ipsweep/internal/db"
	"github.com/anstrom/ipsweep/internal/discovery"
	"github.com/anstrom/ipsweep/internal/jobs"
	"github.com/anstrom/ipsweep/internal/liveness"
	"github.com/anstrom/ipsweep/internal/logging"
	"github.com/anstrom/ipsweep/internal/scanning"
	"github.com/anstrom/ipsweep/internal/services"
)

// Storage is the persistence the daemon and CLI run on: PostgreSQL when a
// database is configured, otherwise process memory.
type Storage interface {
	jobs.Store
	jobs.HostLister
}

// OpenStore returns the configured store. db is nil for the memory store;
// the caller closes it.
func OpenStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (Storage, *db.DB, error) {
	if !cfg.UseDatabase() {
		logger.Info("No database configured, using in-memory store")
		return jobs.NewMemoryStore(), nil, nil
	}
	database, err := db.ConnectAndMigrate(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return db.NewStore(database), database, nil
}

// NewScanner builds the per-host scanner from the engine settings.
func NewScanner(cfg config.EngineConfig) (*scanning.HostScanner, error) {
	var prober liveness.Prober
	if strings.EqualFold(strings.TrimSpace(cfg.LivenessMethod), liveness.MethodTCP) {
		prober = liveness.NewTCPProber(cfg.LivenessPorts)
	} else {
		p, err := liveness.New(cfg.LivenessMethod)
		if err != nil {
			return nil, fmt.Errorf("liveness prober: %w", err)
		}
		prober = p
	}

	classifier := services.NewClassifier(
		services.WithTimeout(cfg.ClassifyTimeout),
		services.WithTLSSniff(cfg.TLSSniff),
		services.WithExtraPorts(cfg.ExtraServices),
	)

	return scanning.NewHostScanner(
		scanning.WithLivenessProber(prober),
		scanning.WithClassifier(classifier),
		scanning.WithNameResolver(scanning.NewDNSResolver(cfg.DNSServer, cfg.DNSTimeout)),
		scanning.WithSNMPProber(services.NewSNMPProbe(cfg.SNMPCommunity)),
	), nil
}

// NewImporter builds the Zabbix importer, or returns nil when external
// discovery is disabled.
func NewImporter(cfg config.DiscoveryConfig, store discovery.HostUpserter, recorder discovery.Recorder,
	logger *logging.Logger) *discovery.Importer {
	if !cfg.Enabled {
		return nil
	}
	opts := []discovery.ImporterOption{discovery.WithImportLogger(logger)}
	if recorder != nil {
		opts = append(opts, discovery.WithImportRecorder(recorder))
	}
	return discovery.NewImporter(discovery.NewZabbixSource(cfg.Zabbix), store, opts...)
}
