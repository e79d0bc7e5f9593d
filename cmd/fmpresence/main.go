// fm-presence - grain storage device presence tracker
//
// fm-presence answers field-device heartbeats over the farm message broker,
// ages out devices that stop sending them, and answers status queries from
// other farm monitor services. Connected devices are recorded in the local
// SQLite device table.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/fm-presence/migrations"

	"github.com/nerrad567/fm-presence/internal/beacon"
	"github.com/nerrad567/fm-presence/internal/broker"
	"github.com/nerrad567/fm-presence/internal/device"
	"github.com/nerrad567/fm-presence/internal/infrastructure/config"
	"github.com/nerrad567/fm-presence/internal/infrastructure/database"
	"github.com/nerrad567/fm-presence/internal/infrastructure/influxdb"
	"github.com/nerrad567/fm-presence/internal/infrastructure/logging"
	"github.com/nerrad567/fm-presence/internal/infrastructure/metrics"
	"github.com/nerrad567/fm-presence/internal/infrastructure/mqtt"
	"github.com/nerrad567/fm-presence/internal/infrastructure/nats"
	"github.com/nerrad567/fm-presence/internal/presence"
	"github.com/nerrad567/fm-presence/internal/supervisor"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// startupCheckTimeout bounds the health check run before the tracker starts.
const startupCheckTimeout = 15 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting fm-presence",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version).With("site", cfg.Site.ID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", db.Path())

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	schema, err := db.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	log.Info("database migrations complete", "schema_version", schema)

	repo := device.NewSQLiteRepository(db.DB)

	dialer, err := newDialer(cfg.Broker, log)
	if err != nil {
		return err
	}

	opts := []presence.Option{presence.WithLogger(log.With("component", "presence"))}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Warn("InfluxDB write error", "error", err)
		})
		opts = append(opts, presence.WithHistory(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	checkCtx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	err = healthCheck(checkCtx, db, dialer, influxClient)
	cancel()
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	tracker := presence.NewService(dialer, repo, presenceConfig(cfg), opts...)

	tree := supervisor.NewTree(log.Logger, supervisor.DefaultTreeConfig())
	tree.AddTracker(supervisor.NewTrackerService(tracker))

	if cfg.Beacon.Enabled {
		b, beaconErr := beacon.New(cfg.Beacon, log.With("component", "beacon"))
		if beaconErr != nil {
			return fmt.Errorf("creating beacon: %w", beaconErr)
		}
		tree.AddEdgeService(supervisor.NewRunnerService("presence-beacon", b))
		log.Info("presence beacon enabled", "target", b.Target())
	}

	if cfg.Metrics.Enabled {
		srv, metricsErr := metrics.NewServer(cfg.Metrics, nil, log.With("component", "metrics"))
		if metricsErr != nil {
			return fmt.Errorf("creating metrics server: %w", metricsErr)
		}
		srv.AddCheck("database", db.HealthCheck)
		srv.AddCheck("broker", trackerCheck(tracker))
		if influxClient != nil {
			srv.AddCheck("influxdb", influxClient.HealthCheck)
		}
		tree.AddEdgeService(supervisor.NewRunnerService("metrics-server", srv))
		log.Info("metrics enabled",
			"addr", fmt.Sprintf("%s:%d", cfg.Metrics.Host, cfg.Metrics.Port),
			"path", cfg.Metrics.Path,
		)
	}

	log.Info("initialisation complete, tracking presence",
		"transport", cfg.Broker.Transport,
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
	)

	if err := tree.Serve(ctx); err != nil {
		return fmt.Errorf("presence tracker: %w", err)
	}

	log.Info("fm-presence stopped")
	return nil
}

// newDialer returns the broker transport named by cfg.Transport.
func newDialer(cfg config.BrokerConfig, log *logging.Logger) (broker.Dialer, error) {
	switch cfg.Transport {
	case config.TransportNATS:
		return nats.NewDialer(cfg, log.With("component", "nats")), nil
	case config.TransportMQTT:
		d, err := mqtt.NewDialer(cfg, log.With("component", "mqtt"))
		if err != nil {
			return nil, fmt.Errorf("creating MQTT dialer: %w", err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown broker transport %q", cfg.Transport)
	}
}

// presenceConfig maps the config file onto tracker settings.
func presenceConfig(cfg *config.Config) presence.Config {
	return presence.Config{
		HeartbeatBinding: broker.Binding{
			Exchange:   cfg.Broker.HeartbeatExchange,
			Kind:       broker.KindDirect,
			RoutingKey: cfg.Broker.HeartbeatRoutingKey,
		},
		StatusBinding: broker.Binding{
			Exchange:   cfg.Broker.MessagesExchange,
			Kind:       broker.KindTopic,
			RoutingKey: cfg.Broker.StatusRoutingKey,
		},
		Lives:          cfg.Presence.HeartbeatLives,
		SweepInterval:  cfg.Presence.SweepInterval,
		ReconnectDelay: cfg.Broker.ReconnectDelay,
	}
}

// healthChecker is implemented by the broker Conns of both transports.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck verifies all infrastructure connections are healthy.
//
// The broker is probed with a throwaway connection; the tracker dials its
// own once it starts.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - dialer: Broker transport to probe
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, dialer broker.Dialer, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	conn, err := dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	defer conn.Close() //nolint:errcheck // Probe connection
	if hc, ok := conn.(healthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("broker: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// trackerCheck reports the running tracker's broker connection state.
func trackerCheck(svc *presence.Service) metrics.CheckFunc {
	return func(context.Context) error {
		t := svc.Current()
		if t == nil {
			return errors.New("tracker not started")
		}
		if state := t.BrokerState(); state != broker.StateConnected {
			return fmt.Errorf("%w: %s", broker.ErrNotConnected, state)
		}
		return nil
	}
}
