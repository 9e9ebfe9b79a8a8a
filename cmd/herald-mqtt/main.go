// Herald MQTT - peer-to-peer messaging over an MQTT broker
//
// This binary joins the Herald bus as one peer: it connects to the broker,
// announces itself to the other peers of its application, keeps a
// persistent directory of the peers it learns, and logs the messages it
// receives until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/herald-mqtt/migrations"

	"github.com/nerrad567/herald-mqtt/internal/directory"
	"github.com/nerrad567/herald-mqtt/internal/herald"
	"github.com/nerrad567/herald-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/herald-mqtt/internal/infrastructure/database"
	"github.com/nerrad567/herald-mqtt/internal/infrastructure/influxdb"
	"github.com/nerrad567/herald-mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/herald-mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/herald-mqtt/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// startTimeout bounds the broker connection at startup.
	startTimeout = 30 * time.Second

	// healthTimeout bounds the post-start health check.
	healthTimeout = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability. It
// returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Herald MQTT",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"peer_uid", cfg.Peer.UID,
		"app_id", cfg.Peer.AppID,
	)

	local := herald.NewPeer(cfg.Peer.UID, cfg.Peer.Name, cfg.Peer.AppID, cfg.Peer.Groups...)

	// Peer directory, persisted when the database is enabled
	var (
		db   *database.DB
		repo directory.Repository
	)
	if cfg.Database.Enabled {
		db, err = database.Open(database.Config{
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

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", cfg.Database.Path)
		repo = directory.NewSQLiteRepository(db.DB)
	} else {
		log.Info("database disabled, peer directory kept in memory")
	}

	dir := directory.New(local, repo)
	dir.SetLogger(log.Component("directory"))

	// Telemetry (optional)
	var (
		influxClient *influxdb.Client
		telemetry    transport.Telemetry
	)
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxdb.NewTelemetry(influxClient, cfg.Peer.AppID, cfg.Peer.UID)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Transport
	mqttClient := mqtt.NewClient(
		mqtt.WithQoS(byte(cfg.MQTT.QoS)), //nolint:gosec // Validated to 0..2 by config
		mqtt.WithQueueSize(cfg.MQTT.DeliveryQueueSize),
		mqtt.WithLogger(log.Component("mqtt")),
	)

	handshake := directory.NewHandshake(dir, herald.CoreFunc(func(msg *herald.MessageReceived) {
		log.Info("message received",
			"subject", msg.Subject,
			"sender_uid", msg.SenderUID,
			"uid", msg.UID,
		)
	}))
	handshake.SetLogger(log.Component("handshake"))

	tr, err := transport.New(transport.Options{
		Config:    cfg.MQTT,
		Directory: dir,
		Core:      handshake,
		Broker:    mqttClient,
		Logger:    log.Component("transport"),
		Telemetry: telemetry,
	})
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}
	handshake.SetSender(tr)
	dir.RegisterTransport(tr.Directory())
	tr.OnPeerLost(func(peer *herald.Peer) {
		log.Warn("peer connection lost", "peer_uid", peer.UID(), "name", peer.Name())
	})
	// Our last will went out when the session dropped; peers have removed
	// our access and only learn it again from a fresh announcement.
	tr.OnReconnect(func() {
		if err := handshake.Announce(directory.GroupAll); err != nil {
			log.Warn("re-announce after reconnect failed", "error", err)
		}
	})

	if loadErr := dir.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading peer directory: %w", loadErr)
	}

	startCtx, cancelStart := context.WithTimeout(ctx, startTimeout)
	err = tr.Start(startCtx)
	cancelStart()
	if err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	defer stopTransport(tr, handshake, dir, mqttClient, log)

	own, _ := tr.OwnAddress()
	if setErr := dir.SetAccess(local, own); setErr != nil {
		log.Warn("recording own access failed", "error", setErr)
	}
	if announceErr := handshake.Announce(directory.GroupAll); announceErr != nil {
		log.Warn("announce failed", "error", announceErr)
	}

	healthCtx, cancelHealth := context.WithTimeout(ctx, healthTimeout)
	if healthErr := healthCheck(healthCtx, db, mqttClient, influxClient); healthErr != nil {
		log.Warn("health check failed", "error", healthErr)
	}
	cancelHealth()

	log.Info("Herald MQTT started",
		"peer_uid", local.UID(),
		"topic", own.Topic,
		"known_peers", dir.Len(),
		"mqtt_peers", tr.Directory().Len(),
	)

	<-ctx.Done()
	log.Info("shutdown signal received")

	return nil
}

// stopTransport says goodbye, withdraws the local mqtt access and closes
// the broker session.
func stopTransport(tr *transport.Transport, hs *directory.Handshake, dir *directory.Directory, client *mqtt.Client, log *logging.Logger) {
	if err := hs.Bye(directory.GroupAll); err != nil {
		log.Warn("bye failed", "error", err)
	}
	if err := dir.UnsetAccess(dir.LocalPeer(), transport.AccessID); err != nil {
		log.Warn("withdrawing own access failed", "error", err)
	}

	stats := client.Stats()
	log.Info("stopping transport",
		"published", stats.Published,
		"delivered", stats.Delivered,
		"unrouted", stats.Unrouted,
		"queue_dropped", stats.QueueDropped,
	)
	if err := tr.Stop(); err != nil {
		log.Error("error stopping transport", "error", err)
	}
}

// getConfigPath returns the configuration file path from HERALD_CONFIG, or
// the default.
func getConfigPath() string {
	if path := os.Getenv("HERALD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every infrastructure connection. db and
// influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
