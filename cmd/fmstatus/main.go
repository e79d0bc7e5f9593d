// fmstatus queries the presence tracker and manages the local device table.
//
// Usage:
//
//	fmstatus [-timeout 5s] <device-id>          ask the tracker for a device's presence
//	fmstatus -provision -name "Bin 7" <device-id>  add a device to the local store
//	fmstatus -list                               list provisioned devices
//
// The config file is read from FMPRESENCE_CONFIG (default configs/config.yaml).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	_ "github.com/nerrad567/fm-presence/migrations"

	"github.com/nerrad567/fm-presence/internal/broker"
	"github.com/nerrad567/fm-presence/internal/device"
	"github.com/nerrad567/fm-presence/internal/infrastructure/config"
	"github.com/nerrad567/fm-presence/internal/infrastructure/database"
	"github.com/nerrad567/fm-presence/internal/infrastructure/mqtt"
	"github.com/nerrad567/fm-presence/internal/infrastructure/nats"
	"github.com/nerrad567/fm-presence/internal/presence"
)

// errUsage is returned for bad command lines; the flag set has already
// printed the reason.
var errUsage = errors.New("usage error")

type options struct {
	timeout   time.Duration
	provision bool
	list      bool
	name      string
	location  string
	deviceID  string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("fmstatus", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.DurationVar(&o.timeout, "timeout", 0, "how long to wait for the tracker (default presence.status_timeout)")
	fs.BoolVar(&o.provision, "provision", false, "add the device to the local store instead of querying")
	fs.BoolVar(&o.list, "list", false, "list provisioned devices")
	fs.StringVar(&o.name, "name", "", "device name for -provision")
	fs.StringVar(&o.location, "location", "", "device location for -provision")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: fmstatus [flags] <device-id>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return o, errUsage
	}

	if o.list {
		if fs.NArg() != 0 || o.provision {
			fs.Usage()
			return o, errUsage
		}
		return o, nil
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return o, errUsage
	}
	o.deviceID = fs.Arg(0)
	if o.provision && o.name == "" {
		o.name = o.deviceID
	}
	return o, nil
}

// run executes one command. Output goes to stdout, usage to stderr.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	switch {
	case o.list:
		return withRepository(ctx, cfg, func(repo *device.SQLiteRepository) error {
			return listDevices(ctx, repo, stdout)
		})
	case o.provision:
		return withRepository(ctx, cfg, func(repo *device.SQLiteRepository) error {
			d := &device.Device{DeviceID: o.deviceID, Name: o.name, Location: o.location, UserConfigured: true}
			if err := repo.Create(ctx, d); err != nil {
				return fmt.Errorf("provisioning %s: %w", o.deviceID, err)
			}
			fmt.Fprintf(stdout, "provisioned %s (%s)\n", d.DeviceID, d.ID)
			return nil
		})
	default:
		timeout := o.timeout
		if timeout <= 0 {
			timeout = cfg.Presence.StatusTimeout
		}
		status, err := queryStatus(ctx, cfg, o.deviceID, timeout)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, status)
		return nil
	}
}

func withRepository(ctx context.Context, cfg *config.Config, fn func(*device.SQLiteRepository) error) error {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // Short-lived command

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return fn(device.NewSQLiteRepository(db.DB))
}

func listDevices(ctx context.Context, repo *device.SQLiteRepository, w io.Writer) error {
	devices, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE ID\tNAME\tLOCATION\tCONNECTED")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", d.DeviceID, d.Name, d.Location, d.Connected)
	}
	return tw.Flush()
}

func queryStatus(ctx context.Context, cfg *config.Config, deviceID string, timeout time.Duration) (string, error) {
	dialer, err := newDialer(cfg.Broker)
	if err != nil {
		return "", err
	}
	conn, err := dialer.Dial(ctx)
	if err != nil {
		return "", fmt.Errorf("connecting to broker: %w", err)
	}
	defer conn.Close() //nolint:errcheck // Short-lived command

	binding := broker.Binding{
		Exchange:   cfg.Broker.MessagesExchange,
		Kind:       broker.KindTopic,
		RoutingKey: cfg.Broker.StatusRoutingKey,
	}
	client := presence.NewStatusClient(conn, binding, timeout, nil)
	return client.DeviceStatus(ctx, deviceID)
}

func newDialer(cfg config.BrokerConfig) (broker.Dialer, error) {
	if cfg.Transport == config.TransportMQTT {
		// A second session with the tracker's client id would evict it.
		cfg.ClientID += "-status-" + uuid.NewString()[:8]
		d, err := mqtt.NewDialer(cfg, nil)
		if err != nil {
			return nil, fmt.Errorf("creating MQTT dialer: %w", err)
		}
		return d, nil
	}
	return nats.NewDialer(cfg, nil), nil
}
