package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/scooter-ble/internal/ble"
	"github.com/chaz8081/scooter-ble/internal/ble/register"
	"github.com/chaz8081/scooter-ble/internal/config"
	"github.com/chaz8081/scooter-ble/internal/logging"
)

// options holds the parsed command line.
type options struct {
	configPath string
	device     string
	logLevel   string
	sets       []string
	registers  map[string]*bool // one flag per catalog entry
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd, _ := newCommand()
	return cmd
}

func newCommand() (*cobra.Command, *options) {
	opts := &options{registers: make(map[string]*bool)}

	cmd := &cobra.Command{
		Use:   "scooter-ble",
		Short: "Read and write scooter registers over an encrypted BLE session",
		Long: `scooter-ble connects to a scooter over Bluetooth LE, establishes an
encrypted session, and reads or writes its registers.

Without register flags it dumps every readable register.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "path to config file (default: ~/.config/scooter-ble/config.yaml)")
	f.StringVar(&opts.device, "device", "", "scooter address; overrides ble.device")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error; overrides log_level")
	f.StringArrayVar(&opts.sets, "set", nil, "write a register, as name=value (repeatable)")
	for _, r := range register.Catalog() {
		usage := r.Description
		if !r.Readable() {
			usage += " (write)"
		}
		opts.registers[r.Name] = f.Bool(r.Name, false, usage)
	}
	f.SortFlags = false

	return cmd, opts
}

func run(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if opts.device != "" {
		cfg.BLE.Device = opts.device
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	logging.Init(config.ParseLogLevel(cfg.LogLevel), cfg.LogFormat)

	p, err := buildPlan(opts)
	if err != nil {
		return err
	}
	peer, err := cfg.PeerKeyBytes()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter := ble.NewTinygoAdapter()
	device, name := cfg.BLE.Device, cfg.BLE.DeviceName
	if device == "" {
		slog.Info("[BLE] Scanning for scooters", "timeout", cfg.BLE.ScanTimeout)
		d, err := ble.FindDevice(adapter, cfg.BLE.ScanTimeout, name)
		if err != nil {
			return err
		}
		slog.Info("[BLE] Found scooter", "name", d.Name, "address", d.Address, "rssi", d.RSSI)
		device = d.Address
		if name == "" {
			name = d.Name
		}
	}

	client := ble.NewClient(ble.NewAdapterDialer(adapter), ble.ClientOptions{
		MTU:               cfg.BLE.MTU,
		HandshakeTimeout:  cfg.Session.HandshakeTimeout,
		RequestTimeout:    cfg.Session.RequestTimeout,
		KeepaliveInterval: cfg.Session.KeepaliveInterval,
		QueueSize:         cfg.Session.QueueSize,
		NewCrypto:         ble.NoiseInitiator(name, peer),
	})
	if err := client.Connect(ctx, device); err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(dctx); err != nil {
			slog.Debug("[BLE] Disconnect", "error", err)
		}
	}()

	return p.execute(ctx, cmd.OutOrStdout(), client)
}

// loadConfig loads the config from the specified path, or from the
// default config path, writing a commented default file there on first run.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	written, err := config.WriteDefault()
	if err != nil {
		slog.Warn("Could not write default config", "error", err)
	} else if written != "" {
		slog.Info("Wrote default config", "path", written)
	}
	return config.LoadOrDefault(config.DefaultConfigPath())
}
