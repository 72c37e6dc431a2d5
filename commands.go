package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/zabeloliver/kasa-hub-exporter/kasa-api/kasaHub"
)

var cfg config

var rootCmd = &cobra.Command{
	Use:   "kasa-exporter",
	Short: "Bridge for TP-Link KH100 hubs",
	Long: `kasa-exporter connects to a TP-Link KH100 hub (or mirrors its devices from
Home Assistant), normalizes radiator valves and contact sensors and exports
them to Prometheus, InfluxDB and a websocket stream.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the hub and serve /metrics and /ws",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var influxCmd = &cobra.Command{
	Use:   "influx",
	Short: "Poll the hub and write device states to InfluxDB",
	Args:  cobra.NoArgs,
	RunE:  runInflux,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Refresh once and print all devices",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var setTemperatureCmd = &cobra.Command{
	Use:   "set-temperature <device-id> <celsius>",
	Short: "Set the target temperature of a valve",
	Args:  cobra.ExactArgs(2),
	RunE:  runSetTemperature,
}

var setModeCmd = &cobra.Command{
	Use:       "set-mode <device-id> heat|off",
	Short:     "Switch a valve to heat or off",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(kasaHub.ModeHeat), string(kasaHub.ModeOff)},
	RunE:      runSetMode,
}

var outputFormat string

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "config.yaml", "Path to the config.yaml File.")
	flags.String("host", "", "Address of the hub (hub.host)")
	flags.String("username", "", "TP-Link cloud username (hub.username)")
	flags.String("password", "", "TP-Link cloud password (hub.password)")
	flags.String("source", "", "Device source: kasa or homeassistant (hub.source)")
	flags.String("log-level", "", "Log level: debug, info, warn, error (log.level)")
	viper.BindPFlag("hub.host", flags.Lookup("host"))
	viper.BindPFlag("hub.username", flags.Lookup("username"))
	viper.BindPFlag("hub.password", flags.Lookup("password"))
	viper.BindPFlag("hub.source", flags.Lookup("source"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))

	for _, c := range []*cobra.Command{statusCmd, setTemperatureCmd, setModeCmd} {
		c.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, yaml or json")
	}
	rootCmd.AddCommand(serveCmd, influxCmd, statusCmd, setTemperatureCmd, setModeCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	if err := readConfig(viper.GetViper(), configPath); err != nil {
		return err
	}
	c, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	cfg = c
	initLogger(cfg.Log.Level, cfg.Log.File)
	sugar.Debugf("Configuration from %v", viper.AllSettings())
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	sugar.Info("Starting Kasa-Exporter")
	client := newHubClient(cfg)
	defer client.Disconnect()

	sugar.Info("Creating Metrics-Registry")
	// Create a non-global registry.
	reg := prometheus.NewRegistry()

	sugar.Info("Registering Metrics")
	reg.MustRegister(collectors.NewBuildInfoCollector())
	reg.MustRegister(collectors.NewGoCollector())
	m := NewMetrics(reg)

	stream := newStateStream(ctx, client)
	defer stream.Close()

	client.Poll(ctx, cfg.Hub.ScanInterval, func(states kasaHub.DeviceMap, err error) {
		m.Update(states, err)
		if err == nil {
			stream.Broadcast(states)
		}
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/ws", stream)
	srv := &http.Server{Addr: ":" + cfg.Metrics.Port, Handler: mux}

	errs := make(chan error, 1)
	go func() {
		sugar.Infof("Serving metrics on %s", srv.Addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runInflux(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	sugar.Info("Starting Influx-Exporter")
	client := newHubClient(cfg)
	defer client.Disconnect()

	// Create a new client using an InfluxDB server base URL and an authentication token
	influxClient := influxdb2.NewClient(cfg.InfluxDb.Host, cfg.InfluxDb.Token)
	defer influxClient.Close()
	// Use blocking write client for writes to desired bucket
	influxApi := influxClient.WriteAPIBlocking(cfg.InfluxDb.Org, cfg.InfluxDb.Bucket)

	client.Poll(ctx, cfg.Hub.ScanInterval, func(states kasaHub.DeviceMap, err error) {
		if err != nil {
			return
		}
		if err := writeDeviceStatesToInfluxDB(ctx, influxApi, states); err != nil {
			sugar.Errorf("Writing to InfluxDB failed: %s", err)
		}
	})
	<-ctx.Done()
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := newHubClient(cfg)
	defer client.Disconnect()

	states, err := client.Refresh(cmd.Context())
	if err != nil {
		return err
	}
	return printStates(cmd.OutOrStdout(), states, outputFormat)
}

func runSetTemperature(cmd *cobra.Command, args []string) error {
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid temperature %q: %w", args[1], err)
	}
	client := newHubClient(cfg)
	defer client.Disconnect()

	if err := client.SetTargetTemperature(cmd.Context(), args[0], value); err != nil {
		return err
	}
	return printDevice(cmd, client, args[0])
}

func runSetMode(cmd *cobra.Command, args []string) error {
	mode := kasaHub.HVACMode(args[1])
	if mode != kasaHub.ModeHeat && mode != kasaHub.ModeOff {
		return fmt.Errorf("mode must be heat or off, got %q", args[1])
	}
	client := newHubClient(cfg)
	defer client.Disconnect()

	if err := client.SetMode(cmd.Context(), args[0], mode); err != nil {
		return err
	}
	return printDevice(cmd, client, args[0])
}

// printDevice refreshes after a write and prints the written device.
func printDevice(cmd *cobra.Command, client *kasaHub.Client, id string) error {
	states, err := client.Refresh(cmd.Context())
	if err != nil {
		return err
	}
	s, ok := states[id]
	if !ok {
		return kasaHub.ErrDeviceNotFound
	}
	return printStates(cmd.OutOrStdout(), kasaHub.DeviceMap{id: s}, outputFormat)
}

func printStates(w io.Writer, states kasaHub.DeviceMap, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(deviceEntries(states))
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(deviceEntries(states))
	case "table", "":
		printTable(w, states)
		return nil
	}
	return fmt.Errorf("unknown output format %q", format)
}

func printTable(w io.Writer, states kasaHub.DeviceMap) {
	thermostats := []*kasaHub.ThermostatState{}
	contacts := []*kasaHub.ContactState{}
	for _, s := range maps.Values(states) {
		switch t := s.(type) {
		case *kasaHub.ThermostatState:
			thermostats = append(thermostats, t)
		case *kasaHub.ContactState:
			contacts = append(contacts, t)
		}
	}
	slices.SortFunc(thermostats, func(a, b *kasaHub.ThermostatState) bool { return a.DeviceId < b.DeviceId })
	slices.SortFunc(contacts, func(a, b *kasaHub.ContactState) bool { return a.DeviceId < b.DeviceId })

	if len(thermostats) > 0 {
		fmt.Fprintf(w, "%-20s %-20s %8s %8s %-5s %-8s %7s %s\n", "ID", "NAME", "CURRENT", "TARGET", "MODE", "ACTION", "BATTERY", "REACHABLE")
		for _, t := range thermostats {
			fmt.Fprintf(w, "%-20s %-20s %8s %8s %-5s %-8s %7s %s\n", t.DeviceId, t.Name,
				floatOrNA(t.CurrentTemperature), floatOrNA(t.TargetTemperature), t.Mode, t.Action, intOrNA(t.Battery), boolStatus(t.Reachable))
		}
	}
	if len(contacts) > 0 {
		if len(thermostats) > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%-20s %-20s %-6s %7s %s\n", "ID", "NAME", "STATE", "BATTERY", "REACHABLE")
		for _, c := range contacts {
			state := "closed"
			if c.IsOpen {
				state = "open"
			}
			fmt.Fprintf(w, "%-20s %-20s %-6s %7s %s\n", c.DeviceId, c.Name, state, intOrNA(c.Battery), boolStatus(c.Reachable))
		}
	}
}

func floatOrNA(f *float64) string {
	if f == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*f, 'f', 1, 64)
}

func intOrNA(i *int) string {
	if i == nil {
		return "n/a"
	}
	return strconv.Itoa(*i) + "%"
}

func boolStatus(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
