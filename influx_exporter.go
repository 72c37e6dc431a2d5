package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zabeloliver/kasa-hub-exporter/kasa-api/kasaHub"
)

// recordWriter is the part of api.WriteAPIBlocking the exporter uses.
type recordWriter interface {
	WriteRecord(ctx context.Context, line ...string) error
}

// escapeTag escapes a tag value for line protocol.
func escapeTag(s string) string {
	return strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `).Replace(s)
}

// influxLines renders one line per device, timestamped with ts.
func influxLines(states kasaHub.DeviceMap, ts time.Time) []string {
	lines := []string{}
	stamp := fmt.Sprint(ts.UTC().UnixNano())
	for _, id := range kasaHub.SortedIds(states) {
		var measurement string
		fields := []string{}
		var name string
		var reachable bool
		var battery *int

		switch s := states[id].(type) {
		case *kasaHub.ThermostatState:
			measurement, name, reachable, battery = "hub_thermostat", s.Name, s.Reachable, s.Battery
			if s.CurrentTemperature != nil {
				fields = append(fields, fmt.Sprintf("temperature=%f", *s.CurrentTemperature))
			}
			if s.TargetTemperature != nil {
				fields = append(fields, fmt.Sprintf("target=%f", *s.TargetTemperature))
			}
			if s.Humidity != nil {
				fields = append(fields, fmt.Sprintf("humidity=%f", *s.Humidity))
			}
			fields = append(fields, fmt.Sprintf("heating=%du", int(boolGauge(s.Action == kasaHub.ActionHeating))))
			fields = append(fields, fmt.Sprintf("mode=%q", s.Mode))
		case *kasaHub.ContactState:
			measurement, name, reachable, battery = "hub_contact", s.Name, s.Reachable, s.Battery
			fields = append(fields, fmt.Sprintf("open=%du", int(boolGauge(s.IsOpen))))
		default:
			continue
		}
		if battery != nil {
			fields = append(fields, fmt.Sprintf("battery=%di", *battery))
		}
		fields = append(fields, fmt.Sprintf("reachable=%t", reachable))

		lines = append(lines, fmt.Sprintf("%s,deviceId=%s,name=%s %s %s",
			measurement, escapeTag(id), escapeTag(name), strings.Join(fields, ","), stamp))
	}
	return lines
}

func writeDeviceStatesToInfluxDB(ctx context.Context, w recordWriter, states kasaHub.DeviceMap) error {
	lines := influxLines(states, time.Now())
	if len(lines) == 0 {
		return nil
	}
	for _, l := range lines {
		sugar.Debug(l)
	}
	return w.WriteRecord(ctx, lines...)
}
