package main

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zabeloliver/kasa-hub-exporter/kasa-api/kasaHub"
)

type metrics struct {
	currentTemperature *prometheus.GaugeVec
	targetTemperature  *prometheus.GaugeVec
	humidity           *prometheus.GaugeVec
	heating            *prometheus.GaugeVec
	valveOn            *prometheus.GaugeVec
	contactOpen        *prometheus.GaugeVec
	batteryLevel       *prometheus.GaugeVec
	reachable          *prometheus.GaugeVec
	refreshErrors      prometheus.Counter
}

var deviceLabels = []string{"id", "name"}

func NewMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		currentTemperature: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hub_current_temperature",
				Help: "Current temperature in degree celsius.",
			},
			deviceLabels),
		targetTemperature: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hub_target_temperature",
				Help: "Target temperature of a valve in degree celsius.",
			},
			deviceLabels,
		),
		humidity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hub_humidity",
				Help: "Current humidity in percent.",
			},
			deviceLabels,
		),
		heating: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hub_heating",
				Help: "1 while a valve is heating.",
			},
			deviceLabels,
		),
		valveOn: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hub_valve_on",
				Help: "1 while a valve is in heat mode, 0 when off.",
			},
			deviceLabels,
		),
		contactOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hub_contact_open",
				Help: "1 while a door or window contact is open.",
			},
			deviceLabels,
		),
		batteryLevel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hub_battery_level",
				Help: "Battery level in percent.",
			},
			deviceLabels,
		),
		reachable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hub_reachable",
				Help: "1 while the hub can reach the device.",
			},
			deviceLabels,
		),
		refreshErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hub_refresh_errors_total",
				Help: "Number of failed hub refreshes.",
			},
		),
	}
	reg.MustRegister(m.currentTemperature)
	reg.MustRegister(m.targetTemperature)
	reg.MustRegister(m.humidity)
	reg.MustRegister(m.heating)
	reg.MustRegister(m.valveOn)
	reg.MustRegister(m.contactOpen)
	reg.MustRegister(m.batteryLevel)
	reg.MustRegister(m.reachable)
	reg.MustRegister(m.refreshErrors)
	return m
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// isValve tells valves from climate sensors. Sensors have no setpoint and
// always read heat/idle; a valve that is off may report no setpoint either.
func isValve(s *kasaHub.ThermostatState) bool {
	if s.TargetTemperature != nil || s.Mode != kasaHub.ModeHeat || s.Action != kasaHub.ActionIdle {
		return true
	}
	return strings.HasPrefix(strings.ToUpper(s.Model), "KE")
}

func (m *metrics) reset() {
	for _, g := range []*prometheus.GaugeVec{
		m.currentTemperature, m.targetTemperature, m.humidity, m.heating,
		m.valveOn, m.contactOpen, m.batteryLevel, m.reachable,
	} {
		g.Reset()
	}
}

// Update replaces all gauges with the readings of states. Absent readings
// leave no series behind.
func (m *metrics) Update(states kasaHub.DeviceMap, err error) {
	if err != nil {
		m.refreshErrors.Inc()
		return
	}
	m.reset()
	for _, id := range kasaHub.SortedIds(states) {
		switch s := states[id].(type) {
		case *kasaHub.ThermostatState:
			if s.CurrentTemperature != nil {
				m.currentTemperature.WithLabelValues(id, s.Name).Set(*s.CurrentTemperature)
			}
			if s.TargetTemperature != nil {
				m.targetTemperature.WithLabelValues(id, s.Name).Set(*s.TargetTemperature)
			}
			if isValve(s) {
				m.heating.WithLabelValues(id, s.Name).Set(boolGauge(s.Action == kasaHub.ActionHeating))
				m.valveOn.WithLabelValues(id, s.Name).Set(boolGauge(s.Mode == kasaHub.ModeHeat))
			}
			if s.Humidity != nil {
				m.humidity.WithLabelValues(id, s.Name).Set(*s.Humidity)
			}
			if s.Battery != nil {
				m.batteryLevel.WithLabelValues(id, s.Name).Set(float64(*s.Battery))
			}
			m.reachable.WithLabelValues(id, s.Name).Set(boolGauge(s.Reachable))
			sugar.Debugf("%s %s Temperature: %v, Target: %v, Action: %s", id, s.Name, s.CurrentTemperature, s.TargetTemperature, s.Action)
		case *kasaHub.ContactState:
			m.contactOpen.WithLabelValues(id, s.Name).Set(boolGauge(s.IsOpen))
			if s.Battery != nil {
				m.batteryLevel.WithLabelValues(id, s.Name).Set(float64(*s.Battery))
			}
			m.reachable.WithLabelValues(id, s.Name).Set(boolGauge(s.Reachable))
			sugar.Debugf("%s %s Open: %t", id, s.Name, s.IsOpen)
		}
	}
}
