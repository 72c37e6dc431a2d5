package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zabeloliver/kasa-hub-exporter/ha-proxy/haProxy"
	"github.com/zabeloliver/kasa-hub-exporter/kasa-api/kasaHub"
)

const (
	SourceKasa          = "kasa"
	SourceHomeAssistant = "homeassistant"
)

type config struct {
	Hub struct {
		Host         string
		Username     string
		Password     string
		ScanInterval time.Duration
		ActionPolicy kasaHub.ActionPolicy
		Timeout      time.Duration
		Source       string
	}
	HomeAssistant struct {
		Url      string
		Token    string
		Climate  string
		Contacts []string
		Events   bool
	}
	Metrics struct {
		Port string
	}
	InfluxDb struct {
		Host   string
		Token  string
		Org    string
		Bucket string
	}
	Log struct {
		Level string
		File  string
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("hub.host", "localhost")
	v.SetDefault("hub.username", "")
	v.SetDefault("hub.password", "")
	v.SetDefault("hub.scaninterval", 30)
	v.SetDefault("hub.actionpolicy", string(kasaHub.ActionPolicyIdle))
	v.SetDefault("hub.timeout", 10)
	v.SetDefault("hub.source", SourceKasa)
	v.SetDefault("homeassistant.url", "http://localhost:8123")
	v.SetDefault("homeassistant.token", "")
	v.SetDefault("homeassistant.climate", "")
	v.SetDefault("homeassistant.contacts", "")
	v.SetDefault("homeassistant.events", true)
	v.SetDefault("metrics.port", 9123)
	v.SetDefault("influxdb.host", "http://localhost:8086")
	v.SetDefault("influxdb.token", "")
	v.SetDefault("influxdb.org", "")
	v.SetDefault("influxdb.bucket", "kasa")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "kasa_exporter.log")
}

// readConfig applies defaults, KASA_* environment variables and the yaml file
// at path. A missing file is not an error.
func readConfig(v *viper.Viper, path string) error {
	setDefaults(v)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.SetEnvPrefix("kasa")
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	cfg, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			sugar.Infof("No configuration file found at %s. Using Default config", path)
			return nil
		}
		return err
	}
	if err := v.ReadConfig(bytes.NewBuffer(cfg)); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return nil
}

func loadConfig(v *viper.Viper) (config, error) {
	c := config{}
	c.Hub.Host = v.GetString("hub.host")
	c.Hub.Username = v.GetString("hub.username")
	c.Hub.Password = v.GetString("hub.password")
	c.Hub.ScanInterval = kasaHub.ClampScanInterval(time.Duration(v.GetInt("hub.scaninterval")) * time.Second)
	c.Hub.Timeout = time.Duration(v.GetInt("hub.timeout")) * time.Second
	c.Hub.Source = strings.ToLower(v.GetString("hub.source"))

	policy, err := kasaHub.ParseActionPolicy(v.GetString("hub.actionpolicy"))
	if err != nil {
		return c, err
	}
	c.Hub.ActionPolicy = policy

	switch c.Hub.Source {
	case SourceKasa, SourceHomeAssistant:
	default:
		return c, fmt.Errorf("unknown hub source %q", c.Hub.Source)
	}

	c.HomeAssistant.Url = v.GetString("homeassistant.url")
	c.HomeAssistant.Token = v.GetString("homeassistant.token")
	c.HomeAssistant.Climate = v.GetString("homeassistant.climate")
	c.HomeAssistant.Contacts = haProxy.ParseEntityList(v.GetString("homeassistant.contacts"))
	c.HomeAssistant.Events = v.GetBool("homeassistant.events")
	if c.Hub.Source == SourceHomeAssistant && c.HomeAssistant.Token == "" {
		return c, errors.New("homeassistant.token is required for the homeassistant source")
	}

	c.Metrics.Port = v.GetString("metrics.port")
	c.InfluxDb.Host = v.GetString("influxdb.host")
	c.InfluxDb.Token = v.GetString("influxdb.token")
	c.InfluxDb.Org = v.GetString("influxdb.org")
	c.InfluxDb.Bucket = v.GetString("influxdb.bucket")
	c.Log.Level = v.GetString("log.level")
	c.Log.File = v.GetString("log.file")
	return c, nil
}

// newHubClient builds the client for the configured source.
func newHubClient(c config) *kasaHub.Client {
	options := []kasaHub.Option{
		kasaHub.WithActionPolicy(c.Hub.ActionPolicy),
		kasaHub.WithLogger(sugar),
	}
	if c.Hub.Source == SourceHomeAssistant {
		d := haProxy.Discoverer{
			Token:     c.HomeAssistant.Token,
			Climate:   c.HomeAssistant.Climate,
			Contacts:  c.HomeAssistant.Contacts,
			Subscribe: c.HomeAssistant.Events,
			Timeout:   c.Hub.Timeout,
			Logger:    sugar,
		}
		return kasaHub.NewClient(c.HomeAssistant.Url, d, options...)
	}

	options = append(options, kasaHub.WithCredentials(&kasaHub.Credentials{
		Username: c.Hub.Username,
		Password: c.Hub.Password,
	}))
	d := kasaHub.KasaDiscoverer{Timeout: c.Hub.Timeout, Logger: sugar}
	return kasaHub.NewClient(c.Hub.Host, d, options...)
}
