package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// StationPlaceholder is replaced by a station name in interface patterns
// and command prefixes.
const StationPlaceholder = "{station}"

const (
	SourceIW    = "iw"
	SourceUniFi = "unifi"

	DriverMemory = "memory"
	DriverOVS    = "ovs"
)

const DefaultRetentionDays = 30

type Config struct {
	NATS          NATSConfig       `mapstructure:"nats"`
	MappingPath   string           `mapstructure:"mapping_path"`
	Agent         AgentConfig      `mapstructure:"agent"`
	Controller    ControllerConfig `mapstructure:"controller"`
	Admin         AdminConfig      `mapstructure:"admin"`
	SessionSecret string           `mapstructure:"session_secret"`
	UniFi         UniFiConfig      `mapstructure:"unifi"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type AgentConfig struct {
	Name             string     `mapstructure:"name"`
	Source           string     `mapstructure:"source"` // "iw" or "unifi"
	APs              []APConfig `mapstructure:"aps"`
	CollectInterval  int        `mapstructure:"collect_interval"` // seconds
	ScanInterval     int        `mapstructure:"scan_interval"`    // seconds
	PublishInterval  int        `mapstructure:"publish_interval"` // seconds
	CommandTimeout   int        `mapstructure:"command_timeout"`  // seconds
	StationExec      []string   `mapstructure:"station_exec"`
	StationInterface string     `mapstructure:"station_interface"`
	MetricsAddr      string     `mapstructure:"metrics_addr"`
}

type APConfig struct {
	Name      string `mapstructure:"name" json:"name"`
	DPID      uint64 `mapstructure:"dpid" json:"dpid"`
	Interface string `mapstructure:"interface" json:"interface"`
	SSID      string `mapstructure:"ssid" json:"ssid"`
	MAC       string `mapstructure:"mac" json:"mac"`
}

type ControllerConfig struct {
	StationThreshold int          `mapstructure:"station_threshold"`
	SignalThreshold  float64      `mapstructure:"signal_threshold"`  // dBm
	HandoverCooldown int          `mapstructure:"handover_cooldown"` // seconds
	ListenAddr       string       `mapstructure:"listen_addr"`
	DatabasePath     string       `mapstructure:"database_path"`
	RetentionDays    int          `mapstructure:"retention_days"`
	Fabric           FabricConfig `mapstructure:"fabric"`
}

type FabricConfig struct {
	Driver    string           `mapstructure:"driver"` // "memory" or "ovs"
	Datapaths []DatapathConfig `mapstructure:"datapaths"`
}

type DatapathConfig struct {
	DPID   uint64 `mapstructure:"dpid" json:"dpid"`
	Bridge string `mapstructure:"bridge" json:"bridge"`
}

type AdminConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
}

type UniFiConfig struct {
	ControllerURL string `mapstructure:"controller_url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	SiteID        string `mapstructure:"site_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("mapping_path", "mapping.txt")

	v.SetDefault("agent.source", SourceIW)
	v.SetDefault("agent.collect_interval", 10)
	v.SetDefault("agent.scan_interval", 10)
	v.SetDefault("agent.publish_interval", 20)
	v.SetDefault("agent.command_timeout", 15)
	v.SetDefault("agent.station_interface", StationPlaceholder+"-wlan0")
	v.SetDefault("agent.metrics_addr", ":9101")

	v.SetDefault("controller.station_threshold", 2)
	v.SetDefault("controller.signal_threshold", -90.0)
	v.SetDefault("controller.handover_cooldown", 60)
	v.SetDefault("controller.listen_addr", ":8080")
	v.SetDefault("controller.database_path", "apsteer.db")
	v.SetDefault("controller.retention_days", DefaultRetentionDays)
	v.SetDefault("controller.fabric.driver", DriverMemory)

	v.SetDefault("unifi.site_id", "default")
}

// LoadOrInitialize reads the config file, writing one with defaults and a
// fresh session secret if it does not exist yet.
func LoadOrInitialize(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, err
		}
		cfg.SessionSecret = generateSessionSecret()

		if err := SaveConfig(configPath, &cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.SessionSecret == "" {
		cfg.SessionSecret = generateSessionSecret()
		if err := SaveConfig(configPath, &cfg); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func SaveConfig(configPath string, cfg *Config) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("nats.url", cfg.NATS.URL)
	v.Set("mapping_path", cfg.MappingPath)

	v.Set("agent.name", cfg.Agent.Name)
	v.Set("agent.source", cfg.Agent.Source)
	v.Set("agent.collect_interval", cfg.Agent.CollectInterval)
	v.Set("agent.scan_interval", cfg.Agent.ScanInterval)
	v.Set("agent.publish_interval", cfg.Agent.PublishInterval)
	v.Set("agent.command_timeout", cfg.Agent.CommandTimeout)
	v.Set("agent.station_exec", cfg.Agent.StationExec)
	v.Set("agent.station_interface", cfg.Agent.StationInterface)
	v.Set("agent.metrics_addr", cfg.Agent.MetricsAddr)

	// Lists are written as maps to keep the yaml keys snake_case
	aps := []map[string]interface{}{}
	for _, ap := range cfg.Agent.APs {
		aps = append(aps, map[string]interface{}{
			"name":      ap.Name,
			"dpid":      ap.DPID,
			"interface": ap.Interface,
			"ssid":      ap.SSID,
			"mac":       ap.MAC,
		})
	}
	v.Set("agent.aps", aps)

	v.Set("controller.station_threshold", cfg.Controller.StationThreshold)
	v.Set("controller.signal_threshold", cfg.Controller.SignalThreshold)
	v.Set("controller.handover_cooldown", cfg.Controller.HandoverCooldown)
	v.Set("controller.listen_addr", cfg.Controller.ListenAddr)
	v.Set("controller.database_path", cfg.Controller.DatabasePath)
	v.Set("controller.retention_days", cfg.Controller.RetentionDays)
	v.Set("controller.fabric.driver", cfg.Controller.Fabric.Driver)

	datapaths := []map[string]interface{}{}
	for _, dp := range cfg.Controller.Fabric.Datapaths {
		datapaths = append(datapaths, map[string]interface{}{
			"dpid":   dp.DPID,
			"bridge": dp.Bridge,
		})
	}
	v.Set("controller.fabric.datapaths", datapaths)

	v.Set("admin.username", cfg.Admin.Username)
	v.Set("admin.password_hash", cfg.Admin.PasswordHash)
	v.Set("session_secret", cfg.SessionSecret)

	v.Set("unifi.controller_url", cfg.UniFi.ControllerURL)
	v.Set("unifi.username", cfg.UniFi.Username)
	v.Set("unifi.password", cfg.UniFi.Password)
	v.Set("unifi.site_id", cfg.UniFi.SiteID)

	return v.WriteConfigAs(configPath)
}

// ValidateAgent checks the settings the agent binary needs.
func (c *Config) ValidateAgent() error {
	if c.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if len(c.Agent.APs) == 0 {
		return errors.New("agent.aps must list at least one AP")
	}
	seen := make(map[string]bool)
	for i, ap := range c.Agent.APs {
		if ap.Name == "" {
			return fmt.Errorf("agent.aps[%d]: name is required", i)
		}
		if seen[ap.Name] {
			return fmt.Errorf("agent.aps[%d]: duplicate AP %s", i, ap.Name)
		}
		seen[ap.Name] = true
	}
	switch c.Agent.Source {
	case SourceIW:
	case SourceUniFi:
		if c.UniFi.ControllerURL == "" {
			return errors.New("unifi.controller_url is required for the unifi source")
		}
	default:
		return fmt.Errorf("unknown agent.source %q", c.Agent.Source)
	}
	if c.Agent.CollectInterval <= 0 || c.Agent.ScanInterval <= 0 || c.Agent.PublishInterval <= 0 {
		return errors.New("agent intervals must be positive")
	}
	if c.Agent.PublishInterval < c.Agent.CollectInterval {
		return fmt.Errorf("agent.publish_interval (%ds) must not be shorter than agent.collect_interval (%ds)",
			c.Agent.PublishInterval, c.Agent.CollectInterval)
	}
	return nil
}

// ValidateController checks the settings the controller binary needs.
func (c *Config) ValidateController() error {
	if c.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if c.Controller.StationThreshold < 0 {
		return errors.New("controller.station_threshold must not be negative")
	}
	switch c.Controller.Fabric.Driver {
	case DriverMemory:
	case DriverOVS:
		for i, dp := range c.Controller.Fabric.Datapaths {
			if dp.Bridge == "" {
				return fmt.Errorf("controller.fabric.datapaths[%d]: bridge is required for the ovs driver", i)
			}
		}
	default:
		return fmt.Errorf("unknown controller.fabric.driver %q", c.Controller.Fabric.Driver)
	}
	return nil
}

// APInterface returns the AP's radio interface, "<name>-wlan1" if unset.
func (a APConfig) APInterface() string {
	if a.Interface != "" {
		return a.Interface
	}
	return a.Name + "-wlan1"
}

// StationInterfaceFor expands the station interface pattern.
func (a AgentConfig) StationInterfaceFor(station string) string {
	pattern := a.StationInterface
	if pattern == "" {
		pattern = StationPlaceholder + "-wlan0"
	}
	return strings.ReplaceAll(pattern, StationPlaceholder, station)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (a AgentConfig) CollectEvery() time.Duration { return seconds(a.CollectInterval) }
func (a AgentConfig) ScanEvery() time.Duration    { return seconds(a.ScanInterval) }
func (a AgentConfig) PublishEvery() time.Duration { return seconds(a.PublishInterval) }
func (a AgentConfig) Timeout() time.Duration      { return seconds(a.CommandTimeout) }

func (c ControllerConfig) Cooldown() time.Duration { return seconds(c.HandoverCooldown) }

func (c *Config) IsConfigured() bool {
	return c.Admin.Username != "" && c.Admin.PasswordHash != ""
}

func (c *Config) SetAdminPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	c.Admin.PasswordHash = string(hash)
	return nil
}

func (c *Config) VerifyAdminPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(c.Admin.PasswordHash), []byte(password))
	return err == nil
}

func generateSessionSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// This should never happen with crypto/rand
		panic(err)
	}
	return base64.URLEncoding.EncodeToString(b)
}
