package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// MinHeartbeatSeconds is the floor applied to heartbeat_seconds.
	MinHeartbeatSeconds = 3

	defaultHeartbeatSeconds = 5
	defaultReconnectSeconds = 2
	defaultTTLSeconds       = 60
	defaultHistorySize      = 200
	defaultListingCapacity  = 512
	defaultPollEntries      = 25
	defaultLoggerPort       = 1100
	defaultLookupTimeout    = 5
	defaultHTTPListen       = ":8080"
	defaultMQTTPort         = 1883
	defaultMQTTTopic        = "n3fjpmap/events"
	defaultRecorderLimit    = 100
	defaultLogRetentionDays = 7
)

// Config is the complete map relay configuration.
type Config struct {
	Connections      []ConnectionConfig `yaml:"connections"`
	Map              MapConfig          `yaml:"map"`
	HeartbeatSeconds int                `yaml:"heartbeat_seconds"`
	ReconnectSeconds int                `yaml:"reconnect_seconds"`
	Lookup           LookupConfig       `yaml:"lookup"`
	Data             DataConfig         `yaml:"data"`
	HTTP             HTTPConfig         `yaml:"http"`
	MQTT             MQTTConfig         `yaml:"mqtt"`
	Recorder         RecorderConfig     `yaml:"recorder"`
	Logging          LoggingConfig      `yaml:"logging"`
}

// ConnectionConfig describes one logging-program API endpoint.
type ConnectionConfig struct {
	Name        string `yaml:"name"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	PollSeconds int    `yaml:"poll_seconds"`
	PollEntries int    `yaml:"poll_entries"`
}

// MapConfig controls what is drawn and how.
type MapConfig struct {
	TTLSeconds           int             `yaml:"ttl_seconds"`
	BandFilter           []string        `yaml:"band_filter"`
	ModeFilter           []string        `yaml:"mode_filter"`
	WFDMode              bool            `yaml:"wfd_mode"`
	PreferSection        bool            `yaml:"prefer_section"`
	PrimaryStation       string          `yaml:"primary_station"`
	Stations             []StationPreset `yaml:"stations"`
	DomesticCountries    []string        `yaml:"domestic_countries"`
	HistorySize          int             `yaml:"history_size"`
	ListingDedupCapacity int             `yaml:"listing_dedup_capacity"`
}

// StationPreset is a statically known station location, by grid or lat/lon.
type StationPreset struct {
	Name string   `yaml:"name"`
	Grid string   `yaml:"grid"`
	Lat  *float64 `yaml:"lat"`
	Lon  *float64 `yaml:"lon"`
}

// LookupConfig holds callbook credentials. Empty username disables lookups.
type LookupConfig struct {
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Agent          string `yaml:"agent"`
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// DataConfig points at the reference data files.
type DataConfig struct {
	Sections  string `yaml:"sections"`
	Countries string `yaml:"countries"`
	States    string `yaml:"states"`
	CTY       string `yaml:"cty"`
}

// HTTPConfig controls the publication listener.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// MQTTConfig controls the optional MQTT republisher.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// RecorderConfig controls the optional SQLite path recorder.
type RecorderConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Path         string `yaml:"path"`
	PerBandLimit int    `yaml:"per_band_limit"`
}

// LoggingConfig controls the daily log file sink.
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads a YAML file, or every *.yaml/*.yml file of a directory merged
// in name order, then applies defaults and validates the result.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	files := []string{path}
	if info.IsDir() {
		files, err = yamlFiles(path)
		if err != nil {
			return nil, err
		}
	}
	merged := map[string]any{}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", file, err)
		}
		mergeMaps(merged, doc)
	}
	data, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}
	return Parse(data)
}

// Parse decodes one YAML document, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	var errs []error
	nonNegative := func(name string, v int) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0 (got %d)", name, v))
		}
	}
	nonNegative("heartbeat_seconds", c.HeartbeatSeconds)
	nonNegative("reconnect_seconds", c.ReconnectSeconds)
	nonNegative("map.ttl_seconds", c.Map.TTLSeconds)
	nonNegative("map.history_size", c.Map.HistorySize)
	nonNegative("map.listing_dedup_capacity", c.Map.ListingDedupCapacity)
	nonNegative("lookup.timeout_seconds", c.Lookup.TimeoutSeconds)
	nonNegative("recorder.per_band_limit", c.Recorder.PerBandLimit)
	nonNegative("logging.retention_days", c.Logging.RetentionDays)

	if c.HeartbeatSeconds == 0 {
		c.HeartbeatSeconds = defaultHeartbeatSeconds
	}
	if c.HeartbeatSeconds < MinHeartbeatSeconds {
		c.HeartbeatSeconds = MinHeartbeatSeconds
	}
	if c.ReconnectSeconds == 0 {
		c.ReconnectSeconds = defaultReconnectSeconds
	}
	if len(c.Connections) == 0 {
		c.Connections = []ConnectionConfig{{Name: "default", Host: "127.0.0.1", Port: defaultLoggerPort}}
	}
	seen := make(map[string]struct{}, len(c.Connections))
	for i := range c.Connections {
		conn := &c.Connections[i]
		conn.Name = strings.TrimSpace(conn.Name)
		if conn.Name == "" {
			conn.Name = fmt.Sprintf("conn%d", i+1)
		}
		if _, dup := seen[conn.Name]; dup {
			errs = append(errs, fmt.Errorf("connections: duplicate name %q", conn.Name))
		}
		seen[conn.Name] = struct{}{}
		if strings.TrimSpace(conn.Host) == "" {
			conn.Host = "127.0.0.1"
		}
		if conn.Port == 0 {
			conn.Port = defaultLoggerPort
		}
		if conn.Port < 0 || conn.Port > 65535 {
			errs = append(errs, fmt.Errorf("connections[%s].port out of range (got %d)", conn.Name, conn.Port))
		}
		nonNegative("connections["+conn.Name+"].poll_seconds", conn.PollSeconds)
		if conn.PollEntries <= 0 {
			conn.PollEntries = defaultPollEntries
		}
	}

	if c.Map.TTLSeconds == 0 {
		c.Map.TTLSeconds = defaultTTLSeconds
	}
	if c.Map.HistorySize == 0 {
		c.Map.HistorySize = defaultHistorySize
	}
	if c.Map.ListingDedupCapacity == 0 {
		c.Map.ListingDedupCapacity = defaultListingCapacity
	}
	if c.Map.DomesticCountries == nil {
		c.Map.DomesticCountries = []string{"United States", "Canada"}
	}
	c.Map.ModeFilter = upperAll(c.Map.ModeFilter)
	for i, st := range c.Map.Stations {
		if strings.TrimSpace(st.Name) == "" {
			errs = append(errs, fmt.Errorf("map.stations[%d]: name is required", i))
			continue
		}
		hasGrid := strings.TrimSpace(st.Grid) != ""
		hasLatLon := st.Lat != nil && st.Lon != nil
		if !hasGrid && !hasLatLon {
			errs = append(errs, fmt.Errorf("map.stations[%s]: grid or lat/lon is required", st.Name))
		}
	}

	if c.Lookup.TimeoutSeconds == 0 {
		c.Lookup.TimeoutSeconds = defaultLookupTimeout
	}
	if strings.TrimSpace(c.HTTP.Listen) == "" {
		c.HTTP.Listen = defaultHTTPListen
	}
	if c.MQTT.Enabled {
		if strings.TrimSpace(c.MQTT.Broker) == "" {
			errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
		}
		if c.MQTT.Port == 0 {
			c.MQTT.Port = defaultMQTTPort
		}
		if strings.TrimSpace(c.MQTT.Topic) == "" {
			c.MQTT.Topic = defaultMQTTTopic
		}
	}
	if c.Recorder.Enabled && strings.TrimSpace(c.Recorder.Path) == "" {
		c.Recorder.Path = "data/paths.db"
	}
	if c.Recorder.PerBandLimit == 0 {
		c.Recorder.PerBandLimit = defaultRecorderLimit
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = defaultLogRetentionDays
	}
	return errors.Join(errs...)
}

// Print displays the configuration.
func (c *Config) Print() {
	for _, conn := range c.Connections {
		poll := "off"
		if conn.PollSeconds > 0 {
			poll = fmt.Sprintf("every %ds, %d entries", conn.PollSeconds, conn.PollEntries)
		}
		fmt.Printf("Logger %s: %s:%d (catch-up poll %s)\n", conn.Name, conn.Host, conn.Port, poll)
	}
	fmt.Printf("Heartbeat: %ds, reconnect delay: %ds\n", c.HeartbeatSeconds, c.ReconnectSeconds)
	fmt.Printf("Map: ttl=%ds wfd_mode=%v prefer_section=%v history=%d\n", c.Map.TTLSeconds, c.Map.WFDMode, c.Map.PreferSection, c.Map.HistorySize)
	if len(c.Map.BandFilter) > 0 {
		fmt.Printf("Band filter: %s\n", strings.Join(c.Map.BandFilter, ", "))
	}
	if len(c.Map.ModeFilter) > 0 {
		fmt.Printf("Mode filter: %s\n", strings.Join(c.Map.ModeFilter, ", "))
	}
	if c.Map.PrimaryStation != "" {
		fmt.Printf("Primary station: %s (%d presets)\n", c.Map.PrimaryStation, len(c.Map.Stations))
	}
	if c.Lookup.Username != "" {
		fmt.Printf("Callbook lookups: enabled as %s\n", c.Lookup.Username)
	}
	fmt.Printf("HTTP: %s\n", c.HTTP.Listen)
	if c.MQTT.Enabled {
		fmt.Printf("MQTT: %s:%d (topic: %s)\n", c.MQTT.Broker, c.MQTT.Port, c.MQTT.Topic)
	}
	if c.Recorder.Enabled {
		fmt.Printf("Recorder: %s (per band limit %d)\n", c.Recorder.Path, c.Recorder.PerBandLimit)
	}
}

func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no YAML files in config directory %s", dir)
	}
	sort.Strings(files)
	return files, nil
}

// mergeMaps merges src into dst; nested maps merge, other values replace.
func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				mergeMaps(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

func upperAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
