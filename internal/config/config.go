// Package config loads the three-document YAML configuration stream (main
// config, hosts, templates). Environment overrides follow the same
// NMS_<SECTION>_<KEY> pattern applied uniformly across every top-level
// section.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nmslite/nmslite/internal/domain"
)

// Preferences is the main config's operator-preference block.
type Preferences struct {
	RefreshHostsOnStart bool     `yaml:"refresh_hosts_on_start"`
	UseRemoteEditor     bool     `yaml:"use_remote_editor"`
	SudoRemoteEditor    bool     `yaml:"sudo_remote_editor"`
	RemoteTextEditor    string   `yaml:"remote_text_editor"`
	TextEditor          string   `yaml:"text_editor"`
	Terminal            string   `yaml:"terminal"`
	TerminalArgs        []string `yaml:"terminal_args"`
}

// CacheSettingsDoc is the main config's cache_settings block (seconds on the
// wire, converted to time.Duration by the accessor methods below).
type CacheSettingsDoc struct {
	EnableCache            bool `yaml:"enable_cache"`
	ProvideInitialValue    bool `yaml:"provide_initial_value"`
	InitialValueTimeToLive int  `yaml:"initial_value_time_to_live"`
	PreferCache            bool `yaml:"prefer_cache"`
	TimeToLive             int  `yaml:"time_to_live"`
}

func (c CacheSettingsDoc) InitialValueTTL() time.Duration {
	return time.Duration(c.InitialValueTimeToLive) * time.Second
}

func (c CacheSettingsDoc) TTL() time.Duration {
	return time.Duration(c.TimeToLive) * time.Second
}

// Category is one named entry of display_options.categories.
type Category struct {
	Priority            uint16   `yaml:"priority"`
	Icon                string   `yaml:"icon,omitempty"`
	Color               string   `yaml:"color,omitempty"`
	CommandOrder        []string `yaml:"command_order,omitempty"`
	MonitorOrder        []string `yaml:"monitor_order,omitempty"`
	CollapsibleCommands bool     `yaml:"collapsible_commands,omitempty"`
}

// DisplayOptionsDoc is the main config's display_options block. A monitor or
// command's category is derived from which category's monitor_order /
// command_order lists its id — there is no separate per-module category
// field.
type DisplayOptionsDoc struct {
	GroupMultivalue bool                `yaml:"group_multivalue"`
	Categories      map[string]Category `yaml:"categories"`
}

// ServerConfig is the Frontend Bridge's HTTP listener configuration.
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
}

func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

// AuthConfig carries the JWT/admin/encryption secrets used by the Frontend
// Bridge and the credential service.
type AuthConfig struct {
	AdminUsername  string `yaml:"admin_username"`
	AdminPassword  string `yaml:"admin_password"`
	JWTSecret      string `yaml:"jwt_secret"`
	JWTExpiryHours int    `yaml:"jwt_expiry_hours"`
	EncryptionKey  string `yaml:"encryption_key"`
}

func (a AuthConfig) JWTExpiry() time.Duration { return time.Duration(a.JWTExpiryHours) * time.Hour }

// PoolConfig carries pgxpool tuning knobs.
type PoolConfig struct {
	MaxConns                 int `yaml:"max_conns"`
	MinConns                 int `yaml:"min_conns"`
	MaxConnLifetimeMinutes   int `yaml:"max_conn_lifetime_minutes"`
	MaxConnIdleTimeMinutes   int `yaml:"max_conn_idle_time_minutes"`
	HealthCheckPeriodSeconds int `yaml:"health_check_period_seconds"`
}

// DatabaseConfig is the History Store's Postgres connection configuration.
type DatabaseConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	User            string     `yaml:"user"`
	Password        string     `yaml:"password"`
	DBName          string     `yaml:"dbname"`
	SSLMode         string     `yaml:"ssl_mode"`
	BatchSize       int        `yaml:"batch_size"`
	FlushIntervalMS int        `yaml:"flush_interval_ms"`
	Pool            PoolConfig `yaml:"pool"`
}

func (d DatabaseConfig) FlushInterval() time.Duration {
	return time.Duration(d.FlushIntervalMS) * time.Millisecond
}

// ConnString builds the pgx connection URL.
func (d DatabaseConfig) ConnString() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	query := url.Values{}
	if d.SSLMode != "" {
		query.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// LoggingConfig picks the slog handler and level.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MainConfig is the first of the three documents.
type MainConfig struct {
	Preferences    Preferences       `yaml:"preferences"`
	DisplayOptions DisplayOptionsDoc `yaml:"display_options"`
	CacheSettings  CacheSettingsDoc  `yaml:"cache_settings"`

	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ModuleRef is one entry of a host or template's monitors/commands map.
type ModuleRef struct {
	Version    string            `yaml:"version"`
	IsCritical bool              `yaml:"is_critical,omitempty"`
	Settings   map[string]string `yaml:"settings,omitempty"`
}

// ConnectorRef is one entry of a host or template's connectors map.
type ConnectorRef struct {
	Settings map[string]string `yaml:"settings,omitempty"`
}

// HostDoc is the shape shared by Hosts and Templates entries.
type HostDoc struct {
	Templates  []string                `yaml:"templates,omitempty"`
	Address    string                  `yaml:"address"`
	FQDN       string                  `yaml:"fqdn"`
	Monitors   map[string]ModuleRef    `yaml:"monitors"`
	Commands   map[string]ModuleRef    `yaml:"commands"`
	Connectors map[string]ConnectorRef `yaml:"connectors"`
	Settings   []string                `yaml:"settings"`
}

// HostsDocument is the second of the three documents.
type HostsDocument struct {
	Hosts map[string]HostDoc `yaml:"hosts"`
}

// TemplatesDocument is the third of the three documents.
type TemplatesDocument struct {
	Templates map[string]HostDoc `yaml:"templates"`
}

// Load reads the three-document YAML stream at path, applies NMS_-prefixed
// environment overrides to the main config, validates it, and merges
// templates into hosts.
func Load(path string) (*MainConfig, *HostsDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)

	var main MainConfig
	if err := decodeStrict(dec, &main); err != nil {
		return nil, nil, fmt.Errorf("decode main config document: %w", err)
	}

	var hosts HostsDocument
	if err := decodeStrict(dec, &hosts); err != nil {
		return nil, nil, fmt.Errorf("decode hosts document: %w", err)
	}

	var templates TemplatesDocument
	if err := decodeStrict(dec, &templates); err != nil {
		return nil, nil, fmt.Errorf("decode templates document: %w", err)
	}

	applyEnvOverrides(&main)

	if err := main.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := mergeTemplates(&hosts, &templates); err != nil {
		return nil, nil, fmt.Errorf("template merge: %w", err)
	}

	return &main, &hosts, nil
}

// decodeStrict rejects unknown top-level fields, per the rule that unknown
// fields in any document are fatal.
func decodeStrict(dec *yaml.Decoder, v interface{}) error {
	dec.KnownFields(true)
	return dec.Decode(v)
}

// Validate ensures the ambient-stack secrets and database settings required
// to run are present.
func (c *MainConfig) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("NMS_AUTH_JWT_SECRET is required (minimum 32 characters)")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("jwt_secret must be at least 32 characters")
	}
	if c.Auth.EncryptionKey == "" {
		return fmt.Errorf("NMS_AUTH_ENCRYPTION_KEY is required (32 bytes for AES-256)")
	}
	if len(c.Auth.EncryptionKey) != 32 {
		return fmt.Errorf("encryption_key must be exactly 32 bytes")
	}
	if c.Auth.AdminPassword == "" || c.Auth.AdminPassword == "changeme" {
		return fmt.Errorf("NMS_AUTH_ADMIN_PASSWORD must be set to a strong password")
	}
	if c.Database.Host == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host and dbname are required")
	}
	return nil
}

func applyEnvOverrides(cfg *MainConfig) {
	if v := os.Getenv("NMS_DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("NMS_DATABASE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = n
		}
	}
	if v := os.Getenv("NMS_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("NMS_AUTH_ADMIN_PASSWORD"); v != "" {
		cfg.Auth.AdminPassword = v
	}
	if v := os.Getenv("NMS_AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("NMS_AUTH_ENCRYPTION_KEY"); v != "" {
		cfg.Auth.EncryptionKey = v
	}
	if v := os.Getenv("NMS_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("NMS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// mergeTemplates applies template application: for each host, for each
// template in the host's templates list processed in reverse order, the
// template's monitors/commands/connectors/settings are merged under the
// host's own (host wins); a missing template is fatal.
func mergeTemplates(hosts *HostsDocument, templates *TemplatesDocument) error {
	for name, host := range hosts.Hosts {
		merged := host
		for i := len(host.Templates) - 1; i >= 0; i-- {
			tname := host.Templates[i]
			tmpl, ok := templates.Templates[tname]
			if !ok {
				return fmt.Errorf("host %s: unknown template %s", name, tname)
			}
			merged = mergeHostDoc(merged, tmpl)
		}
		hosts.Hosts[name] = merged
	}
	return nil
}

func mergeHostDoc(host, template HostDoc) HostDoc {
	if host.Monitors == nil {
		host.Monitors = make(map[string]ModuleRef)
	}
	for id, ref := range template.Monitors {
		if _, exists := host.Monitors[id]; !exists {
			host.Monitors[id] = ref
		}
	}

	if host.Commands == nil {
		host.Commands = make(map[string]ModuleRef)
	}
	for id, ref := range template.Commands {
		if _, exists := host.Commands[id]; !exists {
			host.Commands[id] = ref
		}
	}

	if host.Connectors == nil {
		host.Connectors = make(map[string]ConnectorRef)
	}
	for id, ref := range template.Connectors {
		if _, exists := host.Connectors[id]; !exists {
			host.Connectors[id] = ref
		}
	}

	existing := make(map[string]bool, len(host.Settings))
	for _, flag := range host.Settings {
		existing[flag] = true
	}
	for _, flag := range template.Settings {
		if !existing[flag] {
			host.Settings = append(host.Settings, flag)
			existing[flag] = true
		}
	}

	return host
}

// MonitorCategory returns the category name whose monitor_order lists
// monitorID, or "" if none does.
func (d DisplayOptionsDoc) MonitorCategory(monitorID string) string {
	for name, cat := range d.Categories {
		for _, id := range cat.MonitorOrder {
			if id == monitorID {
				return name
			}
		}
	}
	return ""
}

// CommandCategory returns the category name whose command_order lists
// commandID, or "" if none does.
func (d DisplayOptionsDoc) CommandCategory(commandID string) string {
	for name, cat := range d.Categories {
		for _, id := range cat.CommandOrder {
			if id == commandID {
				return name
			}
		}
	}
	return ""
}

// ToDomainHost builds the runtime domain.Host from a merged HostDoc.
func ToDomainHost(name string, doc HostDoc) domain.Host {
	address := doc.Address
	if address == "" {
		address = "0.0.0.0"
	}
	settings := make(map[string]bool, len(doc.Settings))
	for _, flag := range doc.Settings {
		settings[flag] = true
	}
	return domain.Host{
		Name:     name,
		Address:  address,
		FQDN:     doc.FQDN,
		Settings: settings,
	}
}

// ToModuleSpec resolves a ModuleRef's version default.
func ToModuleSpec(id string, ref ModuleRef) domain.ModuleSpecification {
	version := ref.Version
	if version == "" {
		version = domain.LatestVersion
	}
	return domain.ModuleSpecification{ID: id, Version: version}
}

// NormalizedLevel parses the configured level string into an slog.Level
// name the caller's handler construction can switch on
// (debug/info/warn/error).
func (c LoggingConfig) NormalizedLevel() string {
	level := strings.ToLower(c.Level)
	switch level {
	case "debug", "info", "warn", "error":
		return level
	default:
		return "info"
	}
}

// InitLogger builds the process slog.Logger from LoggingConfig: JSON or
// text handler writing to w, level parsed from the configured string.
func InitLogger(cfg LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.NormalizedLevel() {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// DumpExampleConfig writes a commented example three-document stream.
func DumpExampleConfig(w io.Writer) error {
	main := MainConfig{
		Preferences: Preferences{
			RefreshHostsOnStart: true,
			TextEditor:          "vim",
			Terminal:            "xterm",
			TerminalArgs:        []string{"-e"},
		},
		DisplayOptions: DisplayOptionsDoc{
			GroupMultivalue: true,
			Categories: map[string]Category{
				"system": {Priority: 1, MonitorOrder: []string{"platform-info", "uptime"}, CommandOrder: []string{"restart-service"}},
			},
		},
		CacheSettings: CacheSettingsDoc{
			EnableCache:            true,
			ProvideInitialValue:    true,
			InitialValueTimeToLive: 30,
			PreferCache:            false,
			TimeToLive:             300,
		},
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080, ReadTimeoutMS: 30000, WriteTimeoutMS: 30000},
		Auth: AuthConfig{
			AdminUsername:  "admin",
			AdminPassword:  "changeme",
			JWTSecret:      "your-secret-key-minimum-32-chars-required",
			JWTExpiryHours: 24,
			EncryptionKey:  "32-character-encryption-key!!!!",
		},
		Database: DatabaseConfig{
			Host: "localhost", Port: 5432, User: "nmslite", Password: "changeme", DBName: "nmslite", SSLMode: "disable",
			BatchSize: 100, FlushIntervalMS: 1000,
			Pool: PoolConfig{MaxConns: 20, MinConns: 5, MaxConnLifetimeMinutes: 60, MaxConnIdleTimeMinutes: 15, HealthCheckPeriodSeconds: 30},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}

	hosts := HostsDocument{Hosts: map[string]HostDoc{
		"example-host": {
			Templates: []string{"linux-base"},
			Address:   "192.0.2.10",
			Monitors:  map[string]ModuleRef{},
			Commands:  map[string]ModuleRef{},
		},
	}}

	templates := TemplatesDocument{Templates: map[string]HostDoc{
		"linux-base": {
			Monitors: map[string]ModuleRef{"uptime": {Version: "latest"}},
			Commands: map[string]ModuleRef{"restart-service": {Version: "latest"}},
		},
	}}

	header := `# =============================================================================
# nmslite example configuration: three YAML documents in one stream.
# Environment overrides follow NMS_<SECTION>_<KEY>, e.g. NMS_AUTH_JWT_SECRET.
# =============================================================================

`
	if _, err := fmt.Fprint(w, header); err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, doc := range []interface{}{main, hosts, templates} {
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode example document: %w", err)
		}
	}
	return enc.Close()
}
