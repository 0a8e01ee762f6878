// Package config loads client settings from YAML or TOML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chanmux/chanmux-go/pkg/client"
	"github.com/chanmux/chanmux-go/pkg/transport"
	"github.com/chanmux/chanmux-go/pkg/wire"
)

// Format is a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// DefaultDiscoveryTimeout bounds an mDNS lookup when none is configured.
const DefaultDiscoveryTimeout = 5 * time.Second

// File is the on-disk client configuration.
type File struct {
	// URL is the ws:// or wss:// server endpoint. When empty, the endpoint
	// is resolved through Discovery.
	URL string `yaml:"url" toml:"url"`

	// Headers are sent with the WebSocket handshake.
	Headers map[string]string `yaml:"headers" toml:"headers"`

	// Codec is "json" (default) or "cbor".
	Codec string `yaml:"codec" toml:"codec"`

	// Durations use time.ParseDuration syntax ("30s", "1m").
	HeartbeatInterval string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	ReconnectDelay    string `yaml:"reconnect_delay" toml:"reconnect_delay"`
	ConnectTimeout    string `yaml:"connect_timeout" toml:"connect_timeout"`

	// LogLevel is a slog level name ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level" toml:"log_level"`

	// ProtocolLog is a path to write protocol events to.
	ProtocolLog string `yaml:"protocol_log" toml:"protocol_log"`

	Discovery Discovery `yaml:"discovery" toml:"discovery"`

	TLS TLS `yaml:"tls" toml:"tls"`

	// Subscriptions lists channel IDs to subscribe to at startup.
	Subscriptions []string `yaml:"subscriptions" toml:"subscriptions"`
}

// Discovery configures mDNS endpoint resolution.
type Discovery struct {
	// Service is the DNS-SD service type, e.g. "_chanmux._tcp".
	Service string `yaml:"service" toml:"service"`

	// Domain defaults to "local.".
	Domain string `yaml:"domain" toml:"domain"`

	// Timeout bounds the lookup.
	Timeout string `yaml:"timeout" toml:"timeout"`
}

// TLS names the PEM files used for wss:// connections.
type TLS struct {
	CAFile             string `yaml:"ca_file" toml:"ca_file"`
	CertFile           string `yaml:"cert_file" toml:"cert_file"`
	KeyFile            string `yaml:"key_file" toml:"key_file"`
	ServerName         string `yaml:"server_name" toml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
}

func (t TLS) files() transport.TLSFiles {
	return transport.TLSFiles{
		CAFile:             t.CAFile,
		CertFile:           t.CertFile,
		KeyFile:            t.KeyFile,
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify,
	}
}

// LoadError describes a configuration that could not be loaded.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// FormatOf returns the format implied by the file extension of path.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
}

// Load reads and validates the configuration file at path. The format is
// chosen by extension.
func Load(path string) (*File, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "unknown format", Cause: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	f, err := Parse(data, format)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error()}
	}
	return f, nil
}

// Parse decodes and validates configuration bytes. Unknown keys are errors.
func Parse(data []byte, format Format) (*File, error) {
	var f File
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty document decodes to the zero File.
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
		}
	case FormatTOML:
		meta, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, &LoadError{Message: "failed to parse TOML", Cause: err}
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, &LoadError{Message: fmt.Sprintf("unknown key %q", undecoded[0].String())}
		}
	default:
		return nil, &LoadError{Message: fmt.Sprintf("unsupported format %q", format)}
	}

	if err := f.Validate(); err != nil {
		return nil, &LoadError{Message: "invalid configuration", Cause: err}
	}
	return &f, nil
}

// Validate checks every field that has a restricted syntax.
func (f *File) Validate() error {
	if f.URL == "" && f.Discovery.Service == "" {
		return fmt.Errorf("either url or discovery.service is required")
	}
	if _, err := wire.NewCodec(f.Codec); err != nil {
		return err
	}
	for name, value := range map[string]string{
		"heartbeat_interval": f.HeartbeatInterval,
		"reconnect_delay":    f.ReconnectDelay,
		"connect_timeout":    f.ConnectTimeout,
		"discovery.timeout":  f.Discovery.Timeout,
	} {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
	}
	if (f.TLS.CertFile == "") != (f.TLS.KeyFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file must be set together")
	}
	if _, err := f.Level(); err != nil {
		return err
	}
	if _, err := f.Channels(); err != nil {
		return err
	}
	return nil
}

// ClientConfig converts f into a client configuration. Zero durations leave
// the client defaults in place. The caller supplies loggers and, when URL is
// empty, the resolved endpoint.
func (f *File) ClientConfig() (client.Config, error) {
	codec, err := wire.NewCodec(f.Codec)
	if err != nil {
		return client.Config{}, err
	}
	cfg := client.Config{
		URL:   f.URL,
		Codec: codec,
	}
	if len(f.Headers) > 0 {
		cfg.Header = make(http.Header, len(f.Headers))
		for k, v := range f.Headers {
			cfg.Header.Set(k, v)
		}
	}
	if files := f.TLS.files(); !files.IsZero() {
		if cfg.TLS, err = transport.LoadClientTLSConfig(files); err != nil {
			return client.Config{}, fmt.Errorf("tls: %w", err)
		}
	}
	if cfg.HeartbeatInterval, err = parseDuration(f.HeartbeatInterval); err != nil {
		return client.Config{}, fmt.Errorf("parse heartbeat_interval: %w", err)
	}
	if cfg.ReconnectDelay, err = parseDuration(f.ReconnectDelay); err != nil {
		return client.Config{}, fmt.Errorf("parse reconnect_delay: %w", err)
	}
	if cfg.ConnectTimeout, err = parseDuration(f.ConnectTimeout); err != nil {
		return client.Config{}, fmt.Errorf("parse connect_timeout: %w", err)
	}
	return cfg, nil
}

// Level returns the configured slog level (default: info).
func (f *File) Level() (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(f.LogLevel) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(f.LogLevel))); err != nil {
		return 0, fmt.Errorf("parse log_level: %w", err)
	}
	return level, nil
}

// Channels parses Subscriptions.
func (f *File) Channels() ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(f.Subscriptions))
	for _, s := range f.Subscriptions {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("parse subscription %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// DiscoveryTimeout returns the lookup bound (default: 5s).
func (f *File) DiscoveryTimeout() time.Duration {
	d, err := parseDuration(f.Discovery.Timeout)
	if err != nil || d == 0 {
		return DefaultDiscoveryTimeout
	}
	return d
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
