// Package conf holds the typed configuration for the projection-filesystem
// hook and loads it from YAML files. Every package consuming configuration
// receives the whole *Config through its transitions.Up() callback and picks
// out its own section.
package conf

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML either as a
// duration string ("5s", "100ms") or as a nanosecond integer.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (duration *Duration) UnmarshalYAML(value *yaml.Node) (err error) {
	var asString string
	if err = value.Decode(&asString); err == nil {
		parsed, parseErr := time.ParseDuration(asString)
		if parseErr == nil {
			*duration = Duration(parsed)
			return nil
		}
	}

	var asInt int64
	if err = value.Decode(&asInt); err == nil {
		*duration = Duration(asInt)
		return nil
	}

	return fmt.Errorf("cannot parse %q as a duration", value.Value)
}

func (duration Duration) String() string {
	return time.Duration(duration).String()
}

// LoggingConf selects log destinations and per-package trace enablement.
type LoggingConf struct {
	LogFilePath   string   `yaml:"log_file_path"`
	LogToConsole  bool     `yaml:"log_to_console"`
	TraceLevel    bool     `yaml:"trace_level"`
	DebugLevel    bool     `yaml:"debug_level"`
	TracePackages []string `yaml:"trace_packages"`
}

// LocksConf tunes lock-hold diagnostics. A zero HoldTimeLimit disables
// tracking; a zero CheckPeriod disables the watcher.
type LocksConf struct {
	GroupName     string   `yaml:"group_name"`
	HoldTimeLimit Duration `yaml:"hold_time_limit"`
	CheckPeriod   Duration `yaml:"check_period"`
}

// ProvidersConf bounds the active-provider registry.
type ProvidersConf struct {
	// Capacity bounds kernel-wired memory against a hostile user space.
	Capacity      int `yaml:"capacity"`
	MaxPathLength int `yaml:"max_path_length"`
}

// KauthConf tunes the vnode-access interceptor.
type KauthConf struct {
	// ResponsePollPeriod is the bounded sleep between re-checks of the
	// received-response predicate while an access is blocked.
	ResponsePollPeriod Duration `yaml:"response_poll_period"`
	// CrawlerProcessNames are denied access to placeholders so they cannot
	// force wholesale hydration (and poison the authorization cache).
	CrawlerProcessNames []string `yaml:"crawler_process_names"`
	// DenyLogInterval rate-limits the warning logged on crawler denials.
	DenyLogInterval Duration `yaml:"deny_log_interval"`
}

// StatsConf configures the statsd-format UDP counter sender. An empty
// Address disables stats entirely.
type StatsConf struct {
	Address       string   `yaml:"address"`
	BufferLength  int      `yaml:"buffer_length"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// MemBufConf sizes the message-buffer pool.
type MemBufConf struct {
	BufferSize int `yaml:"buffer_size"`
}

// Config is the aggregate handed to transitions.Up()/Down().
type Config struct {
	Logging   LoggingConf   `yaml:"logging"`
	Locks     LocksConf     `yaml:"locks"`
	MemBuf    MemBufConf    `yaml:"membuf"`
	Providers ProvidersConf `yaml:"providers"`
	Kauth     KauthConf     `yaml:"kauth"`
	Stats     StatsConf     `yaml:"stats"`
}

const (
	DefaultProviderCapacity   = 32
	DefaultMaxPathLength      = 1024
	DefaultResponsePollPeriod = Duration(5 * time.Second)
	DefaultBufferSize         = 4096

	maxProviderCapacity = 1024
)

// DefaultCrawlerProcessNames is the hard-coded set of filesystem-crawler
// daemons denied against placeholders.
var DefaultCrawlerProcessNames = []string{"mds", "mdworker", "mds_stores", "fseventsd", "Spotlight"}

// Default returns a Config with every option at its default value.
func Default() (config *Config) {
	config = &Config{}
	config.ApplyDefaults()
	return
}

// ApplyDefaults fills in zero-valued options that have non-zero defaults.
func (config *Config) ApplyDefaults() {
	if config.Locks.GroupName == "" {
		config.Locks.GroupName = "com.willfordkc.gvfs.kerncore"
	}
	if config.MemBuf.BufferSize == 0 {
		config.MemBuf.BufferSize = DefaultBufferSize
	}
	if config.Providers.Capacity == 0 {
		config.Providers.Capacity = DefaultProviderCapacity
	}
	if config.Providers.MaxPathLength == 0 {
		config.Providers.MaxPathLength = DefaultMaxPathLength
	}
	if config.Kauth.ResponsePollPeriod == 0 {
		config.Kauth.ResponsePollPeriod = DefaultResponsePollPeriod
	}
	if config.Kauth.CrawlerProcessNames == nil {
		config.Kauth.CrawlerProcessNames = append([]string{}, DefaultCrawlerProcessNames...)
	}
	if config.Kauth.DenyLogInterval == 0 {
		config.Kauth.DenyLogInterval = Duration(time.Second)
	}
	if config.Stats.BufferLength == 0 {
		config.Stats.BufferLength = 100
	}
	if config.Stats.FlushInterval == 0 {
		config.Stats.FlushInterval = Duration(10 * time.Second)
	}
}

// Validate rejects configurations the core cannot honor.
func (config *Config) Validate() (err error) {
	if config.Providers.Capacity < 1 || config.Providers.Capacity > maxProviderCapacity {
		return fmt.Errorf("providers.capacity %d outside [1,%d]", config.Providers.Capacity, maxProviderCapacity)
	}
	if config.Providers.MaxPathLength < 64 {
		return fmt.Errorf("providers.max_path_length %d too small (min 64)", config.Providers.MaxPathLength)
	}
	if config.Kauth.ResponsePollPeriod < Duration(100*time.Millisecond) {
		return fmt.Errorf("kauth.response_poll_period %v too small (min 100ms)", config.Kauth.ResponsePollPeriod)
	}
	if config.Locks.HoldTimeLimit != 0 && config.Locks.HoldTimeLimit < Duration(time.Second) {
		return fmt.Errorf("locks.hold_time_limit %v too small (min 1s, or 0 to disable)", config.Locks.HoldTimeLimit)
	}
	if config.Locks.CheckPeriod != 0 && config.Locks.CheckPeriod < Duration(time.Second) {
		return fmt.Errorf("locks.check_period %v too small (min 1s, or 0 to disable)", config.Locks.CheckPeriod)
	}
	return nil
}

// LoadFile returns the Config parsed from the YAML file at confFilePath,
// with defaults applied and the result validated.
func LoadFile(confFilePath string) (config *Config, err error) {
	data, err := ioutil.ReadFile(confFilePath)
	if err != nil {
		return nil, fmt.Errorf("read conf file: %v", err)
	}

	config = &Config{}
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("parse conf file %s: %v", confFilePath, err)
	}

	config.ApplyDefaults()

	err = config.Validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}
