package config

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/plugwatch/internal/plugwatch/domain"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "PLUGWATCH_"

// AppConfig holds the resolved plugwatch configuration.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// LogFile is an optional extra log destination; stderr is always used.
	LogFile string `koanf:"log_file"`

	// DeviceAddress is the plug's address, "host" or "host:port".
	DeviceAddress string `koanf:"device_address" validate:"required,device_addr"`

	// DeviceTimeout bounds a single round trip to the plug.
	DeviceTimeout time.Duration `koanf:"device_timeout" validate:"gte=100ms,lte=1m"`

	// DeviceRetries is how many failed reads in a row are tolerated before
	// the device is declared unreachable. Zero means fail on the first error.
	DeviceRetries uint `koanf:"device_retries" validate:"lte=100"`

	// PollInterval is the wait between two device reads.
	PollInterval time.Duration `koanf:"poll_interval" validate:"gte=100ms,lte=1h"`

	// BlocklistPath is the plain-text list of hosts to block.
	BlocklistPath string `koanf:"blocklist_path" validate:"required"`

	// HostsPath is the system hosts file to manage.
	HostsPath string `koanf:"hosts_path" validate:"required"`

	// Delimiter is the sentinel line bounding the managed block.
	Delimiter string `koanf:"delimiter" validate:"required,delimiter"`

	// BlockAddress is the address every blocked host is mapped to.
	BlockAddress string `koanf:"block_address" validate:"required,ip"`

	// FlushCommands are run in order after each hosts rewrite. Empty disables flushing.
	FlushCommands []string `koanf:"flush_commands" validate:"dive,cmdline"`
}

// DEFAULT_APP_CONFIG holds the defaults layered underneath file, env and CLI values.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:           "prod",
	LogLevel:      "info",
	DeviceTimeout: 2 * time.Second,
	DeviceRetries: 0,
	PollInterval:  1 * time.Second,
	BlocklistPath: "/etc/plugwatch/blocklist",
	HostsPath:     "/etc/hosts",
	Delimiter:     "### PLUGWATCH BLOCK ###",
	BlockAddress:  "127.0.0.1",
	FlushCommands: DefaultFlushCommands(runtime.GOOS),
}

// DefaultFlushCommands returns the resolver cache flush sequence for goos.
func DefaultFlushCommands(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"dscacheutil -flushcache", "killall -HUP mDNSResponder"}
	case "linux":
		return []string{"resolvectl flush-caches"}
	default:
		return []string{}
	}
}

// Options selects the optional layers Load applies on top of the defaults.
type Options struct {
	// File is an optional YAML config file. Empty skips the file layer.
	File string
	// Overrides are applied last, typically from CLI flags. Keys use koanf names.
	Overrides map[string]any
}

// validDeviceAddr accepts "host", "ip", "host:port" and "[ipv6]:port".
func validDeviceAddr(fl validator.FieldLevel) bool {
	addr := strings.TrimSpace(fl.Field().String())
	if addr == "" {
		return false
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// no port component
		return validHost(addr)
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	if err != nil || portNum == 0 {
		return false
	}
	return validHost(host)
}

func validHost(host string) bool {
	if host == "" {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	if len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		for _, r := range label {
			if !(r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
				return false
			}
		}
	}
	return true
}

// validCmdline requires at least one word in a command string.
func validCmdline(fl validator.FieldLevel) bool {
	return len(strings.Fields(fl.Field().String())) > 0
}

// validDelimiter requires a single non-blank line.
func validDelimiter(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return strings.TrimSpace(s) != "" && !strings.ContainsAny(s, "\r\n")
}

// envLoader loads PLUGWATCH_* variables, lowercasing keys and dropping the prefix.
// Empty values are ignored. flush_commands is split on commas.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			value = strings.TrimSpace(value)

			if value == "" {
				return "", nil
			}

			if key == "flush_commands" {
				parts := strings.Split(value, ",")
				out := make([]string, 0, len(parts))
				for _, p := range parts {
					if p = strings.TrimSpace(p); p != "" {
						out = append(out, p)
					}
				}
				return key, out
			}

			return key, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// fileLoader loads a YAML config file.
var fileLoader = func(k *koanf.Koanf, path string) error {
	return k.Load(file.Provider(path), yaml.Parser())
}

// registerValidation registers the custom validation tags used by AppConfig.
var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("device_addr", validDeviceAddr); err != nil {
		return err
	}
	if err := v.RegisterValidation("cmdline", validCmdline); err != nil {
		return err
	}
	return v.RegisterValidation("delimiter", validDelimiter)
}

// Load resolves the configuration from defaults, an optional YAML file, the
// environment and finally explicit overrides, then validates the result.
// Every failure wraps domain.ErrConfiguration.
func Load(opts Options) (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("%w: error loading default config: %w", domain.ErrConfiguration, err)
	}

	if opts.File != "" {
		if err := fileLoader(k, opts.File); err != nil {
			return nil, fmt.Errorf("%w: error loading config file %s: %w", domain.ErrConfiguration, opts.File, err)
		}
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("%w: error loading env: %w", domain.ErrConfiguration, err)
	}

	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("%w: error loading overrides: %w", domain.ErrConfiguration, err)
		}
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: error unmarshalling config: %w", domain.ErrConfiguration, err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("%w: error registering validation: %w", domain.ErrConfiguration, err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: validation failed: %w", domain.ErrConfiguration, err)
	}

	return &cfg, nil
}
