// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Device      DeviceConfig      `mapstructure:"device"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	App         AppConfig         `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig represents database configuration. When disabled,
// acquisition history is kept in memory only.
type DatabaseConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"dbname"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	MigrationsPath string        `mapstructure:"migrations_path"`
	Retention      time.Duration `mapstructure:"retention"`
}

// NATSConfig represents the event bus connection
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	ClientName    string        `mapstructure:"client_name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// DeviceConfig holds protocol timing and the list of known instruments
type DeviceConfig struct {
	DefaultPort      int                        `mapstructure:"default_port"`
	ConnectTimeout   time.Duration              `mapstructure:"connect_timeout"`
	ReadTimeout      time.Duration              `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration              `mapstructure:"write_timeout"`
	KeepAlive        bool                       `mapstructure:"keep_alive"`
	OperationTimeout time.Duration              `mapstructure:"operation_timeout"`
	StopMaxAttempts  int                        `mapstructure:"stop_max_attempts"`
	StopTimeout      time.Duration              `mapstructure:"stop_timeout"`
	CheckMarker      bool                       `mapstructure:"check_marker"`
	StreamMarker     string                     `mapstructure:"stream_marker"`
	Serial           SerialDefaults             `mapstructure:"serial"`
	Commands         map[string]CommandOverride `mapstructure:"commands"`
	Devices          []DeviceEntry              `mapstructure:"devices"`
}

// SerialDefaults apply to every serial-attached instrument
type SerialDefaults struct {
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	StopBits int    `mapstructure:"stop_bits"`
	Parity   string `mapstructure:"parity"`
}

// CommandOverride replaces the opcode and/or ack bytes of one command.
// Values are hex strings, spaces allowed.
type CommandOverride struct {
	Opcode string `mapstructure:"opcode"`
	Ack    string `mapstructure:"ack"`
}

// DeviceEntry is one configured instrument
type DeviceEntry struct {
	ID         string `mapstructure:"id"`
	Name       string `mapstructure:"name"`
	Model      string `mapstructure:"model"`
	Transport  string `mapstructure:"transport"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	SerialPort string `mapstructure:"serial_port"`
	BaudRate   int    `mapstructure:"baud_rate"`
}

// AcquisitionConfig controls capture output
type AcquisitionConfig struct {
	OutputDir       string        `mapstructure:"output_dir"`
	FullScaleVolts  string        `mapstructure:"full_scale_volts"`
	DefaultDeadline time.Duration `mapstructure:"default_deadline"`
	MaxFrames       int           `mapstructure:"max_frames"`
	ProgressEvery   int           `mapstructure:"progress_every"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// EnvPrefix is prepended to every environment override, e.g.
// ADC_SERVICE_DEVICE_STOP_TIMEOUT.
const EnvPrefix = "ADC_SERVICE"

// Load loads configuration from file and environment variables. An empty
// path searches the default locations; a missing file there is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/adc-service")
	}

	// Environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "adc_service")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "file://migrations")
	v.SetDefault("database.retention", "720h")

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject_prefix", "adc")
	v.SetDefault("nats.client_name", "adc-service")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Device defaults
	v.SetDefault("device.default_port", 5025)
	v.SetDefault("device.connect_timeout", "5s")
	v.SetDefault("device.read_timeout", "2s")
	v.SetDefault("device.write_timeout", "5s")
	v.SetDefault("device.keep_alive", true)
	v.SetDefault("device.operation_timeout", "15s")
	v.SetDefault("device.stop_max_attempts", 64)
	v.SetDefault("device.stop_timeout", "10s")
	v.SetDefault("device.check_marker", true)
	v.SetDefault("device.stream_marker", "AA55AA554144")
	v.SetDefault("device.serial.baud_rate", 115200)
	v.SetDefault("device.serial.data_bits", 8)
	v.SetDefault("device.serial.stop_bits", 1)
	v.SetDefault("device.serial.parity", "none")

	// Acquisition defaults
	v.SetDefault("acquisition.output_dir", "./data/captures")
	v.SetDefault("acquisition.full_scale_volts", "10")
	v.SetDefault("acquisition.default_deadline", "0s")
	v.SetDefault("acquisition.max_frames", 100000)
	v.SetDefault("acquisition.progress_every", 16)

	// App defaults
	v.SetDefault("app.name", "adc-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

var (
	validEnvs       = []string{"development", "staging", "production", "test"}
	validLevels     = []string{"debug", "info", "warn", "error", "fatal"}
	validTransports = []string{"tcp", "serial"}
)

// validate validates the configuration
func validate(config *Config) error {
	// Basic validation
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if config.Database.Enabled && config.Database.Host == "" {
		return fmt.Errorf("database.host is required when database is enabled")
	}
	if config.NATS.Enabled && config.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}

	if !slices.Contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}
	if !slices.Contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	if config.Device.DefaultPort < 1 || config.Device.DefaultPort > 65535 {
		return fmt.Errorf("device.default_port out of range: %d", config.Device.DefaultPort)
	}
	if config.Device.StopMaxAttempts < 1 {
		return fmt.Errorf("device.stop_max_attempts must be positive")
	}
	if config.Device.StopTimeout <= 0 {
		return fmt.Errorf("device.stop_timeout must be positive")
	}

	seen := make(map[string]bool, len(config.Device.Devices))
	for i := range config.Device.Devices {
		d := &config.Device.Devices[i]
		if d.ID == "" {
			return fmt.Errorf("device.devices[%d].id is required", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate device id %q", d.ID)
		}
		seen[d.ID] = true

		if d.Transport == "" {
			d.Transport = "tcp"
		}
		d.Transport = strings.ToLower(d.Transport)
		if !slices.Contains(validTransports, d.Transport) {
			return fmt.Errorf("device %q: transport must be one of: %v", d.ID, validTransports)
		}
		if d.Transport == "tcp" && d.Host == "" {
			return fmt.Errorf("device %q: host is required for tcp transport", d.ID)
		}
		if d.Transport == "serial" && d.SerialPort == "" {
			return fmt.Errorf("device %q: serial_port is required for serial transport", d.ID)
		}
		if d.Port == 0 {
			d.Port = config.Device.DefaultPort
		}
		if d.Model == "" {
			d.Model = "ADC"
		}
	}

	if _, err := config.FullScaleVolts(); err != nil {
		return err
	}
	if config.Acquisition.MaxFrames < 1 {
		return fmt.Errorf("acquisition.max_frames must be positive")
	}

	return nil
}

// FullScaleVolts parses the configured ADC full-scale range.
func (c *Config) FullScaleVolts() (decimal.Decimal, error) {
	fs, err := decimal.NewFromString(c.Acquisition.FullScaleVolts)
	if err != nil {
		return decimal.Zero, fmt.Errorf("acquisition.full_scale_volts: %w", err)
	}
	if !fs.IsPositive() {
		return decimal.Zero, fmt.Errorf("acquisition.full_scale_volts must be positive")
	}
	return fs, nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}

// FindDevice returns the configured instrument with the given id
func (c *Config) FindDevice(id string) (DeviceEntry, bool) {
	for _, d := range c.Device.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return DeviceEntry{}, false
}
