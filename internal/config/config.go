package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Bot      BotConfig
	Access   AccessConfig
	Log      LogConfig
}

// ServerConfig holds the read API configuration
type ServerConfig struct {
	Port int
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	Username     string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	TestDBName   string // Separate database for testing
}

// AuthConfig holds the read API authentication configuration.
// An empty JWTSecret leaves the API open.
type AuthConfig struct {
	JWTSecret string
}

// BotConfig holds the chat adapter configuration
type BotConfig struct {
	TelegramToken string
}

// AccessConfig is consumed by access checks around admin and crew features.
type AccessConfig struct {
	AdminIDs      []string
	AdminPassword string
	CrewPassword  string
}

// LogConfig controls the process logger
type LogConfig struct {
	Level  string
	Format string
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return c.dsn(c.DBName)
}

// GetMaintenanceDSN returns a connection string for the server's default
// "postgres" database, used to create DBName when it does not exist yet.
func (c *DatabaseConfig) GetMaintenanceDSN() string {
	return c.dsn("postgres")
}

// dsn pins the session time zone to UTC: columns are TIMESTAMP without
// time zone, stamped by the server's clock and read back as UTC.
func (c *DatabaseConfig) dsn(dbName string) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=5 timezone=UTC",
		c.Host, c.Port, c.Username, quoteDSNValue(c.Password), dbName, c.SSLMode,
	)
}

// quoteDSNValue quotes values for libpq key/value connection strings.
func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// IsAdmin reports whether the user id is on the admin allowlist.
func (c *AccessConfig) IsAdmin(userID string) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// LoadConfig loads the configuration from environment variables and, when
// configFile is not empty, from that file. Environment wins over the file.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return &Config{
		Server: ServerConfig{
			Port: v.GetInt("API_PORT"),
		},
		Database: DatabaseConfig{
			Host:         v.GetString("DB_HOST"),
			Port:         v.GetInt("DB_PORT"),
			Username:     v.GetString("DB_USER"),
			Password:     v.GetString("DB_PASSWORD"),
			DBName:       v.GetString("DB_NAME"),
			SSLMode:      v.GetString("DB_SSLMODE"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
			TestDBName:   v.GetString("TEST_DB_NAME"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("JWT_SECRET"),
		},
		Bot: BotConfig{
			TelegramToken: v.GetString("TELEGRAM_BOT_TOKEN"),
		},
		Access: AccessConfig{
			AdminIDs:      splitList(v.GetString("ADMIN_IDS")),
			AdminPassword: v.GetString("ADMIN_PASSWORD"),
			CrewPassword:  v.GetString("CREW_PASSWORD"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("API_PORT", 3000)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "sotc")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("TEST_DB_NAME", "sotc_test")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("ADMIN_IDS", "")
	v.SetDefault("ADMIN_PASSWORD", "adminpass")
	v.SetDefault("CREW_PASSWORD", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
