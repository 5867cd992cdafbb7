package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	// CORSAllowedOrigins is passed to the CORS middleware; "*" allows any origin.
	CORSAllowedOrigins []string

	SQLiteDriver          string
	SQLiteDSN             string
	SQLitePath            string
	SQLiteMaxOpenConns    int
	SQLiteMaxIdleConns    int
	SQLiteConnMaxLifetime time.Duration
	SQLiteLogStatements   bool
	SQLiteSlowStatement   time.Duration

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
	MQTTTopic    string

	// Raw tier ceilings. Whichever is reached first triggers eviction.
	RawMaxRows  int
	RawMaxBytes int64

	RollupLocation       *time.Location
	RollupHourlyInterval time.Duration
	RollupDailyInterval  time.Duration
}

// source resolves a key from the environment first and the optional YAML file second.
type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(s.file[key])
}

func (s source) getDefault(key, def string) string {
	if v := s.get(key); v != "" {
		return v
	}
	return def
}

// LoadFromEnv builds the Config from environment variables. When CONFIG_FILE
// names a YAML file, its top-level keys (same names as the variables) supply
// values for anything the environment leaves unset.
func LoadFromEnv() (Config, error) {
	src := source{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		file, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}

	appEnv := src.getDefault("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(src.getDefault("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	httpAddr := src.getDefault("HTTP_ADDR", ":8080")

	var origins []string
	for _, o := range strings.Split(src.getDefault("CORS_ALLOWED_ORIGINS", "*"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	driver := src.getDefault("DB_DRIVER", "sqlite3")
	dsn := src.get("DB_DSN")
	path := src.getDefault("SQLITE_PATH", "../dev/sqlite/climatelog.db")

	maxOpenConnsStr := src.getDefault("DB_MAX_OPEN_CONNS", "1")
	maxOpenConns, err := strconv.Atoi(maxOpenConnsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_OPEN_CONNS %q: %w", maxOpenConnsStr, err)
	}

	maxIdleConnsStr := src.getDefault("DB_MAX_IDLE_CONNS", "1")
	maxIdleConns, err := strconv.Atoi(maxIdleConnsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_IDLE_CONNS %q: %w", maxIdleConnsStr, err)
	}

	connMaxLifetimeStr := src.getDefault("DB_CONN_MAX_LIFETIME", "0s")
	connMaxLifetime, err := time.ParseDuration(connMaxLifetimeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME %q: %w", connMaxLifetimeStr, err)
	}

	logSQLStr := src.getDefault("DB_LOG_SQL", "false")
	logSQL, err := strconv.ParseBool(logSQLStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_LOG_SQL %q: %w", logSQLStr, err)
	}

	slowStr := src.getDefault("DB_SLOW_STATEMENT", "250ms")
	slow, err := time.ParseDuration(slowStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_SLOW_STATEMENT %q: %w", slowStr, err)
	}

	mqttBroker := src.getDefault("MQTT_BROKER", "localhost")

	mqttPortStr := src.getDefault("MQTT_PORT", "1883")
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}
	if mqttPort <= 0 || mqttPort > 65535 {
		return Config{}, fmt.Errorf("MQTT_PORT out of range: %d", mqttPort)
	}

	mqttClientID := src.getDefault("MQTT_CLIENT_ID", "climatelog-server")
	mqttTopic := src.getDefault("MQTT_TOPIC", "sensors/climate")

	rawMaxRowsStr := src.getDefault("RAW_MAX_ROWS", "5000")
	rawMaxRows, err := strconv.Atoi(rawMaxRowsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid RAW_MAX_ROWS %q: %w", rawMaxRowsStr, err)
	}
	if rawMaxRows <= 0 {
		return Config{}, fmt.Errorf("RAW_MAX_ROWS must be positive, got %d", rawMaxRows)
	}

	rawMaxBytesStr := src.getDefault("RAW_MAX_BYTES", strconv.Itoa(10*1024*1024))
	rawMaxBytes, err := strconv.ParseInt(rawMaxBytesStr, 10, 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid RAW_MAX_BYTES %q: %w", rawMaxBytesStr, err)
	}
	if rawMaxBytes <= 0 {
		return Config{}, fmt.Errorf("RAW_MAX_BYTES must be positive, got %d", rawMaxBytes)
	}

	tzName := src.getDefault("ROLLUP_TZ", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return Config{}, fmt.Errorf("invalid ROLLUP_TZ %q: %w", tzName, err)
	}

	hourlyStr := src.getDefault("ROLLUP_HOURLY_INTERVAL", "1h")
	hourly, err := time.ParseDuration(hourlyStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid ROLLUP_HOURLY_INTERVAL %q: %w", hourlyStr, err)
	}
	if hourly <= 0 {
		return Config{}, fmt.Errorf("ROLLUP_HOURLY_INTERVAL must be positive, got %v", hourly)
	}

	dailyStr := src.getDefault("ROLLUP_DAILY_INTERVAL", "24h")
	daily, err := time.ParseDuration(dailyStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid ROLLUP_DAILY_INTERVAL %q: %w", dailyStr, err)
	}
	if daily <= 0 {
		return Config{}, fmt.Errorf("ROLLUP_DAILY_INTERVAL must be positive, got %v", daily)
	}

	return Config{
		AppEnv:                appEnv,
		LogLevel:              level,
		HTTPAddr:              httpAddr,
		CORSAllowedOrigins:    origins,
		SQLiteDriver:          driver,
		SQLiteDSN:             dsn,
		SQLitePath:            path,
		SQLiteMaxOpenConns:    maxOpenConns,
		SQLiteMaxIdleConns:    maxIdleConns,
		SQLiteConnMaxLifetime: connMaxLifetime,
		SQLiteLogStatements:   logSQL,
		SQLiteSlowStatement:   slow,
		MQTTBroker:            mqttBroker,
		MQTTPort:              mqttPort,
		MQTTClientID:          mqttClientID,
		MQTTUsername:          src.get("MQTT_USERNAME"),
		MQTTPassword:          src.get("MQTT_PASSWORD"),
		MQTTTopic:             mqttTopic,
		RawMaxRows:            rawMaxRows,
		RawMaxBytes:           rawMaxBytes,
		RollupLocation:        loc,
		RollupHourlyInterval:  hourly,
		RollupDailyInterval:   daily,
	}, nil
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CONFIG_FILE %q: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse CONFIG_FILE %q: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
