// Package config собирает конфигурацию из значений по умолчанию, переменных
// окружения, файла .env, JSON-файла и флагов командной строки.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Режимы хранения.
const (
	ModeDatabase = "database"
	ModeRedis    = "redis"
	ModeSQLite   = "sqlite"
	ModeFile     = "file"
	ModeMemory   = "in-memory"
)

// Config хранит конфигурацию сервера
type Config struct {
	ServerAddress    string `json:"server_address"`
	GRPCAddress      string `json:"grpc_address"`
	BaseURL          string `json:"base_url"`
	FileStoragePath  string `json:"file_storage_path"`
	DatabaseDSN      string `json:"database_dsn"`
	PgMigrationsPath string `json:"pg_migrations_path"`
	SQLitePath       string `json:"sqlite_path"`
	RedisAddr        string `json:"redis_addr"`
	RedisPassword    string `json:"redis_password"`
	RedisDB          int    `json:"redis_db"`
	StorageMode      string `json:"storage_mode"`
	SequenceAttempts int    `json:"sequence_attempts"`
	Mode             string `json:"-"`
}

// Load читает конфигурацию. args содержит аргументы командной строки без имени программы.
// Приоритет: флаги, окружение, .env, JSON-файл, значения по умолчанию.
func Load(args []string) (*Config, error) {
	v := viper.New()
	v.SetDefault("SERVER_ADDRESS", "localhost:8080") // Значения по умолчанию
	v.SetDefault("GRPC_ADDRESS", "")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("FILE_STORAGE_PATH", "")
	v.SetDefault("DATABASE_DSN", "")
	v.SetDefault("PG_MIGRATIONS_PATH", "")
	v.SetDefault("SQLITE_PATH", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("STORAGE_MODE", "")
	v.SetDefault("SEQUENCE_ATTEMPTS", 3)

	fs := flag.NewFlagSet("shortener", flag.ContinueOnError)
	serverAddress := fs.String("a", "", "server address")
	grpcAddress := fs.String("g", "", "gRPC server address")
	baseURL := fs.String("b", "", "base URL")
	fileStoragePath := fs.String("f", "", "file storage path (JSON lines)")
	databaseDSN := fs.String("d", "", "PostgreSQL DSN")
	sqlitePath := fs.String("sqlite", "", "SQLite database path")
	redisAddr := fs.String("r", "", "Redis address")
	storageMode := fs.String("m", "", "storage mode: database, redis, sqlite, file, in-memory")
	configPath := fs.String("c", "", "path to JSON config file")
	fs.StringVar(configPath, "config", "", "path to JSON config file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// JSON-файл задаёт значения ниже окружения
	if *configPath == "" {
		*configPath = os.Getenv("CONFIG")
	}
	if *configPath != "" {
		if err := loadJSON(v, *configPath); err != nil {
			return nil, err
		}
	}

	// Читаем .env, если есть (не переопределяет переменные окружения)
	if err := mergeDotEnv(v, ".env"); err != nil {
		return nil, err
	}
	v.AutomaticEnv()

	cfg := &Config{
		ServerAddress:    v.GetString("SERVER_ADDRESS"),
		GRPCAddress:      v.GetString("GRPC_ADDRESS"),
		BaseURL:          v.GetString("BASE_URL"),
		FileStoragePath:  v.GetString("FILE_STORAGE_PATH"),
		DatabaseDSN:      v.GetString("DATABASE_DSN"),
		PgMigrationsPath: v.GetString("PG_MIGRATIONS_PATH"),
		SQLitePath:       v.GetString("SQLITE_PATH"),
		RedisAddr:        v.GetString("REDIS_ADDR"),
		RedisPassword:    v.GetString("REDIS_PASSWORD"),
		RedisDB:          v.GetInt("REDIS_DB"),
		StorageMode:      v.GetString("STORAGE_MODE"),
		SequenceAttempts: v.GetInt("SEQUENCE_ATTEMPTS"),
	}

	// Флаги имеют высший приоритет
	override := func(flagVal string, target *string) {
		if flagVal != "" {
			*target = flagVal
		}
	}
	override(*serverAddress, &cfg.ServerAddress)
	override(*grpcAddress, &cfg.GRPCAddress)
	override(*baseURL, &cfg.BaseURL)
	override(*fileStoragePath, &cfg.FileStoragePath)
	override(*databaseDSN, &cfg.DatabaseDSN)
	override(*sqlitePath, &cfg.SQLitePath)
	override(*redisAddr, &cfg.RedisAddr)
	override(*storageMode, &cfg.StorageMode)

	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	cfg.Mode = cfg.selectMode()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// selectMode берёт явный STORAGE_MODE, иначе первый настроенный бэкенд.
func (cfg *Config) selectMode() string {
	switch {
	case cfg.StorageMode != "":
		return strings.ToLower(cfg.StorageMode)
	case cfg.DatabaseDSN != "":
		return ModeDatabase
	case cfg.RedisAddr != "":
		return ModeRedis
	case cfg.SQLitePath != "":
		return ModeSQLite
	case cfg.FileStoragePath != "":
		return ModeFile
	default:
		return ModeMemory
	}
}

// Validate проверяет корректность конфигурации
func (cfg *Config) Validate() error {
	if cfg.ServerAddress == "" {
		return errors.New("адрес сервера не может быть пустым")
	}
	if cfg.BaseURL == "" {
		return errors.New("базовый URL не может быть пустым")
	}
	if cfg.SequenceAttempts < 1 {
		return fmt.Errorf("SEQUENCE_ATTEMPTS должен быть положительным, получено %d", cfg.SequenceAttempts)
	}

	switch cfg.Mode {
	case ModeDatabase:
		if cfg.DatabaseDSN == "" {
			return errors.New("режим database требует DATABASE_DSN")
		}
	case ModeRedis:
		if cfg.RedisAddr == "" {
			return errors.New("режим redis требует REDIS_ADDR")
		}
	case ModeSQLite:
		if cfg.SQLitePath == "" {
			return errors.New("режим sqlite требует SQLITE_PATH")
		}
	case ModeFile:
		if cfg.FileStoragePath == "" {
			return errors.New("режим file требует FILE_STORAGE_PATH")
		}
	case ModeMemory:
	default:
		return fmt.Errorf("неизвестный режим хранения %q", cfg.Mode)
	}
	return nil
}

func loadJSON(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	type rawJSON Config
	var fileCfg rawJSON
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}

	set := func(key, val string) {
		if val != "" {
			v.SetDefault(key, val)
		}
	}
	set("SERVER_ADDRESS", fileCfg.ServerAddress)
	set("GRPC_ADDRESS", fileCfg.GRPCAddress)
	set("BASE_URL", fileCfg.BaseURL)
	set("FILE_STORAGE_PATH", fileCfg.FileStoragePath)
	set("DATABASE_DSN", fileCfg.DatabaseDSN)
	set("PG_MIGRATIONS_PATH", fileCfg.PgMigrationsPath)
	set("SQLITE_PATH", fileCfg.SQLitePath)
	set("REDIS_ADDR", fileCfg.RedisAddr)
	set("REDIS_PASSWORD", fileCfg.RedisPassword)
	set("STORAGE_MODE", fileCfg.StorageMode)
	if fileCfg.RedisDB != 0 {
		v.SetDefault("REDIS_DB", fileCfg.RedisDB)
	}
	if fileCfg.SequenceAttempts != 0 {
		v.SetDefault("SEQUENCE_ATTEMPTS", fileCfg.SequenceAttempts)
	}
	return nil
}

// mergeDotEnv подмешивает .env как файл конфигурации viper. Отсутствие файла не ошибка.
func mergeDotEnv(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}
