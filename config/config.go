package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/melkeydev/arrowdb/database"
	"github.com/melkeydev/arrowdb/databases"
	"github.com/melkeydev/arrowdb/dialect"
	"github.com/melkeydev/arrowdb/schema"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Tables   []TableConfig  `yaml:"tables,omitempty"`
	// SyncOnStart reconciles the declared tables before serving.
	SyncOnStart bool `yaml:"sync_on_start,omitempty"`
}

type DatabaseConfig struct {
	DBType           string   `yaml:"type"                        env:"ARROWDB_DB_TYPE"`
	Host             string   `yaml:"host,omitempty"              env:"ARROWDB_DB_HOST"`
	Port             int      `yaml:"port,omitempty"              env:"ARROWDB_DB_PORT"`
	Name             string   `yaml:"name,omitempty"              env:"ARROWDB_DB_NAME"`
	User             string   `yaml:"user,omitempty"              env:"ARROWDB_DB_USER"`
	Password         string   `yaml:"password,omitempty"          env:"ARROWDB_DB_PASSWORD"`
	Query            string   `yaml:"query,omitempty"             env:"ARROWDB_DB_QUERY"`
	File             string   `yaml:"file,omitempty"              env:"ARROWDB_DB_FILE"`
	Driver           string   `yaml:"driver,omitempty"            env:"ARROWDB_DB_DRIVER"`
	ConnectionString string   `yaml:"connection_string,omitempty" env:"ARROWDB_DB_CONNECTION_STRING"`
	CreateDatabase   bool     `yaml:"create_database,omitempty"   env:"ARROWDB_DB_CREATE_DATABASE"`
	UnsafeQueries    bool     `yaml:"unsafe_queries,omitempty"    env:"ARROWDB_UNSAFE_QUERIES"`
	Quote            string   `yaml:"quote,omitempty"`
	Charset          string   `yaml:"charset,omitempty"`
	RemoveColumns    []string `yaml:"remove_columns,omitempty"    env:"ARROWDB_REMOVE_COLUMNS" envSeparator:","`
	UniqueFallback   bool     `yaml:"unique_fallback,omitempty"   env:"ARROWDB_UNIQUE_FALLBACK"`
}

type TableConfig struct {
	Name    string         `yaml:"name"`
	Columns []ColumnConfig `yaml:"columns"`
}

type ColumnConfig struct {
	Name          string  `yaml:"name"`
	Type          string  `yaml:"type"`
	Nullable      *bool   `yaml:"nullable,omitempty"`
	Default       *string `yaml:"default,omitempty"`
	Primary       bool    `yaml:"primary,omitempty"`
	AutoIncrement bool    `yaml:"auto_increment,omitempty"`
}

// LoadConfig reads the YAML file at configPath and applies ARROWDB_*
// environment overrides on top of it.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document and applies environment overrides.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := env.Parse(&config.Database); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &config, nil
}

func (d *DatabaseConfig) Dialect() (dialect.Dialect, error) {
	if d.DBType == "" {
		return dialect.Unknown, fmt.Errorf("database type is required")
	}
	return dialect.Parse(d.DBType)
}

// Settings validates the connection fields for the configured dialect.
func (d *DatabaseConfig) Settings() (dialect.Dialect, databases.Settings, error) {
	dt, err := d.Dialect()
	if err != nil {
		return dt, databases.Settings{}, err
	}

	s := databases.Settings{
		Host:             d.Host,
		Port:             d.Port,
		Database:         d.Name,
		User:             d.User,
		Password:         d.Password,
		Query:            d.Query,
		File:             d.File,
		Driver:           d.Driver,
		ConnectionString: d.ConnectionString,
		CreateDatabase:   d.CreateDatabase,
		Quote:            d.Quote,
		Charset:          d.Charset,
	}

	switch dt {
	case dialect.PostgreSQL, dialect.MySQL:
		if s.ConnectionString == "" && s.Database == "" {
			return dt, s, fmt.Errorf("a connection string or database name is required for %s connection", dt)
		}
	case dialect.SQLite:
		if s.File == "" && s.ConnectionString == "" {
			s.File = "database.db"
		}
	default:
		return dt, s, fmt.Errorf("no connector for database type: %s", dt)
	}
	return dt, s, nil
}

// Options maps the composer and migration settings to database.Options.
func (d *DatabaseConfig) Options() database.Options {
	return database.Options{
		Unsafe:         d.UnsafeQueries,
		Quote:          d.Quote,
		Charset:        d.Charset,
		RemoveColumns:  d.RemoveColumns,
		UniqueFallback: d.UniqueFallback,
	}
}

func (c ColumnConfig) options() []schema.ColumnOption {
	var opts []schema.ColumnOption
	if c.Primary {
		opts = append(opts, schema.Primary())
	}
	if c.Nullable != nil && !*c.Nullable {
		opts = append(opts, schema.NotNull())
	}
	if c.Default != nil {
		opts = append(opts, schema.Default(*c.Default))
	}
	if c.AutoIncrement {
		opts = append(opts, schema.AutoIncrement())
	}
	return opts
}

// Define returns the declaration of t for schema.Registry.Add.
func (t TableConfig) Define() func(*schema.Builder) {
	return func(b *schema.Builder) {
		b.Table(t.Name)
		for _, c := range t.Columns {
			b.Column(c.Name, c.Type, c.options()...)
		}
	}
}

// RegisterTables declares every configured table on db.
func (c *Config) RegisterTables(db *database.Database) error {
	for _, t := range c.Tables {
		if _, err := db.AddTable(t.Define()); err != nil {
			return fmt.Errorf("failed to declare table %s: %w", t.Name, err)
		}
	}
	return nil
}
