package model

type DatabaseDriver string

const (
	DatabaseDriverSqlite   DatabaseDriver = "sqlite"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
)

type Database struct {
	Driver DatabaseDriver `mapstructure:"driver" yaml:"driver"` // "sqlite" or "postgres"
	Dsn    string         `mapstructure:"dsn" yaml:"dsn"`
}

type Server struct {
	Port int `mapstructure:"port" yaml:"port"`
}

type Log struct {
	Level string `mapstructure:"level" yaml:"level"` // debug, info, warn, error
}

// Config holds the application configuration.
type Config struct {
	Database Database `mapstructure:"database" yaml:"database"`
	Server   Server   `mapstructure:"server" yaml:"server"`
	Log      Log      `mapstructure:"log" yaml:"log"`
}
