// Package database holds the connection layer shared by every Swallow
// subsystem. Never put domain SQL here.
package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// EngineAppName is the session application_name the flattening engine
// announces before deleting flat rows. The reconstitution trigger skips
// deletes performed under this identity.
const EngineAppName = "fs_maintain"

type Config struct {
	Driver   string `yaml:"driver"` // "postgres" (default) or "sqlite"
	DbName   string `yaml:"dbname"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Socket   string `yaml:"socket"`
	SslMode  string `yaml:"sslmode"`
}

func (c Config) driverName() string {
	if c.Driver == "" {
		return "postgres"
	}
	return c.Driver
}

// Postgres reports whether this config targets a real Postgres server,
// as opposed to the sqlite engine the tests run against.
func (c Config) Postgres() bool {
	return c.driverName() == "postgres"
}

func Open(config Config) (*sql.DB, error) {
	if !config.Postgres() {
		return sql.Open("sqlite", config.DbName)
	}
	return sql.Open("postgres", buildDSN(config))
}

func buildDSN(config Config) string {
	host := config.Socket
	if host == "" {
		port := config.Port
		if port == 0 {
			port = 5432
		}
		host = fmt.Sprintf("%s:%d", config.Host, port)
	}

	options := ""
	if config.SslMode != "" {
		options = fmt.Sprintf("?sslmode=%s", url.QueryEscape(config.SslMode))
	} else if sslmode, ok := os.LookupEnv("PGSSLMODE"); ok {
		options = fmt.Sprintf("?sslmode=%s", url.QueryEscape(sslmode))
	}

	return fmt.Sprintf("postgres://%s:%s@%s/%s%s",
		url.QueryEscape(config.User), url.QueryEscape(config.Password),
		host, config.DbName, options)
}

// SetApplicationName tags the session for the reconstitution trigger.
// The name is a constant under our control; SET takes no bind parameters.
func SetApplicationName(db *sql.DB, config Config, name string) error {
	if !config.Postgres() {
		return nil
	}
	_, err := db.Exec(fmt.Sprintf("SET application_name = '%s'", name))
	return err
}
