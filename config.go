// Package swallow carries the configuration and shared glue used by the
// command-line entry points.
package swallow

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"
	"gopkg.in/yaml.v2"

	"github.com/swallow-rail/swallow/database"
	"github.com/swallow-rail/swallow/trust"
)

// DefaultBrokerAddr is the upstream live-feed broker.
const DefaultBrokerAddr = "datafeeds.networkrail.co.uk:61618"

// Credentials are the data-feed account shared by the daily-update fetch
// and the live-feed subscription.
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type Config struct {
	Database    database.Config `yaml:"database"`
	Credentials Credentials     `yaml:"credentials"`
	Trust       trust.Broker    `yaml:"trust"`
	CorpusPath  string          `yaml:"corpus"`
}

// LoadConfig reads a YAML config file and fills in derived defaults: the
// broker address, the broker login (from the shared feed credentials) and
// the database password (overridden by $SWALLOW_PWD when set).
func LoadConfig(path string) (Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var config Config
	if err := yaml.UnmarshalStrict(buf, &config); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	if config.Trust.Addr == "" {
		config.Trust.Addr = DefaultBrokerAddr
	}
	if config.Trust.Username == "" {
		config.Trust.Username = config.Credentials.Username
		config.Trust.Password = config.Credentials.Password
	}
	if password, ok := os.LookupEnv("SWALLOW_PWD"); ok {
		config.Database.Password = password
	}
	if config.CorpusPath == "" {
		config.CorpusPath = "datasets/corpus.json"
	}
	return config, nil
}

// PromptPassword reads the database password from the terminal.
func PromptPassword() (string, error) {
	fmt.Printf("Enter Password: ")
	pass, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pass), nil
}
