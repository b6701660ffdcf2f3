package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DatabaseConfig contains PostgreSQL connection settings. The connection can
// be given as a single URL or as individual components.
type DatabaseConfig struct {
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Name     string `envconfig:"NAME"`
	User     string `envconfig:"USER"`
	Password string `envconfig:"PASSWORD"`

	SSLMode string `envconfig:"SSL_MODE" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	// Connection Pool. Evaluation traffic is write-heavy (every decision is
	// an insert), so the pool defaults run a bit larger than a read-mostly
	// service would need.
	MaxConns        int           `envconfig:"MAX_CONNS" default:"30" validate:"min=1"`
	MinConns        int           `envconfig:"MIN_CONNS" default:"4" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME" default:"30m"`
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`
}

// ConnectionString returns the URL when one was provided, otherwise it builds
// a postgres:// URL from the individual components.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}

	params := url.Values{}
	params.Add("sslmode", c.SSLMode)

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?%s",
		c.User, c.Password, c.Host, c.Port, c.Name, params.Encode(),
	)
}

// Validate checks the database configuration, enforcing password and SSL
// requirements in production.
func (c *DatabaseConfig) Validate(environment string) error {
	if c.URL != "" {
		if err := validatePostgresURL(c.URL); err != nil {
			return fmt.Errorf("invalid database URL: %w", err)
		}
		return c.validatePool()
	}

	if err := validateHost(c.Host, "database"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "database"); err != nil {
		return err
	}
	if err := validateDatabaseName(c.Name); err != nil {
		return err
	}
	if err := validateNoWhitespace(c.User, "database user"); err != nil {
		return err
	}

	if environment == EnvironmentProduction {
		if c.Password == "" {
			return fmt.Errorf("database password is required in production environment")
		}
		if err := validatePasswordStrength(c.Password, "database", environment); err != nil {
			return err
		}
		if !isSecureSSLMode(c.SSLMode) {
			return fmt.Errorf("database SSL mode must be 'require', 'verify-ca', or 'verify-full' in production environment")
		}
	}

	return c.validatePool()
}

func (c *DatabaseConfig) validatePool() error {
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min_conns (%d) cannot be greater than max_conns (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

// IsConfigured reports whether enough settings are present to attempt a
// connection. The password is checked separately, by environment.
func (c *DatabaseConfig) IsConfigured() bool {
	if c.URL != "" {
		return true
	}
	return c.Host != "" && c.Port != "" && c.Name != "" && c.User != ""
}

func validatePostgresURL(dbURL string) error {
	parsed, err := parseAndValidateURL(dbURL, []string{"postgres", "postgresql"})
	if err != nil {
		return err
	}

	if parsed.User == nil || parsed.User.Username() == "" {
		return fmt.Errorf("user is required in URL")
	}

	if strings.TrimPrefix(parsed.Path, "/") == "" {
		return fmt.Errorf("database name is required in URL path")
	}

	return nil
}

func validateDatabaseName(name string) error {
	if err := validateNoWhitespace(name, "database name"); err != nil {
		return err
	}
	// PostgreSQL identifier limit.
	if len(name) > 63 {
		return fmt.Errorf("database name cannot exceed 63 characters")
	}
	return nil
}
