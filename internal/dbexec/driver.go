package dbexec

import (
	"context"
	"fmt"
	"time"

	"graphql-cypher/internal/intent"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
)

// DriverConfig holds connection settings for OpenDriver.
type DriverConfig struct {
	URI                          string
	User                         string
	Password                     string
	MaxConnectionPoolSize        int
	ConnectionAcquisitionTimeout time.Duration
}

// OpenDriver creates a driver and verifies it can reach the server.
func OpenDriver(ctx context.Context, cfg DriverConfig) (neo4j.DriverWithContext, error) {
	auth := neo4j.NoAuth()
	if cfg.User != "" {
		auth = neo4j.BasicAuth(cfg.User, cfg.Password, "")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *config.Config) {
		if cfg.MaxConnectionPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
		}
		if cfg.ConnectionAcquisitionTimeout > 0 {
			c.ConnectionAcquisitionTimeout = cfg.ConnectionAcquisitionTimeout
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify neo4j connectivity: %w", err)
	}
	return driver, nil
}

// ModeFor returns the transaction mode an operation needs.
func ModeFor(op intent.Operation) Mode {
	switch op {
	case intent.OperationRead, intent.OperationAggregate, "":
		return ModeRead
	default:
		return ModeWrite
	}
}
