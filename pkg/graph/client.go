// Package graph projects routing outcomes into a Neo4j/Memgraph graph over Bolt
package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

// Config holds graph database settings. Database is empty for the server default,
// which is what Memgraph expects.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Database    string
	MaxPoolSize int
}

// Client is a Bolt driver scoped to one database
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   ectologger.Logger
}

// NewClient creates a driver and checks the server is reachable
func NewClient(ctx context.Context, cfg Config, logger ectologger.Logger) (*Client, error) {
	uri := fmt.Sprintf("bolt://%s:%d", cfg.Host, cfg.Port)

	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(uri, auth, func(c *config.Config) {
		if cfg.MaxPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxPoolSize
		}
	})
	if err != nil {
		return nil, fmt.Errorf("creating graph driver for %s: %w", uri, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to graph at %s: %w", uri, err)
	}

	logger.WithFields(map[string]any{"uri": uri}).Info("Connected to graph database")
	return &Client{
		driver:   driver,
		database: cfg.Database,
		logger:   logger,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// VerifyConnectivity checks the server is reachable
func (c *Client) VerifyConnectivity(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

func (c *Client) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: c.database})
}

// ExecuteWrite runs work in a retried write transaction
func (c *Client) ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Client.ExecuteWrite")
	defer span.End()

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, work)
}

// ExecuteRead runs work in a retried read transaction
func (c *Client) ExecuteRead(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Client.ExecuteRead")
	defer span.End()

	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	return session.ExecuteRead(ctx, work)
}

// indexes back the MERGE lookups of the routing projection
var indexes = []string{
	"CREATE INDEX notification_id IF NOT EXISTS FOR (n:Notification) ON (n.id)",
	"CREATE INDEX repository_id IF NOT EXISTS FOR (r:Repository) ON (r.id)",
	"CREATE INDEX journal_issn IF NOT EXISTS FOR (j:Journal) ON (j.issn)",
}

// EnsureIndexes creates the projection's lookup indexes. Schema statements run as
// auto-commit queries because neither server allows them inside explicit transactions.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, stmt := range indexes {
		result, err := session.Run(ctx, stmt, nil)
		if err == nil {
			_, err = result.Consume(ctx)
		}
		if err != nil {
			return fmt.Errorf("creating graph index %q: %w", stmt, err)
		}
	}
	return nil
}
