package scylla

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/gocql/gocql"

	"storefront/internal/infra/config"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// NewSession creates the keyspace and tables when missing and returns a session bound to the keyspace.
func NewSession(ctx context.Context, cfg config.ScyllaConfig, logger *slog.Logger) (*gocql.Session, error) {
	if !keyspacePattern.MatchString(cfg.Keyspace) {
		return nil, fmt.Errorf("scylla: invalid keyspace name %q", cfg.Keyspace)
	}
	consistency, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
	if err != nil {
		return nil, fmt.Errorf("scylla: %w", err)
	}

	base, err := newCluster(cfg, consistency).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: connect: %w", err)
	}
	err = ensureKeyspace(ctx, base, cfg)
	base.Close()
	if err != nil {
		return nil, err
	}

	cluster := newCluster(cfg, consistency)
	cluster.Keyspace = cfg.Keyspace
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: connect to keyspace %s: %w", cfg.Keyspace, err)
	}
	if err := ensureTables(ctx, session); err != nil {
		session.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("scylla connected", "hosts", cfg.Hosts, "keyspace", cfg.Keyspace)
	}
	return session, nil
}

func newCluster(cfg config.ScyllaConfig, consistency gocql.Consistency) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.Timeout
	cluster.Consistency = consistency
	cluster.SerialConsistency = gocql.LocalSerial
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	return cluster
}

func ensureKeyspace(ctx context.Context, session *gocql.Session, cfg config.ScyllaConfig) error {
	replication := cfg.Replication
	if replication < 1 {
		replication = 1
	}
	cql := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		cfg.Keyspace, replication,
	)
	if err := session.Query(cql).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("scylla: create keyspace: %w", err)
	}
	return nil
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS conversation_pairs (
	pair_key text PRIMARY KEY,
	conversation_id text
)`,
	`CREATE TABLE IF NOT EXISTS conversations (
	id text PRIMARY KEY,
	pair_key text,
	participants list<text>,
	roles map<text, text>,
	created_at timestamp,
	updated_at timestamp
)`,
	`CREATE TABLE IF NOT EXISTS conversations_by_user (
	user_id text,
	conversation_id text,
	PRIMARY KEY (user_id, conversation_id)
)`,
	`CREATE TABLE IF NOT EXISTS messages (
	conversation_id text,
	created_at timestamp,
	id text,
	sender_id text,
	body text,
	attachment_url text,
	PRIMARY KEY (conversation_id, created_at, id)
) WITH CLUSTERING ORDER BY (created_at ASC, id ASC)`,
}

func ensureTables(ctx context.Context, session *gocql.Session) error {
	for _, cql := range tables {
		if err := session.Query(cql).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("scylla: create table: %w", err)
		}
	}
	return nil
}
