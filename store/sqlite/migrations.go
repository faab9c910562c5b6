package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Tether store (SQLite).
var Migrations = migrate.NewGroup("tether")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_tuples",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tether_tuples (
    id               TEXT PRIMARY KEY,
    namespace        TEXT NOT NULL,
    resource_type    TEXT NOT NULL,
    resource_id      TEXT NOT NULL,
    relation         TEXT NOT NULL,
    subject_type     TEXT NOT NULL,
    subject_id       TEXT NOT NULL,
    subject_relation TEXT NOT NULL DEFAULT '',
    expires_at       TEXT,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now')),

    UNIQUE(namespace, resource_type, resource_id, relation, subject_type, subject_id, subject_relation)
);

CREATE INDEX IF NOT EXISTS idx_tether_tuples_resource ON tether_tuples (namespace, resource_type, resource_id, relation);
CREATE INDEX IF NOT EXISTS idx_tether_tuples_subject ON tether_tuples (namespace, subject_type, subject_id, relation);
CREATE INDEX IF NOT EXISTS idx_tether_tuples_expires ON tether_tuples (namespace, expires_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tether_tuples`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hierarchy_rules",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tether_hierarchy_rules (
    id              TEXT PRIMARY KEY,
    namespace       TEXT NOT NULL,
    resource_type   TEXT NOT NULL,
    permission      TEXT NOT NULL,
    implies         TEXT NOT NULL,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),

    UNIQUE(namespace, resource_type, permission, implies)
);

CREATE INDEX IF NOT EXISTS idx_tether_rules_rtype ON tether_hierarchy_rules (namespace, resource_type);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tether_hierarchy_rules`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_audit_events",
			Version: "20240101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tether_audit_events (
    id               TEXT PRIMARY KEY,
    event_time       TEXT NOT NULL DEFAULT (datetime('now')),
    event_type       TEXT NOT NULL,
    namespace        TEXT NOT NULL,
    resource_type    TEXT NOT NULL DEFAULT '',
    resource_id      TEXT NOT NULL DEFAULT '',
    relation         TEXT NOT NULL DEFAULT '',
    subject_type     TEXT NOT NULL DEFAULT '',
    subject_id       TEXT NOT NULL DEFAULT '',
    subject_relation TEXT NOT NULL DEFAULT '',
    tuple_id         TEXT NOT NULL DEFAULT '',
    expires_at       TEXT,
    actor_id         TEXT NOT NULL DEFAULT '',
    request_id       TEXT NOT NULL DEFAULT '',
    reason           TEXT NOT NULL DEFAULT '',
    ip_address       TEXT NOT NULL DEFAULT '',
    user_agent       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tether_aevt_ns_time ON tether_audit_events (namespace, event_time);
CREATE INDEX IF NOT EXISTS idx_tether_aevt_actor ON tether_audit_events (namespace, actor_id, event_time);
CREATE INDEX IF NOT EXISTS idx_tether_aevt_resource ON tether_audit_events (namespace, resource_type, resource_id, event_time);

CREATE TABLE IF NOT EXISTS tether_audit_partitions (
    name            TEXT PRIMARY KEY,
    month_start     TEXT NOT NULL
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS tether_audit_partitions;
DROP TABLE IF EXISTS tether_audit_events;
`)
				return err
			},
		},
	)
}
