package storage

import "context"

// Schema setup for the four record sets owned by this service plus the
// cluster assignment tables. Every table is keyed first by gamespace.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS groups (
		group_id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		gamespace_id TEXT NOT NULL,
		group_class TEXT NOT NULL,
		group_key TEXT NOT NULL,
		group_clustered BOOLEAN NOT NULL DEFAULT TRUE,
		group_cluster_size INT NOT NULL DEFAULT 1000,
		UNIQUE (gamespace_id, group_class, group_key)
	)`,
	`CREATE TABLE IF NOT EXISTS group_participants (
		participation_id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		gamespace_id TEXT NOT NULL,
		group_id BIGINT NOT NULL,
		group_class TEXT NOT NULL,
		group_key TEXT NOT NULL,
		participation_account TEXT NOT NULL,
		participation_role TEXT NOT NULL,
		cluster_id BIGINT NOT NULL DEFAULT 0,
		UNIQUE (gamespace_id, group_id, participation_account)
	)`,
	`CREATE INDEX IF NOT EXISTS group_participants_account_idx
		ON group_participants (gamespace_id, participation_account)`,
	`CREATE TABLE IF NOT EXISTS group_clusters (
		cluster_id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		gamespace_id TEXT NOT NULL,
		group_id BIGINT NOT NULL,
		cluster_size INT NOT NULL,
		cluster_accounts INT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS group_clusters_group_idx
		ON group_clusters (gamespace_id, group_id)`,
	`CREATE TABLE IF NOT EXISTS group_cluster_accounts (
		gamespace_id TEXT NOT NULL,
		group_id BIGINT NOT NULL,
		account_id TEXT NOT NULL,
		cluster_id BIGINT NOT NULL,
		PRIMARY KEY (gamespace_id, group_id, account_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		message_id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		gamespace_id TEXT NOT NULL,
		message_uuid TEXT NOT NULL,
		message_sender TEXT NOT NULL,
		message_recipient_class TEXT NOT NULL,
		message_recipient TEXT NOT NULL,
		message_time TIMESTAMPTZ NOT NULL,
		message_type TEXT NOT NULL,
		message_payload JSONB NOT NULL,
		message_delivered BOOLEAN NOT NULL DEFAULT FALSE,
		message_flags TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS messages_recipient_idx
		ON messages (gamespace_id, message_recipient_class, message_recipient)`,
	`CREATE INDEX IF NOT EXISTS messages_sender_idx
		ON messages (gamespace_id, message_sender)`,
}

// Setup creates the schema when it does not exist yet
func Setup(ctx context.Context, db Datastore) error {
	for _, stmt := range schemaStatements {
		if err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
