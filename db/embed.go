// Package db embeds the SQL schema applied at startup.
package db

import _ "embed"

// Schema holds the bootstrap DDL for every table and index. Statements are
// idempotent (IF NOT EXISTS) so reapplying on startup is safe.
//
//go:embed migrations/001_schema.sql
var Schema string
