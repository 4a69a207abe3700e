// Package db provides the embedded database schema.
package db

import _ "embed"

// Schema holds the DDL for the catalog, discount, cart and order tables. Every
// statement is idempotent so it can run on each start.
//
//go:embed migrations/001_schema.sql
var Schema string
