// Package db provides the embedded database migrations and seed data.
package db

import "embed"

// Migrations holds the goose migration files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Catalog is the development seed consumed by cmd/seed-db.
//
//go:embed seed/catalog.json
var Catalog []byte
