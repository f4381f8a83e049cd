package database

import (
	"database/sql"
	"fmt"
	"log"
)

// schemaStatements create the marketplace tables and the constraints the
// bidding and settlement paths rely on. Statements are idempotent so the
// runner is safe to execute on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		name TEXT NOT NULL,
		phone_number TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		last_login TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS listings (
		id UUID PRIMARY KEY,
		seller_id INTEGER NOT NULL REFERENCES users(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		make TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL DEFAULT 0,
		mileage INTEGER NOT NULL DEFAULT 0,
		sale_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		price BIGINT NOT NULL,
		is_available BOOLEAN NOT NULL DEFAULT TRUE,
		reserve_price BIGINT,
		bid_increment BIGINT NOT NULL DEFAULT 500,
		auction_start_date TIMESTAMPTZ,
		auction_end_date TIMESTAMPTZ,
		auto_extend_minutes INTEGER NOT NULL DEFAULT 5,
		current_bid BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS bids (
		id UUID PRIMARY KEY,
		listing_id UUID NOT NULL REFERENCES listings(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		amount BIGINT NOT NULL,
		max_bid BIGINT,
		is_auto_bid BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bids_listing_amount ON bids (listing_id, amount DESC)`,
	`CREATE TABLE IF NOT EXISTS deposits (
		id UUID PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id),
		listing_id UUID NOT NULL REFERENCES listings(id),
		amount BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		charge_id TEXT NOT NULL DEFAULT '',
		payment_id TEXT NOT NULL DEFAULT '',
		refund_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, listing_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id UUID PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id),
		listing_id UUID NOT NULL REFERENCES listings(id),
		total_price BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		charge_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	// One active (PENDING or CONFIRMED) order per user and listing.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_active
		ON orders (user_id, listing_id)
		WHERE status IN ('PENDING', 'CONFIRMED')`,
}

// RunMigrations applies the schema statements in order.
func RunMigrations(db *sql.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	log.Println("Database schema up to date")
	return nil
}
