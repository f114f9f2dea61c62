package persistence

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mevpipe/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store provides SQLite-based persistence for operational state: the
// discovered pair descriptors and the opportunity history. Failures here are
// observability losses, not control-flow errors.
type Store struct {
	db *sql.DB
}

// NewStore creates a new SQLite store and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

// migrate runs database schema migrations.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pairs (
			venue TEXT NOT NULL,
			token_a TEXT NOT NULL,
			token_b TEXT NOT NULL,
			token0 TEXT NOT NULL,
			token1 TEXT NOT NULL,
			pair_address TEXT NOT NULL,
			discovered_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (venue, token_a, token_b)
		)`,
		`CREATE TABLE IF NOT EXISTS opportunities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token_a TEXT NOT NULL,
			token_b TEXT NOT NULL,
			buy_venue TEXT NOT NULL,
			sell_venue TEXT NOT NULL,
			buy_price REAL NOT NULL,
			sell_price REAL NOT NULL,
			profit_percent REAL NOT NULL,
			min_trade TEXT NOT NULL,
			max_trade TEXT NOT NULL,
			detected_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_detected_at ON opportunities(detected_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	log.Info().Msg("Database migrations completed")
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePairs records the discovered descriptors, replacing prior rows.
func (s *Store) SavePairs(descriptors []models.PairDescriptor) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO pairs
		(venue, token_a, token_b, token0, token1, pair_address) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range descriptors {
		if _, err := stmt.Exec(d.Venue, d.TokenA, d.TokenB, d.Token0, d.Token1, d.PairAddress); err != nil {
			return fmt.Errorf("inserting pair %s: %w", d.Key(), err)
		}
	}

	return tx.Commit()
}

// SaveOpportunity appends one published opportunity to the history.
func (s *Store) SaveOpportunity(opp *models.Opportunity) error {
	_, err := s.db.Exec(`INSERT INTO opportunities
		(token_a, token_b, buy_venue, sell_venue, buy_price, sell_price, profit_percent, min_trade, max_trade, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		opp.TokenA, opp.TokenB, opp.BuyVenue, opp.SellVenue,
		opp.BuyPrice, opp.SellPrice, opp.ProfitPercent,
		opp.MinTrade.String(), opp.MaxTrade.String(), opp.DetectedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting opportunity: %w", err)
	}
	return nil
}
