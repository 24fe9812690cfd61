package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Martin-Hayot/bidding-engine/configs"
	apperrors "github.com/Martin-Hayot/bidding-engine/pkg/errors"
	"github.com/Martin-Hayot/bidding-engine/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
)

type service struct {
	db *sql.DB
}

var dbInstance *service

func New(cfg *configs.Config) Service {
	// Reuse Connection
	if dbInstance != nil {
		return dbInstance
	}
	dbConfig := cfg.Database
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.Name,
		dbConfig.SSLMode,
	)
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Fatal("Error opening database: ", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	dbInstance = &service{
		db: db,
	}
	return dbInstance
}

// NewWithDB wraps an existing connection, used by integration tests that
// provision their own database.
func NewWithDB(db *sql.DB) Service {
	return &service{db: db}
}

// InitSchema creates the lots and bids tables. The bids sequence column is a
// bigserial: ledger order is assigned at commit time and doubles as the sync
// feed cursor.
func (s *service) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS lots (
		id VARCHAR(255) PRIMARY KEY,
		owner_id VARCHAR(255) NOT NULL,
		title VARCHAR(255) NOT NULL DEFAULT '',
		currency VARCHAR(8) NOT NULL,
		starting_price DECIMAL(18, 2) NOT NULL,
		current_price DECIMAL(18, 2) NOT NULL,
		start_date TIMESTAMPTZ NOT NULL,
		end_date TIMESTAMPTZ NOT NULL,
		status VARCHAR(32) NOT NULL DEFAULT 'draft',
		bids_count INT NOT NULL DEFAULT 0,
		current_bidder_id VARCHAR(255),
		winner_id VARCHAR(255),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS bids (
		sequence BIGSERIAL PRIMARY KEY,
		id VARCHAR(255) NOT NULL UNIQUE,
		lot_id VARCHAR(255) NOT NULL REFERENCES lots(id),
		bidder_id VARCHAR(255) NOT NULL,
		amount DECIMAL(18, 2) NOT NULL,
		currency VARCHAR(8) NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_bids_lot_seq ON bids(lot_id, sequence);
	CREATE INDEX IF NOT EXISTS idx_bids_lot_bidder ON bids(lot_id, bidder_id);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("error creating schema: %w", err)
	}
	return nil
}

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	// Ping the database
	err := s.db.PingContext(ctx)
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	// Database is up, add more statistics
	stats["status"] = "up"
	stats["message"] = "It's healthy"

	// Get database stats (like open connections, in use, idle, etc.)
	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()

	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

// Close closes the database connection.
func (s *service) Close() error {
	log.Info("Disconnected from database")
	return s.db.Close()
}

const lotColumns = `"id", "owner_id", "title", "currency", "starting_price", "current_price", "start_date", "end_date", "status", "bids_count", "current_bidder_id", "winner_id", "created_at", "updated_at"`

func scanLot(row interface {
	Scan(dest ...any) error
}) (types.Lot, error) {
	var lot types.Lot
	var status string
	err := row.Scan(
		&lot.ID,
		&lot.OwnerID,
		&lot.Title,
		&lot.Currency,
		&lot.StartingPrice,
		&lot.CurrentPrice,
		&lot.StartDate,
		&lot.EndDate,
		&status,
		&lot.BidsCount,
		&lot.CurrentBidderID,
		&lot.WinnerID,
		&lot.CreatedAt,
		&lot.UpdatedAt,
	)
	lot.Status = types.LotStatus(status)
	return lot, err
}

func (s *service) CreateLot(ctx context.Context, lot types.Lot) (types.Lot, error) {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	query := `
        INSERT INTO lots ("id", "owner_id", "title", "currency", "starting_price", "current_price", "start_date", "end_date", "status")
        VALUES ($1, $2, $3, $4, $5, $5, $6, $7, $8)
        RETURNING ` + lotColumns
	created, err := scanLot(s.db.QueryRowContext(ctx, query,
		lot.ID, lot.OwnerID, lot.Title, lot.Currency, lot.StartingPrice,
		lot.StartDate, lot.EndDate, string(lot.Status),
	))
	if err != nil {
		return types.Lot{}, apperrors.Wrap(err, "error creating lot")
	}
	return created, nil
}

func (s *service) GetLotByID(ctx context.Context, lotID string) (types.Lot, error) {
	query := `SELECT ` + lotColumns + ` FROM lots WHERE "id" = $1`
	lot, err := scanLot(s.db.QueryRowContext(ctx, query, lotID))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Lot{}, apperrors.New(apperrors.ErrLotNotFound, "lot not found")
	}
	if err != nil {
		return types.Lot{}, fmt.Errorf("error getting lot by id: %w", err)
	}
	return lot, nil
}

func (s *service) GetLotsByIDs(ctx context.Context, lotIDs []string) ([]types.Lot, error) {
	if len(lotIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(lotIDs))
	args := make([]any, len(lotIDs))
	for i, id := range lotIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `SELECT ` + lotColumns + ` FROM lots WHERE "id" IN (` + strings.Join(placeholders, ", ") + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error getting lots by ids: %w", err)
	}
	defer rows.Close()

	var lots []types.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning lot: %w", err)
		}
		lots = append(lots, lot)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over lots: %w", err)
	}
	return lots, nil
}

// RaiseLotPrice runs the conditional raise and the ledger append in one
// transaction. The WHERE clause carries the whole concurrency guarantee: two
// racing bids can never both pass it with amounts out of order, regardless of
// how many server processes are running.
func (s *service) RaiseLotPrice(ctx context.Context, lotID string, bid types.Bid) (RaiseOutcome, error) {
	// Read committed is sufficient: a raise blocked behind a concurrent
	// commit re-evaluates the WHERE clause against the fresh row, so the
	// loser comes back with zero rows affected instead of a serialization
	// error.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RaiseOutcome{}, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	raiseQuery := `
        UPDATE lots
        SET "current_price" = $1, "current_bidder_id" = $2, "bids_count" = "bids_count" + 1, "updated_at" = now()
        WHERE "id" = $3 AND "current_price" < $1 AND "status" = 'active'
    `
	res, err := tx.ExecContext(ctx, raiseQuery, bid.Amount, bid.BidderID, lotID)
	if err != nil {
		return RaiseOutcome{}, fmt.Errorf("error raising lot price: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return RaiseOutcome{}, fmt.Errorf("error reading rows affected: %w", err)
	}

	if affected == 0 {
		// Lost the race (or the lot closed); report the fresh price.
		var current decimal.Decimal
		err = tx.QueryRowContext(ctx, `SELECT "current_price" FROM lots WHERE "id" = $1`, lotID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return RaiseOutcome{}, apperrors.New(apperrors.ErrLotNotFound, "lot not found")
		}
		if err != nil {
			return RaiseOutcome{}, fmt.Errorf("error reading current price: %w", err)
		}
		return RaiseOutcome{Raised: false, CurrentPrice: current}, nil
	}

	if bid.ID == "" {
		bid.ID = uuid.New().String()
	}
	insertQuery := `
        INSERT INTO bids ("id", "lot_id", "bidder_id", "amount", "currency", "message")
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING "sequence", "created_at"
    `
	err = tx.QueryRowContext(ctx, insertQuery,
		bid.ID, lotID, bid.BidderID, bid.Amount, bid.Currency, bid.Message,
	).Scan(&bid.Sequence, &bid.CreatedAt)
	if err != nil {
		return RaiseOutcome{}, fmt.Errorf("error creating bid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return RaiseOutcome{}, fmt.Errorf("error committing bid: %w", err)
	}

	bid.LotID = lotID
	log.Debugf("Lot %s raised to %s by %s", lotID, bid.Amount.String(), bid.BidderID)
	return RaiseOutcome{Raised: true, CurrentPrice: bid.Amount, Bid: bid}, nil
}

func (s *service) UpdateLotStatus(ctx context.Context, lotID string, from, to types.LotStatus) (bool, error) {
	query := `
        UPDATE lots
        SET "status" = $1, "updated_at" = now()
        WHERE "id" = $2 AND "status" = $3
    `
	res, err := s.db.ExecContext(ctx, query, string(to), lotID, string(from))
	if err != nil {
		return false, fmt.Errorf("error updating lot status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading rows affected: %w", err)
	}
	return affected == 1, nil
}

// ExpireLotIfNoBids re-checks the empty-ledger condition inside the write
// itself. A raise that committed between the caller's read and this update
// bumps bids_count first, so the WHERE clause refuses the expiry.
func (s *service) ExpireLotIfNoBids(ctx context.Context, lotID string) (bool, error) {
	query := `
        UPDATE lots
        SET "status" = 'expired', "updated_at" = now()
        WHERE "id" = $1 AND "status" = 'active' AND "bids_count" = 0
    `
	res, err := s.db.ExecContext(ctx, query, lotID)
	if err != nil {
		return false, fmt.Errorf("error expiring lot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading rows affected: %w", err)
	}
	return affected == 1, nil
}

// SellLotToLeader reads the winner out of the same row it flips: the raise
// path keeps current_bidder_id in lockstep with current_price, so whoever is
// on the row when the status write lands is the winner, even if that bid
// committed after the caller decided to finalize.
func (s *service) SellLotToLeader(ctx context.Context, lotID string) (types.Lot, bool, error) {
	query := `
        UPDATE lots
        SET "status" = 'sold', "winner_id" = "current_bidder_id", "updated_at" = now()
        WHERE "id" = $1 AND "status" = 'active' AND "bids_count" > 0
        RETURNING ` + lotColumns
	lot, err := scanLot(s.db.QueryRowContext(ctx, query, lotID))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Lot{}, false, nil
	}
	if err != nil {
		return types.Lot{}, false, fmt.Errorf("error finalizing lot sale: %w", err)
	}
	return lot, true, nil
}

func (s *service) CancelLotIfNoBids(ctx context.Context, lotID string, from types.LotStatus) (bool, error) {
	query := `
        UPDATE lots
        SET "status" = 'cancelled', "updated_at" = now()
        WHERE "id" = $1 AND "status" = $2 AND "bids_count" = 0
    `
	res, err := s.db.ExecContext(ctx, query, lotID, string(from))
	if err != nil {
		return false, fmt.Errorf("error cancelling lot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading rows affected: %w", err)
	}
	return affected == 1, nil
}

func (s *service) GetBidsSince(ctx context.Context, lotID string, sinceSeq int64, limit int) ([]types.Bid, error) {
	query := `
        SELECT "sequence", "id", "lot_id", "bidder_id", "amount", "currency", "message", "created_at"
        FROM bids
        WHERE "lot_id" = $1 AND "sequence" > $2
        ORDER BY "sequence" ASC
        LIMIT NULLIF($3, 0)
    `
	rows, err := s.db.QueryContext(ctx, query, lotID, sinceSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("error getting bids: %w", err)
	}
	defer rows.Close()

	var bids []types.Bid
	for rows.Next() {
		var bid types.Bid
		err := rows.Scan(
			&bid.Sequence,
			&bid.ID,
			&bid.LotID,
			&bid.BidderID,
			&bid.Amount,
			&bid.Currency,
			&bid.Message,
			&bid.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning bid: %w", err)
		}
		bids = append(bids, bid)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over bids: %w", err)
	}
	return bids, nil
}

func (s *service) GetLatestBidByUser(ctx context.Context, lotID, userID string) (*types.Bid, error) {
	return s.getOneBid(ctx, `
        SELECT "sequence", "id", "lot_id", "bidder_id", "amount", "currency", "message", "created_at"
        FROM bids WHERE "lot_id" = $1 AND "bidder_id" = $2
        ORDER BY "sequence" DESC LIMIT 1
    `, lotID, userID)
}

func (s *service) getOneBid(ctx context.Context, query string, args ...any) (*types.Bid, error) {
	var bid types.Bid
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&bid.Sequence,
		&bid.ID,
		&bid.LotID,
		&bid.BidderID,
		&bid.Amount,
		&bid.Currency,
		&bid.Message,
		&bid.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting bid: %w", err)
	}
	return &bid, nil
}
