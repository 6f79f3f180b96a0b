// Package featurestore provides the behavioral feature read backing
// rule evaluation, over the raw transaction history it is aggregated
// from. Works with both SQLite and PostgreSQL drivers.
package featurestore

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// transactionDateLayout accepts the history timestamp format with or
// without fractional seconds.
const transactionDateLayout = "2006-01-02T15:04:05.999999999"

// SQLStore implements domain.FeatureStore using database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a new feature store based on configuration.
func New(cfg domain.FeatureStoreConfig) (domain.FeatureStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// UserFeatures returns the profile fields computable for a user as of
// the given instant. Window cutoffs are computed here and bound as
// typed parameters, so the SQL text is identical for both drivers and
// never carries an interpolated value.
func (s *SQLStore) UserFeatures(ctx context.Context, userID int64, now time.Time) (*domain.PartialProfile, error) {
	cutoff1h := now.Add(-1 * time.Hour)
	cutoff7d := now.Add(-7 * 24 * time.Hour)
	cutoff14d := now.Add(-14 * 24 * time.Hour)

	query := `
		SELECT
			COUNT(*),
			COUNT(DISTINCT CASE WHEN transaction_date >= ? THEN card_number END),
			COALESCE(SUM(CASE WHEN transaction_date >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN transaction_date >= ? THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN transaction_date >= ? THEN amount END),
			AVG(CASE WHEN has_cbk = 1 THEN 1.0 ELSE 0.0 END)
		FROM transactions
		WHERE user_id = ?
	`

	var (
		lifetimeTxns  int64
		distinctCards int64
		txnsLastHour  int64
		txns7d        int64
		avgAmount7d   sql.NullFloat64
		lifetimeRate  sql.NullFloat64
	)

	err := s.db.QueryRowContext(ctx, s.rebind(query),
		cutoff14d, cutoff1h, cutoff7d, cutoff7d, userID,
	).Scan(&lifetimeTxns, &distinctCards, &txnsLastHour, &txns7d, &avgAmount7d, &lifetimeRate)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate user features: %w", err)
	}

	// Zero rows is the expected new-user outcome: every field absent,
	// never an error.
	if lifetimeTxns == 0 {
		return &domain.PartialProfile{}, nil
	}

	profile := &domain.PartialProfile{
		DistinctCards2Weeks: &distinctCards,
		TxnsLastHour:        &txnsLastHour,
	}

	if lifetimeRate.Valid {
		profile.LifetimeCbkRate = &lifetimeRate.Float64
	}
	if avgAmount7d.Valid {
		profile.AvgAmount7d = &avgAmount7d.Float64
	}

	// Trailing-week hourly mean. With no trailing-week history the
	// feature is not computable and stays absent rather than a
	// degenerate zero baseline.
	if txns7d > 0 {
		avgTxns := float64(txns7d) / 168.0
		profile.AvgTxnsPerHour = &avgTxns
	}

	binRate, err := s.cardBinCbkRate(ctx, userID, cutoff7d, cutoff14d)
	if err != nil {
		return nil, err
	}
	profile.CardBinCbkRate7d = binRate

	return profile, nil
}

// cardBinCbkRate computes the 7-day chargeback rate across all
// transactions whose card BIN (leading 6 digits) is among the BINs
// this user used in the last 14 days. NULL (no matching rows) means
// the feature is absent.
func (s *SQLStore) cardBinCbkRate(ctx context.Context, userID int64, cutoff7d, cutoff14d time.Time) (*float64, error) {
	query := `
		SELECT AVG(CASE WHEN has_cbk = 1 THEN 1.0 ELSE 0.0 END)
		FROM transactions
		WHERE transaction_date >= ?
		  AND substr(card_number, 1, 6) IN (
			SELECT DISTINCT substr(card_number, 1, 6)
			FROM transactions
			WHERE user_id = ? AND transaction_date >= ?
		  )
	`

	var rate sql.NullFloat64
	err := s.db.QueryRowContext(ctx, s.rebind(query), cutoff7d, userID, cutoff14d).Scan(&rate)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate card bin chargeback rate: %w", err)
	}

	if !rate.Valid {
		return nil, nil
	}
	return &rate.Float64, nil
}

// SaveTransaction appends one transaction to the history.
func (s *SQLStore) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.UserID == 0 && len(tx.TransactionID) == 0 {
		return fmt.Errorf("%w: transaction has no identity", domain.ErrInvalidInput)
	}

	occurredAt, err := time.Parse(transactionDateLayout, tx.TransactionDate)
	if err != nil {
		return fmt.Errorf("%w: unparsable transaction_date %q", domain.ErrInvalidInput, tx.TransactionDate)
	}

	hasCbk := 0
	if tx.HasCbk {
		hasCbk = 1
	}

	query := `
		INSERT INTO transactions (
			transaction_id, merchant_id, user_id, card_number,
			transaction_date, amount, device_id, has_cbk
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, s.rebind(query),
		rawIDText(tx.TransactionID), tx.MerchantID, tx.UserID, tx.CardNumber,
		occurredAt.UTC(), tx.Amount, tx.DeviceID, hasCbk,
	)
	return err
}

// SeedFromCSV bulk-loads historical transactions in the sample export
// format: transaction_id, merchant_id, user_id, card_number,
// transaction_date, transaction_amount, device_id, has_cbk.
// Malformed rows are skipped with a warning.
func (s *SQLStore) SeedFromCSV(ctx context.Context, r io.Reader) (int, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read CSV header: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"transaction_id", "merchant_id", "user_id", "card_number", "transaction_date", "transaction_amount", "device_id", "has_cbk"} {
		if _, ok := colIndex[required]; !ok {
			return 0, fmt.Errorf("%w: CSV missing column %s", domain.ErrInvalidInput, required)
		}
	}

	inserted := 0
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			slog.Warn("skipping malformed CSV row", "line", line, "error", err)
			continue
		}

		tx, err := rowToTransaction(record, colIndex)
		if err != nil {
			slog.Warn("skipping malformed CSV row", "line", line, "error", err)
			continue
		}

		if err := s.SaveTransaction(ctx, tx); err != nil {
			slog.Warn("skipping unsaveable CSV row", "line", line, "error", err)
			continue
		}
		inserted++
	}

	return inserted, nil
}

func rowToTransaction(record []string, colIndex map[string]int) (*domain.Transaction, error) {
	merchantID, err := strconv.ParseInt(record[colIndex["merchant_id"]], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad merchant_id: %w", err)
	}
	userID, err := strconv.ParseInt(record[colIndex["user_id"]], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad user_id: %w", err)
	}
	amount, err := strconv.ParseFloat(record[colIndex["transaction_amount"]], 64)
	if err != nil {
		return nil, fmt.Errorf("bad transaction_amount: %w", err)
	}
	deviceID, err := strconv.ParseInt(record[colIndex["device_id"]], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad device_id: %w", err)
	}

	return &domain.Transaction{
		TransactionID:   json.RawMessage(record[colIndex["transaction_id"]]),
		MerchantID:      merchantID,
		UserID:          userID,
		CardNumber:      record[colIndex["card_number"]],
		TransactionDate: record[colIndex["transaction_date"]],
		Amount:          amount,
		DeviceID:        deviceID,
		HasCbk:          strings.EqualFold(record[colIndex["has_cbk"]], "true"),
	}, nil
}

// TransactionCount returns the number of stored transactions.
func (s *SQLStore) TransactionCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// Reset drops and recreates the transaction history.
func (s *SQLStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS transactions"); err != nil {
		return fmt.Errorf("failed to drop transactions table: %w", err)
	}
	return s.migrate()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for pool-stats instrumentation.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// rawIDText normalizes a raw JSON transaction id to its stored text
// form: quoted JSON strings lose their quotes, everything else keeps
// its raw bytes.
func rawIDText(id json.RawMessage) string {
	var str string
	if err := json.Unmarshal(id, &str); err == nil {
		return str
	}
	return string(id)
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
