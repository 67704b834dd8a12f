package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mkondo/cryptoexec/internal/core/admission"
)

// Row is one archived terminal order.
type Row struct {
	RequestID  string
	ExchangeID string
	Instrument string
	Side       string
	Kind       string
	Amount     float64
	Price      float64
	State      string
	RetryCount int
	Err        string
	// Fee follows the ledger convention: positive cost, negative rebate.
	// Zero for orders that never traded.
	Fee         float64
	SubmittedAt time.Time
	ClosedAt    time.Time
}

// Store archives terminal orders in SQLite so a restart does not lose
// the day's fee history. One writer at a time; WAL keeps readers cheap.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS orders (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id   TEXT    NOT NULL,
		exchange_id  TEXT,
		instrument   TEXT    NOT NULL,
		side         TEXT,
		kind         TEXT,
		amount       REAL,
		price        REAL,
		state        TEXT    NOT NULL,
		retry_count  INTEGER NOT NULL DEFAULT 0,
		err          TEXT,
		fee          REAL    NOT NULL DEFAULT 0,
		submitted_at TEXT    NOT NULL,
		closed_at    TEXT    NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create orders table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_orders_instrument ON orders(instrument, closed_at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &Store{db: db}, nil
}

// InsertTerminal archives a request that reached a terminal state.
func (s *Store) InsertTerminal(r *admission.Request, fee float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO orders
		(request_id, exchange_id, instrument, side, kind, amount, price, state, retry_count, err, fee, submitted_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ExchangeID, r.Instrument, r.Side, r.Kind.String(), r.Amount, r.Price,
		r.State.String(), r.RetryCount, r.Err, fee,
		r.SubmittedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Recent returns the most recently closed orders, newest first.
func (s *Store) Recent(limit int) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT request_id, exchange_id, instrument, side, kind,
		amount, price, state, retry_count, err, fee, submitted_at, closed_at
		FROM orders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var exchID, side, kind, errMsg sql.NullString
		var submitted, closed string
		if err := rows.Scan(&r.RequestID, &exchID, &r.Instrument, &side, &kind,
			&r.Amount, &r.Price, &r.State, &r.RetryCount, &errMsg, &r.Fee,
			&submitted, &closed); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		r.ExchangeID = exchID.String
		r.Side = side.String
		r.Kind = kind.String
		r.Err = errMsg.String
		r.SubmittedAt, _ = time.Parse(time.RFC3339Nano, submitted)
		r.ClosedAt, _ = time.Parse(time.RFC3339Nano, closed)
		out = append(out, r)
	}
	return out, rows.Err()
}

// NetFees sums archived fees since the cutoff. Positive means the
// session paid more in taker costs than it earned in rebates.
func (s *Store) NetFees(since time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var net sql.NullFloat64
	err := s.db.QueryRow(`SELECT SUM(fee) FROM orders WHERE closed_at >= ?`,
		since.UTC().Format(time.RFC3339Nano)).Scan(&net)
	if err != nil {
		return 0, fmt.Errorf("sum fees: %w", err)
	}
	return net.Float64, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
