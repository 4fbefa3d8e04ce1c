// Package tracestore is a SQLite journal of recorded traces. Each row
// holds one finished trace as CBOR opcodes, tagged with the session of the
// driver that recorded it, so a later run can warm its trace cache.
package tracestore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/grass/driver"
	"github.com/chazu/grass/pkg/bytecode"
	"github.com/chazu/grass/vm"
)

var log = commonlog.GetLogger("grass.tracestore")

// ErrSessionNotFound is returned by Load for sessions without traces.
var ErrSessionNotFound = errors.New("session not found")

const schema = `CREATE TABLE IF NOT EXISTS traces (
	session  TEXT NOT NULL,
	key      INTEGER NOT NULL,
	func     INTEGER NOT NULL,
	pc       INTEGER NOT NULL,
	length   INTEGER NOT NULL,
	guards   INTEGER NOT NULL,
	code     BLOB NOT NULL,
	recorded INTEGER NOT NULL,
	PRIMARY KEY (session, key)
)`

// Store is an open journal.
type Store struct {
	db   *sql.DB
	path string
}

var _ driver.Journal = (*Store)(nil)

// Session summarizes the traces one driver session recorded.
type Session struct {
	ID       uuid.UUID
	Traces   int
	Recorded time.Time // latest trace
}

// Open opens or creates the journal at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened trace journal %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database file the store was opened on.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveTrace persists trace under session, replacing an earlier trace of
// the same loop in that session.
func (s *Store) SaveTrace(session uuid.UUID, trace *vm.Trace) error {
	code, err := bytecode.MarshalOps(trace.Code)
	if err != nil {
		return fmt.Errorf("encoding trace: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO traces (session, key, func, pc, length, guards, code, recorded)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.String(), int64(trace.Key), trace.Start.Func, trace.Start.PC,
		len(trace.Code), trace.Guards(), code, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving trace: %w", err)
	}
	log.Debugf("journaled trace %016x (%d ops) for session %s", uint64(trace.Key), len(trace.Code), session)
	return nil
}

// Load returns the traces recorded by session, in recording order.
func (s *Store) Load(session uuid.UUID) ([]*vm.Trace, error) {
	rows, err := s.db.Query(
		"SELECT key, func, pc, code FROM traces WHERE session = ? ORDER BY recorded, rowid",
		session.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying traces: %w", err)
	}
	defer rows.Close()

	traces, err := scanTraces(rows)
	if err != nil {
		return nil, err
	}
	if len(traces) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, session)
	}
	return traces, nil
}

// Latest returns, for every loop key in the journal, the most recently
// recorded trace, oldest first. This is what a new driver warms from.
func (s *Store) Latest() ([]*vm.Trace, error) {
	rows, err := s.db.Query(`SELECT key, func, pc, code FROM traces AS t
		WHERE rowid = (SELECT rowid FROM traces WHERE key = t.key ORDER BY recorded DESC, rowid DESC LIMIT 1)
		ORDER BY recorded, rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying traces: %w", err)
	}
	defer rows.Close()

	return scanTraces(rows)
}

// Sessions lists the sessions in the journal, most recent first.
func (s *Store) Sessions() ([]Session, error) {
	rows, err := s.db.Query(
		"SELECT session, COUNT(*), MAX(recorded) FROM traces GROUP BY session ORDER BY MAX(recorded) DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			id       string
			count    int
			recorded int64
		)
		if err := rows.Scan(&id, &count, &recorded); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("session %q: %w", id, err)
		}
		sessions = append(sessions, Session{ID: parsed, Traces: count, Recorded: time.Unix(0, recorded)})
	}
	return sessions, rows.Err()
}

func scanTraces(rows *sql.Rows) ([]*vm.Trace, error) {
	var traces []*vm.Trace
	for rows.Next() {
		var (
			key  int64
			ip   bytecode.IP
			code []byte
		)
		if err := rows.Scan(&key, &ip.Func, &ip.PC, &code); err != nil {
			return nil, fmt.Errorf("scanning trace: %w", err)
		}
		ops, err := bytecode.UnmarshalOps(code)
		if err != nil {
			return nil, fmt.Errorf("decoding trace %016x: %w", uint64(key), err)
		}
		traces = append(traces, &vm.Trace{Key: vm.LoopKey(key), Start: ip, Code: ops})
	}
	return traces, rows.Err()
}
