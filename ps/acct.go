package ps

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Accountant persists process termination records to a sqlite
// database. It is optional; a system without one simply drops the
// records.
type Accountant struct {
	db *sql.DB
}

const acctSchema = `
CREATE TABLE IF NOT EXISTS process_accounting (
	id           TEXT PRIMARY KEY,
	process_id   INTEGER NOT NULL,
	binary_name  TEXT NOT NULL,
	exit_reason  TEXT NOT NULL,
	exit_status  INTEGER NOT NULL,
	user_time_ns INTEGER NOT NULL,
	kern_time_ns INTEGER NOT NULL,
	started_at   TEXT NOT NULL,
	ended_at     TEXT NOT NULL
);`

// OpenAccountant opens or creates the accounting database.
func OpenAccountant(path string) (*Accountant, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("accounting: %w", err)
	}
	if _, err := db.Exec(acctSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("accounting: %w", err)
	}
	return &Accountant{db: db}, nil
}

// Close releases the database.
func (a *Accountant) Close() error {
	return a.db.Close()
}

// Record writes one termination record. Failures are logged by the
// caller's subsystem; accounting never blocks termination.
func (a *Accountant) Record(p *Process, exit ExitStatus) error {
	own, children := p.Usage()
	total := own
	total.Accumulate(&children)
	_, err := a.db.Exec(
		`INSERT INTO process_accounting
		 (id, process_id, binary_name, exit_reason, exit_status,
		  user_time_ns, kern_time_ns, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		int64(p.ID),
		p.BinaryName(),
		exit.Reason.String(),
		exit.Status,
		int64(total.UserTime),
		int64(total.KernelTime),
		p.startTime.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("accounting: record %d: %w", p.ID, err)
	}
	return nil
}

// TerminationRecord is one persisted accounting row.
type TerminationRecord struct {
	ID         string
	ProcessID  ProcessID
	BinaryName string
	ExitReason string
	ExitStatus int
}

// Records returns the persisted rows, oldest first.
func (a *Accountant) Records() ([]TerminationRecord, error) {
	rows, err := a.db.Query(
		`SELECT id, process_id, binary_name, exit_reason, exit_status
		 FROM process_accounting ORDER BY ended_at`)
	if err != nil {
		return nil, fmt.Errorf("accounting: %w", err)
	}
	defer rows.Close()
	var records []TerminationRecord
	for rows.Next() {
		var r TerminationRecord
		var pid int64
		if err := rows.Scan(&r.ID, &pid, &r.BinaryName, &r.ExitReason, &r.ExitStatus); err != nil {
			return nil, fmt.Errorf("accounting: %w", err)
		}
		r.ProcessID = ProcessID(pid)
		records = append(records, r)
	}
	return records, rows.Err()
}
