package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// StatusChange describes a compare-and-set on a task's status.
type StatusChange struct {
	Expected scheduler.TaskStatus
	Next     scheduler.TaskStatus
	Owner    string // Written when Next is in_progress; ignored for completed
	Reason   string // Recorded in the transition history

	// ExpectedVersion, when non-zero, must equal the stored version. It pins
	// the write to the exact record the caller read, so a task that left and
	// re-entered Expected in the meantime is still a conflict.
	ExpectedVersion int64
}

// Transition is one recorded status change of a task.
type Transition struct {
	TaskID string               `json:"taskId"`
	From   scheduler.TaskStatus `json:"from"`
	To     scheduler.TaskStatus `json:"to"`
	Owner  string               `json:"owner,omitempty"`
	Reason string               `json:"reason,omitempty"`
	At     time.Time            `json:"at"`
}

// Store defines the persistence contract the engine consumes.
//
// Writes are last-write-wins per record. Nothing is atomic across records
// except what a single method documents.
type Store interface {
	// Task records
	ListTasks(ctx context.Context) ([]*scheduler.Task, error)
	GetTask(ctx context.Context, taskID string) (*scheduler.Task, error)
	SaveTask(ctx context.Context, task *scheduler.Task) error

	// Edge updates that leave status and owner untouched. SetDependencies
	// replaces blockedBy and stamps updated_at; SetBlocksMirror rewrites the
	// stored blocks mirror without counting as a mutation of the task.
	SetDependencies(ctx context.Context, taskID string, blockedBy []string) error
	SetBlocksMirror(ctx context.Context, taskID string, blocks []string) error

	// CompareAndSwapStatus moves a task from change.Expected to change.Next in
	// one conditional write and returns the updated record. It fails with
	// ErrStatusConflict if the stored status differs from Expected or the
	// stored version differs from a non-zero ExpectedVersion, and with
	// ErrTaskNotFound if the task does not exist.
	CompareAndSwapStatus(ctx context.Context, taskID string, change StatusChange) (*scheduler.Task, error)

	// Transition history
	History(ctx context.Context, taskID string) ([]Transition, error)

	// Lifecycle
	Close() error
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock sets the source of mutation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string, opts ...Option) (*SQLiteStore, error) {
	// Create parent directories
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite applies _pragma parameters on every new connection
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; a second connection serves reads during a write
	db.SetMaxOpenConns(2)

	return newStore(ctx, db, opts)
}

// NewMemoryStore creates a private in-memory SQLite store for testing.
// Each call gets its own database, shared only between that store's connections.
func NewMemoryStore(ctx context.Context, opts ...Option) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:memdb-%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	// Shared-cache memory databases report table locks instead of waiting on
	// them, so keep everything on a single connection.
	db.SetMaxOpenConns(1)

	return newStore(ctx, db, opts)
}

func newStore(ctx context.Context, db *sql.DB, opts []Option) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
