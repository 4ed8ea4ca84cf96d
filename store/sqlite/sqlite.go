/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements all persistence interfaces (scheduling.TxStore,
  approval.Store, billing.RateSource) using SQLite. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences, with
  the per-resource mutex replaced by an advisory lock keyed by resource id.

KEY TABLES:
  resources:           Bookable instruments/rooms with capacity
  reservations:        Time-bounded claims, status-transitioned, never deleted
  maintenance_windows: Blackout periods
  approval_rules:      Rule definitions (conditions stored as JSON variants)
  approval_requests:   Workflow state with optimistic version column
  approval_history:    Append-only transition trail (no UPDATE, no DELETE)
  billing_rates:       Pricing rows (decimals stored as TEXT, never REAL)
  billing_records:     Charge snapshots, immutable once confirmed

CONCURRENCY:
  The conflict-check-then-create critical section runs inside
  WithResourceLock: a per-resource mutex plus a database transaction, so
  two concurrent submissions for the same resource serialize and re-check
  under the lock. SQLite is opened in WAL mode so readers don't block.

TIMESTAMPS:
  Stored as INTEGER unix nanoseconds so interval overlap probes are plain
  integer comparisons in SQL.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - scheduling/store.go, approval/store.go: Interface definitions
  - scheduling/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/booking-engine/approval"
	"github.com/warp/booking-engine/billing"
	"github.com/warp/booking-engine/scheduling"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	conn
	db *sql.DB

	lockMu sync.Mutex
	locks  map[scheduling.ResourceID]*sync.Mutex
}

// conn carries the queryable handle so the same query methods serve both
// the root *sql.DB and an open *sql.Tx.
type conn struct {
	q dbtx
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ scheduling.TxStore = (*Store)(nil)
	_ approval.Store     = (*Store)(nil)
	_ billing.RateSource = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		conn:  conn{q: db},
		db:    db,
		locks: make(map[scheduling.ResourceID]*sync.Mutex),
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		capacity INTEGER NOT NULL CHECK (capacity >= 1),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_closed BOOLEAN NOT NULL DEFAULT FALSE,
		requires_induction BOOLEAN NOT NULL DEFAULT FALSE,
		requires_training BOOLEAN NOT NULL DEFAULT FALSE,
		requires_risk BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		requester_id TEXT NOT NULL,
		requester_role TEXT NOT NULL,
		user_type TEXT NOT NULL,
		start_ns INTEGER NOT NULL,
		end_ns INTEGER NOT NULL,
		status TEXT NOT NULL,
		recurring_group_id TEXT NOT NULL DEFAULT '',
		exclude_from_conflicts BOOLEAN NOT NULL DEFAULT FALSE,
		purpose TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Overlap probes (hot path): resource + interval bounds
	CREATE INDEX IF NOT EXISTS idx_reservations_resource_window
		ON reservations(resource_id, start_ns, end_ns);
	CREATE INDEX IF NOT EXISTS idx_reservations_group
		ON reservations(recurring_group_id) WHERE recurring_group_id != '';
	CREATE INDEX IF NOT EXISTS idx_reservations_requester_status
		ON reservations(requester_id, status, start_ns);

	CREATE TABLE IF NOT EXISTS maintenance_windows (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		start_ns INTEGER NOT NULL,
		end_ns INTEGER NOT NULL,
		blocks_booking BOOLEAN NOT NULL DEFAULT TRUE,
		description TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_maintenance_resource_window
		ON maintenance_windows(resource_id, start_ns, end_ns);

	CREATE TABLE IF NOT EXISTS approval_rules (
		id TEXT PRIMARY KEY,
		resource_id TEXT,
		rule_type TEXT NOT NULL,
		roles_json TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 100,
		conditions_json TEXT NOT NULL,
		fallback_rule_id TEXT,
		approvers_json TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_rules_resource
		ON approval_rules(resource_id, priority);

	CREATE TABLE IF NOT EXISTS approval_requests (
		id TEXT PRIMARY KEY,
		reservation_id TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		requester_id TEXT NOT NULL,
		requester_role TEXT NOT NULL,
		start_ns INTEGER NOT NULL,
		end_ns INTEGER NOT NULL,
		state TEXT NOT NULL,
		rule_id TEXT NOT NULL DEFAULT '',
		rule_type TEXT NOT NULL DEFAULT '',
		auto_approved BOOLEAN NOT NULL DEFAULT FALSE,
		current_level INTEGER NOT NULL DEFAULT 0,
		required_json TEXT NOT NULL,
		prerequisites_json TEXT NOT NULL,
		reviewed_by TEXT,
		reviewed_at INTEGER,
		notes TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_state
		ON approval_requests(state, created_at);
	CREATE INDEX IF NOT EXISTS idx_requests_requester
		ON approval_requests(requester_id, state);

	-- Append-only: transitions are recorded, never edited
	CREATE TABLE IF NOT EXISTS approval_history (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		at INTEGER NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		notes TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_history_request
		ON approval_history(request_id, at);

	CREATE TABLE IF NOT EXISTS billing_rates (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		user_type TEXT NOT NULL,
		hourly_rate TEXT NOT NULL,
		valid_from INTEGER NOT NULL,
		valid_until INTEGER,
		priority INTEGER NOT NULL DEFAULT 0,
		minimum_charge_minutes INTEGER NOT NULL DEFAULT 0,
		rounding_minutes INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_rates_scope
		ON billing_rates(resource_id, user_type, is_active);

	CREATE TABLE IF NOT EXISTS billing_records (
		id TEXT PRIMARY KEY,
		reservation_id TEXT NOT NULL,
		rate_id TEXT NOT NULL,
		hourly_rate TEXT NOT NULL,
		minimum_charge_minutes INTEGER NOT NULL,
		rounding_minutes INTEGER NOT NULL,
		actual_minutes INTEGER NOT NULL,
		billed_minutes INTEGER NOT NULL,
		hours_used TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		discount_amount TEXT NOT NULL,
		surcharge_amount TEXT NOT NULL,
		final_amount TEXT NOT NULL,
		needs_review BOOLEAN NOT NULL DEFAULT FALSE,
		is_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_reservation
		ON billing_records(reservation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS AND LOCKING
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(scheduling.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	view := &txView{conn{q: tx}}
	if err := fn(view); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// WithResourceLock serializes the critical section per resource. A
// process-local mutex suffices for SQLite's single-writer model; a
// PostgreSQL port would take pg_advisory_xact_lock(hash(resource_id))
// inside the transaction instead.
func (s *Store) WithResourceLock(ctx context.Context, id scheduling.ResourceID, fn func(scheduling.Store) error) error {
	mu := s.resourceMutex(id)
	mu.Lock()
	defer mu.Unlock()
	return s.WithTx(ctx, fn)
}

func (s *Store) resourceMutex(id scheduling.ResourceID) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

// txView exposes the scheduling store surface over an open transaction.
type txView struct {
	conn
}

var _ scheduling.Store = (*txView)(nil)

// =============================================================================
// RESOURCES
// =============================================================================

func (c conn) GetResource(ctx context.Context, id scheduling.ResourceID) (*scheduling.Resource, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, name, capacity, is_active, is_closed,
		       requires_induction, requires_training, requires_risk
		FROM resources WHERE id = ?`, string(id))

	var r scheduling.Resource
	err := row.Scan(&r.ID, &r.Name, &r.Capacity, &r.IsActive, &r.IsClosed,
		&r.RequiresSafetyInduction, &r.RequiresLabTraining, &r.RequiresRiskAssessment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scheduling.ErrResourceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c conn) PutResource(ctx context.Context, r *scheduling.Resource) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO resources (id, name, capacity, is_active, is_closed,
			requires_induction, requires_training, requires_risk)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			capacity = excluded.capacity,
			is_active = excluded.is_active,
			is_closed = excluded.is_closed,
			requires_induction = excluded.requires_induction,
			requires_training = excluded.requires_training,
			requires_risk = excluded.requires_risk`,
		string(r.ID), r.Name, r.Capacity, r.IsActive, r.IsClosed,
		r.RequiresSafetyInduction, r.RequiresLabTraining, r.RequiresRiskAssessment)
	return err
}

func (c conn) ListResources(ctx context.Context) ([]*scheduling.Resource, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, name, capacity, is_active, is_closed,
		       requires_induction, requires_training, requires_risk
		FROM resources ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*scheduling.Resource
	for rows.Next() {
		var r scheduling.Resource
		if err := rows.Scan(&r.ID, &r.Name, &r.Capacity, &r.IsActive, &r.IsClosed,
			&r.RequiresSafetyInduction, &r.RequiresLabTraining, &r.RequiresRiskAssessment); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// =============================================================================
// RESERVATIONS
// =============================================================================

const reservationCols = `id, resource_id, requester_id, requester_role, user_type,
	start_ns, end_ns, status, recurring_group_id, exclude_from_conflicts,
	purpose, created_at, updated_at`

func (c conn) PutReservation(ctx context.Context, r *scheduling.Reservation) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.ResourceID), r.RequesterID, string(r.Requester), string(r.UserType),
		r.Interval.Start.UnixNano(), r.Interval.End.UnixNano(), string(r.Status),
		string(r.RecurringGroupID), r.ExcludeFromConflicts,
		r.Purpose, r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano())
	return err
}

func (c conn) GetReservation(ctx context.Context, id scheduling.ReservationID) (*scheduling.Reservation, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+reservationCols+` FROM reservations WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list, err := scanReservations(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, scheduling.ErrReservationNotFound
	}
	return list[0], nil
}

func (c conn) ListOverlapping(ctx context.Context, resourceID scheduling.ResourceID, probe scheduling.Interval) ([]*scheduling.Reservation, error) {
	// Half-open overlap: existing.start < probe.end AND probe.start < existing.end
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+reservationCols+` FROM reservations
		WHERE resource_id = ? AND start_ns < ? AND ? < end_ns
		ORDER BY start_ns, id`,
		string(resourceID), probe.End.UnixNano(), probe.Start.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReservations(rows)
}

func (c conn) ListByGroup(ctx context.Context, group scheduling.GroupID) ([]*scheduling.Reservation, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+reservationCols+` FROM reservations
		WHERE recurring_group_id = ? ORDER BY start_ns, id`, string(group))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReservations(rows)
}

func (c conn) UpdateReservationStatus(ctx context.Context, id scheduling.ReservationID, from, to scheduling.ReservationStatus) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE reservations SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), time.Now().UnixNano(), string(id), string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	current, err := c.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	return &scheduling.StaleStateError{ReservationID: id, Expected: from, Actual: current.Status}
}

func scanReservations(rows *sql.Rows) ([]*scheduling.Reservation, error) {
	var out []*scheduling.Reservation
	for rows.Next() {
		var r scheduling.Reservation
		var startNS, endNS, createdNS, updatedNS int64
		var purpose sql.NullString
		if err := rows.Scan(&r.ID, &r.ResourceID, &r.RequesterID, &r.Requester, &r.UserType,
			&startNS, &endNS, &r.Status, &r.RecurringGroupID, &r.ExcludeFromConflicts,
			&purpose, &createdNS, &updatedNS); err != nil {
			return nil, err
		}
		r.Interval = scheduling.Interval{Start: time.Unix(0, startNS).UTC(), End: time.Unix(0, endNS).UTC()}
		r.Purpose = purpose.String
		r.CreatedAt = time.Unix(0, createdNS).UTC()
		r.UpdatedAt = time.Unix(0, updatedNS).UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

// =============================================================================
// MAINTENANCE WINDOWS
// =============================================================================

func (c conn) PutMaintenanceWindow(ctx context.Context, w *scheduling.MaintenanceWindow) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO maintenance_windows (id, resource_id, start_ns, end_ns, blocks_booking, description)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(w.ID), string(w.ResourceID), w.Interval.Start.UnixNano(), w.Interval.End.UnixNano(),
		w.BlocksBooking, w.Description)
	return err
}

func (c conn) ListBlockingMaintenance(ctx context.Context, resourceID scheduling.ResourceID, probe scheduling.Interval) ([]*scheduling.MaintenanceWindow, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, resource_id, start_ns, end_ns, blocks_booking, description
		FROM maintenance_windows
		WHERE resource_id = ? AND blocks_booking AND start_ns < ? AND ? < end_ns
		ORDER BY start_ns, id`,
		string(resourceID), probe.End.UnixNano(), probe.Start.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*scheduling.MaintenanceWindow
	for rows.Next() {
		var w scheduling.MaintenanceWindow
		var startNS, endNS int64
		var desc sql.NullString
		if err := rows.Scan(&w.ID, &w.ResourceID, &startNS, &endNS, &w.BlocksBooking, &desc); err != nil {
			return nil, err
		}
		w.Interval = scheduling.Interval{Start: time.Unix(0, startNS).UTC(), End: time.Unix(0, endNS).UTC()}
		w.Description = desc.String
		out = append(out, &w)
	}
	return out, rows.Err()
}

// =============================================================================
// APPROVAL RULES
// =============================================================================

func (s *Store) PutRule(ctx context.Context, r *approval.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	rolesJSON, err := json.Marshal(r.Roles)
	if err != nil {
		return err
	}
	condJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return err
	}
	approversJSON, err := json.Marshal(r.Approvers)
	if err != nil {
		return err
	}

	var resourceID any
	if r.ResourceID != nil {
		resourceID = string(*r.ResourceID)
	}
	var fallback any
	if r.FallbackRuleID != nil {
		fallback = string(*r.FallbackRuleID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_rules (id, resource_id, rule_type, roles_json, priority,
			conditions_json, fallback_rule_id, approvers_json, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			resource_id = excluded.resource_id,
			rule_type = excluded.rule_type,
			roles_json = excluded.roles_json,
			priority = excluded.priority,
			conditions_json = excluded.conditions_json,
			fallback_rule_id = excluded.fallback_rule_id,
			approvers_json = excluded.approvers_json,
			is_active = excluded.is_active`,
		string(r.ID), resourceID, string(r.Type), string(rolesJSON), r.Priority,
		string(condJSON), fallback, string(approversJSON), r.IsActive)
	return err
}

func (s *Store) GetRule(ctx context.Context, id approval.RuleID) (*approval.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_id, rule_type, roles_json, priority,
		       conditions_json, fallback_rule_id, approvers_json, is_active
		FROM approval_rules WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list, err := scanRules(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, approval.ErrRuleNotFound
	}
	return list[0], nil
}

func (s *Store) ListCandidateRules(ctx context.Context, resourceID scheduling.ResourceID) ([]*approval.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_id, rule_type, roles_json, priority,
		       conditions_json, fallback_rule_id, approvers_json, is_active
		FROM approval_rules
		WHERE is_active AND (resource_id IS NULL OR resource_id = ?)`,
		string(resourceID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list, err := scanRules(rows)
	if err != nil {
		return nil, err
	}
	approval.SortRules(list)
	return list, nil
}

func scanRules(rows *sql.Rows) ([]*approval.Rule, error) {
	var out []*approval.Rule
	for rows.Next() {
		var r approval.Rule
		var resourceID, fallback sql.NullString
		var rolesJSON, condJSON, approversJSON string
		if err := rows.Scan(&r.ID, &resourceID, &r.Type, &rolesJSON, &r.Priority,
			&condJSON, &fallback, &approversJSON, &r.IsActive); err != nil {
			return nil, err
		}
		if resourceID.Valid {
			rid := scheduling.ResourceID(resourceID.String)
			r.ResourceID = &rid
		}
		if fallback.Valid {
			fid := approval.RuleID(fallback.String)
			r.FallbackRuleID = &fid
		}
		if err := json.Unmarshal([]byte(rolesJSON), &r.Roles); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(condJSON), &r.Conditions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(approversJSON), &r.Approvers); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// =============================================================================
// APPROVAL REQUESTS
// =============================================================================

const requestCols = `id, reservation_id, resource_id, requester_id, requester_role,
	start_ns, end_ns, state, rule_id, rule_type, auto_approved, current_level,
	required_json, prerequisites_json, reviewed_by, reviewed_at, notes,
	version, created_at, updated_at`

func (s *Store) PutRequest(ctx context.Context, r *approval.Request) error {
	requiredJSON, err := json.Marshal(r.Required)
	if err != nil {
		return err
	}
	prereqJSON, err := json.Marshal(r.Prerequisites)
	if err != nil {
		return err
	}
	var reviewedAt any
	if r.ReviewedAt != nil {
		reviewedAt = r.ReviewedAt.UnixNano()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_requests (`+requestCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.ReservationID), string(r.ResourceID), r.RequesterID, string(r.Requester),
		r.Interval.Start.UnixNano(), r.Interval.End.UnixNano(), string(r.State),
		string(r.RuleID), string(r.RuleType), r.AutoApproved, r.CurrentLevel,
		string(requiredJSON), string(prereqJSON), r.ReviewedBy, reviewedAt, r.Notes,
		r.Version, r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano())
	return err
}

func (s *Store) GetRequest(ctx context.Context, id approval.RequestID) (*approval.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestCols+` FROM approval_requests WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list, err := scanRequests(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, approval.ErrRequestNotFound
	}
	return list[0], nil
}

func (s *Store) UpdateRequest(ctx context.Context, r *approval.Request, expectVersion int) error {
	prereqJSON, err := json.Marshal(r.Prerequisites)
	if err != nil {
		return err
	}
	var reviewedAt any
	if r.ReviewedAt != nil {
		reviewedAt = r.ReviewedAt.UnixNano()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE approval_requests SET
			state = ?, rule_id = ?, rule_type = ?, auto_approved = ?,
			current_level = ?, prerequisites_json = ?, reviewed_by = ?,
			reviewed_at = ?, notes = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(r.State), string(r.RuleID), string(r.RuleType), r.AutoApproved,
		r.CurrentLevel, string(prereqJSON), r.ReviewedBy,
		reviewedAt, r.Notes, expectVersion+1, r.UpdatedAt.UnixNano(),
		string(r.ID), expectVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		r.Version = expectVersion + 1
		return nil
	}

	current, err := s.GetRequest(ctx, r.ID)
	if err != nil {
		return err
	}
	return &approval.StaleStateError{RequestID: r.ID, ExpectedVersion: expectVersion, ActualVersion: current.Version}
}

func (s *Store) ListByState(ctx context.Context, state approval.State) ([]*approval.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestCols+` FROM approval_requests
		WHERE state = ? ORDER BY created_at, id`, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *Store) ListOpenByRequester(ctx context.Context, requesterID string) ([]*approval.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestCols+` FROM approval_requests
		WHERE requester_id = ? AND state IN (?, ?)
		ORDER BY created_at, id`,
		requesterID, string(approval.StatePending), string(approval.StateFirstLevelApproved))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func scanRequests(rows *sql.Rows) ([]*approval.Request, error) {
	var out []*approval.Request
	for rows.Next() {
		var r approval.Request
		var startNS, endNS, createdNS, updatedNS int64
		var reviewedAt sql.NullInt64
		var reviewedBy, notes sql.NullString
		var requiredJSON, prereqJSON string
		if err := rows.Scan(&r.ID, &r.ReservationID, &r.ResourceID, &r.RequesterID, &r.Requester,
			&startNS, &endNS, &r.State, &r.RuleID, &r.RuleType, &r.AutoApproved, &r.CurrentLevel,
			&requiredJSON, &prereqJSON, &reviewedBy, &reviewedAt, &notes,
			&r.Version, &createdNS, &updatedNS); err != nil {
			return nil, err
		}
		r.Interval = scheduling.Interval{Start: time.Unix(0, startNS).UTC(), End: time.Unix(0, endNS).UTC()}
		if err := json.Unmarshal([]byte(requiredJSON), &r.Required); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(prereqJSON), &r.Prerequisites); err != nil {
			return nil, err
		}
		r.ReviewedBy = reviewedBy.String
		if reviewedAt.Valid {
			t := time.Unix(0, reviewedAt.Int64).UTC()
			r.ReviewedAt = &t
		}
		r.Notes = notes.String
		r.CreatedAt = time.Unix(0, createdNS).UTC()
		r.UpdatedAt = time.Unix(0, updatedNS).UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

// =============================================================================
// APPROVAL HISTORY
// =============================================================================

func (s *Store) AppendHistory(ctx context.Context, e approval.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approval_history (id, request_id, at, actor_id, action, from_state, to_state, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.RequestID), e.At.UnixNano(), e.ActorID, e.Action,
		string(e.FromState), string(e.ToState), e.Notes)
	return err
}

func (s *Store) ListHistory(ctx context.Context, id approval.RequestID) ([]approval.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, at, actor_id, action, from_state, to_state, notes
		FROM approval_history WHERE request_id = ? ORDER BY at, id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []approval.HistoryEntry
	for rows.Next() {
		var e approval.HistoryEntry
		var atNS int64
		var notes sql.NullString
		if err := rows.Scan(&e.ID, &e.RequestID, &atNS, &e.ActorID, &e.Action,
			&e.FromState, &e.ToState, &notes); err != nil {
			return nil, err
		}
		e.At = time.Unix(0, atNS).UTC()
		e.Notes = notes.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// USAGE (quota rules and cooldown conditions)
// =============================================================================

func (s *Store) ApprovedUsage(ctx context.Context, requesterID string, from, to time.Time) (time.Duration, int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(end_ns - start_ns), 0), COUNT(*)
		FROM approval_requests
		WHERE requester_id = ? AND state = ? AND start_ns >= ? AND start_ns < ?`,
		requesterID, string(approval.StateApproved), from.UnixNano(), to.UnixNano())

	var totalNS int64
	var count int
	if err := row.Scan(&totalNS, &count); err != nil {
		return 0, 0, err
	}
	return time.Duration(totalNS), count, nil
}

func (s *Store) LastApprovedEnd(ctx context.Context, requesterID string) (*time.Time, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT MAX(end_ns) FROM approval_requests
		WHERE requester_id = ? AND state = ?`,
		requesterID, string(approval.StateApproved))

	var endNS sql.NullInt64
	if err := row.Scan(&endNS); err != nil {
		return nil, err
	}
	if !endNS.Valid {
		return nil, nil
	}
	t := time.Unix(0, endNS.Int64).UTC()
	return &t, nil
}

// =============================================================================
// BILLING RATES AND RECORDS
// =============================================================================

func (s *Store) PutRate(ctx context.Context, r *billing.Rate) error {
	if err := r.Validate(); err != nil {
		return err
	}
	var validUntil any
	if r.ValidUntil != nil {
		validUntil = r.ValidUntil.UnixNano()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_rates (id, resource_id, user_type, hourly_rate,
			valid_from, valid_until, priority, minimum_charge_minutes, rounding_minutes, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hourly_rate = excluded.hourly_rate,
			valid_from = excluded.valid_from,
			valid_until = excluded.valid_until,
			priority = excluded.priority,
			minimum_charge_minutes = excluded.minimum_charge_minutes,
			rounding_minutes = excluded.rounding_minutes,
			is_active = excluded.is_active`,
		string(r.ID), string(r.ResourceID), string(r.UserType), r.HourlyRate.String(),
		r.ValidFrom.UnixNano(), validUntil, r.Priority, r.MinimumChargeMinutes, r.RoundingMinutes, r.IsActive)
	return err
}

func (s *Store) ActiveRates(ctx context.Context, resourceID scheduling.ResourceID, userType scheduling.UserType) ([]*billing.Rate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_id, user_type, hourly_rate, valid_from, valid_until,
		       priority, minimum_charge_minutes, rounding_minutes, is_active
		FROM billing_rates
		WHERE resource_id = ? AND user_type = ? AND is_active
		ORDER BY priority DESC, id`,
		string(resourceID), string(userType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*billing.Rate
	for rows.Next() {
		var r billing.Rate
		var rate string
		var fromNS int64
		var untilNS sql.NullInt64
		if err := rows.Scan(&r.ID, &r.ResourceID, &r.UserType, &rate, &fromNS, &untilNS,
			&r.Priority, &r.MinimumChargeMinutes, &r.RoundingMinutes, &r.IsActive); err != nil {
			return nil, err
		}
		r.HourlyRate, err = decimal.NewFromString(rate)
		if err != nil {
			return nil, fmt.Errorf("corrupt hourly_rate for %s: %w", r.ID, err)
		}
		r.ValidFrom = time.Unix(0, fromNS).UTC()
		if untilNS.Valid {
			t := time.Unix(0, untilNS.Int64).UTC()
			r.ValidUntil = &t
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) PutRecord(ctx context.Context, r *billing.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_records (id, reservation_id, rate_id, hourly_rate,
			minimum_charge_minutes, rounding_minutes, actual_minutes, billed_minutes,
			hours_used, total_amount, discount_amount, surcharge_amount, final_amount,
			needs_review, is_confirmed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.ReservationID), string(r.RateID), r.HourlyRate.String(),
		r.MinimumChargeMinutes, r.RoundingMinutes, r.ActualMinutes, r.BilledMinutes,
		r.HoursUsed.String(), r.TotalAmount.String(), r.DiscountAmount.String(),
		r.SurchargeAmount.String(), r.FinalAmount.String(),
		r.NeedsReview, r.IsConfirmed, r.CreatedAt.UnixNano())
	return err
}

func (s *Store) GetRecord(ctx context.Context, id billing.RecordID) (*billing.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reservation_id, rate_id, hourly_rate, minimum_charge_minutes,
		       rounding_minutes, actual_minutes, billed_minutes, hours_used,
		       total_amount, discount_amount, surcharge_amount, final_amount,
		       needs_review, is_confirmed, created_at
		FROM billing_records WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, billing.ErrRecordNotFound
	}

	var r billing.Record
	var amounts [6]string
	var createdNS int64
	if err := rows.Scan(&r.ID, &r.ReservationID, &r.RateID, &amounts[0], &r.MinimumChargeMinutes,
		&r.RoundingMinutes, &r.ActualMinutes, &r.BilledMinutes, &amounts[1],
		&amounts[2], &amounts[3], &amounts[4], &amounts[5],
		&r.NeedsReview, &r.IsConfirmed, &createdNS); err != nil {
		return nil, err
	}
	for i, dst := range []*decimal.Decimal{
		&r.HourlyRate, &r.HoursUsed, &r.TotalAmount,
		&r.DiscountAmount, &r.SurchargeAmount, &r.FinalAmount,
	} {
		d, err := decimal.NewFromString(amounts[i])
		if err != nil {
			return nil, fmt.Errorf("corrupt amount for record %s: %w", r.ID, err)
		}
		*dst = d
	}
	r.CreatedAt = time.Unix(0, createdNS).UTC()
	return &r, nil
}

// ConfirmRecord marks a record confirmed. Confirmed records are immutable;
// confirming twice is ErrRecordConfirmed.
func (s *Store) ConfirmRecord(ctx context.Context, id billing.RecordID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE billing_records SET is_confirmed = TRUE
		WHERE id = ? AND NOT is_confirmed`, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetRecord(ctx, id); err != nil {
		return err
	}
	return billing.ErrRecordConfirmed
}
