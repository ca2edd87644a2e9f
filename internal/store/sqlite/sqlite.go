// Package sqlite implements the persistence ports on an embedded SQLite
// database (modernc.org/sqlite, CGO-free). WAL mode is enabled for
// concurrent stage handlers; aggregates with tree or map shapes (structure,
// token maps, payloads) are stored as JSON columns.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/docpipe/docpipe/internal/document"
	"github.com/docpipe/docpipe/internal/segment"
	"github.com/docpipe/docpipe/internal/store"
	"github.com/docpipe/docpipe/internal/task"
)

// DB wraps the SQLite handle and exposes the store ports.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path with WAL mode and the
// schema initialized.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Stores returns the port bundle backed by this database.
func (d *DB) Stores() store.Stores {
	return store.Stores{
		Tasks:    taskStore{d.db},
		Segments: segmentStore{d.db},
		Mappings: mappingStore{d.db},
		Flows:    flowStore{d.db},
	}
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	source_content TEXT NOT NULL,
	language TEXT,
	structure_json TEXT,
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	word_count INTEGER DEFAULT 0,
	error_message TEXT,
	rejection_reason TEXT,
	revision INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS segments (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	seg_order INTEGER NOT NULL,
	source_content TEXT NOT NULL,
	anonymized_content TEXT,
	machine_translated_content TEXT,
	edited_content TEXT,
	tokens_json TEXT,
	format_json TEXT,
	order_id TEXT,
	evaluation_task_id TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(task_id, seg_order)
);

CREATE TABLE IF NOT EXISTS sensitive_mappings (
	task_id TEXT NOT NULL,
	token TEXT NOT NULL,
	type TEXT NOT NULL,
	original TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY(task_id, token)
);

CREATE TABLE IF NOT EXISTS flow_jobs (
	id TEXT PRIMARY KEY,
	flow_id TEXT NOT NULL,
	parent_id TEXT,
	name TEXT NOT NULL,
	queue TEXT NOT NULL,
	payload_json TEXT,
	fail_parent INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error TEXT,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_segments_task ON segments(task_id);
CREATE INDEX IF NOT EXISTS idx_flow_jobs_flow ON flow_jobs(flow_id);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

const timeLayout = time.RFC3339Nano

type taskStore struct{ db *sql.DB }

func (s taskStore) FindByID(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, source_content, language, structure_json, stage, status,
		       word_count, error_message, rejection_reason, revision, created_at, updated_at
		FROM tasks WHERE id = ?`, id)

	var t task.Task
	var structureJSON, language, errMsg, rejection sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.Type, &t.SourceContent, &language, &structureJSON,
		&t.Stage, &t.Status, &t.WordCount, &errMsg, &rejection, &t.Revision,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find task: %w", err)
	}
	t.Language = language.String
	t.ErrorMessage = errMsg.String
	t.RejectionReason = rejection.String
	if structureJSON.Valid && structureJSON.String != "" {
		var st document.Structure
		if err := json.Unmarshal([]byte(structureJSON.String), &st); err != nil {
			return nil, fmt.Errorf("decode structure: %w", err)
		}
		t.Structure = &st
	}
	t.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	t.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &t, nil
}

// Save upserts the task. Updates only apply when the stored revision matches
// the incoming one; a mismatch means another writer won and the caller must
// reload.
func (s taskStore) Save(ctx context.Context, t *task.Task) error {
	var structureJSON any
	if t.Structure != nil {
		data, err := json.Marshal(t.Structure)
		if err != nil {
			return fmt.Errorf("encode structure: %w", err)
		}
		structureJSON = string(data)
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET type=?, source_content=?, language=?, structure_json=?,
		       stage=?, status=?, word_count=?, error_message=?, rejection_reason=?,
		       revision=revision+1, updated_at=?
		WHERE id=? AND revision=?`,
		t.Type, t.SourceContent, t.Language, structureJSON, t.Stage, t.Status,
		t.WordCount, t.ErrorMessage, t.RejectionReason, now.Format(timeLayout),
		t.ID, t.Revision)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if affected == 1 {
		t.Revision++
		t.UpdatedAt = now
		return nil
	}

	// No row updated: either the task does not exist yet, or the revision
	// moved underneath us.
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE id=?`, t.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check task existence: %w", err)
	}
	if exists > 0 {
		return store.ErrRevisionConflict
	}

	t.Revision++
	t.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, type, source_content, language, structure_json, stage,
		       status, word_count, error_message, rejection_reason, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Type, t.SourceContent, t.Language, structureJSON, t.Stage, t.Status,
		t.WordCount, t.ErrorMessage, t.RejectionReason, t.Revision,
		t.CreatedAt.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

type segmentStore struct{ db *sql.DB }

func (s segmentStore) FindByTaskID(ctx context.Context, taskID string) ([]*segment.Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, seg_order, source_content, anonymized_content,
		       machine_translated_content, edited_content, tokens_json, format_json,
		       order_id, evaluation_task_id, created_at, updated_at
		FROM segments WHERE task_id = ? ORDER BY seg_order`, taskID)
	if err != nil {
		return nil, fmt.Errorf("find segments: %w", err)
	}
	defer rows.Close()

	var segs []*segment.Segment
	for rows.Next() {
		sg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segs = append(segs, sg)
	}
	return segs, rows.Err()
}

func scanSegment(rows *sql.Rows) (*segment.Segment, error) {
	var sg segment.Segment
	var anon, mt, edited, tokensJSON, formatJSON, orderID, evalID sql.NullString
	var createdAt, updatedAt string
	err := rows.Scan(&sg.ID, &sg.TaskID, &sg.Order, &sg.SourceContent, &anon, &mt,
		&edited, &tokensJSON, &formatJSON, &orderID, &evalID, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan segment: %w", err)
	}
	sg.AnonymizedContent = anon.String
	sg.MachineTranslatedContent = mt.String
	sg.EditedContent = edited.String
	sg.OrderID = orderID.String
	sg.EvaluationTaskID = evalID.String
	if tokensJSON.Valid && tokensJSON.String != "" {
		if err := json.Unmarshal([]byte(tokensJSON.String), &sg.Tokens); err != nil {
			return nil, fmt.Errorf("decode tokens: %w", err)
		}
	}
	if formatJSON.Valid && formatJSON.String != "" {
		if err := json.Unmarshal([]byte(formatJSON.String), &sg.Format); err != nil {
			return nil, fmt.Errorf("decode format metadata: %w", err)
		}
	}
	sg.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	sg.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &sg, nil
}

func (s segmentStore) Save(ctx context.Context, sg *segment.Segment) error {
	return s.save(ctx, s.db, sg)
}

// SaveMany replaces the stored segment set for every task in the batch. A
// re-run of the parse stage mints fresh segment ids for the same orders, so
// rows cannot be upserted by id without tripping the per-order uniqueness
// rule.
func (s segmentStore) SaveMany(ctx context.Context, segs []*segment.Segment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	cleared := make(map[string]bool)
	for _, sg := range segs {
		if !cleared[sg.TaskID] {
			if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE task_id = ?`, sg.TaskID); err != nil {
				return fmt.Errorf("clear segments: %w", err)
			}
			cleared[sg.TaskID] = true
		}
		if err := s.save(ctx, tx, sg); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s segmentStore) save(ctx context.Context, ex execer, sg *segment.Segment) error {
	var tokensJSON, formatJSON any
	if len(sg.Tokens) > 0 {
		data, err := json.Marshal(sg.Tokens)
		if err != nil {
			return fmt.Errorf("encode tokens: %w", err)
		}
		tokensJSON = string(data)
	}
	data, err := json.Marshal(sg.Format)
	if err != nil {
		return fmt.Errorf("encode format metadata: %w", err)
	}
	formatJSON = string(data)

	now := time.Now().UTC()
	sg.UpdatedAt = now
	_, err = ex.ExecContext(ctx, `
		INSERT INTO segments (id, task_id, seg_order, source_content, anonymized_content,
		       machine_translated_content, edited_content, tokens_json, format_json,
		       order_id, evaluation_task_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		       source_content=excluded.source_content,
		       anonymized_content=excluded.anonymized_content,
		       machine_translated_content=excluded.machine_translated_content,
		       edited_content=excluded.edited_content,
		       tokens_json=excluded.tokens_json,
		       format_json=excluded.format_json,
		       updated_at=excluded.updated_at`,
		sg.ID, sg.TaskID, sg.Order, sg.SourceContent, sg.AnonymizedContent,
		sg.MachineTranslatedContent, sg.EditedContent, tokensJSON, formatJSON,
		sg.OrderID, sg.EvaluationTaskID, sg.CreatedAt.Format(timeLayout),
		now.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save segment: %w", err)
	}
	return nil
}

type mappingStore struct{ db *sql.DB }

func (s mappingStore) FindByTaskID(ctx context.Context, taskID string) ([]store.SensitiveMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, token, type, original, created_at
		FROM sensitive_mappings WHERE task_id = ? ORDER BY created_at, token`, taskID)
	if err != nil {
		return nil, fmt.Errorf("find mappings: %w", err)
	}
	defer rows.Close()

	var out []store.SensitiveMapping
	for rows.Next() {
		var m store.SensitiveMapping
		var createdAt string
		if err := rows.Scan(&m.TaskID, &m.Token, &m.Type, &m.Original, &createdAt); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		m.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveMany appends mappings; an existing token is left untouched (the mapping
// set for a task is append-only).
func (s mappingStore) SaveMany(ctx context.Context, ms []store.SensitiveMapping) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	for _, m := range ms {
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sensitive_mappings (task_id, token, type, original, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(task_id, token) DO NOTHING`,
			m.TaskID, m.Token, m.Type, m.Original, createdAt.Format(timeLayout))
		if err != nil {
			return fmt.Errorf("save mapping: %w", err)
		}
	}
	return tx.Commit()
}

type flowStore struct{ db *sql.DB }

func (s flowStore) SaveJobs(ctx context.Context, recs []*store.JobRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	for _, r := range recs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO flow_jobs (id, flow_id, parent_id, name, queue, payload_json,
			       fail_parent, status, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET status=excluded.status, error=excluded.error`,
			r.ID, r.FlowID, r.ParentID, r.Name, r.Queue, r.PayloadJSON,
			boolToInt(r.FailParent), r.Status, r.Error, r.CreatedAt.Format(timeLayout))
		if err != nil {
			return fmt.Errorf("save job record: %w", err)
		}
	}
	return tx.Commit()
}

func (s flowStore) UpdateJobStatus(ctx context.Context, id, status, errMsg string) error {
	now := time.Now().UTC().Format(timeLayout)
	var query string
	switch status {
	case "running":
		query = `UPDATE flow_jobs SET status=?, error=?, started_at=? WHERE id=?`
	case "completed", "failed", "cancelled":
		query = `UPDATE flow_jobs SET status=?, error=?, completed_at=? WHERE id=?`
	default:
		query = `UPDATE flow_jobs SET status=?, error=?, created_at=created_at WHERE id=?`
		now = ""
	}
	var err error
	if now == "" {
		_, err = s.db.ExecContext(ctx, `UPDATE flow_jobs SET status=?, error=? WHERE id=?`, status, errMsg, id)
	} else {
		_, err = s.db.ExecContext(ctx, query, status, errMsg, now, id)
	}
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

func (s flowStore) ListUnfinished(ctx context.Context) ([]*store.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT j.id, j.flow_id, j.parent_id, j.name, j.queue, j.payload_json,
		       j.fail_parent, j.status, j.error, j.created_at
		FROM flow_jobs j
		WHERE j.flow_id IN (
			SELECT flow_id FROM flow_jobs
			WHERE parent_id IS NULL OR parent_id = ''
			GROUP BY flow_id
			HAVING MAX(CASE WHEN status IN ('completed','failed','cancelled') THEN 1 ELSE 0 END) = 0
		)
		ORDER BY j.created_at, j.id`)
	if err != nil {
		return nil, fmt.Errorf("list unfinished: %w", err)
	}
	defer rows.Close()

	var out []*store.JobRecord
	for rows.Next() {
		var r store.JobRecord
		var parentID, payload, errMsg sql.NullString
		var failParent int
		var createdAt string
		if err := rows.Scan(&r.ID, &r.FlowID, &parentID, &r.Name, &r.Queue, &payload,
			&failParent, &r.Status, &errMsg, &createdAt); err != nil {
			return nil, fmt.Errorf("scan job record: %w", err)
		}
		r.ParentID = parentID.String
		r.PayloadJSON = payload.String
		r.Error = errMsg.String
		r.FailParent = failParent != 0
		r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
