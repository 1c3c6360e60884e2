// Package sqldb serves flows from a relational database. SQLite
// (github.com/mattn/go-sqlite3) and PostgreSQL (github.com/lib/pq) share one
// schema, embedded as migrations and applied on Open.
package sqldb

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
)

// Dialect selects the driver and placeholder style.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Pool settings applied to Postgres connections.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations/sqlite.sql
var sqliteMigrations string

//go:embed migrations/postgres.sql
var postgresMigrations string

// Repository implements ports.FlowRepository on database/sql.
type Repository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

type Option func(*Repository)

func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// Open connects, pings and migrates. For SQLite the dsn is a file path whose
// directory is created when missing.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("database DSN not set")
	}

	var (
		driver     string
		migrations string
	)
	switch dialect {
	case SQLite:
		driver, migrations = "sqlite3", sqliteMigrations
		if dir := filepath.Dir(dsn); dir != "" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	case Postgres:
		driver, migrations = "postgres", postgresMigrations
	default:
		return nil, fmt.Errorf("unknown sql dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == Postgres {
		db.SetMaxOpenConns(DefaultMaxOpenConns)
		db.SetMaxIdleConns(DefaultMaxIdleConns)
		db.SetConnMaxLifetime(DefaultConnMaxLifetime)
	}

	r := New(db, dialect, opts...)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	if _, err := db.ExecContext(ctx, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	r.logger.Debug("Flow database ready", "dialect", dialect)
	return r, nil
}

// New wraps an already migrated database.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Repository {
	r := &Repository{db: db, dialect: dialect, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) Close() error { return r.db.Close() }

// rebind rewrites ? placeholders as $n for Postgres.
func (r *Repository) rebind(query string) string {
	if r.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *Repository) LoadFlow(ctx context.Context, flowID string) (*domain.Flow, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(
		`SELECT id, connection_id, name, active, priority, created_at, root_node_id FROM flows WHERE id = ?`), flowID)

	var f domain.Flow
	err := row.Scan(&f.ID, &f.ConnectionID, &f.Name, &f.Active, &f.Priority, &f.CreatedAt, &f.RootNodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrFlowNotFound, flowID)
	}
	if err != nil {
		return nil, fmt.Errorf("load flow %s: %w", flowID, err)
	}

	triggers, err := r.triggers(ctx, r.db, []string{flowID})
	if err != nil {
		return nil, err
	}
	f.Triggers = triggers[flowID]

	if f.Nodes, err = r.nodes(ctx, flowID); err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFlows returns flow headers (no nodes) ordered by id.
func (r *Repository) ListFlows(ctx context.Context, connectionID string) ([]domain.Flow, error) {
	query := `SELECT id, connection_id, name, active, priority, created_at, root_node_id FROM flows`
	var args []any
	if connectionID != "" {
		query += ` WHERE connection_id = ?`
		args = append(args, connectionID)
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var (
		flows []domain.Flow
		ids   []string
	)
	for rows.Next() {
		var f domain.Flow
		if err := rows.Scan(&f.ID, &f.ConnectionID, &f.Name, &f.Active, &f.Priority, &f.CreatedAt, &f.RootNodeID); err != nil {
			return nil, fmt.Errorf("scan flow row: %w", err)
		}
		flows = append(flows, f)
		ids = append(ids, f.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flow rows: %w", err)
	}

	triggers, err := r.triggers(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range flows {
		flows[i].Triggers = triggers[flows[i].ID]
	}
	return flows, nil
}

func (r *Repository) triggers(ctx context.Context, q querier, flowIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(flowIDs))
	if len(flowIDs) == 0 {
		return out, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(flowIDs)), ",")
	args := make([]any, len(flowIDs))
	for i, id := range flowIDs {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx, r.rebind(
		`SELECT flow_id, phrase FROM flow_triggers WHERE flow_id IN (`+marks+`) ORDER BY flow_id, position`), args...)
	if err != nil {
		return nil, fmt.Errorf("load triggers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var flowID, phrase string
		if err := rows.Scan(&flowID, &phrase); err != nil {
			return nil, fmt.Errorf("scan trigger row: %w", err)
		}
		out[flowID] = append(out[flowID], phrase)
	}
	return out, rows.Err()
}

func (r *Repository) nodes(ctx context.Context, flowID string) ([]domain.Node, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, parent_id, type, content, node_order, is_final, has_actions, wait_for_input,
		       timeout_seconds, next_node_id, save_to, on_timeout, on_invalid, fields, branches
		FROM nodes WHERE flow_id = ? ORDER BY node_order, id`), flowID)
	if err != nil {
		return nil, fmt.Errorf("load nodes of %s: %w", flowID, err)
	}
	defer rows.Close()

	var (
		nodes []domain.Node
		index = make(map[string]int)
	)
	for rows.Next() {
		n := domain.Node{FlowID: flowID}
		var fields, branches []byte
		if err := rows.Scan(&n.ID, &n.ParentID, &n.Type, &n.Content, &n.Order, &n.IsFinal, &n.HasActions,
			&n.WaitForInput, &n.TimeoutSeconds, &n.Next, &n.SaveTo, &n.OnTimeout, &n.OnInvalid, &fields, &branches); err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}
		if err := json.Unmarshal(fields, &n.Fields); err != nil {
			return nil, fmt.Errorf("node %s: decode fields: %w", n.ID, err)
		}
		if err := json.Unmarshal(branches, &n.Branches); err != nil {
			return nil, fmt.Errorf("node %s: decode branches: %w", n.ID, err)
		}
		index[n.ID] = len(nodes)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node rows: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if err := r.options(ctx, flowID, nodes, index); err != nil {
		return nil, err
	}
	if err := r.actions(ctx, flowID, nodes, index); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (r *Repository) options(ctx context.Context, flowID string, nodes []domain.Node, index map[string]int) error {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT node_id, text, value, next_node_id, option_order
		FROM node_options WHERE flow_id = ? ORDER BY node_id, option_order`), flowID)
	if err != nil {
		return fmt.Errorf("load options of %s: %w", flowID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			nodeID string
			o      domain.Option
		)
		if err := rows.Scan(&nodeID, &o.Text, &o.Value, &o.NextNodeID, &o.Order); err != nil {
			return fmt.Errorf("scan option row: %w", err)
		}
		if i, ok := index[nodeID]; ok {
			nodes[i].Options = append(nodes[i].Options, o)
		}
	}
	return rows.Err()
}

func (r *Repository) actions(ctx context.Context, flowID string, nodes []domain.Node, index map[string]int) error {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT node_id, id, type, config, execution_order, active
		FROM node_actions WHERE flow_id = ? ORDER BY node_id, execution_order`), flowID)
	if err != nil {
		return fmt.Errorf("load actions of %s: %w", flowID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			nodeID string
			a      domain.NodeAction
			config []byte
		)
		if err := rows.Scan(&nodeID, &a.ID, &a.Type, &config, &a.Order, &a.Active); err != nil {
			return fmt.Errorf("scan action row: %w", err)
		}
		if err := json.Unmarshal(config, &a.Config); err != nil {
			return fmt.Errorf("action %s/%s: decode config: %w", nodeID, a.Type, err)
		}
		if i, ok := index[nodeID]; ok {
			nodes[i].Actions = append(nodes[i].Actions, a)
		}
	}
	return rows.Err()
}

// Put replaces a flow and all of its rows in one transaction.
func (r *Repository) Put(ctx context.Context, f domain.Flow) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	exec := func(query string, args ...any) error {
		_, err := tx.ExecContext(ctx, r.rebind(query), args...)
		return err
	}

	for _, table := range []string{"node_actions", "node_options", "nodes", "flow_triggers", "flows"} {
		key := "flow_id"
		if table == "flows" {
			key = "id"
		}
		if err = exec(`DELETE FROM `+table+` WHERE `+key+` = ?`, f.ID); err != nil {
			return fmt.Errorf("clear %s of %s: %w", table, f.ID, err)
		}
	}

	created := f.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if err = exec(`INSERT INTO flows (id, connection_id, name, active, priority, created_at, root_node_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ConnectionID, f.Name, f.Active, f.Priority, created, f.RootNodeID); err != nil {
		return fmt.Errorf("insert flow %s: %w", f.ID, err)
	}
	for i, phrase := range f.Triggers {
		if err = exec(`INSERT INTO flow_triggers (flow_id, position, phrase) VALUES (?, ?, ?)`, f.ID, i, phrase); err != nil {
			return fmt.Errorf("insert trigger of %s: %w", f.ID, err)
		}
	}

	for _, n := range f.Nodes {
		fields, err := json.Marshal(nonNil(n.Fields))
		if err != nil {
			return err
		}
		branches, err := json.Marshal(nonNil(n.Branches))
		if err != nil {
			return err
		}
		if err = exec(`INSERT INTO nodes (flow_id, id, parent_id, type, content, node_order, is_final, has_actions, wait_for_input,
				timeout_seconds, next_node_id, save_to, on_timeout, on_invalid, fields, branches)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, n.ID, n.ParentID, string(n.Type), n.Content, n.Order, n.IsFinal, n.HasActions || len(n.Actions) > 0,
			n.WaitForInput, n.TimeoutSeconds, n.Next, n.SaveTo, n.OnTimeout, n.OnInvalid, string(fields), string(branches)); err != nil {
			return fmt.Errorf("insert node %s/%s: %w", f.ID, n.ID, err)
		}
		for _, o := range n.Options {
			if err = exec(`INSERT INTO node_options (flow_id, node_id, text, value, next_node_id, option_order) VALUES (?, ?, ?, ?, ?, ?)`,
				f.ID, n.ID, o.Text, o.Value, o.NextNodeID, o.Order); err != nil {
				return fmt.Errorf("insert option of %s/%s: %w", f.ID, n.ID, err)
			}
		}
		for _, a := range n.Actions {
			config, err := json.Marshal(a.Config)
			if err != nil {
				return fmt.Errorf("encode action config of %s/%s: %w", f.ID, n.ID, err)
			}
			if a.Config == nil {
				config = []byte("{}")
			}
			if err = exec(`INSERT INTO node_actions (flow_id, node_id, id, type, config, execution_order, active) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				f.ID, n.ID, a.ID, string(a.Type), string(config), a.Order, a.Active); err != nil {
				return fmt.Errorf("insert action of %s/%s: %w", f.ID, n.ID, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit flow %s: %w", f.ID, err)
	}
	r.logger.Debug("Flow stored", "flow_id", f.ID, "nodes", len(f.Nodes))
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
