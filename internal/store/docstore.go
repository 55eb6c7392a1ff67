package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a document id does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrVersionConflict is returned when a conditional update loses a
	// compare-and-swap on the document version.
	ErrVersionConflict = errors.New("version conflict")
)

type Op string

const (
	OpEq       Op = "=="
	OpLt       Op = "<"
	OpLte      Op = "<="
	OpGt       Op = ">"
	OpGte      Op = ">="
	OpContains Op = "array-contains"
)

// Filter matches a top-level document field. A nil Value with OpEq
// matches documents where the field is absent or JSON null.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Filter  { return Filter{Field: field, Op: OpEq, Value: value} }
func Lt(field string, value any) Filter  { return Filter{Field: field, Op: OpLt, Value: value} }
func Lte(field string, value any) Filter { return Filter{Field: field, Op: OpLte, Value: value} }
func Gt(field string, value any) Filter  { return Filter{Field: field, Op: OpGt, Value: value} }
func Gte(field string, value any) Filter { return Filter{Field: field, Op: OpGte, Value: value} }

// Contains matches documents whose array field contains value.
func Contains(field string, value any) Filter {
	return Filter{Field: field, Op: OpContains, Value: value}
}

type OrderBy struct {
	Field   string
	Desc    bool
	Numeric bool
}

type BatchOpType string

const (
	BatchSet    BatchOpType = "set"
	BatchUpdate BatchOpType = "update"
	BatchDelete BatchOpType = "delete"
)

// BatchOp is one mutation inside an atomic multi-document write.
type BatchOp struct {
	Type       BatchOpType
	Collection string
	ID         string
	Doc        any            // BatchSet
	Partial    map[string]any // BatchUpdate
}

// DocumentStore adapts Postgres JSONB tables to the collection-of-
// documents contract the repositories consume. It holds no business
// rules; referential and authorization checks live above it.
type DocumentStore struct {
	db *sql.DB
}

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) DB() *sql.DB {
	return s.db
}

func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var identPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	if err := checkIdent(collection); err != nil {
		return nil, err
	}
	var doc json.RawMessage
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE id = $1`, collection)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s get: %w", collection, err)
	}
	return doc, nil
}

func (s *DocumentStore) Query(ctx context.Context, collection string, filters []Filter, order *OrderBy, limit, offset int) ([]json.RawMessage, error) {
	if err := checkIdent(collection); err != nil {
		return nil, err
	}
	where, args, err := buildWhere(filters)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", collection, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT doc FROM %s`, collection)
	sb.WriteString(where)
	if order != nil {
		if err := checkIdent(order.Field); err != nil {
			return nil, fmt.Errorf("%s query: %w", collection, err)
		}
		expr := fmt.Sprintf(`doc->>'%s'`, order.Field)
		if order.Numeric {
			expr = fmt.Sprintf(`(doc->>'%s')::numeric`, order.Field)
		}
		direction := "ASC"
		if order.Desc {
			direction = "DESC"
		}
		fmt.Fprintf(&sb, ` ORDER BY %s %s`, expr, direction)
	}
	if limit > 0 {
		fmt.Fprintf(&sb, ` LIMIT %d`, limit)
	}
	if offset > 0 {
		fmt.Fprintf(&sb, ` OFFSET %d`, offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", collection, err)
	}
	defer rows.Close()

	docs := make([]json.RawMessage, 0)
	for rows.Next() {
		var doc json.RawMessage
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("%s scan: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s iterate: %w", collection, err)
	}
	return docs, nil
}

func (s *DocumentStore) Count(ctx context.Context, collection string, filters []Filter) (int, error) {
	if err := checkIdent(collection); err != nil {
		return 0, err
	}
	where, args, err := buildWhere(filters)
	if err != nil {
		return 0, fmt.Errorf("%s count: %w", collection, err)
	}
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, collection) + where
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s count: %w", collection, err)
	}
	return count, nil
}

// Set writes the full document, inserting or replacing.
func (s *DocumentStore) Set(ctx context.Context, collection, id string, doc any) error {
	if err := checkIdent(collection); err != nil {
		return err
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%s set: marshal: %w", collection, err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, doc) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, collection)
	if _, err := s.db.ExecContext(ctx, query, id, encoded); err != nil {
		return fmt.Errorf("%s set: %w", collection, err)
	}
	return nil
}

// Update shallow-merges partial into the stored document.
func (s *DocumentStore) Update(ctx context.Context, collection, id string, partial map[string]any) error {
	if err := checkIdent(collection); err != nil {
		return err
	}
	encoded, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("%s update: marshal: %w", collection, err)
	}
	query := fmt.Sprintf(`UPDATE %s SET doc = doc || $2::jsonb, updated_at = NOW() WHERE id = $1`, collection)
	result, err := s.db.ExecContext(ctx, query, id, encoded)
	if err != nil {
		return fmt.Errorf("%s update: %w", collection, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s update: %w", collection, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateVersioned merges partial only when the stored document still
// carries expectedVersion. The caller includes the bumped version in
// partial; a lost race surfaces as ErrVersionConflict.
func (s *DocumentStore) UpdateVersioned(ctx context.Context, collection, id string, partial map[string]any, expectedVersion int64) error {
	if err := checkIdent(collection); err != nil {
		return err
	}
	encoded, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("%s update: marshal: %w", collection, err)
	}
	query := fmt.Sprintf(`
		UPDATE %s SET doc = doc || $2::jsonb, updated_at = NOW()
		WHERE id = $1 AND (doc->>'version')::bigint = $3
	`, collection)
	result, err := s.db.ExecContext(ctx, query, id, encoded, expectedVersion)
	if err != nil {
		return fmt.Errorf("%s update: %w", collection, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s update: %w", collection, err)
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, collection, id); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

// Delete removes the document. Deleting an absent id is a no-op.
func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	if err := checkIdent(collection); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, collection)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("%s delete: %w", collection, err)
	}
	return nil
}

// AtomicBatch applies every op inside one transaction; all-or-nothing.
func (s *DocumentStore) AtomicBatch(ctx context.Context, ops []BatchOp) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("batch begin: %w", err)
	}
	for _, op := range ops {
		if err := applyBatchOp(ctx, tx, op); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("batch commit: %w", err)
	}
	return nil
}

func applyBatchOp(ctx context.Context, tx *sql.Tx, op BatchOp) error {
	if err := checkIdent(op.Collection); err != nil {
		return err
	}
	switch op.Type {
	case BatchSet:
		encoded, err := json.Marshal(op.Doc)
		if err != nil {
			return fmt.Errorf("%s batch set: marshal: %w", op.Collection, err)
		}
		query := fmt.Sprintf(`
			INSERT INTO %s (id, doc) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
		`, op.Collection)
		if _, err := tx.ExecContext(ctx, query, op.ID, encoded); err != nil {
			return fmt.Errorf("%s batch set: %w", op.Collection, err)
		}
	case BatchUpdate:
		encoded, err := json.Marshal(op.Partial)
		if err != nil {
			return fmt.Errorf("%s batch update: marshal: %w", op.Collection, err)
		}
		query := fmt.Sprintf(`UPDATE %s SET doc = doc || $2::jsonb, updated_at = NOW() WHERE id = $1`, op.Collection)
		result, err := tx.ExecContext(ctx, query, op.ID, encoded)
		if err != nil {
			return fmt.Errorf("%s batch update: %w", op.Collection, err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("%s batch update: %w", op.Collection, err)
		} else if affected == 0 {
			return fmt.Errorf("%s batch update %s: %w", op.Collection, op.ID, ErrNotFound)
		}
	case BatchDelete:
		query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, op.Collection)
		if _, err := tx.ExecContext(ctx, query, op.ID); err != nil {
			return fmt.Errorf("%s batch delete: %w", op.Collection, err)
		}
	default:
		return fmt.Errorf("unknown batch op type %q", op.Type)
	}
	return nil
}

func buildWhere(filters []Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, filter := range filters {
		if err := checkIdent(filter.Field); err != nil {
			return "", nil, err
		}
		clause, arg, err := filterClause(filter, len(args)+1)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		if arg != nil {
			args = append(args, arg)
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func filterClause(filter Filter, placeholder int) (string, any, error) {
	field := filter.Field
	switch filter.Op {
	case OpEq:
		if filter.Value == nil {
			return fmt.Sprintf(`doc->>'%s' IS NULL`, field), nil, nil
		}
		expr, arg := typedExpr(field, filter.Value)
		return fmt.Sprintf(`%s = $%d`, expr, placeholder), arg, nil
	case OpLt, OpLte, OpGt, OpGte:
		if filter.Value == nil {
			return "", nil, fmt.Errorf("range filter on %s requires a value", field)
		}
		expr, arg := typedExpr(field, filter.Value)
		return fmt.Sprintf(`%s %s $%d`, expr, filter.Op, placeholder), arg, nil
	case OpContains:
		encoded, err := json.Marshal([]any{filter.Value})
		if err != nil {
			return "", nil, fmt.Errorf("contains filter on %s: %w", field, err)
		}
		return fmt.Sprintf(`doc->'%s' @> $%d::jsonb`, field, placeholder), string(encoded), nil
	default:
		return "", nil, fmt.Errorf("unknown filter op %q", filter.Op)
	}
}

// typedExpr casts the JSONB text extraction to a comparable SQL type
// derived from the Go value.
func typedExpr(field string, value any) (string, any) {
	switch v := value.(type) {
	case bool:
		return fmt.Sprintf(`(doc->>'%s')::boolean`, field), v
	case int, int32, int64, float32, float64:
		return fmt.Sprintf(`(doc->>'%s')::numeric`, field), v
	case time.Time:
		return fmt.Sprintf(`(doc->>'%s')::timestamptz`, field), v
	case *time.Time:
		return fmt.Sprintf(`(doc->>'%s')::timestamptz`, field), v
	default:
		return fmt.Sprintf(`doc->>'%s'`, field), v
	}
}
