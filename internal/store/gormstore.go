package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/wharfside/imagecat/pkg/model"
)

// migrateChunkSize bounds the number of write instructions submitted per
// transaction when applying a migration batch. Chunk boundaries fall on
// record-group boundaries only.
const migrateChunkSize = 100

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var rawFilterPattern = regexp.MustCompile(`^\(([a-z][a-z0-9_]*)=(.+)\)$`)

// bucketRow is the schema registry: one row per bucket, tracking the schema
// version currently applied to its table.
type bucketRow struct {
	Name      string `gorm:"primaryKey"`
	Version   int
	Schema    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (bucketRow) TableName() string { return "imagecat_buckets" }

// Store is the indexed object store backing the catalog: named buckets of
// JSON values addressed by key, with declared fields extracted into indexed
// columns. One gorm connection serves all buckets.
type Store struct {
	db     *gorm.DB
	logger *zerolog.Logger

	mu      sync.Mutex
	buckets map[string]BucketSchema
}

// Open connects to the configured database and prepares the schema
// registry.
func Open(cfg *model.Database, logger *zerolog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case model.DatabaseDriverSqlite:
		dialector = sqlite.Open(cfg.Dsn)
	case model.DatabaseDriverPostgres:
		dialector = postgres.Open(cfg.Dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: false,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return New(db, logger)
}

// New wraps an existing gorm connection. Used by tests to run against a
// private sqlite database.
func New(db *gorm.DB, logger *zerolog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&bucketRow{}); err != nil {
		return nil, fmt.Errorf("migrate bucket registry: %w", err)
	}
	return &Store{
		db:      db,
		logger:  logger,
		buckets: map[string]BucketSchema{},
	}, nil
}

// InitBucket creates the bucket's table and indexes if needed and compares
// the declared schema version against the registry. A version bump updates
// the registry and reports Updated with the previous schema so the caller
// can run migrations. A stored version newer than the declared one is an
// error.
func (s *Store) InitBucket(ctx context.Context, schema BucketSchema) (InitResult, error) {
	if err := validBucket(schema); err != nil {
		return InitResult{}, err
	}

	if err := s.ensureTable(ctx, schema); err != nil {
		return InitResult{}, err
	}

	s.mu.Lock()
	s.buckets[schema.Name] = schema
	s.mu.Unlock()

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return InitResult{}, err
	}

	var row bucketRow
	err = s.db.WithContext(ctx).First(&row, "name = ?", schema.Name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = bucketRow{Name: schema.Name, Version: schema.Version, Schema: string(schemaJSON)}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return InitResult{}, fmt.Errorf("register bucket %s: %w", schema.Name, err)
		}
		s.logger.Info().Str("bucket", schema.Name).Int("version", schema.Version).Msg("Created bucket")
		return InitResult{}, nil
	}
	if err != nil {
		return InitResult{}, fmt.Errorf("read bucket registry: %w", err)
	}

	switch {
	case row.Version == schema.Version:
		return InitResult{}, nil
	case row.Version > schema.Version:
		return InitResult{}, fmt.Errorf("bucket %s: stored schema version %d is newer than declared version %d",
			schema.Name, row.Version, schema.Version)
	}

	var previous BucketSchema
	if err := json.Unmarshal([]byte(row.Schema), &previous); err != nil {
		return InitResult{}, fmt.Errorf("decode previous schema for %s: %w", schema.Name, err)
	}
	row.Version = schema.Version
	row.Schema = string(schemaJSON)
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return InitResult{}, fmt.Errorf("update bucket registry: %w", err)
	}
	s.logger.Info().Str("bucket", schema.Name).
		Int("from", previous.Version).Int("to", schema.Version).
		Msg("Bucket schema version updated")
	return InitResult{Updated: true, Previous: &previous}, nil
}

// ensureTable creates the bucket table with its indexed columns, adds
// columns introduced by newer schema versions, and (re)creates the indexes.
func (s *Store) ensureTable(ctx context.Context, schema BucketSchema) error {
	cols := []string{"object_key text primary key", "value text not null"}
	for _, field := range sortedFields(schema) {
		cols = append(cols, fmt.Sprintf("%s %s", field, columnType(schema.Index[field].Type)))
	}
	ddl := fmt.Sprintf("create table if not exists %s (%s)", schema.Name, strings.Join(cols, ", "))
	if err := s.db.WithContext(ctx).Exec(ddl).Error; err != nil {
		return fmt.Errorf("create bucket table %s: %w", schema.Name, err)
	}

	for _, field := range sortedFields(schema) {
		alter := fmt.Sprintf("alter table %s add column %s %s", schema.Name, field, columnType(schema.Index[field].Type))
		if err := s.db.WithContext(ctx).Exec(alter).Error; err != nil && !duplicateColumn(err) {
			return fmt.Errorf("add column %s.%s: %w", schema.Name, field, err)
		}
		idx := fmt.Sprintf("create index if not exists idx_%s_%s on %s (%s)", schema.Name, field, schema.Name, field)
		if err := s.db.WithContext(ctx).Exec(idx).Error; err != nil {
			return fmt.Errorf("create index on %s.%s: %w", schema.Name, field, err)
		}
	}
	return nil
}

// PutObject upserts value at key. An existing object at the same key is
// overwritten; there is no conditional-write check at this layer.
func (s *Store) PutObject(ctx context.Context, bucket, key string, value map[string]any) error {
	schema, err := s.schemaFor(bucket)
	if err != nil {
		return err
	}
	return s.execPut(s.db.WithContext(ctx), schema, key, value)
}

func (s *Store) execPut(db *gorm.DB, schema BucketSchema, key string, value map[string]any) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode object %s/%s: %w", schema.Name, key, err)
	}

	cols := []string{"object_key", "value"}
	args := []any{key, string(valueJSON)}
	var updates []string
	for _, field := range sortedFields(schema) {
		cols = append(cols, field)
		args = append(args, indexValue(schema.Index[field].Type, value[field]))
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", field, field))
	}
	updates = append(updates, "value = excluded.value")

	sqlcmd := fmt.Sprintf(
		"insert into %s (%s) values (%s) on conflict (object_key) do update set %s",
		schema.Name,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(updates, ", "),
	)
	if err := db.Exec(sqlcmd, args...).Error; err != nil {
		return fmt.Errorf("put %s/%s: %w", schema.Name, key, err)
	}
	return nil
}

// GetObject returns the value stored at key, or ErrNotFound.
func (s *Store) GetObject(ctx context.Context, bucket, key string) (map[string]any, error) {
	schema, err := s.schemaFor(bucket)
	if err != nil {
		return nil, err
	}
	var valueJSON string
	row := s.db.WithContext(ctx).Raw(
		fmt.Sprintf("select value from %s where object_key = ?", schema.Name), key).Row()
	if err := row.Scan(&valueJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return decodeValue(bucket, key, valueJSON)
}

// ListObjects returns all objects matching the filter, materialized. An
// empty filter matches every object in the bucket.
func (s *Store) ListObjects(ctx context.Context, bucket string, filter Filter) ([]Object, error) {
	schema, err := s.schemaFor(bucket)
	if err != nil {
		return nil, err
	}
	where, args, err := buildWhere(schema, filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("select object_key, value from %s%s order by object_key", schema.Name, where)
	rows, err := s.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	defer rows.Close()

	var objects []Object
	for rows.Next() {
		var key, valueJSON string
		if err := rows.Scan(&key, &valueJSON); err != nil {
			return nil, fmt.Errorf("list %s: %w", bucket, err)
		}
		value, err := decodeValue(bucket, key, valueJSON)
		if err != nil {
			return nil, err
		}
		objects = append(objects, Object{Bucket: bucket, Key: key, Value: value})
	}
	return objects, rows.Err()
}

// UpdateObject replaces the value stored at key and returns the stored
// value. Partial-patch semantics are the caller's responsibility; the value
// given here is written as-is. Returns ErrNotFound if no object exists at
// key.
func (s *Store) UpdateObject(ctx context.Context, bucket, key string, value map[string]any) (map[string]any, error) {
	schema, err := s.schemaFor(bucket)
	if err != nil {
		return nil, err
	}
	var n int64
	err = s.db.WithContext(ctx).Raw(
		fmt.Sprintf("select count(*) from %s where object_key = ?", schema.Name), key).Scan(&n).Error
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", bucket, key, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, model.ErrNotFound)
	}
	if err := s.execPut(s.db.WithContext(ctx), schema, key, value); err != nil {
		return nil, err
	}
	return s.GetObject(ctx, bucket, key)
}

// DeleteObject removes the object at key, or returns ErrNotFound.
func (s *Store) DeleteObject(ctx context.Context, bucket, key string) error {
	schema, err := s.schemaFor(bucket)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Exec(
		fmt.Sprintf("delete from %s where object_key = ?", schema.Name), key)
	if res.Error != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s/%s: %w", bucket, key, model.ErrNotFound)
	}
	return nil
}

// AggregateQuery executes a raw aggregate query and streams the resulting
// rows. The caller owns both the query text and closing the rows.
func (s *Store) AggregateQuery(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("aggregate query: %w", err)
	}
	return rows, nil
}

// MigrateObjects streams every record of the bucket through the ordered
// migration steps, accumulates the write batch, and applies it in chunks.
// A failure leaves the bucket partially migrated; callers must treat it as
// fatal.
func (s *Store) MigrateObjects(ctx context.Context, req MigrateRequest) error {
	schema, err := s.schemaFor(req.Bucket)
	if err != nil {
		return err
	}
	steps := make([]MigrationStep, len(req.Steps))
	copy(steps, req.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })

	rows, err := s.db.WithContext(ctx).Raw(
		fmt.Sprintf("select object_key, value from %s order by object_key", schema.Name)).Rows()
	if err != nil {
		return fmt.Errorf("migrate %s: %w", req.Bucket, err)
	}
	defer rows.Close()

	batch := &Batch{}
	records := 0
	for rows.Next() {
		var key, valueJSON string
		if err := rows.Scan(&key, &valueJSON); err != nil {
			return fmt.Errorf("migrate %s: %w", req.Bucket, err)
		}
		value, err := decodeValue(req.Bucket, key, valueJSON)
		if err != nil {
			return err
		}
		for _, step := range steps {
			if key, err = step.Apply(req.Bucket, key, value, batch); err != nil {
				return fmt.Errorf("migrate %s at version %d: %w", req.Bucket, step.Version, err)
			}
		}
		batch.EndRecord()
		records++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("migrate %s: %w", req.Bucket, err)
	}
	// Release the read cursor before the write transactions start.
	rows.Close()

	if err := s.applyBatch(ctx, schema, batch); err != nil {
		return err
	}
	s.logger.Info().Str("bucket", req.Bucket).
		Int("records", records).Int("writes", batch.Len()).
		Msg("Applied bucket migrations")
	return nil
}

// applyBatch writes the batch in transactions of at most migrateChunkSize
// instructions, never splitting one record's group across transactions.
func (s *Store) applyBatch(ctx context.Context, schema BucketSchema, batch *Batch) error {
	var chunk []WriteOp
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, op := range chunk {
				if op.Delete {
					if err := tx.Exec(
						fmt.Sprintf("delete from %s where object_key = ?", schema.Name), op.Key).Error; err != nil {
						return err
					}
					continue
				}
				if err := s.execPut(tx, schema, op.Key, op.Value); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("apply migration batch for %s: %w", schema.Name, err)
		}
		chunk = chunk[:0]
		return nil
	}

	for _, group := range batch.Groups() {
		if len(chunk)+len(group) > migrateChunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
		chunk = append(chunk, group...)
	}
	return flush()
}

func (s *Store) schemaFor(bucket string) (BucketSchema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schema, ok := s.buckets[bucket]
	if !ok {
		return BucketSchema{}, fmt.Errorf("bucket %s not initialized", bucket)
	}
	return schema, nil
}

func validBucket(schema BucketSchema) error {
	if !identPattern.MatchString(schema.Name) {
		return fmt.Errorf("invalid bucket name: %q", schema.Name)
	}
	if schema.Version < 1 {
		return fmt.Errorf("bucket %s: version must be >= 1", schema.Name)
	}
	for field := range schema.Index {
		if !identPattern.MatchString(field) {
			return fmt.Errorf("bucket %s: invalid index field name %q", schema.Name, field)
		}
	}
	return nil
}

func sortedFields(schema BucketSchema) []string {
	fields := make([]string, 0, len(schema.Index))
	for field := range schema.Index {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func columnType(t FieldType) string {
	switch t {
	case FieldNumber:
		return "bigint"
	case FieldBool:
		return "boolean"
	default:
		return "text"
	}
}

// indexValue projects a raw field into its indexed-column representation.
// Arrays become JSON text so containment predicates reduce to LIKE.
func indexValue(t FieldType, v any) any {
	if v == nil {
		return nil
	}
	switch t {
	case FieldStringArray:
		list, ok := rawStringList(v)
		if !ok {
			return nil
		}
		encoded, err := json.Marshal(list)
		if err != nil {
			return nil
		}
		return string(encoded)
	case FieldNumber:
		switch n := v.(type) {
		case int:
			return int64(n)
		case int64:
			return n
		case float64:
			return int64(n)
		}
		return nil
	default:
		return v
	}
}

func rawStringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func buildWhere(schema BucketSchema, filter Filter) (string, []any, error) {
	var clauses []string
	var args []any

	if filter.Raw != "" {
		m := rawFilterPattern.FindStringSubmatch(strings.TrimSpace(filter.Raw))
		if m == nil {
			return "", nil, fmt.Errorf("malformed filter: %q", filter.Raw)
		}
		field, value := m[1], m[2]
		if _, ok := schema.Index[field]; !ok {
			return "", nil, fmt.Errorf("filter on unindexed field %s.%s", schema.Name, field)
		}
		if value == "*" {
			clauses = append(clauses, fmt.Sprintf("%s is not null", field))
		} else {
			clauses = append(clauses, fmt.Sprintf("%s = ?", field))
			args = append(args, value)
		}
	}
	for _, field := range sortedFields(schema) {
		v, ok := filter.Eq[field]
		if !ok {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", field))
		args = append(args, indexValue(schema.Index[field].Type, v))
	}
	for field := range filter.Eq {
		if _, ok := schema.Index[field]; !ok {
			return "", nil, fmt.Errorf("filter on unindexed field %s.%s", schema.Name, field)
		}
	}

	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " where " + strings.Join(clauses, " and "), args, nil
}

func decodeValue(bucket, key, valueJSON string) (map[string]any, error) {
	var value map[string]any
	if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
		return nil, fmt.Errorf("decode object %s/%s: %w", bucket, key, err)
	}
	return value, nil
}

func duplicateColumn(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}
