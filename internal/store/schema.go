package store

// Index field types supported by the bucket schema. Arrays are stored as
// JSON text so that containment predicates can be expressed with LIKE on
// both sqlite and postgres.
type FieldType string

const (
	FieldString      FieldType = "string"
	FieldNumber      FieldType = "number"
	FieldBool        FieldType = "bool"
	FieldStringArray FieldType = "[string]"
)

type IndexField struct {
	Type FieldType
}

// BucketSchema declares a bucket's name, its indexed fields and the current
// schema version. Bumping Version triggers the migration pipeline on the
// next InitBucket.
type BucketSchema struct {
	Name    string
	Version int
	Index   map[string]IndexField
}

// InitResult reports whether InitBucket observed a version bump, and if so
// the schema that was previously stored.
type InitResult struct {
	Updated  bool
	Previous *BucketSchema
}

// Object is one stored record: its key and its raw value.
type Object struct {
	Bucket string
	Key    string
	Value  map[string]any
}

// WriteOp is one batched write instruction: an upsert, or a delete when
// Delete is set.
type WriteOp struct {
	Bucket string
	Key    string
	Value  map[string]any
	Delete bool
}

// Filter selects objects in ListObjects: either an equality map over indexed
// fields, or a raw predicate string such as "(docker_id=*)".
type Filter struct {
	Eq  map[string]any
	Raw string
}

// Empty reports whether the filter selects nothing in particular.
func (f Filter) Empty() bool {
	return len(f.Eq) == 0 && f.Raw == ""
}

// Batch is the ordered collection of write instructions accumulated across
// all records and all migration steps. Ops are grouped per source record so
// that chunked application never separates the upsert/delete pair of a key
// relocation.
type Batch struct {
	groups [][]WriteOp
	open   []WriteOp
}

// Append adds an instruction for the record currently being migrated.
func (b *Batch) Append(op WriteOp) {
	b.open = append(b.open, op)
}

// EndRecord seals the instructions accumulated for one record.
func (b *Batch) EndRecord() {
	if len(b.open) > 0 {
		b.groups = append(b.groups, b.open)
		b.open = nil
	}
}

// Groups returns the per-record instruction groups in order.
func (b *Batch) Groups() [][]WriteOp {
	return b.groups
}

// Len returns the total number of instructions.
func (b *Batch) Len() int {
	n := len(b.open)
	for _, g := range b.groups {
		n += len(g)
	}
	return n
}

// MigrationStep is one versioned, idempotent transformation. Apply inspects
// the record at key/value, mutates value in place if needed, appends write
// instructions to the batch, and returns the key the record lives at after
// this step (unchanged unless the step relocates the record).
type MigrationStep struct {
	Version int
	Apply   func(bucket, key string, value map[string]any, b *Batch) (string, error)
}

// MigrateRequest streams every record of Bucket through Steps, ascending by
// version, and applies the accumulated batch.
type MigrateRequest struct {
	Bucket   string
	Previous *BucketSchema
	Steps    []MigrationStep
}
