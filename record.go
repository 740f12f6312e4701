package hivesync

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// RecordStatus is the lifecycle status of a local record. A record only
// ever becomes StatusSynced through a successful push acknowledging that
// exact record; any local write on a synced record moves it back to
// StatusUpdated; deletion is terminal.
type RecordStatus string

const (
	StatusCreated RecordStatus = "created"
	StatusUpdated RecordStatus = "updated"
	StatusSynced  RecordStatus = "synced"
	StatusDeleted RecordStatus = "deleted"
)

// Patch is a set of column assignments applied to a record. Column names
// are validated against the table schema before they reach storage.
type Patch map[string]any

// Record is one row of a table: a stable client-generated identifier,
// the table-defined columns, and sync bookkeeping. Status, ChangedFields
// and Rev never cross the wire.
type Record struct {
	ID     string
	Fields map[string]any
	Status RecordStatus

	// ChangedFields lists the columns touched since the last successful
	// push of this record.
	ChangedFields []string

	// Rev increments on every local write. MarkSynced compares it
	// against the value snapshotted at change-set collection so records
	// modified mid-push stay dirty.
	Rev int64
}

// NewRecordID returns a fresh client-generated record identifier.
// The identifier space is client-owned, which is why pushes use upsert
// semantics rather than inserts.
func NewRecordID() string { return uuid.NewString() }

// Dirty reports whether the record has changes awaiting push.
func (r Record) Dirty() bool { return r.Status != StatusSynced }

// Field returns a column value, nil when absent.
func (r Record) Field(name string) any {
	return r.Fields[name]
}

// Changed reports whether a column was touched since the last sync.
func (r Record) Changed(name string) bool {
	return slices.Contains(r.ChangedFields, name)
}

// internal wire fields injected by older clients that must never be
// persisted as columns.
var internalWireFields = map[string]struct{}{
	"_status":  {},
	"_changed": {},
}

// MarshalJSON encodes the record as a flat object: the columns plus an
// "id" key. Sync bookkeeping is local-only and is not emitted.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["id"] = r.ID
	return json.Marshal(out)
}

// UnmarshalJSON decodes a flat wire object into a record. The "id" key
// is required; internal bookkeeping keys are dropped.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, ok := raw["id"].(string)
	if !ok || id == "" {
		return fmt.Errorf("record is missing an id")
	}
	delete(raw, "id")
	for k := range internalWireFields {
		delete(raw, k)
	}
	r.ID = id
	r.Fields = raw
	return nil
}

// Clone returns a deep-enough copy: the Fields map and ChangedFields
// slice are copied, values are shared.
func (r Record) Clone() Record {
	out := r
	out.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	out.ChangedFields = slices.Clone(r.ChangedFields)
	return out
}
