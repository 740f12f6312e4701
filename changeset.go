package hivesync

// TableChanges groups the pending changes of a single table in the wire
// shape shared by pull responses and push requests.
type TableChanges struct {
	Created []Record `json:"created"`
	Updated []Record `json:"updated"`
	Deleted []string `json:"deleted"`
}

// ChangeSet maps table names to their pending changes. A ChangeSet is
// produced fresh for every push attempt, never cached across retries.
type ChangeSet map[string]TableChanges

// IsEmpty reports whether the set carries no changes at all.
func (cs ChangeSet) IsEmpty() bool {
	for _, tc := range cs {
		if len(tc.Created) > 0 || len(tc.Updated) > 0 || len(tc.Deleted) > 0 {
			return false
		}
	}
	return true
}

// RecordCount returns the total number of created, updated and deleted
// entries across all tables.
func (cs ChangeSet) RecordCount() int {
	n := 0
	for _, tc := range cs {
		n += len(tc.Created) + len(tc.Updated) + len(tc.Deleted)
	}
	return n
}

// Tables returns the names of tables with at least one change.
func (cs ChangeSet) Tables() []string {
	var out []string
	for name, tc := range cs {
		if len(tc.Created) > 0 || len(tc.Updated) > 0 || len(tc.Deleted) > 0 {
			out = append(out, name)
		}
	}
	return out
}

// SendCreatedAsUpdated returns a copy of the set with every created
// record moved under updated. Record identifiers are client-generated,
// so a record may already exist server-side from a previous partial
// push; sending creates as upserts avoids duplicate-insert conflicts.
func (cs ChangeSet) SendCreatedAsUpdated() ChangeSet {
	out := make(ChangeSet, len(cs))
	for name, tc := range cs {
		moved := TableChanges{
			Created: []Record{},
			Updated: make([]Record, 0, len(tc.Created)+len(tc.Updated)),
			Deleted: tc.Deleted,
		}
		moved.Updated = append(moved.Updated, tc.Created...)
		moved.Updated = append(moved.Updated, tc.Updated...)
		out[name] = moved
	}
	return out
}
