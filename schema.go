package hivesync

import (
	"fmt"
	"sort"
)

// Schema declares the tables the store accepts and the columns each
// table may carry. Patches touching an undeclared table or column are
// rejected with a validation error instead of writing silently.
type Schema struct {
	// Version is the schema version number; storage implementations key
	// their migrations off it.
	Version int

	tables map[string]map[string]struct{}
}

// NewSchema returns an empty schema at the given version.
func NewSchema(version int) *Schema {
	return &Schema{Version: version, tables: make(map[string]map[string]struct{})}
}

// Table declares a table and its writable columns. Declaring the same
// table twice merges the column sets.
func (s *Schema) Table(name string, columns ...string) *Schema {
	cols, ok := s.tables[name]
	if !ok {
		cols = make(map[string]struct{}, len(columns))
		s.tables[name] = cols
	}
	for _, c := range columns {
		cols[c] = struct{}{}
	}
	return s
}

// HasTable reports whether the table is declared.
func (s *Schema) HasTable(name string) bool {
	_, ok := s.tables[name]
	return ok
}

// Tables returns the declared table names, sorted.
func (s *Schema) Tables() []string {
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ValidatePatch checks that every column in the patch is declared for
// the table.
func (s *Schema) ValidatePatch(table string, patch Patch) error {
	cols, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	for name := range patch {
		if _, ok := cols[name]; !ok {
			return fmt.Errorf("unknown column %q in table %q", name, table)
		}
	}
	return nil
}

// Columns returns the sorted column names of a table, or nil when the
// table is not declared.
func (s *Schema) Columns(table string) []string {
	cols, ok := s.tables[table]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(cols))
	for name := range cols {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DefaultSchema is the beekeeping field-record schema: apiaries own
// hives, hives own queens, inspections, treatments, harvests and
// events, inspections own photos, and tasks/cadences hang directly off
// the user.
func DefaultSchema() *Schema {
	return NewSchema(1).
		Table("apiaries",
			"name", "latitude", "longitude", "city", "country_code",
			"hex_color", "notes", "archived_at", "created_at", "updated_at").
		Table("hives",
			"apiary_id", "name", "hive_type", "status", "source",
			"installation_date", "color", "position_order", "notes",
			"created_at", "updated_at").
		Table("queens",
			"hive_id", "marking_color", "marking_year", "origin", "status",
			"race", "quality", "fertilized", "clipped", "birth_date",
			"introduced_date", "replaced_date", "notes",
			"created_at", "updated_at").
		Table("inspections",
			"hive_id", "inspected_at", "duration_minutes",
			"experience_template", "observations_json", "weather_json",
			"impression", "attention", "reminder", "reminder_date",
			"ai_summary", "notes", "created_at", "updated_at").
		Table("inspection_photos",
			"inspection_id", "s3_key", "caption", "ai_analysis_json",
			"url", "uploaded_at", "created_at", "updated_at").
		Table("treatments",
			"hive_id", "treatment_type", "product_name", "method",
			"started_at", "ended_at", "dosage", "effectiveness_notes",
			"follow_up_date", "created_at", "updated_at").
		Table("harvests",
			"hive_id", "harvested_at", "weight_kg", "moisture_percent",
			"honey_type", "flavor_notes", "color", "frames_harvested",
			"notes", "created_at", "updated_at").
		Table("events",
			"hive_id", "event_type", "occurred_at", "details_json",
			"notes", "created_at", "updated_at").
		Table("tasks",
			"hive_id", "apiary_id", "title", "description", "due_date",
			"recurring", "recurrence_rule", "source", "completed_at",
			"priority", "created_at", "updated_at").
		Table("task_cadences",
			"hive_id", "cadence_key", "is_active", "last_generated_at",
			"next_due_date", "custom_interval_days", "custom_season_month",
			"custom_season_day", "created_at", "updated_at")
}
