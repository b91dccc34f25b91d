// Package tools implements the assistant's tool surface: tier-1 query and
// action tools plus on-demand tier-2 groups.
package tools

import (
	"reflect"
	"sort"
	"strings"

	"github.com/arbor-hq/arbor/pkg/models"
)

// isIdentifierField reports whether a field names an entity reference rather
// than user-visible content. Identifier fields never appear in diffs.
func isIdentifierField(field string) bool {
	return field == "id" || strings.HasSuffix(field, "_id")
}

// createDiff builds the diff for a create operation: every non-nil,
// non-identifier field becomes an added entry against a nil old value.
// Entries are sorted by field name for a stable presentation.
func createDiff(newState map[string]any) []models.DiffEntry {
	var diff []models.DiffEntry
	for field, value := range newState {
		if value == nil || isIdentifierField(field) {
			continue
		}
		diff = append(diff, models.DiffEntry{
			Field:      field,
			OldValue:   nil,
			NewValue:   value,
			ChangeType: models.ChangeAdded,
		})
	}
	sort.Slice(diff, func(i, j int) bool { return diff[i].Field < diff[j].Field })
	return diff
}

// updateDiff builds the diff for an update operation: exactly the fields
// whose resolved old value differs from the requested new value, as modified
// entries. Fields absent from newState are untouched and never diffed.
func updateDiff(oldState, newState map[string]any) []models.DiffEntry {
	var diff []models.DiffEntry
	for field, newValue := range newState {
		if isIdentifierField(field) {
			continue
		}
		oldValue := oldState[field]
		if reflect.DeepEqual(oldValue, newValue) {
			continue
		}
		diff = append(diff, models.DiffEntry{
			Field:      field,
			OldValue:   oldValue,
			NewValue:   newValue,
			ChangeType: models.ChangeModified,
		})
	}
	sort.Slice(diff, func(i, j int) bool { return diff[i].Field < diff[j].Field })
	return diff
}
