package tools

import (
	"reflect"
	"testing"

	"github.com/arbor-hq/arbor/pkg/models"
)

func TestCreateDiffSkipsNilAndIdentifiers(t *testing.T) {
	newState := map[string]any{
		"project_id":  "p-1",
		"title":       "Fix login",
		"status":      "todo",
		"description": nil,
		"assignee_id": "u-2",
	}

	diff := createDiff(newState)

	fields := make([]string, len(diff))
	for i, e := range diff {
		fields[i] = e.Field
	}
	// Sorted; no identifier fields, no nil fields.
	if !reflect.DeepEqual(fields, []string{"status", "title"}) {
		t.Errorf("diff fields = %v", fields)
	}
	for _, e := range diff {
		if e.ChangeType != models.ChangeAdded {
			t.Errorf("field %s change type = %s, want added", e.Field, e.ChangeType)
		}
		if e.OldValue != nil {
			t.Errorf("field %s old value = %v, want nil", e.Field, e.OldValue)
		}
	}
}

func TestUpdateDiffOnlyChangedFields(t *testing.T) {
	oldState := map[string]any{
		"task_id":  "t-1",
		"title":    "Fix login",
		"priority": "low",
		"status":   "todo",
	}
	newState := map[string]any{
		"task_id":  "t-1",
		"title":    "Fix login", // unchanged
		"priority": "high",
	}

	diff := updateDiff(oldState, newState)

	if len(diff) != 1 {
		t.Fatalf("diff = %+v, want exactly one entry", diff)
	}
	entry := diff[0]
	if entry.Field != "priority" || entry.OldValue != "low" || entry.NewValue != "high" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.ChangeType != models.ChangeModified {
		t.Errorf("change type = %s, want modified", entry.ChangeType)
	}
}

func TestUpdateDiffIdenticalStates(t *testing.T) {
	state := map[string]any{"title": "same", "priority": "low"}
	if diff := updateDiff(state, state); len(diff) != 0 {
		t.Errorf("diff = %+v, want empty", diff)
	}
}

func TestUpdateDiffSorted(t *testing.T) {
	diff := updateDiff(
		map[string]any{"zeta": 1, "alpha": 1},
		map[string]any{"zeta": 2, "alpha": 2},
	)
	if len(diff) != 2 || diff[0].Field != "alpha" || diff[1].Field != "zeta" {
		t.Errorf("diff order = %+v", diff)
	}
}

func TestIsIdentifierField(t *testing.T) {
	cases := map[string]bool{
		"id":          true,
		"project_id":  true,
		"assignee_id": true,
		"title":       false,
		"identity":    false,
		"idle":        false,
	}
	for field, want := range cases {
		if got := isIdentifierField(field); got != want {
			t.Errorf("isIdentifierField(%q) = %v, want %v", field, got, want)
		}
	}
}
