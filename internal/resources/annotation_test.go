package resources

import (
	"context"
	"net/http"
	"testing"

	"gorm.io/gorm"

	"github.com/neurostuff/neurostore-go/internal/apierr"
	"github.com/neurostuff/neurostore-go/internal/types"
)

// buildAnnotatedStudyset creates two studies (two analyses and one analysis
// respectively) inside one studyset, all owned by principal.
func buildAnnotatedStudyset(t *testing.T, e *Engine, principal *types.User) (*types.Studyset, []*types.Study) {
	t.Helper()
	s1 := mustUpsert(t, e, principal, KindStudy, map[string]interface{}{
		"name": "study one",
		"analyses": []interface{}{
			map[string]interface{}{"name": "one/a"},
			map[string]interface{}{"name": "one/b"},
		},
	}, "").(*types.Study)
	s2 := mustUpsert(t, e, principal, KindStudy, map[string]interface{}{
		"name": "study two",
		"analyses": []interface{}{
			map[string]interface{}{"name": "two/a"},
		},
	}, "").(*types.Study)
	ss := mustUpsert(t, e, principal, KindStudyset, map[string]interface{}{
		"name":    "collection",
		"studies": []interface{}{map[string]interface{}{"id": s1.ID}, map[string]interface{}{"id": s2.ID}},
	}, "").(*types.Studyset)
	return ss, []*types.Study{s1, s2}
}

func loadNotes(t *testing.T, gdb *gorm.DB, annotationID string) []*types.AnnotationNote {
	t.Helper()
	var notes []*types.AnnotationNote
	if err := gdb.Where("annotation_id = ?", annotationID).Find(&notes).Error; err != nil {
		t.Fatalf("load notes: %v", err)
	}
	return notes
}

func TestAnnotationCreateBackfillsBlankNotes(t *testing.T) {
	e, gdb := newStoreEngine(t)
	alice := newUser(t, gdb, "alice")
	ss, _ := buildAnnotatedStudyset(t, e, alice)

	ann := mustUpsert(t, e, alice, KindAnnotation, map[string]interface{}{
		"name":      "inclusion",
		"studyset":  ss.ID,
		"note_keys": map[string]interface{}{"include": "boolean"},
	}, "").(*types.Annotation)

	notes := loadNotes(t, gdb, ann.ID)
	if len(notes) != 3 {
		t.Fatalf("blank notes = %d, want one per analysis (3)", len(notes))
	}
	for _, n := range notes {
		if len(n.Note) != 1 {
			t.Fatalf("blank note keys = %d, want 1: %#v", len(n.Note), n.Note)
		}
		if v, ok := n.Note["include"]; !ok || v != nil {
			t.Fatalf("blank note = %#v, want null include", n.Note)
		}
		if n.StudysetID != ss.ID {
			t.Fatalf("note studyset = %s, want %s", n.StudysetID, ss.ID)
		}
	}
}

func TestAnnotationNoteKeyMismatchRollsBack(t *testing.T) {
	e, gdb := newStoreEngine(t)
	alice := newUser(t, gdb, "alice")
	ss, _ := buildAnnotatedStudyset(t, e, alice)
	ann := mustUpsert(t, e, alice, KindAnnotation, map[string]interface{}{
		"name":      "inclusion",
		"studyset":  ss.ID,
		"note_keys": map[string]interface{}{"include": "boolean"},
	}, "").(*types.Annotation)
	before := loadNotes(t, gdb, ann.ID)

	_, err := e.UpdateOrCreate(context.Background(), alice, KindAnnotation, map[string]interface{}{
		"notes": []interface{}{
			map[string]interface{}{
				"analysis_id": before[0].AnalysisID,
				"note":        map[string]interface{}{"exclude": true},
			},
		},
	}, ann.ID)
	if apierr.StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("mismatched note keys status = %d, want 400 (%v)", apierr.StatusOf(err), err)
	}

	// the rejected write replaced the whole note set before validating;
	// none of that may survive the rollback
	after := loadNotes(t, gdb, ann.ID)
	if len(after) != len(before) {
		t.Fatalf("notes = %d after rollback, want %d", len(after), len(before))
	}
	for _, n := range after {
		if _, ok := n.Note["include"]; !ok {
			t.Fatalf("note lost its declared key after rollback: %#v", n.Note)
		}
	}
}

func TestMembershipChangesReconcileNotes(t *testing.T) {
	e, gdb := newStoreEngine(t)
	alice := newUser(t, gdb, "alice")
	ss, studies := buildAnnotatedStudyset(t, e, alice)
	ann := mustUpsert(t, e, alice, KindAnnotation, map[string]interface{}{
		"name":      "inclusion",
		"studyset":  ss.ID,
		"note_keys": map[string]interface{}{"include": "boolean"},
	}, "").(*types.Annotation)

	// dropping study two removes its analysis' note
	mustUpsert(t, e, alice, KindStudyset, map[string]interface{}{
		"studies": []interface{}{map[string]interface{}{"id": studies[0].ID}},
	}, ss.ID)
	if notes := loadNotes(t, gdb, ann.ID); len(notes) != 2 {
		t.Fatalf("notes after membership removal = %d, want 2", len(notes))
	}

	// a new analysis on a member study gains a blank note
	mustUpsert(t, e, alice, KindAnalysis, map[string]interface{}{
		"name":  "one/c",
		"study": studies[0].ID,
	}, "")
	notes := loadNotes(t, gdb, ann.ID)
	if len(notes) != 3 {
		t.Fatalf("notes after analysis creation = %d, want 3", len(notes))
	}
}

func TestAnnotationNoteTypeMismatchRejected(t *testing.T) {
	e, gdb := newStoreEngine(t)
	alice := newUser(t, gdb, "alice")
	ss, _ := buildAnnotatedStudyset(t, e, alice)
	ann := mustUpsert(t, e, alice, KindAnnotation, map[string]interface{}{
		"name":      "inclusion",
		"studyset":  ss.ID,
		"note_keys": map[string]interface{}{"include": "boolean"},
	}, "").(*types.Annotation)
	notes := loadNotes(t, gdb, ann.ID)

	_, err := e.UpdateOrCreate(context.Background(), alice, KindAnnotation, map[string]interface{}{
		"notes": []interface{}{
			map[string]interface{}{
				"analysis_id": notes[0].AnalysisID,
				"note":        map[string]interface{}{"include": "definitely not a boolean"},
			},
		},
	}, ann.ID)
	if apierr.StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("string under a boolean key status = %d, want 400 (%v)", apierr.StatusOf(err), err)
	}

	// null values stay exempt from the type check
	payload := make([]interface{}, 0, len(notes))
	for i, n := range notes {
		v := interface{}(nil)
		if i == 0 {
			v = true
		}
		payload = append(payload, map[string]interface{}{
			"analysis_id": n.AnalysisID,
			"note":        map[string]interface{}{"include": v},
		})
	}
	mustUpsert(t, e, alice, KindAnnotation, map[string]interface{}{"notes": payload}, ann.ID)
}

func TestAnnotationEmptyNoteKeysRejected(t *testing.T) {
	e, gdb := newStoreEngine(t)
	alice := newUser(t, gdb, "alice")
	ss, _ := buildAnnotatedStudyset(t, e, alice)
	ann := mustUpsert(t, e, alice, KindAnnotation, map[string]interface{}{
		"name":     "untyped",
		"studyset": ss.ID,
	}, "").(*types.Annotation)

	// with nothing declared the backfilled notes are empty objects
	notes := loadNotes(t, gdb, ann.ID)
	for _, n := range notes {
		if len(n.Note) != 0 {
			t.Fatalf("undeclared annotation blank note = %#v, want empty", n.Note)
		}
	}

	payload := make([]interface{}, 0, len(notes))
	for _, n := range notes {
		payload = append(payload, map[string]interface{}{
			"analysis_id": n.AnalysisID,
			"note":        map[string]interface{}{"confidence": 0.9},
		})
	}
	_, err := e.UpdateOrCreate(context.Background(), alice, KindAnnotation,
		map[string]interface{}{"notes": payload}, ann.ID)
	if apierr.StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("notes without note_keys status = %d, want 400 (%v)", apierr.StatusOf(err), err)
	}
	var reloaded types.Annotation
	if err := gdb.First(&reloaded, "id = ?", ann.ID).Error; err != nil {
		t.Fatalf("reload annotation: %v", err)
	}
	if len(reloaded.NoteKeys) != 0 {
		t.Fatalf("note_keys = %#v after rejected write, want empty", reloaded.NoteKeys)
	}
}
