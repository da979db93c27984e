package resources

import (
	"context"
	"net/http"
	"testing"

	"github.com/neurostuff/neurostore-go/internal/apierr"
	"github.com/neurostuff/neurostore-go/internal/types"
)

func TestCloneStudyMintsNewTree(t *testing.T) {
	e, gdb := newStoreEngine(t)
	alice := newUser(t, gdb, "alice")
	bob := newUser(t, gdb, "bob")

	orig := mustUpsert(t, e, alice, KindStudy, map[string]interface{}{
		"name": "source study",
		"doi":  "10.1000/src",
		"analyses": []interface{}{
			map[string]interface{}{
				"name": "contrast",
				"points": []interface{}{
					map[string]interface{}{"x": 1.0, "y": 2.0, "z": 3.0},
				},
			},
		},
	}, "").(*types.Study)

	rec, err := e.Clone(context.Background(), bob, KindStudy, orig.ID, "", map[string]interface{}{
		"name": "my copy",
	})
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	clone := rec.(*types.Study)

	if clone.ID == orig.ID {
		t.Fatalf("clone reused the source id")
	}
	if clone.Name != "my copy" {
		t.Fatalf("override name = %q, want %q", clone.Name, "my copy")
	}
	if clone.DOI != orig.DOI {
		t.Fatalf("clone doi = %q, want copied %q", clone.DOI, orig.DOI)
	}
	if clone.UserID == nil || *clone.UserID != "bob" {
		t.Fatalf("clone owner = %v, want bob", clone.UserID)
	}
	if clone.Source == nil || *clone.Source != "neurostore" {
		t.Fatalf("clone source = %v, want neurostore", clone.Source)
	}
	if clone.SourceID == nil || *clone.SourceID != orig.ID {
		t.Fatalf("clone source_id = %v, want %s", clone.SourceID, orig.ID)
	}
	if clone.SourceUpdatedAt == nil {
		t.Fatalf("clone source_updated_at is nil")
	}
	if len(clone.Analyses) != 1 || clone.Analyses[0].ID == orig.Analyses[0].ID {
		t.Fatalf("clone analyses were not copied under fresh ids")
	}
	if got := count(t, gdb, &types.Point{}, ""); got != 2 {
		t.Fatalf("point rows = %d, want 2 (original + copy)", got)
	}
}

func TestCloneChasesProvenanceChain(t *testing.T) {
	e, gdb := newStoreEngine(t)
	alice := newUser(t, gdb, "alice")
	bob := newUser(t, gdb, "bob")
	carol := newUser(t, gdb, "carol")

	orig := mustUpsert(t, e, alice, KindStudy, map[string]interface{}{"name": "root"}, "").(*types.Study)
	ctx := context.Background()
	first, err := e.Clone(ctx, bob, KindStudy, orig.ID, "", nil)
	if err != nil {
		t.Fatalf("first Clone: %v", err)
	}
	second, err := e.Clone(ctx, carol, KindStudy, first.(*types.Study).ID, "", nil)
	if err != nil {
		t.Fatalf("second Clone: %v", err)
	}

	got := second.(*types.Study)
	if got.SourceID == nil || *got.SourceID != orig.ID {
		t.Fatalf("clone-of-clone source_id = %v, want the root %s", got.SourceID, orig.ID)
	}
}

func TestCloneRejectsUnknownSource(t *testing.T) {
	e, gdb := newStoreEngine(t)
	alice := newUser(t, gdb, "alice")
	orig := mustUpsert(t, e, alice, KindStudy, map[string]interface{}{"name": "root"}, "").(*types.Study)

	_, err := e.Clone(context.Background(), alice, KindStudy, orig.ID, "pubmed", nil)
	if apierr.StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("unknown source status = %d, want 400", apierr.StatusOf(err))
	}
}

func TestCloneStudysetSharesMembers(t *testing.T) {
	e, gdb := newStoreEngine(t)
	alice := newUser(t, gdb, "alice")
	bob := newUser(t, gdb, "bob")
	ss, studies := buildAnnotatedStudyset(t, e, alice)

	rec, err := e.Clone(context.Background(), bob, KindStudyset, ss.ID, "", nil)
	if err != nil {
		t.Fatalf("Clone studyset: %v", err)
	}
	clone := rec.(*types.Studyset)

	if got := count(t, gdb, &types.Study{}, ""); got != int64(len(studies)) {
		t.Fatalf("study rows = %d, want %d (members shared, not copied)", got, len(studies))
	}
	if got := count(t, gdb, &types.StudysetStudy{}, "studyset_id = ?", clone.ID); got != int64(len(studies)) {
		t.Fatalf("clone memberships = %d, want %d", got, len(studies))
	}
}

func TestCloneAnnotationCopiesNotes(t *testing.T) {
	e, gdb := newStoreEngine(t)
	alice := newUser(t, gdb, "alice")
	bob := newUser(t, gdb, "bob")
	ss, _ := buildAnnotatedStudyset(t, e, alice)
	ann := mustUpsert(t, e, alice, KindAnnotation, map[string]interface{}{
		"name":      "inclusion",
		"studyset":  ss.ID,
		"note_keys": map[string]interface{}{"include": "boolean"},
	}, "").(*types.Annotation)

	rec, err := e.Clone(context.Background(), bob, KindAnnotation, ann.ID, "", nil)
	if err != nil {
		t.Fatalf("Clone annotation: %v", err)
	}
	clone := rec.(*types.Annotation)

	if clone.StudysetID == nil || *clone.StudysetID != ss.ID {
		t.Fatalf("clone studyset = %v, want shared %s", clone.StudysetID, ss.ID)
	}
	if got := count(t, gdb, &types.AnnotationNote{}, "annotation_id = ?", clone.ID); got != 3 {
		t.Fatalf("clone notes = %d, want 3", got)
	}
	if got := count(t, gdb, &types.AnnotationNote{}, "annotation_id = ?", ann.ID); got != 3 {
		t.Fatalf("source notes = %d, want 3 untouched", got)
	}
}
