package resources

import (
	"testing"

	"github.com/neurostuff/neurostore-go/internal/types"
)

func TestProjectCreateWithMetaAnalysisTree(t *testing.T) {
	e, gdb := newComposeEngine(t)
	alice := newUser(t, gdb, "alice")

	rec := mustUpsert(t, e, alice, KindProject, map[string]interface{}{
		"name": "cognitive control",
		"meta_analyses": []interface{}{
			map[string]interface{}{
				"name": "ALE run",
				"specification": map[string]interface{}{
					"type":      "ALE",
					"estimator": map[string]interface{}{"kernel__fwhm": 8.0},
				},
			},
		},
	}, "")

	proj := rec.(*types.Project)
	if proj.UserID == nil || *proj.UserID != "alice" {
		t.Fatalf("project owner = %v, want alice", proj.UserID)
	}
	if len(proj.MetaAnalyses) != 1 {
		t.Fatalf("meta analyses = %d, want 1", len(proj.MetaAnalyses))
	}
	ma := proj.MetaAnalyses[0]
	if ma.ProjectID == nil || *ma.ProjectID != proj.ID {
		t.Fatalf("meta analysis not attached to project")
	}
	if ma.SpecificationID == nil {
		t.Fatalf("specification was not linked")
	}

	// the FK lives on the meta analysis row; verify it was persisted
	var stored types.MetaAnalysis
	if err := gdb.First(&stored, "id = ?", ma.ID).Error; err != nil {
		t.Fatalf("reload meta analysis: %v", err)
	}
	if stored.SpecificationID == nil || *stored.SpecificationID != *ma.SpecificationID {
		t.Fatalf("stored specification_id = %v, want %v", stored.SpecificationID, ma.SpecificationID)
	}
	if got := count(t, gdb, &types.Specification{}, ""); got != 1 {
		t.Fatalf("specification rows = %d, want 1", got)
	}
}

func TestReferenceMaterializedByID(t *testing.T) {
	e, gdb := newComposeEngine(t)
	alice := newUser(t, gdb, "alice")

	// the reference id is minted by the companion store, not by us
	rec := mustUpsert(t, e, alice, KindCachedStudyset, map[string]interface{}{
		"version":            "v1",
		"studyset_reference": map[string]interface{}{"id": "abcdefabcdef"},
	}, "")

	cs := rec.(*types.CachedStudyset)
	if cs.StudysetReferenceID == nil || *cs.StudysetReferenceID != "abcdefabcdef" {
		t.Fatalf("studyset_reference_id = %v, want abcdefabcdef", cs.StudysetReferenceID)
	}
	if got := count(t, gdb, &types.StudysetReference{}, "id = ?", "abcdefabcdef"); got != 1 {
		t.Fatalf("reference row was not materialized")
	}

	// a second snapshot of the same reference reuses the row
	mustUpsert(t, e, alice, KindCachedStudyset, map[string]interface{}{
		"version":            "v2",
		"studyset_reference": map[string]interface{}{"id": "abcdefabcdef"},
	}, "")
	if got := count(t, gdb, &types.StudysetReference{}, ""); got != 1 {
		t.Fatalf("reference rows = %d, want 1", got)
	}
	if got := count(t, gdb, &types.CachedStudyset{}, ""); got != 2 {
		t.Fatalf("cached studyset rows = %d, want 2", got)
	}
}

func TestResultCollectionAndFiles(t *testing.T) {
	e, gdb := newComposeEngine(t)
	alice := newUser(t, gdb, "alice")

	ma := mustUpsert(t, e, alice, KindMetaAnalysis, map[string]interface{}{"name": "run"}, "").(*types.MetaAnalysis)
	res := mustUpsert(t, e, alice, KindMetaAnalysisResult, map[string]interface{}{
		"meta_analysis":      ma.ID,
		"method_description": "NiMARE 0.2.0",
	}, "").(*types.MetaAnalysisResult)
	if res.MetaAnalysisID == nil || *res.MetaAnalysisID != ma.ID {
		t.Fatalf("result not attached to meta analysis")
	}

	col := mustUpsert(t, e, alice, KindNeurovaultCollection, map[string]interface{}{
		"files": []interface{}{
			map[string]interface{}{"filename": "z_corr.nii.gz", "status": "PENDING"},
		},
	}, "").(*types.NeurovaultCollection)
	if len(col.Files) != 1 {
		t.Fatalf("collection files = %d, want 1", len(col.Files))
	}
	if col.Files[0].CollectionID == nil || *col.Files[0].CollectionID != col.ID {
		t.Fatalf("file not attached to collection")
	}

	mustUpsert(t, e, alice, KindMetaAnalysisResult, map[string]interface{}{
		"neurovault_collection": map[string]interface{}{"id": col.ID},
	}, res.ID)
	var stored types.NeurovaultCollection
	if err := gdb.First(&stored, "id = ?", col.ID).Error; err != nil {
		t.Fatalf("reload collection: %v", err)
	}
	if stored.ResultID == nil || *stored.ResultID != res.ID {
		t.Fatalf("collection result_id = %v, want %s", stored.ResultID, res.ID)
	}
}
