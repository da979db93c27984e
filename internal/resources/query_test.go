package resources

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/neurostuff/neurostore-go/internal/apierr"
	"github.com/neurostuff/neurostore-go/internal/types"
)

func TestListPagination(t *testing.T) {
	e, gdb := newStoreEngine(t)
	alice := newUser(t, gdb, "alice")
	for i := 0; i < 25; i++ {
		mustUpsert(t, e, alice, KindStudy, map[string]interface{}{
			"name": fmt.Sprintf("study %02d", i),
		}, "")
	}

	ctx := context.Background()
	page1, meta, err := e.List(ctx, alice, KindStudy, ListParams{})
	if err != nil {
		t.Fatalf("List page 1: %v", err)
	}
	if len(page1) != 20 {
		t.Fatalf("page 1 size = %d, want default 20", len(page1))
	}
	if meta.TotalCount != 25 {
		t.Fatalf("total_count = %d, want 25", meta.TotalCount)
	}

	page2, _, err := e.List(ctx, alice, KindStudy, ListParams{Page: 2})
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(page2) != 5 {
		t.Fatalf("page 2 size = %d, want 5", len(page2))
	}

	if _, _, err := e.List(ctx, alice, KindStudy, ListParams{PageSize: 100}); apierr.StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("page_size=100 status = %d, want 400", apierr.StatusOf(err))
	}
}

func TestListVisibility(t *testing.T) {
	e, gdb := newStoreEngine(t)
	alice := newUser(t, gdb, "alice")
	bob := newUser(t, gdb, "bob")

	mustUpsert(t, e, alice, KindStudy, map[string]interface{}{"name": "open", "public": true}, "")
	private := mustUpsert(t, e, alice, KindStudy, map[string]interface{}{"name": "hidden", "public": false}, "").(*types.Study)

	ctx := context.Background()
	cases := []struct {
		name      string
		principal *types.User
		want      int
	}{
		{"anonymous", nil, 1},
		{"other user", bob, 1},
		{"owner", alice, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, _, err := e.List(ctx, tc.principal, KindStudy, ListParams{})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(out) != tc.want {
				t.Fatalf("visible studies = %d, want %d", len(out), tc.want)
			}
		})
	}

	// single fetch follows the same rule
	if _, err := e.Get(ctx, bob, KindStudy, private.ID, false); apierr.StatusOf(err) != http.StatusForbidden {
		t.Fatalf("foreign Get status = %d, want 403", apierr.StatusOf(err))
	}
	if _, err := e.Get(ctx, alice, KindStudy, private.ID, false); err != nil {
		t.Fatalf("owner Get: %v", err)
	}
}

func TestListUniqueFiltersClones(t *testing.T) {
	e, gdb := newStoreEngine(t)
	alice := newUser(t, gdb, "alice")
	bob := newUser(t, gdb, "bob")

	var originals []*types.Study
	for i := 0; i < 3; i++ {
		s := mustUpsert(t, e, alice, KindStudy, map[string]interface{}{
			"name": fmt.Sprintf("original %d", i),
		}, "").(*types.Study)
		originals = append(originals, s)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := e.Clone(ctx, bob, KindStudy, originals[i].ID, "", nil); err != nil {
			t.Fatalf("Clone: %v", err)
		}
	}

	all, meta, err := e.List(ctx, alice, KindStudy, ListParams{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 5 || meta.TotalCount != 5 {
		t.Fatalf("all listing = %d rows, total_count %d, want 5/5", len(all), meta.TotalCount)
	}
	if meta.UniqueCount != 3 {
		t.Fatalf("unique_count = %d, want 3", meta.UniqueCount)
	}

	unique, umeta, err := e.List(ctx, alice, KindStudy, ListParams{Unique: true})
	if err != nil {
		t.Fatalf("List unique: %v", err)
	}
	if len(unique) != 3 || umeta.TotalCount != 3 || umeta.UniqueCount != 3 {
		t.Fatalf("unique listing = %d rows, counts %d/%d, want 3/3/3",
			len(unique), umeta.TotalCount, umeta.UniqueCount)
	}
}

func TestListSortAndSearch(t *testing.T) {
	e, gdb := newStoreEngine(t)
	alice := newUser(t, gdb, "alice")
	for _, name := range []string{"banana mapping", "Apple mapping", "cherry atlas"} {
		mustUpsert(t, e, alice, KindStudy, map[string]interface{}{"name": name}, "")
	}
	ctx := context.Background()

	byName, _, err := e.List(ctx, alice, KindStudy, ListParams{Sort: "name"})
	if err != nil {
		t.Fatalf("List sort=name: %v", err)
	}
	var got []string
	for _, m := range byName {
		got = append(got, m["name"].(string))
	}
	want := []string{"Apple mapping", "banana mapping", "cherry atlas"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sort order = %v, want %v", got, want)
		}
	}

	if _, _, err := e.List(ctx, alice, KindStudy, ListParams{Sort: "studyset_name"}); apierr.StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("unsupported sort status = %d, want 400", apierr.StatusOf(err))
	}

	found, _, err := e.List(ctx, alice, KindStudy, ListParams{Search: "MAPPING"})
	if err != nil {
		t.Fatalf("List search: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("search hits = %d, want 2", len(found))
	}

	filtered, _, err := e.List(ctx, alice, KindStudy, ListParams{Fields: map[string]string{"name": "cherry"}})
	if err != nil {
		t.Fatalf("List field filter: %v", err)
	}
	if len(filtered) != 1 {
		t.Fatalf("field filter hits = %d, want 1", len(filtered))
	}
}

func TestDumpCollapsesReferences(t *testing.T) {
	e, gdb := newStoreEngine(t)
	alice := newUser(t, gdb, "alice")
	study := mustUpsert(t, e, alice, KindStudy, map[string]interface{}{
		"name": "dump shape",
		"analyses": []interface{}{
			map[string]interface{}{"name": "a"},
		},
	}, "").(*types.Study)

	ctx := context.Background()
	flat, err := e.Get(ctx, alice, KindStudy, study.ID, false)
	if err != nil {
		t.Fatalf("Get flat: %v", err)
	}
	flatKids := flat["analyses"].([]interface{})
	if _, isID := flatKids[0].(string); !isID {
		t.Fatalf("flat dump embeds analyses, want id strings: %#v", flatKids[0])
	}

	nested, err := e.Get(ctx, alice, KindStudy, study.ID, true)
	if err != nil {
		t.Fatalf("Get nested: %v", err)
	}
	nestedKids := nested["analyses"].([]interface{})
	child, isObj := nestedKids[0].(map[string]interface{})
	if !isObj {
		t.Fatalf("nested dump collapses analyses, want objects: %#v", nestedKids[0])
	}
	if child["name"] != "a" {
		t.Fatalf("nested child name = %v, want a", child["name"])
	}
}
