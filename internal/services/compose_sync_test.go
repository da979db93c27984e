package services

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/neurostuff/neurostore-go/internal/clients/neurostore"
	"github.com/neurostuff/neurostore-go/internal/db"
	"github.com/neurostuff/neurostore-go/internal/logger"
	"github.com/neurostuff/neurostore-go/internal/types"
)

func TestParseClusterTable(t *testing.T) {
	cases := []struct {
		name       string
		table      string
		wantPoints int
		wantStats  bool
		wantErr    bool
	}{
		{
			name: "coordinates with peak stat",
			table: "Cluster ID\tX\tY\tZ\tPeak Stat\n" +
				"1\t-42\t18\t7\t4.21\n" +
				"2\t36\t-12\t52\t3.90\n",
			wantPoints: 2,
			wantStats:  true,
		},
		{
			name: "coordinates only",
			table: "x\ty\tz\n" +
				"1.5\t2.5\t3.5\n",
			wantPoints: 1,
		},
		{
			name: "non numeric rows are skipped",
			table: "x\ty\tz\n" +
				"a\tb\tc\n" +
				"1\t2\t3\n",
			wantPoints: 1,
		},
		{
			name:       "header only",
			table:      "x\ty\tz\n",
			wantPoints: 0,
		},
		{
			name:    "missing coordinate columns",
			table:   "cluster\tpeak_stat\n1\t4.2\n",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			points, err := parseClusterTable(tc.table)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseClusterTable succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseClusterTable: %v", err)
			}
			if len(points) != tc.wantPoints {
				t.Fatalf("points = %d, want %d", len(points), tc.wantPoints)
			}
			for _, p := range points {
				if p["space"] != "MNI" || p["kind"] != "center of mass" {
					t.Fatalf("point missing space/kind: %#v", p)
				}
				_, hasStats := p["values"]
				if hasStats != tc.wantStats {
					t.Fatalf("point values present = %v, want %v", hasStats, tc.wantStats)
				}
			}
		})
	}
}

func TestParseClusterTableValues(t *testing.T) {
	points, err := parseClusterTable("X\tY\tZ\tpeak_stat\n-42\t18\t7\t4.25\n")
	if err != nil {
		t.Fatalf("parseClusterTable: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}
	p := points[0]
	if p["x"] != -42.0 || p["y"] != 18.0 || p["z"] != 7.0 {
		t.Fatalf("coordinates = %v/%v/%v, want -42/18/7", p["x"], p["y"], p["z"])
	}
	vals := p["values"].([]map[string]interface{})
	if len(vals) != 1 || vals[0]["kind"] != "stat" || vals[0]["value"] != 4.25 {
		t.Fatalf("values = %#v, want one stat 4.25", vals)
	}
}

func composeDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.MigrateCompose(gdb); err != nil {
		t.Fatalf("MigrateCompose: %v", err)
	}
	return gdb
}

// fakeStoreClient scripts the companion store's responses per call.
type fakeStoreClient struct {
	studyResp    map[string]interface{}
	studyErr     error
	analysisResp map[string]interface{}
	analysisErr  error
	studyCalls   int
}

func (f *fakeStoreClient) GetStudyset(ctx context.Context, id string, nested bool) (map[string]interface{}, error) {
	return map[string]interface{}{"id": id}, nil
}

func (f *fakeStoreClient) GetAnnotation(ctx context.Context, id string) (map[string]interface{}, error) {
	return map[string]interface{}{"id": id}, nil
}

func (f *fakeStoreClient) CreateStudy(ctx context.Context, token string, payload map[string]interface{}) (map[string]interface{}, error) {
	f.studyCalls++
	return f.studyResp, f.studyErr
}

func (f *fakeStoreClient) UpdateStudy(ctx context.Context, token, id string, payload map[string]interface{}) (map[string]interface{}, error) {
	f.studyCalls++
	return f.studyResp, f.studyErr
}

func (f *fakeStoreClient) CreateAnalysis(ctx context.Context, token string, payload map[string]interface{}) (map[string]interface{}, error) {
	return f.analysisResp, f.analysisErr
}

func (f *fakeStoreClient) UpdateAnalysis(ctx context.Context, token, id string, payload map[string]interface{}) (map[string]interface{}, error) {
	return f.analysisResp, f.analysisErr
}

func newSyncService(t *testing.T, gdb *gorm.DB, client neurostore.Client) ComposeSyncService {
	t.Helper()
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return NewComposeSyncService(gdb, log, client)
}

func TestEnsureNeurostoreStudyRecordsFailure(t *testing.T) {
	gdb := composeDB(t)
	project := &types.Project{Name: "flanker"}
	project.ID = types.NewID()
	if err := gdb.Create(project).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}

	fake := &fakeStoreClient{
		studyErr: &neurostore.StatusError{StatusCode: 422, Body: "study name already taken"},
	}
	svc := newSyncService(t, gdb, fake)

	row, err := svc.EnsureNeurostoreStudy(context.Background(), nil, project, "tok")
	if err != nil {
		t.Fatalf("EnsureNeurostoreStudy surfaced the push error: %v", err)
	}

	var stored types.NeurostoreStudy
	if err := gdb.First(&stored, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("reload sync row: %v", err)
	}
	if stored.Status != types.SyncStatusFailed {
		t.Fatalf("status = %q, want %q", stored.Status, types.SyncStatusFailed)
	}
	if stored.Traceback != "study name already taken" {
		t.Fatalf("traceback = %q, want the upstream body", stored.Traceback)
	}
	// the project that triggered the push is untouched
	var kept types.Project
	if err := gdb.First(&kept, "id = ?", project.ID).Error; err != nil {
		t.Fatalf("project row gone after failed push: %v", err)
	}
}

func TestEnsureNeurostoreStudySyncedOnceThenReused(t *testing.T) {
	gdb := composeDB(t)
	project := &types.Project{Name: "stroop"}
	project.ID = types.NewID()
	if err := gdb.Create(project).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}

	fake := &fakeStoreClient{studyResp: map[string]interface{}{"id": "ns-study-1"}}
	svc := newSyncService(t, gdb, fake)

	row, err := svc.EnsureNeurostoreStudy(context.Background(), nil, project, "tok")
	if err != nil {
		t.Fatalf("EnsureNeurostoreStudy: %v", err)
	}
	if row.NeurostoreID != "ns-study-1" || row.Status != types.SyncStatusOK {
		t.Fatalf("sync row = %q/%q, want ns-study-1/%q", row.NeurostoreID, row.Status, types.SyncStatusOK)
	}

	// a synced row short-circuits, even with a now-broken upstream
	fake.studyErr = &neurostore.StatusError{StatusCode: 500, Body: "down"}
	again, err := svc.EnsureNeurostoreStudy(context.Background(), nil, project, "tok")
	if err != nil {
		t.Fatalf("second EnsureNeurostoreStudy: %v", err)
	}
	if again.Status != types.SyncStatusOK || fake.studyCalls != 1 {
		t.Fatalf("status = %q after %d calls, want OK after 1", again.Status, fake.studyCalls)
	}
}

func TestPushNeurostoreAnalysisFailureBecomesStatus(t *testing.T) {
	gdb := composeDB(t)
	project := &types.Project{Name: "nback"}
	project.ID = types.NewID()
	if err := gdb.Create(project).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}
	ma := &types.MetaAnalysis{Name: "ale run", ProjectID: &project.ID}
	ma.ID = types.NewID()
	if err := gdb.Create(ma).Error; err != nil {
		t.Fatalf("create meta-analysis: %v", err)
	}

	fake := &fakeStoreClient{
		studyResp:   map[string]interface{}{"id": "ns-study-2"},
		analysisErr: &neurostore.StatusError{StatusCode: 422, Body: "bad points payload"},
	}
	svc := newSyncService(t, gdb, fake)

	if err := svc.PushNeurostoreAnalysis(context.Background(), ma.ID, "tok"); err != nil {
		t.Fatalf("PushNeurostoreAnalysis surfaced the push error: %v", err)
	}

	var stored types.NeurostoreAnalysis
	if err := gdb.First(&stored, "meta_analysis_id = ?", ma.ID).Error; err != nil {
		t.Fatalf("reload analysis sync row: %v", err)
	}
	if stored.Status != types.SyncStatusFailed {
		t.Fatalf("status = %q, want %q", stored.Status, types.SyncStatusFailed)
	}
	if stored.Traceback != "bad points payload" {
		t.Fatalf("traceback = %q, want the upstream body", stored.Traceback)
	}
	var keptMA types.MetaAnalysis
	if err := gdb.First(&keptMA, "id = ?", ma.ID).Error; err != nil {
		t.Fatalf("meta-analysis row gone after failed push: %v", err)
	}
}
