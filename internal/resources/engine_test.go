package resources

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/neurostuff/neurostore-go/internal/db"
	"github.com/neurostuff/neurostore-go/internal/logger"
	"github.com/neurostuff/neurostore-go/internal/services"
	"github.com/neurostuff/neurostore-go/internal/types"
)

// newStoreEngine spins up the full store registry against an in-memory
// sqlite database with foreign keys enforced.
func newStoreEngine(t *testing.T) (*Engine, *gorm.DB) {
	t.Helper()
	gdb := openTestDB(t)
	if err := db.MigrateStore(gdb); err != nil {
		t.Fatalf("MigrateStore: %v", err)
	}
	log := testLogger(t)
	return NewEngine(gdb, log, NewStoreRegistry(services.NewAnnotationService(log))), gdb
}

func newComposeEngine(t *testing.T) (*Engine, *gorm.DB) {
	t.Helper()
	gdb := openTestDB(t)
	if err := db.MigrateCompose(gdb); err != nil {
		t.Fatalf("MigrateCompose: %v", err)
	}
	return NewEngine(gdb, testLogger(t), NewComposeRegistry()), gdb
}

func openTestDB(t *testing.T) *gorm.DB {
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
	// a single connection keeps every query on the same :memory: database
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	return gdb
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func newUser(t *testing.T, gdb *gorm.DB, externalID string) *types.User {
	t.Helper()
	u := &types.User{ExternalID: externalID, Name: externalID}
	u.ID = types.NewID()
	if err := gdb.Create(u).Error; err != nil {
		t.Fatalf("create user %s: %v", externalID, err)
	}
	return u
}

func mustUpsert(t *testing.T, e *Engine, principal *types.User, kind Kind, payload map[string]interface{}, id string) Record {
	t.Helper()
	rec, err := e.UpdateOrCreate(context.Background(), principal, kind, payload, id)
	if err != nil {
		t.Fatalf("UpdateOrCreate(%s): %v", kind, err)
	}
	return rec
}

func count(t *testing.T, gdb *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := gdb.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
