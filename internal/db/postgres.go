package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/neurostuff/neurostore-go/internal/logger"
	"github.com/neurostuff/neurostore-go/internal/types"
	"github.com/neurostuff/neurostore-go/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "neurostore", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	serviceLog.Info("Connecting to Postgres...")
	// delete cascades ride on the FK constraints gorm creates from the
	// model tags, so constraint creation stays enabled
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}

// MigrateStore creates the data-storage service schema. Exported as a free
// function so tests can run it against an in-memory sqlite database.
func MigrateStore(gdb *gorm.DB) error {
	if err := gdb.SetupJoinTable(&types.Studyset{}, "Studies", &types.StudysetStudy{}); err != nil {
		return fmt.Errorf("failed to set up studyset_studies join table: %w", err)
	}
	return gdb.AutoMigrate(
		&types.User{},
		&types.Study{},
		&types.Analysis{},
		&types.Point{},
		&types.PointValue{},
		&types.Image{},
		&types.Condition{},
		&types.AnalysisCondition{},
		&types.Studyset{},
		&types.StudysetStudy{},
		&types.Annotation{},
		&types.AnnotationNote{},
	)
}

// MigrateCompose creates the workflow service schema.
func MigrateCompose(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&types.User{},
		&types.Project{},
		&types.MetaAnalysis{},
		&types.Specification{},
		&types.StudysetReference{},
		&types.AnnotationReference{},
		&types.CachedStudyset{},
		&types.CachedAnnotation{},
		&types.MetaAnalysisResult{},
		&types.NeurovaultCollection{},
		&types.NeurovaultFile{},
		&types.NeurostoreStudy{},
		&types.NeurostoreAnalysis{},
	)
}

func (s *PostgresService) AutoMigrateStore() error {
	s.log.Info("Auto migrating store tables...")
	if err := MigrateStore(s.db); err != nil {
		s.log.Error("Auto migration failed for store tables", "error", err)
		return err
	}
	// Composite FK so deleting a studyset membership removes the notes for
	// that study's analyses under every attached annotation.
	if err := s.db.Exec(`
		ALTER TABLE "annotation_notes"
		ADD CONSTRAINT "fk_annotation_notes_membership"
		FOREIGN KEY ("study_id", "studyset_id")
		REFERENCES "studyset_studies"("study_id", "studyset_id")
		ON DELETE CASCADE
	`).Error; err != nil {
		s.log.Warn("Failed to add fk_annotation_notes_membership (may already exist)", "error", err)
	}
	return nil
}

func (s *PostgresService) AutoMigrateCompose() error {
	s.log.Info("Auto migrating compose tables...")
	if err := MigrateCompose(s.db); err != nil {
		s.log.Error("Auto migration failed for compose tables", "error", err)
		return err
	}
	return nil
}
