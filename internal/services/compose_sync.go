package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/neurostuff/neurostore-go/internal/clients/neurostore"
	"github.com/neurostuff/neurostore-go/internal/logger"
	"github.com/neurostuff/neurostore-go/internal/types"
)

// ComposeSyncService mirrors finished work back into the companion data
// store: one study per project, one analysis per meta-analysis, with points
// parsed from the run's cluster table and images taken from the uploaded
// files. Upstream failures are recorded as FAILED + traceback on the sync
// records rather than surfaced to the request that triggered the push.
type ComposeSyncService interface {
	EnsureNeurostoreStudy(ctx context.Context, tx *gorm.DB, project *types.Project, token string) (*types.NeurostoreStudy, error)
	PushNeurostoreAnalysis(ctx context.Context, metaAnalysisID, token string) error
	CacheStudyset(ctx context.Context, tx *gorm.DB, referenceID string, owner *types.User) (*types.CachedStudyset, error)
	CacheAnnotation(ctx context.Context, tx *gorm.DB, referenceID string, owner *types.User) (*types.CachedAnnotation, error)
}

type composeSyncService struct {
	db     *gorm.DB
	log    *logger.Logger
	client neurostore.Client
}

func NewComposeSyncService(db *gorm.DB, log *logger.Logger, client neurostore.Client) ComposeSyncService {
	return &composeSyncService{
		db:     db,
		log:    log.With("service", "ComposeSyncService"),
		client: client,
	}
}

// EnsureNeurostoreStudy creates the companion-store study mirroring a project
// the first time it is needed, and records the outcome on the sync row.
func (s *composeSyncService) EnsureNeurostoreStudy(ctx context.Context, tx *gorm.DB, project *types.Project, token string) (*types.NeurostoreStudy, error) {
	if tx == nil {
		tx = s.db
	}
	row := &types.NeurostoreStudy{}
	err := tx.Where("project_id = ?", project.ID).First(row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = &types.NeurostoreStudy{
			Base:      types.Base{ID: types.NewID()},
			ProjectID: &project.ID,
			Status:    types.SyncStatusPending,
		}
		if cErr := tx.Create(row).Error; cErr != nil {
			return nil, cErr
		}
	case err != nil:
		return nil, err
	}
	if row.NeurostoreID != "" && row.Status == types.SyncStatusOK {
		return row, nil
	}

	payload := map[string]interface{}{
		"name":        project.Name,
		"description": project.Description,
	}
	var resp map[string]interface{}
	var pushErr error
	if row.NeurostoreID == "" {
		resp, pushErr = s.client.CreateStudy(ctx, token, payload)
	} else {
		resp, pushErr = s.client.UpdateStudy(ctx, token, row.NeurostoreID, payload)
	}
	if pushErr != nil {
		s.recordFailure(tx, row, "neurostore_studies", pushErr)
		return row, nil
	}
	if id, ok := resp["id"].(string); ok {
		row.NeurostoreID = id
	}
	row.Status = types.SyncStatusOK
	row.Traceback = ""
	if uErr := tx.Model(&types.NeurostoreStudy{}).Where("id = ?", row.ID).
		Updates(map[string]interface{}{
			"neurostore_id": row.NeurostoreID,
			"status":        row.Status,
			"traceback":     "",
		}).Error; uErr != nil {
		return nil, uErr
	}
	return row, nil
}

// PushNeurostoreAnalysis pushes a meta-analysis result as an analysis under
// the project's companion-store study.
func (s *composeSyncService) PushNeurostoreAnalysis(ctx context.Context, metaAnalysisID, token string) error {
	ma := &types.MetaAnalysis{}
	if err := s.db.Preload("Results").Where("id = ?", metaAnalysisID).First(ma).Error; err != nil {
		return err
	}
	if ma.ProjectID == nil {
		return fmt.Errorf("meta-analysis %s has no project", metaAnalysisID)
	}
	project := &types.Project{}
	if err := s.db.Where("id = ?", *ma.ProjectID).First(project).Error; err != nil {
		return err
	}
	study, err := s.EnsureNeurostoreStudy(ctx, s.db, project, token)
	if err != nil {
		return err
	}

	row := &types.NeurostoreAnalysis{}
	err = s.db.Where("meta_analysis_id = ?", metaAnalysisID).First(row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = &types.NeurostoreAnalysis{
			Base:              types.Base{ID: types.NewID()},
			MetaAnalysisID:    &metaAnalysisID,
			NeurostoreStudyID: &study.ID,
			Status:            types.SyncStatusPending,
		}
		if cErr := s.db.Create(row).Error; cErr != nil {
			return cErr
		}
	case err != nil:
		return err
	}
	if study.Status != types.SyncStatusOK || study.NeurostoreID == "" {
		s.recordFailure(s.db, row, "neurostore_analyses",
			fmt.Errorf("companion study for project %s is not synced", project.ID))
		return nil
	}

	payload, buildErr := s.buildAnalysisPayload(ma, study.NeurostoreID)
	if buildErr != nil {
		s.recordFailure(s.db, row, "neurostore_analyses", buildErr)
		return nil
	}

	var resp map[string]interface{}
	var pushErr error
	if row.NeurostoreID == "" {
		resp, pushErr = s.client.CreateAnalysis(ctx, token, payload)
	} else {
		resp, pushErr = s.client.UpdateAnalysis(ctx, token, row.NeurostoreID, payload)
	}
	if pushErr != nil {
		s.recordFailure(s.db, row, "neurostore_analyses", pushErr)
		return nil
	}
	if id, ok := resp["id"].(string); ok {
		row.NeurostoreID = id
	}
	return s.db.Model(&types.NeurostoreAnalysis{}).Where("id = ?", row.ID).
		Updates(map[string]interface{}{
			"neurostore_id": row.NeurostoreID,
			"status":        types.SyncStatusOK,
			"traceback":     "",
		}).Error
}

type statusRow interface {
	RecordID() string
}

// recordFailure stores the upstream error verbatim so operators can inspect
// what the companion store rejected.
func (s *composeSyncService) recordFailure(tx *gorm.DB, row statusRow, table string, cause error) {
	traceback := cause.Error()
	var se *neurostore.StatusError
	if errors.As(cause, &se) {
		traceback = se.Body
	}
	if err := tx.Table(table).Where("id = ?", row.RecordID()).
		Updates(map[string]interface{}{
			"status":    types.SyncStatusFailed,
			"traceback": traceback,
		}).Error; err != nil {
		s.log.Error("Recording sync failure failed", "table", table, "id", row.RecordID(), "error", err)
	}
	s.log.Warn("Companion store push failed", "table", table, "id", row.RecordID(), "cause", cause)
}

// buildAnalysisPayload assembles the analysis body: points parsed from the
// newest result's cluster table, images from its successfully uploaded files.
func (s *composeSyncService) buildAnalysisPayload(ma *types.MetaAnalysis, studyID string) (map[string]interface{}, error) {
	payload := map[string]interface{}{
		"name":     ma.Name,
		"study_id": studyID,
	}
	if len(ma.Results) == 0 {
		return payload, nil
	}
	latest := ma.Results[0]
	for _, r := range ma.Results[1:] {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}

	if latest.DiagnosticTable != "" {
		points, err := parseClusterTable(latest.DiagnosticTable)
		if err != nil {
			return nil, fmt.Errorf("parsing cluster table: %w", err)
		}
		payload["points"] = points
	}

	var files []*types.NeurovaultFile
	err := s.db.
		Joins("JOIN neurovault_collections ON neurovault_collections.id = neurovault_files.collection_id").
		Where("neurovault_collections.result_id = ? AND neurovault_files.status = ?", latest.ID, types.SyncStatusOK).
		Find(&files).Error
	if err != nil {
		return nil, err
	}
	if len(files) > 0 {
		images := make([]map[string]interface{}, 0, len(files))
		for _, f := range files {
			images = append(images, map[string]interface{}{
				"url":        f.URL,
				"filename":   f.Filename,
				"space":      f.Space,
				"value_type": f.ValueType,
			})
		}
		payload["images"] = images
	}
	return payload, nil
}

// parseClusterTable reads a tab-separated cluster table with X/Y/Z columns
// and an optional peak statistic into point payloads.
func parseClusterTable(table string) ([]map[string]interface{}, error) {
	r := csv.NewReader(strings.NewReader(table))
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}
	col := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	xi, xok := col["x"]
	yi, yok := col["y"]
	zi, zok := col["z"]
	if !xok || !yok || !zok {
		return nil, fmt.Errorf("cluster table is missing coordinate columns")
	}
	stati, statok := col["peak_stat"]
	if !statok {
		stati, statok = col["peak stat"]
	}

	points := make([]map[string]interface{}, 0, len(rows)-1)
	for _, row := range rows[1:] {
		x, err1 := parseCell(row, xi)
		y, err2 := parseCell(row, yi)
		z, err3 := parseCell(row, zi)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		p := map[string]interface{}{
			"x": x, "y": y, "z": z,
			"space": "MNI", "kind": "center of mass",
		}
		if statok {
			if v, err := parseCell(row, stati); err == nil {
				p["values"] = []map[string]interface{}{
					{"kind": "stat", "value": v},
				}
			}
		}
		points = append(points, p)
	}
	return points, nil
}

func parseCell(row []string, i int) (float64, error) {
	if i >= len(row) {
		return 0, fmt.Errorf("row too short")
	}
	return strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
}

// CacheStudyset pins the current companion-store rendition of a studyset.
func (s *composeSyncService) CacheStudyset(ctx context.Context, tx *gorm.DB, referenceID string, owner *types.User) (*types.CachedStudyset, error) {
	if tx == nil {
		tx = s.db
	}
	snapshot, err := s.client.GetStudyset(ctx, referenceID, true)
	if err != nil {
		return nil, err
	}
	raw, err := encodeSnapshot(snapshot)
	if err != nil {
		return nil, err
	}
	ref := &types.StudysetReference{Base: types.Base{ID: referenceID}}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(ref).Error; err != nil {
		return nil, err
	}
	cached := &types.CachedStudyset{
		Base:                types.Base{ID: types.NewID()},
		StudysetReferenceID: &referenceID,
		Snapshot:            raw,
	}
	if owner != nil {
		cached.UserID = &owner.ExternalID
	}
	if err := tx.Omit(clause.Associations).Create(cached).Error; err != nil {
		return nil, err
	}
	return cached, nil
}

// CacheAnnotation pins the current companion-store rendition of an
// annotation.
func (s *composeSyncService) CacheAnnotation(ctx context.Context, tx *gorm.DB, referenceID string, owner *types.User) (*types.CachedAnnotation, error) {
	if tx == nil {
		tx = s.db
	}
	snapshot, err := s.client.GetAnnotation(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	raw, err := encodeSnapshot(snapshot)
	if err != nil {
		return nil, err
	}
	ref := &types.AnnotationReference{Base: types.Base{ID: referenceID}}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(ref).Error; err != nil {
		return nil, err
	}
	cached := &types.CachedAnnotation{
		Base:                  types.Base{ID: types.NewID()},
		AnnotationReferenceID: &referenceID,
		Snapshot:              raw,
	}
	if owner != nil {
		cached.UserID = &owner.ExternalID
	}
	if err := tx.Omit(clause.Associations).Create(cached).Error; err != nil {
		return nil, err
	}
	return cached, nil
}

func encodeSnapshot(m map[string]interface{}) (datatypes.JSON, error) {
	raw, err := datatypes.JSONMap(m).MarshalJSON()
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
