package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/neurostuff/neurostore-go/internal/clients/neurovault"
	"github.com/neurostuff/neurostore-go/internal/logger"
	"github.com/neurostuff/neurostore-go/internal/types"
)

// UploadTask is one batch of result maps to push to the image-hosting
// service. Token is the submitting caller's bearer token, carried along so
// the completion callback can write to the companion store as that user.
type UploadTask struct {
	ResultID string
	Token    string
	Files    []neurovault.ImageUpload
}

// UploadService runs result-map uploads off the request path. Files within a
// task upload in parallel; each file's outcome is committed separately so a
// single bad map never hides the others. When a task finishes, the owning
// meta-analysis is pushed to the companion store.
type UploadService interface {
	StartWorker(ctx context.Context)
	Submit(task UploadTask) error
	RunTask(ctx context.Context, task UploadTask) error
}

type uploadService struct {
	db     *gorm.DB
	log    *logger.Logger
	vault  neurovault.Client
	sync   ComposeSyncService
	tasks  chan UploadTask
	maxPar int
}

func NewUploadService(db *gorm.DB, log *logger.Logger, vault neurovault.Client, sync ComposeSyncService) UploadService {
	return &uploadService{
		db:     db,
		log:    log.With("service", "UploadService"),
		vault:  vault,
		sync:   sync,
		tasks:  make(chan UploadTask, 64),
		maxPar: 4,
	}
}

func (s *uploadService) Submit(task UploadTask) error {
	select {
	case s.tasks <- task:
		return nil
	default:
		return fmt.Errorf("upload queue is full")
	}
}

// StartWorker drains the task queue until ctx is cancelled.
func (s *uploadService) StartWorker(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case task := <-s.tasks:
				if err := s.RunTask(ctx, task); err != nil {
					s.log.Error("Upload task failed", "result_id", task.ResultID, "error", err)
				}
			}
		}
	}()
}

// RunTask uploads one batch synchronously. Exposed so tests and callers that
// need completion semantics can bypass the queue.
func (s *uploadService) RunTask(ctx context.Context, task UploadTask) error {
	result := &types.MetaAnalysisResult{}
	if err := s.db.Where("id = ?", task.ResultID).First(result).Error; err != nil {
		return err
	}

	collection, err := s.ensureCollection(ctx, result)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(s.maxPar)
	for _, up := range task.Files {
		up := up
		g.Go(func() error {
			s.uploadOne(ctx, collection, up)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if result.MetaAnalysisID != nil {
		return s.sync.PushNeurostoreAnalysis(ctx, *result.MetaAnalysisID, task.Token)
	}
	return nil
}

// ensureCollection finds or creates the remote collection for a result and
// its local bookkeeping row.
func (s *uploadService) ensureCollection(ctx context.Context, result *types.MetaAnalysisResult) (*types.NeurovaultCollection, error) {
	collection := &types.NeurovaultCollection{}
	err := s.db.Where("result_id = ?", result.ID).First(collection).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		collection = &types.NeurovaultCollection{
			Base:     types.Base{ID: types.NewID()},
			ResultID: &result.ID,
		}
		if cErr := s.db.Create(collection).Error; cErr != nil {
			return nil, cErr
		}
	case err != nil:
		return nil, err
	}
	if collection.CollectionID != nil {
		return collection, nil
	}
	remote, err := s.vault.CreateCollection(ctx, fmt.Sprintf("meta-analysis result %s", result.ID))
	if err != nil {
		return nil, err
	}
	collection.CollectionID = &remote.ID
	if err := s.db.Model(&types.NeurovaultCollection{}).Where("id = ?", collection.ID).
		Update("collection_id", remote.ID).Error; err != nil {
		return nil, err
	}
	return collection, nil
}

// uploadOne pushes a single map and records its outcome on its own row.
// Failures never abort the batch.
func (s *uploadService) uploadOne(ctx context.Context, collection *types.NeurovaultCollection, up neurovault.ImageUpload) {
	file := &types.NeurovaultFile{
		Base:         types.Base{ID: types.NewID()},
		CollectionID: &collection.ID,
		Filename:     up.Filename,
		Space:        up.Space,
		ValueType:    up.ValueType,
		Status:       types.SyncStatusPending,
	}
	if err := s.db.Create(file).Error; err != nil {
		s.log.Error("Creating file record failed", "filename", up.Filename, "error", err)
		return
	}
	if collection.CollectionID == nil {
		s.failFile(file, fmt.Errorf("collection %s has no remote id", collection.ID))
		return
	}
	img, err := s.vault.AddImage(ctx, *collection.CollectionID, up)
	if err != nil {
		s.failFile(file, err)
		return
	}
	if uErr := s.db.Model(&types.NeurovaultFile{}).Where("id = ?", file.ID).
		Updates(map[string]interface{}{
			"image_id":  img.ID,
			"url":       img.File,
			"status":    types.SyncStatusOK,
			"traceback": "",
		}).Error; uErr != nil {
		s.log.Error("Recording upload success failed", "file_id", file.ID, "error", uErr)
	}
}

func (s *uploadService) failFile(file *types.NeurovaultFile, cause error) {
	traceback := cause.Error()
	var se *neurovault.StatusError
	if errors.As(cause, &se) {
		traceback = se.Body
	}
	if err := s.db.Model(&types.NeurovaultFile{}).Where("id = ?", file.ID).
		Updates(map[string]interface{}{
			"status":    types.SyncStatusFailed,
			"traceback": traceback,
		}).Error; err != nil {
		s.log.Error("Recording upload failure failed", "file_id", file.ID, "error", err)
	}
	s.log.Warn("Image upload failed", "filename", file.Filename, "cause", cause)
}
