package handlers

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/neurostuff/neurostore-go/internal/apierr"
	"github.com/neurostuff/neurostore-go/internal/clients/neurovault"
	"github.com/neurostuff/neurostore-go/internal/logger"
	"github.com/neurostuff/neurostore-go/internal/requestdata"
	"github.com/neurostuff/neurostore-go/internal/resources"
	"github.com/neurostuff/neurostore-go/internal/services"
	"github.com/neurostuff/neurostore-go/internal/types"
)

// ComposeHandler covers the workflow routes that do more than uniform CRUD:
// project creation mirrors a study into the companion store, result creation
// registers uploaded maps and kicks off the background push.
type ComposeHandler struct {
	log     *logger.Logger
	engine  *resources.Engine
	auth    services.AuthService
	sync    services.ComposeSyncService
	uploads services.UploadService
}

func NewComposeHandler(log *logger.Logger, engine *resources.Engine, auth services.AuthService, sync services.ComposeSyncService, uploads services.UploadService) *ComposeHandler {
	return &ComposeHandler{
		log:     log.With("handler", "compose"),
		engine:  engine,
		auth:    auth,
		sync:    sync,
		uploads: uploads,
	}
}

func (h *ComposeHandler) Register(protected *gin.RouterGroup) {
	protected.POST("/projects", h.CreateProject)
	protected.POST("/meta-analysis-results", h.CreateResult)
}

func callerToken(c *gin.Context) string {
	if rd := requestdata.GetRequestData(c.Request.Context()); rd != nil {
		return rd.TokenString
	}
	return ""
}

// CreateProject creates the project and eagerly mirrors it into the companion
// store. A companion-store failure does not fail the request; it lands on the
// sync row as FAILED + traceback.
func (h *ComposeHandler) CreateProject(c *gin.Context) {
	principal, err := h.auth.CurrentUser(c.Request.Context(), nil)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	payload, err := bindPayload(c)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	rec, err := h.engine.UpdateOrCreate(c.Request.Context(), principal, resources.KindProject, payload, "")
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	project := rec.(*types.Project)
	if _, sErr := h.sync.EnsureNeurostoreStudy(c.Request.Context(), nil, project, callerToken(c)); sErr != nil {
		h.log.Error("Mirroring project failed", "project_id", project.ID, "error", sErr)
	}

	spec := h.engine.Registry().MustGet(resources.KindProject)
	out, err := h.engine.Dump(spec, rec, false)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondCreated(c, out)
}

// CreateResult accepts either a JSON result body or a multipart form with a
// "result" JSON part plus statistical map files. Files are registered and
// uploaded off the request path; completion pushes the owning meta-analysis
// to the companion store.
func (h *ComposeHandler) CreateResult(c *gin.Context) {
	principal, err := h.auth.CurrentUser(c.Request.Context(), nil)
	if err != nil {
		RespondAPIError(c, err)
		return
	}

	payload, files, err := h.parseResultRequest(c)
	if err != nil {
		RespondAPIError(c, err)
		return
	}

	rec, err := h.engine.UpdateOrCreate(c.Request.Context(), principal, resources.KindMetaAnalysisResult, payload, "")
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	result := rec.(*types.MetaAnalysisResult)
	h.pinSnapshots(c, principal, result)

	if len(files) > 0 {
		task := services.UploadTask{
			ResultID: result.ID,
			Token:    callerToken(c),
			Files:    files,
		}
		if qErr := h.uploads.Submit(task); qErr != nil {
			RespondAPIError(c, apierr.Unprocessable("%v", qErr))
			return
		}
	}

	spec := h.engine.Registry().MustGet(resources.KindMetaAnalysisResult)
	out, err := h.engine.Dump(spec, rec, false)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondCreated(c, out)
}

// pinSnapshots freezes the companion-store studyset and annotation a
// meta-analysis ran against the first time a result arrives. Snapshot
// failures are logged, never fatal: the result itself is already stored.
func (h *ComposeHandler) pinSnapshots(c *gin.Context, principal *types.User, result *types.MetaAnalysisResult) {
	if result.MetaAnalysisID == nil {
		return
	}
	ma := &types.MetaAnalysis{}
	if err := h.engine.DB().
		Preload("CachedStudyset").Preload("CachedAnnotation").
		Where("id = ?", *result.MetaAnalysisID).First(ma).Error; err != nil {
		h.log.Error("Loading meta-analysis for snapshot failed", "meta_analysis_id", *result.MetaAnalysisID, "error", err)
		return
	}
	ctx := c.Request.Context()
	if cs := ma.CachedStudyset; cs != nil && len(cs.Snapshot) == 0 && cs.StudysetReferenceID != nil {
		pinned, err := h.sync.CacheStudyset(ctx, nil, *cs.StudysetReferenceID, principal)
		if err != nil {
			h.log.Error("Pinning studyset snapshot failed", "reference_id", *cs.StudysetReferenceID, "error", err)
		} else if uErr := h.engine.DB().Model(&types.MetaAnalysis{}).Where("id = ?", ma.ID).
			Update("cached_studyset_id", pinned.ID).Error; uErr != nil {
			h.log.Error("Relinking pinned studyset failed", "meta_analysis_id", ma.ID, "error", uErr)
		}
	}
	if ca := ma.CachedAnnotation; ca != nil && len(ca.Snapshot) == 0 && ca.AnnotationReferenceID != nil {
		pinned, err := h.sync.CacheAnnotation(ctx, nil, *ca.AnnotationReferenceID, principal)
		if err != nil {
			h.log.Error("Pinning annotation snapshot failed", "reference_id", *ca.AnnotationReferenceID, "error", err)
		} else if uErr := h.engine.DB().Model(&types.MetaAnalysis{}).Where("id = ?", ma.ID).
			Update("cached_annotation_id", pinned.ID).Error; uErr != nil {
			h.log.Error("Relinking pinned annotation failed", "meta_analysis_id", ma.ID, "error", uErr)
		}
	}
}

func (h *ComposeHandler) parseResultRequest(c *gin.Context) (map[string]interface{}, []neurovault.ImageUpload, error) {
	contentType := c.ContentType()
	if contentType != "multipart/form-data" {
		payload, err := bindPayload(c)
		return payload, nil, err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil, apierr.Validation("malformed multipart form: %v", err)
	}
	payload := map[string]interface{}{}
	if vals := form.Value["meta_analysis_id"]; len(vals) > 0 {
		payload["meta_analysis_id"] = vals[0]
	}
	for _, field := range []string{"method_description", "diagnostic_table", "cli_version", "cli_args"} {
		if vals := form.Value[field]; len(vals) > 0 {
			payload[field] = vals[0]
		}
	}

	var uploads []neurovault.ImageUpload
	for _, fh := range form.File["statistical_maps"] {
		f, oErr := fh.Open()
		if oErr != nil {
			return nil, nil, apierr.Validation("unreadable upload %q: %v", fh.Filename, oErr)
		}
		contents, rErr := io.ReadAll(f)
		f.Close()
		if rErr != nil {
			return nil, nil, apierr.Validation("unreadable upload %q: %v", fh.Filename, rErr)
		}
		uploads = append(uploads, neurovault.ImageUpload{
			Filename: fh.Filename,
			Contents: contents,
			Name:     fh.Filename,
			MapType:  "Other",
			Space:    "GenericMNI",
		})
	}
	if len(payload) == 0 && len(uploads) == 0 {
		return nil, nil, apierr.Validation("empty result submission")
	}
	return payload, uploads, nil
}
