package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/neurostuff/neurostore-go/internal/logger"
	"github.com/neurostuff/neurostore-go/internal/resources"
	"github.com/neurostuff/neurostore-go/internal/services"
	"github.com/neurostuff/neurostore-go/internal/types"
)

// AnnotationHandler adds the non-uniform annotation routes on top of the
// generic CRUD surface.
type AnnotationHandler struct {
	log        *logger.Logger
	engine     *resources.Engine
	auth       services.AuthService
	annotation services.AnnotationService
}

func NewAnnotationHandler(log *logger.Logger, engine *resources.Engine, auth services.AuthService, annotation services.AnnotationService) *AnnotationHandler {
	return &AnnotationHandler{
		log:        log.With("handler", "annotation"),
		engine:     engine,
		auth:       auth,
		annotation: annotation,
	}
}

func (h *AnnotationHandler) Register(public *gin.RouterGroup) {
	public.GET("/annotations/:id/export", h.Export)
}

// Export renders an annotation's notes as CSV, one row per (study, analysis)
// pair.
func (h *AnnotationHandler) Export(c *gin.Context) {
	principal, err := h.auth.CurrentUser(c.Request.Context(), nil)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	// visibility enforced by the same path a plain GET takes
	if _, err := h.engine.Get(c.Request.Context(), principal, resources.KindAnnotation, c.Param("id"), false); err != nil {
		RespondAPIError(c, err)
		return
	}
	rec, err := h.engine.GetRecord(c.Request.Context(), resources.KindAnnotation, c.Param("id"))
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	csvBytes, err := h.annotation.ExportCSV(h.engine.DB(), rec.(*types.Annotation))
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=annotation_"+c.Param("id")+".csv")
	c.Data(http.StatusOK, "text/csv", csvBytes)
}
