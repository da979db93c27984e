package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/neurostuff/neurostore-go/internal/apierr"
	"github.com/neurostuff/neurostore-go/internal/logger"
	"github.com/neurostuff/neurostore-go/internal/resources"
	"github.com/neurostuff/neurostore-go/internal/services"
	"github.com/neurostuff/neurostore-go/internal/types"
)

// ResourceHandler serves the uniform CRUD surface for one entity kind. All
// kind-specific behavior lives in the engine's registry; the handler only
// translates HTTP to engine calls.
type ResourceHandler struct {
	log    *logger.Logger
	engine *resources.Engine
	auth   services.AuthService
	kind   resources.Kind
}

func NewResourceHandler(log *logger.Logger, engine *resources.Engine, auth services.AuthService, kind resources.Kind) *ResourceHandler {
	return &ResourceHandler{
		log:    log.With("handler", string(kind)),
		engine: engine,
		auth:   auth,
		kind:   kind,
	}
}

// Register mounts the kind's routes on two groups: reads on public, writes on
// protected.
func (h *ResourceHandler) Register(public, protected *gin.RouterGroup, path string) {
	public.GET("/"+path, h.List)
	public.GET("/"+path+"/:id", h.Get)
	protected.POST("/"+path, h.Post)
	protected.PUT("/"+path+"/:id", h.Put)
	protected.DELETE("/"+path+"/:id", h.Delete)
}

func (h *ResourceHandler) principal(c *gin.Context) (*types.User, error) {
	return h.auth.CurrentUser(c.Request.Context(), nil)
}

func (h *ResourceHandler) List(c *gin.Context) {
	principal, err := h.principal(c)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	params, err := h.listParams(c)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	results, meta, err := h.engine.List(c.Request.Context(), principal, h.kind, params)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"metadata": meta,
		"results":  results,
	})
}

func (h *ResourceHandler) listParams(c *gin.Context) (resources.ListParams, error) {
	p := resources.ListParams{
		Search:     c.Query("search"),
		Sort:       c.Query("sort"),
		SourceID:   c.Query("source_id"),
		Source:     c.Query("source"),
		UserID:     c.Query("user_id"),
		StudysetID: c.Query("studyset_id"),
		DataType:   c.Query("data_type"),
		Fields:     map[string]string{},
	}
	var err error
	if p.Page, err = intQuery(c, "page", 1); err != nil {
		return p, err
	}
	if p.PageSize, err = intQuery(c, "page_size", 0); err != nil {
		return p, err
	}
	if v, ok := c.GetQuery("desc"); ok {
		desc := v == "true" || v == "1"
		p.Desc = &desc
	}
	p.Unique = c.Query("unique") == "true"
	p.Nested = c.Query("nested") == "true"
	spec, sErr := h.engine.Registry().Get(h.kind)
	if sErr != nil {
		return p, apierr.Unprocessable("%v", sErr)
	}
	for _, col := range spec.SearchFields {
		if v := c.Query(col); v != "" {
			p.Fields[col] = v
		}
	}
	return p, nil
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apierr.Validation("%s must be an integer", name)
	}
	return n, nil
}

func (h *ResourceHandler) Get(c *gin.Context) {
	principal, err := h.principal(c)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	nested := c.Query("nested") == "true"
	out, err := h.engine.Get(c.Request.Context(), principal, h.kind, c.Param("id"), nested)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, out)
}

// Post creates a record, or clones one when source_id is given.
func (h *ResourceHandler) Post(c *gin.Context) {
	principal, err := h.principal(c)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	payload, err := bindPayload(c)
	if err != nil {
		RespondAPIError(c, err)
		return
	}

	var rec resources.Record
	if sourceID := c.Query("source_id"); sourceID != "" {
		rec, err = h.engine.Clone(c.Request.Context(), principal, h.kind, sourceID, c.Query("source"), payload)
	} else {
		rec, err = h.engine.UpdateOrCreate(c.Request.Context(), principal, h.kind, payload, "")
	}
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	h.respondRecord(c, rec, http.StatusCreated)
}

func (h *ResourceHandler) Put(c *gin.Context) {
	principal, err := h.principal(c)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	payload, err := bindPayload(c)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	rec, err := h.engine.UpdateOrCreate(c.Request.Context(), principal, h.kind, payload, c.Param("id"))
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	h.respondRecord(c, rec, http.StatusOK)
}

func (h *ResourceHandler) Delete(c *gin.Context) {
	principal, err := h.principal(c)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	if err := h.engine.Delete(c.Request.Context(), principal, h.kind, c.Param("id")); err != nil {
		RespondAPIError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func bindPayload(c *gin.Context) (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	if c.Request.ContentLength == 0 {
		return payload, nil
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		return nil, apierr.Validation("request body is not a JSON object: %v", err)
	}
	return payload, nil
}

// respondRecord re-reads the record through the dump path so responses are
// shaped identically to GETs.
func (h *ResourceHandler) respondRecord(c *gin.Context, rec resources.Record, status int) {
	spec, err := h.engine.Registry().Get(h.kind)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	out, err := h.engine.Dump(spec, rec, c.Query("nested") == "true")
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	c.JSON(status, out)
}
