package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/solterra/agroform/internal/catalog"
	"github.com/solterra/agroform/internal/enrich"
	"github.com/solterra/agroform/internal/extract"
	"github.com/solterra/agroform/internal/flow"
	"github.com/solterra/agroform/internal/logger"
)

type handler struct {
	catalog  *catalog.Catalog
	engine   *flow.Engine
	pipeline *extract.Pipeline
	enricher *enrich.Enricher
	log      *logger.Logger
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type startRequest struct {
	SessionID       string         `json:"session_id"`
	ExistingAnswers map[string]any `json:"existing_answers"`
}

func (h *handler) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	question, err := h.engine.Start(c.Request.Context(), req.SessionID, req.ExistingAnswers)
	if err != nil {
		h.flowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session_id": req.SessionID,
		"question":   question,
	})
}

type answerRequest struct {
	SessionID string `json:"session_id"`
	Answer    any    `json:"answer"`
}

func (h *handler) answer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	result, err := h.engine.Submit(c.Request.Context(), req.SessionID, req.Answer)
	if err != nil {
		h.flowError(c, err)
		return
	}
	if result.Done {
		c.JSON(http.StatusOK, gin.H{"end": true, "answers": result.Answers})
		return
	}
	c.JSON(http.StatusOK, gin.H{"question": result.Question})
}

type editRequest struct {
	SessionID string `json:"session_id"`
	Field     string `json:"field"`
	Value     any    `json:"value"`
}

func (h *handler) edit(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.SessionID == "" || req.Field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and field are required"})
		return
	}

	result, err := h.engine.Edit(c.Request.Context(), req.SessionID, req.Field, req.Value)
	if err != nil {
		h.flowError(c, err)
		return
	}
	resp := gin.H{"reflowed": result.Reflowed}
	if result.Done {
		resp["end"] = true
	}
	if result.Question != nil {
		resp["question"] = result.Question
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) answers(c *gin.Context) {
	answers, err := h.engine.Answers(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.flowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answers": answers})
}

func (h *handler) history(c *gin.Context) {
	history, err := h.engine.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.flowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (h *handler) deleteSession(c *gin.Context) {
	if err := h.engine.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.flowError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type generateQuestionRequest struct {
	Input string `json:"input"`
}

func (h *handler) generateQuestion(c *gin.Context) {
	var req generateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Input == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Falta el campo 'input'"})
		return
	}
	question := h.enricher.Question(c.Request.Context(), req.Input, req.Input)
	c.JSON(http.StatusOK, gin.H{"question": question})
}

type extractRequest struct {
	Description string `json:"description"`
}

func (h *handler) extractProjectData(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Description == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Falta el campo 'description'"})
		return
	}
	if h.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "extracción no disponible: sin proveedor LLM"})
		return
	}

	result, err := h.pipeline.Extract(c.Request.Context(), req.Description, extract.FieldsFromCatalog(h.catalog))
	if err != nil {
		if errors.Is(err, extract.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error al extraer los datos"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":                  result.Fields,
		"auto_completed_fields": result.AutoCompleted,
		"diagnostics":           result.Diagnostics,
	})
}

func (h *handler) flowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, flow.ErrUnknownSession):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, flow.ErrDuplicateSession), errors.Is(err, flow.ErrTerminalSession):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, flow.ErrInvalidAnswer), errors.Is(err, flow.ErrUnknownField):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log.Error("HTTP handler failure", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
