package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/velaris-labs/bitrix-manager/backend/internal/export"
	"go.uber.org/zap"
)

// handleFields serves the normalized field catalog for an entity: labels,
// reverse labels, types, enumerations and external userfield ids.
func (h *httpHandler) handleFields(c *gin.Context) {
	bound, ok := h.facade(c)
	if !ok {
		return
	}

	catalog, err := bound.fields.Catalog(c.Request.Context(), c.Param("entity"))
	if err != nil {
		respondUpstreamError(c, err)
		return
	}

	respondResult(c, gin.H{
		"code_to_label": catalog.CodeToLabel,
		"label_to_code": catalog.LabelToCode,
		"code_to_type":  catalog.CodeToType,
		"enums":         catalog.Enums,
		"code_to_id":    catalog.CodeToID,
	})
}

// handleDuplicates serves the shared-label groups an operator reviews before
// merging or deleting redundant custom fields.
func (h *httpHandler) handleDuplicates(c *gin.Context) {
	bound, ok := h.facade(c)
	if !ok {
		return
	}

	groups, err := bound.fields.DuplicateGroups(c.Request.Context(), c.Param("entity"))
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	respondListing(c, groups, len(groups))
}

type deleteUserfieldsRequest struct {
	IDs []int `json:"ids"`
}

type deleteOutcome struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
	Msg    string `json:"msg"`
}

// handleDeleteUserfields deletes custom fields by external id, reporting a
// per-id outcome instead of failing the batch on the first error.
func (h *httpHandler) handleDeleteUserfields(c *gin.Context) {
	bound, ok := h.facade(c)
	if !ok {
		return
	}

	var request deleteUserfieldsRequest
	if err := c.ShouldBindJSON(&request); err != nil || len(request.IDs) == 0 {
		respondFailure(c, http.StatusBadRequest, "invalid_request", "ids list required")
		return
	}

	summary := make([]deleteOutcome, 0, len(request.IDs))
	for _, id := range request.IDs {
		_, err := bound.records.Delete(c.Request.Context(), "userfield", fmt.Sprintf("%d", id))
		if err != nil {
			h.logger.Warn("userfield delete failed", zap.Int("id", id), zap.Error(err))
			summary = append(summary, deleteOutcome{ID: id, Status: "error", Msg: err.Error()})
			continue
		}
		summary = append(summary, deleteOutcome{ID: id, Status: "ok", Msg: "Deleted successfully"})
	}
	respondResult(c, summary)
}

// handleUsers serves the full portal user listing for selection dialogs.
func (h *httpHandler) handleUsers(c *gin.Context) {
	bound, ok := h.facade(c)
	if !ok {
		return
	}

	listing, err := bound.resolver.All(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	respondResult(c, listing)
}

// handleTemplate streams the full Excel upload template for an entity.
func (h *httpHandler) handleTemplate(c *gin.Context) {
	bound, ok := h.facade(c)
	if !ok {
		return
	}
	entity := c.Param("entity")

	catalog, err := bound.fields.Catalog(c.Request.Context(), entity)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}

	workbook, err := export.Template(catalog, entity)
	if err != nil {
		respondFailure(c, http.StatusInternalServerError, "template_failed", err.Error())
		return
	}
	serveWorkbook(c, workbook, fmt.Sprintf("%s_template.xlsx", entity))
}

type customTemplateRequest struct {
	Fields []string `json:"fields"`
}

// handleCustomTemplate streams a template restricted to the selected codes.
func (h *httpHandler) handleCustomTemplate(c *gin.Context) {
	bound, ok := h.facade(c)
	if !ok {
		return
	}
	entity := c.Param("entity")

	var request customTemplateRequest
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Fields) == 0 {
		respondFailure(c, http.StatusBadRequest, "no_fields_selected", "fields list required")
		return
	}

	catalog, err := bound.fields.Catalog(c.Request.Context(), entity)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}

	workbook, err := export.CustomTemplate(catalog, entity, request.Fields)
	if err != nil {
		respondFailure(c, http.StatusInternalServerError, "template_failed", err.Error())
		return
	}
	serveWorkbook(c, workbook, fmt.Sprintf("%s_custom_template.xlsx", entity))
}

func serveWorkbook(c *gin.Context, workbook []byte, filename string) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, export.ContentType, workbook)
}
