package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/velaris-labs/bitrix-manager/backend/internal/export"
	"github.com/velaris-labs/bitrix-manager/backend/internal/records"
	"go.uber.org/zap"
)

// Fallback selections per entity when the caller names no fields.
var defaultListSelect = map[string][]string{
	records.EntityLead: {"ID", "TITLE", "NAME", "PHONE", "EMAIL", "SOURCE_ID"},
	records.EntityDeal: {"ID", "TITLE", "NAME", "CONTACT_ID", "SOURCE_ID"},
}

// handleList streams every record of an entity with optional date filters and
// field selection. An upstream failure mid-listing still answers with the rows
// fetched so far; the listing is documented as best-effort.
func (h *httpHandler) handleList(c *gin.Context) {
	bound, ok := h.facade(c)
	if !ok {
		return
	}
	entity := c.Param("entity")

	params := url.Values{}
	if from := c.Query("from_created"); from != "" {
		params.Set("filter[>=DATE_CREATE]", records.NormalizeDateFilter(from, false))
	}
	if to := c.Query("to_created"); to != "" {
		params.Set("filter[<=DATE_CREATE]", records.NormalizeDateFilter(to, true))
	}
	if from := c.Query("from_modified"); from != "" {
		params.Set("filter[>=DATE_MODIFY]", records.NormalizeDateFilter(from, false))
	}
	if to := c.Query("to_modified"); to != "" {
		params.Set("filter[<=DATE_MODIFY]", records.NormalizeDateFilter(to, true))
	}
	params["select[]"] = listSelection(entity, c.Query("select"))

	rows, err := bound.records.ListAll(c.Request.Context(), entity, params)
	if err != nil {
		h.logger.Warn("listing answered with partial results",
			zap.String("entity", entity), zap.Int("rows", len(rows)), zap.Error(err))
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	respondListing(c, rows, len(rows))
}

// listSelection expands the user's comma-separated selection with the fields
// the flattening pipeline needs: date columns always, the multi-value arrays
// behind requested scalar pairs, and the contact link for deals.
func listSelection(entity, rawSelect string) []string {
	var selection []string
	seen := map[string]struct{}{}
	add := func(field string) {
		if _, dup := seen[field]; dup || field == "" {
			return
		}
		seen[field] = struct{}{}
		selection = append(selection, field)
	}

	var requested []string
	for _, field := range strings.Split(rawSelect, ",") {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			requested = append(requested, trimmed)
		}
	}
	if len(requested) == 0 {
		requested = defaultListSelect[entity]
	}
	for _, field := range requested {
		add(field)
	}

	add("DATE_CREATE")
	add("DATE_MODIFY")

	for _, field := range requested {
		if strings.HasPrefix(field, "PHONE") {
			add("PHONE")
		}
		if strings.HasPrefix(field, "EMAIL") {
			add("EMAIL")
		}
	}

	if entity == records.EntityDeal {
		add("CONTACT_ID")
	}
	return selection
}

// handleGet fetches one record by path parameters and flattens it for its entity.
func (h *httpHandler) handleGet(c *gin.Context) {
	h.serveSingle(c, c.Param("entity"), c.Param("id"))
}

// handleGetSingle fetches one record by query parameters.
func (h *httpHandler) handleGetSingle(c *gin.Context) {
	h.serveSingle(c, c.Query("entity"), c.Query("item_id"))
}

func (h *httpHandler) serveSingle(c *gin.Context, entity, id string) {
	bound, ok := h.facade(c)
	if !ok {
		return
	}
	if entity == "" || id == "" {
		respondFailure(c, http.StatusBadRequest, "invalid_request", "entity and item_id required")
		return
	}

	record, err := bound.records.Get(c.Request.Context(), entity, id)
	if err != nil {
		respondFailure(c, http.StatusNotFound, "not_found", "record not found")
		return
	}
	respondResult(c, bound.records.FlattenForEntity(c.Request.Context(), record, entity))
}

// handleGetMultiple fetches records for a comma-separated id list, skipping
// ids that cannot be fetched rather than failing the batch.
func (h *httpHandler) handleGetMultiple(c *gin.Context) {
	bound, ok := h.facade(c)
	if !ok {
		return
	}
	entity := c.Query("entity")

	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	if entity == "" || len(ids) == 0 {
		respondFailure(c, http.StatusBadRequest, "invalid_request", "entity and ids required")
		return
	}

	h.serveBatch(c, bound, entity, ids)
}

// handleGetByFile reads record ids out of an uploaded workbook or CSV and
// fetches the matching records.
func (h *httpHandler) handleGetByFile(c *gin.Context) {
	bound, ok := h.facade(c)
	if !ok {
		return
	}
	entity := c.Query("entity")
	if entity == "" {
		respondFailure(c, http.StatusBadRequest, "invalid_request", "entity required")
		return
	}

	upload, err := c.FormFile("file")
	if err != nil {
		respondFailure(c, http.StatusBadRequest, "invalid_request", "file upload required")
		return
	}
	opened, err := upload.Open()
	if err != nil {
		respondFailure(c, http.StatusBadRequest, "invalid_request", "could not read upload")
		return
	}
	defer opened.Close()

	ids, err := export.ExtractIDs(opened, upload.Filename)
	if err != nil {
		respondFailure(c, http.StatusBadRequest, "invalid_file", err.Error())
		return
	}

	h.serveBatch(c, bound, entity, ids)
}

func (h *httpHandler) serveBatch(c *gin.Context, bound *facade, entity string, ids []string) {
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		record, err := bound.records.Get(c.Request.Context(), entity, id)
		if err != nil {
			h.logger.Warn("record fetch skipped", zap.String("entity", entity),
				zap.String("id", id), zap.Error(err))
			continue
		}
		out = append(out, bound.records.FlattenForEntity(c.Request.Context(), record, entity))
	}
	respondListing(c, out, len(out))
}

// handleUpdate forwards field changes; deal updates transparently split
// contact-owned fields to the linked contact record.
func (h *httpHandler) handleUpdate(c *gin.Context) {
	bound, ok := h.facade(c)
	if !ok {
		return
	}

	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondFailure(c, http.StatusBadRequest, "invalid_request", "JSON body required")
		return
	}
	changes := payload
	if nested, ok := payload["fields"].(map[string]any); ok {
		changes = nested
	}
	if len(changes) == 0 {
		respondFailure(c, http.StatusBadRequest, "invalid_request", "no fields to update")
		return
	}

	result, err := bound.records.Update(c.Request.Context(), c.Param("entity"), c.Param("id"), changes)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	respondResult(c, result)
}

// handleDelete removes one record of an entity.
func (h *httpHandler) handleDelete(c *gin.Context) {
	bound, ok := h.facade(c)
	if !ok {
		return
	}

	result, err := bound.records.Delete(c.Request.Context(), c.Param("entity"), c.Param("id"))
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	respondResult(c, result)
}
