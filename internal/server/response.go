package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/velaris-labs/bitrix-manager/backend/internal/bitrix"
	"github.com/velaris-labs/bitrix-manager/backend/internal/records"
)

// Every endpoint answers with the same envelope so no upstream fault escapes
// as an unhandled error: {success:true, result, total?} on success,
// {success:false, error, error_description} on failure.

func respondResult(c *gin.Context, result any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func respondListing(c *gin.Context, result any, total int) {
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result, "total": total})
}

func respondFailure(c *gin.Context, status int, code, description string) {
	c.JSON(status, gin.H{"success": false, "error": code, "error_description": description})
}

// respondUpstreamError converts a transport-layer failure into the envelope,
// picking a status that mirrors the failure kind.
func respondUpstreamError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, bitrix.ErrFetchFailed):
		status = http.StatusBadRequest
	case errors.Is(err, records.ErrNoLinkedContact):
		status = http.StatusBadRequest
	}

	var upstream *bitrix.Error
	if errors.As(err, &upstream) {
		respondFailure(c, status, upstream.Code, upstream.Description)
		return
	}
	respondFailure(c, status, "upstream_error", err.Error())
}
