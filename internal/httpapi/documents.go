package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docwriter-backend/internal/status"
)

type DocumentHandler struct {
	index status.DocumentIndex
}

func NewDocumentHandler(index status.DocumentIndex) *DocumentHandler {
	return &DocumentHandler{index: index}
}

// GET /documents
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	docs, err := h.index.List(c.Request.Context(), UserID(c))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_documents_failed", err)
		return
	}
	if docs == nil {
		docs = []map[string]interface{}{}
	}
	RespondOK(c, gin.H{"documents": docs})
}
