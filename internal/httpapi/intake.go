package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docwriter-backend/internal/agents"
)

// IntakeHandler exposes the interviewer synchronously so clients can preview
// the questionnaire before submitting a job.
type IntakeHandler struct {
	interviewer agents.Interviewer
}

func NewIntakeHandler(interviewer agents.Interviewer) *IntakeHandler {
	return &IntakeHandler{interviewer: interviewer}
}

type intakeQuestionsRequest struct {
	Title string `json:"title" binding:"required"`
}

// POST /intake/questions
func (h *IntakeHandler) ProposeQuestions(c *gin.Context) {
	var req intakeQuestionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	questions, _ := h.interviewer.ProposeQuestions(c.Request.Context(), req.Title)
	RespondOK(c, gin.H{"questions": questions})
}
