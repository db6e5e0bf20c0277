package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/esnunes/studio/internal/changes"
	"github.com/esnunes/studio/internal/db"
	"github.com/esnunes/studio/internal/gate"
	"github.com/esnunes/studio/internal/github"
	"github.com/esnunes/studio/internal/policy"
	"github.com/esnunes/studio/internal/session"
)

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}
	var (
		violation  *policy.Violation
		transition *session.TransitionError
		apiErr     *github.APIError
	)
	switch {
	case errors.Is(err, gate.ErrBlocked):
		return http.StatusServiceUnavailable, body
	case errors.Is(err, session.ErrNotFound), errors.Is(err, db.ErrPreviewNotFound):
		return http.StatusNotFound, body
	case errors.As(err, &transition):
		body.From, body.To = string(transition.From), string(transition.To)
		return http.StatusConflict, body
	case errors.Is(err, session.ErrIDTaken), errors.Is(err, session.ErrConflictingSteps):
		return http.StatusConflict, body
	case errors.As(err, &violation):
		body.Reason = string(violation.Code)
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, changes.ErrInvalidChange),
		errors.Is(err, session.ErrGoalRequired),
		errors.Is(err, session.ErrInvalidPatch),
		errors.Is(err, session.ErrUserRequired):
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, body
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal server error"}
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, body := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: err.Error()})
}
