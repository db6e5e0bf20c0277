package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/esnunes/studio/internal/changes"
	"github.com/esnunes/studio/internal/github"
	"github.com/esnunes/studio/internal/models"
	"github.com/esnunes/studio/internal/policy"
	"github.com/esnunes/studio/internal/session"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "gate": s.deps.Gate.Status()})
}

// Sessions

func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.deps.Sessions.List(userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	if sessions == nil {
		sessions = []models.AgentSession{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

type createSessionRequest struct {
	session.CreateInput
	// RepoURL is a shorthand for Repo, e.g. "github.com/acme/web".
	RepoURL    string `json:"repoUrl,omitempty"`
	BaseBranch string `json:"baseBranch,omitempty"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	in := req.CreateInput
	if req.RepoURL != "" && in.Repo == nil {
		repo, err := github.ParseRepoURL(req.RepoURL)
		if err != nil {
			badRequest(c, err)
			return
		}
		repo.BaseBranch = req.BaseBranch
		in.Repo = repo
	}
	sess, err := s.deps.Sessions.Create(userID(c), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.deps.Sessions.Get(userID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleUpdateSession(c *gin.Context) {
	var patch session.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := s.deps.Sessions.Update(userID(c), c.Param("id"), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// Previews

type previewRequest struct {
	Changes []models.FileChange `json:"changes"`
	Policy  policy.Options      `json:"policy"`
}

type previewResponse struct {
	*models.Preview
	Report string `json:"report"`
}

func (s *Server) handleCreatePreview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := s.deps.Previews.Build(changes.BuildRequest{
		UserID:    userID(c),
		SessionID: c.Param("id"),
		Changes:   req.Changes,
		Policy:    req.Policy,
		Actor:     userID(c),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, previewResponse{Preview: p, Report: changes.Report(p.Diffs, p.Stats)})
}

func (s *Server) handleGetPreview(c *gin.Context) {
	p, err := s.deps.Previews.Get(userID(c), c.Param("id"), c.Param("previewID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, previewResponse{Preview: p, Report: changes.Report(p.Diffs, p.Stats)})
}

func (s *Server) handleListPreviews(c *gin.Context) {
	if _, err := s.deps.Sessions.Get(userID(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	previews, err := s.deps.Queries.ListPreviews(userID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if previews == nil {
		previews = []models.Preview{}
	}
	c.JSON(http.StatusOK, gin.H{"previews": previews})
}

// Admin

func (s *Server) handleGateStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Gate.Status())
}

type gateRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleGateToggle(c *gin.Context) {
	var req gateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Enabled == nil {
		badRequest(c, errors.New("enabled is required"))
		return
	}
	c.JSON(http.StatusOK, s.deps.Gate.SetEnabled(*req.Enabled, userID(c)))
}

func (s *Server) handleAudit(c *gin.Context) {
	limit, err := intQuery(c, "limit", 100)
	if err != nil {
		badRequest(c, err)
		return
	}
	events, err := s.deps.Queries.ListAuditEvents(c.Query("kind"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if events == nil {
		events = []models.AuditEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Repositories

func (s *Server) repos(c *gin.Context) (*github.Reader, bool) {
	if s.deps.Repos == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorBody{Error: "repository access is not configured"})
		return nil, false
	}
	return s.deps.Repos, true
}

func (s *Server) handleDefaultBranch(c *gin.Context) {
	r, ok := s.repos(c)
	if !ok {
		return
	}
	branch, err := r.DefaultBranch(c.Request.Context(), c.Param("owner"), c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"defaultBranch": branch})
}

func (s *Server) handleBranches(c *gin.Context) {
	r, ok := s.repos(c)
	if !ok {
		return
	}
	page, err := intQuery(c, "page", github.DefaultPage)
	if err != nil {
		badRequest(c, err)
		return
	}
	perPage, err := intQuery(c, "per_page", github.DefaultPerPage)
	if err != nil {
		badRequest(c, err)
		return
	}
	res, err := r.ListBranches(c.Request.Context(), c.Param("owner"), c.Param("name"), page, perPage)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleTree(c *gin.Context) {
	r, ok := s.repos(c)
	if !ok {
		return
	}
	depth, err := intQuery(c, "max_depth", github.DefaultMaxDepth)
	if err != nil {
		badRequest(c, err)
		return
	}
	recursive, err := strconv.ParseBool(c.DefaultQuery("recursive", "false"))
	if err != nil {
		badRequest(c, err)
		return
	}
	tree, err := r.GetTree(c.Request.Context(), c.Param("owner"), c.Param("name"), github.TreeOptions{
		Ref:       c.Query("ref"),
		Recursive: recursive,
		MaxDepth:  depth,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tree)
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}
