package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zulandar/rehearsal/internal/agent"
	"github.com/zulandar/rehearsal/internal/invite"
	"github.com/zulandar/rehearsal/internal/msgtmpl"
	"github.com/zulandar/rehearsal/internal/simulator"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, s *Server, gatherer prometheus.Gatherer) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.registry.Len()})
	})
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	api.GET("/agents", s.handleAgentList)
	api.GET("/agents/:id", s.handleAgentDetail)
	api.GET("/variables", handleVariables)
	api.POST("/templates/preview", s.handlePreview)

	api.GET("/escalations", s.handleEscalations)
	api.GET("/escalations/summary", s.handleEscalationSummary)

	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions", s.handleSessionList)

	sess := api.Group("/sessions/:id", s.loadSession)
	sess.GET("", s.handleSessionDetail)
	sess.DELETE("", s.handleSessionDelete)
	sess.GET("/events", s.handleEvents)
	sess.POST("/messages", s.handleSend)
	sess.POST("/invite/accept", s.operate(func(c *gin.Context, o *simulator.Orchestrator) error {
		return o.AcceptInvite(opContext(c))
	}))
	sess.POST("/invite/reject", s.operate(func(c *gin.Context, o *simulator.Orchestrator) error {
		return o.RejectInvite(opContext(c))
	}))
	sess.POST("/start", s.handleStart)
	sess.POST("/wait/skip", s.operate(func(c *gin.Context, o *simulator.Orchestrator) error {
		return o.SkipWait(opContext(c))
	}))
	sess.POST("/reset", s.operate(func(c *gin.Context, o *simulator.Orchestrator) error {
		return o.Reset(opContext(c))
	}))
}

const sessionKey = "session"

// loadSession resolves :id against the registry and aborts with 404 when
// the session is unknown.
func (s *Server) loadSession(c *gin.Context) {
	o, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Set(sessionKey, o)
	c.Next()
}

// opContext is the context session operations run on. It keeps the
// request's values but not its cancellation: a turn in flight completes
// even if the client goes away, bounded only by service.timeout.
func opContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func session(c *gin.Context) *simulator.Orchestrator {
	return c.MustGet(sessionKey).(*simulator.Orchestrator)
}

// operate wraps a session operation and replies with the resulting
// snapshot.
func (s *Server) operate(fn func(*gin.Context, *simulator.Orchestrator) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		o := session(c)
		if err := fn(c, o); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o.Snapshot())
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, simulator.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, simulator.ErrClosed):
		return http.StatusGone
	case errors.Is(err, simulator.ErrBusy),
		errors.Is(err, simulator.ErrWaitActive),
		errors.Is(err, simulator.ErrNoWait),
		errors.Is(err, invite.ErrNotPending),
		errors.Is(err, invite.ErrPending),
		errors.Is(err, invite.ErrRejected),
		errors.Is(err, invite.ErrNoChoice),
		errors.Is(err, invite.ErrNotAccepted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func (s *Server) handleAgentList(c *gin.Context) {
	agents, err := s.agents.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if agents == nil {
		agents = []*agent.Config{}
	}
	c.JSON(http.StatusOK, agents)
}

func (s *Server) handleAgentDetail(c *gin.Context) {
	cfg, err := s.agents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func handleVariables(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"variables": msgtmpl.KnownVariables()})
}

type previewRequest struct {
	Template string        `json:"template"`
	Lead     *msgtmpl.Lead `json:"lead"`
}

type previewResponse struct {
	Text    string   `json:"text"`
	Used    []string `json:"used"`
	Invalid []string `json:"invalid"`
}

func (s *Server) handlePreview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	lead := s.lead
	if req.Lead != nil {
		lead = *req.Lead
	}
	resp := previewResponse{
		Text:    msgtmpl.Expand(req.Template, lead),
		Used:    msgtmpl.UsedVariables(req.Template),
		Invalid: msgtmpl.Validate(req.Template),
	}
	if resp.Used == nil {
		resp.Used = []string{}
	}
	if resp.Invalid == nil {
		resp.Invalid = []string{}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEscalations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, err := RecentEscalations(c.Request.Context(), s.db, EscalationFilters{
		AgentID: c.Query("agent"),
		Kind:    c.Query("kind"),
		Limit:   limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleEscalationSummary(c *gin.Context) {
	rows, err := EscalationSummary(c.Request.Context(), s.db)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

type createSessionRequest struct {
	AgentID string        `json:"agent_id" binding:"required"`
	Lead    *msgtmpl.Lead `json:"lead"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := s.newSession(opContext(c), req.AgentID, req.Lead)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o.Snapshot())
}

// sessionSummary is one row of the session list.
type sessionSummary struct {
	ID        string `json:"id"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Messages  int    `json:"messages"`
	Escalated bool   `json:"escalated"`
	Busy      bool   `json:"busy"`
}

func (s *Server) handleSessionList(c *gin.Context) {
	out := []sessionSummary{}
	for _, o := range s.registry.List() {
		id := o.ID()
		snap := o.Snapshot()
		out = append(out, sessionSummary{
			ID:        id,
			AgentID:   o.Agent().ID,
			AgentName: o.Agent().Name,
			Messages:  len(snap.Messages),
			Escalated: snap.Escalation.Triggered,
			Busy:      o.Busy(),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleSessionDetail(c *gin.Context) {
	c.JSON(http.StatusOK, session(c).Snapshot())
}

func (s *Server) handleSessionDelete(c *gin.Context) {
	s.registry.Remove(session(c).ID())
	c.Status(http.StatusNoContent)
}

type sendRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o := session(c)
	if err := o.Send(opContext(c), req.Text); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o.Snapshot())
}

type startRequest struct {
	Who string `json:"who" binding:"required,oneof=agent human"`
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o := session(c)
	var err error
	if req.Who == "agent" {
		err = o.LetAgentStart(opContext(c))
	} else {
		err = o.LetHumanStart(opContext(c))
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o.Snapshot())
}
