package dashboard

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/rehearsal/internal/agent"
	"github.com/zulandar/rehearsal/internal/exchange"
	"github.com/zulandar/rehearsal/internal/invite"
	"github.com/zulandar/rehearsal/internal/metrics"
	"github.com/zulandar/rehearsal/internal/models"
	"github.com/zulandar/rehearsal/internal/msgtmpl"
	"github.com/zulandar/rehearsal/internal/simulator"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAgents map[string]*agent.Config

func (f fakeAgents) Get(_ context.Context, id string) (*agent.Config, error) {
	cfg, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", agent.ErrNotFound, id)
	}
	return cfg, nil
}

func (f fakeAgents) List(context.Context) ([]*agent.Config, error) {
	out := []*agent.Config{}
	for _, id := range []string{"sdr", "closer"} {
		if cfg, ok := f[id]; ok {
			out = append(out, cfg)
		}
	}
	return out, nil
}

var testAgents = fakeAgents{
	"sdr": {
		ID:                 "sdr",
		Name:               "SDR",
		Channel:            "whatsapp",
		EscalationKeywords: "gerente",
		ConversationSteps:  agent.Steps{{Text: "Abertura"}, {Text: "Qualificação"}},
	},
	"closer": {
		ID:                 "closer",
		Name:               "Closer",
		Channel:            "linkedin",
		ConnectionStrategy: agent.StrategyWithIntro,
		InviteMessage:      "Oi {{first_name}}, vamos conectar?",
		PostAcceptMessage:  "Obrigado por aceitar, {{first_name}}!",
	},
}

func openDashboardTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.EscalationRecord{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

type testServer struct {
	srv     *Server
	ex      *exchange.MockExchange
	metrics *metrics.Metrics
	reg     *prometheus.Registry
}

func newTestServer(t *testing.T, db *gorm.DB) *testServer {
	t.Helper()
	log, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	ts := &testServer{
		ex:      exchange.NewMockExchange(),
		metrics: metrics.New(reg),
		reg:     reg,
	}
	srv, err := NewServer(ServerOpts{
		Agents:    testAgents,
		Exchange:  ts.ex,
		DB:        db,
		Lead:      msgtmpl.Lead{Name: "Ana Souza", Company: "Acme"},
		Log:       log,
		Metrics:   ts.metrics,
		Gatherer:  reg,
		Heartbeat: time.Hour,
	})
	require.NoError(t, err)
	ts.srv = srv
	t.Cleanup(srv.Registry().CloseAll)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) simulator.Session {
	t.Helper()
	var s simulator.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s), w.Body.String())
	return s
}

// createSession opens a session for agentID and returns its ID.
func (ts *testServer) createSession(t *testing.T, agentID string) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/sessions", gin.H{"agent_id": agentID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeSession(t, w).ID
}

// ---------------------------------------------------------------------------
// NewServer
// ---------------------------------------------------------------------------

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(ServerOpts{Exchange: exchange.NewMockExchange()})
	if err == nil || !strings.Contains(err.Error(), "agent source is required") {
		t.Errorf("err = %v, want agent source error", err)
	}
	_, err = NewServer(ServerOpts{Agents: testAgents})
	if err == nil || !strings.Contains(err.Error(), "exchange is required") {
		t.Errorf("err = %v, want exchange error", err)
	}
}

func TestNewServer_Defaults(t *testing.T) {
	srv, err := NewServer(ServerOpts{Agents: testAgents, Exchange: exchange.NewMockExchange()})
	require.NoError(t, err)
	assert.NotNil(t, srv.Registry())
	assert.Equal(t, 15*time.Second, srv.heartbeat)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	var out bytes.Buffer
	go func() { errCh <- ts.srv.Run(ctx, 18000+int(time.Now().UnixNano()%1000), &out) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Contains(t, out.String(), "Dashboard running at")
}

// ---------------------------------------------------------------------------
// Service endpoints
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":0}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.metrics.Turn("send", "ok")
	w := ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rehearsal_turns_total")
}

func TestAgents(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []agent.Config
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "sdr", list[0].ID)

	w = ts.do(t, http.MethodGet, "/api/agents/closer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"connection_strategy":"with-intro"`)

	w = ts.do(t, http.MethodGet, "/api/agents/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVariables(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/api/variables", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "{{first_name}}")
}

func TestPreview(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/templates/preview", gin.H{
		"template": "Oi {{first_name}} da {{company}} {{unknown}}",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var got previewResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Oi Ana da Acme {{unknown}}", got.Text)
	assert.Equal(t, []string{"{{first_name}}", "{{company}}", "{{unknown}}"}, got.Used)
	assert.Equal(t, []string{"{{unknown}}"}, got.Invalid)

	w = ts.do(t, http.MethodPost, "/api/templates/preview", gin.H{
		"template": "Oi {{name}}",
		"lead":     gin.H{"name": "Bia"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Oi Bia", got.Text)
	assert.Empty(t, got.Invalid)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.ex.QueueInitial(&exchange.InitialResponse{Message: "Olá Ana!"}, nil)

	w := ts.do(t, http.MethodPost, "/api/sessions", gin.H{"agent_id": "sdr"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	s := decodeSession(t, w)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "Olá Ana!", s.Messages[0].Content)
	assert.False(t, s.Loading)
	assert.Equal(t, 1, ts.srv.Registry().Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.OpenSessions))
}

func TestCreateSession_Errors(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/sessions", gin.H{"agent_id": "nobody"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/sessions", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, 0, ts.srv.Registry().Len())
}

func TestCreateSession_CustomLead(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodPost, "/api/sessions", gin.H{
		"agent_id": "closer",
		"lead":     gin.H{"name": "Carlos Lima"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	s := decodeSession(t, w)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "Oi Carlos, vamos conectar?", s.Messages[0].Content)
	assert.True(t, s.Messages[0].IsInvite)
	assert.Equal(t, invite.StatePending, s.Invite.State)
}

func TestSessionList_DetailAndDelete(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.ex.QueueInitial(&exchange.InitialResponse{Message: "Olá!"}, nil)
	id := ts.createSession(t, "sdr")

	w := ts.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []sessionSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, sessionSummary{ID: id, AgentID: "sdr", AgentName: "SDR", Messages: 1}, list[0])

	w = ts.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decodeSession(t, w).ID)

	w = ts.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionList_DoesNotHoldOffSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	registry := NewRegistry(RegistryOpts{IdleTimeout: 10 * time.Minute, Clock: clock.Now})
	ex := exchange.NewMockExchange()
	ex.QueueInitial(&exchange.InitialResponse{Message: "Olá!"}, nil)
	srv, err := NewServer(ServerOpts{Agents: testAgents, Exchange: ex, Registry: registry, Heartbeat: time.Hour})
	require.NoError(t, err)
	t.Cleanup(registry.CloseAll)
	ts := &testServer{srv: srv, ex: ex}
	ts.createSession(t, "sdr")

	for i := 0; i < 3; i++ {
		clock.Advance(4 * time.Minute)
		w := ts.do(t, http.MethodGet, "/api/sessions", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 1, registry.Sweep())
	assert.Equal(t, 0, registry.Len())
}

func TestSend(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.ex.QueueInitial(&exchange.InitialResponse{Message: "Olá!"}, nil)
	id := ts.createSession(t, "sdr")

	ts.ex.QueueTurn(&exchange.TurnResponse{Response: "Claro, posso ajudar."}, nil)
	w := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", gin.H{"text": "Oi, tudo bem?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s := decodeSession(t, w)
	require.Len(t, s.Messages, 3)
	assert.Equal(t, simulator.SenderUser, s.Messages[1].Sender)
	assert.Equal(t, "Claro, posso ajudar.", s.Messages[2].Content)

	w = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", gin.H{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/sessions/missing/messages", gin.H{"text": "oi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSend_OutlivesClientDisconnect(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.ex.QueueInitial(&exchange.InitialResponse{Message: "Olá!"}, nil)
	id := ts.createSession(t, "sdr")
	o, ok := ts.srv.Registry().Get(id)
	require.True(t, ok)

	ts.ex.Block = make(chan struct{})
	ts.ex.QueueTurn(&exchange.TurnResponse{Response: "Desculpe a demora."}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/messages", strings.NewReader(`{"text":"Oi?"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	done := make(chan struct{})
	go func() {
		defer close(done)
		ts.srv.Handler().ServeHTTP(httptest.NewRecorder(), req)
	}()
	require.Eventually(t, o.Busy, time.Second, 5*time.Millisecond)

	cancel()
	close(ts.ex.Block)
	<-done

	s := o.Snapshot()
	require.Len(t, s.Messages, 3)
	last := s.Messages[2]
	assert.False(t, last.IsError)
	assert.Equal(t, "Desculpe a demora.", last.Content)
	assert.False(t, o.Busy())
}

func TestSend_KeywordEscalation(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.ex.QueueInitial(&exchange.InitialResponse{Message: "Olá!"}, nil)
	id := ts.createSession(t, "sdr")

	ts.ex.QueueTurn(&exchange.TurnResponse{Response: "Vou chamar alguém."}, nil)
	w := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", gin.H{"text": "Quero falar com o gerente"})
	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSession(t, w)
	assert.True(t, s.Escalation.Triggered)

	w = ts.do(t, http.MethodGet, "/api/sessions", nil)
	assert.Contains(t, w.Body.String(), `"escalated":true`)
}

func TestInviteFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t, "closer")
	base := "/api/sessions/" + id

	w := ts.do(t, http.MethodPost, base+"/messages", gin.H{"text": "oi"})
	assert.Equal(t, http.StatusConflict, w.Code, "sending before accept")

	w = ts.do(t, http.MethodPost, base+"/start", gin.H{"who": "agent"})
	assert.Equal(t, http.StatusConflict, w.Code, "choosing before accept")

	w = ts.do(t, http.MethodPost, base+"/invite/accept", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeSession(t, w).Invite.ShowAcceptOptions)

	w = ts.do(t, http.MethodPost, base+"/start", gin.H{"who": "someone"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, base+"/start", gin.H{"who": "agent"})
	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSession(t, w)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "Obrigado por aceitar, Ana!", s.Messages[1].Content)
	assert.True(t, s.Messages[1].IsPostAccept)

	w = ts.do(t, http.MethodPost, base+"/invite/accept", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "accepting twice")
}

func TestInviteReject(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t, "closer")
	base := "/api/sessions/" + id

	w := ts.do(t, http.MethodPost, base+"/invite/reject", nil)
	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSession(t, w)
	assert.True(t, s.Invite.Rejected)
	assert.Equal(t, simulator.SenderSystem, s.Messages[len(s.Messages)-1].Sender)

	w = ts.do(t, http.MethodPost, base+"/messages", gin.H{"text": "oi"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStart_Human(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t, "closer")
	base := "/api/sessions/" + id

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, base+"/invite/accept", nil).Code)
	w := ts.do(t, http.MethodPost, base+"/start", gin.H{"who": "human"})
	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSession(t, w)
	assert.False(t, s.Invite.ShowAcceptOptions)
	assert.Len(t, s.Messages, 1)
}

func TestSkipWait_NoWait(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.ex.QueueInitial(&exchange.InitialResponse{Message: "Olá!"}, nil)
	id := ts.createSession(t, "sdr")

	w := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/wait/skip", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReset(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.ex.QueueInitial(&exchange.InitialResponse{Message: "Olá!"}, nil)
	id := ts.createSession(t, "sdr")

	ts.ex.QueueTurn(&exchange.TurnResponse{Response: "Certo."}, nil)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", gin.H{"text": "oi"}).Code)

	ts.ex.QueueInitial(&exchange.InitialResponse{Message: "Olá de novo!"}, nil)
	w := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSession(t, w)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "Olá de novo!", s.Messages[0].Content)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", agent.ErrNotFound), http.StatusNotFound},
		{simulator.ErrEmptyMessage, http.StatusBadRequest},
		{simulator.ErrClosed, http.StatusGone},
		{simulator.ErrBusy, http.StatusConflict},
		{simulator.ErrWaitActive, http.StatusConflict},
		{invite.ErrPending, http.StatusConflict},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Escalations
// ---------------------------------------------------------------------------

func seedEscalations(t *testing.T, db *gorm.DB) {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []models.EscalationRecord{
		{SessionID: "s1", AgentID: "sdr", Kind: "keyword", Value: "gerente", CreatedAt: base},
		{SessionID: "s2", AgentID: "sdr", Kind: "ai", Value: "pediu humano", CreatedAt: base.Add(time.Minute)},
		{SessionID: "s3", AgentID: "closer", Kind: "keyword", Value: "preço", CreatedAt: base.Add(2 * time.Minute)},
	}
	require.NoError(t, db.Create(&rows).Error)
}

func TestEscalations(t *testing.T) {
	db := openDashboardTestDB(t)
	seedEscalations(t, db)
	ts := newTestServer(t, db)

	w := ts.do(t, http.MethodGet, "/api/escalations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []Escalation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all, 3)
	assert.Equal(t, "s3", all[0].SessionID, "newest first")

	w = ts.do(t, http.MethodGet, "/api/escalations?agent=sdr&kind=keyword", nil)
	var filtered []Escalation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &filtered))
	require.Len(t, filtered, 1)
	assert.Equal(t, "gerente", filtered[0].Value)

	w = ts.do(t, http.MethodGet, "/api/escalations?limit=1", nil)
	var limited []Escalation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &limited))
	assert.Len(t, limited, 1)
}

func TestEscalationSummary(t *testing.T) {
	db := openDashboardTestDB(t)
	seedEscalations(t, db)
	ts := newTestServer(t, db)

	w := ts.do(t, http.MethodGet, "/api/escalations/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got []EscalationCount
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, []EscalationCount{
		{AgentID: "closer", Kind: "keyword", Count: 1},
		{AgentID: "sdr", Kind: "ai", Count: 1},
		{AgentID: "sdr", Kind: "keyword", Count: 1},
	}, got)
}

func TestEscalations_NoDB(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/api/escalations", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

// ---------------------------------------------------------------------------
// SSE
// ---------------------------------------------------------------------------

type sseFrame struct {
	event string
	data  string
}

func readFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()
	var f sseFrame
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return f
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestEvents_StreamsSnapshotsUntilClosed(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.ex.QueueInitial(&exchange.InitialResponse{Message: "Olá!"}, nil)
	id := ts.createSession(t, "sdr")

	httpSrv := httptest.NewServer(ts.srv.Handler())
	defer httpSrv.Close()

	resp, err := http.Get(httpSrv.URL + "/api/sessions/" + id + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	first := readFrame(t, r)
	assert.Equal(t, "snapshot", first.event)
	var s simulator.Session
	require.NoError(t, json.Unmarshal([]byte(first.data), &s))
	assert.Equal(t, id, s.ID)

	ts.srv.Registry().Remove(id)

	// Commits racing the close may still arrive as snapshots.
	for i := 0; i < 10; i++ {
		f := readFrame(t, r)
		if f.event == "closed" {
			assert.JSONEq(t, fmt.Sprintf(`{"id":%q}`, id), f.data)
			return
		}
	}
	t.Fatal("no closed event")
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	writeSSE(&buf, "heartbeat", map[string]string{"a": "b"})
	assert.Equal(t, "event: heartbeat\ndata: {\"a\":\"b\"}\n\n", buf.String())
}
