package http_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/canopy"
	canopyhttp "github.com/aretw0/canopy/pkg/adapters/http"
	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/catalog"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/graph"
	"github.com/aretw0/canopy/pkg/predictor"
	"github.com/aretw0/canopy/pkg/session"
	"github.com/aretw0/canopy/pkg/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *canopy.Router {
	t.Helper()
	r := canopy.New(canopy.WithPredictor(predictor.First{}))
	_, err := r.AddNode(graph.NodeSpec{ID: "base", Root: true, Instruction: "Choose a tool"})
	require.NoError(t, err)
	_, err = r.AdmitTool(tools.TextResponseSpec(), nil, "base")
	require.NoError(t, err)
	return r
}

func newServer(t *testing.T, opts ...canopyhttp.Option) (*httptest.Server, *canopy.Router) {
	t.Helper()
	r := newRouter(t)
	srv := httptest.NewServer(canopyhttp.NewHandler(r, opts...))
	t.Cleanup(srv.Close)
	return srv, r
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestServer_HealthAndInfo(t *testing.T) {
	srv, _ := newServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	info := decodeBody[map[string]string](t, do(t, http.MethodGet, srv.URL+"/info", nil))
	assert.Equal(t, canopy.Version, info["version"])
}

func TestServer_TreeAndTools(t *testing.T) {
	srv, _ := newServer(t)

	tree := decodeBody[domain.Tree](t, do(t, http.MethodGet, srv.URL+"/tree", nil))
	assert.Equal(t, "base", tree.RootID)
	node, ok := tree.Node("base")
	require.True(t, ok)
	assert.Equal(t, []string{"text_response"}, node.ToolNames())

	descs := decodeBody[[]domain.CapabilityDescriptor](t, do(t, http.MethodGet, srv.URL+"/tools", nil))
	require.Len(t, descs, 1)
	assert.Equal(t, "text_response", descs[0].Name)
}

func TestServer_NodeLifecycle(t *testing.T) {
	srv, r := newServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/nodes", canopyhttp.NodeRequest{ID: "search", ParentID: "base", Instruction: "Search"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tree := decodeBody[domain.Tree](t, resp)
	_, ok := tree.Node("search")
	assert.True(t, ok)

	resp = do(t, http.MethodPost, srv.URL+"/nodes", canopyhttp.NodeRequest{ID: "search", ParentID: "base"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/nodes", canopyhttp.NodeRequest{ID: "deep", ParentID: "search"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/nodes/deep/move", canopyhttp.MoveRequest{ParentID: "base"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deep, ok := r.Graph().Node("deep")
	require.True(t, ok)
	assert.Equal(t, "base", deep.ParentID)

	resp = do(t, http.MethodDelete, srv.URL+"/nodes/search", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok = r.Graph().Node("search")
	assert.False(t, ok)

	resp = do(t, http.MethodDelete, srv.URL+"/nodes/base", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_RejectsMalformedBody(t *testing.T) {
	srv, _ := newServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/nodes", map[string]any{"nope": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/runs", canopyhttp.RunRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_AdmitAndRevokeTool(t *testing.T) {
	srv, r := newServer(t, canopyhttp.WithCatalog(catalog.Builtin()))

	resp := do(t, http.MethodPost, srv.URL+"/nodes/base/tools", canopyhttp.AdmitRequest{Tool: "echo"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	node, _ := r.Graph().Node("base")
	assert.Contains(t, node.ToolNames(), "echo")

	resp = do(t, http.MethodPost, srv.URL+"/nodes/base/tools", canopyhttp.AdmitRequest{Tool: "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/nodes/ghost/tools", canopyhttp.AdmitRequest{Tool: "visualise"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_, admitted := r.Registry().Lookup("visualise")
	assert.False(t, admitted)

	resp = do(t, http.MethodDelete, srv.URL+"/nodes/base/tools/echo?unregister=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	node, _ = r.Graph().Node("base")
	assert.NotContains(t, node.ToolNames(), "echo")
	_, admitted = r.Registry().Lookup("echo")
	assert.False(t, admitted)
}

func TestServer_AdmitWithoutCatalog(t *testing.T) {
	srv, _ := newServer(t)
	resp := do(t, http.MethodPost, srv.URL+"/nodes/base/tools", canopyhttp.AdmitRequest{Tool: "echo"})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestServer_Run(t *testing.T) {
	srv, _ := newServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/runs", canopyhttp.RunRequest{Request: "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeBody[canopyhttp.RunResponse](t, resp)
	require.NotNil(t, out.State)
	assert.Equal(t, domain.StatusTerminated, out.State.Status)
	assert.Empty(t, out.Error)

	var texts []string
	for _, ev := range out.Events {
		if ev.Kind == domain.EventText {
			texts = append(texts, ev.Message)
		}
	}
	assert.Equal(t, []string{"You asked: hello"}, texts)
}

func TestServer_RunSanitizesRequest(t *testing.T) {
	srv, _ := newServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/runs", canopyhttp.RunRequest{Request: "\x1b[1mhello\x07"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[canopyhttp.RunResponse](t, resp)
	assert.Equal(t, "[1mhello", out.State.Request)

	t.Setenv("CANOPY_MAX_INPUT_SIZE", "4")
	resp = do(t, http.MethodPost, srv.URL+"/runs", canopyhttp.RunRequest{Request: "too long"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestServer_RunPersistsConversation(t *testing.T) {
	sessions := session.NewManager(memory.NewStore())
	srv, _ := newServer(t, canopyhttp.WithSessions(sessions))

	resp := do(t, http.MethodPost, srv.URL+"/runs", canopyhttp.RunRequest{Request: "hello", ConversationID: "c1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ids := decodeBody[[]string](t, do(t, http.MethodGet, srv.URL+"/conversations", nil))
	assert.Equal(t, []string{"c1"}, ids)

	state := decodeBody[domain.RunState](t, do(t, http.MethodGet, srv.URL+"/conversations/c1", nil))
	assert.Equal(t, "c1", state.ConversationID)
	assert.Equal(t, []string{"text_response"}, state.ToolSequence())

	resp = do(t, http.MethodDelete, srv.URL+"/conversations/c1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/conversations/c1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ConversationsNeedSessions(t *testing.T) {
	srv, _ := newServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/conversations", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

type sseFrame struct {
	event string
	data  string
}

func readFrames(t *testing.T, body io.Reader) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.event != "" || cur.data != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		}
	}
	return frames
}

func TestServer_StreamRun(t *testing.T) {
	srv, _ := newServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/runs/stream", canopyhttp.RunRequest{Request: "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := readFrames(t, resp.Body)
	require.NotEmpty(t, frames)

	last := frames[len(frames)-1]
	assert.Equal(t, "done", last.event)
	var state domain.RunState
	require.NoError(t, json.Unmarshal([]byte(last.data), &state))
	assert.Equal(t, domain.StatusTerminated, state.Status)

	var sawText bool
	for _, f := range frames[:len(frames)-1] {
		if f.event == string(domain.EventText) {
			var ev domain.Event
			require.NoError(t, json.Unmarshal([]byte(f.data), &ev))
			assert.Equal(t, "You asked: hello", ev.Message)
			sawText = true
		}
	}
	assert.True(t, sawText)
}

func TestServer_SubscribeEvents(t *testing.T) {
	srv, _ := newServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?conversation_id=c1", nil)
	require.NoError(t, err)
	sub, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer sub.Body.Close()

	reader := bufio.NewReader(sub.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ping\n", line)

	resp := do(t, http.MethodPost, srv.URL+"/runs", canopyhttp.RunRequest{Request: "hello", ConversationID: "c1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: {") {
			continue
		}
		var ev domain.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev))
		if ev.Kind == domain.EventText {
			assert.Equal(t, "You asked: hello", ev.Message)
			return
		}
	}
}

func TestServer_SubscribeRequiresConversation(t *testing.T) {
	srv, _ := newServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/events", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "canopy_test_total"})
	reg.MustRegister(c)
	c.Inc()

	srv, _ := newServer(t, canopyhttp.WithMetrics(reg))
	resp := do(t, http.MethodGet, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "canopy_test_total 1")
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, canopyhttp.StatusCode(domain.ErrRunNotFound))
	assert.Equal(t, http.StatusConflict, canopyhttp.StatusCode(&domain.StructureError{Op: "add", NodeID: "x", Reason: "r"}))
	assert.Equal(t, http.StatusUnprocessableEntity, canopyhttp.StatusCode(domain.ErrConfiguration))
	assert.Equal(t, http.StatusInternalServerError, canopyhttp.StatusCode(io.EOF))
}
