package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	stderrors "errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inferlet/internal/inferlet/backend"
	"inferlet/internal/inferlet/spec"
	"inferlet/pkg/errors"
)

// fakeRelay plays the server side of the wire protocol for one fixed
// session id.
type fakeRelay struct {
	mu sync.Mutex

	serverName   string
	modelVersion string
	modelMissing bool
	statuses     []string
	exitCode     int
	failError    string
	logs         string
	output       []byte

	createBody []byte
	uploads    map[string][]byte
	filenames  map[string]string
	deleted    bool
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		serverName:   ServerName,
		modelVersion: "1.1",
		statuses:     []string{"queued", "complete"},
		logs:         "loading model\nsegmenting\n",
		output:       []byte("SEGDATA"),
		uploads:      make(map[string][]byte),
		filenames:    make(map[string]string),
	}
}

func (f *fakeRelay) nextStatus() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	doc := map[string]interface{}{"id": "sess-1", "status": st}
	if st == "failed" {
		doc["exit_code"] = f.exitCode
		doc["error"] = f.failError
	}
	return doc
}

func (f *fakeRelay) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/":
			writeData(w, map[string]string{"server": f.serverName, "version": "0.3.0"})
		case r.Method == http.MethodGet && r.URL.Path == "/api/models/lung_seg":
			if f.modelMissing {
				writeError(w, http.StatusNotFound, `model "lung_seg" not found`)
				return
			}
			writeData(w, map[string]string{"version": f.modelVersion})
		case r.Method == http.MethodPost && r.URL.Path == "/api/models/lung_seg":
			f.mu.Lock()
			f.createBody, _ = io.ReadAll(r.Body)
			f.mu.Unlock()
			writeData(w, map[string]string{"session_id": "sess-1"})
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/api/sessions/sess-1/inputs/"):
			data, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.uploads[path.Base(r.URL.Path)] = data
			if fn := r.URL.Query().Get("filename"); fn != "" {
				f.filenames[path.Base(r.URL.Path)] = fn
			}
			f.mu.Unlock()
			writeData(w, map[string]bool{"received": true})
		case r.Method == http.MethodGet && r.URL.Path == "/api/sessions/sess-1/logs":
			io.WriteString(w, f.logs)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/sessions/sess-1/outputs/"):
			w.Write(f.output)
		case r.Method == http.MethodGet && r.URL.Path == "/api/sessions/sess-1":
			writeData(w, f.nextStatus())
		case r.Method == http.MethodDelete && r.URL.Path == "/api/sessions/sess-1":
			f.mu.Lock()
			f.deleted = true
			f.mu.Unlock()
			writeData(w, map[string]bool{"deleted": true})
		default:
			writeError(w, http.StatusNotFound, "no route for "+r.Method+" "+r.URL.Path)
		}
	})
}

func writeData(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"data": v})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func relayModel() *spec.ModelSpec {
	return &spec.ModelSpec{
		ID:      "lung_seg",
		Version: "1.1",
		Inputs: spec.NewIOSection(
			&spec.IOSpec{Key: "input_vol", Name: "Input Volume", Flag: "-i", Extension: ".nrrd", Type: spec.KindVolume},
		),
		Outputs: spec.NewIOSection(
			&spec.IOSpec{Key: "output_seg", Name: "Output Segmentation", Flag: "-o", Extension: ".seg.nrrd", Type: spec.KindSegmentation},
		),
	}
}

func relayConfig() *spec.ResolvedConfig {
	return &spec.ResolvedConfig{
		Inputs: map[string]*spec.ResolvedIO{
			"input_vol": {Value: "/tmp/ct.nrrd", Steps: []spec.ResolvedStep{
				{Enabled: true, Params: map[string]interface{}{"spacing": 1.0}},
			}},
		},
		Outputs: map[string]*spec.ResolvedIO{"output_seg": {Value: "/tmp/mask.seg.nrrd"}},
		Params:  map[string]interface{}{"gpus": int64(-1)},
	}
}

func startRelay(t *testing.T, f *fakeRelay) *Backend {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	b, err := New(srv.URL, srv.Client())
	require.NoError(t, err)
	return b
}

func TestRemote_FullRun(t *testing.T) {
	relay := newFakeRelay()
	b := startRelay(t, relay)
	ctx := context.Background()
	model := relayModel()

	require.NoError(t, b.Prepare(ctx, model))
	require.NoError(t, b.Begin(ctx, model, relayConfig()))
	require.NoError(t, b.Save(ctx, "input_vol", backend.Bytes("VOLDATA"), "/input_vol.nrrd"))
	assert.Equal(t, []byte("VOLDATA"), relay.uploads["input_vol"])

	res, err := b.Run(ctx, []string{"-i", "/input_vol.nrrd"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "loading model\nsegmenting\n", res.Output)

	h, err := b.Load(ctx, "output_seg", "/output_seg.seg.nrrd", nil)
	require.NoError(t, err)
	assert.Equal(t, backend.Bytes("SEGDATA"), h)

	require.NoError(t, b.Remove(ctx, "/input_vol.nrrd"))
	require.NoError(t, b.Cleanup(ctx, model))
	assert.True(t, relay.deleted)

	// a second cleanup has no session left to delete
	relay.deleted = false
	require.NoError(t, b.Cleanup(ctx, model))
	assert.False(t, relay.deleted)
}

func TestRemote_SessionRequestOmitsValues(t *testing.T) {
	relay := newFakeRelay()
	b := startRelay(t, relay)
	model := relayModel()

	require.NoError(t, b.Begin(context.Background(), model, relayConfig()))

	var body map[string]map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(relay.createBody, &body))

	gpus := body["params"]["gpus"]
	assert.Equal(t, float64(-1), gpus["value"])

	in := body["inputs"]["input_vol"]
	assert.NotContains(t, in, "value")
	pre, ok := in["pre"].([]interface{})
	require.True(t, ok)
	require.Len(t, pre, 1)
	step := pre[0].(map[string]interface{})
	assert.Equal(t, true, step["enabled"])
	assert.Equal(t, map[string]interface{}{"spacing": 1.0}, step["params"])

	out := body["outputs"]["output_seg"]
	assert.NotContains(t, out, "value")
}

func TestRemote_SavesToFile(t *testing.T) {
	relay := newFakeRelay()
	b := startRelay(t, relay)
	ctx := context.Background()
	model := relayModel()
	require.NoError(t, b.Begin(ctx, model, relayConfig()))

	src := filepath.Join(t.TempDir(), "ct.nrrd")
	require.NoError(t, os.WriteFile(src, []byte("FILEDATA"), 0o644))
	require.NoError(t, b.Save(ctx, "input_vol", backend.File(src), "/input_vol.nrrd"))
	assert.Equal(t, []byte("FILEDATA"), relay.uploads["input_vol"])
	assert.Equal(t, "ct.nrrd", relay.filenames["input_vol"])

	dst := filepath.Join(t.TempDir(), "mask.seg.nrrd")
	h, err := b.Load(ctx, "output_seg", "/output_seg.seg.nrrd", backend.File(dst))
	require.NoError(t, err)
	assert.Equal(t, backend.File(dst), h)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("SEGDATA"), data)
}

func TestRemote_RejectsWrongServer(t *testing.T) {
	relay := newFakeRelay()
	relay.serverName = "something-else"
	b := startRelay(t, relay)

	err := b.Prepare(context.Background(), relayModel())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrBackendUnavailable))
}

func TestRemote_RejectsVersionMismatch(t *testing.T) {
	relay := newFakeRelay()
	relay.modelVersion = "2.0"
	b := startRelay(t, relay)

	err := b.Prepare(context.Background(), relayModel())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version mismatch")
	assert.Contains(t, err.Error(), "v2.0")
}

func TestRemote_MissingModelSurfacesServerError(t *testing.T) {
	relay := newFakeRelay()
	relay.modelMissing = true
	b := startRelay(t, relay)

	err := b.Prepare(context.Background(), relayModel())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `model "lung_seg" not found`)
}

func TestRemote_FailedRunWithExitCode(t *testing.T) {
	relay := newFakeRelay()
	relay.statuses = []string{"failed"}
	relay.exitCode = 17
	b := startRelay(t, relay)
	ctx := context.Background()

	require.NoError(t, b.Begin(ctx, relayModel(), relayConfig()))
	res, err := b.Run(ctx, nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 17, res.ExitCode)
	assert.Equal(t, relay.logs, res.Output)
}

func TestRemote_FailedRunWithoutExitCode(t *testing.T) {
	relay := newFakeRelay()
	relay.statuses = []string{"failed"}
	relay.failError = "backend disappeared mid-run"
	b := startRelay(t, relay)
	ctx := context.Background()

	require.NoError(t, b.Begin(ctx, relayModel(), relayConfig()))
	_, err := b.Run(ctx, nil, "", nil)
	require.Error(t, err)
	assert.True(t, errors.IsSessionError(err))
	assert.Contains(t, err.Error(), "backend disappeared mid-run")
}

func TestRemote_StillWaitingAfterUploads(t *testing.T) {
	relay := newFakeRelay()
	relay.statuses = []string{"waiting"}
	b := startRelay(t, relay)
	ctx := context.Background()

	require.NoError(t, b.Begin(ctx, relayModel(), relayConfig()))
	err := b.Save(ctx, "input_vol", backend.Bytes("VOLDATA"), "/input_vol.nrrd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still waiting")
}

func TestRemote_LogStreamMirroredToWriter(t *testing.T) {
	relay := newFakeRelay()
	b := startRelay(t, relay)
	ctx := context.Background()

	require.NoError(t, b.Begin(ctx, relayModel(), relayConfig()))
	var mirror strings.Builder
	res, err := b.Run(ctx, nil, "", &mirror)
	require.NoError(t, err)
	assert.Equal(t, relay.logs, mirror.String())
	assert.Equal(t, relay.logs, res.Output)
}

func TestRemote_RequiresURL(t *testing.T) {
	_, err := New("", nil)
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
}
