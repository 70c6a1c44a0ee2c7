package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowaudit/flowaudit/internal/apperr"
	"github.com/flowaudit/flowaudit/internal/compliance"
	"github.com/flowaudit/flowaudit/internal/ids"
	"github.com/flowaudit/flowaudit/internal/project"
	"github.com/flowaudit/flowaudit/internal/ruleset"
	"github.com/flowaudit/flowaudit/internal/solution"
	"github.com/flowaudit/flowaudit/internal/store"
	"github.com/flowaudit/flowaudit/internal/testutil"
)

type testAPI struct {
	server *Server
	http   *httptest.Server
	logs   *bytes.Buffer
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))

	builtin, err := ruleset.Builtin()
	require.NoError(t, err)
	catalog, err := ruleset.NewCatalog(ctx, st, builtin, logger)
	require.NoError(t, err)

	clock := testutil.NewDefaultClock()
	projects := project.NewService(st, catalog,
		project.WithIDGenerator(ids.NewSequenceGenerator("id")),
		project.WithClock(clock.Now),
		project.WithLogger(logger))
	solutions := solution.NewService(st,
		solution.WithIDGenerator(ids.NewSequenceGenerator("sf")),
		solution.WithClock(clock.Now),
		solution.WithLogger(logger))

	srv := NewServer(Deps{
		Catalog:   catalog,
		Projects:  projects,
		Solutions: solutions,
		Health:    st,
		Logger:    logger,
	}, Config{MaxUploadBytes: 4096})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testAPI{server: srv, http: ts, logs: logs}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.http.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testAPI) upload(t *testing.T, projectID, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(a.http.URL+"/projects/"+projectID+"/solution-files", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, resp))
	assert.Contains(t, api.logs.String(), "path=/health")
}

func TestRulesets_ListAndGet(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodGet, "/rulesets", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decode[[]ruleset.Ruleset](t, resp)

	resp = api.do(t, http.MethodGet, "/rulesets/summaries", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summaries := decode[[]ruleset.Summary](t, resp)
	assert.Len(t, summaries, len(all))

	resp = api.do(t, http.MethodGet, "/rulesets/DE_USTG", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rs := decode[ruleset.Ruleset](t, resp)
	assert.Equal(t, ruleset.ID("DE_USTG"), rs.ID)

	resp = api.do(t, http.MethodGet, "/rulesets/XX", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[ErrorBody](t, resp)
	assert.Equal(t, apperr.KindNotFound, body.Error.Kind)
	assert.Equal(t, "RULESET_NOT_FOUND", body.Error.Code)
}

func TestRulesets_CreateAndUpdate(t *testing.T) {
	api := newTestAPI(t)

	rs := map[string]any{
		"rulesetId":    "AT_USTG",
		"version":      "1.0.0",
		"jurisdiction": "AT",
		"title":        map[string]string{"en": "Austria"},
		"currency":     "EUR",
		"features": []any{map[string]any{
			"featureId":     "invoice_number",
			"name":          map[string]string{"en": "Invoice number"},
			"legalBasis":    "§ 11 UStG",
			"requiredLevel": "REQUIRED",
			"category":      "identity",
			"appliesTo":     "all",
		}},
	}

	resp := api.do(t, http.MethodPost, "/rulesets", rs)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[ruleset.Ruleset](t, resp)
	require.NotEmpty(t, created.ContentHash)

	resp = api.do(t, http.MethodPost, "/rulesets", rs)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	rs["title"] = map[string]string{"en": "Austria (2025)"}
	req, err := http.NewRequest(http.MethodPut, api.http.URL+"/rulesets/AT_USTG/1.0.0", jsonBody(t, rs))
	require.NoError(t, err)
	req.Header.Set("If-Match", `"stale"`)
	stale, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stale.Body.Close()
	assert.Equal(t, http.StatusConflict, stale.StatusCode)

	req, err = http.NewRequest(http.MethodPut, api.http.URL+"/rulesets/AT_USTG/1.0.0", jsonBody(t, rs))
	require.NoError(t, err)
	req.Header.Set("If-Match", `"`+created.ContentHash+`"`)
	ok, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer ok.Body.Close()
	require.Equal(t, http.StatusOK, ok.StatusCode)
	updated := decode[ruleset.Ruleset](t, ok)
	assert.NotEqual(t, created.ContentHash, updated.ContentHash)

	resp = api.do(t, http.MethodGet, "/rulesets/AT_USTG", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Austria (2025)", decode[ruleset.Ruleset](t, resp).Title["en"])

	rs["rulesetId"] = "DE_USTG"
	resp = api.do(t, http.MethodPost, "/rulesets", rs)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "built-ins are read-only")

	delete(rs, "currency")
	rs["rulesetId"] = "AT_NEW"
	resp = api.do(t, http.MethodPost, "/rulesets", rs)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestEvaluate(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodPost, "/rulesets/DE_USTG/evaluate", map[string]any{
		"grossAmount": "200.00",
		"values":      map[string]any{},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[compliance.Report](t, resp)
	assert.True(t, report.SmallAmount)
	assert.Equal(t, compliance.StatusNonCompliant, report.Status)

	resp = api.do(t, http.MethodPost, "/rulesets/DE_USTG/evaluate", map[string]any{"values": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/rulesets/DE_USTG/evaluate", map[string]any{"grossAmount": 1, "bogus": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown fields rejected")
}

func TestSolutionWorkflow(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodPost, "/projects", project.CreateProjectRequest{Name: "Q1", RulesetID: "DE_USTG"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	p := decode[project.Project](t, resp)

	for _, name := range []string{"a.pdf", "b.pdf"} {
		resp = api.do(t, http.MethodPost, "/projects/"+p.ID+"/documents", map[string]any{
			"filename":    name,
			"grossAmount": "119.00",
			"extracted":   map[string]any{"invoice_number": "OCR"},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp = api.do(t, http.MethodGet, "/projects/"+p.ID+"/documents", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	docs := decode[[]project.Document](t, resp)
	require.Len(t, docs, 2)

	resp = api.do(t, http.MethodPost, "/projects/"+p.ID+"/documents/"+docs[0].ID+"/evaluate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.upload(t, p.ID, "truth.csv", "filename,invoice_number\na.pdf,RE-1\nb.pdf,RE-2\n")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	file := decode[solution.File](t, resp)
	assert.Equal(t, 2, file.ValidCount)

	resp = api.upload(t, p.ID, "again.csv", "filename,invoice_number\na.pdf,RE-1\nb.pdf,RE-2\n")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/projects/"+p.ID+"/solution-files", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]solution.File](t, resp), 1)

	previewPath := "/projects/" + p.ID + "/solution-files/" + file.ID + "/preview"
	first := api.do(t, http.MethodPost, previewPath, nil)
	require.Equal(t, http.StatusOK, first.StatusCode)
	firstBody, err := io.ReadAll(first.Body)
	require.NoError(t, err)
	second := api.do(t, http.MethodPost, previewPath, nil)
	secondBody, err := io.ReadAll(second.Body)
	require.NoError(t, err)
	assert.Equal(t, firstBody, secondBody, "preview is byte-identical")

	var preview map[string]any
	require.NoError(t, json.Unmarshal(firstBody, &preview))
	for _, key := range []string{"strategy", "matchedCount", "unmatchedDocuments", "unmatchedSolutions", "matchRate", "matches", "warnings"} {
		assert.Contains(t, preview, key)
	}

	applyPath := "/projects/" + p.ID + "/solution-files/" + file.ID + "/apply"
	resp = api.do(t, http.MethodPost, applyPath, map[string]any{
		"createRagExamples":  true,
		"previewFingerprint": preview["fingerprint"],
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	for _, key := range []string{"appliedCount", "skippedCount", "errorCount", "corrections", "errors"} {
		assert.Contains(t, result, key)
	}
	assert.Equal(t, float64(2), result["appliedCount"])

	resp = api.do(t, http.MethodPost, applyPath, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[ErrorBody](t, resp)
	assert.Equal(t, "SOLUTION_FILE_APPLIED", body.Error.Code)

	resp = api.do(t, http.MethodDelete, "/projects/"+p.ID+"/solution-files/"+file.ID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestUpload_Errors(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodPost, "/projects", project.CreateProjectRequest{Name: "Q1", RulesetID: "DE_USTG"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	p := decode[project.Project](t, resp)

	resp = api.upload(t, p.ID, "truth.xlsx", "whatever")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.upload(t, p.ID, "big.json", `{"x": "`+string(bytes.Repeat([]byte("a"), 8192))+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp = api.upload(t, "missing", "truth.json", `{"a": 1}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/projects/"+p.ID+"/solution-files", map[string]string{"not": "multipart"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodDelete, "/projects/"+p.ID+"/solution-files/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(apperr.KindNotFound))
	assert.Equal(t, http.StatusBadRequest, StatusFor(apperr.KindValidation))
	assert.Equal(t, http.StatusConflict, StatusFor(apperr.KindConflict))
	assert.Equal(t, http.StatusBadGateway, StatusFor(apperr.KindNetwork))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(apperr.KindInternal))
}

func TestWriteError_HidesInternalMessages(t *testing.T) {
	srv := NewServer(Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, Config{})
	rec := httptest.NewRecorder()

	srv.writeError(rec, errors.New("disk on fire"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "internal server error", body.Error.Message)
}

func TestRecovery(t *testing.T) {
	srv := NewServer(Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, Config{})
	h := srv.withRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	srv := NewServer(Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, Config{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
