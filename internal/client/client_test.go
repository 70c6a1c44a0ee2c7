package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowaudit/flowaudit/internal/api"
	"github.com/flowaudit/flowaudit/internal/apperr"
	"github.com/flowaudit/flowaudit/internal/solution"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c, err := New(ts.URL, WithBackoff(time.Millisecond))
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("not a url")
	assert.True(t, apperr.IsValidation(err))
}

func TestListRulesets(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rulesets", r.URL.Path)
		writeJSON(w, http.StatusOK, []map[string]any{{"rulesetId": "DE_USTG", "version": "1.0.0"}})
	})

	got, err := c.ListRulesets(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "DE_USTG", string(got[0].ID))
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rulesetId": "DE_USTG"})
	})

	rs, err := c.GetRuleset(context.Background(), "DE_USTG")
	require.NoError(t, err)
	assert.Equal(t, "DE_USTG", string(rs.ID))
	assert.Equal(t, int32(3), calls.Load(), "one call plus two retries")
}

func TestGet_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, api.ErrorBody{Error: api.ErrorDetail{
			Kind: apperr.KindInternal, Code: "INTERNAL", Message: "internal server error",
		}})
	})

	_, err := c.ListRulesets(context.Background())
	assert.True(t, apperr.IsNetwork(err))
	assert.Equal(t, int32(1+DefaultRetries), calls.Load())
}

func TestPreview_Retried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/projects/p-1/solution-files/f-1/preview", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, solution.Preview{SolutionFileID: "f-1", MatchedCount: 2})
	})

	p, err := c.PreviewSolutionMatching(context.Background(), "p-1", "f-1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.MatchedCount)
	assert.Equal(t, int32(2), calls.Load())
}

func TestApply_NeverRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.ApplySolutionFile(context.Background(), "p-1", "f-1", solution.ApplyOptions{CreateExamples: true})
	assert.True(t, apperr.IsNetwork(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestApply_SendsOptions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"createRagExamples": true, "previewFingerprint": "fp"}`, string(body))
		writeJSON(w, http.StatusOK, solution.ApplyResult{SolutionFileID: "f-1", AppliedCount: 3})
	})

	res, err := c.ApplySolutionFile(context.Background(), "p-1", "f-1",
		solution.ApplyOptions{CreateExamples: true, PreviewFingerprint: "fp"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.AppliedCount)
}

func TestErrorsDecodedToKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   apperr.Kind
		code   string
	}{
		{"not found", http.StatusNotFound, apperr.KindNotFound, "SOLUTION_FILE_NOT_FOUND"},
		{"conflict", http.StatusConflict, apperr.KindConflict, "SOLUTION_FILE_APPLIED"},
		{"validation", http.StatusBadRequest, apperr.KindValidation, "INVALID_JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeJSON(w, tt.status, api.ErrorBody{Error: api.ErrorDetail{Kind: tt.kind, Code: tt.code, Message: "nope"}})
			})

			_, err := c.PreviewSolutionMatching(context.Background(), "p-1", "f-1")
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			assert.Equal(t, tt.code, apperr.CodeOf(err))
			assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
		})
	}
}

func TestUpload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "truth.csv", header.Filename)
		assert.Equal(t, "a,b\n1,2\n", string(data))
		writeJSON(w, http.StatusCreated, solution.File{ID: "f-1", Filename: header.Filename})
	})

	f, err := c.UploadSolutionFile(context.Background(), "p-1", "truth.csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, "f-1", f.ID)
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c, err := New(url, WithRetries(1), WithBackoff(time.Millisecond))
	require.NoError(t, err)

	_, err = c.ListRulesets(context.Background())
	assert.True(t, apperr.IsNetwork(err))
	assert.Equal(t, "REQUEST_FAILED", apperr.CodeOf(err))
}
