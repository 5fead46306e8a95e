package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	memberReply   = `{"differentials":["Stable angina","GERD"],"next_steps":["Stress test","Trial of antacids"],"confidence":0.72,"red_flag":false}`
	reviewerReply = `{"ranking":["A","B","C"],"reasoning":"A covers the differential best"}`
	chairmanReply = `{"final_differentials":["Stable angina"],"recommended_next_steps":["Cardiology referral within a week"],"confidence":0.8,"red_flag":false,"summary":"Likely stable angina; outpatient cardiology follow-up."}`
)

// scriptHappyCouncil gives every council seat a well-formed reply.
func scriptHappyCouncil(env *testEnv) {
	for _, model := range []string{"model-a", "model-b", "model-c"} {
		env.transport.script(model, memberReply)
	}
	env.transport.script("reviewer-model", reviewerReply)
	env.transport.script("chairman-model", chairmanReply)
}

// seedKnowledge writes one knowledge file and rebuilds the index.
func seedKnowledge(t *testing.T, env *testEnv, docs string) {
	t.Helper()
	path := filepath.Join(env.cfg.KnowledgeDir, "test_corpus.json")
	require.NoError(t, os.WriteFile(path, []byte(docs), 0o644))
	env.engine.Rebuild()
}

// upload posts a multipart report file through the handler chain.
func (e *testEnv) upload(t *testing.T, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, "file", filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/reports/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// streamEvent is the decoded form of one council stream frame.
type streamEvent struct {
	Stage   string          `json:"stage"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// parseSSE decodes every "data: <json>" frame in an SSE body.
func parseSSE(t *testing.T, body string) []streamEvent {
	t.Helper()
	var events []streamEvent
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		require.True(t, strings.HasPrefix(frame, "data: "), "unexpected frame: %q", frame)
		var ev streamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestTriageFlagsImmediateEmergency(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/triage", map[string]any{
		"sanitized_prompt": "sudden crushing chest pain that will not stop",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, true, body["is_emergency"])
	assert.Equal(t, "immediate", body["urgency_level"])
	assert.Contains(t, body["rationale"], "IMMEDIATE EMERGENCY")
	assert.Contains(t, body["rationale"], "crushing chest pain")
}

func TestTriageRoutineVerdict(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/triage", map[string]any{
		"sanitized_prompt": "mild runny nose and a scratchy throat since yesterday",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, false, body["is_emergency"])
	assert.Equal(t, "routine", body["urgency_level"])
	assert.Empty(t, body["triggered_rules"])
}

func TestTriageUrgentKeywordIsNotEmergency(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/triage", map[string]any{
		"sanitized_prompt": "some chest discomfort after heavy meals",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, false, body["is_emergency"])
	assert.Equal(t, "urgent", body["urgency_level"])
}

func TestTriageVitalsBreach(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/triage", map[string]any{
		"sanitized_prompt": "feeling a bit lightheaded",
		"vitals":           map[string]float64{"oxygen_saturation": 85},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, true, body["is_emergency"])
	assert.Equal(t, "immediate", body["urgency_level"])
	assert.Contains(t, body["rationale"], "oxygen_saturation")
}

func TestTriageValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name     string
		prompt   string
		wantCode string
	}{
		{"empty prompt", "", "empty_prompt"},
		{"whitespace prompt", "   ", "empty_prompt"},
		{"email survives sanitizer", "chest pain, contact me at jane@example.com", "phi_detected"},
		{"ssn survives sanitizer", "patient 123-45-6789 has a headache", "phi_detected"},
		{"name indicator", "Dr. Smith said my chest hurts", "phi_detected"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/triage", map[string]any{
				"sanitized_prompt": tc.prompt,
			})
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.wantCode, decodeJSON(t, rec)["error_code"])
		})
	}
}

func TestTriageMalformedBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/triage", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_body", decodeJSON(t, rec)["error_code"])
}

func TestClassifyReturnsClassification(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/classify", map[string]any{
		"sanitized_prompt": "crushing chest pain radiating to left arm and jaw",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "cardiac_emergency", body["category"])
	assert.Equal(t, "Cardiac Emergency", body["label"])
	assert.Equal(t, "critical", body["severity"])
	assert.NotEmpty(t, body["action"])

	probs, ok := body["probabilities"].([]any)
	require.True(t, ok)
	assert.Len(t, probs, 5)

	confidence, ok := body["confidence"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, confidence, 0.0)
	assert.LessOrEqual(t, confidence, 1.0)
}

func TestClassifyRejectsResidualIdentifiers(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/classify", map[string]any{
		"sanitized_prompt": "call 555-123-4567 about my palpitations",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "phi_detected", decodeJSON(t, rec)["error_code"])
}

func TestRetrieveFindsSeededKnowledge(t *testing.T) {
	env := newTestEnv(t)
	seedKnowledge(t, env, `[
		{"id":"kb_tako","topic":"Takotsubo cardiomyopathy","source":"cardiology_notes",
		 "content":"Takotsubo cardiomyopathy is stress-induced transient left ventricular dysfunction mimicking myocardial infarction."},
		{"id":"kb_gerd","topic":"Reflux symptoms","source":"cardiology_notes",
		 "content":"Burning retrosternal discomfort after meals relieved by antacids suggests gastroesophageal reflux."}
	]`)

	rec := env.do(t, http.MethodPost, "/api/rag/retrieve", map[string]any{
		"sanitized_prompt": "takotsubo cardiomyopathy after emotional stress",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Query   string `json:"query"`
		Results []struct {
			ID    string  `json:"id"`
			Topic string  `json:"topic"`
			Score float64 `json:"score"`
			Type  string  `json:"type"`
		} `json:"results"`
		Stats struct {
			TotalDocuments int  `json:"total_documents"`
			IndexBuilt     bool `json:"index_built"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "kb_tako", resp.Results[0].ID)
	assert.Equal(t, "knowledge_base", resp.Results[0].Type)
	assert.Greater(t, resp.Results[0].Score, 0.0)
	assert.Equal(t, 2, resp.Stats.TotalDocuments)
	assert.True(t, resp.Stats.IndexBuilt)
	assert.Equal(t, "takotsubo cardiomyopathy after emotional stress", resp.Query)
}

func TestRetrieveBeforeRebuildReturnsEmptyResults(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/rag/retrieve", map[string]any{
		"sanitized_prompt": "chest pain",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	results, ok := body["results"].([]any)
	require.True(t, ok, "results must be an array, not null")
	assert.Empty(t, results)
}

func TestRetrieveEchoesTruncatedQuery(t *testing.T) {
	env := newTestEnv(t)

	long := strings.Repeat("palpitations ", 30)
	rec := env.do(t, http.MethodPost, "/api/rag/retrieve", map[string]any{
		"sanitized_prompt": long,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	query, ok := decodeJSON(t, rec)["query"].(string)
	require.True(t, ok)
	assert.Len(t, []rune(query), 200)
}

func TestRAGStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Rebuild() // empty knowledge dir falls back to the embedded corpus

	rec := env.do(t, http.MethodGet, "/api/rag/stats", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.EqualValues(t, 8, body["total_documents"])
	assert.EqualValues(t, 8, body["knowledge_base_count"])
	assert.EqualValues(t, 0, body["user_report_count"])
	assert.Equal(t, true, body["index_built"])
}

func TestCouncilStreamsStagesInOrder(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Rebuild()
	scriptHappyCouncil(env)

	rec := env.do(t, http.MethodPost, "/api/council", map[string]any{
		"sanitized_prompt": "intermittent chest tightness when climbing stairs",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 9)

	wantOrder := []struct{ stage, status string }{
		{"classification", "complete"},
		{"rag_retrieval", "complete"},
		{"divergence", "running"},
		{"divergence", "complete"},
		{"convergence", "running"},
		{"convergence", "complete"},
		{"synthesis", "running"},
		{"synthesis", "complete"},
		{"done", ""},
	}
	for i, want := range wantOrder {
		assert.Equal(t, want.stage, events[i].Stage, "event %d", i)
		assert.Equal(t, want.status, events[i].Status, "event %d", i)
	}

	var divergence map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(events[3].Data, &divergence))
	assert.Len(t, divergence, 3)
	for _, member := range []string{"member_a", "member_b", "member_c"} {
		assert.Contains(t, divergence, member)
	}

	var review struct {
		Ranking   []string `json:"ranking"`
		Reasoning string   `json:"reasoning"`
	}
	require.NoError(t, json.Unmarshal(events[5].Data, &review))
	assert.Equal(t, []string{"A", "B", "C"}, review.Ranking)

	var synthesis struct {
		Differentials []string `json:"final_differentials"`
		Summary       string   `json:"summary"`
		RedFlag       bool     `json:"red_flag"`
	}
	require.NoError(t, json.Unmarshal(events[7].Data, &synthesis))
	assert.Equal(t, []string{"Stable angina"}, synthesis.Differentials)
	assert.Equal(t, "Likely stable angina; outpatient cardiology follow-up.", synthesis.Summary)
}

func TestCouncilPersistsAnonymizedConsultation(t *testing.T) {
	env := newTestEnv(t)
	scriptHappyCouncil(env)

	rec := env.do(t, http.MethodPost, "/api/council", map[string]any{
		"sanitized_prompt": "intermittent chest tightness when climbing stairs",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	records, err := env.hospital.Records("consultation", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	record := records[0]
	assert.Len(t, record.SymptomsHash, 16)
	assert.NotContains(t, record.CouncilSummary, "chest tightness", "raw symptoms must not be stored")
	assert.Equal(t, "Likely stable angina; outpatient cardiology follow-up.", record.CouncilSummary)
	assert.InDelta(t, 0.8, record.Confidence, 1e-9)
	assert.Contains(t, record.Metadata, "classification_confidence")
}

func TestCouncilCompletesOnTransportFailure(t *testing.T) {
	env := newTestEnv(t)
	// Nothing scripted: every call returns the sentinel.

	rec := env.do(t, http.MethodPost, "/api/council", map[string]any{
		"sanitized_prompt": "occasional skipped heartbeats at rest",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	events := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "done", events[len(events)-1].Stage)
}

func TestCouncilRejectsUnsanitizedPrompt(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/council", map[string]any{
		"sanitized_prompt": "chest pain, reach me at bob@example.com",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "phi_detected", decodeJSON(t, rec)["error_code"])
	assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestCouncilWebSocketStreams(t *testing.T) {
	env := newTestEnv(t)
	scriptHappyCouncil(env)

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/api/council/ws?prompt=" + url.QueryEscape("mild palpitations after coffee")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	var stages []string
	for {
		var ev streamEvent
		require.NoError(t, conn.ReadJSON(&ev))
		stages = append(stages, ev.Stage)
		if ev.Stage == "done" || ev.Stage == "error" {
			break
		}
	}

	assert.Equal(t, "classification", stages[0])
	assert.Equal(t, "done", stages[len(stages)-1])
	assert.Contains(t, stages, "synthesis")
}

func TestCouncilWebSocketRejectsEmptyPrompt(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/council/ws", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty_prompt", decodeJSON(t, rec)["error_code"])
}

func TestReportUploadListDelete(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "lipid_panel.txt", []byte("Total cholesterol 240 mg/dL, LDL 160 mg/dL, HDL 38 mg/dL."))
	require.Equal(t, http.StatusOK, rec.Code)
	uploaded := decodeJSON(t, rec)
	id, ok := uploaded["id"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(id, "report_"), "id: %s", id)
	assert.Equal(t, "processed", uploaded["status"])
	assert.EqualValues(t, 10, uploaded["word_count"])

	rec = env.do(t, http.MethodGet, "/api/reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed, ok := decodeJSON(t, rec)["reports"].([]any)
	require.True(t, ok)
	require.Len(t, listed, 1)
	first, ok := listed[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, id, first["id"])
	assert.Equal(t, "lipid_panel.txt", first["filename"])
	assert.NotContains(t, first, "extracted_text")

	// The upload is mirrored into the hospital store.
	records, err := env.hospital.Records("user_report", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].CouncilSummary, "lipid_panel.txt")

	rec = env.do(t, http.MethodDelete, "/api/reports/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "deleted", decodeJSON(t, rec)["status"])

	rec = env.do(t, http.MethodGet, "/api/reports", nil)
	listed, ok = decodeJSON(t, rec)["reports"].([]any)
	require.True(t, ok)
	assert.Empty(t, listed)

	rec = env.do(t, http.MethodDelete, "/api/reports/"+id, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "report_not_found", decodeJSON(t, rec)["error_code"])
}

func TestReportUploadFeedsRetrieval(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "holter.txt", []byte("Holter monitor shows paroxysmal supraventricular tachycardia episodes overnight."))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/rag/retrieve", map[string]any{
		"sanitized_prompt": "paroxysmal supraventricular tachycardia",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []struct {
			Type string `json:"type"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "user_report", resp.Results[0].Type)
}

func TestReportUploadValidation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing file field", func(t *testing.T) {
		body, contentType := multipartBody(t, "document", "report.txt", []byte("text"))
		req := httptest.NewRequest(http.MethodPost, "/api/reports/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "missing_file", decodeJSON(t, rec)["error_code"])
	})

	t.Run("empty file", func(t *testing.T) {
		rec := env.upload(t, "empty.txt", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "empty_file", decodeJSON(t, rec)["error_code"])
	})

	t.Run("not multipart", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/reports/upload", map[string]any{"file": "x"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_body", decodeJSON(t, rec)["error_code"])
	})
}

func TestReportUploadTooLarge(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "huge.txt", bytes.Repeat([]byte("a"), maxUploadBytes+1))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "file_too_large", decodeJSON(t, rec)["error_code"])
}

func TestReportAnalyze(t *testing.T) {
	env := newTestEnv(t)
	scriptHappyCouncil(env)

	rec := env.upload(t, "echo_result.txt", []byte("Echocardiogram shows mild left ventricular hypertrophy with preserved ejection fraction of 60 percent."))
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeJSON(t, rec)["id"].(string)

	rec = env.do(t, http.MethodPost, "/api/reports/analyze/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ReportID       string `json:"report_id"`
		Classification struct {
			Category   string  `json:"category"`
			Confidence float64 `json:"confidence"`
		} `json:"classification"`
		Analysis struct {
			Differentials []string `json:"final_differentials"`
			Summary       string   `json:"summary"`
		} `json:"analysis"`
		RAGContextUsed bool `json:"rag_context_used"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, id, resp.ReportID)
	assert.NotEmpty(t, resp.Classification.Category)
	assert.Equal(t, "Likely stable angina; outpatient cardiology follow-up.", resp.Analysis.Summary)
	assert.True(t, resp.RAGContextUsed, "the uploaded report itself should be retrievable")
}

func TestReportAnalyzeNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/reports/analyze/report_deadbeef", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "report_not_found", decodeJSON(t, rec)["error_code"])
}

func TestFederatedRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	// No adapter before the first aggregation.
	rec := env.do(t, http.MethodGet, "/api/federated/adapter", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no_adapter", decodeJSON(t, rec)["status"])

	// Two updates stay below the min-clients threshold of three.
	for i, clientID := range []string{"clinic_1", "clinic_2"} {
		rec = env.do(t, http.MethodPost, "/api/federated/update", map[string]any{
			"client_id": clientID,
			"gradients": []float64{3, 0, 0, 0},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeJSON(t, rec)
		assert.Equal(t, "accepted", body["status"])
		assert.EqualValues(t, i+1, body["pending_count"])
		assert.NotContains(t, body, "aggregation")
	}

	rec = env.do(t, http.MethodGet, "/api/federated/status", nil)
	status := decodeJSON(t, rec)
	assert.EqualValues(t, 0, status["current_version"])
	assert.EqualValues(t, 2, status["pending_updates"])

	// The third update triggers the round.
	rec = env.do(t, http.MethodPost, "/api/federated/update", map[string]any{
		"client_id": "clinic_3",
		"gradients": []float64{3, 0, 0, 0},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	aggregation, ok := body["aggregation"].(map[string]any)
	require.True(t, ok, "third update must aggregate: %s", rec.Body.String())
	assert.EqualValues(t, 1, aggregation["version"])
	assert.EqualValues(t, 3, aggregation["num_clients"])

	// Noise multiplier is zero in tests, so the adapter is exactly the mean
	// of the clipped updates: [3,0,0,0] clipped to unit norm.
	rec = env.do(t, http.MethodGet, "/api/federated/adapter", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var adapter struct {
		Version    int       `json:"version"`
		NumClients int       `json:"num_clients"`
		Timestamp  float64   `json:"timestamp"`
		Adapter    []float64 `json:"adapter"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &adapter))
	assert.Equal(t, 1, adapter.Version)
	assert.Equal(t, 3, adapter.NumClients)
	assert.Greater(t, adapter.Timestamp, 0.0)
	require.Len(t, adapter.Adapter, 4)
	assert.InDelta(t, 1.0, adapter.Adapter[0], 1e-9)
	for _, v := range adapter.Adapter[1:] {
		assert.InDelta(t, 0.0, v, 1e-9)
	}

	rec = env.do(t, http.MethodGet, "/api/federated/status", nil)
	status = decodeJSON(t, rec)
	assert.EqualValues(t, 1, status["current_version"])
	assert.EqualValues(t, 0, status["pending_updates"])

	// Every accepted update left an anonymized contribution log entry.
	stats, err := env.hospital.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Contributions)
	assert.Equal(t, 0, stats.PendingAggregations)
}

func TestFederatedUpdateValidation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("wrong dimension", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/federated/update", map[string]any{
			"client_id": "clinic_1",
			"gradients": []float64{1, 2},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "wrong_dimension", decodeJSON(t, rec)["error_code"])
	})

	t.Run("missing client id", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/federated/update", map[string]any{
			"gradients": []float64{1, 0, 0, 0},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "missing_client_id", decodeJSON(t, rec)["error_code"])
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/federated/update", strings.NewReader("gradients"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_body", decodeJSON(t, rec)["error_code"])
	})

	// A rejected update never reaches the pending buffer.
	rec := env.do(t, http.MethodGet, "/api/federated/status", nil)
	assert.EqualValues(t, 0, decodeJSON(t, rec)["pending_updates"])
}

func TestHospitalRecordsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/hospital/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.EqualValues(t, 0, body["count"])
	records, ok := body["records"].([]any)
	require.True(t, ok, "records must be an array, not null")
	assert.Empty(t, records)

	_, err := env.hospital.StoreConsultation("cardiac_chronic", "moderate", "abcd1234abcd1234",
		"Stable angina, outpatient follow-up.", 0.7, map[string]any{"rag_docs_used": 2})
	require.NoError(t, err)
	require.NoError(t, env.hospital.StoreReportRecord("report_11223344", "user_report",
		"Uploaded report: notes.txt (12 words)", nil))

	rec = env.do(t, http.MethodGet, "/api/hospital/records", nil)
	body = decodeJSON(t, rec)
	assert.EqualValues(t, 2, body["count"])

	rec = env.do(t, http.MethodGet, "/api/hospital/records?record_type=consultation", nil)
	body = decodeJSON(t, rec)
	assert.EqualValues(t, 1, body["count"])
	records = body["records"].([]any)
	first := records[0].(map[string]any)
	assert.Equal(t, "consultation", first["record_type"])
	assert.Equal(t, "cardiac_chronic", first["category"])

	rec = env.do(t, http.MethodGet, "/api/hospital/records?limit=1", nil)
	body = decodeJSON(t, rec)
	assert.EqualValues(t, 1, body["count"])

	rec = env.do(t, http.MethodGet, "/api/hospital/records?limit=0", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_limit", decodeJSON(t, rec)["error_code"])
}

func TestHospitalRecordPDF(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.hospital.StoreConsultation("cardiac_risk", "low", "1122334455667788",
		"Lifestyle counselling recommended.", 0.64, map[string]any{"rag_docs_used": 1})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/hospital/records/"+id+"/pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), id)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")), "body must be a PDF document")

	rec = env.do(t, http.MethodGet, "/api/hospital/records/cons_00000000/pdf", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "record_not_found", decodeJSON(t, rec)["error_code"])
}

func TestHospitalStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.hospital.StoreConsultation("non_cardiac", "low", "aaaabbbbccccdddd",
		"Reassurance given.", 0.9, nil)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/hospital/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.EqualValues(t, 1, body["total_records"])
	assert.EqualValues(t, 1, body["consultations"])
	assert.EqualValues(t, 0, body["reports"])
	assert.EqualValues(t, 0, body["federated_contributions"])
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Rebuild()

	rec := env.do(t, http.MethodGet, "/api/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "MEDORBY API", body["service"])
	assert.Equal(t, "test", body["version"])

	models, ok := body["models"].([]any)
	require.True(t, ok)
	assert.Len(t, models, 3)

	features, ok := body["features"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, features["classifier_ready"])
	assert.EqualValues(t, 8, features["rag_indexed"])

	rt, ok := body["runtime"].(map[string]any)
	require.True(t, ok)
	goroutines, ok := rt["goroutines"].(float64)
	require.True(t, ok)
	assert.Greater(t, goroutines, 0.0)
}

func TestRequestMetricsRecorded(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/api/triage", map[string]any{
		"sanitized_prompt": "mild headache",
	})
	env.do(t, http.MethodGet, "/api/hospital/records/cons_12345678/pdf", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	metrics := rec.Body.String()

	assert.Contains(t, metrics, `medorby_http_requests_total{method="POST",route="/api/triage",status="200"}`)
	// Record ids are normalized out of the route label.
	assert.Contains(t, metrics, fmt.Sprintf("route=%q", "/api/hospital/records/:id/pdf"))
}
