package rag

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	docs []Document
}

func (s staticSource) Documents() []Document { return s.docs }

func writeKnowledgeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestEngineLoadsKnowledgeDirectory(t *testing.T) {
	dir := t.TempDir()
	writeKnowledgeFile(t, dir, "cardiology.json", `[
		{"id": "kb1", "topic": "angina", "source": "textbook", "content": "exertional chest pain relieved by rest"},
		{"topic": "afib", "content": "irregular heartbeat with palpitations"}
	]`)

	e := NewEngine(dir)
	e.Rebuild()

	stats := e.Stats()
	assert.Equal(t, 2, stats.TotalDocuments)
	assert.Equal(t, 2, stats.KnowledgeBaseCount)
	assert.True(t, stats.IndexBuilt)

	hits := e.Retrieve("chest pain", 5)
	require.NotEmpty(t, hits)
	assert.Equal(t, "kb1", hits[0].DocID)

	// Entries without id or source get generated defaults.
	all := e.snapshot().docs
	assert.Equal(t, "kb_1", all[1].ID)
	assert.Equal(t, "cardiology", all[1].Source)
}

func TestEngineFallsBackToEmbeddedCorpus(t *testing.T) {
	e := NewEngine(t.TempDir())
	e.Rebuild()

	stats := e.Stats()
	assert.Greater(t, stats.KnowledgeBaseCount, 0)
	assert.True(t, stats.IndexBuilt)

	hits := e.Retrieve("crushing chest pain radiating to arm", 3)
	assert.NotEmpty(t, hits)
}

func TestEngineSkipsMalformedKnowledgeFiles(t *testing.T) {
	dir := t.TempDir()
	writeKnowledgeFile(t, dir, "good.json", `[{"id": "ok", "topic": "angina", "content": "chest pain"}]`)
	writeKnowledgeFile(t, dir, "bad.json", `{not json at all`)

	e := NewEngine(dir)
	e.Rebuild()

	assert.Equal(t, 1, e.Stats().TotalDocuments)
}

func TestEngineMergesDocumentSources(t *testing.T) {
	dir := t.TempDir()
	writeKnowledgeFile(t, dir, "kb.json", `[{"id": "kb1", "topic": "angina", "content": "chest pain on exertion"}]`)

	src := staticSource{docs: []Document{
		{ID: "report_1", Topic: "bloodwork.txt", Source: "user_upload", Content: "elevated troponin levels", Type: TypeUserReport},
	}}
	e := NewEngine(dir, src)
	e.Rebuild()

	stats := e.Stats()
	assert.Equal(t, 2, stats.TotalDocuments)
	assert.Equal(t, 1, stats.KnowledgeBaseCount)
	assert.Equal(t, 1, stats.UserReportCount)

	hits := e.Retrieve("troponin", 3)
	require.NotEmpty(t, hits)
	assert.Equal(t, "report_1", hits[0].DocID)
	assert.Equal(t, TypeUserReport, hits[0].Type)
}

func TestEngineRebuildSwapsSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeKnowledgeFile(t, dir, "kb.json", `[{"id": "kb1", "topic": "angina", "content": "chest pain"}]`)

	e := NewEngine(dir)
	e.Rebuild()
	before := e.snapshot()

	writeKnowledgeFile(t, dir, "more.json", `[{"id": "kb2", "topic": "stroke", "content": "slurred speech and facial droop"}]`)
	e.Rebuild()
	after := e.snapshot()

	assert.NotSame(t, before, after)
	assert.Equal(t, 1, before.Len())
	assert.Equal(t, 2, after.Len())
}

func TestContextForPromptFormat(t *testing.T) {
	dir := t.TempDir()
	writeKnowledgeFile(t, dir, "kb.json", `[{"id": "kb1", "topic": "angina", "source": "textbook", "content": "exertional chest pain"}]`)

	e := NewEngine(dir)
	e.Rebuild()

	block := e.ContextForPrompt("chest pain", 3)
	assert.Contains(t, block, "--- RETRIEVED MEDICAL CONTEXT (RAG) ---")
	assert.Contains(t, block, "[Medical Knowledge 1] angina (Source: textbook, Relevance: ")
	assert.Contains(t, block, "exertional chest pain")
	assert.Contains(t, block, "--- END CONTEXT ---")
}

func TestContextForPromptEmptyWhenNoHits(t *testing.T) {
	e := NewEngine(t.TempDir())
	e.Rebuild()
	assert.Empty(t, e.ContextForPrompt("zzzz", 3))
}

func TestContextForPromptTruncatesLongContent(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	src := staticSource{docs: []Document{
		{ID: "r1", Topic: "big report", Source: "user_upload", Content: "troponin " + string(long), Type: TypeUserReport},
	}}
	e := NewEngine(t.TempDir(), src)
	e.Rebuild()

	block := e.ContextForPrompt("troponin", 1)
	require.NotEmpty(t, block)
	assert.Contains(t, block, "[Patient Report 1]")
	assert.Less(t, len(block), 1200)
}

func TestWatcherTriggersRebuild(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(dir)
	e.Rebuild()
	require.Greater(t, e.Stats().KnowledgeBaseCount, 0) // embedded fallback

	w, err := NewWatcher(e, dir)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	writeKnowledgeFile(t, dir, "kb.json", `[{"id": "kb1", "topic": "angina", "content": "chest pain"}]`)

	require.Eventually(t, func() bool {
		s := e.Stats()
		return s.TotalDocuments == 1 && s.KnowledgeBaseCount == 1
	}, 5*time.Second, 50*time.Millisecond, "watcher should rebuild after knowledge change")
}
