package reports

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		sb.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	sb.WriteString(`</w:body></w:document>`)

	_, err = w.Write([]byte(sb.String()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractDocxParagraphs(t *testing.T) {
	data := buildDocx(t, "Patient: anonymized", "Findings: mild mitral regurgitation", "")

	got := ExtractText("echo_report.docx", data)
	assert.Equal(t, "Patient: anonymized\n\nFindings: mild mitral regurgitation", got)
}

func TestExtractDocxSplitRuns(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
		`<w:body><w:p><w:r><w:t>chest </w:t></w:r><w:r><w:t>pain</w:t></w:r></w:p></w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	got := ExtractText("note.docx", buf.Bytes())
	assert.Equal(t, "chest pain", got)
}

func TestExtractDocxNotAnArchive(t *testing.T) {
	got := ExtractText("broken.docx", []byte("plain text pretending to be docx"))
	assert.True(t, strings.HasPrefix(got, "[DOCX extraction error:"), "got %q", got)
}

func TestExtractDocxMissingDocumentXML(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("other.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte("<x/>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	got := ExtractText("empty.docx", buf.Bytes())
	assert.Contains(t, got, "[DOCX extraction error:")
	assert.Contains(t, got, "word/document.xml")
}

func TestExtractPDFErrorPlaceholder(t *testing.T) {
	got := ExtractText("scan.pdf", []byte("%PDF-1.4 truncated nonsense"))
	assert.True(t, strings.HasPrefix(got, "[PDF extraction error:"), "got %q", got)
}

func TestExtractPlainTextPassThrough(t *testing.T) {
	assert.Equal(t, "simple text", ExtractText("notes.txt", []byte("simple text")))
	assert.Equal(t, "also text", ExtractText("notes.text", []byte("also text")))
	// Unknown extensions fall back to plain text.
	assert.Equal(t, "csv,like,data", ExtractText("data.csv", []byte("csv,like,data")))
	assert.Equal(t, "no extension", ExtractText("README", []byte("no extension")))
}

func TestExtractPlainLatin1(t *testing.T) {
	got := ExtractText("old.txt", []byte{0xE9, 0xE8})
	assert.Equal(t, "éè", got)
}
