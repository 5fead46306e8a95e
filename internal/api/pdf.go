package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/medorby/medorby/internal/hospital"
)

// Color scheme - clinical teal theme
var (
	pdfColorPrimary   = [3]int{13, 92, 99}    // Deep teal
	pdfColorAccent    = [3]int{46, 204, 113}  // Green
	pdfColorWarning   = [3]int{241, 196, 15}  // Yellow
	pdfColorDanger    = [3]int{231, 76, 60}   // Red
	pdfColorTextDark  = [3]int{44, 62, 80}    // Dark text
	pdfColorTextMuted = [3]int{127, 140, 141} // Muted text
	pdfColorGridLine  = [3]int{220, 220, 220} // Box borders
)

// renderRecordPDF renders one anonymized record as a summary document.
func renderRecordPDF(record *hospital.Record) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	pdf.AddPage()

	pageWidth, pageHeight := pdf.GetPageSize()

	// Top accent bar
	pdf.SetFillColor(pdfColorPrimary[0], pdfColorPrimary[1], pdfColorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(22)
	pdf.SetFont("Arial", "B", 26)
	pdf.SetTextColor(pdfColorPrimary[0], pdfColorPrimary[1], pdfColorPrimary[2])
	pdf.CellFormat(0, 12, "MEDORBY", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 11)
	pdf.SetTextColor(pdfColorTextMuted[0], pdfColorTextMuted[1], pdfColorTextMuted[2])
	pdf.CellFormat(0, 7, "Anonymized Medical Record", "", 1, "C", false, 0, "")

	pdf.Ln(8)

	// Record details box
	boxY := pdf.GetY()
	pdf.SetFillColor(248, 249, 250)
	pdf.SetDrawColor(pdfColorGridLine[0], pdfColorGridLine[1], pdfColorGridLine[2])
	pdf.RoundedRect(20, boxY, pageWidth-40, 58, 3, "1234", "FD")
	pdf.SetY(boxY + 6)

	writeRecordField(pdf, "Record ID:", record.ID)
	writeRecordField(pdf, "Type:", record.RecordType)
	writeRecordField(pdf, "Category:", record.Category)

	severity := record.Severity
	if severity == "" {
		severity = "-"
	}
	severityColor := severityPDFColor(record.Severity)
	pdf.SetX(25)
	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(pdfColorTextMuted[0], pdfColorTextMuted[1], pdfColorTextMuted[2])
	pdf.CellFormat(35, 7, "Severity:", "", 0, "L", false, 0, "")
	pdf.SetFont("Arial", "B", 9)
	pdf.SetTextColor(severityColor[0], severityColor[1], severityColor[2])
	pdf.CellFormat(0, 7, strings.ToUpper(severity), "", 1, "L", false, 0, "")

	writeRecordField(pdf, "Confidence:", fmt.Sprintf("%.2f", record.Confidence))
	writeRecordField(pdf, "Recorded:", formatRecordTimestamp(record.Timestamp))
	writeRecordField(pdf, "Symptoms hash:", record.SymptomsHash)

	pdf.SetY(boxY + 66)

	// Council summary
	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(pdfColorTextDark[0], pdfColorTextDark[1], pdfColorTextDark[2])
	pdf.CellFormat(0, 8, "Council Summary", "", 1, "L", false, 0, "")
	pdf.Ln(1)

	summary := record.CouncilSummary
	if strings.TrimSpace(summary) == "" {
		summary = "No summary recorded."
	}
	pdf.SetFont("Arial", "", 10)
	pdf.MultiCell(0, 5, summary, "", "L", false)

	// Metadata
	if meta := decodeRecordMetadata(record.Metadata); len(meta) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 12)
		pdf.SetTextColor(pdfColorTextDark[0], pdfColorTextDark[1], pdfColorTextDark[2])
		pdf.CellFormat(0, 8, "Metadata", "", 1, "L", false, 0, "")
		pdf.Ln(1)

		keys := make([]string, 0, len(meta))
		for k := range meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pdf.SetFont("Arial", "", 9)
		for _, k := range keys {
			pdf.SetTextColor(pdfColorTextMuted[0], pdfColorTextMuted[1], pdfColorTextMuted[2])
			pdf.CellFormat(50, 6, k, "", 0, "L", false, 0, "")
			pdf.SetTextColor(pdfColorTextDark[0], pdfColorTextDark[1], pdfColorTextDark[2])
			pdf.CellFormat(0, 6, fmt.Sprintf("%v", meta[k]), "", 1, "L", false, 0, "")
		}
	}

	// Footer
	pdf.SetY(pageHeight - 40)
	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(pdfColorTextMuted[0], pdfColorTextMuted[1], pdfColorTextMuted[2])
	pdf.CellFormat(0, 6, "This record contains no personal identifiers.", "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", time.Now().Format("January 2, 2006 at 15:04 MST")), "", 1, "C", false, 0, "")

	pdf.SetFillColor(pdfColorPrimary[0], pdfColorPrimary[1], pdfColorPrimary[2])
	pdf.Rect(0, pageHeight-8, pageWidth, 8, "F")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

// writeRecordField writes one muted label and dark value row inside the
// details box.
func writeRecordField(pdf *fpdf.Fpdf, label, value string) {
	if value == "" {
		value = "-"
	}
	pdf.SetX(25)
	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(pdfColorTextMuted[0], pdfColorTextMuted[1], pdfColorTextMuted[2])
	pdf.CellFormat(35, 7, label, "", 0, "L", false, 0, "")
	pdf.SetFont("Arial", "B", 9)
	pdf.SetTextColor(pdfColorTextDark[0], pdfColorTextDark[1], pdfColorTextDark[2])
	if len(value) > 60 {
		value = value[:57] + "..."
	}
	pdf.CellFormat(0, 7, value, "", 1, "L", false, 0, "")
}

func severityPDFColor(severity string) [3]int {
	switch {
	case severity == "critical":
		return pdfColorDanger
	case strings.Contains(severity, "moderate"):
		return pdfColorWarning
	default:
		return pdfColorAccent
	}
}

func formatRecordTimestamp(raw string) string {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return raw
	}
	return t.Format("January 2, 2006 15:04 MST")
}

func decodeRecordMetadata(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil
	}
	return meta
}
