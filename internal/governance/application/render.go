package application

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
)

// ProofFormat selects the rendered document format.
type ProofFormat string

const (
	FormatPDF ProofFormat = "pdf"
	FormatCSV ProofFormat = "csv"
)

// IsValid reports whether the format is known.
func (f ProofFormat) IsValid() bool {
	return f == FormatPDF || f == FormatCSV
}

// ContentType returns the MIME type of the format.
func (f ProofFormat) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/csv"
}

// RenderCSV renders the proof as CSV with the proof hash embedded in a
// header row. The output is a pure function of the proof and hash.
func RenderCSV(p ProofData, proofHash string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{
		{"commitment_id", p.CommitmentID},
		{"client_id", p.ClientID},
		{"client_name", p.ClientName},
		{"window_start", p.WindowStart},
		{"window_end", p.WindowEnd},
		{"target_hours", formatHours(p.TargetHours)},
		{"actual_hours", formatHours(p.ActualHours)},
		{"status", string(p.Status)},
		{"proof_hash", proofHash},
		{},
		{"event_id", "title", "start_ts", "end_ts", "hours"},
	}
	for _, ev := range p.Events {
		rows = append(rows, []string{ev.CanonicalEventID, ev.Title, ev.StartTS, ev.EndTS, formatHours(ev.Hours)})
	}

	for _, row := range rows {
		if len(row) == 0 {
			row = []string{""}
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// RenderPDF renders the proof as a minimal single-page PDF. The layout is
// fixed and carries no timestamps of its own, so identical proofs render
// to identical bytes — which keeps the stored document verifiable against
// its recorded hash.
func RenderPDF(p ProofData, proofHash string) ([]byte, error) {
	lines := []string{
		"Commitment Proof",
		"",
		"Commitment: " + p.CommitmentID,
		"Client: " + p.ClientName + " (" + p.ClientID + ")",
		"Window: " + p.WindowStart + " - " + p.WindowEnd,
		"Target hours: " + formatHours(p.TargetHours),
		"Actual hours: " + formatHours(p.ActualHours),
		"Status: " + string(p.Status),
		"",
		"Events:",
	}
	for _, ev := range p.Events {
		lines = append(lines, fmt.Sprintf("  %s  %s  %sh  %s", ev.StartTS, ev.EndTS, formatHours(ev.Hours), ev.Title))
	}
	lines = append(lines, "", "SHA-256: "+proofHash)

	return buildPDF(lines)
}

// buildPDF writes a one-page PDF with Helvetica text content. Object
// offsets are computed exactly, so the file is well-formed without any
// library.
func buildPDF(lines []string) ([]byte, error) {
	var content bytes.Buffer
	content.WriteString("BT\n/F1 10 Tf\n36 756 Td\n12 TL\n")
	for _, line := range lines {
		content.WriteString("(" + escapePDFText(line) + ") Tj\nT*\n")
	}
	content.WriteString("ET\n")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects)+1)
	for i, obj := range objects {
		offsets[i+1] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xrefStart := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n", len(objects)+1)
	out.WriteString("0000000000 65535 f \n")
	for i := 1; i <= len(objects); i++ {
		fmt.Fprintf(&out, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefStart)

	return out.Bytes(), nil
}

func escapePDFText(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			if r < 32 || r > 126 {
				b.WriteByte('?')
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', 2, 64)
}
