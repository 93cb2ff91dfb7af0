package report

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-pdf/fpdf"
)

const linesPerPage = 64

// WritePDF renders a hex dump of data into a PDF file at outputPath.
func WritePDF(outputPath, title string, base uint32, data []byte) error {
	out, err := GeneratePDF(title, base, data)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, out, 0644)
}

// GeneratePDF renders a hex dump of data into a PDF in memory. Every page
// carries the title and the address range it covers.
func GeneratePDF(title string, base uint32, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("no data to write")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetCreationDate(time.Unix(0, 0).UTC())
	pdf.SetAutoPageBreak(false, 0)

	perPage := linesPerPage * BytesPerLine
	for off := 0; off < len(data); off += perPage {
		page := data[off:min(off+perPage, len(data))]
		start := base + uint32(off)

		pdf.AddPage()
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(0, 6, title, "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 8)
		pdf.CellFormat(0, 5, fmt.Sprintf("0x%08x - 0x%08x", start, start+uint32(len(page))-1), "", 1, "L", false, 0, "")
		pdf.Ln(2)

		pdf.SetFont("Courier", "", 7.5)
		for l := 0; l < len(page); l += BytesPerLine {
			line := page[l:min(l+BytesPerLine, len(page))]
			pdf.CellFormat(0, 4, dumpLine(start+uint32(l), line), "", 1, "L", false, 0, "")
		}
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("generate PDF: %w", err)
	}
	return out.Bytes(), nil
}
