package report

import (
    "bufio"
    "fmt"
    "strings"

    "github.com/jung-kurt/gofpdf"

    "github.com/hyperifyio/pdfsnippets/internal/batch"
)

// WritePDF renders a human-readable digest: one section per document with its
// name as heading followed by the excerpt, paragraph by paragraph. The core
// fonts only cover Latin-1, so text goes through a cp1252 translator.
func WritePDF(path string, title string, items []batch.Item) error {
    pdf := gofpdf.New("P", "mm", "A4", "")
    tr := pdf.UnicodeTranslatorFromDescriptor("")
    pdf.SetTitle(title, true)
    pdf.SetAutoPageBreak(true, 15)
    pdf.AddPage()

    pdf.SetFont("Helvetica", "B", 16)
    pdf.MultiCell(0, 8, tr(title), "", "L", false)
    pdf.Ln(4)
    if len(items) == 0 {
        pdf.SetFont("Helvetica", "I", 11)
        pdf.MultiCell(0, 6, tr("No documents met the minimum excerpt length."), "", "L", false)
    }

    for i, it := range items {
        if i > 0 {
            pdf.Ln(6)
        }
        pdf.SetFont("Helvetica", "B", 13)
        pdf.MultiCell(0, 7, tr(fmt.Sprintf("%d. %s", i+1, it.Name)), "", "L", false)
        pdf.Ln(2)
        pdf.SetFont("Helvetica", "", 10)
        scanner := bufio.NewScanner(strings.NewReader(it.Snippets))
        scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
        for scanner.Scan() {
            line := strings.TrimSpace(scanner.Text())
            if line == "" {
                pdf.Ln(3)
                continue
            }
            pdf.MultiCell(0, 5, tr(line), "", "L", false)
        }
    }

    if err := pdf.OutputFileAndClose(path); err != nil {
        return fmt.Errorf("write pdf %s: %w", path, err)
    }
    return nil
}
