// Package pdftest builds small, well-formed PDF documents in memory for tests.
package pdftest

import (
	"bytes"
	"fmt"
)

// Page describes one page. A zero Width or Height inherits the document
// default of 612x792 points from the page tree.
type Page struct {
	Width   float64
	Height  float64
	Content string // raw content stream operators

	// MediaBox, when set, is written verbatim inside the page's MediaBox
	// array and overrides Width and Height.
	MediaBox string
}

// TextPage returns a page that shows a single line of Helvetica text.
func TextPage(text string) Page {
	return Page{Content: fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)}
}

// Build writes a PDF containing the given pages in order.
//
// Object layout: 1 catalog, 2 page tree, then a page and content stream
// pair per page, and the shared font last.
func Build(pages ...Page) []byte {
	return BuildCount(len(pages), pages...)
}

// BuildCount is Build with the page tree's /Count set to count instead of
// the number of pages, for documents that lie about their size.
func BuildCount(count int, pages ...Page) []byte {
	var buf bytes.Buffer
	offsets := []int{0}

	fontObj := 3 + 2*len(pages)

	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets)-1, body)
	}

	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	obj("<< /Type /Catalog /Pages 2 0 R >>")

	var kids bytes.Buffer
	for i := range pages {
		fmt.Fprintf(&kids, "%d 0 R ", 3+2*i)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] >>", kids.String(), count))

	for i, p := range pages {
		box := ""
		switch {
		case p.MediaBox != "":
			box = fmt.Sprintf(" /MediaBox [%s]", p.MediaBox)
		case p.Width > 0 && p.Height > 0:
			box = fmt.Sprintf(" /MediaBox [0 0 %g %g]", p.Width, p.Height)
		}
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R%s /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
			box, fontObj, 4+2*i))
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(p.Content), p.Content))
	}

	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets))
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets[1:] {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets), xref)

	return buf.Bytes()
}
