// Package docload turns local files into the plain text the chunker and
// ranker consume. PDF pages are tagged so page references survive chunking.
package docload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"rsc.io/pdf"
)

// Document is the extracted text of one local file.
type Document struct {
	Name  string
	Pages int
	Text  string
}

// Load extracts text from a local file, dispatching on extension. Supported:
// .pdf, .html/.htm and plain text.
func Load(path string) (Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return loadPDF(path)
	case ".html", ".htm":
		return loadHTML(path)
	default:
		return loadText(path)
	}
}

func loadPDF(path string) (Document, error) {
	r, err := pdf.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("opening pdf %s: %w", path, err)
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}

		var page strings.Builder
		for _, t := range p.Content().Text {
			page.WriteString(strings.ReplaceAll(t.S, "\x00", ""))
			page.WriteString(" ")
		}

		pageText := strings.Join(strings.Fields(page.String()), " ")
		if pageText == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n\n[[Page %d]]\n%s", i, pageText)
	}

	return Document{
		Name:  filepath.Base(path),
		Pages: r.NumPage(),
		Text:  strings.TrimSpace(sb.String()),
	}, nil
}

func loadHTML(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, err
	}
	defer f.Close()

	doc, err := FromHTML(f)
	if err != nil {
		return Document{}, fmt.Errorf("parsing html %s: %w", path, err)
	}
	doc.Name = filepath.Base(path)
	return doc, nil
}

// FromHTML extracts readable text from an HTML document, dropping script and
// style content.
func FromHTML(r io.Reader) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Document{}, err
	}

	doc.Find("script, style, noscript").Remove()

	var lines []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, pre").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text != "" {
			lines = append(lines, text)
		}
	})

	text := strings.Join(lines, "\n\n")
	if text == "" {
		// Fall back to the whole body for unstructured markup.
		text = strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	}

	return Document{Pages: 1, Text: text}, nil
}

func loadText(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return Document{
		Name:  filepath.Base(path),
		Pages: 1,
		Text:  strings.TrimSpace(string(data)),
	}, nil
}
