// Package content cleans user-written HTML and pulls plain text out of uploaded documents.
package content

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/microcosm-cc/bluemonday"
)

// ErrEmptyContent is returned when nothing is left after sanitising or extraction.
var ErrEmptyContent = errors.New("content is empty or unsafe")

// ErrUnsupportedType is returned for uploads that are not PDF, HTML or text.
var ErrUnsupportedType = errors.New("unsupported document type")

var ugc = bluemonday.UGCPolicy().
	AllowElements("img").
	AllowAttrs("src", "alt").OnElements("img").
	AllowElements("math", "span").
	AllowAttrs("class").OnElements("span") // MathJax

var strict = bluemonday.StrictPolicy()

// Sanitize cleans rich text from posts and comments.
func Sanitize(input string) (string, error) {
	out := strings.TrimSpace(ugc.Sanitize(input))
	if out == "" {
		return "", ErrEmptyContent
	}
	return out, nil
}

// PlainText strips all markup, for chat messages and titles.
func PlainText(input string) (string, error) {
	out := strings.TrimSpace(strict.Sanitize(input))
	if out == "" {
		return "", ErrEmptyContent
	}
	return out, nil
}

// Kind classifies an upload by its content type, falling back to the file extension.
func Kind(contentType, fileName string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "application/pdf"):
		return "pdf"
	case strings.HasPrefix(ct, "text/html"), strings.HasPrefix(ct, "application/xhtml"):
		return "html"
	case strings.HasPrefix(ct, "text/plain"), strings.HasPrefix(ct, "text/markdown"):
		return "text"
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return "pdf"
	case ".html", ".htm":
		return "html"
	case ".txt", ".md":
		return "text"
	}
	return ""
}

// Extract returns the text of a document of the given kind.
func Extract(kind string, r io.ReaderAt, size int64) (string, error) {
	var (
		text string
		err  error
	)
	switch kind {
	case "pdf":
		text, err = extractPDF(r, size)
	case "html":
		text, err = extractHTML(io.NewSectionReader(r, 0, size))
	case "text":
		text, err = extractText(io.NewSectionReader(r, 0, size))
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, kind)
	}
	if err != nil {
		return "", err
	}
	text = collapseSpace(text)
	if text == "" {
		return "", ErrEmptyContent
	}
	return text, nil
}

func extractPDF(r io.ReaderAt, size int64) (string, error) {
	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	plain, err := doc.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}
	return buf.String(), nil
}

func extractHTML(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	var parts []string
	doc.Find("h1, h2, h3, h4, p, li, td, pre").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return doc.Text(), nil
	}
	return strings.Join(parts, "\n"), nil
}

func extractText(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read text: %w", err)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: text is not utf-8", ErrUnsupportedType)
	}
	return string(b), nil
}

// collapseSpace trims each line and drops blank runs.
func collapseSpace(s string) string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}

// Excerpt shortens text to at most n runes on a word boundary.
func Excerpt(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	r := []rune(text)[:n]
	cut := string(r)
	if i := strings.LastIndexAny(cut, " \n"); i > n/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
