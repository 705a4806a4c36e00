package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"notebookai/pkg/domain"
	"notebookai/pkg/storage"
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// Pipeline implements Extractor for all origin kinds: URL fetch with
// readability extraction, file parsing (PDF, plain text, HTML), raw text,
// and scraped-page markdown passthrough.
type Pipeline struct {
	httpClient *http.Client
	objects    storage.ObjectStore
	converter  *md.Converter
}

// Config wires optional collaborators for the pipeline.
type Config struct {
	// HTTPClient is used for URL origins; a default with a 30s timeout is
	// used when nil.
	HTTPClient *http.Client
	// Objects resolves file origins that carry an object-store key. Optional;
	// without it only local file paths are supported.
	Objects storage.ObjectStore
}

// NewPipeline builds the default extractor.
func NewPipeline(cfg Config) *Pipeline {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &Pipeline{
		httpClient: httpClient,
		objects:    cfg.Objects,
		converter:  converter,
	}
}

// Extract dispatches on the origin kind. The switch is exhaustive; an unknown
// kind is a permanent failure.
func (p *Pipeline) Extract(ctx context.Context, origin domain.Origin) (string, error) {
	if err := origin.Validate(); err != nil {
		return "", &Error{Reason: err.Error(), Permanent: true}
	}
	switch origin.Kind {
	case domain.OriginText:
		return cleanText(origin.Content), nil
	case domain.OriginScrapedPage:
		return cleanText(origin.Markdown), nil
	case domain.OriginURL:
		return p.extractURL(ctx, origin.URL)
	case domain.OriginFile:
		return p.extractFile(ctx, origin)
	default:
		return "", &Error{Reason: fmt.Sprintf("unknown origin kind: %q", origin.Kind), Permanent: true}
	}
}

func (p *Pipeline) extractURL(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", &Error{Reason: fmt.Sprintf("invalid url: %s", rawURL), Permanent: true}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &Error{Reason: fmt.Sprintf("build request: %v", err), Permanent: true}
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", &Error{Reason: fmt.Sprintf("fetch url: %v", err), Permanent: false}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		permanent := resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout
		return "", &Error{Reason: fmt.Sprintf("fetch url: %s", resp.Status), Permanent: permanent}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", &Error{Reason: fmt.Sprintf("read response: %v", err), Permanent: false}
	}
	return p.htmlToMarkdown(body, parsed)
}

// htmlToMarkdown extracts the readable article and converts it to markdown,
// falling back to a plain text walk of the DOM when readability finds nothing.
func (p *Pipeline) htmlToMarkdown(body []byte, pageURL *url.URL) (string, error) {
	article, err := readability.FromReader(strings.NewReader(string(body)), pageURL)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		markdown, convErr := p.converter.ConvertString(article.Content)
		if convErr == nil && strings.TrimSpace(markdown) != "" {
			return cleanText(markdown), nil
		}
	}
	doc, parseErr := html.Parse(strings.NewReader(string(body)))
	if parseErr != nil {
		return "", &Error{Reason: fmt.Sprintf("parse html: %v", parseErr), Permanent: true}
	}
	text := normalizeText(extractText(doc))
	if text == "" {
		return "", &Error{Reason: "no readable content in page", Permanent: true}
	}
	return text, nil
}

func (p *Pipeline) extractFile(ctx context.Context, origin domain.Origin) (string, error) {
	path := origin.Path
	if path == "" {
		if p.objects == nil {
			return "", &Error{Reason: "file origin has storage key but no object store configured", Permanent: true}
		}
		downloaded, err := p.download(ctx, origin.StorageKey, origin.Filename)
		if err != nil {
			return "", err
		}
		defer os.Remove(downloaded)
		path = downloaded
	}

	name := origin.Filename
	if name == "" {
		name = path
	}
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".pdf":
		return extractPDF(path)
	case ".txt", ".md", ".markdown", "":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", &Error{Reason: fmt.Sprintf("read file: %v", err), Permanent: false}
		}
		text := cleanText(strings.ToValidUTF8(string(data), ""))
		if text == "" {
			return "", &Error{Reason: "file contains no text", Permanent: true}
		}
		return text, nil
	case ".html", ".htm":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", &Error{Reason: fmt.Sprintf("read file: %v", err), Permanent: false}
		}
		return p.htmlToMarkdown(data, nil)
	default:
		return "", &Error{Reason: fmt.Sprintf("unsupported file type: %s", ext), Permanent: true}
	}
}

func (p *Pipeline) download(ctx context.Context, key, filename string) (string, error) {
	reader, err := p.objects.Get(ctx, key)
	if err != nil {
		return "", &Error{Reason: fmt.Sprintf("fetch object %s: %v", key, err), Permanent: false}
	}
	defer reader.Close()
	tmp, err := os.CreateTemp("", "source-*"+filepath.Ext(filename))
	if err != nil {
		return "", &Error{Reason: fmt.Sprintf("create temp file: %v", err), Permanent: false}
	}
	defer tmp.Close()
	if _, err := io.Copy(tmp, reader); err != nil {
		os.Remove(tmp.Name())
		return "", &Error{Reason: fmt.Sprintf("download object %s: %v", key, err), Permanent: false}
	}
	return tmp.Name(), nil
}

func extractPDF(path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", &Error{Reason: fmt.Sprintf("open pdf: %v", err), Permanent: true}
	}
	defer file.Close()
	var sb strings.Builder
	totalPages := reader.NumPage()
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely
			continue
		}
		text = normalizeText(text)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}
	result := cleanText(sb.String())
	if result == "" {
		return "", &Error{Reason: "no text extracted from PDF", Permanent: true}
	}
	return result, nil
}

// normalizeText collapses all whitespace; used for plain text pulled out of
// PDFs and DOM walks where layout carries no meaning.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

// cleanText preserves markdown structure but trims noise.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = excessiveLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(n)
	return buf.String()
}
