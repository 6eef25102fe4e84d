package parser

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"eco-counselor/internal/models"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

const defaultPageNumber = 1

// ErrUnsupportedFormat is returned for file extensions with no extractor.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// page is the unit of extracted text before chunking. Formats without pages
// produce a single page.
type page struct {
	number int
	text   string
}

type Parser struct {
	splitter Splitter
}

func NewParser(splitter Splitter) *Parser {
	return &Parser{splitter: splitter}
}

// FindDocuments returns the files under root matching pattern (doublestar
// syntax, e.g. "**/*.md"), sorted for a stable indexing order.
func FindDocuments(root, pattern string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("knowledge base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("knowledge base path %s is not a directory", root)
	}

	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
	}
	sort.Strings(matches)

	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, filepath.Join(root, filepath.FromSlash(m)))
	}
	return paths, nil
}

// ParseFile extracts the text of filePath and splits it into chunks tagged
// with the file as their source.
func (p *Parser) ParseFile(filePath string) ([]models.Chunk, error) {
	pages, err := extractPages(filePath)
	if err != nil {
		return nil, err
	}

	var chunks []models.Chunk
	for _, pg := range pages {
		pageChunks, err := p.getChunks(filePath, pg)
		if err != nil {
			return nil, fmt.Errorf("failed to split %s: %w", filePath, err)
		}
		chunks = append(chunks, pageChunks...)
	}
	return chunks, nil
}

// get chunks from content and page number
func (p *Parser) getChunks(source string, pg page) ([]models.Chunk, error) {
	if strings.TrimSpace(pg.text) == "" {
		return nil, nil
	}
	parts, err := p.splitter.SplitText(pg.text)
	if err != nil {
		return nil, err
	}

	chunks := make([]models.Chunk, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			Content:        part,
			SourceFilename: source,
			PageNumber:     pg.number,
			ChunkID:        len(chunks) + 1,
		})
	}
	return chunks, nil
}

func extractPages(filePath string) ([]page, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".md", ".markdown":
		return parseMarkdown(filePath)
	case ".txt":
		return parseText(filePath)
	case ".pdf":
		return parsePDF(filePath)
	case ".docx":
		return parseDOCX(filePath)
	case ".pptx":
		return parsePPTX(filePath)
	case ".xlsx":
		return parseXLSX(filePath)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseText(filePath string) ([]page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []page{{number: defaultPageNumber, text: string(data)}}, nil
}

func parseMarkdown(filePath string) ([]page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	plain, err := markdownToText(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse markdown %s: %w", filePath, err)
	}
	return []page{{number: defaultPageNumber, text: plain}}, nil
}

// markdownToText strips markdown syntax, keeping the readable text with a
// blank line between blocks so the recursive splitter can break on them.
func markdownToText(src []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	endBlock := func() {
		b := buf.Bytes()
		switch {
		case len(b) == 0, bytes.HasSuffix(b, []byte("\n\n")):
		case bytes.HasSuffix(b, []byte("\n")):
			buf.WriteByte('\n')
		default:
			buf.WriteString("\n\n")
		}
	}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				if node.HardLineBreak() {
					buf.WriteByte('\n')
				} else if node.SoftLineBreak() {
					buf.WriteByte(' ')
				}
			}
			return ast.WalkContinue, nil
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
			return ast.WalkContinue, nil
		case *ast.AutoLink:
			if entering {
				buf.Write(node.Label(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(src))
				}
				endBlock()
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		if !entering && n.Type() == ast.TypeBlock {
			endBlock()
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func parsePDF(filePath string) ([]page, error) {
	f, r, err := pdf.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []page
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d of %s: %w", i, filePath, err)
		}
		pages = append(pages, page{number: i, text: pageText})
	}
	return pages, nil
}

func parseDOCX(filePath string) ([]page, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	// DOCX has no page numbers; the raw content is WordprocessingML
	return []page{{number: defaultPageNumber, text: extractTextFromXML(content, "<w:t", "</w:t>")}}, nil
}

func parsePPTX(filePath string) ([]page, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []page
	slideNum := 0
	for _, file := range f.File {
		if !strings.HasPrefix(file.Name, "ppt/slides/slide") || !strings.HasSuffix(file.Name, ".xml") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		slideNum++
		pages = append(pages, page{number: slideNum, text: extractTextFromXML(string(data), "<a:t", "</a:t>")})
	}
	return pages, nil
}

func parseXLSX(filePath string) ([]page, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheetName, err)
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Sheet: %s\n", sheetName)
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
		pages = append(pages, page{number: sheetNum + 1, text: sb.String()})
	}
	return pages, nil
}

// extractTextFromXML concatenates the character data of every open..close
// element. open omits the closing '>' so that attributes are tolerated.
func extractTextFromXML(xmlContent, open, closeTag string) string {
	var sb strings.Builder
	rest := xmlContent
	for {
		idx := strings.Index(rest, open)
		if idx < 0 {
			break
		}
		rest = rest[idx+len(open):]
		// skip <w:tab/>, <w:tbl> and similar elements sharing the prefix
		if len(rest) == 0 || (rest[0] != '>' && rest[0] != ' ') {
			continue
		}
		gt := strings.IndexByte(rest, '>')
		if gt < 0 {
			break
		}
		if gt > 0 && rest[gt-1] == '/' {
			rest = rest[gt+1:]
			continue
		}
		rest = rest[gt+1:]
		end := strings.Index(rest, closeTag)
		if end < 0 {
			break
		}
		sb.WriteString(rest[:end])
		sb.WriteString(" ")
		rest = rest[end+len(closeTag):]
	}
	return strings.TrimSpace(sb.String())
}
