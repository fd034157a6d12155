// Package document turns raw uploaded documents into plain text and
// normalises that text before it is sent to the generation service.
package document

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html"
)

// Supported content types
const (
	TypePlain    = "text/plain"
	TypeMarkdown = "text/markdown"
	TypeCSV      = "text/csv"
	TypeHTML     = "text/html"
	TypeJSON     = "application/json"
)

// ExtractorConfig sets the quality gate
type ExtractorConfig struct {
	MinWords   int
	MinQuality float64
}

// Extraction is the text recovered from a document
type Extraction struct {
	Text        string  `json:"text"`
	ContentType string  `json:"content_type"`
	WordCount   int     `json:"word_count"`
	Quality     float64 `json:"quality"`
}

// Extractor converts supported document formats to plain text
type Extractor struct {
	cfg ExtractorConfig
}

// NewExtractor creates an Extractor
func NewExtractor(cfg ExtractorConfig) *Extractor {
	return &Extractor{cfg: cfg}
}

// Extract detects the content type of content and returns its text.
// declaredType and filename refine detection when sniffing is inconclusive.
func (e *Extractor) Extract(content []byte, filename, declaredType string) (Extraction, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return Extraction{}, ErrEmptyFile
	}

	contentType := detectType(content, filename, declaredType)

	var (
		text string
		err  error
	)
	switch contentType {
	case TypePlain, TypeMarkdown:
		text = string(content)
	case TypeHTML:
		text, err = htmlText(content)
	case TypeJSON:
		text, err = jsonText(content)
	case TypeCSV:
		text, err = csvText(content)
	default:
		return Extraction{}, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to extract %s: %w", contentType, err)
	}

	ex := Extraction{
		Text:        strings.TrimSpace(text),
		ContentType: contentType,
		WordCount:   len(strings.Fields(text)),
		Quality:     quality(text),
	}
	if ex.WordCount == 0 {
		return Extraction{}, ErrEmptyFile
	}
	if ex.WordCount < e.cfg.MinWords {
		return ex, fmt.Errorf("%w: %d words, need %d", ErrLowQuality, ex.WordCount, e.cfg.MinWords)
	}
	if ex.Quality < e.cfg.MinQuality {
		return ex, fmt.Errorf("%w: quality %.2f below %.2f", ErrLowQuality, ex.Quality, e.cfg.MinQuality)
	}
	return ex, nil
}

// detectType sniffs content and falls back to the declared type or file
// extension when sniffing only finds generic text
func detectType(content []byte, filename, declaredType string) string {
	sniffed := baseType(mimetype.Detect(content).String())

	declared := baseType(declaredType)
	if declared == "" {
		declared = baseType(mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))))
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		declared = TypeMarkdown
	case ".csv":
		declared = TypeCSV
	}

	if sniffed == TypePlain && isText(declared) {
		return declared
	}
	return sniffed
}

func isText(t string) bool {
	switch t {
	case TypePlain, TypeMarkdown, TypeCSV, TypeHTML, TypeJSON:
		return true
	}
	return false
}

func baseType(t string) string {
	if t == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(t)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(t))
	}
	return mt
}

var skippedElements = map[string]bool{"script": true, "style": true, "noscript": true, "head": true}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "section": true, "article": true,
	"header": true, "footer": true, "table": true, "ul": true, "ol": true,
}

func htmlText(content []byte) (string, error) {
	z := html.NewTokenizer(bytes.NewReader(content))
	var sb strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", err
			}
			return sb.String(), nil
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedElements[tag] {
				skip++
			}
			if blockElements[tag] {
				sb.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockElements[string(name)] {
				sb.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedElements[tag] && skip > 0 {
				skip--
			}
			if blockElements[tag] {
				sb.WriteByte('\n')
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if text := strings.TrimSpace(string(z.Text())); text != "" {
				sb.WriteString(text)
				sb.WriteByte(' ')
			}
		}
	}
}

func jsonText(content []byte) (string, error) {
	var v any
	if err := json.Unmarshal(content, &v); err != nil {
		return "", err
	}
	var lines []string
	flattenJSON("", v, &lines)
	return strings.Join(lines, "\n"), nil
}

func flattenJSON(prefix string, v any, lines *[]string) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenJSON(k, val[k], lines)
		}
	case []any:
		for _, item := range val {
			flattenJSON(prefix, item, lines)
		}
	case string:
		if strings.TrimSpace(val) == "" {
			return
		}
		if prefix == "" {
			*lines = append(*lines, val)
			return
		}
		*lines = append(*lines, prefix+": "+val)
	case float64, bool:
		if prefix != "" {
			*lines = append(*lines, fmt.Sprintf("%s: %v", prefix, val))
		}
	}
}

func csvText(content []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return "", err
	}
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, strings.Join(rec, ", "))
	}
	return strings.Join(lines, "\n"), nil
}

// quality is the share of non-space characters that are letters or digits
func quality(text string) float64 {
	var total, good int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			good++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(good) / float64(total)
}
