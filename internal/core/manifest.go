package core

// manifest.go turns an uploaded manifest into raw rows for validation.
//
// Supported formats are CSV (header row, case-insensitive names), a JSON
// array or {"books": [...]} object, and a YAML list. Every value is
// flattened to a string so the validator sees the same shape regardless of
// format. Row numbers count records from 1, excluding the header; blank CSV
// lines are skipped but keep their number.

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/shelver/internal/apperr"
)

// ManifestColumns are the recognised manifest fields.
var ManifestColumns = []string{
	"isbn", "upc", "asin", "title", "author", "publisher", "condition",
	"quantity", "description", "genre", "format", "shelf_location",
}

// Manifest is one upload: the manifest file plus optional cover images.
type Manifest struct {
	Filename string
	Data     []byte
	// Rows, when set, are used instead of parsing Data.
	Rows   []ManifestRow
	Images []Image
}

// ManifestRow is one raw row with lowercased keys.
type ManifestRow struct {
	Row    int
	Fields map[string]string
}

// Image is an uploaded cover image.
type Image struct {
	Name string
	Data []byte
}

// HeaderIndex maps normalized header names to column positions.
type HeaderIndex map[string]int

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseManifest parses data according to the filename extension, sniffing
// the content when the extension is missing.
func ParseManifest(filename string, data []byte) ([]ManifestRow, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, apperr.New(apperr.KindStructural, "parse manifest", "Batch is empty")
	}

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".csv", ".txt":
		return parseCSVManifest(data)
	case ".json":
		return parseJSONManifest(data)
	case ".yaml", ".yml":
		return parseYAMLManifest(data)
	case "":
		switch bytes.TrimSpace(data)[0] {
		case '[', '{':
			return parseJSONManifest(data)
		}
		return parseCSVManifest(data)
	default:
		return nil, apperr.New(apperr.KindStructural, "parse manifest",
			fmt.Sprintf("unsupported manifest format %q", ext))
	}
}

func parseCSVManifest(data []byte) ([]ManifestRow, error) {
	r := csv.NewReader(bytes.NewReader(sanitizeUTF8(data)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, apperr.E(apperr.KindStructural, "parse manifest", fmt.Errorf("invalid csv: %w", err))
	}
	if len(records) == 0 {
		return nil, apperr.New(apperr.KindStructural, "parse manifest", "Batch is empty")
	}

	headerIdx := MakeHeaderIndex(records[0])
	if !hasAnyColumn(headerIdx) {
		return nil, apperr.New(apperr.KindStructural, "parse manifest",
			"invalid csv: header row has none of "+strings.Join(ManifestColumns, ", "))
	}

	rows := make([]ManifestRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		if isEmptyRow(rec) {
			continue
		}
		fields := make(map[string]string, len(headerIdx))
		for name, pos := range headerIdx {
			if pos < len(rec) {
				fields[name] = CleanCell(rec[pos])
			}
		}
		rows = append(rows, ManifestRow{Row: i + 1, Fields: fields})
	}
	return rows, nil
}

func parseJSONManifest(data []byte) ([]ManifestRow, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, apperr.E(apperr.KindStructural, "parse manifest", fmt.Errorf("invalid manifest: %w", err))
	}
	return rowsFromDocument(doc)
}

func parseYAMLManifest(data []byte) ([]ManifestRow, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperr.E(apperr.KindStructural, "parse manifest", fmt.Errorf("invalid manifest: %w", err))
	}
	return rowsFromDocument(doc)
}

// rowsFromDocument accepts a list of objects or an object with a "books" list.
func rowsFromDocument(doc any) ([]ManifestRow, error) {
	if obj, ok := doc.(map[string]any); ok {
		doc = obj["books"]
	}
	list, ok := doc.([]any)
	if !ok {
		return nil, apperr.New(apperr.KindStructural, "parse manifest",
			`invalid manifest: expected a list of books or {"books": [...]}`)
	}

	rows := make([]ManifestRow, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, apperr.New(apperr.KindStructural, "parse manifest",
				fmt.Sprintf("invalid manifest: entry %d is not an object", i+1))
		}
		fields := make(map[string]string, len(obj))
		for k, v := range obj {
			fields[normalizeHeader(k)] = stringify(v)
		}
		rows = append(rows, ManifestRow{Row: i + 1, Fields: fields})
	}
	return rows, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// MakeHeaderIndex creates a HeaderIndex from a CSV header row.
// Keys are lowercased with spaces and hyphens folded to underscores.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if _, dup := idx[key]; key == "" || dup {
			continue
		}
		idx[key] = i
	}
	return idx
}

func normalizeHeader(h string) string {
	h = strings.ToLower(CleanCell(h))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

func hasAnyColumn(idx HeaderIndex) bool {
	for _, c := range ManifestColumns {
		if _, ok := idx[c]; ok {
			return true
		}
	}
	return false
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, an Excel formula prefix (="...") and stray quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}

func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ImageExtensions are the accepted cover image types.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// ValidateImageName rejects images with an unsupported extension.
func ValidateImageName(name string) error {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range ImageExtensions {
		if ext == allowed {
			return nil
		}
	}
	return apperr.New(apperr.KindStructural, "validate image",
		fmt.Sprintf("Invalid file type for image %q", name))
}

// MatchImages pairs images with records. An image matches by
// "isbn_<isbn>.<ext>", by "<isbn|upc|asin>.<ext>", or by "<position>.<ext>"
// where position is the record's 1-based place in the manifest. The result
// maps record index to image; each image is used at most once.
func MatchImages(records []Record, images []Image) map[int]Image {
	if len(images) == 0 {
		return nil
	}
	byStem := make(map[string]Image, len(images))
	for _, img := range images {
		stem := strings.ToLower(strings.TrimSuffix(filepath.Base(img.Name), filepath.Ext(img.Name)))
		if _, dup := byStem[stem]; !dup {
			byStem[stem] = img
		}
	}

	matched := make(map[int]Image)
	used := make(map[string]bool)
	take := func(i int, stem string) bool {
		if stem == "" || used[stem] {
			return false
		}
		img, ok := byStem[stem]
		if !ok {
			return false
		}
		matched[i] = img
		used[stem] = true
		return true
	}

	for i := range records {
		r := &records[i]
		isbn := strings.ToLower(NormalizeISBN(r.ISBN))
		_ = take(i, prefixed("isbn_", isbn)) ||
			take(i, isbn) ||
			take(i, strings.ToLower(r.UPC)) ||
			take(i, strings.ToLower(r.ASIN)) ||
			take(i, strconv.Itoa(i+1))
	}
	return matched
}

func prefixed(prefix, s string) string {
	if s == "" {
		return ""
	}
	return prefix + s
}
