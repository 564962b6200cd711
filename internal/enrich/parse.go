package enrich

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/shelver/internal/apperr"
)

// ParseResponse decodes a language model answer into Metadata. Markdown code
// fences and surrounding prose are tolerated. The answer is rejected unless
// it carries a title or an author.
func ParseResponse(content string) (Metadata, error) {
	const op = "parse model response"

	var payload struct {
		Title       nullableString `json:"title"`
		Author      nullableString `json:"author"`
		Publisher   nullableString `json:"publisher"`
		Description nullableString `json:"description"`
		Genre       nullableString `json:"genre"`
		Pages       flexibleInt    `json:"pages"`
		Format      nullableString `json:"format"`
	}
	if err := decodeModelJSON(content, &payload); err != nil {
		return Metadata{}, apperr.E(apperr.KindInvalidPayload, op, err)
	}

	md := Metadata{
		Title:       string(payload.Title),
		Author:      string(payload.Author),
		Publisher:   string(payload.Publisher),
		Description: string(payload.Description),
		Genre:       string(payload.Genre),
		Pages:       int(payload.Pages),
		Format:      string(payload.Format),
	}
	if !md.Usable() {
		return Metadata{}, apperr.New(apperr.KindInvalidPayload, op, "response missing title and author")
	}
	return md, nil
}

// nullableString decodes JSON null and the literal "null" as empty.
type nullableString string

func (s *nullableString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		var anyVal any
		if json.Unmarshal(data, &anyVal) != nil {
			return err
		}
		v = fmt.Sprint(anyVal)
	}
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "null") || strings.EqualFold(v, "unknown") {
		v = ""
	}
	*s = nullableString(v)
	return nil
}

// flexibleInt accepts 320, "320", "320 pages" and null.
type flexibleInt int

func (n *flexibleInt) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*n = 0
		return nil
	}
	raw = strings.Trim(raw, `"`)
	digits := raw
	for i, r := range raw {
		if r < '0' || r > '9' {
			digits = raw[:i]
			break
		}
	}
	if digits == "" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(digits)
	if err != nil {
		return err
	}
	*n = flexibleInt(v)
	return nil
}

func decodeModelJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, snippet(trimmed))
	}
	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return fmt.Errorf("%w (sanitized payload snippet: %s)", err, snippet(sanitized))
	}
	return nil
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
