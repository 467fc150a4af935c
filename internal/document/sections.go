package document

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var sectionStartRE = regexp.MustCompile(`<!-- SECTION:([^:]+):START -->`)

func StartMarker(id string) string { return fmt.Sprintf("<!-- SECTION:%s:START -->", id) }
func EndMarker(id string) string   { return fmt.Sprintf("<!-- SECTION:%s:END -->", id) }

// WrapSection surrounds section markdown with its markers.
func WrapSection(id, markdown string) string {
	return StartMarker(id) + "\n" + strings.TrimRight(markdown, "\n") + "\n" + EndMarker(id)
}

// ExtractSections maps section id to its full marked segment (markers
// included). Unterminated sections are skipped.
func ExtractSections(text string) map[string]string {
	sections := map[string]string{}
	for _, match := range sectionStartRE.FindAllStringSubmatchIndex(text, -1) {
		sid := text[match[2]:match[3]]
		end := EndMarker(sid)
		endIdx := strings.Index(text[match[1]:], end)
		if endIdx == -1 {
			continue
		}
		sections[sid] = text[match[0] : match[1]+endIdx+len(end)]
	}
	return sections
}

// SectionIDs returns the ids present in the text, sorted.
func SectionIDs(text string) []string {
	ids := []string{}
	for sid := range ExtractSections(text) {
		ids = append(ids, sid)
	}
	sort.Strings(ids)
	return ids
}

// InnerText strips a segment's own markers and trims whitespace.
func InnerText(id, segment string) string {
	inner := strings.ReplaceAll(segment, StartMarker(id), "")
	inner = strings.ReplaceAll(inner, EndMarker(id), "")
	return strings.TrimSpace(inner)
}

/*
MergeRevisedMarkdown folds a reviewer's revision into the draft.

  - Empty revision: keep the original.
  - Revision without section markers: full-document replace.
  - Otherwise splice section by section, skipping revised sections whose
    inner text is empty or says "content unchanged".

Section markers are preserved verbatim, so merging a draft into itself is a
no-op.
*/
func MergeRevisedMarkdown(original, revised string) string {
	if strings.TrimSpace(revised) == "" {
		return original
	}
	revisedSections := ExtractSections(revised)
	if len(revisedSections) == 0 {
		return revised
	}
	originalSections := ExtractSections(original)
	if len(originalSections) == 0 {
		return revised
	}
	updated := original
	for sid, segment := range revisedSections {
		originalSegment, ok := originalSections[sid]
		if !ok {
			continue
		}
		inner := InnerText(sid, segment)
		if inner == "" || strings.Contains(strings.ToLower(inner), "content unchanged") {
			continue
		}
		updated = strings.Replace(updated, originalSegment, segment, 1)
	}
	return updated
}

// SpliceSection replaces the marked segment for id with newText (which is
// expected to carry its own markers). Returns the input unchanged when the
// markers are absent or malformed.
func SpliceSection(text, id, newText string) string {
	start := strings.Index(text, StartMarker(id))
	end := strings.Index(text, EndMarker(id))
	if start == -1 || end == -1 || end <= start {
		return text
	}
	end += len(EndMarker(id))
	return text[:start] + newText + text[end:]
}

// FindPlaceholderSections reports section ids whose body is a stub: either
// "content unchanged" or an explicit placeholder note.
func FindPlaceholderSections(markdown string) []string {
	out := []string{}
	for sid, segment := range ExtractSections(markdown) {
		inner := strings.ToLower(InnerText(sid, segment))
		if strings.Contains(inner, "content unchanged") || strings.Contains(inner, "placeholder") {
			out = append(out, sid)
		}
	}
	sort.Strings(out)
	return out
}

/*
ParseReviewGuidance flattens a reviewer's JSON (or plain-text) output into a
single guidance string plus the set of section ids it references. Any
"section_id" value at any nesting depth counts as a referenced section;
every other scalar becomes a guidance line. Non-JSON input is passed through
as the guidance text.
*/
func ParseReviewGuidance(raw string) (string, map[string]bool) {
	sections := map[string]bool{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", sections
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		parsed = raw
	}

	var lines []string
	var walk func(key string, value interface{})
	walk = func(key string, value interface{}) {
		switch v := value.(type) {
		case string:
			if key == "section_id" {
				sections[v] = true
			} else if v != "" {
				lines = append(lines, v)
			}
		case float64:
			if key == "section_id" {
				sections[trimFloat(v)] = true
			} else {
				lines = append(lines, trimFloat(v))
			}
		case bool:
			lines = append(lines, fmt.Sprint(v))
		case map[string]interface{}:
			for _, k := range sortedKeys(v) {
				walk(k, v[k])
			}
		case []interface{}:
			for _, item := range v {
				walk(key, item)
			}
		}
	}
	switch v := parsed.(type) {
	case map[string]interface{}:
		for _, k := range sortedKeys(v) {
			walk(k, v[k])
		}
	case []interface{}:
		for _, item := range v {
			walk("item", item)
		}
	default:
		lines = append(lines, fmt.Sprint(v))
	}

	// Structured output with no scalar findings means "no guidance": an
	// all-clear review must not read as pending revisions downstream.
	guidance := strings.TrimSpace(strings.Join(lines, "\n"))
	return guidance, sections
}

func trimFloat(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprint(v)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
