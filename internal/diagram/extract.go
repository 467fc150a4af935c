package diagram

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/yungbote/docwriter-backend/internal/document"
)

var (
	fencedBlockRE = regexp.MustCompile("(?is)```plantuml\\s+([\\s\\S]*?)```")
	inlineUMLRE   = regexp.MustCompile(`(?is)@startuml[\s\S]*?@enduml`)
	idCommentRE   = regexp.MustCompile(`(?im)^\s*(?:'|//|#)\s*diagram_id:\s*(\S+)\s*$`)
	slugStripRE   = regexp.MustCompile(`[^a-z0-9]+`)
)

// Block is one PlantUML region found in a draft: the text as it appears in
// the markdown (fence included, when fenced) and the bare diagram body.
type Block struct {
	CodeBlock string
	Body      string
}

/*
ExtractBlocks finds every fenced plantuml block plus any stray
@startuml…@enduml region that is not already inside a fenced block, in
document order.
*/
func ExtractBlocks(markdown string) []Block {
	type span struct {
		start, end int
		block      Block
	}
	spans := []span{}

	for _, m := range fencedBlockRE.FindAllStringSubmatchIndex(markdown, -1) {
		body := strings.TrimSpace(markdown[m[2]:m[3]])
		spans = append(spans, span{
			start: m[0],
			end:   m[1],
			block: Block{CodeBlock: markdown[m[0]:m[1]], Body: body},
		})
	}

	overlaps := func(start, end int) bool {
		for _, s := range spans {
			if !(end <= s.start || start >= s.end) {
				return true
			}
		}
		return false
	}

	for _, m := range inlineUMLRE.FindAllStringIndex(markdown, -1) {
		if overlaps(m[0], m[1]) {
			continue
		}
		raw := markdown[m[0]:m[1]]
		inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(raw, "@startuml"), "@enduml"))
		spans = append(spans, span{
			start: m[0],
			end:   m[1],
			block: Block{CodeBlock: raw, Body: "@startuml\n" + inner + "\n@enduml"},
		})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	out := make([]Block, 0, len(spans))
	for _, s := range spans {
		out = append(out, s.block)
	}
	return out
}

// ParseID extracts the diagram_id comment from a block body, if present.
// Accepts the PlantUML quote comment plus // and # variants.
func ParseID(body string) string {
	if m := idCommentRE.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return ""
}

// AssignID picks the id for the index-th extracted block: an explicit
// diagram_id comment wins, then the plan's spec at the same position, then
// the positional fallback.
func AssignID(body string, specs []document.DiagramSpec, index int) string {
	if id := ParseID(body); id != "" {
		return id
	}
	if index >= 0 && index < len(specs) && specs[index].ID != "" {
		return specs[index].ID
	}
	return fmt.Sprintf("diagram_%d", index+1)
}

// Slug normalizes a diagram id into a storage-safe file stem.
func Slug(id string) string {
	s := slugStripRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(id)), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "diagram"
	}
	return s
}

// NormalizeFormat clamps a requested render format to png or svg.
func NormalizeFormat(fmtName string) string {
	switch strings.ToLower(strings.TrimSpace(fmtName)) {
	case "svg":
		return "svg"
	default:
		return "png"
	}
}
