package document

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	TitlePageStart = "<!-- TITLE_PAGE_START -->"
	TitlePageEnd   = "<!-- TITLE_PAGE_END -->"
)

// nowUTC is the document clock. Overridable in tests.
var nowUTC = func() time.Time { return time.Now().UTC() }

// BuildTitlePage renders the title-page block for a draft. The plan wins
// over payload metadata for title and audience.
func BuildTitlePage(plan *Plan, p *Payload) string {
	title := ""
	audience := ""
	if plan != nil {
		title = strings.TrimSpace(plan.Title)
		audience = strings.TrimSpace(plan.Audience)
	}
	if title == "" {
		title = strings.TrimSpace(p.Title)
	}
	if title == "" {
		title = "Generated Document"
	}
	if audience == "" {
		audience = strings.TrimSpace(p.Audience)
	}

	lines := []string{TitlePageStart, "# " + title, ""}
	if audience != "" {
		lines = append(lines, "**Audience:** "+audience)
	}
	if p.JobID != "" {
		lines = append(lines, "**Job ID:** "+p.JobID)
	}
	lines = append(lines, "**Generated:** "+nowUTC().Format("2006-01-02"))
	lines = append(lines, "", `<div style="page-break-after: always;"></div>`, TitlePageEnd, "")
	return strings.Join(lines, "\n")
}

// SplitTitlePage separates an existing draft into its title-page block
// (markers included, plus the trailing newline) and the body after it.
func SplitTitlePage(text string) (titlePage, body string) {
	start := strings.Index(text, TitlePageStart)
	end := strings.Index(text, TitlePageEnd)
	if start == -1 || end == -1 || end < start {
		return "", text
	}
	end += len(TitlePageEnd)
	for end < len(text) && text[end] == '\n' {
		end++
	}
	return text[start:end], text[:start] + text[end:]
}

var headingRE = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

/*
NumberMarkdownHeadings prefixes headings with hierarchical numbers: H1 gets
"1.", an H2 under it "1.1", with deeper counters resetting whenever a
shallower heading appears. The title-page block and fenced code blocks are
left untouched.
*/
func NumberMarkdownHeadings(text string) string {
	lines := strings.Split(text, "\n")
	counters := make([]int, 6)
	inTitlePage := false
	inFence := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.Contains(trimmed, TitlePageStart) {
			inTitlePage = true
			continue
		}
		if strings.Contains(trimmed, TitlePageEnd) {
			inTitlePage = false
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inTitlePage || inFence {
			continue
		}
		m := headingRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		level := len(m[1])
		counters[level-1]++
		for j := level; j < len(counters); j++ {
			counters[j] = 0
		}
		parts := make([]string, 0, level)
		for j := 0; j < level; j++ {
			parts = append(parts, fmt.Sprint(counters[j]))
		}
		number := strings.Join(parts, ".")
		if level == 1 {
			number += "."
		}
		lines[i] = m[1] + " " + number + " " + m[2]
	}
	return strings.Join(lines, "\n")
}

var (
	slugInvalidRE = regexp.MustCompile(`[^\w\s-]`)
	slugSepRE     = regexp.MustCompile(`[\s_-]+`)
)

// SlugifyHeading converts heading text to the anchor id markdown renderers
// generate for it.
func SlugifyHeading(text string) string {
	normalized := slugInvalidRE.ReplaceAllString(text, "")
	normalized = strings.ToLower(normalized)
	parts := []string{}
	for _, part := range slugSepRE.Split(normalized, -1) {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "section"
	}
	return strings.Join(parts, "-")
}

/*
InsertTableOfContents builds a linked TOC from the (already numbered)
headings and inserts it directly after the title page, or at the top when
there is no title page. Fenced code blocks are excluded from the scan.
*/
func InsertTableOfContents(text string) string {
	lines := strings.Split(text, "\n")
	entries := []string{}
	inTitlePage := false
	inFence := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.Contains(trimmed, TitlePageStart) {
			inTitlePage = true
			continue
		}
		if strings.Contains(trimmed, TitlePageEnd) {
			inTitlePage = false
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inTitlePage || inFence {
			continue
		}
		m := headingRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		level := len(m[1])
		title := strings.TrimSpace(m[2])
		if title == "" {
			continue
		}
		indent := strings.Repeat("  ", level-1)
		entries = append(entries, fmt.Sprintf("%s- [%s](#%s)", indent, title, SlugifyHeading(title)))
	}
	if len(entries) == 0 {
		return text
	}
	toc := "## Table of Contents\n\n" + strings.Join(entries, "\n") + "\n"

	titlePage, body := SplitTitlePage(text)
	if titlePage == "" {
		return toc + "\n" + text
	}
	return titlePage + toc + "\n" + body
}

var (
	fencedPlantUMLRE = regexp.MustCompile("(?is)```plantuml\\s+[\\s\\S]*?```")
	inlineUMLRE      = regexp.MustCompile(`(?is)@startuml[\s\S]*?@enduml`)
)

/*
ApplyDiagramResults replaces rendered PlantUML blocks with image links.
Each successful result is matched first by its captured code block, then by
its diagram_id comment inside any fenced or inline PlantUML region. Results
carrying an error (no blob path) are skipped, leaving the source block in
place.
*/
func ApplyDiagramResults(text string, results []DiagramResult, jobRoot string) string {
	if len(results) == 0 {
		return text
	}
	rootPrefix := strings.TrimSuffix(jobRoot, "/") + "/"
	updated := text
	for _, item := range results {
		target := item.RelativePath
		if target == "" {
			target = item.BlobPath
		}
		if item.CodeBlock == "" || target == "" {
			continue
		}
		target = strings.TrimPrefix(target, rootPrefix)
		alt := item.AltText
		if alt == "" {
			if item.DiagramID != "" {
				alt = "Diagram " + item.DiagramID
			} else {
				alt = "Diagram"
			}
		}
		replacement := fmt.Sprintf("![%s](%s)", alt, target)

		if strings.Contains(updated, item.CodeBlock) {
			updated = strings.Replace(updated, item.CodeBlock, replacement, 1)
			continue
		}
		if item.DiagramID == "" {
			continue
		}
		if block, ok := findBlockWithID(fencedPlantUMLRE, updated, item.DiagramID); ok {
			updated = strings.Replace(updated, block, replacement, 1)
			continue
		}
		if block, ok := findBlockWithID(inlineUMLRE, updated, item.DiagramID); ok {
			updated = strings.Replace(updated, block, replacement, 1)
		}
	}
	return updated
}

func findBlockWithID(re *regexp.Regexp, text, diagramID string) (string, bool) {
	for _, block := range re.FindAllString(text, -1) {
		if strings.Contains(block, "diagram_id: "+diagramID) || strings.Contains(block, "diagram_id:"+diagramID) {
			return block, true
		}
	}
	return "", false
}
