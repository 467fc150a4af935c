package diagram

import (
	"regexp"
	"strings"
)

var fenceLineRE = regexp.MustCompile("(?m)^\\s*```.*$")

/*
Sanitize turns a raw extracted block body into renderable PlantUML source:
markdown fence lines and diagram_id comments are stripped, line endings
normalized, and the result is wrapped in exactly one @startuml/@enduml pair.
*/
func Sanitize(body string) string {
	s := strings.ReplaceAll(body, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = fenceLineRE.ReplaceAllString(s, "")
	s = idCommentRE.ReplaceAllString(s, "")

	lines := strings.Split(s, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.EqualFold(trimmed, "@startuml") || strings.EqualFold(trimmed, "@enduml") {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}
	inner := strings.TrimSpace(strings.Join(kept, "\n"))
	if inner == "" {
		return "@startuml\n@enduml"
	}
	return "@startuml\n" + inner + "\n@enduml"
}

// Mermaid markers that indicate the model emitted the wrong diagram syntax.
var mermaidMarkers = []string{"```mermaid", "flowchart ", "graph td", "graph lr", "sequencediagram"}

/*
Validate returns the list of problems that make a PlantUML body
unrenderable. An empty list means the source is acceptable.
*/
func Validate(body string) []string {
	issues := []string{}
	trimmed := strings.TrimSpace(body)
	lower := strings.ToLower(trimmed)

	if trimmed == "" {
		issues = append(issues, "diagram source is empty")
		return issues
	}
	if !strings.HasPrefix(lower, "@startuml") {
		issues = append(issues, "missing @startuml header")
	}
	if !strings.HasSuffix(lower, "@enduml") {
		issues = append(issues, "missing @enduml footer")
	}
	if strings.Contains(trimmed, "```") {
		issues = append(issues, "contains markdown code fences inside PlantUML")
	}
	for _, marker := range mermaidMarkers {
		if strings.Contains(lower, marker) {
			issues = append(issues, "contains Mermaid instead of PlantUML")
			break
		}
	}
	inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(trimmed, "@startuml"), "@enduml"))
	if inner == "" && len(issues) == 0 {
		issues = append(issues, "diagram body is empty")
	}
	return issues
}
