package storage

import (
	"fmt"
	"path"
	"strings"
)

/*
JobStoragePaths is the single authority for where a job's artifacts live in
the object store. All stage code goes through these accessors; nothing else
builds keys by hand.

Layout under the container root:

	jobs/<user_id>/<job_id>/
	  intake/{questions,context,sample_answers,answers}.json
	  plan.json
	  draft.md
	  diagrams/<slug>.puml
	  images/<slug>.{png,svg}
	  cycle_<k>/...
	  final.{md,pdf,docx}
	  metrics/<stage>_{once|cycle<k>}.json
*/
type JobStoragePaths struct {
	UserID string
	JobID  string
}

func NewJobStoragePaths(userID, jobID string) JobStoragePaths {
	return JobStoragePaths{UserID: userID, JobID: jobID}
}

func (p JobStoragePaths) Root() string {
	return path.Join("jobs", p.UserID, p.JobID)
}

func (p JobStoragePaths) Plan() string  { return path.Join(p.Root(), "plan.json") }
func (p JobStoragePaths) Draft() string { return path.Join(p.Root(), "draft.md") }

func (p JobStoragePaths) Final(ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "md"
	}
	return path.Join(p.Root(), "final."+ext)
}

func (p JobStoragePaths) Intake(name string) string {
	return path.Join(p.Root(), "intake", name)
}

func (p JobStoragePaths) IntakeQuestions() string     { return p.Intake("questions.json") }
func (p JobStoragePaths) IntakeContext() string       { return p.Intake("context.json") }
func (p JobStoragePaths) IntakeSampleAnswers() string { return p.Intake("sample_answers.json") }
func (p JobStoragePaths) IntakeAnswers() string       { return p.Intake("answers.json") }

func (p JobStoragePaths) Diagram(slug string) string {
	return path.Join(p.Root(), "diagrams", slug+".puml")
}

func (p JobStoragePaths) Image(slug, format string) string {
	return path.Join(p.Root(), "images", slug+"."+strings.TrimPrefix(format, "."))
}

func (p JobStoragePaths) Metrics(stage string, cycle int) string {
	suffix := "once"
	if cycle > 0 {
		suffix = fmt.Sprintf("cycle%d", cycle)
	}
	return path.Join(p.Root(), "metrics", fmt.Sprintf("%s_%s.json", stage, suffix))
}

// Cycle returns the key for rel inside the per-cycle directory, e.g.
// cycle_1/review.json. idx is 1-based.
func (p JobStoragePaths) Cycle(idx int, rel string) (string, error) {
	return p.Relative(path.Join(fmt.Sprintf("cycle_%d", idx), rel))
}

// Relative resolves rel under the job root, rejecting anything that would
// escape it (absolute paths, "..", empty).
func (p JobStoragePaths) Relative(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", fmt.Errorf("relative path is empty")
	}
	if strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("relative path %q is absolute", rel)
	}
	root := p.Root()
	joined := path.Join(root, rel)
	if joined != root && !strings.HasPrefix(joined, root+"/") {
		return "", fmt.Errorf("relative path %q escapes job root", rel)
	}
	return joined, nil
}
