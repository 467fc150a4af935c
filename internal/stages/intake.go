package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/docwriter-backend/internal/cycles"
	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/observability"
	"github.com/yungbote/docwriter-backend/internal/status"
	"github.com/yungbote/docwriter-backend/internal/storage"
	"github.com/yungbote/docwriter-backend/internal/tokens"
	"github.com/yungbote/docwriter-backend/internal/worker"
)

// intakeContext is the core-field snapshot written at intake time so a later
// resume can reconstruct a payload from the job id alone.
type intakeContext struct {
	JobID           string `json:"job_id"`
	UserID          string `json:"user_id"`
	Title           string `json:"title,omitempty"`
	Audience        string `json:"audience,omitempty"`
	Out             string `json:"out,omitempty"`
	Cycles          *int   `json:"cycles,omitempty"`
	ExpectedCycles  *int   `json:"expected_cycles,omitempty"`
	CyclesCompleted *int   `json:"cycles_completed,omitempty"`
	CyclesRemaining *int   `json:"cycles_remaining,omitempty"`
}

/*
PlanIntake asks the interviewer for the intake questionnaire and persists the
three intake artifacts. The job then parks: no successor is enqueued until the
caller uploads answers.json and invokes SendResume.
*/
func (p *Pipeline) PlanIntake(ctx context.Context, job *worker.Job) error {
	payload := job.Payload
	p.hydrator.Ensure(ctx, payload)
	paths := p.paths(payload)
	artifact := paths.IntakeQuestions()

	ctx, timer := observability.StartStage(ctx, p.log, p.store, paths, "plan_intake", 0)

	questions, usage := p.agents.Interviewer.ProposeQuestions(ctx, payload.Title)
	p.putJSONBestEffort(ctx, payload.JobID, "PLAN_INTAKE", artifact, questions)

	snapshot := intakeContext{
		JobID:           payload.JobID,
		UserID:          payload.UserID,
		Title:           payload.Title,
		Audience:        payload.Audience,
		Out:             payload.Out,
		Cycles:          payload.Cycles,
		ExpectedCycles:  payload.ExpectedCycles,
		CyclesCompleted: payload.CyclesCompleted,
		CyclesRemaining: payload.CyclesRemaining,
	}
	p.putJSONBestEffort(ctx, payload.JobID, "PLAN_INTAKE", paths.IntakeContext(), snapshot)

	samples := map[string]string{}
	for _, q := range questions {
		samples[q.ID] = q.Sample
	}
	p.putJSONBestEffort(ctx, payload.JobID, "PLAN_INTAKE", paths.IntakeSampleAnswers(), samples)

	tokenCount := usage.Total()
	if tokenCount == 0 {
		if raw, err := json.Marshal(questions); err == nil {
			tokenCount = tokens.Estimate(string(raw))
		}
	}
	timer.Fields["tokens"] = tokenCount
	timer.End(ctx, nil)

	notes := "stage notes: upload answers.json and resume"
	details := cycles.EnrichDetails(map[string]interface{}{
		"duration_s": timer.Duration().Seconds(),
		"tokens":     tokenCount,
		"model":      p.cfg.PlannerModel,
		"artifact":   artifact,
		"notes":      notes,
	}, payload, 0)

	e := status.NewEvent(payload.JobID, "INTAKE_READY")
	e.Message = BuildStageMessage("Plan Intake", artifact, timer.Duration(), tokenCount, p.cfg.PlannerModel, notes)
	e.Artifact = artifact
	e.Extra = map[string]interface{}{"details": details, "user_id": payload.UserID}
	p.pub.PublishStatus(ctx, e)
	return nil
}

/*
IntakeResume rebuilds a payload parked at intake: missing core fields are
loaded from intake/context.json, the output blob path is defaulted, and the
job moves on to planning.
*/
func (p *Pipeline) IntakeResume(ctx context.Context, job *worker.Job) error {
	payload := job.Payload
	paths := p.paths(payload)

	if payload.Title == "" || payload.Audience == "" || payload.Out == "" {
		if snapshot, err := p.loadIntakeContext(ctx, paths); err == nil {
			if payload.Title == "" {
				payload.Title = snapshot.Title
			}
			if payload.Audience == "" {
				payload.Audience = snapshot.Audience
			}
			if payload.Out == "" {
				payload.Out = snapshot.Out
			}
		} else {
			observability.TrackException(ctx, err)
			p.log.Warn("intake context unavailable", "job_id", payload.JobID, "error", err)
		}
	}
	p.hydrator.Ensure(ctx, payload)
	if payload.Out == "" {
		payload.Out = paths.Draft()
	}

	ctx, timer := observability.StartStage(ctx, p.log, p.store, paths, "intake_resume", 0)

	details := cycles.EnrichDetails(map[string]interface{}{
		"duration_s": timer.Duration().Seconds(),
		"tokens":     0,
	}, payload, 0)
	e := status.NewEvent(payload.JobID, "INTAKE_RESUMED")
	e.Message = BuildStageMessage("Intake Resume", "", timer.Duration(), 0, "", "")
	e.Extra = map[string]interface{}{"details": details, "user_id": payload.UserID}
	p.pub.PublishStatus(ctx, e)

	err := p.enqueue(ctx, p.cfg.QueuePlan, "PLAN", payload)
	timer.End(ctx, err)
	return err
}

func (p *Pipeline) loadIntakeContext(ctx context.Context, paths storage.JobStoragePaths) (intakeContext, error) {
	var snapshot intakeContext
	raw, err := p.store.GetText(ctx, paths.IntakeContext())
	if err != nil {
		return snapshot, fmt.Errorf("load intake context: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return snapshot, fmt.Errorf("decode intake context: %w", err)
	}
	return snapshot, nil
}

/*
SendJob is the pipeline entry point: it allocates a job id, seeds the cycle
counters, and posts the payload to the intake queue.
*/
func (p *Pipeline) SendJob(ctx context.Context, userID, title, audience string, requestedCycles int) (*document.Payload, error) {
	payload := &document.Payload{
		JobID:    uuid.NewString(),
		UserID:   userID,
		Title:    title,
		Audience: audience,
	}
	paths := p.paths(payload)
	payload.Out = paths.Draft()
	if requestedCycles < 1 {
		requestedCycles = 1
	}
	cycles.State{Requested: requestedCycles, Completed: 0}.Apply(payload)

	if err := p.pub.SendQueue(ctx, p.cfg.QueuePlanIntake, payload); err != nil {
		return nil, err
	}
	e := status.NewEvent(payload.JobID, "ENQUEUED")
	e.Extra = map[string]interface{}{"user_id": userID, "title": title, "audience": audience}
	p.pub.PublishStatus(ctx, e)
	return payload, nil
}

/*
SendResume wakes a job parked at intake. The payload is rebuilt from the
intake context snapshot and the status table; if neither source yields cycle
metadata the resume fails synchronously instead of launching a job that would
lose its rewrite budget.
*/
func (p *Pipeline) SendResume(ctx context.Context, jobID, userID string) (*document.Payload, error) {
	payload := &document.Payload{JobID: jobID, UserID: userID}
	paths := p.paths(payload)

	if snapshot, err := p.loadIntakeContext(ctx, paths); err == nil {
		payload.Title = snapshot.Title
		payload.Audience = snapshot.Audience
		payload.Out = snapshot.Out
		payload.Cycles = snapshot.Cycles
		payload.ExpectedCycles = snapshot.ExpectedCycles
		payload.CyclesCompleted = snapshot.CyclesCompleted
		payload.CyclesRemaining = snapshot.CyclesRemaining
	} else {
		p.log.Warn("resume without intake context", "job_id", jobID, "error", err)
	}

	p.hydrator.Hydrate(ctx, payload)
	if payload.Cycles == nil && payload.ExpectedCycles == nil {
		return nil, fmt.Errorf("job %s has no cycle metadata; cannot resume", jobID)
	}
	p.hydrator.Ensure(ctx, payload)
	if payload.Out == "" {
		payload.Out = paths.Draft()
	}

	if err := p.pub.SendQueue(ctx, p.cfg.QueueIntakeResume, payload); err != nil {
		return nil, err
	}
	p.pub.PublishStageEvent(ctx, "INTAKE_RESUME", "QUEUED", payload, nil)
	return payload, nil
}
