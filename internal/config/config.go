package config

import (
	"time"

	"github.com/yungbote/docwriter-backend/internal/platform/envutil"
)

/*
Settings is the full runtime configuration, read once from the environment at
process start and injected by value. Defaults match the deployment manifests;
every field can be overridden with the env var named next to it.
*/
type Settings struct {
	Env  string // APP_ENV: dev|prod
	Port string // PORT

	// Model selection
	PlannerModel       string
	ReviewerModel      string
	WriterModel        string
	DefaultLengthPages int

	// OpenAI-compatible endpoint
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// Broker (redis)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Queue names
	QueuePlanIntake     string
	QueueIntakeResume   string
	QueuePlan           string
	QueueWrite          string
	QueueReviewGeneral  string
	QueueReviewStyle    string
	QueueReviewCohesion string
	QueueReviewSummary  string
	QueueVerify         string
	QueueRewrite        string
	QueueDiagramPrep    string
	QueueDiagramRender  string
	QueueFinalizeReady  string

	// Status topic: primary channel plus ordered fallbacks.
	StatusTopic         string
	StatusTopicFallback string

	LockRenew      time.Duration // visibility lock renewal ceiling
	RequestTimeout time.Duration // per LLM call

	WriteBatchSize          int
	ReviewBatchSize         int
	ReviewStyleBatchSize    int
	ReviewCohesionBatchSize int
	ReviewSummaryBatchSize  int
	ReviewMaxPromptTokens   int
	ReviewStyleEnabled      bool
	ReviewCohesionEnabled   bool
	ReviewSummaryEnabled    bool

	MaxSectionTokens int
	Streaming        bool

	// Object store (GCS)
	BlobBucket string

	// Status table (postgres)
	DatabaseURL        string
	StatusTableName    string
	DocumentsTableName string

	// Diagram renderer
	PlantUMLServerURL string

	// API auth
	JWTSecret string

	// Exporters (optional external converters; empty disables the format)
	PDFExporterURL  string
	DocxExporterURL string
}

func FromEnv() Settings {
	return Settings{
		Env:  envutil.Str("APP_ENV", "dev"),
		Port: envutil.Str("PORT", "8080"),

		PlannerModel:       envutil.Str("DOCWRITER_PLANNER_MODEL", "gpt-5.2"),
		ReviewerModel:      envutil.Str("DOCWRITER_REVIEWER_MODEL", "gpt-5.2"),
		WriterModel:        envutil.Str("DOCWRITER_WRITER_MODEL", "gpt-5.2"),
		DefaultLengthPages: envutil.Int("DOCWRITER_DEFAULT_LENGTH_PAGES", 80),

		OpenAIAPIKey:  envutil.Str("OPENAI_API_KEY", ""),
		OpenAIBaseURL: envutil.Str("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		RedisAddr:     envutil.Str("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envutil.Str("REDIS_PASSWORD", ""),
		RedisDB:       envutil.Int("REDIS_DB", 0),

		QueuePlanIntake:     envutil.Str("DOCWRITER_QUEUE_PLAN_INTAKE", "plan_intake"),
		QueueIntakeResume:   envutil.Str("DOCWRITER_QUEUE_INTAKE_RESUME", "intake_resume"),
		QueuePlan:           envutil.Str("DOCWRITER_QUEUE_PLAN", "plan"),
		QueueWrite:          envutil.Str("DOCWRITER_QUEUE_WRITE", "write"),
		QueueReviewGeneral:  envutil.Str("DOCWRITER_QUEUE_REVIEW_GENERAL", "review_general"),
		QueueReviewStyle:    envutil.Str("DOCWRITER_QUEUE_REVIEW_STYLE", "review_style"),
		QueueReviewCohesion: envutil.Str("DOCWRITER_QUEUE_REVIEW_COHESION", "review_cohesion"),
		QueueReviewSummary:  envutil.Str("DOCWRITER_QUEUE_REVIEW_SUMMARY", "review_summary"),
		QueueVerify:         envutil.Str("DOCWRITER_QUEUE_VERIFY", "verify"),
		QueueRewrite:        envutil.Str("DOCWRITER_QUEUE_REWRITE", "rewrite"),
		QueueDiagramPrep:    envutil.Str("DOCWRITER_QUEUE_DIAGRAM_PREP", "diagram_prep"),
		QueueDiagramRender:  envutil.Str("DOCWRITER_QUEUE_DIAGRAM_RENDER", "diagram_render"),
		QueueFinalizeReady:  envutil.Str("DOCWRITER_QUEUE_FINALIZE_READY", "finalize_ready"),

		StatusTopic:         envutil.Str("DOCWRITER_STATUS_TOPIC", "aidocwriter-status"),
		StatusTopicFallback: envutil.Str("DOCWRITER_STATUS_TOPIC_FALLBACK", "docwriter-status"),

		LockRenew:      envutil.Dur("DOCWRITER_LOCK_RENEW_S", 900*time.Second),
		RequestTimeout: envutil.Dur("DOCWRITER_REQUEST_TIMEOUT_S", 120*time.Second),

		WriteBatchSize:          envutil.Int("DOCWRITER_WRITE_BATCH_SIZE", 5),
		ReviewBatchSize:         envutil.Int("DOCWRITER_REVIEW_BATCH_SIZE", 3),
		ReviewStyleBatchSize:    envutil.Int("DOCWRITER_REVIEW_STYLE_BATCH_SIZE", 5),
		ReviewCohesionBatchSize: envutil.Int("DOCWRITER_REVIEW_COHESION_BATCH_SIZE", 5),
		ReviewSummaryBatchSize:  envutil.Int("DOCWRITER_REVIEW_SUMMARY_BATCH_SIZE", 5),
		ReviewMaxPromptTokens:   envutil.Int("DOCWRITER_REVIEW_MAX_PROMPT_TOKENS", 15000),
		ReviewStyleEnabled:      envutil.Bool("DOCWRITER_REVIEW_STYLE_ENABLED", true),
		ReviewCohesionEnabled:   envutil.Bool("DOCWRITER_REVIEW_COHESION_ENABLED", true),
		ReviewSummaryEnabled:    envutil.Bool("DOCWRITER_REVIEW_SUMMARY_ENABLED", true),

		MaxSectionTokens: envutil.Int("DOCWRITER_MAX_SECTION_TOKENS", 2500),
		Streaming:        envutil.Bool("DOCWRITER_STREAM", false),

		BlobBucket: envutil.Str("GCS_BUCKET", "docwriter"),

		DatabaseURL:        envutil.Str("DATABASE_URL", ""),
		StatusTableName:    envutil.Str("DOCWRITER_STATUS_TABLE", "status_entries"),
		DocumentsTableName: envutil.Str("DOCWRITER_DOCUMENTS_TABLE", "document_entries"),

		PlantUMLServerURL: envutil.Str("PLANTUML_SERVER_URL", "http://localhost:8080/plantuml"),

		JWTSecret: envutil.Str("JWT_SECRET", ""),

		PDFExporterURL:  envutil.Str("DOCWRITER_PDF_EXPORTER_URL", ""),
		DocxExporterURL: envutil.Str("DOCWRITER_DOCX_EXPORTER_URL", ""),
	}
}

// StatusTopics returns the publish channels in preference order, primary
// first, dropping empties and duplicates.
func (s Settings) StatusTopics() []string {
	out := make([]string, 0, 2)
	seen := map[string]bool{}
	for _, name := range []string{s.StatusTopic, s.StatusTopicFallback} {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
