// Package domain holds the core entities shared across sentinel's
// components: the pure data the pipeline carries from scrape through
// classification, alerting, and persistence.
package domain

import "time"

// ItemKind distinguishes a top-level post from a reply.
type ItemKind string

const (
	KindPost    ItemKind = "post"
	KindComment ItemKind = "comment"
)

// RawItem is a single post or comment as fetched from a ContentSource.
type RawItem struct {
	ID           string    `json:"id"`
	Kind         ItemKind  `json:"kind"`
	ParentID     string    `json:"parent_id,omitempty"`
	Author       string    `json:"author,omitempty"`
	Subreddit    string    `json:"subreddit"`
	CreatedAt    time.Time `json:"created_at"`
	Title        string    `json:"title,omitempty"`
	Body         string    `json:"body"`
	Score        *int      `json:"score,omitempty"`
	UpvoteRatio  *float64  `json:"upvote_ratio,omitempty"`
}

// NormalizedItem is a RawItem with its text collapsed and hashed for
// dedup. TextHash is the basis for Result Store upsert keys.
type NormalizedItem struct {
	RawItem
	Text     string `json:"text"`
	TextHash string `json:"text_hash"`
}

// Label is the coarse sentiment bucket assigned to a piece of text.
type Label string

const (
	LabelPositive Label = "positive"
	LabelNegative Label = "negative"
	LabelNeutral  Label = "neutral"
)

// VerdictSource distinguishes the learned model path from the lexicon
// fallback path.
type VerdictSource string

const (
	SourceModel    VerdictSource = "model"
	SourceFallback VerdictSource = "fallback"
)

// SentimentVerdict is the outcome of classifying one text, regardless of
// which backend produced it.
type SentimentVerdict struct {
	Label      Label         `json:"label"`
	Confidence float64       `json:"confidence"`
	Compound   float64       `json:"compound"`
	Model      string        `json:"model"`
	Source     VerdictSource `json:"source"`
	LatencyMs  int64         `json:"latency_ms"`
}

// Classification pairs a NormalizedItem with the verdict produced for it.
type Classification struct {
	NormalizedItem
	SentimentVerdict
	StoredAt time.Time `json:"stored_at"`
}

// AlertKind names the rule category that fired.
type AlertKind string

const (
	AlertMentalHealth AlertKind = "mental_health"
	AlertStress       AlertKind = "stress"
	AlertAcademic     AlertKind = "academic"
	AlertHarassment   AlertKind = "harassment"
)

// Severity ranks how urgent an Alert is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AlertStatus tracks external triage of an Alert. It is the only mutable
// field on the entity.
type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertReviewed AlertStatus = "reviewed"
	AlertResolved AlertStatus = "resolved"
)

// Alert is raised by the Alert Evaluator when a Classification matches a
// risk rule.
type Alert struct {
	ID              string      `json:"id"`
	ContentID       string      `json:"content_id"`
	Kind            AlertKind   `json:"kind"`
	Severity        Severity    `json:"severity"`
	KeywordsMatched []string    `json:"keywords_matched"`
	CreatedAt       time.Time   `json:"created_at"`
	Status          AlertStatus `json:"status"`
}

// TaskType enumerates the stages a Task can represent, plus the
// pipeline itself.
type TaskType string

const (
	TaskScrape   TaskType = "scrape"
	TaskProcess  TaskType = "process"
	TaskClean    TaskType = "clean"
	TaskPersist  TaskType = "persist"
	TaskPipeline TaskType = "pipeline"
)

// TaskState is the lifecycle state of a Task. Transitions are monotonic:
// pending -> running -> (succeeded | failed | cancelled). No transition
// leaves a terminal state.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// IsTerminal reports whether state has no further transitions.
func (s TaskState) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

// Task is one unit of pipeline work: a stage, or the pipeline record that
// owns a sequence of stage Tasks.
type Task struct {
	ID         string     `json:"id"`
	Type       TaskType   `json:"type"`
	State      TaskState  `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Progress   int        `json:"progress"`
	ParentID   string     `json:"parent_id,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Pipeline is a Task of type TaskPipeline, annotated with the child Tasks
// representing its enabled stages in execution order.
type Pipeline struct {
	Task
	Stages []Task `json:"stages"`
}

// SortKind selects how a ContentSource orders the posts it returns.
type SortKind string

const (
	SortHot    SortKind = "hot"
	SortNew    SortKind = "new"
	SortTop    SortKind = "top"
	SortRising SortKind = "rising"
)

// TimeWindow bounds a "top"-sorted fetch.
type TimeWindow string

const (
	WindowDay   TimeWindow = "day"
	WindowWeek  TimeWindow = "week"
	WindowMonth TimeWindow = "month"
	WindowYear  TimeWindow = "year"
	WindowAll   TimeWindow = "all"
)

// SourceParams parameterizes a ContentSource fetch.
type SourceParams struct {
	Subreddit           string     `json:"subreddit"`
	PostLimit           int        `json:"post_limit"`
	CommentLimitPerPost int        `json:"comment_limit_per_post"`
	Sort                SortKind   `json:"sort"`
	TimeWindow          TimeWindow `json:"time_window"`
	Query               string     `json:"query,omitempty"`
}

// Stage names one step of a PipelineRequest.
type Stage string

const (
	StageScrape  Stage = "scrape"
	StageProcess Stage = "process"
	StageClean   Stage = "clean"
	StagePersist Stage = "persist"
)

// PipelineRequest is the input to the Pipeline Orchestrator, whether
// submitted via HTTP or by the Scheduler.
type PipelineRequest struct {
	SourceParams SourceParams `json:"source_params"`
	Stages       []Stage      `json:"stages"`
	EnableAlerts bool         `json:"enable_alerts"`
}

// CircuitPhase is the Failsafe Dispatcher's circuit breaker state.
type CircuitPhase string

const (
	PhaseClosed   CircuitPhase = "closed"
	PhaseOpen     CircuitPhase = "open"
	PhaseHalfOpen CircuitPhase = "half_open"
)

// Summary is the Result Store's analytics response for a time window.
type Summary struct {
	LabelCounts   map[Label]int                  `json:"label_counts"`
	SourceCounts  map[VerdictSource]int           `json:"source_counts"`
	AvgLatencyMs  float64                         `json:"avg_latency_ms"`
	AlertCounts   map[AlertKind]map[Severity]int  `json:"alert_counts"`
}
