package stores

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind describes the kind of a typed memory.
type Kind string

const (
	KindWorking     Kind = "working"
	KindEpisodic    Kind = "episodic"
	KindSemantic    Kind = "semantic"
	KindProcedural  Kind = "procedural"
	KindProspective Kind = "prospective"
	KindEmotional   Kind = "emotional"
)

// BaseMemory carries the fields shared by every typed memory.
// Timestamps are milliseconds since epoch; UpdatedAt is never behind CreatedAt.
type BaseMemory struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"type"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Base returns the memory's shared fields. All typed memories implement Memory.
func (b BaseMemory) Base() BaseMemory { return b }

// Memory is implemented by every typed memory value.
type Memory interface {
	Base() BaseMemory
}

// WorkingMemory is the single active scratch buffer for the current task.
// It is a register, not a list: a new Set overwrites the previous value, and
// the value is logically gone once ExpiresAt has passed.
type WorkingMemory struct {
	BaseMemory
	Content   string         `json:"content"`
	Context   map[string]any `json:"context,omitempty"`
	ExpiresAt int64          `json:"expires_at"`
}

// EpisodeContext is the structured what/when/why of an episode.
type EpisodeContext struct {
	What string `json:"what"`
	When string `json:"when"`
	Why  string `json:"why,omitempty"`
}

// EpisodicMemory records a single event. Append-only; never mutated after
// creation.
type EpisodicMemory struct {
	BaseMemory
	Event          string         `json:"event"`
	Timestamp      int64          `json:"timestamp"`
	Context        EpisodeContext `json:"context"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

// SemanticMemory is a durable fact.
type SemanticMemory struct {
	BaseMemory
	Fact       string  `json:"fact"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// ProceduralMemory is a learned trigger/action pattern. SuccessRate is the
// only post-creation mutable scalar across all memory kinds, updated as a
// running average by RecordUse.
type ProceduralMemory struct {
	BaseMemory
	Pattern     string  `json:"pattern"`
	Trigger     string  `json:"trigger"`
	Action      string  `json:"action"`
	SuccessRate float64 `json:"success_rate"`
	UseCount    int     `json:"use_count"`
}

// ProspectiveStatus is the lifecycle state of an intention.
type ProspectiveStatus string

const (
	StatusPending   ProspectiveStatus = "pending"
	StatusTriggered ProspectiveStatus = "triggered"
	StatusCompleted ProspectiveStatus = "completed"
)

// ProspectiveMemory is a deferred intention. Valid transitions are
// pending -> triggered -> completed, plus pending -> completed for manual
// completion. Completed is terminal.
type ProspectiveMemory struct {
	BaseMemory
	Intention      string            `json:"intention"`
	Status         ProspectiveStatus `json:"status"`
	Priority       float64           `json:"priority"`
	TriggerTime    int64             `json:"trigger_time,omitempty"`
	TriggerContext string            `json:"trigger_context,omitempty"`
}

// EmotionTag is the affective annotation attached to another memory.
type EmotionTag struct {
	Emotion   string  `json:"emotion"`
	Intensity float64 `json:"intensity"`
	Timestamp int64   `json:"timestamp"`
}

// EmotionalMemory tags another memory with an emotion. The target reference
// is weak: the referenced memory may be deleted independently.
type EmotionalMemory struct {
	BaseMemory
	TargetMemoryID   string     `json:"target_memory_id"`
	TargetMemoryKind Kind       `json:"target_memory_type"`
	Tag              EmotionTag `json:"tag"`
}

// NewID returns a fresh ULID for a memory.
func NewID() string { return ulid.Make().String() }

func nowMS() int64 { return time.Now().UnixMilli() }
