package model

import "time"

// DiscussionStatus is a session's state machine position.
type DiscussionStatus string

const (
	DiscussionPending     DiscussionStatus = "pending"
	DiscussionRound1      DiscussionStatus = "round_1"
	DiscussionRound2      DiscussionStatus = "round_2"
	DiscussionRound3      DiscussionStatus = "round_3"
	DiscussionSummarizing DiscussionStatus = "summarizing"
	DiscussionCompleted   DiscussionStatus = "completed"
	DiscussionFailed      DiscussionStatus = "failed"
	DiscussionCancelled   DiscussionStatus = "cancelled"
)

// IsTerminal reports whether no further round may run for a session in
// this status.
func (s DiscussionStatus) IsTerminal() bool {
	switch s {
	case DiscussionCompleted, DiscussionFailed, DiscussionCancelled:
		return true
	default:
		return false
	}
}

// MessageKind is the role a DiscussionMessage plays within its round.
type MessageKind string

const (
	MessageProposal MessageKind = "proposal"
	MessageReview   MessageKind = "review"
	MessageRevision MessageKind = "revision"
	MessageSummary  MessageKind = "summary"
)

// MessageStatus is a discussion message's own lifecycle, independent
// of the session's.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageCompleted MessageStatus = "completed"
	MessageFailed    MessageStatus = "failed"
	MessageTimeout   MessageStatus = "timeout"
)

// DiscussionConfig holds the per-session tunables referenced by
// spec.md §4.G: per-provider call timeout, and an optional override of
// which provider writes the final summary.
type DiscussionConfig struct {
	ProviderTimeoutS float64
	SummaryProvider  string
	MinProviders     int

	// ProviderGroups overrides the built-in "@fast"/"@coding" alias
	// classifications. Nil falls back to the built-ins; "all" is
	// always the live set of registered providers regardless of this
	// setting.
	ProviderGroups map[string][]string
}

// DefaultDiscussionConfig mirrors original_source's DiscussionConfig
// defaults (60s provider timeout, minimum 2 providers).
func DefaultDiscussionConfig() DiscussionConfig {
	return DiscussionConfig{
		ProviderTimeoutS: 60,
		MinProviders:     2,
	}
}

// DiscussionSession is one multi-round collaborative discussion.
type DiscussionSession struct {
	ID              string
	Topic           string
	Providers       []string
	Config          DiscussionConfig
	Status          DiscussionStatus
	CurrentRound    int
	Summary         *string
	ParentSessionID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Metadata        map[string]any
}

// NewDiscussionSession builds a session in status pending, current
// round 0.
func NewDiscussionSession(id, topic string, providers []string, cfg DiscussionConfig) *DiscussionSession {
	now := time.Now()
	return &DiscussionSession{
		ID:        id,
		Topic:     topic,
		Providers: providers,
		Config:    cfg,
		Status:    DiscussionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DiscussionMessage is one provider's contribution within one round of
// one session. Round 0 is reserved for the synthesized summary.
type DiscussionMessage struct {
	ID           string
	SessionID    string
	RoundNumber  int
	Provider     string
	Kind         MessageKind
	Content      *string
	References   []string
	Status       MessageStatus
	LatencyMs    *float64
	CreatedAt    time.Time
	Metadata     map[string]any
}

// NewDiscussionMessage builds a placeholder message in status pending,
// to be filled in once its backend call completes.
func NewDiscussionMessage(id, sessionID string, round int, provider string, kind MessageKind) *DiscussionMessage {
	return &DiscussionMessage{
		ID:          id,
		SessionID:   sessionID,
		RoundNumber: round,
		Provider:    provider,
		Kind:        kind,
		Status:      MessagePending,
		CreatedAt:   time.Now(),
	}
}
