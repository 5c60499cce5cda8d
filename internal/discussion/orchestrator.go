// Package discussion implements the gateway's Discussion Orchestrator
// (component G): a fixed three-round propose -> review -> revise ->
// summarize state machine run across several provider backends, with
// partial-failure tolerance within a round and concurrent per-round
// provider execution.
package discussion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/gateway/internal/backend"
	"mercator-hq/gateway/internal/events"
	"mercator-hq/gateway/internal/gwerr"
	"mercator-hq/gateway/internal/model"
	"mercator-hq/gateway/internal/store"
)

// contentPreviewLen bounds the content preview published alongside a
// discussion_provider_completed event; never the full message.
const contentPreviewLen = 200

// Orchestrator owns the lifecycle of discussion sessions.
type Orchestrator struct {
	store    *store.Store
	backends *backend.Manager
	bus      *events.Bus
	log      *slog.Logger
}

// New builds an Orchestrator.
func New(st *store.Store, backends *backend.Manager, bus *events.Bus, log *slog.Logger) *Orchestrator {
	return &Orchestrator{store: st, backends: backends, bus: bus, log: log}
}

// StartDiscussion validates and persists a new session in status
// pending. providers is filtered down to those the gateway actually
// has a backend registered for; if fewer than cfg.MinProviders remain,
// the session is rejected rather than created.
func (o *Orchestrator) StartDiscussion(topic string, providers []string, cfg model.DiscussionConfig) (*model.DiscussionSession, error) {
	if cfg.ProviderTimeoutS <= 0 || cfg.MinProviders <= 0 {
		def := model.DefaultDiscussionConfig()
		if cfg.ProviderTimeoutS <= 0 {
			cfg.ProviderTimeoutS = def.ProviderTimeoutS
		}
		if cfg.MinProviders <= 0 {
			cfg.MinProviders = def.MinProviders
		}
	}

	resolved := o.expandProviderSpecs(providers, cfg)
	var available []string
	for _, p := range resolved {
		if _, _, err := o.backends.Get(p); err == nil {
			available = append(available, p)
		}
	}
	if len(available) < cfg.MinProviders {
		return nil, &gwerr.ValidationError{
			Field:   "providers",
			Message: fmt.Sprintf("need at least %d available providers, got %d", cfg.MinProviders, len(available)),
		}
	}

	session := model.NewDiscussionSession(store.NewSessionID(), topic, available, cfg)
	if err := o.store.CreateDiscussionSession(session); err != nil {
		return nil, err
	}

	o.publish(events.TypeDiscussionStarted, session.ID, map[string]any{
		"topic":     topic,
		"providers": available,
	})
	return session, nil
}

// RunFullDiscussion drives a pending session through all three rounds
// and summarization. Per-provider failures within a round are
// tolerated (the round completes with whatever subset succeeded);
// only summarization failure, or a session the orchestrator cannot
// load, is fatal.
func (o *Orchestrator) RunFullDiscussion(ctx context.Context, sessionID string) (*model.DiscussionSession, error) {
	session, err := o.store.GetDiscussionSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, &gwerr.NotFoundError{Kind: "discussion_session", ID: sessionID}
	}

	if _, err := o.executeRound(ctx, session, 1, model.MessageProposal); err != nil {
		return o.fail(session, err)
	}
	if _, err := o.executeRound(ctx, session, 2, model.MessageReview); err != nil {
		return o.fail(session, err)
	}
	if _, err := o.executeRound(ctx, session, 3, model.MessageRevision); err != nil {
		return o.fail(session, err)
	}

	if _, err := o.generateSummary(ctx, session); err != nil {
		return o.fail(session, err)
	}

	completed := model.DiscussionCompleted
	if err := o.store.UpdateDiscussionSession(sessionID, store.DiscussionSessionUpdate{Status: &completed}); err != nil {
		return nil, err
	}
	o.publish(events.TypeDiscussionCompleted, sessionID, map[string]any{"status": "completed"})

	return o.store.GetDiscussionSession(sessionID)
}

func (o *Orchestrator) fail(session *model.DiscussionSession, cause error) (*model.DiscussionSession, error) {
	failed := model.DiscussionFailed
	if err := o.store.UpdateDiscussionSession(session.ID, store.DiscussionSessionUpdate{Status: &failed}); err != nil {
		o.logError("mark session failed", session.ID, err)
	}
	o.publish(events.TypeDiscussionFailed, session.ID, map[string]any{"error": cause.Error()})
	return nil, cause
}

var roundStatus = map[int]model.DiscussionStatus{
	1: model.DiscussionRound1,
	2: model.DiscussionRound2,
	3: model.DiscussionRound3,
}

// executeRound runs one round for every eligible provider concurrently
// and returns the messages that actually completed. It returns an
// error only for a store failure updating the session itself — never
// for a per-provider backend failure, which is instead recorded on
// that provider's own message.
func (o *Orchestrator) executeRound(ctx context.Context, session *model.DiscussionSession, round int, kind model.MessageKind) ([]*model.DiscussionMessage, error) {
	status := roundStatus[round]
	if err := o.store.UpdateDiscussionSession(session.ID, store.DiscussionSessionUpdate{
		Status:       &status,
		CurrentRound: &round,
	}); err != nil {
		return nil, fmt.Errorf("discussion: update session for round %d: %w", round, err)
	}

	o.publish(events.TypeDiscussionRoundStarted, session.ID, map[string]any{
		"round":        round,
		"message_type": string(kind),
	})

	allMessages, err := o.store.GetDiscussionMessages(session.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("discussion: load prior messages: %w", err)
	}
	round1 := filterRound(allMessages, 1)
	round2 := filterRound(allMessages, 2)

	type job struct {
		provider string
		prompt   string
		message  *model.DiscussionMessage
	}
	var jobs []job

	for _, provider := range session.Providers {
		var prompt string
		switch round {
		case 1:
			prompt = buildProposalPrompt(session.Topic)
			if cont, ok := session.Metadata["continuation_prompt"].(string); ok && cont != "" {
				prompt = cont
			}
		case 2:
			others := otherCompleted(round1, provider)
			prompt = buildReviewPrompt(session.Topic, others)
		case 3:
			original := findByProvider(round1, provider)
			if original == nil {
				continue
			}
			feedback := otherCompleted(round2, provider)
			prompt = buildRevisionPrompt(session.Topic, original, feedback)
		}

		msg := model.NewDiscussionMessage(store.NewMessageID(), session.ID, round, provider, kind)
		if err := o.store.CreateDiscussionMessage(msg); err != nil {
			o.logError("create discussion message", session.ID, err)
			continue
		}
		jobs = append(jobs, job{provider: provider, prompt: prompt, message: msg})
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var completed []*model.DiscussionMessage
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			o.publish(events.TypeDiscussionProviderStarted, session.ID, map[string]any{
				"provider": j.provider,
				"round":    round,
			})
			result := o.executeProvider(ctx, session, j.message, j.prompt, j.provider)
			if result.Status == model.MessageCompleted {
				mu.Lock()
				completed = append(completed, result)
				mu.Unlock()
			}
		}(j)
	}
	wg.Wait()

	successful := make([]string, 0, len(completed))
	for _, m := range completed {
		successful = append(successful, m.Provider)
	}
	o.publish(events.TypeDiscussionRoundCompleted, session.ID, map[string]any{
		"round":               round,
		"successful_providers": successful,
	})

	return completed, nil
}

// executeProvider runs one provider's call for one message, under a
// per-provider timeout, and persists the outcome. It never returns an
// error: every outcome (success, backend failure, timeout) is
// recorded on the message and tolerated by the caller.
func (o *Orchestrator) executeProvider(ctx context.Context, session *model.DiscussionSession, message *model.DiscussionMessage, prompt, provider string) *model.DiscussionMessage {
	b, _, err := o.backends.Get(provider)
	if err != nil {
		o.markMessage(message, model.MessageFailed, nil, 0)
		message.Status = model.MessageFailed
		return message
	}

	timeout := time.Duration(session.Config.ProviderTimeoutS * float64(time.Second))
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := b.Execute(execCtx, prompt)
	latencyMs := float64(time.Since(start).Milliseconds())

	if execCtx.Err() == context.DeadlineExceeded {
		o.markMessage(message, model.MessageTimeout, nil, latencyMs)
		message.Status = model.MessageTimeout
		message.LatencyMs = &latencyMs
		return message
	}
	if !result.Success {
		o.markMessage(message, model.MessageFailed, nil, latencyMs)
		message.Status = model.MessageFailed
		message.LatencyMs = &latencyMs
		return message
	}

	response := result.Response
	o.markMessage(message, model.MessageCompleted, &response, latencyMs)
	message.Content = &response
	message.Status = model.MessageCompleted
	message.LatencyMs = &latencyMs

	preview := previewChars(response, contentPreviewLen)
	o.publish(events.TypeDiscussionProviderCompleted, session.ID, map[string]any{
		"provider":   provider,
		"round":      message.RoundNumber,
		"latency_ms": latencyMs,
		"preview":    preview,
		"length":     len(response),
	})
	return message
}

func (o *Orchestrator) markMessage(message *model.DiscussionMessage, status model.MessageStatus, content *string, latencyMs float64) {
	upd := store.DiscussionMessageUpdate{Status: &status, Content: content}
	if latencyMs > 0 {
		upd.LatencyMs = &latencyMs
	}
	if err := o.store.UpdateDiscussionMessage(message.ID, upd); err != nil {
		o.logError("update discussion message", message.ID, err)
	}
}

// generateSummary concatenates every completed message and asks a
// single backend to synthesize it. Summarization failure is fatal to
// the session.
func (o *Orchestrator) generateSummary(ctx context.Context, session *model.DiscussionSession) (string, error) {
	summarizing := model.DiscussionSummarizing
	if err := o.store.UpdateDiscussionSession(session.ID, store.DiscussionSessionUpdate{Status: &summarizing}); err != nil {
		return "", fmt.Errorf("discussion: mark summarizing: %w", err)
	}
	o.publish(events.TypeDiscussionSummarizing, session.ID, nil)

	allMessages, err := o.store.GetDiscussionMessages(session.ID, nil)
	if err != nil {
		return "", fmt.Errorf("discussion: load messages for summary: %w", err)
	}
	completedMessages := make([]*model.DiscussionMessage, 0, len(allMessages))
	for _, m := range allMessages {
		if m.Status == model.MessageCompleted {
			completedMessages = append(completedMessages, m)
		}
	}
	prompt := buildSummaryPrompt(session, completedMessages)

	summaryProvider := session.Config.SummaryProvider
	if summaryProvider == "" || !o.isConfiguredFor(session, summaryProvider) {
		if len(session.Providers) == 0 {
			return "", fmt.Errorf("discussion: no providers available for summary")
		}
		summaryProvider = session.Providers[0]
	}

	b, _, err := o.backends.Get(summaryProvider)
	if err != nil {
		return "", fmt.Errorf("discussion: no backend available for summary provider %q: %w", summaryProvider, err)
	}

	timeout := time.Duration(session.Config.ProviderTimeoutS * 2 * float64(time.Second))
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := b.Execute(execCtx, prompt)
	if !result.Success {
		return "", fmt.Errorf("discussion: summary generation failed: %s", result.Error)
	}

	summary := result.Response
	if err := o.store.UpdateDiscussionSession(session.ID, store.DiscussionSessionUpdate{Summary: &summary}); err != nil {
		return "", fmt.Errorf("discussion: save summary: %w", err)
	}

	summaryMsg := model.NewDiscussionMessage(store.NewMessageID(), session.ID, 0, summaryProvider, model.MessageSummary)
	summaryMsg.Content = &summary
	summaryMsg.Status = model.MessageCompleted
	if err := o.store.CreateDiscussionMessage(summaryMsg); err != nil {
		o.logError("create summary message", session.ID, err)
	}

	o.publish(events.TypeDiscussionSummaryCompleted, session.ID, map[string]any{
		"summary_provider": summaryProvider,
	})
	return summary, nil
}

func (o *Orchestrator) isConfiguredFor(session *model.DiscussionSession, provider string) bool {
	for _, p := range session.Providers {
		if p == provider {
			return true
		}
	}
	return false
}

// CancelDiscussion moves a non-terminal session to cancelled. Returns
// false if the session is unknown or already terminal.
func (o *Orchestrator) CancelDiscussion(sessionID string) (bool, error) {
	session, err := o.store.GetDiscussionSession(sessionID)
	if err != nil {
		return false, err
	}
	if session == nil || session.Status.IsTerminal() {
		return false, nil
	}

	cancelled := model.DiscussionCancelled
	if err := o.store.UpdateDiscussionSession(sessionID, store.DiscussionSessionUpdate{Status: &cancelled}); err != nil {
		return false, err
	}
	o.publish(events.TypeDiscussionCancelled, sessionID, nil)
	return true, nil
}

// ContinueDiscussion creates a new pending session whose opening
// prompt is seeded from a completed parent's summary and its
// providers' completed round-3 positions (their completed round-1
// positions instead when the parent has no round-3 messages at all),
// linked by ParentSessionID. The parent must be completed.
func (o *Orchestrator) ContinueDiscussion(parentID string, providers []string, cfg model.DiscussionConfig) (*model.DiscussionSession, error) {
	parent, err := o.store.GetDiscussionSession(parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, &gwerr.NotFoundError{Kind: "discussion_session", ID: parentID}
	}
	if parent.Status != model.DiscussionCompleted {
		return nil, &gwerr.ValidationError{Field: "parent_session_id", Message: "parent session is not completed"}
	}

	if len(providers) == 0 {
		providers = parent.Providers
	}
	if cfg.ProviderTimeoutS <= 0 || cfg.MinProviders <= 0 {
		def := model.DefaultDiscussionConfig()
		if cfg.ProviderTimeoutS <= 0 {
			cfg.ProviderTimeoutS = def.ProviderTimeoutS
		}
		if cfg.MinProviders <= 0 {
			cfg.MinProviders = def.MinProviders
		}
	}

	resolved := o.expandProviderSpecs(providers, cfg)
	var available []string
	for _, p := range resolved {
		if _, _, err := o.backends.Get(p); err == nil {
			available = append(available, p)
		}
	}
	if len(available) < cfg.MinProviders {
		return nil, &gwerr.ValidationError{
			Field:   "providers",
			Message: fmt.Sprintf("need at least %d available providers, got %d", cfg.MinProviders, len(available)),
		}
	}

	parentMessages, err := o.store.GetDiscussionMessages(parentID, nil)
	if err != nil {
		return nil, fmt.Errorf("discussion: load parent messages: %w", err)
	}
	seedRound := filterRound(parentMessages, 3)
	if len(seedRound) == 0 {
		seedRound = filterRound(parentMessages, 1)
	}
	completedSeed := make([]*model.DiscussionMessage, 0, len(seedRound))
	for _, m := range seedRound {
		if m.Status == model.MessageCompleted {
			completedSeed = append(completedSeed, m)
		}
	}

	session := model.NewDiscussionSession(store.NewSessionID(), parent.Topic, available, cfg)
	session.ParentSessionID = &parentID
	session.Metadata = map[string]any{
		"continuation_prompt": buildContinuationPrompt(parent, completedSeed),
	}
	if err := o.store.CreateDiscussionSession(session); err != nil {
		return nil, err
	}

	o.publish(events.TypeDiscussionContinued, session.ID, map[string]any{"parent_session_id": parentID})
	return session, nil
}

func (o *Orchestrator) publish(eventType, sessionID string, data map[string]any) {
	if o.bus == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["session_id"] = sessionID
	o.bus.Publish(eventType, data)
}

func (o *Orchestrator) logError(op, id string, err error) {
	if o.log == nil {
		return
	}
	o.log.Error(fmt.Sprintf("discussion: %s failed", op), "id", id, "error", err)
}

func filterRound(messages []*model.DiscussionMessage, round int) []*model.DiscussionMessage {
	out := make([]*model.DiscussionMessage, 0, len(messages))
	for _, m := range messages {
		if m.RoundNumber == round {
			out = append(out, m)
		}
	}
	return out
}

func findByProvider(messages []*model.DiscussionMessage, provider string) *model.DiscussionMessage {
	for _, m := range messages {
		if m.Provider == provider {
			return m
		}
	}
	return nil
}

// otherCompleted returns every completed message in round not
// belonging to provider, matching spec.md's "omit ones that failed"
// instruction for inlining sibling context into a later round's
// prompt.
func otherCompleted(round []*model.DiscussionMessage, provider string) []*model.DiscussionMessage {
	out := make([]*model.DiscussionMessage, 0, len(round))
	for _, m := range round {
		if m.Provider != provider && m.Status == model.MessageCompleted {
			out = append(out, m)
		}
	}
	return out
}

func previewChars(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
