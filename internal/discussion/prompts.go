package discussion

import (
	"fmt"
	"strings"

	"mercator-hq/gateway/internal/model"
)

// buildProposalPrompt is round 1's fixed template, parameterized only
// by the topic. Every provider receives the same prompt.
func buildProposalPrompt(topic string) string {
	return fmt.Sprintf(`You are participating in a multi-AI collaborative discussion.

**Topic**: %s

**Your Role**: Provide your initial proposal or analysis on this topic.

**Instructions**:
1. Analyze the topic thoroughly
2. Present your perspective, approach, or solution
3. Be specific and actionable
4. Consider potential challenges and trade-offs
5. Keep your response focused and well-structured

Please provide your proposal:`, topic)
}

// buildReviewPrompt is round 2's template, inlining every other
// provider's round-1 content (providers that produced no round-1
// content are simply absent from proposals).
func buildReviewPrompt(topic string, proposals []*model.DiscussionMessage) string {
	var b strings.Builder
	for _, m := range proposals {
		fmt.Fprintf(&b, "\n### Proposal from %s:\n%s\n", m.Provider, contentOf(m))
	}

	return fmt.Sprintf(`You are participating in a multi-AI collaborative discussion.

**Topic**: %s

**Your Role**: Review and provide feedback on the proposals from other AI participants.

**Other Proposals**:
%s

**Instructions**:
1. Analyze each proposal's strengths and weaknesses
2. Identify areas of agreement and disagreement
3. Suggest improvements or alternatives
4. Point out any missing considerations
5. Be constructive and specific in your feedback

Please provide your review:`, topic, b.String())
}

// buildRevisionPrompt is round 3's template: a provider's own round-1
// content plus every other provider's round-2 feedback.
func buildRevisionPrompt(topic string, original *model.DiscussionMessage, feedback []*model.DiscussionMessage) string {
	var b strings.Builder
	for _, m := range feedback {
		fmt.Fprintf(&b, "\n### Feedback from %s:\n%s\n", m.Provider, contentOf(m))
	}

	return fmt.Sprintf(`You are participating in a multi-AI collaborative discussion.

**Topic**: %s

**Your Role**: Revise your original proposal based on the feedback received.

**Your Original Proposal**:
%s

**Feedback Received**:
%s

**Instructions**:
1. Consider all feedback carefully
2. Incorporate valid suggestions
3. Address concerns raised by others
4. Explain any changes you made
5. Present your revised proposal clearly

Please provide your revised proposal:`, topic, contentOf(original), b.String())
}

// buildSummaryPrompt concatenates every completed message grouped by
// round, then by provider, for the single backend asked to synthesize
// the discussion.
func buildSummaryPrompt(session *model.DiscussionSession, messages []*model.DiscussionMessage) string {
	byRound := map[int][]*model.DiscussionMessage{}
	for _, m := range messages {
		byRound[m.RoundNumber] = append(byRound[m.RoundNumber], m)
	}

	var b strings.Builder
	b.WriteString("## Round 1: Initial Proposals\n")
	for _, m := range byRound[1] {
		fmt.Fprintf(&b, "\n### %s:\n%s\n", m.Provider, contentOf(m))
	}
	if len(byRound[2]) > 0 {
		b.WriteString("\n## Round 2: Reviews and Feedback\n")
		for _, m := range byRound[2] {
			fmt.Fprintf(&b, "\n### %s:\n%s\n", m.Provider, contentOf(m))
		}
	}
	if len(byRound[3]) > 0 {
		b.WriteString("\n## Round 3: Revised Proposals\n")
		for _, m := range byRound[3] {
			fmt.Fprintf(&b, "\n### %s:\n%s\n", m.Provider, contentOf(m))
		}
	}

	return fmt.Sprintf(`You are the orchestrator of a multi-AI collaborative discussion.

**Topic**: %s

**Participants**: %s

**Full Discussion**:
%s

**Your Task**: Synthesize the discussion and provide a comprehensive summary.

**Instructions**:
1. Identify key points of consensus among participants
2. Highlight areas of disagreement and different perspectives
3. Extract the most valuable insights and recommendations
4. Provide a clear, actionable conclusion
5. Note any unresolved questions or areas needing further exploration

Please provide your summary:`, session.Topic, strings.Join(session.Providers, ", "), b.String())
}

// buildContinuationPrompt composes a new discussion's opening prompt
// from a completed parent session: its final summary plus the
// providers' round-3 (or, absent that, round-1) positions.
func buildContinuationPrompt(parent *model.DiscussionSession, roundN []*model.DiscussionMessage) string {
	var b strings.Builder
	for _, m := range roundN {
		fmt.Fprintf(&b, "\n### %s's prior position:\n%s\n", m.Provider, contentOf(m))
	}

	summary := ""
	if parent.Summary != nil {
		summary = *parent.Summary
	}

	return fmt.Sprintf(`This discussion continues an earlier one on the same topic.

**Original Topic**: %s

**Prior Summary**:
%s

**Prior Positions**:
%s

Continue the discussion, building on what was already established above.`, parent.Topic, summary, b.String())
}

func contentOf(m *model.DiscussionMessage) string {
	if m == nil || m.Content == nil {
		return ""
	}
	return *m.Content
}
