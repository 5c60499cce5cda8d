package store

import (
	"testing"

	"mercator-hq/gateway/internal/model"
)

func TestCreateAndGetDiscussionSession(t *testing.T) {
	s := newTestStore(t)

	d := model.NewDiscussionSession("sess-1", "how should we cache this", []string{"claude", "gpt"}, model.DefaultDiscussionConfig())
	if err := s.CreateDiscussionSession(d); err != nil {
		t.Fatalf("CreateDiscussionSession failed: %v", err)
	}

	got, err := s.GetDiscussionSession("sess-1")
	if err != nil {
		t.Fatalf("GetDiscussionSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.Topic != d.Topic || len(got.Providers) != 2 {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.Status != model.DiscussionPending {
		t.Errorf("expected pending status, got %q", got.Status)
	}
}

func TestUpdateDiscussionSessionPartial(t *testing.T) {
	s := newTestStore(t)
	d := model.NewDiscussionSession("sess-2", "topic", []string{"claude"}, model.DefaultDiscussionConfig())
	s.CreateDiscussionSession(d)

	round2 := model.DiscussionRound2
	currentRound := 2
	if err := s.UpdateDiscussionSession("sess-2", DiscussionSessionUpdate{
		Status:       &round2,
		CurrentRound: &currentRound,
	}); err != nil {
		t.Fatalf("UpdateDiscussionSession failed: %v", err)
	}

	got, _ := s.GetDiscussionSession("sess-2")
	if got.Status != model.DiscussionRound2 || got.CurrentRound != 2 {
		t.Errorf("expected round_2/2, got %q/%d", got.Status, got.CurrentRound)
	}

	summary := "final synthesis"
	if err := s.UpdateDiscussionSession("sess-2", DiscussionSessionUpdate{Summary: &summary}); err != nil {
		t.Fatalf("UpdateDiscussionSession (summary) failed: %v", err)
	}
	got, _ = s.GetDiscussionSession("sess-2")
	if got.Summary == nil || *got.Summary != summary {
		t.Errorf("expected summary to be set, got %+v", got.Summary)
	}
	// status/round from the prior partial update must survive an
	// unrelated partial update.
	if got.Status != model.DiscussionRound2 || got.CurrentRound != 2 {
		t.Errorf("expected status/round to be preserved, got %q/%d", got.Status, got.CurrentRound)
	}
}

func TestUpdateDiscussionSessionNoOpWhenAllNil(t *testing.T) {
	s := newTestStore(t)
	d := model.NewDiscussionSession("sess-3", "topic", []string{"claude"}, model.DefaultDiscussionConfig())
	s.CreateDiscussionSession(d)

	if err := s.UpdateDiscussionSession("sess-3", DiscussionSessionUpdate{}); err != nil {
		t.Errorf("expected all-nil update to be a no-op, got: %v", err)
	}
}

func TestListDiscussionSessionsFiltersByStatus(t *testing.T) {
	s := newTestStore(t)
	d1 := model.NewDiscussionSession("sess-a", "t1", []string{"claude"}, model.DefaultDiscussionConfig())
	d2 := model.NewDiscussionSession("sess-b", "t2", []string{"claude"}, model.DefaultDiscussionConfig())
	s.CreateDiscussionSession(d1)
	s.CreateDiscussionSession(d2)

	completed := model.DiscussionCompleted
	s.UpdateDiscussionSession("sess-b", DiscussionSessionUpdate{Status: &completed})

	list, err := s.ListDiscussionSessions(&completed, 10, 0)
	if err != nil {
		t.Fatalf("ListDiscussionSessions failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != "sess-b" {
		t.Errorf("expected only sess-b, got %+v", list)
	}
}

func TestDeleteDiscussionSessionRemovesMessages(t *testing.T) {
	s := newTestStore(t)
	d := model.NewDiscussionSession("sess-del", "topic", []string{"claude"}, model.DefaultDiscussionConfig())
	s.CreateDiscussionSession(d)

	msg := model.NewDiscussionMessage("msg-1", "sess-del", 1, "claude", model.MessageProposal)
	s.CreateDiscussionMessage(msg)

	if err := s.DeleteDiscussionSession("sess-del"); err != nil {
		t.Fatalf("DeleteDiscussionSession failed: %v", err)
	}
	got, _ := s.GetDiscussionSession("sess-del")
	if got != nil {
		t.Error("expected session to be gone after delete")
	}
	msgs, err := s.GetDiscussionMessages("sess-del", nil)
	if err != nil {
		t.Fatalf("GetDiscussionMessages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected messages to be gone after delete, got %d", len(msgs))
	}
}

func TestDiscussionMessageLifecycle(t *testing.T) {
	s := newTestStore(t)
	d := model.NewDiscussionSession("sess-msg", "topic", []string{"claude", "gpt"}, model.DefaultDiscussionConfig())
	s.CreateDiscussionSession(d)

	m1 := model.NewDiscussionMessage("m1", "sess-msg", 1, "claude", model.MessageProposal)
	m2 := model.NewDiscussionMessage("m2", "sess-msg", 1, "gpt", model.MessageProposal)
	m3 := model.NewDiscussionMessage("m3", "sess-msg", 2, "claude", model.MessageReview)
	for _, m := range []*model.DiscussionMessage{m1, m2, m3} {
		if err := s.CreateDiscussionMessage(m); err != nil {
			t.Fatalf("CreateDiscussionMessage failed: %v", err)
		}
	}

	content := "here is my proposal"
	status := model.MessageCompleted
	latency := 987.0
	if err := s.UpdateDiscussionMessage("m1", DiscussionMessageUpdate{
		Content:   &content,
		Status:    &status,
		LatencyMs: &latency,
	}); err != nil {
		t.Fatalf("UpdateDiscussionMessage failed: %v", err)
	}

	all, err := s.GetDiscussionMessages("sess-msg", nil)
	if err != nil {
		t.Fatalf("GetDiscussionMessages failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(all))
	}
	if all[0].RoundNumber != 1 || all[2].RoundNumber != 2 {
		t.Errorf("expected round_number ASC ordering, got %+v", []int{all[0].RoundNumber, all[1].RoundNumber, all[2].RoundNumber})
	}
	if all[0].Content == nil || *all[0].Content != content {
		t.Errorf("expected updated content on m1, got %+v", all[0].Content)
	}

	round2 := 2
	round2msgs, err := s.GetDiscussionMessages("sess-msg", &round2)
	if err != nil {
		t.Fatalf("GetDiscussionMessages (filtered) failed: %v", err)
	}
	if len(round2msgs) != 1 || round2msgs[0].ID != "m3" {
		t.Errorf("expected only m3 in round 2, got %+v", round2msgs)
	}
}
