package store

import (
	"testing"

	"mercator-hq/gateway/internal/model"
)

func TestSaveAndGetResponse(t *testing.T) {
	s := newTestStore(t)
	r := model.NewRequest("req-resp", "claude", "hi", 50, 30, nil)
	s.CreateRequest(r)

	tokens := 42
	thinking := "let me think"
	resp := &model.Response{
		RequestID:  "req-resp",
		Status:     model.StatusCompleted,
		Response:   strPtr("hello back"),
		Provider:   "claude",
		LatencyMs:  123.4,
		TokensUsed: &tokens,
		Thinking:   &thinking,
	}
	if err := s.SaveResponse(resp); err != nil {
		t.Fatalf("SaveResponse failed: %v", err)
	}

	got, err := s.GetResponse("req-resp")
	if err != nil {
		t.Fatalf("GetResponse failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected response, got nil")
	}
	if got.Response == nil || *got.Response != "hello back" {
		t.Errorf("unexpected response body: %+v", got.Response)
	}
	if got.TokensUsed == nil || *got.TokensUsed != 42 {
		t.Errorf("expected tokens_used 42, got %+v", got.TokensUsed)
	}
	if got.Thinking == nil || *got.Thinking != "let me think" {
		t.Errorf("expected thinking round-trip, got %+v", got.Thinking)
	}
}

func TestSaveResponseUpserts(t *testing.T) {
	s := newTestStore(t)
	r := model.NewRequest("req-upsert", "claude", "hi", 50, 30, nil)
	s.CreateRequest(r)

	s.SaveResponse(&model.Response{RequestID: "req-upsert", Status: model.StatusCompleted, Response: strPtr("v1")})
	s.SaveResponse(&model.Response{RequestID: "req-upsert", Status: model.StatusCompleted, Response: strPtr("v2")})

	got, err := s.GetResponse("req-upsert")
	if err != nil {
		t.Fatalf("GetResponse failed: %v", err)
	}
	if got.Response == nil || *got.Response != "v2" {
		t.Errorf("expected second save to replace the first, got %+v", got.Response)
	}
}

func TestGetResponseMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetResponse("no-such-request")
	if err != nil {
		t.Fatalf("expected no error for missing response, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing response, got %+v", got)
	}
}

func strPtr(s string) *string { return &s }
