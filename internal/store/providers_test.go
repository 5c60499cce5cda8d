package store

import (
	"testing"

	"mercator-hq/gateway/internal/model"
)

func TestUpdateAndGetProviderStatus(t *testing.T) {
	s := newTestStore(t)

	rpm := 60
	p := &model.ProviderStatus{
		Name:         "claude",
		BackendKind:  model.BackendHTTP,
		Status:       model.HealthHealthy,
		QueueDepth:   2,
		AvgLatencyMs: 450.5,
		SuccessRate:  0.98,
		Enabled:      true,
		Priority:     10,
		RateLimitRPM: &rpm,
		TimeoutS:     300,
	}
	if err := s.UpdateProviderStatus(p); err != nil {
		t.Fatalf("UpdateProviderStatus failed: %v", err)
	}

	got, err := s.GetProviderStatus("claude")
	if err != nil {
		t.Fatalf("GetProviderStatus failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected provider status, got nil")
	}
	if got.Status != model.HealthHealthy || got.QueueDepth != 2 {
		t.Errorf("unexpected provider status: %+v", got)
	}
	if got.RateLimitRPM == nil || *got.RateLimitRPM != 60 {
		t.Errorf("expected rate_limit_rpm 60, got %+v", got.RateLimitRPM)
	}
}

func TestUpdateProviderStatusUpserts(t *testing.T) {
	s := newTestStore(t)

	s.UpdateProviderStatus(&model.ProviderStatus{Name: "claude", Status: model.HealthHealthy, Enabled: true})
	s.UpdateProviderStatus(&model.ProviderStatus{Name: "claude", Status: model.HealthDegraded, Enabled: true})

	got, _ := s.GetProviderStatus("claude")
	if got.Status != model.HealthDegraded {
		t.Errorf("expected second update to replace the first, got %q", got.Status)
	}
}

func TestGetProviderStatusMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetProviderStatus("unknown")
	if err != nil {
		t.Fatalf("expected no error for missing provider, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing provider, got %+v", got)
	}
}

func TestListProviderStatus(t *testing.T) {
	s := newTestStore(t)
	s.UpdateProviderStatus(&model.ProviderStatus{Name: "zeta", Status: model.HealthHealthy, Enabled: true})
	s.UpdateProviderStatus(&model.ProviderStatus{Name: "alpha", Status: model.HealthHealthy, Enabled: true})

	list, err := s.ListProviderStatus()
	if err != nil {
		t.Fatalf("ListProviderStatus failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(list))
	}
	if list[0].Name != "alpha" || list[1].Name != "zeta" {
		t.Errorf("expected alphabetical ordering, got %v, %v", list[0].Name, list[1].Name)
	}
}
