package model

import "testing"

func TestRequestStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status RequestStatus
		want   bool
	}{
		{StatusQueued, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
		{StatusTimeout, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("RequestStatus(%q).IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestNewRequestDefaults(t *testing.T) {
	r := NewRequest("abc123456789", "claude", "hello", 50, 300, nil)

	if r.Status != StatusQueued {
		t.Errorf("expected status queued, got %q", r.Status)
	}
	if r.CreatedAt.IsZero() || r.UpdatedAt.IsZero() {
		t.Error("expected created_at/updated_at to be set")
	}
	if !r.CreatedAt.Equal(r.UpdatedAt) {
		t.Error("expected created_at == updated_at on creation")
	}
	if r.StartedAt != nil || r.CompletedAt != nil || r.RoutedAt != nil {
		t.Error("expected optional timestamps unset on creation")
	}
}
