package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKind(t *testing.T) {
	base := errors.New("connection refused")
	err := E(KindEmbeddingProvider, base)

	if KindOf(err) != KindEmbeddingProvider {
		t.Errorf("KindOf = %q", KindOf(err))
	}
	if !IsKind(err, KindEmbeddingProvider) {
		t.Error("IsKind should match")
	}
	if IsKind(err, KindGeneration) {
		t.Error("IsKind should not match a different kind")
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should unwrap to the base error")
	}
}

func TestErrorKindSurvivesWrapping(t *testing.T) {
	err := Ef(KindNotFound, "paper not found: %s", "p_123")
	wrapped := fmt.Errorf("handling request: %w", err)
	if KindOf(wrapped) != KindNotFound {
		t.Errorf("kind lost through wrapping: %q", KindOf(wrapped))
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain error should carry no kind")
	}
	if KindOf(nil) != "" {
		t.Error("nil error should carry no kind")
	}
}

func TestPaperStatus(t *testing.T) {
	for _, s := range []PaperStatus{StatusProcessing, StatusIndexed, StatusFailed} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if PaperStatus("queued").Valid() {
		t.Error("unknown status should be invalid")
	}

	if !StatusProcessing.CanTransitionTo(StatusIndexed) {
		t.Error("processing -> indexed should be allowed")
	}
	if !StatusProcessing.CanTransitionTo(StatusFailed) {
		t.Error("processing -> failed should be allowed")
	}
	for _, from := range []PaperStatus{StatusIndexed, StatusFailed} {
		for _, to := range []PaperStatus{StatusProcessing, StatusIndexed, StatusFailed} {
			if from.CanTransitionTo(to) {
				t.Errorf("%s -> %s should be rejected (terminal states are final)", from, to)
			}
		}
	}
}

func TestChunkKey(t *testing.T) {
	c := &Chunk{ID: "c00003", PaperID: "p_ab12"}
	if c.Key() != "p_ab12/c00003" {
		t.Errorf("Key = %q", c.Key())
	}
}
