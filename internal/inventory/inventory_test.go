package inventory

import (
	"strings"
	"testing"
)

func TestUnavailableErrorMessage(t *testing.T) {
	err := &UnavailableError{Shortages: []Shortage{
		{ProductID: "p1", Required: 3, Available: 1},
		{ProductID: "p2", Required: 1, Available: 0},
	}}
	msg := err.Error()
	if !strings.Contains(msg, "p1 need 3 have 1") {
		t.Fatalf("message missing first shortage: %q", msg)
	}
	if !strings.Contains(msg, "p2 need 1 have 0") {
		t.Fatalf("message missing second shortage: %q", msg)
	}
}
