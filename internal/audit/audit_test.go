package audit

import (
	"context"
	"testing"
)

func TestDigestEmptyMetadata(t *testing.T) {
	if got := digest(nil); got != "" {
		t.Fatalf("digest(nil) = %q, want empty", got)
	}
	a := digest([]byte(`{"method":"toggle"}`))
	b := digest([]byte(`{"method":"toggle"}`))
	if a == "" || a != b {
		t.Fatalf("digest not stable: %q vs %q", a, b)
	}
}

func TestNilRepositoryRejectsLog(t *testing.T) {
	var r *Repository
	if err := r.Log(context.Background(), Entry{Action: "device.command"}); err == nil {
		t.Fatal("expected error from unconfigured repository")
	}
	if NewRepository(nil) != nil {
		t.Fatal("NewRepository(nil) must disable auditing")
	}
}
