package ids

import (
	"testing"

	"github.com/google/uuid"
)

func TestUUIDProviderIssuesUniqueVersion7Identifiers(t *testing.T) {
	provider := NewUUIDProvider()
	seen := make(map[string]struct{})
	for index := 0; index < 32; index++ {
		value, err := provider.NewID()
		if err != nil {
			t.Fatalf("unexpected id error: %v", err)
		}
		parsed, err := uuid.Parse(value)
		if err != nil {
			t.Fatalf("expected parseable uuid, got %q: %v", value, err)
		}
		if parsed.Version() != 7 {
			t.Fatalf("expected uuid version 7, got %d", parsed.Version())
		}
		if _, duplicate := seen[value]; duplicate {
			t.Fatalf("duplicate identifier %s", value)
		}
		seen[value] = struct{}{}
	}
}
