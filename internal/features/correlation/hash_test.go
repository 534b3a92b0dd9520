package correlation

import (
	"testing"

	"crm-sync/internal/providers"
)

func TestContentHash(t *testing.T) {
	a := providers.NewCrmRecord()
	a.Set("firstname", providers.String("Ana"))
	a.Set("lastname", providers.String("Silva"))

	b := providers.NewCrmRecord()
	b.Set("lastname", providers.String("Silva"))
	b.Set("firstname", providers.String("Ana"))

	if ContentHash(a) != ContentHash(b) {
		t.Error("hash depends on field insertion order")
	}

	b.Set("firstname", providers.String("Anna"))
	if ContentHash(a) == ContentHash(b) {
		t.Error("hash did not change with a field value")
	}
}

func TestContentHashEmpty(t *testing.T) {
	if got := ContentHash(providers.NewCrmRecord()); got != "" {
		t.Errorf("empty record hash = %q, want empty string", got)
	}
	if got := ContentHash(nil); got != "" {
		t.Errorf("nil record hash = %q, want empty string", got)
	}
}
