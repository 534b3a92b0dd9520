package mapping

import (
	"errors"
	"testing"

	common_models "crm-sync/internal/common/models"
)

func TestNarrow(t *testing.T) {
	tests := []struct {
		name     string
		outer    common_models.SyncDirection
		override common_models.SyncDirection
		want     common_models.SyncDirection
		wantErr  bool
	}{
		{"empty inherits", common_models.DirectionOutbound, "", common_models.DirectionOutbound, false},
		{"equal is fine", common_models.DirectionInbound, common_models.DirectionInbound, common_models.DirectionInbound, false},
		{"bidirectional narrows to inbound", common_models.DirectionBidirectional, common_models.DirectionInbound, common_models.DirectionInbound, false},
		{"bidirectional narrows to outbound", common_models.DirectionBidirectional, common_models.DirectionOutbound, common_models.DirectionOutbound, false},
		{"inbound cannot widen", common_models.DirectionInbound, common_models.DirectionBidirectional, "", true},
		{"outbound cannot flip", common_models.DirectionOutbound, common_models.DirectionInbound, "", true},
		{"invalid override", common_models.DirectionBidirectional, "sideways", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Narrow(tt.outer, tt.override)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Narrow(%s, %s) expected error", tt.outer, tt.override)
				}
				return
			}
			if err != nil {
				t.Fatalf("Narrow(%s, %s) error: %v", tt.outer, tt.override, err)
			}
			if got != tt.want {
				t.Errorf("Narrow(%s, %s) = %s, want %s", tt.outer, tt.override, got, tt.want)
			}
		})
	}
}

func TestNarrowWidenedSentinel(t *testing.T) {
	_, err := Narrow(common_models.DirectionInbound, common_models.DirectionOutbound)
	if !errors.Is(err, ErrDirectionWidened) {
		t.Errorf("widening error = %v, want ErrDirectionWidened", err)
	}
}

func TestFieldDirectionPrecedence(t *testing.T) {
	em := &EntityMapping{Direction: common_models.DirectionOutbound}
	fm := &FieldMapping{}

	// Field inherits the entity override over the connection default.
	dir, err := FieldDirection(common_models.DirectionBidirectional, em, fm)
	if err != nil {
		t.Fatal(err)
	}
	if dir != common_models.DirectionOutbound {
		t.Errorf("inherited direction = %s, want outbound", dir)
	}

	// Field narrowing past the entity layer fails.
	fm.Direction = common_models.DirectionInbound
	if _, err := FieldDirection(common_models.DirectionBidirectional, em, fm); err == nil {
		t.Error("expected widening error when field flips an outbound entity mapping")
	}

	// Field may narrow a bidirectional entity layer.
	em.Direction = ""
	dir, err = FieldDirection(common_models.DirectionBidirectional, em, fm)
	if err != nil {
		t.Fatal(err)
	}
	if dir != common_models.DirectionInbound {
		t.Errorf("narrowed direction = %s, want inbound", dir)
	}
}
