package mapping

import (
	"errors"
	"fmt"

	common_models "crm-sync/internal/common/models"
)

// ErrDirectionWidened marks a layer trying to permit more than its outer
// layer allows. That is a configuration error, never a silent override.
var ErrDirectionWidened = errors.New("direction override widens outer direction")

// Narrow applies a direction override to an outer direction. An empty
// override inherits the outer layer; a non-empty one may only restrict.
func Narrow(outer, override common_models.SyncDirection) (common_models.SyncDirection, error) {
	if override == "" {
		return outer, nil
	}
	if !override.Valid() {
		return "", fmt.Errorf("invalid direction %q", override)
	}
	if override == outer {
		return outer, nil
	}
	if outer == common_models.DirectionBidirectional {
		return override, nil
	}
	return "", fmt.Errorf("%w: %s -> %s", ErrDirectionWidened, outer, override)
}

// FieldDirection resolves the effective direction for one field mapping:
// connection default -> entity override -> field override, narrowing only.
func FieldDirection(connDefault common_models.SyncDirection, em *EntityMapping, fm *FieldMapping) (common_models.SyncDirection, error) {
	entityDir, err := Narrow(connDefault, em.Direction)
	if err != nil {
		return "", err
	}
	return Narrow(entityDir, fm.Direction)
}

// RelationshipDirection resolves the effective direction for one
// relationship mapping.
func RelationshipDirection(connDefault common_models.SyncDirection, em *EntityMapping, rm *RelationshipMapping) (common_models.SyncDirection, error) {
	entityDir, err := Narrow(connDefault, em.Direction)
	if err != nil {
		return "", err
	}
	return Narrow(entityDir, rm.Direction)
}

// EntityDirection resolves the effective direction for an entity mapping.
func EntityDirection(connDefault common_models.SyncDirection, em *EntityMapping) (common_models.SyncDirection, error) {
	return Narrow(connDefault, em.Direction)
}
