package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	common_models "crm-sync/internal/common/models"
	"crm-sync/internal/features/connection"
	"crm-sync/internal/features/correlation"
	"crm-sync/internal/features/mapping"
	"crm-sync/internal/providers"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// withProvider runs one provider call with the retry policy: an expired
// token is refreshed once and the call retried once; transient failures
// retry with exponential backoff, where RetryMaxAttempts is the number of
// retries granted after the first attempt. The possibly-refreshed
// connection is returned so later calls reuse the new token.
func (s *SyncServiceImpl) withProvider(ctx context.Context, conn *connection.Connection, fn func(creds providers.Credentials) error) (*connection.Connection, error) {
	conn, err := s.Connections.EnsureValidToken(ctx, conn)
	if err != nil {
		return conn, err
	}

	refreshed := false
	backoff := 500 * time.Millisecond

	for attempt := 1; ; attempt++ {
		err = fn(conn.Credentials())
		if err == nil {
			return conn, nil
		}

		if errors.Is(err, providers.ErrAuthExpired) && !refreshed {
			refreshed = true
			conn, err = s.Connections.ForceRefresh(ctx, conn)
			if err != nil {
				return conn, fmt.Errorf("token refresh failed: %w", err)
			}
			continue
		}

		if errors.Is(err, providers.ErrTransient) && attempt <= s.Config.RetryMaxAttempts {
			select {
			case <-ctx.Done():
				return conn, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return conn, err
	}
}

// buildOutboundRecord maps a platform record's fields into a CRM record.
// Only outbound-permitted field mappings contribute, so the record is also
// the hashing surface for change detection. Direction widening surfaces as
// ErrConfiguration; a missing required field as ErrValidation.
func (s *SyncServiceImpl) buildOutboundRecord(conn *connection.Connection, em *mapping.EntityMapping, prec *common_models.PlatformRecord) (*providers.CrmRecord, error) {
	out := providers.NewCrmRecord()
	for i := range em.FieldMappings {
		fm := &em.FieldMappings[i]
		dir, err := mapping.FieldDirection(conn.DefaultDirection, em, fm)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrConfiguration, fm.PlatformField, err)
		}
		if !dir.AllowsOutbound() {
			continue
		}

		value := providers.FromAny(prec.Field(fm.PlatformField))
		value, err = fm.Transformation.Apply(value, out)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrValidation, fm.PlatformField, err)
		}
		if fm.IsRequired && value.IsNull() {
			return nil, fmt.Errorf("%w: required field %s is empty", ErrValidation, fm.PlatformField)
		}
		out.Set(fm.CrmField, value)
	}
	return out, nil
}

// buildInboundFields maps a CRM record into platform data fields, applying
// transformations and required-field checks per inbound-permitted mapping.
func (s *SyncServiceImpl) buildInboundFields(conn *connection.Connection, em *mapping.EntityMapping, crmRec *providers.CrmRecord) (map[string]any, error) {
	fields := make(map[string]any)
	for i := range em.FieldMappings {
		fm := &em.FieldMappings[i]
		dir, err := mapping.FieldDirection(conn.DefaultDirection, em, fm)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrConfiguration, fm.CrmField, err)
		}
		if !dir.AllowsInbound() {
			continue
		}

		value, _ := crmRec.Get(fm.CrmField)
		value, err = fm.Transformation.Apply(value, crmRec)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrValidation, fm.CrmField, err)
		}
		if fm.IsRequired && value.IsNull() {
			return nil, fmt.Errorf("%w: required field %s is empty", ErrValidation, fm.CrmField)
		}
		fields[fm.PlatformField] = value.Any()
	}
	return fields, nil
}

// relatedPlatformID coerces a platform foreign-key value to an ObjectID.
func relatedPlatformID(raw any) (primitive.ObjectID, bool) {
	switch v := raw.(type) {
	case primitive.ObjectID:
		return v, !v.IsZero()
	case string:
		oid, err := primitive.ObjectIDFromHex(v)
		return oid, err == nil
	}
	return primitive.NilObjectID, false
}

// resolveOutboundRelationships fills CRM lookup fields on an outbound
// record. Each platform foreign key is translated to the correlated CRM id;
// an uncorrelated related record is pushed to the CRM first when the
// mapping opts into auto-create.
func (s *SyncServiceImpl) resolveOutboundRelationships(ctx context.Context, conn *connection.Connection, em *mapping.EntityMapping, prec *common_models.PlatformRecord, out *providers.CrmRecord) (*connection.Connection, error) {
	for i := range em.RelationshipMappings {
		rm := &em.RelationshipMappings[i]
		dir, err := mapping.RelationshipDirection(conn.DefaultDirection, em, rm)
		if err != nil {
			return conn, fmt.Errorf("%w: relationship %s: %v", ErrConfiguration, rm.PlatformField, err)
		}
		if !dir.AllowsOutbound() {
			continue
		}

		relatedID, ok := relatedPlatformID(prec.Field(rm.PlatformField))
		if !ok {
			if rm.SyncNulls {
				out.Set(rm.CrmLookupField, providers.Null())
			}
			continue
		}

		row, err := s.Correlations.FindByPlatform(ctx, conn.ID, rm.RelatedPlatformType, relatedID)
		if errors.Is(err, mongo.ErrNoDocuments) {
			if !rm.AutoCreateRelated {
				return conn, fmt.Errorf("%w: related %s %s is not correlated", ErrValidation, rm.RelatedPlatformType, relatedID.Hex())
			}
			conn, row, err = s.autoCreateOutboundRelated(ctx, conn, rm, relatedID)
		}
		if err != nil {
			return conn, err
		}
		out.Set(rm.CrmLookupField, providers.String(row.CrmID))
	}
	return conn, nil
}

// autoCreateOutboundRelated pushes an uncorrelated related platform record
// to the CRM so its id can satisfy a lookup field. Only the related
// record's plain field mappings are applied, never its own relationships.
func (s *SyncServiceImpl) autoCreateOutboundRelated(ctx context.Context, conn *connection.Connection, rm *mapping.RelationshipMapping, relatedID primitive.ObjectID) (*connection.Connection, *correlation.ExternalID, error) {
	related, err := s.Entities.Get(ctx, rm.RelatedPlatformType, relatedID)
	if err != nil {
		return conn, nil, fmt.Errorf("%w: related %s %s not found", ErrValidation, rm.RelatedPlatformType, relatedID.Hex())
	}

	relatedMapping, err := s.findRelatedMapping(ctx, conn.ID, rm)
	if err != nil {
		return conn, nil, err
	}

	rec, err := s.buildOutboundRecord(conn, relatedMapping, related)
	if err != nil {
		return conn, nil, err
	}

	provider, err := s.Registry.Get(conn.ProviderType)
	if err != nil {
		return conn, nil, err
	}

	var crmID string
	conn, err = s.withProvider(ctx, conn, func(creds providers.Credentials) error {
		var callErr error
		crmID, callErr = provider.CreateRecord(ctx, creds, relatedMapping.CrmEntityName, rec)
		return callErr
	})
	if err != nil {
		return conn, nil, err
	}

	row := &correlation.ExternalID{
		ConnectionID:       conn.ID,
		PlatformEntityType: rm.RelatedPlatformType,
		PlatformID:         relatedID,
		CrmEntityName:      relatedMapping.CrmEntityName,
		CrmID:              crmID,
		LastSyncedAt:       time.Now(),
		LastSyncDirection:  common_models.DirectionOutbound,
		LastSyncHash:       correlation.ContentHash(outboundSurface(conn, relatedMapping, related, rec)),
	}
	if err := s.Correlations.Upsert(ctx, row); err != nil {
		return conn, nil, err
	}
	return conn, row, nil
}

// findRelatedMapping picks the entity mapping that governs a relationship's
// related entity. A mapping targeting the declared CRM entity wins.
func (s *SyncServiceImpl) findRelatedMapping(ctx context.Context, connID primitive.ObjectID, rm *mapping.RelationshipMapping) (*mapping.EntityMapping, error) {
	candidates, err := s.Mappings.FindByPlatformType(ctx, connID, string(rm.RelatedPlatformType))
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if candidates[i].CrmEntityName == rm.CrmRelatedEntity {
			return &candidates[i], nil
		}
	}
	if len(candidates) > 0 {
		return &candidates[0], nil
	}
	return nil, fmt.Errorf("%w: no entity mapping for related type %s", ErrConfiguration, rm.RelatedPlatformType)
}

// resolveInboundRelationships translates CRM lookup values into platform
// foreign keys, auto-creating the related platform record from the CRM side
// when the mapping opts in.
func (s *SyncServiceImpl) resolveInboundRelationships(ctx context.Context, conn *connection.Connection, em *mapping.EntityMapping, crmRec *providers.CrmRecord, fields map[string]any) (*connection.Connection, error) {
	for i := range em.RelationshipMappings {
		rm := &em.RelationshipMappings[i]
		dir, err := mapping.RelationshipDirection(conn.DefaultDirection, em, rm)
		if err != nil {
			return conn, fmt.Errorf("%w: relationship %s: %v", ErrConfiguration, rm.PlatformField, err)
		}
		if !dir.AllowsInbound() {
			continue
		}

		value, ok := crmRec.Get(rm.CrmLookupField)
		if !ok || value.IsNull() || value.Text() == "" {
			if rm.SyncNulls {
				fields[rm.PlatformField] = nil
			}
			continue
		}
		crmRelatedID := value.Text()

		row, err := s.Correlations.FindByCrm(ctx, conn.ID, rm.CrmRelatedEntity, crmRelatedID)
		if errors.Is(err, mongo.ErrNoDocuments) {
			if !rm.AutoCreateRelated {
				return conn, fmt.Errorf("%w: related CRM %s %s is not correlated", ErrValidation, rm.CrmRelatedEntity, crmRelatedID)
			}
			conn, row, err = s.autoCreateInboundRelated(ctx, conn, rm, crmRelatedID)
		}
		if err != nil {
			return conn, err
		}
		fields[rm.PlatformField] = row.PlatformID.Hex()
	}
	return conn, nil
}

// autoCreateInboundRelated pulls an uncorrelated CRM related record into the
// platform store so a lookup can resolve to a platform foreign key.
func (s *SyncServiceImpl) autoCreateInboundRelated(ctx context.Context, conn *connection.Connection, rm *mapping.RelationshipMapping, crmRelatedID string) (*connection.Connection, *correlation.ExternalID, error) {
	relatedMapping, err := s.findRelatedMapping(ctx, conn.ID, rm)
	if err != nil {
		return conn, nil, err
	}

	provider, err := s.Registry.Get(conn.ProviderType)
	if err != nil {
		return conn, nil, err
	}

	var crmRec *providers.CrmRecord
	conn, err = s.withProvider(ctx, conn, func(creds providers.Credentials) error {
		var callErr error
		crmRec, callErr = provider.GetRecord(ctx, creds, relatedMapping.CrmEntityName, crmRelatedID)
		return callErr
	})
	if err != nil {
		return conn, nil, err
	}

	fields, err := s.buildInboundFields(conn, relatedMapping, crmRec)
	if err != nil {
		return conn, nil, err
	}

	record := &common_models.PlatformRecord{
		EntityType: rm.RelatedPlatformType,
		Data:       fields,
	}
	if err := s.Entities.Create(ctx, record); err != nil {
		return conn, nil, err
	}

	row := &correlation.ExternalID{
		ConnectionID:       conn.ID,
		PlatformEntityType: rm.RelatedPlatformType,
		PlatformID:         record.ID,
		CrmEntityName:      relatedMapping.CrmEntityName,
		CrmID:              crmRelatedID,
		LastSyncedAt:       time.Now(),
		LastSyncDirection:  common_models.DirectionInbound,
		LastSyncHash:       inboundHash(conn, relatedMapping, crmRec, fields),
	}
	if err := s.Correlations.Upsert(ctx, row); err != nil {
		return conn, nil, err
	}
	return conn, row, nil
}

// outboundSurface builds the change-detection surface for one platform
// record: the outbound-mapped field values plus, under each CRM lookup
// field name, the raw platform foreign key of every outbound relationship.
// Keying by the platform id rather than the correlated CRM id means
// re-pointing a relationship changes the surface before any lookup runs.
func outboundSurface(conn *connection.Connection, em *mapping.EntityMapping, prec *common_models.PlatformRecord, candidate *providers.CrmRecord) *providers.CrmRecord {
	surface := providers.NewCrmRecord()
	for _, k := range candidate.Keys() {
		v, _ := candidate.Get(k)
		surface.Set(k, v)
	}
	for i := range em.RelationshipMappings {
		rm := &em.RelationshipMappings[i]
		dir, err := mapping.RelationshipDirection(conn.DefaultDirection, em, rm)
		if err != nil || !dir.AllowsOutbound() {
			continue
		}
		if id, ok := relatedPlatformID(prec.Field(rm.PlatformField)); ok {
			surface.Set(rm.CrmLookupField, providers.String(id.Hex()))
		} else {
			surface.Set(rm.CrmLookupField, providers.Null())
		}
	}
	return surface
}

// inboundHash hashes the inbound-mapped slice of a CRM record keyed by CRM
// field names, plus the resolved platform foreign keys of inbound
// relationships, mirroring the outbound surface so an inbound write
// immediately suppresses the outbound echo of the same values.
func inboundHash(conn *connection.Connection, em *mapping.EntityMapping, crmRec *providers.CrmRecord, fields map[string]any) string {
	mapped := providers.NewCrmRecord()
	for i := range em.FieldMappings {
		if v, ok := crmRec.Get(em.FieldMappings[i].CrmField); ok {
			mapped.Set(em.FieldMappings[i].CrmField, v)
		}
	}
	for i := range em.RelationshipMappings {
		rm := &em.RelationshipMappings[i]
		dir, err := mapping.RelationshipDirection(conn.DefaultDirection, em, rm)
		if err != nil || !dir.AllowsInbound() {
			continue
		}
		if hex, ok := fields[rm.PlatformField].(string); ok && hex != "" {
			mapped.Set(rm.CrmLookupField, providers.String(hex))
		} else {
			mapped.Set(rm.CrmLookupField, providers.Null())
		}
	}
	return correlation.ContentHash(mapped)
}

// reconcileOutbound runs the reconciliation steps for one platform record:
// correlation lookup, change detection, transform, relationship resolution,
// provider write, correlation upsert, audit log. Exactly one SyncLog row is
// written whatever the outcome.
func (s *SyncServiceImpl) reconcileOutbound(ctx context.Context, conn *connection.Connection, em *mapping.EntityMapping, prec *common_models.PlatformRecord, result *SyncResult) *connection.Connection {
	started := time.Now()
	log := &SyncLog{
		ConnectionID:       conn.ID,
		EntityMappingID:    em.ID,
		PlatformEntityType: em.PlatformEntityType,
		PlatformID:         prec.ID.Hex(),
		CrmEntityName:      em.CrmEntityName,
		Direction:          common_models.DirectionOutbound,
	}
	result.Stats.ProcessedCount++
	result.Stats.OutboundCount++

	fail := func(action string, err error) {
		result.Stats.FailedCount++
		if errors.Is(err, correlation.ErrConflict) {
			result.Stats.ConflictCount++
		}
		result.addError(fmt.Errorf("%s/%s: %w", em.CrmEntityName, prec.ID.Hex(), err))
		log.Action = action
		log.Status = StatusFailed
		log.ErrorDetail = err.Error()
		s.finishLog(ctx, log, started)
	}

	candidate, err := s.buildOutboundRecord(conn, em, prec)
	if err != nil {
		fail(ActionUpdate, err)
		return conn
	}
	surface := outboundSurface(conn, em, prec, candidate)
	candidateHash := correlation.ContentHash(surface)

	row, err := s.Correlations.FindByPlatform(ctx, conn.ID, em.PlatformEntityType, prec.ID)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		fail(ActionUpdate, err)
		return conn
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		row = nil
	}

	if row != nil && !NeedsOutbound(row, surface) {
		result.Stats.SkippedCount++
		log.CrmID = row.CrmID
		log.Action = ActionSkip
		log.Status = StatusSkipped
		s.finishLog(ctx, log, started)
		return conn
	}

	conn, err = s.resolveOutboundRelationships(ctx, conn, em, prec, candidate)
	if err != nil {
		fail(ActionUpdate, err)
		return conn
	}

	provider, err := s.Registry.Get(conn.ProviderType)
	if err != nil {
		fail(ActionUpdate, err)
		return conn
	}

	action := ActionUpdate
	crmID := ""
	if row == nil {
		action = ActionCreate
		conn, err = s.withProvider(ctx, conn, func(creds providers.Credentials) error {
			var callErr error
			crmID, callErr = provider.CreateRecord(ctx, creds, em.CrmEntityName, candidate)
			return callErr
		})
	} else {
		crmID = row.CrmID
		conn, err = s.withProvider(ctx, conn, func(creds providers.Credentials) error {
			return provider.UpdateRecord(ctx, creds, em.CrmEntityName, crmID, candidate)
		})
	}
	if err != nil {
		fail(action, err)
		return conn
	}

	err = s.Correlations.Upsert(ctx, &correlation.ExternalID{
		ConnectionID:       conn.ID,
		PlatformEntityType: em.PlatformEntityType,
		PlatformID:         prec.ID,
		CrmEntityName:      em.CrmEntityName,
		CrmID:              crmID,
		LastSyncedAt:       time.Now(),
		LastSyncDirection:  common_models.DirectionOutbound,
		LastSyncHash:       candidateHash,
	})
	if err != nil {
		fail(action, err)
		return conn
	}

	result.Stats.SuccessCount++
	if action == ActionCreate {
		result.Stats.CreatedCount++
	} else {
		result.Stats.UpdatedCount++
	}
	log.CrmID = crmID
	log.Action = action
	log.Status = StatusSuccess
	log.ChangedFields = candidate.ToMap()
	s.finishLog(ctx, log, started)
	return conn
}

// reconcileInbound runs reconciliation for one CRM record pulled from the
// vendor: correlation lookup, modified-date change detection, transform,
// relationship resolution, platform write, correlation upsert, audit log.
func (s *SyncServiceImpl) reconcileInbound(ctx context.Context, conn *connection.Connection, em *mapping.EntityMapping, crmRec *providers.CrmRecord, result *SyncResult) *connection.Connection {
	started := time.Now()

	idValue, _ := crmRec.Get(em.PrimaryKeyField)
	crmID := idValue.Text()

	log := &SyncLog{
		ConnectionID:       conn.ID,
		EntityMappingID:    em.ID,
		PlatformEntityType: em.PlatformEntityType,
		CrmEntityName:      em.CrmEntityName,
		CrmID:              crmID,
		Direction:          common_models.DirectionInbound,
	}
	result.Stats.ProcessedCount++
	result.Stats.InboundCount++

	fail := func(action string, err error) {
		result.Stats.FailedCount++
		if errors.Is(err, correlation.ErrConflict) {
			result.Stats.ConflictCount++
		}
		result.addError(fmt.Errorf("%s/%s: %w", em.CrmEntityName, crmID, err))
		log.Action = action
		log.Status = StatusFailed
		log.ErrorDetail = err.Error()
		s.finishLog(ctx, log, started)
	}

	if crmID == "" {
		fail(ActionUpdate, fmt.Errorf("%w: record has no %s value", ErrValidation, em.PrimaryKeyField))
		return conn
	}

	row, err := s.Correlations.FindByCrm(ctx, conn.ID, em.CrmEntityName, crmID)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		fail(ActionUpdate, err)
		return conn
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		row = nil
	}

	if row != nil && !NeedsInbound(row, modifiedOn(crmRec, em.ModifiedDateField)) {
		result.Stats.SkippedCount++
		log.PlatformID = row.PlatformID.Hex()
		log.Action = ActionSkip
		log.Status = StatusSkipped
		s.finishLog(ctx, log, started)
		return conn
	}

	fields, err := s.buildInboundFields(conn, em, crmRec)
	if err != nil {
		fail(ActionUpdate, err)
		return conn
	}
	conn, err = s.resolveInboundRelationships(ctx, conn, em, crmRec, fields)
	if err != nil {
		fail(ActionUpdate, err)
		return conn
	}

	action := ActionUpdate
	var platformID primitive.ObjectID
	if row == nil {
		action = ActionCreate
		record := &common_models.PlatformRecord{
			EntityType: em.PlatformEntityType,
			Data:       fields,
		}
		if err := s.Entities.Create(ctx, record); err != nil {
			fail(action, err)
			return conn
		}
		platformID = record.ID
	} else {
		platformID = row.PlatformID
		if err := s.Entities.UpdateFields(ctx, em.PlatformEntityType, platformID, fields); err != nil {
			fail(action, err)
			return conn
		}
	}

	err = s.Correlations.Upsert(ctx, &correlation.ExternalID{
		ConnectionID:       conn.ID,
		PlatformEntityType: em.PlatformEntityType,
		PlatformID:         platformID,
		CrmEntityName:      em.CrmEntityName,
		CrmID:              crmID,
		LastSyncedAt:       time.Now(),
		LastSyncDirection:  common_models.DirectionInbound,
		LastSyncHash:       inboundHash(conn, em, crmRec, fields),
	})
	if err != nil {
		fail(action, err)
		return conn
	}

	result.Stats.SuccessCount++
	if action == ActionCreate {
		result.Stats.CreatedCount++
	} else {
		result.Stats.UpdatedCount++
	}
	log.PlatformID = platformID.Hex()
	log.Action = action
	log.Status = StatusSuccess
	log.ChangedFields = fields
	s.finishLog(ctx, log, started)
	return conn
}

// finishLog stamps the duration and appends the audit row. A log write
// failure must not fail the sync, it only gets reported.
func (s *SyncServiceImpl) finishLog(ctx context.Context, log *SyncLog, started time.Time) {
	log.DurationMs = time.Since(started).Milliseconds()
	log.CreatedAt = time.Now()
	if err := s.Logs.Append(ctx, log); err != nil {
		s.Logger.Error("failed to append sync log",
			zap.String("connectionId", log.ConnectionID.Hex()),
			zap.String("entity", log.CrmEntityName),
			zap.Error(err))
	}
}
