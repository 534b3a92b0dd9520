package providers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const dynamicsAPIPath = "/api/data/v9.2"

// DynamicsProvider talks to the Dynamics 365 Web API (OData).
type DynamicsProvider struct {
	client *http.Client
	app    OAuthApp
}

func NewDynamicsProvider(client *http.Client, app OAuthApp) CrmProvider {
	return &DynamicsProvider{client: client, app: app}
}

func (p *DynamicsProvider) Type() ProviderType {
	return ProviderDynamics365
}

func (p *DynamicsProvider) ValidateConnection(ctx context.Context, creds Credentials) error {
	_, err := p.getJSON(ctx, creds, "/WhoAmI")
	return err
}

func (p *DynamicsProvider) RefreshToken(ctx context.Context, creds Credentials) (*TokenSet, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {creds.RefreshToken},
		"client_id":     {p.app.ClientID},
		"client_secret": {p.app.ClientSecret},
		"scope":         {creds.EnvironmentURL + "/.default offline_access"},
	}
	return p.tokenRequest(ctx, form)
}

func (p *DynamicsProvider) AuthorizationURL(state, redirectURI string) string {
	q := url.Values{
		"client_id":     {p.app.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {redirectURI},
		"state":         {state},
		"scope":         {"offline_access https://dynamics.microsoft.com/.default"},
	}
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/authorize?%s",
		p.app.TenantID, q.Encode())
}

func (p *DynamicsProvider) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {p.app.ClientID},
		"client_secret": {p.app.ClientSecret},
	}
	return p.tokenRequest(ctx, form)
}

func (p *DynamicsProvider) tokenRequest(ctx context.Context, form url.Values) (*TokenSet, error) {
	endpoint := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", p.app.TenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dynamics token request: %v: %w", err, ErrTransient)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp.StatusCode, "dynamics token endpoint", string(body))
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode dynamics token response: %w", err)
	}

	return &TokenSet{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}

func (p *DynamicsProvider) ListEntities(ctx context.Context, creds Credentials) ([]EntityInfo, error) {
	data, err := p.getJSON(ctx, creds, "/EntityDefinitions?$select=LogicalName,DisplayName,PrimaryIdAttribute")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Value []struct {
			LogicalName        string `json:"LogicalName"`
			PrimaryIdAttribute string `json:"PrimaryIdAttribute"`
		} `json:"value"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode entity definitions: %w", err)
	}

	entities := make([]EntityInfo, 0, len(payload.Value))
	for _, e := range payload.Value {
		entities = append(entities, EntityInfo{
			LogicalName:    e.LogicalName,
			DisplayName:    e.LogicalName,
			PrimaryIDField: e.PrimaryIdAttribute,
		})
	}
	return entities, nil
}

func (p *DynamicsProvider) ListFields(ctx context.Context, creds Credentials, entity string) ([]FieldInfo, error) {
	path := fmt.Sprintf("/EntityDefinitions(LogicalName='%s')/Attributes?$select=LogicalName,AttributeType,RequiredLevel", entity)
	data, err := p.getJSON(ctx, creds, path)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Value []struct {
			LogicalName   string `json:"LogicalName"`
			AttributeType string `json:"AttributeType"`
			RequiredLevel struct {
				Value string `json:"Value"`
			} `json:"RequiredLevel"`
		} `json:"value"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode attribute metadata: %w", err)
	}

	fields := make([]FieldInfo, 0, len(payload.Value))
	for _, f := range payload.Value {
		fields = append(fields, FieldInfo{
			Name:        f.LogicalName,
			DisplayName: f.LogicalName,
			Type:        f.AttributeType,
			Required:    f.RequiredLevel.Value == "ApplicationRequired" || f.RequiredLevel.Value == "SystemRequired",
		})
	}
	return fields, nil
}

func (p *DynamicsProvider) GetRecord(ctx context.Context, creds Credentials, entity, id string) (*CrmRecord, error) {
	data, err := p.getJSON(ctx, creds, fmt.Sprintf("/%s(%s)", entitySet(entity), id))
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode dynamics record: %w", err)
	}
	return dynamicsRecord(doc), nil
}

// ListRecords fetches every matching record, following @odata.nextLink
// until the server stops returning one. Top sets the server page size via
// the Prefer odata.maxpagesize header, never the total.
func (p *DynamicsProvider) ListRecords(ctx context.Context, creds Credentials, entity string, opts ListOptions) ([]*CrmRecord, error) {
	q := url.Values{}
	filters := []string{}
	if opts.Filter != "" {
		filters = append(filters, opts.Filter)
	}
	if opts.ModifiedSince != nil {
		field := opts.ModifiedField
		if field == "" {
			field = "modifiedon"
		}
		filters = append(filters, fmt.Sprintf("%s gt %s", field, opts.ModifiedSince.UTC().Format(time.RFC3339)))
	}
	if len(filters) > 0 {
		q.Set("$filter", strings.Join(filters, " and "))
	}

	path := "/" + entitySet(entity)
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	pageURL := strings.TrimSuffix(creds.EnvironmentURL, "/") + dynamicsAPIPath + path

	var records []*CrmRecord
	for pageURL != "" {
		data, err := p.getPage(ctx, creds, pageURL, opts.Top)
		if err != nil {
			return nil, err
		}

		var payload struct {
			Value    []map[string]any `json:"value"`
			NextLink string           `json:"@odata.nextLink"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("decode dynamics record list: %w", err)
		}

		for _, doc := range payload.Value {
			records = append(records, dynamicsRecord(doc))
		}
		pageURL = payload.NextLink
	}
	return records, nil
}

// getPage fetches one list page by its full URL, since continuation links
// come back absolute.
func (p *DynamicsProvider) getPage(ctx context.Context, creds Credentials, pageURL string, pageSize int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	if pageSize > 0 {
		req.Header.Set("Prefer", fmt.Sprintf("odata.maxpagesize=%d", pageSize))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("dynamics request failed: %v: %w", err, ErrTransient)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read dynamics response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp.StatusCode, "dynamics", string(body))
	}
	return body, nil
}

func (p *DynamicsProvider) CreateRecord(ctx context.Context, creds Credentials, entity string, rec *CrmRecord) (string, error) {
	body, err := json.Marshal(rec.ToMap())
	if err != nil {
		return "", err
	}

	resp, err := p.do(ctx, creds, http.MethodPost, "/"+entitySet(entity), body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(resp.Body)
		return "", statusErr(resp.StatusCode, "dynamics", string(detail))
	}

	// OData-EntityId: https://org.crm.dynamics.com/api/data/v9.2/contacts(GUID)
	entityID := resp.Header.Get("OData-EntityId")
	if open := strings.LastIndex(entityID, "("); open >= 0 && strings.HasSuffix(entityID, ")") {
		return entityID[open+1 : len(entityID)-1], nil
	}
	return "", fmt.Errorf("dynamics create returned no entity id for %s", entity)
}

func (p *DynamicsProvider) UpdateRecord(ctx context.Context, creds Credentials, entity, id string, rec *CrmRecord) error {
	body, err := json.Marshal(rec.ToMap())
	if err != nil {
		return err
	}

	resp, err := p.do(ctx, creds, http.MethodPatch, fmt.Sprintf("/%s(%s)", entitySet(entity), id), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		return statusErr(resp.StatusCode, "dynamics", string(detail))
	}
	return nil
}

func (p *DynamicsProvider) DeleteRecord(ctx context.Context, creds Credentials, entity, id string) error {
	resp, err := p.do(ctx, creds, http.MethodDelete, fmt.Sprintf("/%s(%s)", entitySet(entity), id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		detail, _ := io.ReadAll(resp.Body)
		return statusErr(resp.StatusCode, "dynamics", string(detail))
	}
	return nil
}

func (p *DynamicsProvider) RegisterWebhook(ctx context.Context, creds Credentials, callbackURL, secret string) (string, error) {
	payload := map[string]any{
		"name":         "crm-sync webhook",
		"url":          callbackURL,
		"authtype":     4, // webhook key
		"authvalue":    secret,
		"contractname": "json",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	resp, err := p.do(ctx, creds, http.MethodPost, "/serviceendpoints", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(resp.Body)
		return "", statusErr(resp.StatusCode, "dynamics", string(detail))
	}

	entityID := resp.Header.Get("OData-EntityId")
	if open := strings.LastIndex(entityID, "("); open >= 0 && strings.HasSuffix(entityID, ")") {
		return entityID[open+1 : len(entityID)-1], nil
	}
	return entityID, nil
}

func (p *DynamicsProvider) ParseWebhook(body []byte) (*CrmWebhookEvent, error) {
	var payload struct {
		MessageName        string         `json:"MessageName"` // Create, Update, Delete
		PrimaryEntityName  string         `json:"PrimaryEntityName"`
		PrimaryEntityId    string         `json:"PrimaryEntityId"`
		OperationCreatedOn string         `json:"OperationCreatedOn"`
		InputParameters    map[string]any `json:"InputParameters"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse dynamics webhook: %w", err)
	}
	if payload.PrimaryEntityName == "" || payload.PrimaryEntityId == "" {
		return nil, fmt.Errorf("dynamics webhook missing entity identifiers")
	}

	event := &CrmWebhookEvent{
		ID:         payload.PrimaryEntityId + ":" + payload.MessageName,
		EventType:  strings.ToLower(payload.MessageName),
		EntityName: payload.PrimaryEntityName,
		RecordID:   payload.PrimaryEntityId,
		OccurredAt: time.Now().UTC(),
	}
	if t, err := time.Parse(time.RFC3339, payload.OperationCreatedOn); err == nil {
		event.OccurredAt = t
	}
	if target, ok := payload.InputParameters["Target"].(map[string]any); ok {
		event.Record = RecordFromMap(target)
	}
	return event, nil
}

// ValidateWebhookSignature checks the hex HMAC-SHA256 of the body. Fails
// closed: malformed input returns false.
func (p *DynamicsProvider) ValidateWebhookSignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := mac.Sum(nil)

	if len(expected) != len(computed) {
		return false
	}
	return subtle.ConstantTimeCompare(expected, computed) == 1
}

func (p *DynamicsProvider) getJSON(ctx context.Context, creds Credentials, path string) ([]byte, error) {
	resp, err := p.do(ctx, creds, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read dynamics response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp.StatusCode, "dynamics", string(body))
	}
	return body, nil
}

func (p *DynamicsProvider) do(ctx context.Context, creds Credentials, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(creds.EnvironmentURL, "/")+dynamicsAPIPath+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("dynamics request failed: %v: %w", err, ErrTransient)
	}
	return resp, nil
}

// dynamicsRecord strips OData annotations before building the record.
func dynamicsRecord(doc map[string]any) *CrmRecord {
	clean := make(map[string]any, len(doc))
	for k, v := range doc {
		if strings.HasPrefix(k, "@odata") || strings.Contains(k, "@OData") {
			continue
		}
		clean[k] = v
	}
	return RecordFromMap(clean)
}

// entitySet derives the OData collection name from a logical entity name.
func entitySet(entity string) string {
	if strings.HasSuffix(entity, "s") {
		return entity + "es"
	}
	if strings.HasSuffix(entity, "y") {
		return entity[:len(entity)-1] + "ies"
	}
	return entity + "s"
}
