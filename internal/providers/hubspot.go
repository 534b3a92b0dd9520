package providers

import (
	"bytes"
	"context"
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

const hubspotBaseURL = "https://api.hubapi.com"

// HubSpotProvider talks to the HubSpot CRM v3 API.
type HubSpotProvider struct {
	client  *http.Client
	app     OAuthApp
	baseURL string
}

func NewHubSpotProvider(client *http.Client, app OAuthApp) CrmProvider {
	return &HubSpotProvider{client: client, app: app, baseURL: hubspotBaseURL}
}

func (p *HubSpotProvider) Type() ProviderType {
	return ProviderHubSpot
}

func (p *HubSpotProvider) ValidateConnection(ctx context.Context, creds Credentials) error {
	_, err := p.getJSON(ctx, creds, "/crm/v3/objects/contacts?limit=1")
	return err
}

func (p *HubSpotProvider) RefreshToken(ctx context.Context, creds Credentials) (*TokenSet, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {creds.RefreshToken},
		"client_id":     {p.app.ClientID},
		"client_secret": {p.app.ClientSecret},
	}
	return p.tokenRequest(ctx, form)
}

func (p *HubSpotProvider) AuthorizationURL(state, redirectURI string) string {
	q := url.Values{
		"client_id":    {p.app.ClientID},
		"redirect_uri": {redirectURI},
		"scope":        {"crm.objects.contacts.read crm.objects.contacts.write crm.objects.companies.read crm.objects.companies.write"},
		"state":        {state},
	}
	return "https://app.hubspot.com/oauth/authorize?" + q.Encode()
}

func (p *HubSpotProvider) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {p.app.ClientID},
		"client_secret": {p.app.ClientSecret},
	}
	return p.tokenRequest(ctx, form)
}

func (p *HubSpotProvider) tokenRequest(ctx context.Context, form url.Values) (*TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hubspotBaseURL+"/oauth/v1/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hubspot token request: %v: %w", err, ErrTransient)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp.StatusCode, "hubspot token endpoint", string(body))
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode hubspot token response: %w", err)
	}

	return &TokenSet{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}

func (p *HubSpotProvider) ListEntities(ctx context.Context, creds Credentials) ([]EntityInfo, error) {
	// HubSpot's standard object set is fixed for CRM purposes.
	return []EntityInfo{
		{LogicalName: "contacts", DisplayName: "Contacts", PrimaryIDField: "hs_object_id"},
		{LogicalName: "companies", DisplayName: "Companies", PrimaryIDField: "hs_object_id"},
		{LogicalName: "deals", DisplayName: "Deals", PrimaryIDField: "hs_object_id"},
	}, nil
}

func (p *HubSpotProvider) ListFields(ctx context.Context, creds Credentials, entity string) ([]FieldInfo, error) {
	data, err := p.getJSON(ctx, creds, "/crm/v3/properties/"+entity)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results []struct {
			Name  string `json:"name"`
			Label string `json:"label"`
			Type  string `json:"type"`
		} `json:"results"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode hubspot properties: %w", err)
	}

	fields := make([]FieldInfo, 0, len(payload.Results))
	for _, f := range payload.Results {
		fields = append(fields, FieldInfo{
			Name:        f.Name,
			DisplayName: f.Label,
			Type:        f.Type,
		})
	}
	return fields, nil
}

func (p *HubSpotProvider) GetRecord(ctx context.Context, creds Credentials, entity, id string) (*CrmRecord, error) {
	data, err := p.getJSON(ctx, creds, fmt.Sprintf("/crm/v3/objects/%s/%s", entity, id))
	if err != nil {
		return nil, err
	}

	var payload struct {
		ID         string         `json:"id"`
		Properties map[string]any `json:"properties"`
		UpdatedAt  string         `json:"updatedAt"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode hubspot record: %w", err)
	}
	return hubspotRecord(payload.ID, payload.UpdatedAt, payload.Properties), nil
}

// hubspotPageLimit clamps a requested page size to HubSpot's 1..200 range.
func hubspotPageLimit(top int) int {
	switch {
	case top <= 0:
		return 100
	case top > 200:
		return 200
	default:
		return top
	}
}

// ListRecords fetches every matching record, following paging.next.after
// until the server stops returning a cursor. Top sets the page size.
func (p *HubSpotProvider) ListRecords(ctx context.Context, creds Credentials, entity string, opts ListOptions) ([]*CrmRecord, error) {
	limit := hubspotPageLimit(opts.Top)

	// Incremental and filtered fetches go through the search endpoint;
	// plain fetches through the cheaper list endpoint.
	if opts.ModifiedSince == nil && opts.Filter == "" {
		var records []*CrmRecord
		after := ""
		for {
			path := fmt.Sprintf("/crm/v3/objects/%s?limit=%d", entity, limit)
			if after != "" {
				path += "&after=" + url.QueryEscape(after)
			}
			data, err := p.getJSON(ctx, creds, path)
			if err != nil {
				return nil, err
			}
			page, next, err := decodeHubspotPage(data)
			if err != nil {
				return nil, err
			}
			records = append(records, page...)
			if next == "" {
				return records, nil
			}
			after = next
		}
	}

	field := opts.ModifiedField
	if field == "" {
		field = "hs_lastmodifieddate"
	}

	filters := []map[string]any{}
	if opts.ModifiedSince != nil {
		filters = append(filters, map[string]any{
			"propertyName": field,
			"operator":     "GT",
			"value":        fmt.Sprintf("%d", opts.ModifiedSince.UnixMilli()),
		})
	}
	if opts.Filter != "" {
		// Mapping filter expressions for HubSpot are stored as
		// "property:operator:value" triples.
		parts := strings.SplitN(opts.Filter, ":", 3)
		if len(parts) == 3 {
			filters = append(filters, map[string]any{
				"propertyName": parts[0],
				"operator":     strings.ToUpper(parts[1]),
				"value":        parts[2],
			})
		}
	}

	var records []*CrmRecord
	after := ""
	for {
		query := map[string]any{
			"filterGroups": []map[string]any{{"filters": filters}},
			"limit":        limit,
		}
		if after != "" {
			query["after"] = after
		}
		body, err := json.Marshal(query)
		if err != nil {
			return nil, err
		}

		resp, err := p.do(ctx, creds, http.MethodPost, fmt.Sprintf("/crm/v3/objects/%s/search", entity), body)
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read hubspot response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, statusErr(resp.StatusCode, "hubspot", string(data))
		}

		page, next, err := decodeHubspotPage(data)
		if err != nil {
			return nil, err
		}
		records = append(records, page...)
		if next == "" {
			return records, nil
		}
		after = next
	}
}

func (p *HubSpotProvider) CreateRecord(ctx context.Context, creds Credentials, entity string, rec *CrmRecord) (string, error) {
	props := map[string]any{}
	for _, k := range rec.Keys() {
		v, _ := rec.Get(k)
		props[k] = v.Text()
	}
	body, err := json.Marshal(map[string]any{"properties": props})
	if err != nil {
		return "", err
	}

	resp, err := p.do(ctx, creds, http.MethodPost, "/crm/v3/objects/"+entity, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", statusErr(resp.StatusCode, "hubspot", string(data))
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("decode hubspot create response: %w", err)
	}
	return payload.ID, nil
}

func (p *HubSpotProvider) UpdateRecord(ctx context.Context, creds Credentials, entity, id string, rec *CrmRecord) error {
	props := map[string]any{}
	for _, k := range rec.Keys() {
		v, _ := rec.Get(k)
		props[k] = v.Text()
	}
	body, err := json.Marshal(map[string]any{"properties": props})
	if err != nil {
		return err
	}

	resp, err := p.do(ctx, creds, http.MethodPatch, fmt.Sprintf("/crm/v3/objects/%s/%s", entity, id), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return statusErr(resp.StatusCode, "hubspot", string(data))
	}
	return nil
}

func (p *HubSpotProvider) DeleteRecord(ctx context.Context, creds Credentials, entity, id string) error {
	resp, err := p.do(ctx, creds, http.MethodDelete, fmt.Sprintf("/crm/v3/objects/%s/%s", entity, id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		data, _ := io.ReadAll(resp.Body)
		return statusErr(resp.StatusCode, "hubspot", string(data))
	}
	return nil
}

func (p *HubSpotProvider) RegisterWebhook(ctx context.Context, creds Credentials, callbackURL, secret string) (string, error) {
	// HubSpot webhook subscriptions are configured per app, keyed by the
	// developer app id; the target URL is the only mutable part here.
	body, err := json.Marshal(map[string]any{
		"targetUrl":  callbackURL,
		"throttling": map[string]any{"period": "SECONDLY", "maxConcurrentRequests": 10},
	})
	if err != nil {
		return "", err
	}

	resp, err := p.do(ctx, creds, http.MethodPut, fmt.Sprintf("/webhooks/v3/%s/settings", p.app.ClientID), body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", statusErr(resp.StatusCode, "hubspot", string(data))
	}
	return p.app.ClientID, nil
}

func (p *HubSpotProvider) ParseWebhook(body []byte) (*CrmWebhookEvent, error) {
	// HubSpot delivers an array of events; the ingestor processes the first
	// and relies on replays for the rest.
	var events []struct {
		EventID          int64  `json:"eventId"`
		SubscriptionType string `json:"subscriptionType"` // contact.creation, contact.propertyChange, contact.deletion
		ObjectID         int64  `json:"objectId"`
		OccurredAt       int64  `json:"occurredAt"`
		PropertyName     string `json:"propertyName"`
		PropertyValue    any    `json:"propertyValue"`
	}
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("parse hubspot webhook: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("hubspot webhook carried no events")
	}

	e := events[0]
	parts := strings.SplitN(e.SubscriptionType, ".", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("unrecognized hubspot subscription type %q", e.SubscriptionType)
	}

	eventType := "update"
	switch parts[1] {
	case "creation":
		eventType = "create"
	case "deletion", "privacyDeletion":
		eventType = "delete"
	}

	event := &CrmWebhookEvent{
		ID:         fmt.Sprintf("%d", e.EventID),
		EventType:  eventType,
		EntityName: parts[0] + "s", // contact -> contacts
		RecordID:   fmt.Sprintf("%d", e.ObjectID),
		OccurredAt: time.UnixMilli(e.OccurredAt).UTC(),
	}
	if e.PropertyName != "" {
		rec := NewCrmRecord()
		rec.Set(e.PropertyName, FromAny(e.PropertyValue))
		event.Record = rec
	}
	return event, nil
}

// ValidateWebhookSignature implements the HubSpot v1 scheme:
// sha256 hex digest of clientSecret + raw body. Fails closed.
func (p *HubSpotProvider) ValidateWebhookSignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}

	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	h := sha256.New()
	h.Write([]byte(secret))
	h.Write(body)
	computed := h.Sum(nil)

	if len(expected) != len(computed) {
		return false
	}
	return subtle.ConstantTimeCompare(expected, computed) == 1
}

func (p *HubSpotProvider) getJSON(ctx context.Context, creds Credentials, path string) ([]byte, error) {
	resp, err := p.do(ctx, creds, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read hubspot response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp.StatusCode, "hubspot", string(body))
	}
	return body, nil
}

func (p *HubSpotProvider) do(ctx context.Context, creds Credentials, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("hubspot request failed: %v: %w", err, ErrTransient)
	}
	return resp, nil
}

func decodeHubspotPage(data []byte) ([]*CrmRecord, string, error) {
	var payload struct {
		Results []struct {
			ID         string         `json:"id"`
			Properties map[string]any `json:"properties"`
			UpdatedAt  string         `json:"updatedAt"`
		} `json:"results"`
		Paging struct {
			Next struct {
				After string `json:"after"`
			} `json:"next"`
		} `json:"paging"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, "", fmt.Errorf("decode hubspot record list: %w", err)
	}

	records := make([]*CrmRecord, 0, len(payload.Results))
	for _, r := range payload.Results {
		records = append(records, hubspotRecord(r.ID, r.UpdatedAt, r.Properties))
	}
	return records, payload.Paging.Next.After, nil
}

// hubspotRecord lifts the object id and modified date into regular fields so
// mappings can address them like any other property.
func hubspotRecord(id, updatedAt string, props map[string]any) *CrmRecord {
	rec := RecordFromMap(props)
	if id != "" {
		rec.Set("hs_object_id", String(id))
	}
	if updatedAt != "" {
		if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			rec.Set("hs_lastmodifieddate", Timestamp(t))
		}
	}
	return rec
}
