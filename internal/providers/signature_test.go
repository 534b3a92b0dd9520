package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"crm-sync/internal/config"
)

func dynamicsSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func hubspotSignature(body []byte, secret string) string {
	h := sha256.New()
	h.Write([]byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func TestDynamicsValidateWebhookSignature(t *testing.T) {
	p := &DynamicsProvider{}
	body := []byte(`{"MessageName":"Update"}`)
	secret := "top-secret"

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		want      bool
	}{
		{"valid", body, dynamicsSignature(body, secret), secret, true},
		{"valid with prefix", body, "sha256=" + dynamicsSignature(body, secret), secret, true},
		{"wrong secret", body, dynamicsSignature(body, "other"), secret, false},
		{"tampered body", []byte(`{"MessageName":"Delete"}`), dynamicsSignature(body, secret), secret, false},
		{"malformed hex", body, "not-hex!!", secret, false},
		{"empty signature", body, "", secret, false},
		{"empty secret", body, dynamicsSignature(body, secret), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ValidateWebhookSignature(tt.body, tt.signature, tt.secret); got != tt.want {
				t.Errorf("ValidateWebhookSignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHubSpotValidateWebhookSignature(t *testing.T) {
	p := &HubSpotProvider{}
	body := []byte(`[{"subscriptionType":"contact.creation"}]`)
	secret := "client-secret"

	if !p.ValidateWebhookSignature(body, hubspotSignature(body, secret), secret) {
		t.Error("valid signature rejected")
	}
	if p.ValidateWebhookSignature(body, hubspotSignature(body, "wrong"), secret) {
		t.Error("invalid signature accepted")
	}
	if p.ValidateWebhookSignature(body, "zzzz", secret) {
		t.Error("malformed signature accepted")
	}
}

func TestRegistryGet(t *testing.T) {
	registry := NewRegistry(&config.Config{ProviderTimeoutSecs: 30})

	for _, pt := range []ProviderType{ProviderDynamics365, ProviderHubSpot} {
		p, err := registry.Get(pt)
		if err != nil {
			t.Fatalf("Get(%s) returned error: %v", pt, err)
		}
		if p.Type() != pt {
			t.Errorf("Get(%s).Type() = %s", pt, p.Type())
		}
	}

	if _, err := registry.Get("salesforce"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("Get(salesforce) error = %v, want ErrUnsupportedProvider", err)
	}
}
