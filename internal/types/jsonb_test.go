package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func sampleChannels() ChannelList {
	return ChannelList{
		{
			ID:      "ch-1",
			Type:    ChannelTelegram,
			Config:  map[string]any{"chat_id": "42", "bot_token": "tg-secret"},
			Enabled: true,
		},
		{
			ID:      "ch-2",
			Type:    ChannelWebhook,
			Config:  map[string]any{"url": "https://hooks.example.com/x", "secret": "whsec"},
			Enabled: false,
		},
	}
}

// TestChannelListValueKeepsSecrets verifies database persistence writes the
// full config, bypassing the redacting MarshalJSON.
func TestChannelListValueKeepsSecrets(t *testing.T) {
	v, err := sampleChannels().Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}
	data, ok := v.([]byte)
	if !ok {
		t.Fatalf("Value() returned %T, want []byte", v)
	}
	if !strings.Contains(string(data), "tg-secret") || !strings.Contains(string(data), "whsec") {
		t.Errorf("database serialization lost secrets: %s", data)
	}
	if strings.Contains(string(data), redactedPlaceholder) {
		t.Errorf("database serialization was redacted: %s", data)
	}
}

// TestChannelMarshalJSONRedacts verifies API serialization hides sensitive keys.
func TestChannelMarshalJSONRedacts(t *testing.T) {
	data, err := json.Marshal(sampleChannels())
	if err != nil {
		t.Fatalf("json.Marshal failed: %v", err)
	}
	if strings.Contains(string(data), "tg-secret") || strings.Contains(string(data), "whsec") {
		t.Errorf("API serialization leaked secrets: %s", data)
	}
	if !strings.Contains(string(data), "https://hooks.example.com/x") {
		t.Errorf("non-sensitive config values should survive redaction: %s", data)
	}
}

// TestChannelListScanRoundTrip verifies Scan accepts []byte and string inputs.
func TestChannelListScanRoundTrip(t *testing.T) {
	v, err := sampleChannels().Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}

	var fromBytes ChannelList
	if err := fromBytes.Scan(v); err != nil {
		t.Fatalf("Scan([]byte) failed: %v", err)
	}
	if len(fromBytes) != 2 || fromBytes[0].Config["bot_token"] != "tg-secret" {
		t.Errorf("Scan([]byte) lost data: %+v", fromBytes)
	}

	var fromString ChannelList
	if err := fromString.Scan(string(v.([]byte))); err != nil {
		t.Fatalf("Scan(string) failed: %v", err)
	}
	if len(fromString) != 2 {
		t.Errorf("Scan(string) lost data: %+v", fromString)
	}
}

// TestChannelListScanNil verifies NULL database values produce a nil list.
func TestChannelListScanNil(t *testing.T) {
	cl := ChannelList{{ID: "stale"}}
	if err := cl.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if cl != nil {
		t.Errorf("Scan(nil) should reset the list, got %+v", cl)
	}
}

// TestChannelListScanUnsupportedType verifies non-JSONB driver values are rejected.
func TestChannelListScanUnsupportedType(t *testing.T) {
	var cl ChannelList
	if err := cl.Scan(12345); err == nil {
		t.Error("Scan(int) should fail")
	}
}

// TestNotificationPreferencesRoundTrip verifies preferences survive a
// Value/Scan cycle with nested quiet-hours schedule intact.
func TestNotificationPreferencesRoundTrip(t *testing.T) {
	prefs := NotificationPreferences{
		QuietHours: &QuietHoursConfig{
			Enabled:  true,
			Timezone: "Europe/Berlin",
			Schedule: []QuietPeriod{{Days: []string{"mon", "tue"}, Start: "22:00", End: "07:00"}},
		},
		Reminders: &ReminderConfig{Enabled: true, DaysAhead: 3},
		Digest:    &DigestConfig{Enabled: true, Threshold: 3},
	}

	v, err := prefs.Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}

	var restored NotificationPreferences
	if err := restored.Scan(v); err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if restored.QuietHours == nil || restored.QuietHours.Timezone != "Europe/Berlin" {
		t.Errorf("quiet hours lost in round trip: %+v", restored.QuietHours)
	}
	if len(restored.QuietHours.Schedule) != 1 || restored.QuietHours.Schedule[0].End != "07:00" {
		t.Errorf("schedule lost in round trip: %+v", restored.QuietHours.Schedule)
	}
	if restored.Digest == nil || restored.Digest.Threshold != 3 {
		t.Errorf("digest config lost in round trip: %+v", restored.Digest)
	}
}
