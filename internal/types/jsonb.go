package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// The JSONB-backed columns (user channels, notification preferences) round-trip
// through sql.Scanner / driver.Valuer. Scan lives on pointer receivers, Value
// on value receivers; the assertions catch signature drift at compile time.
var (
	_ sql.Scanner   = (*ChannelList)(nil)
	_ driver.Valuer = ChannelList(nil)
	_ sql.Scanner   = (*NotificationPreferences)(nil)
	_ driver.Valuer = NotificationPreferences{}
)

// scanJSONB decodes a JSONB column value into dest. Drivers hand JSONB back
// as []byte or string depending on connection mode; NULL leaves dest as-is.
func scanJSONB(dest any, value any) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// Scan implements sql.Scanner. A NULL column yields a nil list.
func (cl *ChannelList) Scan(value any) error {
	if value == nil {
		*cl = nil
		return nil
	}
	return scanJSONB(cl, value)
}

// Value implements driver.Valuer.
//
// Persistence must keep the full channel config -- webhook secrets and chat
// IDs included -- so this bypasses Channel's redacting MarshalJSON through an
// alias struct. Redaction is for API responses and logs only.
func (cl ChannelList) Value() (driver.Value, error) {
	if cl == nil {
		return nil, nil
	}
	type channelAlias struct {
		ID      string         `json:"id"`
		Type    ChannelType    `json:"type"`
		Config  map[string]any `json:"config"`
		Enabled bool           `json:"enabled"`

		FailureCount   int    `json:"failure_count,omitempty"`
		DisabledReason string `json:"disabled_reason,omitempty"`
	}
	aliases := make([]channelAlias, len(cl))
	for i, ch := range cl {
		aliases[i] = channelAlias{
			ID:             ch.ID,
			Type:           ch.Type,
			Config:         ch.Config,
			Enabled:        ch.Enabled,
			FailureCount:   ch.FailureCount,
			DisabledReason: ch.DisabledReason,
		}
	}
	return json.Marshal(aliases)
}

// Scan implements sql.Scanner.
func (np *NotificationPreferences) Scan(value any) error {
	return scanJSONB(np, value)
}

// Value implements driver.Valuer.
func (np NotificationPreferences) Value() (driver.Value, error) {
	return json.Marshal(np)
}
