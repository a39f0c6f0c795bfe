// AngelaMos | 2026
// entity.go

package auth

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return true
	}
	return false
}

// DeviceInfo identifies the client that owns a session. It is fixed at
// creation and carried forward unchanged on rotation.
type DeviceInfo struct {
	DeviceID   string   `json:"device_id"`
	DeviceName string   `json:"device_name"`
	Platform   Platform `json:"platform"`
	AppVersion string   `json:"app_version,omitempty"`
	OSVersion  string   `json:"os_version,omitempty"`
}

// SecurityInfo is usage telemetry, updated on every refresh.
type SecurityInfo struct {
	IPAddress          string    `json:"ip_address"`
	UserAgent          string    `json:"user_agent"`
	LastUsedAt         time.Time `json:"last_used_at"`
	UsageCount         int       `json:"usage_count"`
	SuspiciousActivity bool      `json:"suspicious_activity"`
}

type SessionState string

const (
	StateActive  SessionState = "active"
	StateRotated SessionState = "rotated"
	StateRevoked SessionState = "revoked"
	StateExpired SessionState = "expired"
)

// Session is one device login. RefreshSecretHash and ReplacedByToken hold
// SHA-256 hashes; the plain refresh secret is only ever held by the client.
type Session struct {
	ID                string       `db:"id"`
	UserID            string       `db:"user_id"`
	RefreshSecretHash string       `db:"refresh_secret_hash"`
	ExpiresAt         time.Time    `db:"expires_at"`
	IsRevoked         bool         `db:"is_revoked"`
	RevokedAt         *time.Time   `db:"revoked_at"`
	ReplacedByToken   *string      `db:"replaced_by_token"`
	DeviceInfo        DeviceInfo   `db:"device_info"`
	SecurityInfo      SecurityInfo `db:"security_info"`
	CreatedAt         time.Time    `db:"created_at"`
}

func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

func (s *Session) IsUsable(now time.Time) bool {
	return !s.IsRevoked && !s.IsExpired(now)
}

// State reports the lifecycle state. Revocation wins over expiry so a
// rotated session stays "rotated" after its window has passed.
func (s *Session) State(now time.Time) SessionState {
	switch {
	case s.IsRevoked && s.ReplacedByToken != nil:
		return StateRotated
	case s.IsRevoked:
		return StateRevoked
	case s.IsExpired(now):
		return StateExpired
	default:
		return StateActive
	}
}

func (s *Session) revoke(at time.Time) {
	if s.IsRevoked {
		return
	}
	s.IsRevoked = true
	s.RevokedAt = &at
}

func (d DeviceInfo) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *DeviceInfo) Scan(src any) error {
	return scanJSON(src, d)
}

func (s SecurityInfo) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *SecurityInfo) Scan(src any) error {
	return scanJSON(src, s)
}

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	case nil:
		return nil
	default:
		return fmt.Errorf("scan jsonb: unsupported type %T", src)
	}
}
