// AngelaMos | 2026
// dto.go

package auth

import (
	"time"
)

type DeviceRequest struct {
	DeviceID   string `json:"device_id"   validate:"required,min=1,max=128"`
	DeviceName string `json:"device_name" validate:"required,min=1,max=128"`
	Platform   string `json:"platform"    validate:"required,oneof=ios android web"`
	AppVersion string `json:"app_version" validate:"omitempty,max=32"`
	OSVersion  string `json:"os_version"  validate:"omitempty,max=32"`
}

func (d DeviceRequest) toDeviceInfo() DeviceInfo {
	return DeviceInfo{
		DeviceID:   d.DeviceID,
		DeviceName: d.DeviceName,
		Platform:   Platform(d.Platform),
		AppVersion: d.AppVersion,
		OSVersion:  d.OSVersion,
	}
}

type SignUpRequest struct {
	Email    string        `json:"email"    validate:"required,email,max=255"`
	Password string        `json:"password" validate:"required,min=8,max=128"`
	Name     string        `json:"name"     validate:"required,min=1,max=100"`
	Device   DeviceRequest `json:"device"   validate:"required"`
}

type SignInRequest struct {
	Email    string        `json:"email"    validate:"required,email,max=255"`
	Password string        `json:"password" validate:"required,max=128"`
	Device   DeviceRequest `json:"device"   validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=256"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password"     validate:"required,min=8,max=128"`
}

// ClientMeta is what the transport knows about the caller.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuthResponse struct {
	User    UserResponse  `json:"user"`
	Tokens  TokenResponse `json:"tokens"`
	Warning string        `json:"warning,omitempty"`
}

type SessionInfo struct {
	ID                 string     `json:"id"`
	DeviceID           string     `json:"device_id"`
	DeviceName         string     `json:"device_name"`
	Platform           Platform   `json:"platform"`
	AppVersion         string     `json:"app_version,omitempty"`
	OSVersion          string     `json:"os_version,omitempty"`
	IPAddress          string     `json:"ip_address"`
	UserAgent          string     `json:"user_agent"`
	LastUsedAt         time.Time  `json:"last_used_at"`
	UsageCount         int        `json:"usage_count"`
	SuspiciousActivity bool       `json:"suspicious_activity"`
	State              string     `json:"state"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	RevokedAt          *time.Time `json:"revoked_at,omitempty"`
}

func toSessionInfo(s Session, now time.Time) SessionInfo {
	return SessionInfo{
		ID:                 s.ID,
		DeviceID:           s.DeviceInfo.DeviceID,
		DeviceName:         s.DeviceInfo.DeviceName,
		Platform:           s.DeviceInfo.Platform,
		AppVersion:         s.DeviceInfo.AppVersion,
		OSVersion:          s.DeviceInfo.OSVersion,
		IPAddress:          s.SecurityInfo.IPAddress,
		UserAgent:          s.SecurityInfo.UserAgent,
		LastUsedAt:         s.SecurityInfo.LastUsedAt,
		UsageCount:         s.SecurityInfo.UsageCount,
		SuspiciousActivity: s.SecurityInfo.SuspiciousActivity,
		State:              string(s.State(now)),
		CreatedAt:          s.CreatedAt,
		ExpiresAt:          s.ExpiresAt,
		RevokedAt:          s.RevokedAt,
	}
}

type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

type LogoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

type ValidateResponse struct {
	Valid bool         `json:"valid"`
	User  UserResponse `json:"user"`
}
