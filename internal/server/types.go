package server

import (
	"time"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/fingerprint"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/trust"
)

type registerReq struct {
	UserID     string                 `json:"userId"`
	DeviceInfo fingerprint.DeviceInfo `json:"deviceInfo"`
	PublicKey  []byte                 `json:"publicKey,omitempty"`
}

type registerResp struct {
	DeviceID      string `json:"deviceId"`
	RequiresTrust bool   `json:"requiresTrust"`
	Fingerprint   string `json:"fingerprint,omitempty"`
}

type publicKeyReq struct {
	PublicKey []byte `json:"publicKey"`
}

type trustReq struct {
	DeviceID    string            `json:"deviceId"`
	Permissions trust.Permissions `json:"permissions"`
	Level       string            `json:"level,omitempty"`
	Payload     []byte            `json:"payload,omitempty"`
}

type deviceReq struct {
	DeviceID string `json:"deviceId"`
}

type generateCodeReq struct {
	TTLMinutes *int   `json:"ttlMinutes,omitempty"`
	Format     string `json:"format,omitempty"`
}

type generateCodeResp struct {
	Code      string    `json:"code"`
	Format    string    `json:"format"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type redeemReq struct {
	Code    string `json:"code"`
	Payload []byte `json:"payload,omitempty"`
}

type redeemResp struct {
	IssuingDeviceID string `json:"issuingDeviceId"`
	IssuerPublicKey []byte `json:"issuerPublicKey,omitempty"`
	RelationshipID  string `json:"relationshipId"`
	Level           string `json:"level"`
}

type createSessionReq struct {
	DeviceID    string                 `json:"deviceId"`
	Fingerprint string                 `json:"fingerprint"`
	DeviceInfo  fingerprint.DeviceInfo `json:"deviceInfo"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResp struct {
	SessionID        string `json:"sessionId"`
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	ExpiresIn        int64  `json:"expiresIn"`
	RefreshExpiresIn int64  `json:"refreshExpiresIn"`
}

type revokeSessionReq struct {
	SessionID string `json:"sessionId,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
}

type sessionView struct {
	ID        string    `json:"id"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Current   bool      `json:"current"`
}

type shareReq struct {
	ResourceID  string            `json:"resourceId"`
	Targets     []string          `json:"targets"`
	Permissions trust.Permissions `json:"permissions"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
}

type splitReq struct {
	Devices   []string `json:"devices"`
	Threshold int      `json:"threshold"`
}

// shareView carries one CBOR-encoded key share to its device.
type shareView struct {
	DeviceID string `json:"deviceId"`
	Share    []byte `json:"share"`
}

type splitResp struct {
	KeyID  string      `json:"keyId"`
	Shares []shareView `json:"shares"`
}

type escrowReq struct {
	KeyID      string   `json:"keyId,omitempty"`
	Key        []byte   `json:"key"`
	Passphrase string   `json:"passphrase"`
	Devices    []string `json:"devices"`
}

type recoverReq struct {
	EscrowID   string `json:"escrowId"`
	Passphrase string `json:"passphrase"`
}

type recoverResp struct {
	Key []byte `json:"key"`
}

type rootReq struct {
	DeviceID string `json:"deviceId"`
	Actor    string `json:"actor"`
}
