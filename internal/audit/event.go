// Package audit records a hash-chained trail of every trust mutation,
// pairing redemption and session revocation, and fans it out to sinks.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event types.
const (
	DeviceRegister   = "device.register"
	DeviceDeactivate = "device.deactivate"
	DeviceKey        = "device.key"
	TrustGrant       = "trust.grant"
	TrustRevoke      = "trust.revoke"
	TrustRoot        = "trust.root"
	PairingIssue     = "pairing.issue"
	PairingRedeem    = "pairing.redeem"
	SessionCreate    = "session.create"
	SessionRevoke    = "session.revoke"
	SessionEvict     = "session.evict"
	KeyRotate        = "key.rotate"
	KeySplit         = "key.split"
	KeyEscrow        = "key.escrow"
	ResourceShare    = "resource.share"
)

// Results.
const (
	ResultOK     = "ok"
	ResultDenied = "denied"
	ResultError  = "error"
)

var ErrChainBroken = errors.New("audit: hash chain broken")

type Event struct {
	Seq      uint64            `json:"seq"`
	Time     time.Time         `json:"ts"`
	Type     string            `json:"type"`
	Actor    string            `json:"actor,omitempty"`
	DeviceID string            `json:"deviceId,omitempty"`
	TargetID string            `json:"targetId,omitempty"`
	Result   string            `json:"result"`
	Detail   map[string]string `json:"detail,omitempty"`
	PrevHash string            `json:"prevHash"`
	Hash     string            `json:"hash"`
}

// Sink receives finished, chained events.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// link computes e's hash over the previous hash and every other field.
func link(e Event) (string, error) {
	e.Hash = ""
	body, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify walks events in order and checks every link.
func Verify(events []Event) error {
	prev := ""
	for i, e := range events {
		if e.PrevHash != prev {
			return fmt.Errorf("%w at seq %d", ErrChainBroken, e.Seq)
		}
		sum, err := link(e)
		if err != nil {
			return err
		}
		if sum != e.Hash {
			return fmt.Errorf("%w at seq %d", ErrChainBroken, e.Seq)
		}
		if i > 0 && e.Seq != events[i-1].Seq+1 {
			return fmt.Errorf("%w: gap before seq %d", ErrChainBroken, e.Seq)
		}
		prev = e.Hash
	}
	return nil
}
