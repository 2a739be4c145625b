package webhook

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedEvent flags a request body that is not a well-formed signed
	// envelope or carries an unknown or incomplete event payload.
	ErrMalformedEvent = errors.New("webhook: malformed event")
	// ErrInvalidSignature flags an envelope whose signature does not verify or
	// whose app key is not registered to the claimed fid.
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	// ErrVerifierUnavailable flags a failure to consult the app key registry.
	// Callers should treat it as a transient outage, not a rejection.
	ErrVerifierUnavailable = errors.New("webhook: app key verifier unavailable")
)

// AppKeyVerifier confirms that an ed25519 app key is registered on-network to
// the claimed fid. Implementations typically query a Farcaster hub or the key
// registry contract.
type AppKeyVerifier interface {
	VerifyAppKey(ctx context.Context, fid uint64, key ed25519.PublicKey) (bool, error)
}

// NotificationDetails carries the push credential minted by the Farcaster
// client for one user of the miniapp.
type NotificationDetails struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Event is the sealed set of lifecycle events a Farcaster client delivers.
// The concrete types are MiniAppAdded, MiniAppRemoved, NotificationsEnabled,
// and NotificationsDisabled.
type Event interface {
	EventFID() uint64
	kind() string
}

// MiniAppAdded signals the user installed the miniapp. Notification details
// are present only when the client granted notification permission at install
// time.
type MiniAppAdded struct {
	FID           uint64
	Notifications *NotificationDetails
}

// MiniAppRemoved signals the user uninstalled the miniapp. Any stored push
// credential for the fid is dead.
type MiniAppRemoved struct {
	FID uint64
}

// NotificationsEnabled signals the user turned notifications on. The details
// are always present; an enable event without them is malformed.
type NotificationsEnabled struct {
	FID           uint64
	Notifications NotificationDetails
}

// NotificationsDisabled signals the user turned notifications off.
type NotificationsDisabled struct {
	FID uint64
}

func (e MiniAppAdded) EventFID() uint64          { return e.FID }
func (e MiniAppRemoved) EventFID() uint64        { return e.FID }
func (e NotificationsEnabled) EventFID() uint64  { return e.FID }
func (e NotificationsDisabled) EventFID() uint64 { return e.FID }

func (MiniAppAdded) kind() string          { return "miniapp_added" }
func (MiniAppRemoved) kind() string        { return "miniapp_removed" }
func (NotificationsEnabled) kind() string  { return "notifications_enabled" }
func (NotificationsDisabled) kind() string { return "notifications_disabled" }

type envelope struct {
	Header    string `json:"header"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

type envelopeHeader struct {
	FID  uint64 `json:"fid"`
	Type string `json:"type"`
	Key  string `json:"key"`
}

type eventPayload struct {
	Event               string               `json:"event"`
	NotificationDetails *NotificationDetails `json:"notificationDetails"`
}

// Decoder authenticates and decodes signed webhook envelopes. The verifier is
// optional; without one, only the local signature check is performed.
type Decoder struct {
	verifier AppKeyVerifier
}

func NewDecoder(verifier AppKeyVerifier) *Decoder {
	return &Decoder{verifier: verifier}
}

// Decode verifies the envelope signature and returns the typed event. The
// error wraps ErrMalformedEvent, ErrInvalidSignature, or
// ErrVerifierUnavailable so callers can map each to a distinct status.
func (d *Decoder) Decode(ctx context.Context, body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Header == "" || env.Payload == "" || env.Signature == "" {
		return nil, fmt.Errorf("%w: envelope field missing", ErrMalformedEvent)
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(env.Header)
	if err != nil {
		return nil, fmt.Errorf("%w: header encoding: %v", ErrMalformedEvent, err)
	}
	var header envelopeHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedEvent, err)
	}
	if header.FID == 0 {
		return nil, fmt.Errorf("%w: header missing fid", ErrMalformedEvent)
	}

	key, err := decodeAppKey(header.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	signature, err := base64.RawURLEncoding.DecodeString(env.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature encoding: %v", ErrMalformedEvent, err)
	}
	if len(signature) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: signature length %d", ErrMalformedEvent, len(signature))
	}

	// The signature covers the two base64url segments joined by a dot, not
	// their decoded bytes.
	signed := []byte(env.Header + "." + env.Payload)
	if !ed25519.Verify(key, signed, signature) {
		return nil, ErrInvalidSignature
	}
	if d.verifier != nil {
		ok, err := d.verifier.VerifyAppKey(ctx, header.FID, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: app key not registered to fid %d", ErrInvalidSignature, header.FID)
		}
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload encoding: %v", ErrMalformedEvent, err)
	}
	var payload eventPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedEvent, err)
	}
	return buildEvent(header.FID, payload)
}

func buildEvent(fid uint64, payload eventPayload) (Event, error) {
	switch payload.Event {
	case "miniapp_added", "frame_added":
		return MiniAppAdded{FID: fid, Notifications: payload.NotificationDetails}, nil
	case "miniapp_removed", "frame_removed":
		return MiniAppRemoved{FID: fid}, nil
	case "notifications_enabled":
		if payload.NotificationDetails == nil {
			return nil, fmt.Errorf("%w: notifications_enabled without details", ErrMalformedEvent)
		}
		return NotificationsEnabled{FID: fid, Notifications: *payload.NotificationDetails}, nil
	case "notifications_disabled":
		return NotificationsDisabled{FID: fid}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrMalformedEvent, payload.Event)
	}
}

func decodeAppKey(value string) (ed25519.PublicKey, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return nil, errors.New("header missing app key")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("app key encoding: %v", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("app key length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
