package license

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	licerrors "licctl/internal/errors"
)

// LicenseType classifies an issued license.
type LicenseType string

const (
	TypeTrial      LicenseType = "trial"
	TypeStandard   LicenseType = "standard"
	TypeEnterprise LicenseType = "enterprise"
)

// ParseLicenseType validates a license type string.
func ParseLicenseType(s string) (LicenseType, error) {
	switch LicenseType(s) {
	case TypeTrial, TypeStandard, TypeEnterprise:
		return LicenseType(s), nil
	default:
		return "", licerrors.InvalidArgument("type", fmt.Sprintf("unknown license type %q", s))
	}
}

// WildcardMachineID is the wire value for a license valid on any machine.
const WildcardMachineID = "*"

// BaselineFeature is the feature every license carries when none are
// requested at issuance.
const BaselineFeature = "basic"

// Binding is a tagged machine binding: either the wildcard ("any
// machine") or a specific fingerprint. The zero value is not valid;
// construct via WildcardBinding or BindTo.
type Binding struct {
	machineID string
}

// WildcardBinding returns the binding that matches every machine.
func WildcardBinding() Binding {
	return Binding{machineID: WildcardMachineID}
}

// BindTo returns a binding to a specific machine fingerprint.
func BindTo(machineID string) Binding {
	return Binding{machineID: machineID}
}

// IsWildcard reports whether the binding matches every machine.
func (b Binding) IsWildcard() bool {
	return b.machineID == WildcardMachineID
}

// MachineID returns the wire representation of the binding.
func (b Binding) MachineID() string {
	return b.machineID
}

// Matches reports whether the binding accepts the given machine.
func (b Binding) Matches(currentMachineID string) bool {
	return b.IsWildcard() || b.machineID == currentMachineID
}

// Expiry is a tagged expiration: either perpetual or a point in time.
// The zero value is perpetual.
type Expiry struct {
	at        time.Time
	hasExpiry bool
}

// PerpetualExpiry returns the never-expires sentinel.
func PerpetualExpiry() Expiry {
	return Expiry{}
}

// ExpireAt returns an expiry at the given instant.
func ExpireAt(t time.Time) Expiry {
	return Expiry{at: t.UTC().Truncate(time.Second), hasExpiry: true}
}

// IsPerpetual reports whether the license never expires.
func (e Expiry) IsPerpetual() bool {
	return !e.hasExpiry
}

// Time returns the expiration instant; only meaningful when not
// perpetual.
func (e Expiry) Time() time.Time {
	return e.at
}

// ExpiredAt reports whether the expiry has passed at the given instant.
// Always false for a perpetual expiry.
func (e Expiry) ExpiredAt(now time.Time) bool {
	return e.hasExpiry && now.After(e.at)
}

// Payload is the signed license content. It is constructed once by the
// Issuer and immutable thereafter.
type Payload struct {
	LicenseID string
	Licensee  string
	Binding   Binding
	Type      LicenseType
	Features  []string
	IssuedAt  time.Time
	Expiry    Expiry
}

// Artifact pairs a payload with the signature produced over its
// canonical bytes.
type Artifact struct {
	Payload   Payload
	Signature []byte
}

// wirePayload is the on-disk and on-wire payload shape. Field order is
// fixed (alphabetical by JSON key, matching declaration order), which
// together with compact encoding makes the output deterministic. This
// ordering is part of the signing contract; do not reorder fields.
type wirePayload struct {
	ExpiresAt   string   `json:"expires_at"`
	Features    []string `json:"features"`
	IssuedAt    string   `json:"issued_at"`
	LicenseID   string   `json:"license_id"`
	LicenseType string   `json:"license_type"`
	Licensee    string   `json:"licensee"`
	MachineID   string   `json:"machine_id"`
}

// wireEnvelope is the JSON envelope stored (base64-encoded) in a .lic
// file.
type wireEnvelope struct {
	Data      wirePayload `json:"data"`
	Signature string      `json:"signature"`
}

// timeWireFormat is RFC 3339 at second precision, always UTC. Locale
// and zone independent.
const timeWireFormat = time.RFC3339

// Canonical produces the deterministic byte sequence that gets signed.
// The same logical payload always yields identical bytes. Both the
// Issuer and the Verifier call this exact routine.
func Canonical(p Payload) ([]byte, error) {
	wire, err := toWire(p)
	if err != nil {
		return nil, err
	}
	// json.Marshal emits struct fields in declaration order with no
	// extra whitespace, so the output is already canonical.
	return json.Marshal(wire)
}

// EncodeArtifact serializes an artifact to its storable .lic form.
func EncodeArtifact(a Artifact) ([]byte, error) {
	wire, err := toWire(a.Payload)
	if err != nil {
		return nil, err
	}
	envelope := wireEnvelope{
		Data:      wire,
		Signature: base64.StdEncoding.EncodeToString(a.Signature),
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode artifact envelope: %w", err)
	}
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(encoded, raw)
	return encoded, nil
}

// DecodeArtifact parses a .lic file's contents back into an Artifact.
// Structurally invalid input fails with ErrMalformedArtifact.
func DecodeArtifact(data []byte) (Artifact, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Artifact{}, licerrors.Malformed("empty artifact", nil)
	}

	raw, err := base64.StdEncoding.DecodeString(string(trimmed))
	if err != nil {
		return Artifact{}, licerrors.Malformed("base64 decode", err)
	}

	var envelope wireEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Artifact{}, licerrors.Malformed("envelope decode", err)
	}
	if envelope.Signature == "" {
		return Artifact{}, licerrors.Malformed("missing signature", nil)
	}
	signature, err := base64.StdEncoding.DecodeString(envelope.Signature)
	if err != nil {
		return Artifact{}, licerrors.Malformed("signature decode", err)
	}

	payload, err := fromWire(envelope.Data)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Payload: payload, Signature: signature}, nil
}

func toWire(p Payload) (wirePayload, error) {
	if p.LicenseID == "" {
		return wirePayload{}, licerrors.InvalidArgument("license_id", "must not be empty")
	}
	if p.Binding.MachineID() == "" {
		return wirePayload{}, licerrors.InvalidArgument("machine_id", "must not be empty")
	}
	if _, err := ParseLicenseType(string(p.Type)); err != nil {
		return wirePayload{}, err
	}

	expiresAt := ""
	if !p.Expiry.IsPerpetual() {
		expiresAt = p.Expiry.Time().UTC().Format(timeWireFormat)
	}
	return wirePayload{
		ExpiresAt:   expiresAt,
		Features:    normalizeFeatures(p.Features),
		IssuedAt:    p.IssuedAt.UTC().Truncate(time.Second).Format(timeWireFormat),
		LicenseID:   p.LicenseID,
		LicenseType: string(p.Type),
		Licensee:    p.Licensee,
		MachineID:   p.Binding.MachineID(),
	}, nil
}

func fromWire(w wirePayload) (Payload, error) {
	if w.LicenseID == "" {
		return Payload{}, licerrors.Malformed("missing license_id", nil)
	}
	if w.MachineID == "" {
		return Payload{}, licerrors.Malformed("missing machine_id", nil)
	}
	licType, err := ParseLicenseType(w.LicenseType)
	if err != nil {
		return Payload{}, licerrors.Malformed("license_type", err)
	}
	issuedAt, err := time.Parse(timeWireFormat, w.IssuedAt)
	if err != nil {
		return Payload{}, licerrors.Malformed("issued_at", err)
	}

	expiry := PerpetualExpiry()
	if w.ExpiresAt != "" {
		t, err := time.Parse(timeWireFormat, w.ExpiresAt)
		if err != nil {
			return Payload{}, licerrors.Malformed("expires_at", err)
		}
		expiry = ExpireAt(t)
	}

	binding := BindTo(w.MachineID)
	if w.MachineID == WildcardMachineID {
		binding = WildcardBinding()
	}
	return Payload{
		LicenseID: w.LicenseID,
		Licensee:  w.Licensee,
		Binding:   binding,
		Type:      licType,
		Features:  normalizeFeatures(w.Features),
		IssuedAt:  issuedAt.UTC(),
		Expiry:    expiry,
	}, nil
}

// normalizeFeatures sorts and deduplicates feature flags so insertion
// order and duplicates never change the canonical bytes. Empty input
// collapses to the baseline feature.
func normalizeFeatures(features []string) []string {
	set := make(map[string]struct{}, len(features))
	for _, f := range features {
		f = strings.TrimSpace(f)
		if f != "" {
			set[f] = struct{}{}
		}
	}
	if len(set) == 0 {
		return []string{BaselineFeature}
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
