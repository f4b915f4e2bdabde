package license

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licerrors "licctl/internal/errors"
)

func testPayload() Payload {
	return Payload{
		LicenseID: "11111111-2222-3333-4444-555555555555",
		Licensee:  "Acme Corp",
		Binding:   BindTo("machine-abc"),
		Type:      TypeStandard,
		Features:  []string{"basic", "export"},
		IssuedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Expiry:    ExpireAt(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func TestCanonicalDeterministic(t *testing.T) {
	p := testPayload()

	first, err := Canonical(p)
	require.NoError(t, err)
	second, err := Canonical(p)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCanonicalFeatureOrderIrrelevant(t *testing.T) {
	a := testPayload()
	a.Features = []string{"export", "basic"}
	b := testPayload()
	b.Features = []string{"basic", "export", "basic"}

	aBytes, err := Canonical(a)
	require.NoError(t, err)
	bBytes, err := Canonical(b)
	require.NoError(t, err)
	assert.Equal(t, aBytes, bBytes, "feature order and duplicates must not change the signed bytes")
}

func TestCanonicalFieldChangeChangesBytes(t *testing.T) {
	base, err := Canonical(testPayload())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Payload)
	}{
		{"licensee", func(p *Payload) { p.Licensee = "Evil Corp" }},
		{"machine", func(p *Payload) { p.Binding = WildcardBinding() }},
		{"type", func(p *Payload) { p.Type = TypeEnterprise }},
		{"features", func(p *Payload) { p.Features = []string{"everything"} }},
		{"expiry", func(p *Payload) { p.Expiry = PerpetualExpiry() }},
		{"issued_at", func(p *Payload) { p.IssuedAt = p.IssuedAt.Add(time.Second) }},
		{"license_id", func(p *Payload) { p.LicenseID = "other" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPayload()
			tt.mutate(&p)
			mutated, err := Canonical(p)
			require.NoError(t, err)
			assert.NotEqual(t, base, mutated)
		})
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	artifact := Artifact{Payload: testPayload(), Signature: []byte("not-a-real-signature")}

	encoded, err := EncodeArtifact(artifact)
	require.NoError(t, err)

	decoded, err := DecodeArtifact(encoded)
	require.NoError(t, err)
	assert.Equal(t, artifact.Payload, decoded.Payload)
	assert.Equal(t, artifact.Signature, decoded.Signature)
}

func TestRoundTripPerpetualAndWildcard(t *testing.T) {
	p := testPayload()
	p.Binding = WildcardBinding()
	p.Expiry = PerpetualExpiry()

	encoded, err := EncodeArtifact(Artifact{Payload: p, Signature: []byte("sig")})
	require.NoError(t, err)
	decoded, err := DecodeArtifact(encoded)
	require.NoError(t, err)

	assert.True(t, decoded.Payload.Binding.IsWildcard())
	assert.True(t, decoded.Payload.Expiry.IsPerpetual())
}

func TestDecodeArtifactMalformed(t *testing.T) {
	b64 := func(s string) []byte {
		return []byte(base64.StdEncoding.EncodeToString([]byte(s)))
	}

	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", []byte("")},
		{"whitespace only", []byte("  \n")},
		{"not base64", []byte("!!! not base64 !!!")},
		{"not json", b64("hello world")},
		{"missing signature", b64(`{"data":{"license_id":"x"}}`)},
		{"signature not base64", b64(`{"data":{"license_id":"x"},"signature":"***"}`)},
		{"missing license_id", b64(`{"data":{"machine_id":"*","license_type":"trial","issued_at":"2026-01-01T00:00:00Z"},"signature":"c2ln"}`)},
		{"missing machine_id", b64(`{"data":{"license_id":"x","license_type":"trial","issued_at":"2026-01-01T00:00:00Z"},"signature":"c2ln"}`)},
		{"unknown type", b64(`{"data":{"license_id":"x","machine_id":"*","license_type":"platinum","issued_at":"2026-01-01T00:00:00Z"},"signature":"c2ln"}`)},
		{"bad issued_at", b64(`{"data":{"license_id":"x","machine_id":"*","license_type":"trial","issued_at":"yesterday"},"signature":"c2ln"}`)},
		{"bad expires_at", b64(`{"data":{"license_id":"x","machine_id":"*","license_type":"trial","issued_at":"2026-01-01T00:00:00Z","expires_at":"soon"},"signature":"c2ln"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeArtifact(tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, licerrors.ErrMalformedArtifact), "want ErrMalformedArtifact, got %v", err)
		})
	}
}

func TestBindingMatches(t *testing.T) {
	assert.True(t, WildcardBinding().Matches("anything"))
	assert.True(t, WildcardBinding().Matches(""))
	assert.True(t, BindTo("X").Matches("X"))
	assert.False(t, BindTo("X").Matches("Y"))
}

func TestExpiryExpiredAt(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, PerpetualExpiry().ExpiredAt(now.AddDate(100, 0, 0)))
	assert.True(t, ExpireAt(now.Add(-time.Second)).ExpiredAt(now))
	assert.False(t, ExpireAt(now.Add(time.Second)).ExpiredAt(now))
	// Exactly at the deadline is still valid.
	assert.False(t, ExpireAt(now).ExpiredAt(now))
}

func TestNormalizeFeatures(t *testing.T) {
	assert.Equal(t, []string{BaselineFeature}, normalizeFeatures(nil))
	assert.Equal(t, []string{BaselineFeature}, normalizeFeatures([]string{"", "  "}))
	assert.Equal(t, []string{"a", "b"}, normalizeFeatures([]string{"b", "a", "b"}))
}

func TestParseLicenseType(t *testing.T) {
	for _, valid := range []string{"trial", "standard", "enterprise"} {
		got, err := ParseLicenseType(valid)
		require.NoError(t, err)
		assert.Equal(t, LicenseType(valid), got)
	}
	_, err := ParseLicenseType("gold")
	require.Error(t, err)
	assert.True(t, errors.Is(err, licerrors.ErrInvalidArgument))
}
