package license

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signedArtifact signs the payload with a throwaway key and returns
// the encoded artifact plus the verifying key.
func signedArtifact(t *testing.T, payload Payload) ([]byte, *rsa.PublicKey, *rsa.PrivateKey) {
	t.Helper()
	private, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	require.NoError(t, err)

	signature, err := signPayload(private, payload)
	require.NoError(t, err)
	encoded, err := EncodeArtifact(Artifact{Payload: payload, Signature: signature})
	require.NoError(t, err)
	return encoded, &private.PublicKey, private
}

func TestVerifyValid(t *testing.T) {
	payload := testPayload()
	encoded, public, _ := signedArtifact(t, payload)

	result := NewVerifier(public, nil, nil).
		Verify(context.Background(), encoded, "machine-abc", payload.IssuedAt.Add(time.Hour))

	require.True(t, result.Valid())
	require.NotNil(t, result.Payload)
	assert.Equal(t, payload.LicenseID, result.Payload.LicenseID)
}

func TestVerifyTamperSensitivity(t *testing.T) {
	// Mutate a payload field after signing while keeping the original
	// signature: the verifier must report a signature mismatch, never
	// trust the altered fields.
	original := testPayload()
	encoded, public, _ := signedArtifact(t, original)

	artifact, err := DecodeArtifact(encoded)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Payload)
	}{
		{"licensee", func(p *Payload) { p.Licensee = "Someone Else" }},
		{"machine binding", func(p *Payload) { p.Binding = WildcardBinding() }},
		{"expiry extended", func(p *Payload) { p.Expiry = PerpetualExpiry() }},
		{"type upgraded", func(p *Payload) { p.Type = TypeEnterprise }},
		{"features added", func(p *Payload) { p.Features = append(p.Features, "premium") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := artifact.Payload
			tampered.Features = append([]string(nil), artifact.Payload.Features...)
			tt.mutate(&tampered)

			reencoded, err := EncodeArtifact(Artifact{Payload: tampered, Signature: artifact.Signature})
			require.NoError(t, err)

			result := NewVerifier(public, nil, nil).
				Verify(context.Background(), reencoded, "machine-abc", original.IssuedAt.Add(time.Hour))
			assert.Equal(t, ResultSignatureMismatch, result.Code)
			assert.Nil(t, result.Payload, "unverified payload must not be exposed")
		})
	}
}

func TestVerifyWildcardBinding(t *testing.T) {
	payload := testPayload()
	payload.Binding = WildcardBinding()
	encoded, public, _ := signedArtifact(t, payload)
	verifier := NewVerifier(public, nil, nil)
	at := payload.IssuedAt.Add(time.Hour)

	for _, machine := range []string{"machine-abc", "entirely-different", ""} {
		result := verifier.Verify(context.Background(), encoded, machine, at)
		assert.True(t, result.Valid(), "wildcard license must verify for machine %q", machine)
	}
}

func TestVerifyExactBinding(t *testing.T) {
	payload := testPayload()
	payload.Binding = BindTo("X")
	encoded, public, _ := signedArtifact(t, payload)
	verifier := NewVerifier(public, nil, nil)
	at := payload.IssuedAt.Add(time.Hour)

	assert.True(t, verifier.Verify(context.Background(), encoded, "X", at).Valid())

	result := verifier.Verify(context.Background(), encoded, "Y", at)
	assert.Equal(t, ResultMachineMismatch, result.Code)
	require.NotNil(t, result.Payload, "signature-verified payload is reported for diagnostics")
	assert.Equal(t, "X", result.Payload.Binding.MachineID())
}

func TestVerifyPerpetualFarFuture(t *testing.T) {
	payload := testPayload()
	payload.Expiry = PerpetualExpiry()
	encoded, public, _ := signedArtifact(t, payload)

	farFuture := payload.IssuedAt.AddDate(500, 0, 0)
	result := NewVerifier(public, nil, nil).Verify(context.Background(), encoded, "machine-abc", farFuture)
	assert.True(t, result.Valid())
}

func TestVerifyExpiryBoundary(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	verifierFor := func(expiry Expiry) (*Verifier, []byte) {
		payload := testPayload()
		payload.IssuedAt = now.Add(-time.Hour)
		payload.Expiry = expiry
		encoded, public, _ := signedArtifact(t, payload)
		return NewVerifier(public, nil, nil), encoded
	}

	v, encoded := verifierFor(ExpireAt(now.Add(-time.Second)))
	result := v.Verify(context.Background(), encoded, "machine-abc", now)
	assert.Equal(t, ResultExpired, result.Code)

	v, encoded = verifierFor(ExpireAt(now.Add(time.Second)))
	result = v.Verify(context.Background(), encoded, "machine-abc", now)
	assert.True(t, result.Valid())
}

func TestVerifyKeyMismatch(t *testing.T) {
	payload := testPayload()
	encoded, _, _ := signedArtifact(t, payload)

	otherKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	require.NoError(t, err)

	result := NewVerifier(&otherKey.PublicKey, nil, nil).
		Verify(context.Background(), encoded, "machine-abc", payload.IssuedAt.Add(time.Hour))
	assert.Equal(t, ResultSignatureMismatch, result.Code)
}

func TestVerifyMalformed(t *testing.T) {
	private, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	require.NoError(t, err)

	result := NewVerifier(&private.PublicKey, nil, nil).
		Verify(context.Background(), []byte("garbage"), "any", time.Now())
	assert.Equal(t, ResultMalformed, result.Code)
	assert.Error(t, result.Err)
	assert.Nil(t, result.Payload)
}

func TestVerifySignatureGatesExpiryAndMachine(t *testing.T) {
	// An artifact that is BOTH expired and bound elsewhere, with a
	// broken signature, must come back as a signature mismatch: the
	// expiry and machine fields of an unauthenticated payload are
	// attacker-controlled and must never be evaluated.
	payload := testPayload()
	payload.Binding = BindTo("other-machine")
	payload.Expiry = ExpireAt(payload.IssuedAt.Add(time.Minute))
	encoded, public, _ := signedArtifact(t, payload)

	artifact, err := DecodeArtifact(encoded)
	require.NoError(t, err)
	artifact.Signature[0] ^= 0xff
	reencoded, err := EncodeArtifact(artifact)
	require.NoError(t, err)

	result := NewVerifier(public, nil, nil).
		Verify(context.Background(), reencoded, "this-machine", payload.IssuedAt.AddDate(1, 0, 0))
	assert.Equal(t, ResultSignatureMismatch, result.Code)
}

func TestIssueThenVerifyScenario(t *testing.T) {
	// issue(machineId="*", days=7, licensee="Acme", type=trial) then
	// verify on an arbitrary machine.
	issuer, store := newTestIssuer(t)

	artifact, _, err := issuer.Issue(context.Background(), IssueRequest{
		MachineID: WildcardMachineID,
		Days:      7,
		Licensee:  "Acme",
		Type:      string(TypeTrial),
	})
	require.NoError(t, err)

	encoded, err := EncodeArtifact(*artifact)
	require.NoError(t, err)
	public, err := store.LoadPublicKey()
	require.NoError(t, err)

	result := NewVerifier(public, nil, nil).
		Verify(context.Background(), encoded, "some-random-machine", time.Now())
	require.True(t, result.Valid())
	assert.Equal(t, TypeTrial, result.Payload.Type)
	assert.Contains(t, result.Payload.Features, BaselineFeature)
	assert.Equal(t, "Acme", result.Payload.Licensee)
}
