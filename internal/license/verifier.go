package license

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"log/slog"
	"time"
)

// ResultCode classifies a verification verdict.
type ResultCode string

const (
	ResultValid             ResultCode = "valid"
	ResultMalformed         ResultCode = "malformed"
	ResultSignatureMismatch ResultCode = "signature_mismatch"
	ResultExpired           ResultCode = "expired"
	ResultMachineMismatch   ResultCode = "machine_mismatch"
)

// VerificationResult is the structured verdict returned by Verify.
// Invalid outcomes are ordinary result variants, not errors: the
// caller branches on Code.
//
// Payload is populated only once the signature has been verified
// (Valid, Expired, MachineMismatch). For SignatureMismatch and
// Malformed it stays nil: an unauthenticated payload must never be
// consulted.
type VerificationResult struct {
	Code    ResultCode
	Payload *Payload
	// Err carries the decode detail for ResultMalformed.
	Err error
}

// Valid reports whether the license is good to use.
func (r VerificationResult) Valid() bool {
	return r.Code == ResultValid
}

// Verifier checks license artifacts against the distributed public
// key. It holds no private material and performs no writes:
// verification is a pure function of (artifact bytes, public key,
// current time, current machine id).
type Verifier struct {
	public  *rsa.PublicKey
	metrics *Metrics
	logger  *slog.Logger
}

// NewVerifier creates a verifier for the given public key. Metrics may
// be nil.
func NewVerifier(public *rsa.PublicKey, metrics *Metrics, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		public:  public,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "verifier")),
	}
}

// Verify decodes the artifact and evaluates it at the given instant
// for the given machine. Evaluation order is fixed: decode, signature,
// expiry, machine. The signature check gates the expiry and machine
// checks; fields of an artifact that fails signature verification are
// attacker-controlled and never evaluated.
func (v *Verifier) Verify(ctx context.Context, artifactBytes []byte, currentMachineID string, now time.Time) VerificationResult {
	start := time.Now()
	result := v.verify(artifactBytes, currentMachineID, now)
	v.metrics.recordVerify(ctx, start, result.Code)

	if result.Valid() {
		v.logger.DebugContext(ctx, "license verified",
			slog.String("license_id", result.Payload.LicenseID),
			slog.String("type", string(result.Payload.Type)))
	} else {
		v.logger.WarnContext(ctx, "license rejected", slog.String("reason", string(result.Code)))
	}
	return result
}

// VerifyArtifact evaluates an already-decoded artifact. Used by
// callers that decoded separately (e.g. listing tools).
func (v *Verifier) VerifyArtifact(artifact Artifact, currentMachineID string, now time.Time) VerificationResult {
	if err := v.checkSignature(artifact); err != nil {
		return VerificationResult{Code: ResultSignatureMismatch}
	}
	payload := artifact.Payload
	if payload.Expiry.ExpiredAt(now) {
		return VerificationResult{Code: ResultExpired, Payload: &payload}
	}
	if !payload.Binding.Matches(currentMachineID) {
		return VerificationResult{Code: ResultMachineMismatch, Payload: &payload}
	}
	return VerificationResult{Code: ResultValid, Payload: &payload}
}

func (v *Verifier) verify(artifactBytes []byte, currentMachineID string, now time.Time) VerificationResult {
	artifact, err := DecodeArtifact(artifactBytes)
	if err != nil {
		return VerificationResult{Code: ResultMalformed, Err: err}
	}
	return v.VerifyArtifact(artifact, currentMachineID, now)
}

func (v *Verifier) checkSignature(artifact Artifact) error {
	canonical, err := Canonical(artifact.Payload)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(canonical)
	// PSSSaltLengthAuto accepts both digest-length and maximum salt,
	// so licenses signed by older PSS issuers remain verifiable.
	return rsa.VerifyPSS(v.public, crypto.SHA256, digest[:], artifact.Signature, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
}
