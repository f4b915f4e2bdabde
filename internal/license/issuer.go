package license

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	licerrors "licctl/internal/errors"
)

// DefaultLicensee is used when issuance does not name a licensee.
const DefaultLicensee = "Trial User"

// IssueRequest carries the issuance parameters. Zero values get
// defaults applied before validation: wildcard machine id, trial type,
// the baseline feature set, and the placeholder licensee.
type IssueRequest struct {
	// MachineID is a machine fingerprint or "*" for any machine.
	MachineID string `validate:"required"`
	// Days is the validity period; 0 means the license never expires.
	Days int `validate:"min=0"`
	// Licensee is the display name of the authorized party.
	Licensee string `validate:"required"`
	// Type is one of trial, standard, enterprise.
	Type string `validate:"required,oneof=trial standard enterprise"`
	// Features are the enabled feature flags.
	Features []string
	// OutputPath overrides the auto-derived artifact location.
	OutputPath string
}

// Issuer mints signed license artifacts. It holds the private key and
// never verifies; the Verifier is its symmetric counterpart.
type Issuer struct {
	keys        *KeyStore
	licensesDir string
	validate    *validator.Validate
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewIssuer creates an issuer writing auto-named artifacts under
// licensesDir. Metrics may be nil.
func NewIssuer(keys *KeyStore, licensesDir string, metrics *Metrics, logger *slog.Logger) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{
		keys:        keys,
		licensesDir: licensesDir,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		metrics:     metrics,
		logger:      logger.With(slog.String("component", "issuer")),
		now:         time.Now,
	}
}

// Issue builds, signs, and writes a license artifact. It returns the
// artifact and the path it was written to. Every successful call
// produces a licenseId never seen before. A failed issuance never
// leaves a partial file behind.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*Artifact, string, error) {
	start := i.now()

	req = applyDefaults(req)
	if err := i.validate.Struct(req); err != nil {
		i.metrics.recordIssue(ctx, start, "invalid_argument")
		return nil, "", invalidRequest(err)
	}

	private, err := i.keys.LoadPrivateKey()
	if err != nil {
		i.metrics.recordIssue(ctx, start, "key_not_found")
		return nil, "", err
	}

	now := i.now().UTC().Truncate(time.Second)
	expiry := PerpetualExpiry()
	if req.Days > 0 {
		expiry = ExpireAt(now.AddDate(0, 0, req.Days))
	}

	binding := BindTo(req.MachineID)
	if req.MachineID == WildcardMachineID {
		binding = WildcardBinding()
	}

	payload := Payload{
		LicenseID: uuid.NewString(),
		Licensee:  req.Licensee,
		Binding:   binding,
		Type:      LicenseType(req.Type),
		Features:  normalizeFeatures(req.Features),
		IssuedAt:  now,
		Expiry:    expiry,
	}

	signature, err := signPayload(private, payload)
	if err != nil {
		i.metrics.recordIssue(ctx, start, "sign_error")
		return nil, "", err
	}
	artifact := Artifact{Payload: payload, Signature: signature}

	path := req.OutputPath
	if path == "" {
		path = i.autoPath(payload.Licensee, now)
	}
	if err := i.writeArtifact(artifact, path); err != nil {
		i.metrics.recordIssue(ctx, start, "io_error")
		return nil, "", err
	}

	i.metrics.recordIssue(ctx, start, "success")
	i.logger.InfoContext(ctx, "license issued",
		slog.String("license_id", payload.LicenseID),
		slog.String("licensee", payload.Licensee),
		slog.String("machine_id", payload.Binding.MachineID()),
		slog.String("type", string(payload.Type)),
		slog.Int("days", req.Days),
		slog.String("path", path))
	return &artifact, path, nil
}

func (i *Issuer) writeArtifact(artifact Artifact, path string) error {
	encoded, err := EncodeArtifact(artifact)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return licerrors.IO("create output directory", err)
		}
	}
	if err := writeFileAtomic(path, encoded, 0o644); err != nil {
		return licerrors.IO(fmt.Sprintf("write artifact %s", path), err)
	}
	return nil
}

func (i *Issuer) autoPath(licensee string, now time.Time) string {
	name := fmt.Sprintf("license_%s_%s.lic", sanitizeName(licensee), now.Format("20060102_150405"))
	return filepath.Join(i.licensesDir, name)
}

// signPayload signs the canonical payload bytes with RSA-PSS SHA-256,
// salt length equal to the digest length.
func signPayload(private *rsa.PrivateKey, payload Payload) ([]byte, error) {
	canonical, err := Canonical(payload)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(canonical)
	signature, err := rsa.SignPSS(rand.Reader, private, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign license payload: %w", err)
	}
	return signature, nil
}

func applyDefaults(req IssueRequest) IssueRequest {
	if req.MachineID == "" {
		req.MachineID = WildcardMachineID
	}
	if req.Licensee == "" {
		req.Licensee = DefaultLicensee
	}
	if req.Type == "" {
		req.Type = string(TypeTrial)
	}
	if len(req.Features) == 0 {
		req.Features = []string{BaselineFeature}
	}
	return req
}

func invalidRequest(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		return licerrors.InvalidArgument(strings.ToLower(first.Field()),
			fmt.Sprintf("failed %q constraint", first.Tag()))
	}
	return licerrors.InvalidArgument("request", err.Error())
}

// sanitizeName keeps artifact file names shell-safe: any rune outside
// [A-Za-z0-9] becomes an underscore.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
