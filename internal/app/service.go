package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"licctl/internal/license"
	"licctl/internal/security"
)

// LicenseService is the client half of the protocol as a long-lived
// service sees it: read the installed .lic file, verify it against the
// distributed public key, and guard against clock rollback. It
// implements middleware.Checker.
type LicenseService struct {
	licenseFile   string
	verifier      *license.Verifier
	fingerprint   *security.FingerprintManager
	timeValidator *security.TimeValidator
	strictTime    bool
	logger        *slog.Logger
}

// NewLicenseService wires the verifier to the installed license file.
func NewLicenseService(
	licenseFile string,
	verifier *license.Verifier,
	fingerprint *security.FingerprintManager,
	timeValidator *security.TimeValidator,
	strictTime bool,
	logger *slog.Logger,
) *LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseService{
		licenseFile:   licenseFile,
		verifier:      verifier,
		fingerprint:   fingerprint,
		timeValidator: timeValidator,
		strictTime:    strictTime,
		logger:        logger.With(slog.String("component", "license_service")),
	}
}

// Check verifies the installed license for this machine at the current
// time. Infrastructure failures (no license file, clock rollback)
// come back as errors; protocol rejections are inside the result.
func (s *LicenseService) Check(ctx context.Context) (license.VerificationResult, error) {
	now := time.Now()

	if s.strictTime && s.timeValidator != nil {
		if err := s.timeValidator.Check(now); err != nil {
			return license.VerificationResult{}, err
		}
	}

	machineID, err := s.fingerprint.MachineID()
	if err != nil {
		return license.VerificationResult{}, fmt.Errorf("failed to compute machine fingerprint: %w", err)
	}

	data, err := os.ReadFile(s.licenseFile)
	if err != nil {
		// Preserves os.ErrNotExist for the gate's not-found mapping.
		return license.VerificationResult{}, fmt.Errorf("failed to read license file: %w", err)
	}

	result := s.verifier.Verify(ctx, data, machineID, now)

	if result.Valid() && s.timeValidator != nil {
		if err := s.timeValidator.Record(now); err != nil {
			s.logger.WarnContext(ctx, "failed to record time high-water mark",
				slog.String("error", err.Error()))
		}
	}
	return result, nil
}

// MachineID exposes the fingerprint for the status endpoints.
func (s *LicenseService) MachineID() (string, error) {
	return s.fingerprint.MachineID()
}
