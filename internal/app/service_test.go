package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licctl/internal/license"
	"licctl/internal/security"
)

// issueTo generates a fresh keypair, issues a license bound to the
// given machine and installs it, returning the service wired to it.
func issueTo(t *testing.T, machineID string, strictTime bool) (*LicenseService, *security.TimeValidator) {
	t.Helper()
	dir := t.TempDir()

	keys := license.NewKeyStore(filepath.Join(dir, "keys"), nil)
	_, err := keys.Initialize(false)
	require.NoError(t, err)

	licenseFile := filepath.Join(dir, "license.lic")
	issuer := license.NewIssuer(keys, filepath.Join(dir, "licenses"), nil, nil)
	_, _, err = issuer.Issue(context.Background(), license.IssueRequest{
		MachineID:  machineID,
		Days:       7,
		Licensee:   "Service Test",
		Type:       string(license.TypeStandard),
		OutputPath: licenseFile,
	})
	require.NoError(t, err)

	public, err := keys.LoadPublicKey()
	require.NoError(t, err)

	tv := security.NewTimeValidator(filepath.Join(dir, "timestate.json"), "test-secret", nil)
	svc := NewLicenseService(
		licenseFile,
		license.NewVerifier(public, nil, nil),
		security.NewFingerprintManager(nil),
		tv,
		strictTime,
		nil,
	)
	return svc, tv
}

func TestServiceCheckValidLicense(t *testing.T) {
	svc, _ := issueTo(t, license.WildcardMachineID, false)

	result, err := svc.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Valid())
	require.NotNil(t, result.Payload)
	assert.Equal(t, "Service Test", result.Payload.Licensee)
}

func TestServiceCheckBoundToThisMachine(t *testing.T) {
	machineID, err := security.NewFingerprintManager(nil).MachineID()
	require.NoError(t, err)

	svc, _ := issueTo(t, machineID, false)

	result, err := svc.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, license.ResultValid, result.Code)
}

func TestServiceCheckMachineMismatch(t *testing.T) {
	svc, _ := issueTo(t, "some-other-machine", false)

	result, err := svc.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, license.ResultMachineMismatch, result.Code)
}

func TestServiceCheckMissingLicenseFile(t *testing.T) {
	dir := t.TempDir()
	keys := license.NewKeyStore(filepath.Join(dir, "keys"), nil)
	pair, err := keys.Initialize(false)
	require.NoError(t, err)

	svc := NewLicenseService(
		filepath.Join(dir, "license.lic"),
		license.NewVerifier(pair.Public, nil, nil),
		security.NewFingerprintManager(nil),
		nil,
		false,
		nil,
	)

	_, err = svc.Check(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestServiceCheckRecordsHighWaterMark(t *testing.T) {
	svc, tv := issueTo(t, license.WildcardMachineID, true)

	_, err := svc.Check(context.Background())
	require.NoError(t, err)

	// A later check against the recorded mark still passes.
	require.NoError(t, tv.Check(time.Now()))
}

func TestServiceCheckClockRollback(t *testing.T) {
	svc, tv := issueTo(t, license.WildcardMachineID, true)

	// Simulate a previous run that recorded a future high-water mark.
	require.NoError(t, tv.Record(time.Now().Add(time.Hour)))

	_, err := svc.Check(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, security.ErrClockRollback))
}

func TestServiceMachineID(t *testing.T) {
	svc, _ := issueTo(t, license.WildcardMachineID, false)

	id, err := svc.MachineID()
	require.NoError(t, err)
	assert.Len(t, id, 64)
}
