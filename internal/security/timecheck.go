package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ErrClockRollback indicates the system clock is behind the recorded
// high-water mark, i.e. it was wound back after a previous run. An
// expired license cannot be revived by setting the clock back.
var ErrClockRollback = errors.New("system clock is behind last recorded time")

// rollbackTolerance absorbs NTP corrections and small clock jitter.
const rollbackTolerance = 2 * time.Minute

// timeState is the persisted high-water mark. The signature is an
// HMAC over the timestamp keyed with the machine fingerprint, so the
// state file cannot be copied from another machine or hand-edited.
type timeState struct {
	HighWater time.Time `json:"high_water"`
	Signature string    `json:"signature"`
}

// TimeValidator tracks the latest observed wall-clock time across
// process runs and flags rollbacks. It lives outside the core Verify,
// which stays a pure function; callers that want rollback protection
// run Check before and Record after a successful verification.
type TimeValidator struct {
	path   string
	secret []byte
	logger *slog.Logger
}

// NewTimeValidator creates a validator persisting state at path,
// keyed with the machine fingerprint (or any stable per-machine
// secret).
func NewTimeValidator(path string, machineSecret string, logger *slog.Logger) *TimeValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeValidator{
		path:   path,
		secret: []byte(machineSecret),
		logger: logger.With(slog.String("component", "time_validator")),
	}
}

// Check compares now against the recorded high-water mark. A missing
// or unreadable state file passes: first run has nothing to compare.
// A state file with a bad signature fails closed.
func (tv *TimeValidator) Check(now time.Time) error {
	data, err := os.ReadFile(tv.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read time state: %w", err)
	}

	var state timeState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("time state file is corrupt: %w", err)
	}
	if state.Signature != tv.sign(state.HighWater) {
		return fmt.Errorf("time state file signature mismatch: %w", ErrClockRollback)
	}

	if now.Add(rollbackTolerance).Before(state.HighWater) {
		tv.logger.Warn("clock rollback detected",
			slog.Time("now", now),
			slog.Time("high_water", state.HighWater))
		return fmt.Errorf("%w (recorded %s, now %s)", ErrClockRollback,
			state.HighWater.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return nil
}

// Record advances the high-water mark to now if it moved forward.
func (tv *TimeValidator) Record(now time.Time) error {
	if data, err := os.ReadFile(tv.path); err == nil {
		var state timeState
		if json.Unmarshal(data, &state) == nil && state.HighWater.After(now) {
			return nil
		}
	}

	state := timeState{HighWater: now.UTC()}
	state.Signature = tv.sign(state.HighWater)
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal time state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(tv.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(tv.path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to write time state: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write time state: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write time state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write time state: %w", err)
	}
	return os.Rename(tmpPath, tv.path)
}

func (tv *TimeValidator) sign(t time.Time) string {
	mac := hmac.New(sha256.New, tv.secret)
	mac.Write([]byte(t.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(mac.Sum(nil))
}
