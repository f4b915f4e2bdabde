package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths is the single source of truth for every file path the toolkit
// touches. All paths are anchored at a base directory, by default the
// directory containing the executable, never the current working
// directory.
//
// Layout:
//
//	<base>/
//	  keys/
//	    private_key.pem    (0600, administrator only)
//	    public_key.pem     (distributable)
//	  licenses/            (issued .lic artifacts)
//	  logs/
//	  license.lic          (client-side installed license)
//	  timestate.json       (clock high-water mark)
type Paths struct {
	BaseDir     string
	KeysDir     string
	LicensesDir string
	LogsDir     string

	PrivateKeyFile string
	PublicKeyFile  string
	LicenseFile    string
	StateFile      string
}

const (
	privateKeyName = "private_key.pem"
	publicKeyName  = "public_key.pem"
)

// GetPaths resolves the path layout from configuration. An empty
// PathsConfig.BaseDir anchors everything at the executable directory.
func GetPaths(cfg PathsConfig) (*Paths, error) {
	base := cfg.BaseDir
	if base == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		exe, err = filepath.EvalSymlinks(exe)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable symlinks: %w", err)
		}
		base = filepath.Dir(exe)
	}

	p := &Paths{
		BaseDir:     base,
		KeysDir:     anchor(base, defaulted(cfg.KeysDir, "keys")),
		LicensesDir: anchor(base, defaulted(cfg.LicensesDir, "licenses")),
		LogsDir:     anchor(base, defaulted(cfg.LogsDir, "logs")),
	}
	p.PrivateKeyFile = filepath.Join(p.KeysDir, privateKeyName)
	p.PublicKeyFile = filepath.Join(p.KeysDir, publicKeyName)
	p.LicenseFile = anchor(base, defaulted(cfg.LicenseFile, "license.lic"))
	p.StateFile = anchor(base, defaulted(cfg.StateFile, "timestate.json"))
	return p, nil
}

// EnsureDirectories creates the writable directories. The keys
// directory is restricted since it will hold the private key.
func (p *Paths) EnsureDirectories() error {
	dirs := []struct {
		path string
		perm os.FileMode
	}{
		{p.KeysDir, 0o700},
		{p.LicensesDir, 0o755},
		{p.LogsDir, 0o755},
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d.path, d.perm); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d.path, err)
		}
	}
	return nil
}

// GetLogPath returns the path for a log file under the logs directory.
func (p *Paths) GetLogPath(name string) string {
	return filepath.Join(p.LogsDir, name)
}

func anchor(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func defaulted(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
