// license-admin is the administrator-side tool of the offline license
// protocol: it mints the signing key pair and issues signed .lic
// artifacts. The private key never leaves the machine this runs on.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"licctl/internal/config"
	licerrors "licctl/internal/errors"
	"licctl/internal/infrastructure"
	"licctl/internal/license"
	"licctl/internal/security"
)

const usage = `Usage: license-admin <command> [flags]

Commands:
  init             generate the RSA-2048 signing key pair
  generate         issue a signed license artifact
  show-public-key  print the distributable public key
  list             enumerate issued artifacts
  verify           verify a .lic file offline
  machine-id       print this machine's fingerprint

Run 'license-admin <command> -h' for command flags.
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return licerrors.ExitInvalidArgument
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		return licerrors.ExitFailure
	}
	paths, err := config.GetPaths(cfg.Paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return licerrors.ExitFailure
	}
	if err := paths.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return licerrors.ExitFailure
	}

	// Human-readable output goes to stdout; structured logs go to the
	// log file so they never interleave with command output.
	logCfg := cfg.Logging
	logCfg.Output = "file"
	logCfg.FilePath = paths.GetLogPath("license-admin.log")
	if _, err := infrastructure.InitializeLogger(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger: %v\n", err)
	}
	defer infrastructure.CloseLogger()

	cmd, cmdArgs := args[0], args[1:]
	var cmdErr error
	switch cmd {
	case "init":
		cmdErr = runInit(cmdArgs, paths)
	case "generate":
		cmdErr = runGenerate(cmdArgs, paths)
	case "show-public-key":
		cmdErr = runShowPublicKey(paths)
	case "list":
		cmdErr = runList(paths)
	case "verify":
		cmdErr = runVerify(cmdArgs, paths)
	case "machine-id":
		cmdErr = runMachineID()
	case "help", "-h", "--help":
		fmt.Print(usage)
		return licerrors.ExitOK
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n%s", cmd, usage)
		return licerrors.ExitInvalidArgument
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		if errors.Is(cmdErr, errLicenseInvalid) {
			return licerrors.ExitLicenseInvalid
		}
		return licerrors.ExitCode(cmdErr)
	}
	return licerrors.ExitOK
}

func runInit(args []string, paths *config.Paths) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "regenerate even if a key pair exists (invalidates every issued license)")
	if err := fs.Parse(args); err != nil {
		return licerrors.InvalidArgument("flags", err.Error())
	}

	store := license.NewKeyStore(paths.KeysDir, nil)
	if _, err := store.Initialize(*force); err != nil {
		return err
	}

	pem, err := store.PublicKeyPEM()
	if err != nil {
		return err
	}
	fmt.Println("Key pair ready.")
	fmt.Printf("  Private key: %s (keep secret, never distribute)\n", store.PrivateKeyPath())
	fmt.Printf("  Public key:  %s\n\n", store.PublicKeyPath())
	fmt.Println("Embed the following public key in the client configuration:")
	fmt.Println(pem)
	return nil
}

func runGenerate(args []string, paths *config.Paths) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	machineID := fs.String("machine-id", license.WildcardMachineID, "target machine fingerprint; * means any machine")
	days := fs.Int("days", 7, "validity in days; 0 means the license never expires")
	licensee := fs.String("licensee", "", "display name of the authorized party")
	licType := fs.String("type", string(license.TypeTrial), "license type: trial, standard, enterprise")
	features := fs.String("features", "", "comma-separated feature flags")
	output := fs.String("output", "", "output path; defaults to the licenses directory")
	if err := fs.Parse(args); err != nil {
		return licerrors.InvalidArgument("flags", err.Error())
	}

	store := license.NewKeyStore(paths.KeysDir, nil)
	issuer := license.NewIssuer(store, paths.LicensesDir, nil, nil)
	artifact, path, err := issuer.Issue(context.Background(), license.IssueRequest{
		MachineID:  *machineID,
		Days:       *days,
		Licensee:   *licensee,
		Type:       *licType,
		Features:   splitFeatures(*features),
		OutputPath: *output,
	})
	if err != nil {
		return err
	}

	p := artifact.Payload
	fmt.Println("License issued.")
	fmt.Printf("  File:       %s\n", path)
	fmt.Printf("  License ID: %s\n", p.LicenseID)
	fmt.Printf("  Licensee:   %s\n", p.Licensee)
	fmt.Printf("  Machine:    %s\n", bindingString(p.Binding))
	fmt.Printf("  Type:       %s\n", p.Type)
	fmt.Printf("  Features:   %s\n", strings.Join(p.Features, ", "))
	fmt.Printf("  Expires:    %s\n", expiryString(p.Expiry))
	fmt.Println("\nSend the .lic file to the user; it must be installed as license.lic next to the client binary.")
	return nil
}

func runShowPublicKey(paths *config.Paths) error {
	pem, err := license.NewKeyStore(paths.KeysDir, nil).PublicKeyPEM()
	if err != nil {
		return err
	}
	fmt.Print(pem)
	return nil
}

func runList(paths *config.Paths) error {
	infos, err := license.ListArtifacts(paths.LicensesDir)
	if err != nil {
		return licerrors.IO("list licenses", err)
	}
	if len(infos) == 0 {
		fmt.Println("No licenses issued yet.")
		return nil
	}

	fmt.Printf("Issued licenses (%d):\n", len(infos))
	for _, info := range infos {
		fmt.Printf("  %s\n", info.Path)
		if info.Err != nil {
			fmt.Printf("    (unreadable: %v)\n", info.Err)
			continue
		}
		p := info.Payload
		fmt.Printf("    licensee: %s  type: %s  machine: %s\n",
			p.Licensee, p.Type, truncate(bindingString(p.Binding), 24))
		fmt.Printf("    issued: %s  expires: %s\n",
			p.IssuedAt.Format(time.RFC3339), expiryString(p.Expiry))
	}
	return nil
}

func runVerify(args []string, paths *config.Paths) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	file := fs.String("file", paths.LicenseFile, "license file to verify")
	machineID := fs.String("machine-id", "", "machine fingerprint to check against; defaults to this machine")
	if err := fs.Parse(args); err != nil {
		return licerrors.InvalidArgument("flags", err.Error())
	}

	current := *machineID
	if current == "" {
		var err error
		current, err = security.NewFingerprintManager(nil).MachineID()
		if err != nil {
			return err
		}
	}

	public, err := license.NewKeyStore(paths.KeysDir, nil).LoadPublicKey()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		return licerrors.IO(fmt.Sprintf("read %s", *file), err)
	}

	result := license.NewVerifier(public, nil, nil).Verify(context.Background(), data, current, time.Now())
	if !result.Valid() {
		return fmt.Errorf("license is %s: %w", result.Code, errLicenseInvalid)
	}

	p := result.Payload
	fmt.Println("License is valid.")
	fmt.Printf("  License ID: %s\n", p.LicenseID)
	fmt.Printf("  Licensee:   %s\n", p.Licensee)
	fmt.Printf("  Type:       %s\n", p.Type)
	fmt.Printf("  Expires:    %s\n", expiryString(p.Expiry))
	return nil
}

func runMachineID() error {
	machineID, err := security.NewFingerprintManager(nil).MachineID()
	if err != nil {
		return err
	}
	fmt.Println(machineID)
	return nil
}

// errLicenseInvalid gets its own exit code so scripts can distinguish
// a failed verification from infrastructure errors.
var errLicenseInvalid = errors.New("license invalid")

func splitFeatures(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func bindingString(b license.Binding) string {
	if b.IsWildcard() {
		return "any machine"
	}
	return b.MachineID()
}

func expiryString(e license.Expiry) string {
	if e.IsPerpetual() {
		return "never"
	}
	return e.Time().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
