// licensed-web is the client half of the offline license protocol: a
// service that verifies the installed license.lic against the
// distributed public key at startup and keeps enforcing it on every
// request through the license gate middleware.
package main

import (
	"context"
	"log/slog"
	"os"

	"licctl/internal/app"
)

func main() {
	application, err := app.NewApplication()
	if err != nil {
		slog.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.StartupCheck(context.Background()); err != nil {
		slog.Error("refusing to start without a valid license", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
