package app

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/render"

	licerrors "licctl/internal/errors"
	"licctl/internal/security"
)

// LicenseStatusResponse is the body of GET /api/license/status.
type LicenseStatusResponse struct {
	Valid     bool     `json:"valid"`
	Code      string   `json:"code"`
	LicenseID string   `json:"license_id,omitempty"`
	Licensee  string   `json:"licensee,omitempty"`
	Type      string   `json:"type,omitempty"`
	Features  []string `json:"features,omitempty"`
	MachineID string   `json:"machine_id,omitempty"`
	IssuedAt  string   `json:"issued_at,omitempty"`
	ExpiresAt string   `json:"expires_at,omitempty"`
	Perpetual bool     `json:"perpetual,omitempty"`
}

func (a *Application) handleLicenseStatus(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.Check(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, security.ErrClockRollback):
			render.Render(w, r, licerrors.ErrRespClockRollback)
		case errors.Is(err, os.ErrNotExist):
			render.Render(w, r, licerrors.ErrRespLicenseNotFound)
		default:
			render.Render(w, r, licerrors.InternalResponse(err))
		}
		return
	}

	resp := LicenseStatusResponse{
		Valid: result.Valid(),
		Code:  string(result.Code),
	}
	// Payload fields are only reported for signature-verified
	// artifacts; a forged payload never makes it into a response.
	if p := result.Payload; p != nil {
		resp.LicenseID = p.LicenseID
		resp.Licensee = p.Licensee
		resp.Type = string(p.Type)
		resp.Features = p.Features
		resp.MachineID = p.Binding.MachineID()
		resp.IssuedAt = p.IssuedAt.Format(time.RFC3339)
		if p.Expiry.IsPerpetual() {
			resp.Perpetual = true
		} else {
			resp.ExpiresAt = p.Expiry.Time().Format(time.RFC3339)
		}
	}
	render.JSON(w, r, resp)
}

func (a *Application) handleMachineID(w http.ResponseWriter, r *http.Request) {
	machineID, err := a.service.MachineID()
	if err != nil {
		render.Render(w, r, licerrors.InternalResponse(err))
		return
	}
	render.JSON(w, r, map[string]string{"machine_id": machineID})
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// handleAppStatus stands in for the licensed product's real routes;
// it is only reachable through the license gate.
func (a *Application) handleAppStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status":  "operational",
		"service": "licctl-demo",
	})
}
