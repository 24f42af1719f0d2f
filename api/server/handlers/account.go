package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vita3k/v3kn/api/domain"
	"github.com/vita3k/v3kn/api/services"
)

// AccountHandler serves the account lifecycle plus avatars.
type AccountHandler struct {
	accounts *services.AccountService
}

func NewAccountHandler(accounts *services.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// Create handles POST /v3kn/create (npid, password).
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	token, err := h.accounts.Create(r.FormValue("npid"), r.FormValue("password"), remoteAddr(r))
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, token)
}

// Login handles POST /v3kn/login (npid, password).
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	res, err := h.accounts.Login(r.FormValue("npid"), r.FormValue("password"), remoteAddr(r))
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, fmt.Sprintf("%s:%d:%d:%d", res.Token, res.CreatedAt, res.QuotaUsed, h.accounts.QuotaTotal()))
}

// Check handles GET /v3kn/check, the console's connection probe.
func (h *AccountHandler) Check(w http.ResponseWriter, r *http.Request) {
	npid := NPIDFromContext(r.Context())
	status, err := h.accounts.Check(npid, remoteAddr(r))
	if err != nil {
		WriteErr(w, r, err)
		return
	}

	ua := r.Header.Get("User-Agent")
	if ua == "" {
		ua = "Unknown"
	}
	slog.Info("connection check", "npid", npid, "ua", ua)

	respondOK(w, fmt.Sprintf("Connected:%d:%d:%d", status.CreatedAt, status.QuotaUsed, h.accounts.QuotaTotal()))
}

// Quota handles GET /v3kn/quota.
func (h *AccountHandler) Quota(w http.ResponseWriter, r *http.Request) {
	used, err := h.accounts.Quota(NPIDFromContext(r.Context()), remoteAddr(r))
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, fmt.Sprintf("%d:%d", used, h.accounts.QuotaTotal()))
}

// Delete handles POST /v3kn/delete (password).
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Delete(NPIDFromContext(r.Context()), r.FormValue("password")); err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, "UserDeleted")
}

// ChangeNPID handles POST /v3kn/change_npid (new_npid, password).
func (h *AccountHandler) ChangeNPID(w http.ResponseWriter, r *http.Request) {
	npid := NPIDFromContext(r.Context())
	err := h.accounts.ChangeNPID(npid, r.FormValue("new_npid"), r.FormValue("password"), remoteAddr(r))
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, "NPIDChanged")
}

// ChangePassword handles POST /v3kn/change_password (old_password,
// new_password). The response carries the replacement token.
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	npid := NPIDFromContext(r.Context())
	token, err := h.accounts.ChangePassword(npid, r.FormValue("old_password"), r.FormValue("new_password"), remoteAddr(r))
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, token)
}

// GetAvatar handles GET /v3kn/avatar. An optional npid query serves
// another user's avatar.
func (h *AccountHandler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	npid := NPIDFromContext(r.Context())
	target := domain.TrimNPID(r.URL.Query().Get("npid"))
	if target == "" {
		target = npid
	}

	data, err := h.accounts.LoadAvatar(target)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	h.accounts.TouchActivity(npid, remoteAddr(r))

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

// UploadAvatar handles POST /v3kn/avatar (multipart "file").
func (h *AccountHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	data, err := readFilePart(r)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	if err := h.accounts.UploadAvatar(NPIDFromContext(r.Context()), data); err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, "AvatarUploaded")
}
