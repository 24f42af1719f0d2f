package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/vita3k/v3kn/api/domain"
	"github.com/vita3k/v3kn/api/services"
)

// StorageHandler serves cloud saves, trophies, and the shared trophy
// configuration pool.
type StorageHandler struct {
	storage  *services.StorageService
	accounts *services.AccountService
}

func NewStorageHandler(storage *services.StorageService, accounts *services.AccountService) *StorageHandler {
	return &StorageHandler{storage: storage, accounts: accounts}
}

// SaveInfo handles GET /v3kn/save_info?titleid=, the savedata sidecar.
func (h *StorageHandler) SaveInfo(w http.ResponseWriter, r *http.Request) {
	npid := NPIDFromContext(r.Context())
	data, err := h.storage.SaveInfo(npid, r.URL.Query().Get("titleid"))
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	h.accounts.TouchActivity(npid, remoteAddr(r))

	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(data)
}

// TrophiesInfo handles GET /v3kn/trophies_info, the trophy sidecar.
func (h *StorageHandler) TrophiesInfo(w http.ResponseWriter, r *http.Request) {
	npid := NPIDFromContext(r.Context())
	data, err := h.storage.TrophiesInfo(npid)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	h.accounts.TouchActivity(npid, remoteAddr(r))

	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(data)
}

// Download handles GET /v3kn/download_file?type=&id=.
func (h *StorageHandler) Download(w http.ResponseWriter, r *http.Request) {
	npid := NPIDFromContext(r.Context())
	q := r.URL.Query()
	data, err := h.storage.Download(npid, q.Get("type"), q.Get("id"))
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	h.accounts.TouchActivity(npid, remoteAddr(r))

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

// Upload handles POST /v3kn/upload_file?type=&id= with a multipart
// "file" part and an optional "xml" sidecar field.
func (h *StorageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	blob, err := readFilePart(r)
	if err != nil {
		WriteErr(w, r, err)
		return
	}

	// Sidecar presence matters: an empty field still overwrites.
	var xml []byte
	if r.MultipartForm != nil {
		if vals, ok := r.MultipartForm.Value["xml"]; ok && len(vals) > 0 {
			xml = []byte(vals[0])
		}
	}

	q := r.URL.Query()
	res, err := h.storage.Upload(NPIDFromContext(r.Context()), q.Get("type"), q.Get("id"), blob, xml)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, fmt.Sprintf("%d:%d", res.Used, res.Total))
}

// CheckTrophyConf handles GET /v3kn/check_trophy_conf_data: the
// communication IDs already present in the shared pool.
func (h *StorageHandler) CheckTrophyConf(w http.ResponseWriter, r *http.Request) {
	ids, err := h.storage.TrophyConfIDs()
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, ids)
}

// UploadTrophyConf handles POST /v3kn/upload_trophy_conf_data?id=
// with repeatable "file" parts, one per configuration file.
func (h *StorageHandler) UploadTrophyConf(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteErr(w, r, domain.ErrMissingFile)
		return
	}

	var files []services.UploadedFile
	for _, fh := range r.MultipartForm.File["file"] {
		part, err := fh.Open()
		if err != nil {
			WriteErr(w, r, fmt.Errorf("open upload part: %w", err))
			return
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			WriteErr(w, r, fmt.Errorf("read upload part: %w", err))
			return
		}
		files = append(files, services.UploadedFile{Name: fh.Filename, Data: data})
	}

	if err := h.storage.UploadTrophyConf(r.URL.Query().Get("id"), files); err != nil {
		WriteErr(w, r, err)
		return
	}
	respondOK(w, "TrophyConfUploaded")
}
