package handlers

import (
	"io"
	"net/http"
	"os"
)

const rootPage = `<!DOCTYPE html>
<html>
<head><title>v3kn</title></head>
<body>
<h1>v3kn server is running</h1>
<p>Welcome to the Vita3K Network server!</p>
</body>
</html>
`

// SiteHandler serves the human-facing pages next to the console API.
type SiteHandler struct {
	faviconPath string
}

func NewSiteHandler() *SiteHandler {
	return &SiteHandler{faviconPath: "favicon.ico"}
}

func (h *SiteHandler) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = io.WriteString(w, rootPage)
}

// Favicon serves favicon.ico from the working directory when present.
func (h *SiteHandler) Favicon(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(h.faviconPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/x-icon")
	_, _ = w.Write(data)
}

func (h *SiteHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}
