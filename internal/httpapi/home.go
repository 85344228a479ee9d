package httpapi

import (
	"bytes"
	"embed"
	"html/template"
	"log"
	"net/http"
)

//go:embed templates/home.html
var templateFS embed.FS

var homeTemplate = template.Must(template.ParseFS(templateFS, "templates/home.html"))

type homePage struct {
	BaseURL    string
	Version    string
	Serverless bool
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	page := homePage{BaseURL: baseURL(r), Version: apiVersion, Serverless: s.cfg.Serverless}
	if err := homeTemplate.Execute(&buf, page); err != nil {
		log.Printf("httpapi: render home page: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
