package web

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/msto63/chatterbox-ui/internal/service"
	"github.com/msto63/chatterbox-ui/internal/voice"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
	"github.com/msto63/chatterbox-ui/pkg/core/version"
)

//go:embed assets
var assets embed.FS

var indexTemplate = template.Must(template.ParseFS(assets, "assets/index.html.tmpl"))

// pageData feeds the index template
type pageData struct {
	Title     string
	Version   string
	SessionID string
	Voices    []service.VoiceRecord
	VoiceErr  string
	Selection VoiceSelection
	Modes     []string
}

// PageHandler renders the UI
type PageHandler struct {
	deps   *Deps
	logger *logging.Logger
	static http.Handler
}

// NewPageHandler creates the page handler
func NewPageHandler(deps *Deps) *PageHandler {
	sub, err := fs.Sub(assets, "assets")
	if err != nil {
		panic(err)
	}
	return &PageHandler{
		deps:   deps,
		logger: deps.Logger.Named("page"),
		static: http.StripPrefix("/static/", http.FileServer(http.FS(sub))),
	}
}

// ServeHTTP serves "/" and the static assets
func (p *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/" || r.URL.Path == "/index.html":
		p.renderIndex(w, r)
	case strings.HasPrefix(r.URL.Path, "/static/"):
		p.static.ServeHTTP(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (p *PageHandler) renderIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := p.deps.Sessions.Resolve(w, r)

	data := pageData{
		Title:     "Chatterbox TTS",
		Version:   version.App,
		SessionID: sess.ID,
		Selection: sess.Selection(),
		Modes:     []string{voice.ModeDefault, voice.ModePredefined, voice.ModeClone},
	}
	res := p.deps.Service.ListVoices(r.Context())
	if res.Success {
		data.Voices = res.Voices
	} else {
		data.VoiceErr = res.Message
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		p.logger.Error("Failed to render page", "error", err)
	}
}
