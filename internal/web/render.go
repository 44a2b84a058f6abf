package web

import (
	"embed"
	"html/template"
	"io"
	"sync"
	"time"

	"github.com/matst80/husky/internal/obs"
)

//go:embed templates/*.html
var tmplFS embed.FS

var (
	once sync.Once
	tmpl *template.Template
)

func load() {
	tmpl = template.Must(template.New("").ParseFS(tmplFS, "templates/*.html"))
}

// Render writes the named template to w. data is copied and enriched with Now.
func Render(w io.Writer, name string, data map[string]any) error {
	once.Do(load)
	vars := make(map[string]any, len(data)+1)
	for k, v := range data {
		vars[k] = v
	}
	vars["Now"] = time.Now().Format(time.RFC822)
	if err := tmpl.ExecuteTemplate(w, name, vars); err != nil {
		obs.Warn("web.render", obs.Fields{"template": name, "err": err})
		return err
	}
	return nil
}
