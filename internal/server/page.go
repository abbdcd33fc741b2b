package server

import (
	"html/template"
	"log"
	"net/http"
	"strconv"

	"github.com/menta2k/visual-dictionary/pkg/dictionary"
)

// Entry images are data URLs built from sniffed image bytes, so they are
// marked as trusted for the src attribute.
var dictionaryPage = template.Must(template.New("dictionary").Funcs(template.FuncMap{
	"safeURL": func(s string) template.URL { return template.URL(s) },
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Visual Dictionary</title></head>
<body>
<h1>My Dictionary</h1>
{{if not .Entries}}<p>No saved words yet.</p>{{end}}
<ul>
{{range .Entries}}
<li>
{{if .Image}}<img src="{{.Image.DataURL | safeURL}}" alt="{{.Text}}" width="120">{{end}}
<strong>{{.Text}}</strong> <small>{{.LanguagePair}}</small>
<small>{{.Point}}</small> <small>{{.CreatedAt}}</small>
<form method="post" action="/dictionary/{{.ID}}/delete"><button type="submit">Delete</button></form>
</li>
{{end}}
</ul>
</body>
</html>
`))

type pageData struct {
	Entries []dictionary.Entry
}

func (srv *Server) handleDictionaryPage(w http.ResponseWriter, r *http.Request) {
	list, err := srv.opts.Store.List(r.Context())
	if err != nil {
		http.Error(w, "failed to load dictionary", http.StatusInternalServerError)
		log.Printf("Failed to load dictionary: %v", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dictionaryPage.Execute(w, pageData{Entries: list}); err != nil {
		log.Printf("Failed to render dictionary page: %v", err)
	}
}

// handleDeletePageEntry serves the delete buttons on the dictionary page
func (srv *Server) handleDeletePageEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid entry id", http.StatusBadRequest)
		return
	}
	if err := srv.opts.Store.Remove(r.Context(), id); err != nil {
		http.Error(w, "failed to delete entry", http.StatusInternalServerError)
		log.Printf("Failed to delete entry %d: %v", id, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
