// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package web

import (
	"embed"
	"html/template"
	"io"

	"github.com/pdiddy/scad2stl/internal/controller"
	"github.com/pdiddy/scad2stl/pkg/types"
)

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(
	template.New("index.html").Funcs(template.FuncMap{
		"initializing": func(v controller.View) bool {
			return v.Readiness.State == types.EngineNotReady || v.Readiness.State == ""
		},
	}).ParseFS(templateFS, "templates/index.html"),
)

type pageData struct {
	View controller.View
	Year int
}

func renderPage(w io.Writer, data pageData) error {
	return pageTemplate.Execute(w, data)
}
