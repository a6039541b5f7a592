// Package views holds the server-rendered pages.
package views

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"
)

const (
	NotFoundHeading = "404 - Page Not Found"
	NotFoundMessage = "The page you are looking for does not exist."
)

var notFoundTmpl = template.Must(template.New("notfound").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Heading}}</title>
</head>
<body>
<div class="not-found">
<h1>{{.Heading}}</h1>
<p>{{.Message}}</p>
</div>
</body>
</html>
`))

// notFoundPage is rendered once; the view takes no input so the output never changes.
var notFoundPage = mustRender(notFoundTmpl, struct{ Heading, Message string }{NotFoundHeading, NotFoundMessage})

func mustRender(t *template.Template, data interface{}) []byte {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		panic("views: render " + t.Name() + ": " + err.Error())
	}
	return buf.Bytes()
}

// NotFound returns the rendered 404 page. Each call returns a fresh copy
// with identical bytes.
func NotFound() []byte {
	out := make([]byte, len(notFoundPage))
	copy(out, notFoundPage)
	return out
}

// NotFoundHandler serves the 404 page for any method and path.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Type", "text/html; charset=utf-8")
		h.Set("Content-Length", strconv.Itoa(len(notFoundPage)))
		h.Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusNotFound)
		if r.Method != http.MethodHead {
			w.Write(notFoundPage)
		}
	})
}
