package assets

import (
	"bytes"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// RenderTemplate parses data as a Go template with the Sprig functions and
// executes it against value.
func RenderTemplate(name string, data []byte, value any) ([]byte, error) {
	tmpl, err := template.New(name).Funcs(sprig.TxtFuncMap()).Parse(string(data))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Render executes the embedded template called name.
func Render(name string, value any) ([]byte, error) {
	data, err := FS.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return RenderTemplate(name, data, value)
}
