package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Dispatch {{.Channel}}]
{{- range $k, $v := .Payload }}
{{ $k }}: {{ $v }}
{{- end }}`

// Template renders webhook notification content from a broker message.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("dispatch-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to a message.
func (t *Template) Render(msg Message) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("notify template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, msg); err != nil {
		return "", err
	}
	return buf.String(), nil
}
