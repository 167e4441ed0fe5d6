// Package prompt renders narrative template fragments against the current
// inventory.
//
// Game authors write state descriptions and prompts in the Django dialect
// that pongo2 implements — `{{ coins }}` substitution and
// `{% if has_key %}…{% endif %}` conditionals — with the inventory map as the
// template context. Missing variables render as empty, matching how the
// authoring tool previews templates.
package prompt

import (
	"log/slog"

	"github.com/flosch/pongo2/v6"
)

// Render expands tpl with vars as context. Render never fails from the
// caller's perspective: a syntax or execution error is logged and the raw
// template text is returned so the player still sees something sensible.
func Render(tpl string, vars map[string]any) string {
	t, err := pongo2.FromString(tpl)
	if err != nil {
		slog.Warn("prompt: template parse failed", "err", err)
		return tpl
	}
	out, err := t.Execute(pongo2.Context(vars))
	if err != nil {
		slog.Warn("prompt: template render failed", "err", err)
		return tpl
	}
	return out
}
