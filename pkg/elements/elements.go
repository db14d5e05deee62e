// Package elements provides the concrete UI element constructors. Every
// element is a thin leaf producer over the scope's emission primitive: it
// captures its call site, allocates a stable id, appends a typed node, and —
// for interactive elements — reads the last client-reported value back from
// the session's widget store.
//
// Elements rendered inside a loop over a reorderable collection should pass
// WithKey with a per-item key; unkeyed looped elements keep identity by
// position, not by item.
package elements

import (
	"github.com/reflow-ui/reflow/pkg/execctx"
	"github.com/reflow-ui/reflow/pkg/identity"
	"github.com/reflow-ui/reflow/pkg/node"
)

type options struct {
	key  string
	site identity.Site
}

// Option configures an element constructor.
type Option func(*options)

// WithKey pins the element's id to "k:<key>" regardless of call site, giving
// per-item stability across reordered collections.
func WithKey(key string) Option {
	return func(o *options) { o.key = key }
}

// At overrides the captured call site; wrappers use it to name their caller.
func At(site identity.Site) Option {
	return func(o *options) { o.site = site }
}

func buildOptions(opts []Option) options {
	o := options{site: identity.Callsite(2)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Text renders a plain text block.
func Text(s *execctx.Scope, body string, opts ...Option) error {
	o := buildOptions(opts)
	_, err := s.Emit(o.site, "text", node.Props{"body": body}, o.key)
	return err
}

// Markdown renders a markdown block.
func Markdown(s *execctx.Scope, text string, opts ...Option) error {
	o := buildOptions(opts)
	_, err := s.Emit(o.site, "markdown", node.Props{"text": text}, o.key)
	return err
}

// JSON renders a collapsible JSON viewer over any JSON-compatible value.
func JSON(s *execctx.Scope, data any, opts ...Option) error {
	o := buildOptions(opts)
	_, err := s.Emit(o.site, "json", node.Props{"data": data}, o.key)
	return err
}

// Progress renders a progress bar for a fraction in [0, 1].
func Progress(s *execctx.Scope, fraction float64, opts ...Option) error {
	o := buildOptions(opts)
	_, err := s.Emit(o.site, "progress", node.Props{"value": fraction}, o.key)
	return err
}

// Button renders a button and reports whether it was clicked since the last
// run. The click is one-shot: it reads true in exactly one run.
func Button(s *execctx.Scope, label string, opts ...Option) (bool, error) {
	o := buildOptions(opts)
	n, err := s.Emit(o.site, "button", node.Props{"label": label}, o.key)
	if err != nil {
		return false, err
	}
	widgets, err := s.Widgets()
	if err != nil {
		return false, err
	}
	v, ok := widgets.Take(n.ID)
	return ok && boolValue(v), nil
}

// Checkbox renders a checkbox and returns its current value.
func Checkbox(s *execctx.Scope, label string, def bool, opts ...Option) (bool, error) {
	o := buildOptions(opts)
	n, err := s.Emit(o.site, "checkbox", node.Props{"label": label, "default": def}, o.key)
	if err != nil {
		return false, err
	}
	widgets, err := s.Widgets()
	if err != nil {
		return false, err
	}
	if v, ok := widgets.Value(n.ID); ok {
		return boolValue(v), nil
	}
	return def, nil
}

// Slider renders a numeric slider and returns its current value.
func Slider(s *execctx.Scope, label string, min, max, def float64, opts ...Option) (float64, error) {
	o := buildOptions(opts)
	n, err := s.Emit(o.site, "slider", node.Props{
		"label": label, "min": min, "max": max, "default": def,
	}, o.key)
	if err != nil {
		return 0, err
	}
	widgets, err := s.Widgets()
	if err != nil {
		return 0, err
	}
	if v, ok := widgets.Value(n.ID); ok {
		if f, ok := floatValue(v); ok {
			return f, nil
		}
	}
	return def, nil
}

// TextInput renders a single-line text input and returns its current value.
func TextInput(s *execctx.Scope, label, def string, opts ...Option) (string, error) {
	o := buildOptions(opts)
	n, err := s.Emit(o.site, "text_input", node.Props{"label": label, "default": def}, o.key)
	if err != nil {
		return "", err
	}
	widgets, err := s.Widgets()
	if err != nil {
		return "", err
	}
	if v, ok := widgets.Value(n.ID); ok {
		if str, ok := v.(string); ok {
			return str, nil
		}
	}
	return def, nil
}

// Select renders a single-choice selector over the given options and returns
// the selected option.
func Select(s *execctx.Scope, label string, choices []string, opts ...Option) (string, error) {
	o := buildOptions(opts)
	n, err := s.Emit(o.site, "select", node.Props{"label": label, "options": choices}, o.key)
	if err != nil {
		return "", err
	}
	idx, err := storedIndex(s, n.ID, len(choices))
	if err != nil {
		return "", err
	}
	if len(choices) == 0 {
		return "", nil
	}
	return choices[idx], nil
}

// Navigation renders the page switcher and returns the selected page. The
// execution loop programs it when a script signals navigation.
func Navigation(s *execctx.Scope, pages []string, opts ...Option) (string, error) {
	o := buildOptions(opts)
	n, err := s.Emit(o.site, "navigation", node.Props{"pages": pages}, o.key)
	if err != nil {
		return "", err
	}
	idx, err := storedIndex(s, n.ID, len(pages))
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return "", nil
	}
	return pages[idx], nil
}

func storedIndex(s *execctx.Scope, id string, bound int) (int, error) {
	widgets, err := s.Widgets()
	if err != nil {
		return 0, err
	}
	if v, ok := widgets.Value(id); ok {
		if f, ok := floatValue(v); ok {
			idx := int(f)
			if idx >= 0 && idx < bound {
				return idx, nil
			}
		}
	}
	return 0, nil
}

func boolValue(v any) bool {
	b, _ := v.(bool)
	return b
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
