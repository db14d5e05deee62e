package main

import (
	"fmt"
	"time"

	"github.com/reflow-ui/reflow/pkg/elements"
	"github.com/reflow-ui/reflow/pkg/execctx"
	"github.com/reflow-ui/reflow/pkg/fragment"
	"github.com/reflow-ui/reflow/pkg/runloop"
	"github.com/reflow-ui/reflow/pkg/session"
)

// demoApp is the bundled demo: a two-page app exercising widgets, session
// state, containers, navigation and a self-refreshing fragment.
func demoApp(mgr *session.Manager) runloop.Script {
	return func(s *execctx.Scope) error {
		id, err := s.SessionID()
		if err != nil {
			return err
		}
		sess, ok := mgr.Get(id)
		if !ok {
			return fmt.Errorf("session %s not registered", id)
		}

		if err := elements.Markdown(s, "# Reflow demo"); err != nil {
			return err
		}

		page, err := elements.Navigation(s, []string{"Counter", "Form"})
		if err != nil {
			return err
		}
		switch page {
		case "Form":
			return formPage(s, sess)
		default:
			return counterPage(s, sess)
		}
	}
}

func counterPage(s *execctx.Scope, sess *session.Session) error {
	// State survives reruns and, with a durable backend, server restarts;
	// restored snapshots decode numbers as float64.
	count, _ := sess.State().GetOr("count", float64(0)).(float64)

	cols, err := elements.Columns(s, 2)
	if err != nil {
		return err
	}
	inc, err := elements.Button(cols[0], "+1")
	if err != nil {
		return err
	}
	dec, err := elements.Button(cols[1], "-1")
	if err != nil {
		return err
	}
	if inc {
		count++
	}
	if dec {
		count--
	}
	sess.State().Set("count", count)

	if err := elements.Text(s, fmt.Sprintf("count: %.0f", count)); err != nil {
		return err
	}
	if err := elements.Progress(s, clamp(count/10)); err != nil {
		return err
	}

	// The clock repaints every second without rerunning the rest of the page.
	_, err = fragment.Define(s, func(fs *execctx.Scope) error {
		return elements.Text(fs, "server time: "+time.Now().Format(time.RFC3339))
	}, fragment.WithKey("clock"), fragment.Every(time.Second))
	return err
}

func formPage(s *execctx.Scope, sess *session.Session) error {
	name, err := elements.TextInput(s, "Name", "")
	if err != nil {
		return err
	}
	color, err := elements.Select(s, "Favorite color", []string{"red", "green", "blue"})
	if err != nil {
		return err
	}
	brightness, err := elements.Slider(s, "Brightness", 0, 100, 50)
	if err != nil {
		return err
	}
	subscribed, err := elements.Checkbox(s, "Subscribe to updates", false)
	if err != nil {
		return err
	}

	submitted, err := elements.Button(s, "Submit")
	if err != nil {
		return err
	}
	if submitted {
		sess.State().Set("last_submission", map[string]any{
			"name":       name,
			"color":      color,
			"brightness": brightness,
			"subscribed": subscribed,
		})
	}

	if last, ok := sess.State().Get("last_submission"); ok {
		exp, err := elements.Expander(s, "Last submission", true)
		if err != nil {
			return err
		}
		if err := elements.JSON(exp, last); err != nil {
			return err
		}

		reset, err := elements.Button(s, "Reset")
		if err != nil {
			return err
		}
		if reset {
			sess.State().Delete("last_submission")
			return runloop.Rerun()
		}
	}
	return nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
