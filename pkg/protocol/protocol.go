// Package protocol defines the JSON wire messages between the runtime and a
// connected client: full renders and patches going out, widget events coming
// in. Inbound messages are validated against an embedded JSON Schema before
// they reach the session, in the same spirit as schema-checked UI payloads.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/reflow-ui/reflow/pkg/diff"
	"github.com/reflow-ui/reflow/pkg/node"
)

// Message types.
const (
	TypeRenderFull  = "render_full"
	TypeRenderPatch = "render_patch"
	TypeWidgetEvent = "widget_event"
)

// RenderFull carries a session's first completed run: the whole tree.
type RenderFull struct {
	Type string         `json:"type"`
	Rev  uint64         `json:"rev"`
	Tree map[string]any `json:"tree"`
}

// RenderPatch carries every subsequent completed run: ordered ops the client
// applies without additional sorting. Ops may be empty.
type RenderPatch struct {
	Type string         `json:"type"`
	Rev  uint64         `json:"rev"`
	Ops  []diff.PatchOp `json:"ops"`
}

// WidgetEvent is the only inbound message the runtime consumes: the id of an
// interactive node plus its new client-reported value. Trigger marks one-shot
// controls (button clicks) whose value is consumed by the next run.
type WidgetEvent struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Value   any    `json:"value"`
	Trigger bool   `json:"trigger,omitempty"`
}

// EncodeFull serializes a full render message.
func EncodeFull(rev uint64, root *node.Node) ([]byte, error) {
	return json.Marshal(RenderFull{Type: TypeRenderFull, Rev: rev, Tree: root.Serialize()})
}

// EncodePatch serializes a patch message. A nil op slice encodes as [].
func EncodePatch(rev uint64, ops []diff.PatchOp) ([]byte, error) {
	if ops == nil {
		ops = []diff.PatchOp{}
	}
	return json.Marshal(RenderPatch{Type: TypeRenderPatch, Rev: rev, Ops: ops})
}

// widgetEventSchema constrains inbound client messages. Value is
// intentionally unconstrained: any JSON value a widget can report.
const widgetEventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "id", "value"],
  "properties": {
    "type": {"const": "widget_event"},
    "id": {"type": "string", "minLength": 1},
    "value": {},
    "trigger": {"type": "boolean"}
  },
  "additionalProperties": false
}`

var (
	schemaOnce    sync.Once
	compiledEvent *jsonschema.Schema
	schemaErr     error
)

func eventSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("widget_event.json", strings.NewReader(widgetEventSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledEvent, schemaErr = c.Compile("widget_event.json")
	})
	return compiledEvent, schemaErr
}

// DecodeClientMessage validates and decodes one inbound message.
func DecodeClientMessage(data []byte) (*WidgetEvent, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed client message: %w", err)
	}
	schema, err := eventSchema()
	if err != nil {
		return nil, fmt.Errorf("compile widget_event schema: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid widget_event: %w", err)
	}
	var ev WidgetEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode widget_event: %w", err)
	}
	return &ev, nil
}
