// Package notify publishes run summaries to the configured sinks.
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"component-deployer/internal/component"
)

// Summary encodings.
const (
	FormatMsgpack = "msgpack"
	FormatJSON    = "json"
)

// ComponentRef identifies a component in a summary.
type ComponentRef struct {
	Key       string `msgpack:"key" json:"key"`
	Group     string `msgpack:"group" json:"group"`
	Name      string `msgpack:"name" json:"name"`
	Version   string `msgpack:"version" json:"version"`
	CreatedAt int64  `msgpack:"created_at" json:"created_at"`
}

// Failure is one failed check in a summary.
type Failure struct {
	Component ComponentRef `msgpack:"component" json:"component"`
	Check     string       `msgpack:"check" json:"check"`
	Problem   string       `msgpack:"problem" json:"problem"`
}

// RunSummary describes the outcome of one deployment run, handed to the
// publish and reporting side.
type RunSummary struct {
	RunID      string         `msgpack:"run_id" json:"run_id"`
	Task       string         `msgpack:"task" json:"task"`
	Repository string         `msgpack:"repository" json:"repository"`
	Filter     string         `msgpack:"filter" json:"filter"`
	Selector   string         `msgpack:"selector,omitempty" json:"selector,omitempty"`
	Status     string         `msgpack:"status" json:"status"`
	Error      string         `msgpack:"error,omitempty" json:"error,omitempty"`
	StartedAt  int64          `msgpack:"started_at" json:"started_at"`
	FinishedAt int64          `msgpack:"finished_at" json:"finished_at"`
	Watermark  int64          `msgpack:"watermark" json:"watermark"`
	Pages      int            `msgpack:"pages" json:"pages"`
	Seen       int            `msgpack:"seen" json:"seen"`
	ToDeploy   []ComponentRef `msgpack:"to_deploy" json:"to_deploy"`
	Failures   []Failure      `msgpack:"failures" json:"failures"`
}

// RefOf builds the summary reference of c.
func RefOf(c *component.Component) ComponentRef {
	return ComponentRef{
		Key:       c.Key(),
		Group:     c.Group,
		Name:      c.Name,
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
	}
}

// Refs converts components in order.
func Refs(cs []*component.Component) []ComponentRef {
	out := make([]ComponentRef, 0, len(cs))
	for _, c := range cs {
		out = append(out, RefOf(c))
	}
	return out
}

// Failures converts failed checks in order.
func Failures(fs []component.FailedCheck) []Failure {
	out := make([]Failure, 0, len(fs))
	for _, f := range fs {
		out = append(out, Failure{Component: RefOf(f.Component), Check: f.Check, Problem: f.Problem})
	}
	return out
}

// Encode serializes the summary. An empty format means msgpack.
func (s *RunSummary) Encode(format string) ([]byte, error) {
	switch format {
	case "", FormatMsgpack:
		return msgpack.Marshal(s)
	case FormatJSON:
		return json.Marshal(s)
	}
	return nil, fmt.Errorf("unknown summary format: %s", format)
}

// DecodeSummary parses a summary produced by Encode.
func DecodeSummary(format string, data []byte) (*RunSummary, error) {
	var s RunSummary
	var err error
	switch format {
	case "", FormatMsgpack:
		err = msgpack.Unmarshal(data, &s)
	case FormatJSON:
		err = json.Unmarshal(data, &s)
	default:
		return nil, fmt.Errorf("unknown summary format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &s, nil
}
