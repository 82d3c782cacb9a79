// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/canonical/sqlinfer"
	"github.com/canonical/sqlinfer/typeinfo"
)

const (
	formatJSON = "json"
	formatText = "text"
)

func newRenderer(format string, w io.Writer) (sqlinfer.Renderer, error) {
	switch format {
	case formatJSON:
		return &jsonRenderer{w: w}, nil
	case formatText:
		return &textRenderer{w: w}, nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

type jsonType struct {
	Kind     string    `json:"kind"`
	Elem     *jsonType `json:"elem,omitempty"`
	Variants []string  `json:"variants,omitempty"`
	Value    any       `json:"value,omitempty"`
}

type jsonField struct {
	Name     string   `json:"name"`
	Type     jsonType `json:"type"`
	Nullable bool     `json:"nullable"`
}

type jsonResult struct {
	Query      string      `json:"query"`
	Parameters []jsonType  `json:"parameters,omitempty"`
	Fields     []jsonField `json:"fields,omitempty"`
	Error      string      `json:"error,omitempty"`
}

func toJSONType(t typeinfo.Type) jsonType {
	switch t := t.(type) {
	case typeinfo.Scalar:
		return jsonType{Kind: t.String()}
	case typeinfo.Sequence:
		elem := toJSONType(t.Elem)
		return jsonType{Kind: "sequence", Elem: &elem}
	case typeinfo.Enum:
		return jsonType{Kind: "enum", Variants: t.Variants}
	case typeinfo.Literal:
		return jsonType{Kind: "literal", Value: t.Value}
	}
	return jsonType{Kind: "unknown"}
}

// jsonRenderer writes the results of a flush as one JSON array.
type jsonRenderer struct {
	w io.Writer
}

func (r *jsonRenderer) Render(ctx context.Context, results []sqlinfer.Result) error {
	out := make([]jsonResult, 0, len(results))
	for _, result := range results {
		jr := jsonResult{Query: result.Query}
		if result.Err != nil {
			jr.Error = result.Err.Error()
			out = append(out, jr)
			continue
		}
		jr.Parameters = make([]jsonType, 0, len(result.Schema.Parameters))
		for _, p := range result.Schema.Parameters {
			jr.Parameters = append(jr.Parameters, toJSONType(p))
		}
		jr.Fields = make([]jsonField, 0, len(result.Schema.Fields))
		for _, f := range result.Schema.Fields {
			jr.Fields = append(jr.Fields, jsonField{Name: f.Name, Type: toJSONType(f.Type), Nullable: f.Nullable})
		}
		out = append(out, jr)
	}
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// textRenderer writes one line per query: the query and its schema, or the
// reason it failed.
type textRenderer struct {
	w io.Writer
}

func (r *textRenderer) Render(ctx context.Context, results []sqlinfer.Result) error {
	tw := tabwriter.NewWriter(r.w, 0, 8, 2, ' ', 0)
	for _, result := range results {
		if result.Err != nil {
			fmt.Fprintf(tw, "%s\terror: %s\n", result.Query, result.Err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\n", result.Query, result.Schema)
	}
	return tw.Flush()
}
