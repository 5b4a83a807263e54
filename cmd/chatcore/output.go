// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
)

// printer writes command results as an aligned table for people or
// as JSON for scripts.
type printer struct {
	out  io.Writer
	json bool
}

func newPrinter(out io.Writer, format string) (*printer, error) {
	switch format {
	case "json":
		return &printer{out: out, json: true}, nil
	case "table":
		return &printer{out: out}, nil
	case "auto":
		file, ok := out.(*os.File)
		return &printer{out: out, json: !ok || !term.IsTerminal(int(file.Fd()))}, nil
	default:
		return nil, fmt.Errorf("--output must be auto, table, or json, got %q", format)
	}
}

// print writes value as JSON, or calls table with a tab-separated
// writer.
func (p *printer) print(value any, table func(w io.Writer)) error {
	if p.json {
		encoder := json.NewEncoder(p.out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	}
	writer := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	table(writer)
	return writer.Flush()
}

func row(w io.Writer, cells ...string) {
	fmt.Fprintln(w, strings.Join(cells, "\t"))
}
