// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// readQueries reads the queries of every file in turn, or of stdin if no
// file is given.
func readQueries(files []string, stdin io.Reader) ([]string, error) {
	if len(files) == 0 {
		return splitQueries(stdin)
	}
	var queries []string
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("cannot read queries: %w", err)
		}
		qs, err := splitQueries(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("cannot read queries from %s: %w", name, err)
		}
		queries = append(queries, qs...)
	}
	return queries, nil
}

// splitQueries splits r into queries. A query ends at a line ending with a
// semicolon, or at the end of input. Lines starting with -- are skipped.
func splitQueries(r io.Reader) ([]string, error) {
	var queries []string
	var current []string
	flush := func() {
		query := strings.TrimSpace(strings.Join(current, "\n"))
		current = nil
		if query != "" {
			queries = append(queries, query)
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		if strings.HasSuffix(line, ";") {
			current = append(current, strings.TrimSuffix(line, ";"))
			flush()
			continue
		}
		current = append(current, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return queries, nil
}
