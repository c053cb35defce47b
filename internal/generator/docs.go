package generator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/chishui/opensearch-sparse-benchmark/internal/apperr"
)

const maxLineSize = 16 * 1024 * 1024

// DocsConfig describes a newline-delimited JSON document file. When
// SourceField is set, each line's field is remapped into a document of the
// form {TargetField: <value>}, the way the msmarco embedding dumps store
// passage vectors under a different key than the index mapping expects.
type DocsConfig struct {
	Path        string
	SourceField string
	TargetField string
}

type docsSource struct {
	cfg     DocsConfig
	file    *os.File
	scanner *bufio.Scanner
	seq     int
}

// OpenDocs opens an NDJSON document stream.
func OpenDocs(cfg DocsConfig) (Source, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open docs file: %w", err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	return &docsSource{cfg: cfg, file: f, scanner: scanner}, nil
}

func (s *docsSource) Next(ctx context.Context) (Item, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Item{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Item{}, fmt.Errorf("read docs file: %w", err)
			}
			return Item{}, io.EOF
		}

		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		id := strconv.Itoa(s.seq)
		s.seq++

		body, err := s.mapLine(line)
		if err != nil {
			return Item{}, err
		}
		return Item{ID: id, Body: body}, nil
	}
}

func (s *docsSource) mapLine(line []byte) (json.RawMessage, error) {
	if s.cfg.SourceField == "" {
		if !json.Valid(line) {
			return nil, apperr.NewEncoding("document line %d is not valid JSON", s.seq-1)
		}
		body := make(json.RawMessage, len(line))
		copy(body, line)
		return body, nil
	}

	var record map[string]json.RawMessage
	if err := json.Unmarshal(line, &record); err != nil {
		return nil, apperr.NewEncoding("document line %d: %v", s.seq-1, err)
	}

	value, ok := record[s.cfg.SourceField]
	if !ok {
		return nil, apperr.NewEncoding("document line %d has no field %q", s.seq-1, s.cfg.SourceField)
	}

	target := s.cfg.TargetField
	if target == "" {
		target = s.cfg.SourceField
	}
	return json.Marshal(map[string]json.RawMessage{target: value})
}

func (s *docsSource) Close() error {
	return s.file.Close()
}
