package generator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/chishui/opensearch-sparse-benchmark/internal/apperr"
)

// ExecConfig runs an external generator program. The program writes one JSON
// value per stdout line: either an envelope {"id": ..., "body": ...} or a
// bare document object, in which case the sequence position becomes the id.
type ExecConfig struct {
	Command []string
	Dir     string
}

type execSource struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	scanner *bufio.Scanner
	seq     int
}

type execEnvelope struct {
	ID   json.RawMessage `json:"id"`
	Body json.RawMessage `json:"body"`
}

// OpenExec starts the generator process. The process lives for at most one
// task; Close kills it if it is still running.
func OpenExec(ctx context.Context, cfg ExecConfig) (Source, error) {
	if len(cfg.Command) == 0 {
		return nil, apperr.NewConfig("exec generator has no command")
	}

	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe generator stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start generator %q: %w", cfg.Command[0], err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	return &execSource{cmd: cmd, stdout: stdout, scanner: scanner}, nil
}

func (s *execSource) Next(ctx context.Context) (Item, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Item{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Item{}, fmt.Errorf("read generator output: %w", err)
			}
			// A generator that dies mid-stream is an abnormal termination,
			// not end-of-stream.
			if err := s.cmd.Wait(); err != nil {
				return Item{}, apperr.NewGeneratorWrap("generator exited abnormally", err)
			}
			return Item{}, io.EOF
		}

		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		item, err := s.decode(line)
		if err != nil {
			return Item{}, err
		}
		return item, nil
	}
}

func (s *execSource) decode(line []byte) (Item, error) {
	seqID := strconv.Itoa(s.seq)
	s.seq++

	var env execEnvelope
	if err := json.Unmarshal(line, &env); err == nil && len(env.Body) > 0 {
		id := seqID
		if len(env.ID) > 0 {
			// Accept both "7" and 7 as ids.
			var str string
			if json.Unmarshal(env.ID, &str) == nil {
				id = str
			} else {
				id = string(env.ID)
			}
		}
		return Item{ID: id, Body: env.Body}, nil
	}

	if !json.Valid(line) {
		return Item{}, apperr.NewEncoding("generator line %d is not valid JSON", s.seq-1)
	}
	body := make(json.RawMessage, len(line))
	copy(body, line)
	return Item{ID: seqID, Body: body}, nil
}

func (s *execSource) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return nil
}
