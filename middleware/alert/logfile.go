package alert

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

const lineTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Record é uma linha do log já interpretada.
type Record struct {
	Timestamp string   `json:"timestamp"`
	Severity  Severity `json:"severity"`
	Type      Type     `json:"type"`
	Message   string   `json:"message"`
}

var lineRe = regexp.MustCompile(`^\[([^\]]+)\] \[([A-Z]+)\] \[([A-Z_]+)\] (.*)$`)

// formatLine: [timestamp] [SEVERITY] [TYPE] message
func formatLine(a Alert) string {
	msg := strings.ReplaceAll(a.Message, "\n", " ")
	return fmt.Sprintf("[%s] [%s] [%s] %s", a.Timestamp.UTC().Format(lineTimeLayout), a.Severity, a.Type, msg)
}

func parseLine(line string) (Record, bool) {
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return Record{}, false
	}
	return Record{Timestamp: m[1], Severity: Severity(m[2]), Type: Type(m[3]), Message: m[4]}, true
}

// logFile é o log append-only; o mutex serializa escrita, leitura e truncate.
type logFile struct {
	path string
	mu   sync.Mutex
}

func (f *logFile) append(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("alert: create log dir: %w", err)
		}
	}
	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("alert: open log: %w", err)
	}
	if _, err := fh.WriteString(line + "\n"); err != nil {
		_ = fh.Close()
		return fmt.Errorf("alert: write log: %w", err)
	}
	return fh.Close()
}

// records lê o log inteiro; linhas fora do formato são ignoradas. Arquivo ausente => vazio.
func (f *logFile) records() ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("alert: open log: %w", err)
	}
	defer fh.Close()

	var out []Record
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		if r, ok := parseLine(sc.Text()); ok {
			out = append(out, r)
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("alert: read log: %w", err)
	}
	return out, nil
}

func (f *logFile) truncate() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Truncate(f.path, 0)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("alert: truncate log: %w", err)
	}
	return nil
}
