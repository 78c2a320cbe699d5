// Package ledger tracks every metric name that has ever contributed a field
// to an exported point. The ledger feeds dashboard generation downstream; it
// is best-effort bookkeeping, not a correctness-critical store.
package ledger

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Ledger is an in-memory set backed by an append-only CSV (header row plus
// one name per line). Single writer; the pipeline processes one archive at a
// time and nothing else touches it.
type Ledger struct {
	path string
	log  *logrus.Logger
	seen map[string]bool
}

// Open seeds the ledger from an existing CSV. A missing file is an empty
// ledger, not an error.
func Open(path string, log *logrus.Logger) (*Ledger, error) {
	l := &Ledger{
		path: path,
		log:  log,
		seen: make(map[string]bool),
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil { // header
		if err == io.EOF {
			return l, nil
		}
		return nil, err
	}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) > 0 {
			l.seen[record[0]] = true
		}
	}

	return l, nil
}

// Contains reports whether the name has already been recorded.
func (l *Ledger) Contains(name string) bool {
	return l.seen[name]
}

// Len returns the number of recorded names.
func (l *Ledger) Len() int {
	return len(l.seen)
}

// Add records a name. The in-memory insert always sticks; a failed durable
// append is logged and the name is not retried within this process.
func (l *Ledger) Add(name string) {
	if l.seen[name] {
		return
	}
	l.seen[name] = true

	if err := l.append(name); err != nil {
		l.log.Warnf("Failed to record metric %q in ledger: %v", name, err)
	}
}

func (l *Ledger) append(name string) error {
	_, statErr := os.Stat(l.path)
	newFile := os.IsNotExist(statErr)

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if newFile {
		if err := writer.Write([]string{"metric_name"}); err != nil {
			return err
		}
	}
	if err := writer.Write([]string{name}); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}
