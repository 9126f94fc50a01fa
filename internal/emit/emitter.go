package emit

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
)

// Emitter serializes a lazy result stream as newline-delimited JSON,
// flushing after every record so output stays correct for unbounded match
// counts without buffering the result set.
type Emitter struct {
	w      *bufio.Writer
	logger *slog.Logger
}

func New(w io.Writer, logger *slog.Logger) *Emitter {
	return &Emitter{
		w:      bufio.NewWriter(w),
		logger: logger,
	}
}

// Stream writes one line per record until the channel closes and returns
// the number of records written. A record that fails to marshal is logged
// and skipped; a write failure is fatal. Each line is marshaled fully
// before any byte is written, so cancellation mid-stream never leaves a
// partial record.
func (e *Emitter) Stream(records <-chan any) (int, error) {
	count := 0
	for record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			e.logger.Warn("failed to serialize record", "err", err)
			continue
		}
		if _, err := e.w.Write(line); err != nil {
			return count, err
		}
		if err := e.w.WriteByte('\n'); err != nil {
			return count, err
		}
		if err := e.w.Flush(); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
