package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
)

// ReadRecords decodes a stream of JSON objects, usually one per line. The sequence ends
// at end of input or after yielding the first decode error.
func ReadRecords(r io.Reader) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		dec := json.NewDecoder(r)
		for n := 1; ; n++ {
			rec := NewRecord()
			err := dec.Decode(rec)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("reading record %d: %w", n, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Writer writes records as JSON lines, flushing after each so downstream consumers see
// rows as soon as they are produced.
type Writer struct {
	w     *bufio.Writer
	count int
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write emits one record.
func (w *Writer) Write(rec *Record) error {
	b, err := rec.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding record %d: %w", w.count+1, err)
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	return w.count
}

// WriteRecords drains records into w. It stops at the first error from either side and
// returns how many records were written.
func WriteRecords(w io.Writer, records iter.Seq2[*Record, error]) (int, error) {
	out := NewWriter(w)
	for rec, err := range records {
		if err != nil {
			return out.Count(), err
		}
		if err := out.Write(rec); err != nil {
			return out.Count(), err
		}
	}
	return out.Count(), nil
}
