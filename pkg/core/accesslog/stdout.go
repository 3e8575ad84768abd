//
//  Copyright © Manetu Inc. All rights reserved.
//

package accesslog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// AccessLogOptions configures the behavior of access log output.
type AccessLogOptions struct {
	// PrettyPrint enables indented multi-line JSON output.
	// When false (default), output is compact single-line JSON.
	PrettyPrint bool
}

// IoWriterFactory creates [Stream] instances that write to an [io.Writer].
//
// Use [NewStdoutFactory] to create a factory for stdout, or [NewIoWriterFactory]
// for a custom writer.
type IoWriterFactory struct {
	writer  io.Writer
	options AccessLogOptions
}

// IoWriterStream writes access records as JSON to an [io.Writer].
//
// Each record is written as JSON followed by a newline.  IoWriterStream is safe
// for concurrent use; each record is written with a single call.
type IoWriterStream struct {
	mu      sync.Mutex
	writer  io.Writer
	options AccessLogOptions
}

// NewStdoutFactory creates a [Factory] that writes access records to stdout.
//
// This is the default factory used by the policy engine if no access log
// is explicitly configured.
func NewStdoutFactory() Factory {
	return NewIoWriterFactory(os.Stdout)
}

// NewIoWriterFactory creates a [Factory] that writes access records to the
// specified [io.Writer].
//
//	file, _ := os.Create("access.log")
//	factory := accesslog.NewIoWriterFactory(file)
//	pe, _ := core.NewPolicyEngine(options.WithAccessLog(factory))
func NewIoWriterFactory(w io.Writer) Factory {
	return NewIoWriterFactoryWithOptions(w, AccessLogOptions{})
}

// NewIoWriterFactoryWithOptions creates a [Factory] that writes access records to the
// specified [io.Writer] with the given options.
func NewIoWriterFactoryWithOptions(w io.Writer, opts AccessLogOptions) Factory {
	return &IoWriterFactory{
		writer:  w,
		options: opts,
	}
}

// NewStream creates a new [IoWriterStream] that writes to the configured writer.
func (f *IoWriterFactory) NewStream() (Stream, error) {
	return newStream(f.writer, f.options), nil
}

func newStream(w io.Writer, opts AccessLogOptions) Stream {
	return &IoWriterStream{
		writer:  w,
		options: opts,
	}
}

// Send marshals the access record to JSON and writes it to the configured writer.
//
// Write errors are ignored; the policy engine should not fail authorization
// decisions due to logging issues.
func (s *IoWriterStream) Send(record *AccessRecord) error {
	if record == nil {
		return errors.New("nil access record")
	}

	var (
		output []byte
		err    error
	)
	if s.options.PrettyPrint {
		output, err = json.MarshalIndent(record, "", "  ")
	} else {
		output, err = json.Marshal(record)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintln(s.writer, string(output))
	return nil
}

// Close is a no-op for IoWriterStream.
//
// The underlying writer is not closed by this method; the caller is responsible
// for closing the writer if needed (except for stdout, which should not be closed).
func (s *IoWriterStream) Close() {}
