//
//  Copyright © Manetu Inc. All rights reserved.
//

package accesslog

import (
	"github.com/manetu/toolgate/pkg/core/accesslog"
)

// ChannelFactory factory for ChannelStream
type ChannelFactory struct {
	ch chan *accesslog.AccessRecord
}

// ChannelStream implements the Stream interface by writing access records to a channel.
type ChannelStream struct {
	ch chan *accesslog.AccessRecord
}

// NewChannelLogger creates a new Stream for logging access records to a channel.
func NewChannelLogger(ch chan *accesslog.AccessRecord) accesslog.Factory {
	return &ChannelFactory{ch: ch}
}

// NewStream creates a new Stream to satisfy the Factory interface.
func (f *ChannelFactory) NewStream() (accesslog.Stream, error) {
	return &ChannelStream{ch: f.ch}, nil
}

// Send hands the record to the channel so tests can observe the audit trail.
func (s *ChannelStream) Send(m *accesslog.AccessRecord) error {
	s.ch <- m

	return nil
}

// Close finalizes the access log by closing the underlying channel.
func (s *ChannelStream) Close() {
	if s.ch != nil {
		close(s.ch)
	}
}
