//
//  Copyright © Manetu Inc. All rights reserved.
//

package accesslog

// NullFactory is a factory for NullStream.
type NullFactory struct {
}

// NullStream implements the Stream interface but drops all writes to the floor.  It is useful to downstream implementations
// when they want to support disabling access logging as a configuration option, such as for testing.
type NullStream struct {
}

// NewNullFactory creates a factory whose streams discard every record.
func NewNullFactory() Factory {
	return &NullFactory{}
}

// NewStream creates a new NullStream to satisfy the Factory interface.
func (f *NullFactory) NewStream() (Stream, error) {
	return &NullStream{}, nil
}

// Send drops the access record on the floor
func (s *NullStream) Send(record *AccessRecord) error {
	return nil
}

// Close is a no-op for NullStream
func (s *NullStream) Close() {}
