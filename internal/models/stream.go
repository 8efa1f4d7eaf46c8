// Package models defines the log records and stream layout of ingested test runs.
package models

import (
	"fmt"
	"slices"
)

// Stream is a named partition of ingested records.
type Stream string

const (
	StreamAction Stream = "action"
	StreamEvents Stream = "events"
)

// Stream tag field names attached to every ingested record.
const (
	FieldStream = "stream"
	FieldRunID  = "run_id"
)

// StreamDescriptor maps a stream to its source file and the record fields the
// log store uses as timestamp and message.
type StreamDescriptor struct {
	Name         Stream
	TimeField    string
	MessageField string
	FileName     string
}

var descriptors = map[Stream]StreamDescriptor{
	StreamAction: {
		Name:         StreamAction,
		TimeField:    "datetime",
		MessageField: "action",
		FileName:     "actions.log",
	},
	StreamEvents: {
		Name:         StreamEvents,
		TimeField:    "event_timestamp",
		MessageField: "line",
		FileName:     "raw_events.log",
	},
}

// Streams returns all known streams in ingestion order.
func Streams() []Stream {
	return []Stream{StreamAction, StreamEvents}
}

// Descriptor returns the static layout of s. It panics for unknown streams;
// use ParseStream to validate user input first.
func (s Stream) Descriptor() StreamDescriptor {
	d, ok := descriptors[s]
	if !ok {
		panic(fmt.Sprintf("unknown stream %q", string(s)))
	}
	return d
}

// Valid reports whether s is a known stream.
func (s Stream) Valid() bool {
	_, ok := descriptors[s]
	return ok
}

func (s Stream) String() string {
	return string(s)
}

// ParseStream converts a stream type name into a Stream.
func ParseStream(name string) (Stream, error) {
	s := Stream(name)
	if !s.Valid() {
		return "", fmt.Errorf("unknown stream type %q, must be one of %v", name, Streams())
	}
	return s, nil
}

// StreamForFile returns the stream fed by the given log file name.
func StreamForFile(name string) (Stream, bool) {
	idx := slices.IndexFunc(Streams(), func(s Stream) bool {
		return descriptors[s].FileName == name
	})
	if idx < 0 {
		return "", false
	}
	return Streams()[idx], true
}
