// Package replication rides small application objects on gossip. A node
// publishes a record under the CHANGE application state; every other node
// hands it to the Changeable registered under the record's name.
package replication

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
)

const separator = "#"

type Op string

const (
	OpUpdate Op = "U"
	OpDelete Op = "D"
)

var ErrMalformedRecord = errors.New("malformed replication record")

// Record is "<op>#<name>#<payload>". The payload is JSON, except that a
// string is carried as is.
type Record struct {
	Op      Op
	Name    string
	Payload string
}

func NewRecord(op Op, name string, v any) (Record, error) {
	if name == "" || strings.Contains(name, separator) {
		return Record{}, fmt.Errorf("%w: bad name %q", ErrMalformedRecord, name)
	}
	if op != OpUpdate && op != OpDelete {
		return Record{}, fmt.Errorf("%w: bad op %q", ErrMalformedRecord, op)
	}
	if s, ok := v.(string); ok {
		return Record{Op: op, Name: name, Payload: s}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return Record{Op: op, Name: name, Payload: string(b)}, nil
}

// ParseRecord splits on the first two separators only; the payload may
// contain more.
func ParseRecord(value string) (Record, error) {
	parts := strings.SplitN(value, separator, 3)
	if len(parts) < 3 {
		return Record{}, fmt.Errorf("%w: %q", ErrMalformedRecord, value)
	}
	r := Record{Op: Op(parts[0]), Name: parts[1], Payload: parts[2]}
	if r.Name == "" {
		return Record{}, fmt.Errorf("%w: empty name", ErrMalformedRecord)
	}
	return r, nil
}

func (r Record) String() string {
	return string(r.Op) + separator + r.Name + separator + r.Payload
}

// Decode unmarshals the JSON payload into v.
func (r Record) Decode(v any) error {
	if err := json.Unmarshal([]byte(r.Payload), v); err != nil {
		return fmt.Errorf("decode %s: %w", r.Name, err)
	}
	return nil
}

// Publish sets the local CHANGE state to the record and notifies local
// subscribers, so the local node applies it too.
func Publish(g *gossip.Gossiper, op Op, name string, v any) error {
	r, err := NewRecord(op, name, v)
	if err != nil {
		return err
	}
	g.AddLocalApplicationState(gossip.AppChange, r.String())
	return nil
}

// PublishSilently is Publish without the local notification.
func PublishSilently(g *gossip.Gossiper, op Op, name string, v any) error {
	r, err := NewRecord(op, name, v)
	if err != nil {
		return err
	}
	g.AddLocalApplicationStateSilently(gossip.AppChange, r.String())
	return nil
}
