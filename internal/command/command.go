// Package command parses bus payloads into typed station commands.
package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"
)

// Kind tags the Command union.
type Kind int

const (
	Water Kind = iota + 1
	Lamp
	ReadBarometer
	ReadSoilMoisture
	ReadAll
)

// Command is an immutable parsed instruction. On is meaningful for Water,
// Level for Lamp; both are zero for the read commands so values compare
// with ==.
type Command struct {
	Kind  Kind
	On    bool
	Level uint8
}

func NewWater(on bool) Command { return Command{Kind: Water, On: on} }
func NewLamp(level uint8) Command { return Command{Kind: Lamp, Level: level} }
func NewReadBarometer() Command { return Command{Kind: ReadBarometer} }
func NewReadSoilMoisture() Command { return Command{Kind: ReadSoilMoisture} }
func NewReadAll() Command { return Command{Kind: ReadAll} }

// kindSpec is one entry of the name registry: how to decode the value of a
// command and how to encode it back.
type kindSpec struct {
	name        string
	needsValue  bool
	decodeValue func(json.RawMessage) (Command, bool)
	encodeValue func(Command) any
}

var (
	byKind = map[Kind]kindSpec{}
	byName = map[string]Kind{}
)

func register(k Kind, ks kindSpec) {
	byKind[k] = ks
	byName[ks.name] = k
}

func init() {
	register(Water, kindSpec{
		name:       "water",
		needsValue: true,
		decodeValue: func(raw json.RawMessage) (Command, bool) {
			var on bool
			if err := json.Unmarshal(raw, &on); err != nil {
				return Command{}, false
			}
			return NewWater(on), true
		},
		encodeValue: func(c Command) any { return c.On },
	})
	register(Lamp, kindSpec{
		name:        "lamp",
		needsValue:  true,
		decodeValue: decodeLevel,
		encodeValue: func(c Command) any { return c.Level },
	})
	register(ReadBarometer, kindSpec{name: "read_barometer"})
	register(ReadSoilMoisture, kindSpec{name: "read_soil_moisture"})
	register(ReadAll, kindSpec{name: "all"})
}

// decodeLevel accepts a JSON integer in 0-255. Floats with a fractional
// part, negatives, strings and out of range numbers are rejected.
func decodeLevel(raw json.RawMessage) (Command, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v0 any
	if err := dec.Decode(&v0); err != nil {
		return Command{}, false
	}
	n, ok := v0.(json.Number)
	if !ok {
		return Command{}, false
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil || f != math.Trunc(f) {
			return Command{}, false
		}
		v = int64(f)
		if float64(v) != f {
			return Command{}, false
		}
	}
	if v < 0 || v > math.MaxUint8 {
		return Command{}, false
	}
	return NewLamp(uint8(v)), true
}

// String returns the wire name of the command kind.
func (k Kind) String() string {
	if ks, ok := byKind[k]; ok {
		return ks.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (c Command) String() string {
	switch c.Kind {
	case Water:
		return fmt.Sprintf("water(%t)", c.On)
	case Lamp:
		return fmt.Sprintf("lamp(%d)", c.Level)
	default:
		return c.Kind.String()
	}
}

// envelope is the inbound JSON shape. Value stays raw so the registry can
// decide how to read it.
type envelope struct {
	Name  *string         `json:"name"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON emits the canonical wire form, e.g. {"name":"lamp","value":128}.
func (c Command) MarshalJSON() ([]byte, error) {
	ks, ok := byKind[c.Kind]
	if !ok {
		return nil, fmt.Errorf("command: unknown kind %d", int(c.Kind))
	}
	out := struct {
		Name  string `json:"name"`
		Value any    `json:"value,omitempty"`
	}{Name: ks.name}
	if ks.encodeValue != nil {
		out.Value = ks.encodeValue(c)
	}
	return json.Marshal(out)
}

// Parse turns an inbound payload into a Command or an *Error, never both.
func Parse(payload []byte) (Command, *Error) {
	if !utf8.Valid(payload) {
		return Command{}, &Error{Kind: InvalidEncoding, Raw: fmt.Sprintf("%q", payload)}
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Command{}, &Error{Kind: MalformedJSON, Raw: string(payload), Err: err}
	}
	if env.Name == nil {
		return Command{}, &Error{Kind: MalformedJSON, Raw: string(payload), Err: errMissingName}
	}

	kind, ok := byName[*env.Name]
	if !ok {
		return Command{}, &Error{Kind: WrongCommand, Raw: string(payload)}
	}
	ks := byKind[kind]
	if !ks.needsValue {
		return Command{Kind: kind}, nil
	}
	if len(env.Value) == 0 || string(env.Value) == "null" {
		return Command{}, &Error{Kind: WrongCommand, Raw: string(payload), Err: errMissingValue}
	}
	cmd, ok := ks.decodeValue(env.Value)
	if !ok {
		return Command{}, &Error{Kind: InvalidValue, Raw: string(env.Value)}
	}
	return cmd, nil
}

// ParseString is Parse for text payloads.
func ParseString(text string) (Command, *Error) {
	return Parse([]byte(text))
}
