package pyrepr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// TupleTag marks a YAML sequence that should become a Tuple, e.g.
// `sigma_input: !tuple [CH, 0]`.
const TupleTag = "!tuple"

// FromYAML converts a YAML node to a Value. Mapping order is kept and plain
// scalars resolve the way YAML 1.2 resolves them.
func FromYAML(n *yaml.Node) (Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return None, nil
		}
		return FromYAML(n.Content[0])
	case yaml.AliasNode:
		return FromYAML(n.Alias)
	case yaml.ScalarNode:
		return yamlScalar(n)
	case yaml.SequenceNode:
		items := make([]Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := FromYAML(c)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		if n.Tag == TupleTag {
			return Tuple(items), nil
		}
		return List(items), nil
	case yaml.MappingNode:
		d := NewDict()
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, err := FromYAML(n.Content[i])
			if err != nil {
				return nil, err
			}
			if !hashable(k) {
				return nil, fmt.Errorf("line %d: unhashable dict key %s", n.Content[i].Line, Repr(k))
			}
			v, err := FromYAML(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			d.Set(k, v)
		}
		return d, nil
	}
	return nil, fmt.Errorf("line %d: unsupported yaml node kind %d", n.Line, n.Kind)
}

func yamlScalar(n *yaml.Node) (Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return None, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			var f float64
			if ferr := n.Decode(&f); ferr != nil {
				return nil, err
			}
			return Float(f), nil
		}
		return Int(i), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, err
		}
		return Float(f), nil
	}
	return Str(n.Value), nil
}

// FromJSON decodes a single JSON document into a Value. Object key order is
// kept, and numbers without a fraction or exponent become Int.
func FromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSON(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

func decodeJSON(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			items := List{}
			for dec.More() {
				v, err := decodeJSON(dec)
				if err != nil {
					return nil, err
				}
				items = append(items, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return items, nil
		case '{':
			d := NewDict()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", kt)
				}
				v, err := decodeJSON(dec)
				if err != nil {
					return nil, err
				}
				d.Set(Str(key), v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return d, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %q", t)
	case string:
		return Str(t), nil
	case json.Number:
		return jsonNumber(t)
	case bool:
		return Bool(t), nil
	case nil:
		return None, nil
	}
	return nil, fmt.Errorf("unexpected json token %v", tok)
}

func jsonNumber(n json.Number) (Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return nil, err
	}
	return Float(f), nil
}

func hashable(v Value) bool {
	switch t := v.(type) {
	case List, *Dict:
		return false
	case Tuple:
		for _, item := range t {
			if !hashable(item) {
				return false
			}
		}
	}
	return true
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Dict) UnmarshalYAML(n *yaml.Node) error {
	v, err := FromYAML(n)
	if err != nil {
		return err
	}
	src, ok := v.(*Dict)
	if !ok {
		return fmt.Errorf("line %d: expected a mapping, got %s", n.Line, Repr(v))
	}
	*d = *src
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Dict) UnmarshalJSON(data []byte) error {
	v, err := FromJSON(data)
	if err != nil {
		return err
	}
	src, ok := v.(*Dict)
	if !ok {
		return fmt.Errorf("expected an object, got %s", Repr(v))
	}
	*d = *src
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *List) UnmarshalYAML(n *yaml.Node) error {
	v, err := FromYAML(n)
	if err != nil {
		return err
	}
	switch src := v.(type) {
	case List:
		*l = src
	case Tuple:
		*l = List(src)
	default:
		return fmt.Errorf("line %d: expected a sequence, got %s", n.Line, Repr(v))
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *List) UnmarshalJSON(data []byte) error {
	v, err := FromJSON(data)
	if err != nil {
		return err
	}
	src, ok := v.(List)
	if !ok {
		return fmt.Errorf("expected an array, got %s", Repr(v))
	}
	*l = src
	return nil
}

// MarshalJSON renders the dict as a JSON object in insertion order. Keys
// that are not strings are written as their Python literal.
func (d *Dict) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i := range d.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, ok := d.keys[i].(Str)
		if !ok {
			key = Str(Repr(d.keys[i]))
		}
		kb, err := json.Marshal(string(key))
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValue(d.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalValue(v Value) ([]byte, error) {
	switch t := v.(type) {
	case nil, NoneType:
		return []byte("null"), nil
	case Str:
		return json.Marshal(string(t))
	case Int:
		return json.Marshal(int64(t))
	case Float:
		return json.Marshal(float64(t))
	case Bool:
		return json.Marshal(bool(t))
	case List:
		return marshalItems(t)
	case Tuple:
		return marshalItems(t)
	case *Dict:
		return t.MarshalJSON()
	}
	return nil, fmt.Errorf("cannot marshal %T", v)
}

func marshalItems(items []Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := marshalValue(item)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler.
func (l List) MarshalJSON() ([]byte, error) {
	return marshalItems(l)
}

// MarshalJSON implements json.Marshaler. Tuples become JSON arrays.
func (t Tuple) MarshalJSON() ([]byte, error) {
	return marshalItems(t)
}
