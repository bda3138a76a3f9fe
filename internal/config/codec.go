package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// formatFloat renders f so that it always reads back as a float.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if strings.ContainsAny(s, ".eEn") {
		return s
	}
	return s + ".0"
}

// MarshalYAML renders the object as a flat mapping in insertion order.
func (o *Object) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, key := range o.order {
		v := o.fields[key]
		val := &yaml.Node{Kind: yaml.ScalarNode}
		switch v.Kind {
		case KindBool:
			val.Tag, val.Value = "!!bool", strconv.FormatBool(v.b)
		case KindInt:
			val.Tag, val.Value = "!!int", strconv.FormatInt(v.i, 10)
		case KindFloat:
			val.Tag = "!!float"
			switch {
			case math.IsNaN(v.f):
				val.Value = ".nan"
			case math.IsInf(v.f, 1):
				val.Value = ".inf"
			case math.IsInf(v.f, -1):
				val.Value = "-.inf"
			default:
				val.Value = formatFloat(v.f)
			}
		default:
			val.Tag, val.Value = "!!str", v.s
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, val)
	}
	return node, nil
}

// UnmarshalYAML accepts a flat mapping of scalars. Nested values fail.
func (o *Object) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("config: expected mapping, got node kind %d", node.Kind)
	}
	out := New()
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i].Value, node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("%w: %s is not a scalar", ErrWrongType, key)
		}
		switch val.ShortTag() {
		case "!!bool":
			var b bool
			if err := val.Decode(&b); err != nil {
				return fmt.Errorf("config: field %s: %w", key, err)
			}
			out.SetBool(key, b)
		case "!!int":
			var n int64
			if err := val.Decode(&n); err != nil {
				return fmt.Errorf("config: field %s: %w", key, err)
			}
			out.SetInt(key, n)
		case "!!float":
			var f float64
			if err := val.Decode(&f); err != nil {
				return fmt.Errorf("config: field %s: %w", key, err)
			}
			out.SetFloat(key, f)
		case "!!str":
			out.SetString(key, val.Value)
		default:
			return fmt.Errorf("%w: %s has unsupported tag %s", ErrWrongType, key, val.ShortTag())
		}
	}
	*o = *out
	return nil
}

// MarshalJSON renders the object as a flat JSON object in insertion order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v := o.fields[key]
		switch v.Kind {
		case KindBool:
			buf.WriteString(strconv.FormatBool(v.b))
		case KindInt:
			buf.WriteString(strconv.FormatInt(v.i, 10))
		case KindFloat:
			if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
				return nil, fmt.Errorf("config: field %s: %v has no JSON form", key, v.f)
			}
			buf.WriteString(formatFloat(v.f))
		default:
			s, err := json.Marshal(v.s)
			if err != nil {
				return nil, err
			}
			buf.Write(s)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts a flat JSON object. Numbers written with a fraction
// or an exponent are floats, all others are integers.
func (o *Object) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("config: expected JSON object")
	}
	out := New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("config: expected field name, got %v", tok)
		}
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		switch v := tok.(type) {
		case bool:
			out.SetBool(key, v)
		case string:
			out.SetString(key, v)
		case json.Number:
			if strings.ContainsAny(v.String(), ".eE") {
				f, err := v.Float64()
				if err != nil {
					return fmt.Errorf("config: field %s: %w", key, err)
				}
				out.SetFloat(key, f)
			} else {
				n, err := v.Int64()
				if err != nil {
					return fmt.Errorf("config: field %s: %w", key, err)
				}
				out.SetInt(key, n)
			}
		default:
			return fmt.Errorf("%w: %s is not a scalar", ErrWrongType, key)
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*o = *out
	return nil
}
