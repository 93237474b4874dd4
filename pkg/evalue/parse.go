package evalue

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse reads the textual value syntax used on command lines:
//
//	none
//	true | false | bool:true
//	5 | int:5
//	2.5 | double:2.5
//	float32[2,2]:1,2,3,4
//	float32[2,2]:fill=1
//
// Tensors get freshly allocated storage.
func Parse(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return None(), nil
	}

	if open := strings.IndexByte(s, '['); open > 0 {
		return parseTensor(s, open)
	}

	kind, payload, typed := strings.Cut(s, ":")
	if !typed {
		payload = s
		kind = ""
	}
	switch kind {
	case "bool":
		b, err := strconv.ParseBool(payload)
		if err != nil {
			return Value{}, fmt.Errorf("parsing bool %q: %w", payload, err)
		}
		return FromBool(b), nil
	case "int":
		i, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing int %q: %w", payload, err)
		}
		return FromInt(i), nil
	case "double":
		d, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing double %q: %w", payload, err)
		}
		return FromDouble(d), nil
	case "":
	default:
		return Value{}, fmt.Errorf("unknown value kind %q", kind)
	}

	if b, err := strconv.ParseBool(payload); err == nil && (payload == "true" || payload == "false") {
		return FromBool(b), nil
	}
	if i, err := strconv.ParseInt(payload, 10, 64); err == nil {
		return FromInt(i), nil
	}
	if d, err := strconv.ParseFloat(payload, 64); err == nil {
		return FromDouble(d), nil
	}
	return Value{}, fmt.Errorf("cannot parse value %q", s)
}

func parseTensor(s string, open int) (Value, error) {
	scalarType, err := ParseScalarType(s[:open])
	if err != nil {
		return Value{}, err
	}
	closeIdx := strings.IndexByte(s, ']')
	if closeIdx < open {
		return Value{}, fmt.Errorf("tensor %q: missing ]", s)
	}

	var sizes []int
	if dims := strings.TrimSpace(s[open+1 : closeIdx]); dims != "" {
		for _, d := range strings.Split(dims, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(d))
			if err != nil {
				return Value{}, fmt.Errorf("tensor %q: bad dimension %q", s, d)
			}
			sizes = append(sizes, n)
		}
	}

	n, err := numel(sizes, scalarType.Size())
	if err != nil {
		return Value{}, fmt.Errorf("tensor %q: %w", s, err)
	}
	t, err := NewTensor(scalarType, sizes, make([]byte, n*scalarType.Size()))
	if err != nil {
		return Value{}, err
	}

	rest := strings.TrimSpace(s[closeIdx+1:])
	rest = strings.TrimPrefix(rest, ":")
	switch {
	case rest == "":
	case strings.HasPrefix(rest, "fill="):
		v, err := strconv.ParseFloat(strings.TrimPrefix(rest, "fill="), 64)
		if err != nil {
			return Value{}, fmt.Errorf("tensor %q: bad fill value: %w", s, err)
		}
		for i := 0; i < n; i++ {
			t.SetFloat64At(i, v)
		}
	default:
		elements := strings.Split(rest, ",")
		if len(elements) != n {
			return Value{}, fmt.Errorf("tensor %q: got %d elements, shape needs %d", s, len(elements), n)
		}
		for i, e := range elements {
			v, err := strconv.ParseFloat(strings.TrimSpace(e), 64)
			if err != nil {
				return Value{}, fmt.Errorf("tensor %q: bad element %q", s, e)
			}
			t.SetFloat64At(i, v)
		}
	}
	return FromTensor(t), nil
}
