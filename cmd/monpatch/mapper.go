package main

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
)

// numMapper decodes integers with an optional 0x prefix. A zero base means
// decimal unless prefixed; base 16 reads bare digits as hex.
type numMapper struct {
	base int
}

func (m numMapper) parse(s string) (uint64, error) {
	s = strings.ReplaceAll(strings.ToLower(s), "_", "")
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		return strconv.ParseUint(rest, 16, 64)
	}
	base := m.base
	if base == 0 {
		base = 10
	}
	return strconv.ParseUint(s, base, 64)
}

func (m numMapper) Decode(ctx *kong.DecodeContext, target reflect.Value) error {
	var s string
	if err := ctx.Scan.PopValueInto("number", &s); err != nil {
		return err
	}
	n, err := m.parse(s)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	switch target.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if target.OverflowUint(n) {
			return fmt.Errorf("%s overflows %s", s, target.Type())
		}
		target.SetUint(n)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n > 1<<62 || target.OverflowInt(int64(n)) {
			return fmt.Errorf("%s overflows %s", s, target.Type())
		}
		target.SetInt(int64(n))
	default:
		return fmt.Errorf("number mapper cannot decode into %s", target.Type())
	}
	return nil
}
