package client

import (
	"path"

	"github.com/wippyai/dynffi/errors"
	"github.com/wippyai/dynffi/types"
	"github.com/wippyai/dynffi/value"
)

// InfoOptions lists the queries Info understands.
var InfoOptions = []string{
	"alignof", "callbacks", "callouts", "canonical-host", "engine", "format",
	"have-int64", "have-long-double", "have-long-long", "interp", "libraries",
	"signatures", "sizeof", "typedefs", "use-callbacks", "use-libffi",
	"use-wazero", "NULL",
}

// Info answers an introspection query.
func (c *Client) Info(option string, args ...string) (*value.Value, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	p := c.Platform()

	switch option {
	case "callouts":
		return listInfo(option, args, func(pattern string) []string {
			return match(sortedKeys(c.callouts), pattern)
		})
	case "callbacks":
		if !p.Callbacks {
			return nil, errors.Unsupported(errors.PhaseInfo, "callbacks are not supported in this configuration")
		}
		return listInfo(option, args, func(pattern string) []string {
			return match(sortedKeys(c.callbacks), pattern)
		})
	case "typedefs":
		return listInfo(option, args, c.registry.Names)
	case "signatures":
		return listInfo(option, args, c.cache.Keys)
	case "libraries":
		return listInfo(option, args, c.libs.Names)

	case "sizeof", "alignof", "format":
		if len(args) != 1 {
			return nil, errors.Arity("info "+option, "type")
		}
		t, ok := c.registry.Lookup(args[0])
		if !ok {
			return nil, errors.UndefinedType(args[0])
		}
		switch option {
		case "sizeof":
			return value.NewInt(int64(t.Size)), nil
		case "alignof":
			return value.NewInt(int64(t.Align)), nil
		}
		return value.NewString(types.Format(t, p.BigEndian)), nil

	case "interp":
		if len(args) != 0 {
			return nil, errors.Arity("info "+option, "")
		}
		return value.NewWide(int64(c.id)), nil
	case "canonical-host":
		return value.NewString(p.Host), nil
	case "engine":
		return value.NewString(c.engine.Name()), nil
	case "have-int64", "have-long-long":
		return flag(true), nil
	case "have-long-double":
		return flag(p.HasLongDouble()), nil
	case "use-callbacks":
		return flag(p.Callbacks), nil
	case "use-libffi":
		return flag(c.engine.Name() == "libffi"), nil
	case "use-wazero":
		return flag(c.engine.Name() == "wazero"), nil
	case "NULL":
		return value.NewWide(0), nil
	}

	return nil, errors.New(errors.PhaseInfo, errors.KindUnknownOption).
		Value(option).
		Detail("unknown option %q", option).
		Build()
}

// listInfo returns the names matching the optional glob pattern argument.
func listInfo(option string, args []string, names func(pattern string) []string) (*value.Value, error) {
	pattern := ""
	switch len(args) {
	case 0:
	case 1:
		pattern = args[0]
	default:
		return nil, errors.Arity("info "+option, "?pattern?")
	}
	matched := names(pattern)
	words := make([]*value.Value, len(matched))
	for i, n := range matched {
		words[i] = value.NewString(n)
	}
	return value.NewList(words...), nil
}

func match(names []string, pattern string) []string {
	if pattern == "" {
		return names
	}
	out := names[:0]
	for _, n := range names {
		if ok, _ := path.Match(pattern, n); ok {
			out = append(out, n)
		}
	}
	return out
}

func flag(b bool) *value.Value {
	if b {
		return value.NewInt(1)
	}
	return value.NewInt(0)
}
