package shell

import (
	"context"
	"strings"

	"github.com/wippyai/dynffi"
	"github.com/wippyai/dynffi/library"
	"github.com/wippyai/dynffi/manifest"
	"github.com/wippyai/dynffi/value"
)

func registerFFI(sh *Shell) {
	sh.Register("ffidl::typedef", cmdTypedef)
	sh.Register("ffidl::callout", cmdCallout)
	sh.Register("ffidl::callback", cmdCallback)
	sh.Register("ffidl::library", cmdLibrary)
	sh.Register("ffidl::symbol", cmdSymbol)
	sh.Register("ffidl::info", cmdInfo)
	sh.Register("ffidl::types", cmdTypes)
}

func names(v *value.Value) ([]string, error) {
	list, err := v.List()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(list))
	for i, w := range list {
		out[i] = w.String()
	}
	return out, nil
}

func cmdTypedef(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) < 3 {
		return nil, wrongArgs(words, "name type1 ?type2 ...?")
	}
	elems := make([]string, len(words)-2)
	for i, w := range words[2:] {
		elems[i] = w.String()
	}
	if err := sh.client.Typedef(words[1].String(), elems...); err != nil {
		return nil, err
	}
	return empty(), nil
}

func cmdCallout(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) < 5 || len(words) > 6 {
		return nil, wrongArgs(words, "name {?argument_type ...?} return_type address ?protocol?")
	}
	args, err := names(words[2])
	if err != nil {
		return nil, err
	}
	addr, err := parseAddress(words[4])
	if err != nil {
		return nil, err
	}
	protocol := ""
	if len(words) == 6 {
		protocol = words[5].String()
	}
	if err := sh.client.Callout(words[1].String(), args, words[3].String(), addr, protocol); err != nil {
		return nil, err
	}
	return empty(), nil
}

func cmdCallback(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) < 4 || len(words) > 6 {
		return nil, wrongArgs(words, "name {?argument_type ...?} return_type ?protocol? ?cmdprefix?")
	}
	args, err := names(words[2])
	if err != nil {
		return nil, err
	}
	protocol := ""
	if len(words) >= 5 {
		protocol = words[4].String()
	}
	var prefix *value.Value
	if len(words) == 6 {
		prefix = words[5]
	}
	addr, err := sh.client.Callback(words[1].String(), args, words[3].String(), protocol, prefix)
	if err != nil {
		return nil, err
	}
	return value.NewWide(int64(addr)), nil
}

func cmdLibrary(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	const usage = "?-binding now|lazy? ?-visibility global|local? ?--? library"
	var (
		b   dynffi.Binding
		vis dynffi.Visibility
		err error
	)
	args := words[1:]
	for len(args) > 1 && strings.HasPrefix(args[0].String(), "-") {
		opt := args[0].String()
		if opt == "--" {
			args = args[1:]
			break
		}
		switch opt {
		case "-binding":
			if b, err = library.ParseBinding(args[1].String()); err != nil {
				return nil, err
			}
		case "-visibility":
			if vis, err = library.ParseVisibility(args[1].String()); err != nil {
				return nil, err
			}
		default:
			return nil, wrongArgs(words, usage)
		}
		args = args[2:]
	}
	if len(args) != 1 {
		return nil, wrongArgs(words, usage)
	}
	h, err := sh.client.Library(args[0].String(), b, vis)
	if err != nil {
		return nil, err
	}
	return value.NewWide(int64(h)), nil
}

func cmdSymbol(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) != 3 {
		return nil, wrongArgs(words, "library symbol")
	}
	addr, err := sh.client.Symbol(words[1].String(), words[2].String())
	if err != nil {
		return nil, err
	}
	return value.NewWide(int64(addr)), nil
}

func cmdInfo(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) < 2 {
		return nil, wrongArgs(words, "option ?arg ...?")
	}
	args := make([]string, len(words)-2)
	for i, w := range words[2:] {
		args[i] = w.String()
	}
	return sh.client.Info(words[1].String(), args...)
}

// ffidl::types save|load path stores or replays the user typedefs.
func cmdTypes(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) != 3 {
		return nil, wrongArgs(words, "save|load path")
	}
	path := words[2].String()
	switch words[1].String() {
	case "save":
		if err := manifest.Save(path, sh.client.Registry()); err != nil {
			return nil, err
		}
		return empty(), nil
	case "load":
		n, err := manifest.Load(path, sh.client.Registry())
		if err != nil {
			return nil, err
		}
		return value.NewInt(int64(n)), nil
	}
	return nil, wrongArgs(words, "save|load path")
}
