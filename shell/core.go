package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wippyai/dynffi/value"
)

func wrongArgs(words []*value.Value, usage string) error {
	msg := words[0].String()
	if usage != "" {
		msg += " " + usage
	}
	return fmt.Errorf("wrong # args: should be %q", msg)
}

func empty() *value.Value {
	return value.NewString("")
}

func registerCore(sh *Shell) {
	sh.Register("set", cmdSet)
	sh.Register("unset", cmdUnset)
	sh.Register("global", cmdGlobal)
	sh.Register("incr", cmdIncr)
	sh.Register("puts", cmdPuts)
	sh.Register("proc", cmdProc)
	sh.Register("rename", cmdRename)
	sh.Register("return", cmdReturn)
	sh.Register("break", cmdLoopControl)
	sh.Register("continue", cmdLoopControl)
	sh.Register("error", cmdError)
	sh.Register("catch", cmdCatch)
	sh.Register("if", cmdIf)
	sh.Register("while", cmdWhile)
	sh.Register("foreach", cmdForeach)
	sh.Register("source", cmdSource)
	sh.Register("list", cmdList)
	sh.Register("llength", cmdLlength)
	sh.Register("lindex", cmdLindex)
	sh.Register("lappend", cmdLappend)
	sh.Register("join", cmdJoin)
	sh.Register("concat", cmdConcat)
	sh.Register("eq", cmdStringCompare)
	sh.Register("ne", cmdStringCompare)
	sh.Register("not", cmdNot)
	for _, op := range []string{"+", "-", "*", "/", "%"} {
		sh.Register(op, cmdArith)
	}
	for _, op := range []string{"==", "!=", "<", "<=", ">", ">="} {
		sh.Register(op, cmdCompare)
	}
}

func cmdSet(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	switch len(words) {
	case 2:
		return sh.GetVar(words[1].String())
	case 3:
		if err := sh.SetVar(words[1].String(), words[2]); err != nil {
			return nil, err
		}
		return words[2], nil
	}
	return nil, wrongArgs(words, "varName ?newValue?")
}

func cmdUnset(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	for _, w := range words[1:] {
		if !sh.unsetVar(w.String()) {
			return nil, fmt.Errorf("can't unset %q: no such variable", w.String())
		}
	}
	return empty(), nil
}

func cmdGlobal(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	f := sh.current()
	if f == sh.frames[0] {
		return empty(), nil
	}
	if f.globals == nil {
		f.globals = make(map[string]bool)
	}
	for _, w := range words[1:] {
		f.globals[w.String()] = true
	}
	return empty(), nil
}

func cmdIncr(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) < 2 || len(words) > 3 {
		return nil, wrongArgs(words, "varName ?increment?")
	}
	by := int64(1)
	if len(words) == 3 {
		n, err := words[2].Wide()
		if err != nil {
			return nil, err
		}
		by = n
	}
	name := words[1].String()
	cur := int64(0)
	if v, err := sh.GetVar(name); err == nil {
		if cur, err = v.Wide(); err != nil {
			return nil, err
		}
	}
	next := value.NewWide(cur + by)
	return next, sh.SetVar(name, next)
}

func cmdPuts(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	newline := true
	args := words[1:]
	if len(args) > 0 && args[0].String() == "-nonewline" {
		newline = false
		args = args[1:]
	}
	if len(args) != 1 {
		return nil, wrongArgs(words, "?-nonewline? string")
	}
	s := args[0].String()
	if newline {
		s += "\n"
	}
	if _, err := io.WriteString(sh.stdout, s); err != nil {
		return nil, err
	}
	return empty(), nil
}

func cmdProc(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) != 4 {
		return nil, wrongArgs(words, "name args body")
	}
	params, err := words[2].List()
	if err != nil {
		return nil, err
	}
	p := &proc{body: words[3].String()}
	for _, w := range params {
		p.params = append(p.params, w.String())
	}
	sh.procs[words[1].String()] = p
	return empty(), nil
}

// rename with an empty new name deletes the command. Deleting a callout
// releases its signature.
func cmdRename(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) != 3 {
		return nil, wrongArgs(words, "oldName newName")
	}
	from, to := words[1].String(), words[2].String()
	if p, ok := sh.procs[from]; ok {
		delete(sh.procs, from)
		if to != "" {
			sh.procs[to] = p
		}
		return empty(), nil
	}
	if cmd, ok := sh.commands[from]; ok {
		delete(sh.commands, from)
		if to != "" {
			sh.commands[to] = cmd
		}
		return empty(), nil
	}
	if to == "" && sh.client.ReleaseCallout(from) {
		return empty(), nil
	}
	return nil, fmt.Errorf("can't rename %q: command doesn't exist", from)
}

func cmdReturn(_ context.Context, _ *Shell, words []*value.Value) (*value.Value, error) {
	switch len(words) {
	case 1:
		return nil, &control{kind: "return", result: empty()}
	case 2:
		return nil, &control{kind: "return", result: words[1]}
	}
	return nil, wrongArgs(words, "?value?")
}

func cmdLoopControl(_ context.Context, _ *Shell, words []*value.Value) (*value.Value, error) {
	return nil, &control{kind: words[0].String()}
}

func cmdError(_ context.Context, _ *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) != 2 {
		return nil, wrongArgs(words, "message")
	}
	return nil, errors.New(words[1].String())
}

func cmdCatch(ctx context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) < 2 || len(words) > 3 {
		return nil, wrongArgs(words, "script ?resultVarName?")
	}
	result, err := sh.EvalScript(ctx, words[1].String())
	code := int64(0)
	if err != nil {
		var ctl *control
		if errors.As(err, &ctl) {
			return nil, err
		}
		code = 1
		result = value.NewString(Message(err))
	}
	if len(words) == 3 {
		if err := sh.SetVar(words[2].String(), result); err != nil {
			return nil, err
		}
	}
	return value.NewInt(code), nil
}

// truth evaluates a condition script and interprets its result.
func (sh *Shell) truth(ctx context.Context, cond *value.Value) (bool, error) {
	v, err := sh.EvalScript(ctx, cond.String())
	if err != nil {
		return false, err
	}
	return truthy(v)
}

func truthy(v *value.Value) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v.String())) {
	case "true", "yes", "on":
		return true, nil
	case "false", "no", "off", "":
		return false, nil
	}
	f, err := v.Double()
	if err != nil {
		return false, fmt.Errorf("expected boolean value but got %q", v.String())
	}
	return f != 0, nil
}

func cmdIf(ctx context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	args := words[1:]
	for {
		if len(args) < 2 {
			return nil, wrongArgs(words, "cond body ?elseif cond body ...? ?else body?")
		}
		ok, err := sh.truth(ctx, args[0])
		if err != nil {
			return nil, err
		}
		body := args[1]
		if len(args) > 2 && args[1].String() == "then" {
			body = args[2]
			args = args[1:]
		}
		if ok {
			return sh.EvalScript(ctx, body.String())
		}
		args = args[2:]
		if len(args) == 0 {
			return empty(), nil
		}
		switch args[0].String() {
		case "elseif":
			args = args[1:]
		case "else":
			if len(args) != 2 {
				return nil, wrongArgs(words, "cond body ?elseif cond body ...? ?else body?")
			}
			return sh.EvalScript(ctx, args[1].String())
		default:
			if len(args) == 1 {
				return sh.EvalScript(ctx, args[0].String())
			}
			return nil, wrongArgs(words, "cond body ?elseif cond body ...? ?else body?")
		}
	}
}

// loopBody runs one iteration and reports whether to stop.
func (sh *Shell) loopBody(ctx context.Context, body string) (bool, error) {
	_, err := sh.EvalScript(ctx, body)
	var ctl *control
	if errors.As(err, &ctl) {
		switch ctl.kind {
		case "break":
			return true, nil
		case "continue":
			return false, nil
		}
	}
	return err != nil, err
}

func cmdWhile(ctx context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) != 3 {
		return nil, wrongArgs(words, "cond body")
	}
	for {
		ok, err := sh.truth(ctx, words[1])
		if err != nil {
			return nil, err
		}
		if !ok {
			return empty(), nil
		}
		stop, err := sh.loopBody(ctx, words[2].String())
		if err != nil {
			return nil, err
		}
		if stop {
			return empty(), nil
		}
	}
}

func cmdForeach(ctx context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) != 4 {
		return nil, wrongArgs(words, "varName list body")
	}
	items, err := words[2].List()
	if err != nil {
		return nil, err
	}
	name := words[1].String()
	for _, item := range items {
		if err := sh.SetVar(name, item); err != nil {
			return nil, err
		}
		stop, err := sh.loopBody(ctx, words[3].String())
		if err != nil {
			return nil, err
		}
		if stop {
			break
		}
	}
	return empty(), nil
}

func cmdSource(ctx context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) != 2 {
		return nil, wrongArgs(words, "fileName")
	}
	return sh.RunFile(ctx, words[1].String())
}

func cmdList(_ context.Context, _ *Shell, words []*value.Value) (*value.Value, error) {
	return value.NewList(words[1:]...), nil
}

func cmdLlength(_ context.Context, _ *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) != 2 {
		return nil, wrongArgs(words, "list")
	}
	items, err := words[1].List()
	if err != nil {
		return nil, err
	}
	return value.NewInt(int64(len(items))), nil
}

func cmdLindex(_ context.Context, _ *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) != 3 {
		return nil, wrongArgs(words, "list index")
	}
	items, err := words[1].List()
	if err != nil {
		return nil, err
	}
	idx := words[2].String()
	var i int64
	if idx == "end" {
		i = int64(len(items) - 1)
	} else if i, err = words[2].Int(); err != nil {
		return nil, err
	}
	if i < 0 || i >= int64(len(items)) {
		return empty(), nil
	}
	return items[i], nil
}

func cmdLappend(_ context.Context, sh *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) < 2 {
		return nil, wrongArgs(words, "varName ?value ...?")
	}
	name := words[1].String()
	var items []*value.Value
	if cur, err := sh.GetVar(name); err == nil {
		if items, err = cur.List(); err != nil {
			return nil, err
		}
	}
	all := append(append([]*value.Value(nil), items...), words[2:]...)
	v := value.NewList(all...)
	return v, sh.SetVar(name, v)
}

func cmdJoin(_ context.Context, _ *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) < 2 || len(words) > 3 {
		return nil, wrongArgs(words, "list ?joinString?")
	}
	items, err := words[1].List()
	if err != nil {
		return nil, err
	}
	sep := " "
	if len(words) == 3 {
		sep = words[2].String()
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.String()
	}
	return value.NewString(strings.Join(parts, sep)), nil
}

func cmdConcat(_ context.Context, _ *Shell, words []*value.Value) (*value.Value, error) {
	var parts []string
	for _, w := range words[1:] {
		if s := strings.TrimSpace(w.String()); s != "" {
			parts = append(parts, s)
		}
	}
	return value.NewString(strings.Join(parts, " ")), nil
}

func cmdStringCompare(_ context.Context, _ *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) != 3 {
		return nil, wrongArgs(words, "a b")
	}
	same := words[1].String() == words[2].String()
	if words[0].String() == "ne" {
		same = !same
	}
	return boolValue(same), nil
}

func cmdNot(_ context.Context, _ *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) != 2 {
		return nil, wrongArgs(words, "value")
	}
	b, err := truthy(words[1])
	if err != nil {
		return nil, err
	}
	return boolValue(!b), nil
}

func boolValue(b bool) *value.Value {
	if b {
		return value.NewInt(1)
	}
	return value.NewInt(0)
}

// numbers reads every operand as an integer when possible, else as doubles.
func numbers(args []*value.Value) (ints []int64, floats []float64, err error) {
	ints = make([]int64, len(args))
	allInt := true
	for i, a := range args {
		if a.Kind() == value.KindDouble {
			allInt = false
			break
		}
		n, ierr := a.Wide()
		if ierr != nil {
			allInt = false
			break
		}
		ints[i] = n
	}
	if allInt {
		return ints, nil, nil
	}
	floats = make([]float64, len(args))
	for i, a := range args {
		f, ferr := a.Double()
		if ferr != nil {
			return nil, nil, fmt.Errorf("expected number but got %q", a.String())
		}
		floats[i] = f
	}
	return nil, floats, nil
}

func cmdArith(_ context.Context, _ *Shell, words []*value.Value) (*value.Value, error) {
	op := words[0].String()
	args := words[1:]
	if len(args) == 0 || (len(args) == 1 && op != "-") {
		return nil, wrongArgs(words, "number ?number ...?")
	}
	ints, floats, err := numbers(args)
	if err != nil {
		return nil, err
	}

	if ints != nil {
		if len(ints) == 1 {
			return value.NewWide(-ints[0]), nil
		}
		acc := ints[0]
		for _, n := range ints[1:] {
			switch op {
			case "+":
				acc += n
			case "-":
				acc -= n
			case "*":
				acc *= n
			case "/", "%":
				if n == 0 {
					return nil, errors.New("divide by zero")
				}
				if op == "/" {
					acc /= n
				} else {
					acc %= n
				}
			}
		}
		return value.NewWide(acc), nil
	}

	if len(floats) == 1 {
		return value.NewDouble(-floats[0]), nil
	}
	acc := floats[0]
	for _, f := range floats[1:] {
		switch op {
		case "+":
			acc += f
		case "-":
			acc -= f
		case "*":
			acc *= f
		case "/":
			acc /= f
		case "%":
			return nil, errors.New("can't use floating-point value as operand of \"%\"")
		}
	}
	return value.NewDouble(acc), nil
}

func cmdCompare(_ context.Context, _ *Shell, words []*value.Value) (*value.Value, error) {
	if len(words) != 3 {
		return nil, wrongArgs(words, "a b")
	}
	var c int
	ints, floats, err := numbers(words[1:])
	switch {
	case err != nil:
		c = strings.Compare(words[1].String(), words[2].String())
	case ints != nil:
		c = cmpOrdered(ints[0], ints[1])
	default:
		c = cmpOrdered(floats[0], floats[1])
	}
	var r bool
	switch words[0].String() {
	case "==":
		r = c == 0
	case "!=":
		r = c != 0
	case "<":
		r = c < 0
	case "<=":
		r = c <= 0
	case ">":
		r = c > 0
	case ">=":
		r = c >= 0
	}
	return boolValue(r), nil
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// parseAddress reads a native address given as an integer in any base.
func parseAddress(v *value.Value) (uintptr, error) {
	s := strings.TrimSpace(v.String())
	if n, err := strconv.ParseUint(s, 0, 64); err == nil {
		return uintptr(n), nil
	}
	n, err := v.Wide()
	if err != nil {
		return 0, fmt.Errorf("expected address but got %q", s)
	}
	return uintptr(n), nil
}
