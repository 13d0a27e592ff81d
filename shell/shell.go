package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/dynffi"
	"github.com/wippyai/dynffi/client"
	ffierrors "github.com/wippyai/dynffi/errors"
	"github.com/wippyai/dynffi/value"
)

// Command implements a shell command. words[0] is the command name.
type Command func(ctx context.Context, sh *Shell, words []*value.Value) (*value.Value, error)

// Config configures a Shell.
type Config struct {
	// Engine and Loader are passed to the client.
	Engine dynffi.Engine
	Loader dynffi.Loader

	// Stdout receives puts output. Defaults to os.Stdout.
	Stdout io.Writer

	// Stderr receives background errors from callbacks. Defaults to os.Stderr.
	Stderr io.Writer

	// MaxDepth bounds proc nesting. Defaults to 1000.
	MaxDepth int
}

type proc struct {
	params []string
	body   string
}

type frame struct {
	vars    map[string]*value.Value
	globals map[string]bool
}

func newFrame() *frame {
	return &frame{vars: make(map[string]*value.Value)}
}

// Shell is a small word-oriented interpreter hosting one ffidl client.
// It implements client.Host.
type Shell struct {
	client   *client.Client
	commands map[string]Command
	procs    map[string]*proc
	frames   []*frame
	stdout   io.Writer
	stderr   io.Writer
	maxDepth int
	bgErrors []error
}

// New creates a shell and its client.
func New(cfg Config) (*Shell, error) {
	sh := &Shell{
		commands: make(map[string]Command),
		procs:    make(map[string]*proc),
		frames:   []*frame{newFrame()},
		stdout:   cfg.Stdout,
		stderr:   cfg.Stderr,
		maxDepth: cfg.MaxDepth,
	}
	if sh.stdout == nil {
		sh.stdout = os.Stdout
	}
	if sh.stderr == nil {
		sh.stderr = os.Stderr
	}
	if sh.maxDepth <= 0 {
		sh.maxDepth = 1000
	}

	c, err := client.New(client.Config{
		Engine: cfg.Engine,
		Loader: cfg.Loader,
		Host:   sh,
	})
	if err != nil {
		return nil, err
	}
	sh.client = c

	registerCore(sh)
	registerBinary(sh)
	registerFFI(sh)
	return sh, nil
}

// Client returns the shell's ffidl client.
func (sh *Shell) Client() *client.Client {
	return sh.client
}

// Register installs or replaces a command.
func (sh *Shell) Register(name string, cmd Command) {
	sh.commands[name] = cmd
}

// Commands returns the sorted names of builtins, procs and callouts.
func (sh *Shell) Commands() []string {
	seen := make(map[string]bool)
	for n := range sh.commands {
		seen[n] = true
	}
	for n := range sh.procs {
		seen[n] = true
	}
	if v, err := sh.client.Info("callouts"); err == nil {
		list, _ := v.List()
		for _, w := range list {
			seen[w.String()] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BackgroundErrors returns the callback failures reported so far.
func (sh *Shell) BackgroundErrors() []error {
	return sh.bgErrors
}

// Close deletes every callout command and destroys the client.
func (sh *Shell) Close() error {
	if v, err := sh.client.Info("callouts"); err == nil {
		list, _ := v.List()
		for _, w := range list {
			sh.client.ReleaseCallout(w.String())
		}
	}
	for _, f := range sh.frames {
		f.clear()
	}
	sh.frames = sh.frames[:1]
	return sh.client.Destroy()
}

func (f *frame) clear() {
	for name, v := range f.vars {
		v.DecrRef()
		delete(f.vars, name)
	}
}

func (sh *Shell) current() *frame {
	return sh.frames[len(sh.frames)-1]
}

// lookup returns the frame that owns name, following global links.
func (sh *Shell) lookup(name string) *frame {
	f := sh.current()
	if len(name) > 2 && name[:2] == "::" {
		return sh.frames[0]
	}
	if f.globals[name] {
		return sh.frames[0]
	}
	return f
}

func varName(name string) string {
	if len(name) > 2 && name[:2] == "::" {
		return name[2:]
	}
	return name
}

// GetVar returns a variable of the current frame.
func (sh *Shell) GetVar(name string) (*value.Value, error) {
	v, ok := sh.lookup(name).vars[varName(name)]
	if !ok {
		return nil, fmt.Errorf("can't read %q: no such variable", name)
	}
	return v, nil
}

// SetVar assigns a variable of the current frame.
func (sh *Shell) SetVar(name string, v *value.Value) error {
	f := sh.lookup(name)
	key := varName(name)
	v.IncrRef()
	if old, ok := f.vars[key]; ok {
		old.DecrRef()
	}
	f.vars[key] = v
	return nil
}

func (sh *Shell) unsetVar(name string) bool {
	f := sh.lookup(name)
	key := varName(name)
	old, ok := f.vars[key]
	if ok {
		old.DecrRef()
		delete(f.vars, key)
	}
	return ok
}

// QualifyName returns name unchanged; the shell has no namespaces.
func (sh *Shell) QualifyName(name string) string {
	return name
}

// Eval runs one command given as words, without substitution.
func (sh *Shell) Eval(ctx context.Context, words []*value.Value) (*value.Value, error) {
	if len(words) == 0 {
		return value.NewString(""), nil
	}
	name := words[0].String()
	if cmd, ok := sh.commands[name]; ok {
		return cmd(ctx, sh, words)
	}
	if p, ok := sh.procs[name]; ok {
		return sh.callProc(ctx, name, p, words[1:])
	}
	if _, ok := sh.client.LookupCallout(name); ok {
		return sh.client.Call(ctx, name, words[1:]...)
	}
	return nil, fmt.Errorf("invalid command name %q", name)
}

// ReportError handles a failure no caller can see. A bgerror proc, when
// defined, receives the message; otherwise it is written to Stderr.
func (sh *Shell) ReportError(err error) {
	sh.bgErrors = append(sh.bgErrors, err)
	Logger().Debug("background error", zap.Error(err))

	if p, ok := sh.procs["bgerror"]; ok {
		msg := value.NewString(Message(err))
		if _, herr := sh.callProc(context.Background(), "bgerror", p, []*value.Value{msg}); herr == nil {
			return
		}
	}
	fmt.Fprintf(sh.stderr, "background error: %s\n", Message(err))
}

// Message returns the text a script user sees for err.
func Message(err error) string {
	var fe *ffierrors.Error
	if errors.As(err, &fe) {
		return fe.Message()
	}
	return err.Error()
}

func (sh *Shell) callProc(ctx context.Context, name string, p *proc, args []*value.Value) (*value.Value, error) {
	if len(sh.frames) >= sh.maxDepth {
		return nil, fmt.Errorf("too many nested evaluations (infinite loop?)")
	}
	f := newFrame()
	variadic := len(p.params) > 0 && p.params[len(p.params)-1] == "args"
	fixed := p.params
	if variadic {
		fixed = p.params[:len(p.params)-1]
	}
	if len(args) < len(fixed) || (!variadic && len(args) > len(fixed)) {
		usage := append([]string{name}, p.params...)
		return nil, fmt.Errorf("wrong # args: should be %q", value.FormatList(usage))
	}
	for i, param := range fixed {
		args[i].IncrRef()
		f.vars[param] = args[i]
	}
	if variadic {
		rest := value.NewList(args[len(fixed):]...)
		rest.IncrRef()
		f.vars["args"] = rest
	}

	sh.frames = append(sh.frames, f)
	defer func() {
		f.clear()
		sh.frames = sh.frames[:len(sh.frames)-1]
	}()

	result, err := sh.EvalScript(ctx, p.body)
	var ctl *control
	if errors.As(err, &ctl) && ctl.kind == "return" {
		return ctl.result, nil
	}
	return result, err
}

// Run evaluates a whole script at the top level.
func (sh *Shell) Run(ctx context.Context, script string) (*value.Value, error) {
	v, err := sh.EvalScript(ctx, script)
	var ctl *control
	if errors.As(err, &ctl) && ctl.kind == "return" {
		return ctl.result, nil
	}
	return v, err
}

// RunFile evaluates the script in path.
func (sh *Shell) RunFile(ctx context.Context, path string) (*value.Value, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return sh.Run(ctx, string(b))
}
