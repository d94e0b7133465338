package workqueue

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/afero"

	"github.com/buildgraph/don/pkg/cache"
	"github.com/buildgraph/don/pkg/heap"
)

// env is the snapshot of environment variables `exec`-spawned children
// inherit, seeded from the process environment at startup and mutable
// only through the `setenv` native -- grounded on original_source/src/
// env.c, which forces a sanitized terminal environment onto every child
// rather than passing the parent's through verbatim.
type env struct {
	vars map[string]string
}

func newEnv() *env {
	e := &env{vars: make(map[string]string)}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			e.vars[kv[:i]] = kv[i+1:]
		}
	}
	e.vars["TERM"] = "dumb"
	delete(e.vars, "COLORTERM")
	return e
}

func (e *env) set(name, value string) { e.vars[name] = value }

// get returns "" for an unset variable, matching env.c's never-returns-
// null convention (getenvHandler wraps this as heap's EmptyString, not
// Null).
func (e *env) get(name string) string { return e.vars[name] }

func (e *env) environ() []string {
	out := make([]string, 0, len(e.vars))
	for k, v := range e.vars {
		out = append(out, k+"="+v)
	}
	return out
}

// RegisterDefaults installs don's built-in native functions: the
// teacher's echo/exec/size trio from spec.md's original surface, plus
// the setenv/getenv/glob set SPEC_FULL.md §7 supplements from
// original_source/ (env and glob helpers the distilled spec dropped but
// the original build tool exposed). fs backs every filesystem-facing
// call (glob) so tests can swap in an in-memory afero.Fs instead of the
// real one; stdout backs echo. c, if non-nil, memoises exec calls in the
// persistent cache (spec.md §3/§4.6); pass nil to always run commands
// (used by tests that want every native call observed directly).
func RegisterDefaults(q *Queue, fs afero.Fs, stdout io.Writer, c *cache.Cache) {
	e := newEnv()
	q.Register("echo", echoHandler(stdout))
	q.Register("exec", execHandler(c, e))
	q.Register("size", sizeHandler())
	q.Register("setenv", setenvHandler(e))
	q.Register("getenv", getenvHandler(e))
	q.Register("glob", globHandler(fs))
}

func echoHandler(stdout io.Writer) Handler {
	return func(ctx *heap.Context, args []heap.Ref) (heap.Ref, error) {
		for i, a := range args {
			if i > 0 {
				fmt.Fprint(stdout, " ")
			}
			fmt.Fprint(stdout, ctx.Render(a))
		}
		fmt.Fprintln(stdout)
		return ctx.Null, nil
	}
}

// execHandler spawns a subprocess directly, without a shell: the first
// argument names the program and the rest are its arguments, each
// rendered to a string. It captures the subprocess's combined
// output as the call's result. A non-zero exit status is reported as an
// error rather than folded into the return value, so a failing command
// fails the build the same way an unresolved native-function error does.
//
// When c is non-nil, the command is first looked up by a digest of its
// full argument list (HashInto, spec.md §3's content-addressed cache
// key): a hit skips the subprocess entirely and returns the recorded
// output, the memoisation spec.md §4.6 describes.
func execHandler(c *cache.Cache, e *env) Handler {
	return func(ctx *heap.Context, args []heap.Ref) (heap.Ref, error) {
		if len(args) == 0 {
			return heap.Null, fmt.Errorf("exec: requires at least a command argument")
		}

		var digest cache.Digest
		if c != nil {
			digest = execDigest(ctx, args)
			if payload, ok := c.Get(digest); ok {
				return ctx.CreateString(payload), nil
			}
		}

		command := ctx.Render(args[0])
		var extra []string
		for _, a := range args[1:] {
			extra = append(extra, ctx.Render(a))
		}
		cmd := exec.Command(command, extra...)
		cmd.Env = e.environ()
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			return heap.Null, fmt.Errorf("exec %q: %w: %s", command, err, out.String())
		}

		if c != nil {
			if err := c.SetUptodate(digest, out.Bytes()); err != nil {
				return heap.Null, fmt.Errorf("exec %q: caching result: %w", command, err)
			}
		}
		return ctx.CreateString(out.Bytes()), nil
	}
}

// execDigest hashes an exec call's full argument list, in order, so two
// calls with the same command and arguments share a cache entry. Only the
// argument values are hashed; no file named by an argument is read.
func execDigest(ctx *heap.Context, args []heap.Ref) cache.Digest {
	var buf bytes.Buffer
	for _, a := range args {
		ctx.HashInto(&buf, a)
	}
	return cache.Sum(buf.Bytes())
}

func sizeHandler() Handler {
	return func(ctx *heap.Context, args []heap.Ref) (heap.Ref, error) {
		if len(args) != 1 {
			return heap.Null, fmt.Errorf("size: requires exactly one argument")
		}
		t := ctx.GetType(args[0])
		if t.IsCollection() {
			return heap.BoxInteger(int64(ctx.Size(args[0]))), nil
		}
		return heap.BoxInteger(int64(ctx.StringLength(args[0]))), nil
	}
}

func setenvHandler(e *env) Handler {
	return func(ctx *heap.Context, args []heap.Ref) (heap.Ref, error) {
		if len(args) != 2 {
			return heap.Null, fmt.Errorf("setenv: requires name and value arguments")
		}
		e.set(ctx.Render(args[0]), ctx.Render(args[1]))
		return ctx.Null, nil
	}
}

func getenvHandler(e *env) Handler {
	return func(ctx *heap.Context, args []heap.Ref) (heap.Ref, error) {
		if len(args) != 1 {
			return heap.Null, fmt.Errorf("getenv: requires exactly one argument")
		}
		return ctx.CreateString([]byte(e.get(ctx.Render(args[0])))), nil
	}
}

// globHandler expands a filesystem glob pattern into an Array of File
// values (paths only; the matched files are not read).
func globHandler(fs afero.Fs) Handler {
	return func(ctx *heap.Context, args []heap.Ref) (heap.Ref, error) {
		if len(args) != 1 {
			return heap.Null, fmt.Errorf("glob: requires exactly one pattern argument")
		}
		matches, err := afero.Glob(fs, ctx.Render(args[0]))
		if err != nil {
			return heap.Null, err
		}
		values := make([]heap.Ref, len(matches))
		for i, m := range matches {
			values[i] = ctx.File(m)
		}
		return ctx.CreateArray(values), nil
	}
}
