package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/axiom/internal/shared/path"
	"github.com/GriffinCanCode/axiom/internal/stream"
	"github.com/GriffinCanCode/axiom/internal/vfs"
	"github.com/GriffinCanCode/axiom/internal/vfs/archive"
)

type command struct {
	args int // exact count, or -1 for one or more
	run  func(c *client, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"stat":    {1, (*client).stat},
	"ls":      {1, (*client).list},
	"mkdir":   {1, (*client).mkdir},
	"rm":      {1, (*client).unlink},
	"mv":      {2, (*client).move},
	"ln":      {2, (*client).alias},
	"cat":     {1, (*client).cat},
	"put":     {1, (*client).put},
	"exec":    {-1, (*client).exec},
	"glob":    {1, (*client).glob},
	"mounts":  {0, (*client).listMounts},
	"health":  {0, (*client).health},
	"archive": {1, (*client).archive},
}

func (c *client) run(ctx context.Context, name string, args []string) error {
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	if (cmd.args >= 0 && len(args) != cmd.args) || (cmd.args < 0 && len(args) == 0) {
		return fmt.Errorf("%s: wrong number of arguments", name)
	}
	return cmd.run(c, ctx, args)
}

func (c *client) stat(ctx context.Context, args []string) error {
	p := path.Parse(args[0])
	fs, err := c.fsFor(ctx, p)
	if err != nil {
		return err
	}
	st, err := fs.Stat(ctx, p)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, formatStat(p.Spec(), st))
	return nil
}

func (c *client) list(ctx context.Context, args []string) error {
	p := path.Parse(args[0])
	fs, err := c.fsFor(ctx, p)
	if err != nil {
		return err
	}
	entries, err := fs.List(ctx, p)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(c.stdout, formatStat(name, entries[name]))
	}
	return nil
}

func formatStat(name string, st *vfs.StatResult) string {
	size := "-"
	if st.Size != nil {
		size = fmt.Sprint(*st.Size)
	}
	line := fmt.Sprintf("%s %8s %s %s", st.Mode, size, st.ModTime().Format(time.DateTime), name)
	if st.MimeType != "" {
		line += " (" + st.MimeType + ")"
	}
	return line
}

func (c *client) mkdir(ctx context.Context, args []string) error {
	p := path.Parse(args[0])
	fs, err := c.fsFor(ctx, p)
	if err != nil {
		return err
	}
	return fs.Mkdir(ctx, p)
}

func (c *client) unlink(ctx context.Context, args []string) error {
	p := path.Parse(args[0])
	fs, err := c.fsFor(ctx, p)
	if err != nil {
		return err
	}
	return fs.Unlink(ctx, p)
}

func (c *client) move(ctx context.Context, args []string) error {
	from, to := path.Parse(args[0]), path.Parse(args[1])
	fs, err := c.fsFor(ctx, from)
	if err != nil {
		return err
	}
	return fs.Move(ctx, from, to)
}

func (c *client) alias(ctx context.Context, args []string) error {
	from, to := path.Parse(args[0]), path.Parse(args[1])
	fs, err := c.fsFor(ctx, from)
	if err != nil {
		return err
	}
	return fs.Alias(ctx, from, to)
}

func (c *client) cat(ctx context.Context, args []string) error {
	p := path.Parse(args[0])
	fs, err := c.fsFor(ctx, p)
	if err != nil {
		return err
	}
	oc, err := fs.CreateOpenContext(p, vfs.MustOpenMode("r"))
	if err != nil {
		return err
	}
	defer oc.Close()

	if _, err := oc.Open(ctx); err != nil {
		return err
	}
	res, err := oc.Read(ctx, vfs.ReadRequest{DataType: vfs.DataArrayBuffer})
	if err != nil {
		return err
	}
	data, err := res.Bytes()
	if err != nil {
		return err
	}
	_, err = c.stdout.Write(data)
	return err
}

func (c *client) put(ctx context.Context, args []string) error {
	p := path.Parse(args[0])
	fs, err := c.fsFor(ctx, p)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(c.stdin)
	if err != nil {
		return err
	}

	oc, err := fs.CreateOpenContext(p, vfs.MustOpenMode("w"))
	if err != nil {
		return err
	}
	defer oc.Close()

	if _, err := oc.Open(ctx); err != nil {
		return err
	}
	_, err = oc.Write(ctx, vfs.WriteRequest{DataType: vfs.DataArrayBuffer, Data: data})
	return err
}

// parseArg turns k=v pairs into an Arg. Values are JSON when they parse as
// JSON and plain strings otherwise.
func parseArg(pairs []string) (vfs.Arg, error) {
	arg := vfs.Arg{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("argument %q is not key=value", pair)
		}
		var value any
		if err := sonic.UnmarshalString(v, &value); err != nil {
			value = v
		}
		arg[k] = value
	}
	return arg, nil
}

func (c *client) exec(ctx context.Context, args []string) error {
	p := path.Parse(args[0])
	arg, err := parseArg(args[1:])
	if err != nil {
		return err
	}
	fs, err := c.fsFor(ctx, p)
	if err != nil {
		return err
	}
	ec, err := fs.CreateExecuteContext(p, arg)
	if err != nil {
		return err
	}
	defer ec.Close()
	ec.SetEnv(map[string]string{"PWD": p.Root() + ":/"})

	stdio := ec.Stdio()
	go c.pumpStdin(stdio.Stdin)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return copyStream(gctx, c.stdout, stdio.Stdout) })
	g.Go(func() error { return copyStream(gctx, c.stderr, stdio.Stderr) })

	result, err := ec.Execute(ctx)
	if err != nil {
		return err
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if result != nil {
		out, err := sonic.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, string(out))
	}
	return nil
}

// pumpStdin forwards piped input. A terminal is not forwarded, so
// interactive runs see an empty stdin.
func (c *client) pumpStdin(in *stream.Stream) {
	defer in.End()

	if f, ok := c.stdin.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			return
		}
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := c.stdin.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if werr := in.Write(chunk, nil); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func copyStream(ctx context.Context, w io.Writer, r stream.Readable) error {
	for {
		v, err := r.Next(ctx)
		if errors.Is(err, stream.ErrEnded) {
			return nil
		}
		if err != nil {
			return err
		}

		switch data := v.(type) {
		case string:
			_, err = io.WriteString(w, data)
		case []byte:
			_, err = w.Write(data)
		default:
			var out []byte
			out, err = sonic.Marshal(data)
			if err == nil {
				_, err = fmt.Fprintln(w, string(out))
			}
		}
		if err != nil {
			return err
		}
	}
}

func (c *client) glob(ctx context.Context, args []string) error {
	root, _, ok := strings.Cut(args[0], ":")
	if !ok {
		return fmt.Errorf("pattern %q has no root", args[0])
	}
	fs, err := c.mount(ctx, root)
	if err != nil {
		return err
	}
	matches, err := vfs.Glob(ctx, fs, args[0])
	if err != nil {
		return err
	}
	for _, m := range matches {
		fmt.Fprintln(c.stdout, m.Spec())
	}
	return nil
}

func (c *client) listMounts(ctx context.Context, _ []string) error {
	mounts, err := c.api.Mounts(ctx)
	if err != nil {
		return err
	}
	for _, m := range mounts {
		fmt.Fprintf(c.stdout, "%-12s %-8s %s\n", m.Name, m.State, m.Root)
	}
	return nil
}

func (c *client) health(ctx context.Context, _ []string) error {
	h, err := c.api.Health(ctx)
	if err != nil {
		return err
	}
	out, err := sonic.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, string(out))
	return nil
}

// archive writes ROOT or ROOT:/dir as a gzip tar to stdout.
func (c *client) archive(ctx context.Context, args []string) error {
	root, dir, _ := strings.Cut(args[0], ":")
	if root == "" {
		return fmt.Errorf("archive: missing root in %q", args[0])
	}
	_, err := c.api.Archive(ctx, c.stdout, root, dir, archive.Gzip)
	return err
}
