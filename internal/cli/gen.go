package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/syssam/unison/compiler/gen"
	"github.com/syssam/unison/compiler/load"
)

// GenOptions holds flags for the gen command.
type GenOptions struct {
	*RootOptions
	Target  string
	Package string
	Header  string
	Watch   bool
}

// NewGenCommand creates the gen command.
func NewGenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "gen <mapping-file>",
		Short: "Generate entity structs and registry glue",
		Long: `Generate Go entity structs and a mapping registry from a YAML
mapping document.

With --watch the command keeps running and regenerates whenever the
mapping document changes on disk.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGen(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Target, "target", "t", "", "output directory (defaults to the document's package name)")
	cmd.Flags().StringVarP(&opts.Package, "package", "p", "", "output package name (defaults to the document's)")
	cmd.Flags().StringVar(&opts.Header, "header", "", "header comment for generated files")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "regenerate on mapping file changes")

	return cmd
}

func runGen(opts *GenOptions, path string, cmd *cobra.Command) error {
	if err := generate(opts, path, cmd); err != nil {
		if !opts.Watch {
			return err
		}
		// In watch mode a broken document is not fatal; report and wait
		// for the next edit.
		fmt.Fprintln(cmd.ErrOrStderr(), err)
	}
	if !opts.Watch {
		return nil
	}
	return watch(opts, path, cmd)
}

func generate(opts *GenOptions, path string, cmd *cobra.Command) error {
	doc, err := load.ParseFile(path)
	if err != nil {
		return err
	}
	target := opts.Target
	if target == "" {
		target = doc.Package
	}
	genOpts := []gen.Option{gen.WithTarget(target)}
	if opts.Package != "" {
		genOpts = append(genOpts, gen.WithPackage(opts.Package))
	}
	if opts.Header != "" {
		genOpts = append(genOpts, gen.WithHeader(opts.Header))
	}
	if err := gen.Generate(doc, genOpts...); err != nil {
		return err
	}
	if opts.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "generated %d entities into %s\n", len(doc.Entities), target)
	}
	return nil
}

// watch regenerates on every write to the mapping document until
// interrupted. Editors replace files on save, so the parent directory
// is watched and events are filtered by name.
func watch(opts *GenOptions, path string, cmd *cobra.Command) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "watching %s\n", path)
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if evAbs, err := filepath.Abs(ev.Name); err != nil || evAbs != abs {
				continue
			}
			if err := generate(opts, path, cmd); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(cmd.ErrOrStderr(), err)
		case <-interrupt:
			return nil
		}
	}
}
