// Package application holds the admin command tree.
package application

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/JonMunkholm/pricesync/internal/admin"
	"github.com/JonMunkholm/pricesync/internal/store"
)

/* ----------------------------------------
	COMMAND TREE
---------------------------------------- */

// Catalog is the store surface the admin commands use.
type Catalog interface {
	admin.Catalog
	ListSuppliers(ctx context.Context, activeOnly bool) ([]store.Supplier, error)
}

// Env is what a command runs against.
type Env struct {
	Catalog      Catalog
	EnsureSchema func(ctx context.Context) error
	Resetter     *admin.Resetter
	Out          io.Writer
}

// Command is one admin subcommand.
type Command struct {
	Name  string
	Usage string
	Run   func(ctx context.Context, env Env, args []string) error
}

// Commands returns the command tree ordered by name.
func Commands() []Command {
	cmds := []Command{
		{Name: "schema", Usage: "apply the catalogue schema", Run: runSchema},
		{Name: "suppliers", Usage: "list suppliers [-all]", Run: runSuppliers},
		{Name: "reset", Usage: "clear supplier catalogues: -supplier ID [-supplier ID ...] -confirm NAME|all", Run: runReset},
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Dispatch runs the command named by args[0].
func Dispatch(ctx context.Context, env Env, args []string) error {
	if len(args) == 0 {
		PrintUsage(env.Out)
		return fmt.Errorf("no command given")
	}
	for _, c := range Commands() {
		if c.Name == args[0] {
			return c.Run(ctx, env, args[1:])
		}
	}
	PrintUsage(env.Out)
	return fmt.Errorf("unknown command %q", args[0])
}

// PrintUsage lists the commands.
func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: pricesync-admin <command> [flags]")
	for _, c := range Commands() {
		fmt.Fprintf(w, "  %-10s %s\n", c.Name, c.Usage)
	}
}

/* ----------------------------------------
	ACTIONS
---------------------------------------- */

func runSchema(ctx context.Context, env Env, _ []string) error {
	if err := env.EnsureSchema(ctx); err != nil {
		return err
	}
	fmt.Fprintln(env.Out, "schema applied")
	return nil
}

func runSuppliers(ctx context.Context, env Env, args []string) error {
	fs := flag.NewFlagSet("suppliers", flag.ContinueOnError)
	fs.SetOutput(env.Out)
	all := fs.Bool("all", false, "include inactive suppliers")
	if err := fs.Parse(args); err != nil {
		return err
	}

	suppliers, err := env.Catalog.ListSuppliers(ctx, !*all)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tACTIVE")
	for _, s := range suppliers {
		fmt.Fprintf(tw, "%d\t%s\t%t\n", s.ID, s.Name, s.Active)
	}
	return tw.Flush()
}

// idList collects repeated -supplier flags.
type idList []int64

func (l *idList) String() string {
	parts := make([]string, len(*l))
	for i, id := range *l {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func (l *idList) Set(v string) error {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid supplier id %q", v)
	}
	*l = append(*l, id)
	return nil
}

func runReset(ctx context.Context, env Env, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	fs.SetOutput(env.Out)
	var ids idList
	fs.Var(&ids, "supplier", "supplier id (repeatable)")
	confirm := fs.String("confirm", "", "supplier name, or \"all\" for several")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("reset: at least one -supplier is required")
	}

	results, err := env.Resetter.ResetSuppliers(ctx, *confirm, ids...)
	for _, id := range ids {
		if res, ok := results[id]; ok {
			fmt.Fprintf(env.Out, "supplier %d: removed %d prices, %d items, %d uploads\n",
				id, res.Prices, res.Items, res.Uploads)
		}
	}
	return err
}
