package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/WardBrian/tinystan/internal/catalog"
	"github.com/WardBrian/tinystan/pkg/tinystan"
)

func modelsCmd() *cli.Command {
	var verbose bool

	return &cli.Command{
		Name:    "models",
		Aliases: []string{"ls", "list-models"},
		Usage:   "List the catalog models",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "verbose",
				Aliases:     []string{"v"},
				Usage:       "also print example data",
				Destination: &verbose,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tPARAMS\tDESCRIPTION")
			for _, e := range catalog.List() {
				params := "-"
				if m, err := tinystan.NewModel(e.Definition, e.Example, 0); err == nil {
					if names := m.ParamNames(); len(names) > 0 {
						params = strings.Join(names, ",")
					}
					m.Close()
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, params, e.Doc)
				if verbose && e.Example != "" {
					_, _ = fmt.Fprintf(tw, "\t\texample: %s\n", e.Example)
				}
			}
			return tw.Flush()
		},
	}
}
