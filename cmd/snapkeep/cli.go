package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/snapkeep/internal/capture"
	"github.com/hpungsan/snapkeep/internal/config"
	"github.com/hpungsan/snapkeep/internal/errors"
	"github.com/hpungsan/snapkeep/internal/mcp"
	"github.com/hpungsan/snapkeep/internal/ops"
	"github.com/hpungsan/snapkeep/internal/web"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(svc *ops.Service, cfg *config.Config, logger *slog.Logger) *cli.App {
	app := &cli.App{
		Name:    "snapkeep",
		Usage:   "Save and restore sets of live values",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: formatJSON, Usage: "Output format: json|table"},
		},
		Before: func(c *cli.Context) error {
			switch c.String("format") {
			case formatJSON, formatTable:
				return nil
			}
			return outputError(errors.NewInvalidRequest(fmt.Sprintf("unknown format %q (want json or table)", c.String("format"))))
		},
		Commands: []*cli.Command{
			statusCmd(svc),
			reconcileCmd(svc),
			listCmd(svc),
			labelsCmd(svc),
			fetchCmd(svc),
			restoreCmd(svc),
			saveCmd(svc),
			editCmd(svc),
			deleteCmd(svc),
			compareCmd(svc),
			serveCmd(svc, cfg, logger),
			mcpCmd(svc, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// statusCmd creates the status command.
func statusCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the save directory and restore state",
		Action: func(c *cli.Context) error {
			out := svc.Status()
			return render(c, out, func(t table.Writer) {
				t.AppendHeader(table.Row{"Field", "Value"})
				t.AppendRows([]table.Row{
					{"dir", out.Dir},
					{"request", out.Request},
					{"files", out.Files},
					{"labels", out.Labels},
					{"reconciled", out.Reconciled},
					{"restore busy", out.RestoreBusy},
					{"live mode", out.LiveMode},
				})
			})
		},
	}
}

// reconcileCmd creates the reconcile command.
func reconcileCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Rescan the save directory and rebuild the file table",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "Switch to another save directory"},
		},
		Action: func(c *cli.Context) error {
			out, err := svc.Reconcile(ops.ReconcileInput{Dir: c.String("dir")})
			if err != nil {
				return outputError(err)
			}
			return render(c, out, nil)
		},
	}
}

// listCmd creates the list command.
func listCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List capture files matching a filter",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Name substring"},
			&cli.StringFlag{Name: "comment", Aliases: []string{"c"}, Usage: "Comment substring"},
			&cli.StringFlag{Name: "labels", Aliases: []string{"l"}, Usage: "Comma-separated labels, all required"},
			&cli.BoolFlag{Name: "refresh", Aliases: []string{"r"}, Usage: "Reconcile before filtering"},
		},
		Action: func(c *cli.Context) error {
			out, err := svc.List(ops.ListInput{
				Name:    c.String("name"),
				Comment: c.String("comment"),
				Labels:  parseList(c.String("labels")),
				Refresh: c.Bool("refresh"),
			})
			if err != nil {
				return outputError(err)
			}
			return render(c, out, func(t table.Writer) {
				t.AppendHeader(table.Row{"Name", "Modified", "Size", "Labels", "Comment"})
				for _, f := range out.Items {
					t.AppendRow(table.Row{f.Name, f.ModifiedAt.Format("2006-01-02 15:04:05"), f.Size, strings.Join(f.Labels, ","), f.Comment})
				}
				t.AppendFooter(table.Row{"", "", "", "shown", fmt.Sprintf("%d of %d", len(out.Items), out.Total)})
			})
		},
	}
}

// labelsCmd creates the labels command.
func labelsCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:  "labels",
		Usage: "List referenced labels with their counts",
		Action: func(c *cli.Context) error {
			out, err := svc.Labels()
			if err != nil {
				return outputError(err)
			}
			return render(c, out, func(t table.Writer) {
				t.AppendHeader(table.Row{"Label", "Count"})
				for _, l := range out.Labels {
					t.AppendRow(table.Row{l.Label, l.Count})
				}
			})
		},
	}
}

// fetchCmd creates the fetch command.
func fetchCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Show a capture file's metadata and values",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-values", Usage: "Exclude values from output"},
		},
		Action: func(c *cli.Context) error {
			input := ops.FetchInput{Name: c.Args().First()}
			if c.Bool("no-values") {
				includeValues := false
				input.IncludeValues = &includeValues
			}

			out, err := svc.Fetch(input)
			if err != nil {
				return outputError(err)
			}
			return render(c, out, func(t table.Writer) {
				t.AppendHeader(table.Row{"Item", "Value"})
				for _, name := range sortedKeys(out.Values) {
					t.AppendRow(table.Row{name, out.Values[name].String()})
				}
			})
		},
	}
}

// restoreCmd creates the restore command.
func restoreCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Write a capture file's values back to the live items",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "items", Aliases: []string{"i"}, Usage: "Comma-separated subset of items to restore"},
			&cli.BoolFlag{Name: "force", Usage: "Proceed despite disconnected items (default from config)"},
			&cli.StringSliceFlag{Name: "macro", Aliases: []string{"m"}, Usage: "Macro override KEY=VALUE (repeatable)"},
		},
		Action: func(c *cli.Context) error {
			macros, err := parseMacros(c.StringSlice("macro"))
			if err != nil {
				return outputError(err)
			}

			input := ops.RestoreInput{
				Name:   c.Args().First(),
				Items:  parseList(c.String("items")),
				Macros: macros,
			}
			if c.IsSet("force") {
				force := c.Bool("force")
				input.Force = &force
			}

			out, err := svc.Restore(c.Context, input)
			if err != nil {
				return outputError(err)
			}
			return render(c, out, func(t table.Writer) {
				t.AppendHeader(table.Row{"Item", "Status"})
				for _, name := range sortedKeys(out.Items) {
					t.AppendRow(table.Row{name, out.Items[name]})
				}
				t.AppendFooter(table.Row{"state", out.State})
			})
		},
	}
}

// saveCmd creates the save command.
func saveCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:  "save",
		Usage: "Read the live items of the request file into a new capture file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "File name (default: request name and timestamp)"},
			&cli.StringFlag{Name: "comment", Aliases: []string{"c"}, Usage: "Comment"},
			&cli.StringFlag{Name: "labels", Aliases: []string{"l"}, Usage: "Comma-separated labels"},
			&cli.BoolFlag{Name: "force", Usage: "Save even if items are disconnected"},
			&cli.BoolFlag{Name: "overwrite", Usage: "Replace an existing file"},
			&cli.StringSliceFlag{Name: "macro", Aliases: []string{"m"}, Usage: "Macro override KEY=VALUE (repeatable)"},
		},
		Action: func(c *cli.Context) error {
			macros, err := parseMacros(c.StringSlice("macro"))
			if err != nil {
				return outputError(err)
			}

			out, err := svc.Save(c.Context, ops.SaveInput{
				Name:      c.String("name"),
				Comment:   c.String("comment"),
				Labels:    parseList(c.String("labels")),
				Force:     c.Bool("force"),
				Overwrite: c.Bool("overwrite"),
				Macros:    macros,
			})
			if err != nil {
				return outputError(err)
			}
			return render(c, out, nil)
		},
	}
}

// editCmd creates the edit command.
func editCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Change a capture file's comment or labels",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "comment", Aliases: []string{"c"}, Usage: "New comment"},
			&cli.StringFlag{Name: "labels", Aliases: []string{"l"}, Usage: "New comma-separated labels (empty clears)"},
		},
		Action: func(c *cli.Context) error {
			input := ops.EditInput{Name: c.Args().First()}
			if c.IsSet("comment") {
				comment := c.String("comment")
				input.Comment = &comment
			}
			if c.IsSet("labels") {
				labels := parseList(c.String("labels"))
				if labels == nil {
					labels = []string{}
				}
				input.Labels = &labels
			}

			out, err := svc.EditMetadata(input)
			if err != nil {
				return outputError(err)
			}
			return render(c, out, nil)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete capture files",
		ArgsUsage: "<name>...",
		Action: func(c *cli.Context) error {
			out, err := svc.Delete(ops.DeleteInput{Names: c.Args().Slice()})
			if err != nil {
				return outputError(err)
			}
			return render(c, out, nil)
		},
	}
}

// compareCmd creates the compare command.
func compareCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:      "compare",
		Usage:     "Compare the values of two capture files",
		ArgsUsage: "<a> <b>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "text", Aliases: []string{"t"}, Usage: "Include a line diff of the payloads"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return outputError(errors.NewInvalidRequest("compare takes exactly two file names"))
			}

			out, err := svc.Compare(ops.CompareInput{
				A:    c.Args().Get(0),
				B:    c.Args().Get(1),
				Text: c.Bool("text"),
			})
			if err != nil {
				return outputError(err)
			}
			return render(c, out, func(t table.Writer) {
				t.AppendHeader(table.Row{"Item", out.A, out.B, "Equal"})
				for _, row := range out.Rows {
					t.AppendRow(table.Row{row.Name, valueCell(row.A), valueCell(row.B), row.Equal})
				}
				t.AppendFooter(table.Row{"differences", "", "", out.Differences})
			})
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(svc *ops.Service, cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the JSON API and metrics over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Usage: "Listen address (default from config)"},
		},
		Action: func(c *cli.Context) error {
			addr := c.String("addr")
			if addr == "" {
				addr = cfg.HTTPAddr
			}
			srv := web.NewServer(svc, Version, addr, logger)
			if err := web.Run(srv, logger); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(svc *ops.Service, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server on stdio",
		Action: func(c *cli.Context) error {
			if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("unknown disabled tools: %s", strings.Join(unknown, ", "))))
			}
			return mcp.Run(svc, cfg, Version)
		},
	}
}

// Helper functions

// render writes v as JSON, or as a table when --format=table and the command
// has a table layout.
func render(c *cli.Context, v any, layout func(t table.Writer)) error {
	if c.String("format") == formatTable && layout != nil {
		t := table.NewWriter()
		t.SetOutputMirror(c.App.Writer)
		t.SetStyle(table.StyleLight)
		layout(t)
		t.Render()
		return nil
	}
	return outputJSON(c.App.Writer, v)
}

// outputJSON marshals result to w as JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if sErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// parseList splits a comma-separated string, dropping blanks.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// parseMacros parses KEY=VALUE pairs.
func parseMacros(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	macros := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid macro %q (want KEY=VALUE)", pair))
		}
		macros[key] = value
	}
	return macros, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// valueCell renders a compare cell; a missing value shows as "-".
func valueCell(v *capture.Value) string {
	if v == nil {
		return "-"
	}
	return v.String()
}
