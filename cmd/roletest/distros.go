// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/roletest/roletest/internal/distro"
)

func newDistrosCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "distros",
		Aliases: []string{"ls"},
		Short:   "List the distros roletest can test on",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			registry, err := distro.NewRegistry(cfg.DistroOverrides())
			if err != nil {
				return err
			}
			renderDistroTable(app.stdout, registry, cfg.Image.Namespace, cfg.Image.Tag, cfg.Distro)
			return nil
		},
	}
}

func renderDistroTable(w io.Writer, registry *distro.Registry, namespace, tag, selected string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("DISTRO"),
		text.FgHiCyan.Sprint("IMAGE"),
		text.FgHiCyan.Sprint("INIT"),
		text.FgHiCyan.Sprint("PRIVILEGED"),
		text.FgHiCyan.Sprint("CGROUP MOUNT"),
		text.FgHiCyan.Sprint("SOURCE"),
	})

	for _, d := range registry.All() {
		name := d.Name
		if d.Name == selected {
			name = text.FgGreen.Sprint(d.Name + " *")
		}
		source := "builtin"
		if !distro.IsBuiltin(d.Name) {
			source = text.FgYellow.Sprint("config")
		}
		t.AppendRow(table.Row{
			name,
			string(d.Image(namespace, tag)),
			d.Init,
			strconv.FormatBool(d.Privileged),
			strconv.FormatBool(d.CgroupMount),
			source,
		})
	}
	t.Render()
}
