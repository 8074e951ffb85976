package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"galleryfetch/internal/adapter"
)

func newAdaptersCmd(a *app) *cobra.Command {
	var match string
	cmd := &cobra.Command{
		Use:   "adapters",
		Short: "List loaded site adapters or show which one handles a URL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := adapter.Load(a.cfg.AdaptersDir)
			if err != nil {
				return err
			}
			if match != "" {
				site, err := registry.Resolve(match)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", match, site.Name)
				return nil
			}
			renderAdapters(cmd.OutOrStdout(), registry.All())
			return nil
		},
	}
	cmd.Flags().StringVarP(&match, "match", "m", "", "resolve the adapter for this URL")
	return cmd
}

func renderAdapters(out io.Writer, sites []*adapter.SiteAdapter) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Name", "Language", "Domains", "Mirrors", "Gallery"})
	for _, site := range sites {
		gallery := "no"
		if site.Gallery != nil {
			gallery = "yes"
		}
		tw.AppendRow(table.Row{site.Name, site.Language, strings.Join(site.Domains, ", "), len(site.Mirrors), gallery})
	}
	tw.Render()
}
