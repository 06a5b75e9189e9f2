package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/iyacare/iyacare/internal/domain/template"
)

func printTemplates(out io.Writer, items []*template.Template) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tLANGUAGES\tACTIVE\tUSAGE\tLAST USED")
	for _, t := range items {
		var langs []string
		for _, l := range template.SupportedLanguages {
			if t.Content[l] != "" {
				langs = append(langs, l)
			}
		}
		lastUsed := "-"
		if t.LastUsedAt != nil {
			lastUsed = t.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\n", t.ID, t.Category, strings.Join(langs, ","), t.Active, t.UsageCount, lastUsed)
	}
	return w.Flush()
}
