package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dropDatabas3/consultadmin/internal/dataprovider"
	"github.com/spf13/cobra"
)

func (c *cli) print(cmd *cobra.Command, v any, text string) error {
	w := cmd.OutOrStdout()
	if c.out == "json" {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(b))
		return nil
	}
	fmt.Fprintln(w, text)
	return nil
}

func (c *cli) printRecord(cmd *cobra.Command, rec dataprovider.Record) error {
	if c.out == "json" {
		return c.print(cmd, rec, "")
	}
	w := cmd.OutOrStdout()
	for _, k := range sortedKeys(rec) {
		fmt.Fprintf(w, "%s\t%s\n", k, textValue(rec[k]))
	}
	return nil
}

func (c *cli) printList(cmd *cobra.Command, res *dataprovider.ListResult) error {
	if c.out == "json" {
		return c.print(cmd, res, "")
	}
	w := cmd.OutOrStdout()
	for _, rec := range res.Data {
		var parts []string
		for _, k := range sortedKeys(rec) {
			if k == "id" {
				continue
			}
			parts = append(parts, k+"="+textValue(rec[k]))
		}
		fmt.Fprintf(w, "%s\t%s\n", rec.ID(), strings.Join(parts, " "))
	}
	fmt.Fprintf(w, "(%d de %d)\n", len(res.Data), res.Total)
	return nil
}

func sortedKeys(rec dataprovider.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func textValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
