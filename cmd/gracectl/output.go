package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haukened/gracegate/internal/access/gateways/wire"
)

type table struct {
	header []string
	rows   [][]string
}

func validFormat(f string) bool {
	return f == "table" || f == "json" || f == "yaml"
}

// render writes v as JSON or YAML, or t as an aligned table.
func render(e env, v any, t table) error {
	switch e.format {
	case "json":
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(e.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.header, "\t"))
	for _, r := range t.rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

func stamp(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return wire.FromMillis(ms).Local().Format(time.DateTime)
}

func singleRule(r wire.Rule) []wire.Rule { return []wire.Rule{r} }

func rulesTable(rs []wire.Rule) table {
	t := table{header: []string{"ID", "URL", "ADDED"}}
	for _, r := range rs {
		t.rows = append(t.rows, []string{r.ID, r.URL, stamp(r.AddedAt)})
	}
	return t
}

func grantsTable(gs []wire.Grant) table {
	t := table{header: []string{"KEY", "URL", "DURATION", "EXPIRES"}}
	for _, g := range gs {
		d := (time.Duration(g.Duration) * time.Millisecond).String()
		t.rows = append(t.rows, []string{g.Key, g.URL, d, stamp(g.ExpiresAt)})
	}
	return t
}

func verdictTable(v wire.Verdict) table {
	rule, key := "-", "-"
	if v.Site != nil {
		rule = v.Site.URL
	}
	if v.GracePeriod != nil {
		key = v.GracePeriod.Key
	}
	return table{
		header: []string{"BLOCKED", "GRACE", "RULE", "KEY"},
		rows:   [][]string{{yesNo(v.IsBlocked), yesNo(v.HasActiveGrace), rule, key}},
	}
}

func outcomeTable(o wire.Outcome) table {
	if !o.Success {
		return table{header: []string{"SUCCESS", "ERROR"}, rows: [][]string{{"no", o.Error}}}
	}
	t := table{header: []string{"SUCCESS", "KEY", "URL", "DURATION", "EXPIRES"}}
	if g := o.GracePeriod; g != nil {
		d := (time.Duration(g.Duration) * time.Millisecond).String()
		t.rows = [][]string{{"yes", g.Key, g.URL, d, stamp(g.ExpiresAt)}}
	} else {
		t.rows = [][]string{{"yes", "-", "-", "-", "-"}}
	}
	return t
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
