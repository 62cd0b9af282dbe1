package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// command is one node of the command tree. Leaves have run set.
type command struct {
	name    string
	args    string
	summary string
	nargs   int
	run     func(e env, args []string) error
	subs    []*command
}

// refusal is a request the server answered but turned down, such as an
// exhausted quota. It exits with 3 so scripts can tell it from failures.
type refusal struct{ reason string }

func (r refusal) Error() string { return r.reason }
func (refusal) ExitCode() int   { return 3 }

func root() *command {
	return &command{
		name: "gracectl",
		subs: []*command{
			{name: "rules", summary: "manage block rules", subs: []*command{
				{name: "ls", summary: "list rules", run: listRules},
				{name: "add", args: "<input>", summary: "add a rule", nargs: 1, run: addRule},
				{name: "rm", args: "<id>", summary: "remove a rule", nargs: 1, run: removeRule},
			}},
			{name: "grants", summary: "inspect grace periods", subs: []*command{
				{name: "ls", summary: "list active grace periods", run: listGrants},
			}},
			{name: "quota", summary: "show grace periods used this hour", run: showQuota},
			{name: "check", args: "<url>", summary: "show the verdict for a URL", nargs: 1, run: check},
			{name: "grant", args: "<url>", summary: "request a grace period for a URL", nargs: 1, run: requestGrant},
			{name: "verify", args: "<key>", summary: "verify a grace period key", nargs: 1, run: verify},
		},
	}
}

func (c *command) dispatch(e env, args []string) error {
	if c.run != nil {
		if len(args) != c.nargs {
			return fmt.Errorf("usage: %s %s", c.name, c.args)
		}
		return c.run(e, args)
	}
	if len(args) == 0 {
		return fmt.Errorf("%s: subcommand required (%s)", c.name, c.subNames())
	}
	for _, s := range c.subs {
		if s.name == args[0] {
			return s.dispatch(e, args[1:])
		}
	}
	return fmt.Errorf("unknown command %q (expected one of %s)", args[0], c.subNames())
}

func (c *command) subNames() string {
	names := make([]string, 0, len(c.subs))
	for _, s := range c.subs {
		names = append(names, s.name)
	}
	return strings.Join(names, ", ")
}

func (c *command) printCommands(w io.Writer, indent string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	var walk func(prefix string, cs []*command)
	walk = func(prefix string, cs []*command) {
		for _, s := range cs {
			path := strings.TrimSpace(prefix + " " + s.name)
			if s.run != nil {
				fmt.Fprintf(tw, "%s%s %s\t%s\n", indent, path, s.args, s.summary)
			}
			walk(path, s.subs)
		}
	}
	walk("", c.subs)
	_ = tw.Flush()
}

func listRules(e env, _ []string) error {
	rs, err := e.client.Rules(e.ctx)
	if err != nil {
		return err
	}
	return render(e, rs, rulesTable(rs))
}

func addRule(e env, args []string) error {
	r, err := e.client.AddRule(e.ctx, args[0])
	if err != nil {
		return err
	}
	return render(e, r, rulesTable(singleRule(r)))
}

func removeRule(e env, args []string) error {
	if err := e.client.RemoveRule(e.ctx, args[0]); err != nil {
		return err
	}
	if e.format == "table" {
		_, err := fmt.Fprintf(e.out, "removed %s\n", args[0])
		return err
	}
	return render(e, map[string]string{"removed": args[0]}, table{})
}

func listGrants(e env, _ []string) error {
	gs, err := e.client.Grants(e.ctx)
	if err != nil {
		return err
	}
	return render(e, gs, grantsTable(gs))
}

func showQuota(e env, _ []string) error {
	q, err := e.client.Quota(e.ctx)
	if err != nil {
		return err
	}
	return render(e, q, table{
		header: []string{"USED", "LIMIT", "HOUR"},
		rows:   [][]string{{fmt.Sprint(q.Used), fmt.Sprint(q.Limit), q.Bucket}},
	})
}

func check(e env, args []string) error {
	v, err := e.client.Check(e.ctx, args[0])
	if err != nil {
		return err
	}
	return render(e, v, verdictTable(v))
}

func requestGrant(e env, args []string) error {
	o, err := e.client.RequestGrant(e.ctx, args[0])
	if err != nil {
		return err
	}
	if err := render(e, o, outcomeTable(o)); err != nil {
		return err
	}
	if !o.Success {
		return refusal{reason: o.Error}
	}
	return nil
}

func verify(e env, args []string) error {
	o, err := e.client.Verify(e.ctx, args[0])
	if err != nil {
		return err
	}
	if err := render(e, o, outcomeTable(o)); err != nil {
		return err
	}
	if !o.Success {
		return refusal{reason: o.Error}
	}
	return nil
}
