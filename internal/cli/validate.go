package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"

	"github.com/aretw0/parley/internal/compiler"
	"github.com/aretw0/parley/internal/condition"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// ValidateFlows compiles every flow of repo, printing warnings and errors to w.
// It returns an error when at least one flow does not compile.
// piiFields are the store's masking patterns; flows that read a masked
// field are reported, since they would see the mask after a save.
func ValidateFlows(ctx context.Context, repo ports.FlowRepository, w io.Writer, piiFields []string) error {
	pii := make([]*regexp.Regexp, 0, len(piiFields))
	for _, p := range piiFields {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("pii pattern %q: %w", p, err)
		}
		pii = append(pii, re)
	}

	headers, err := repo.ListFlows(ctx, "")
	if err != nil {
		return fmt.Errorf("list flows: %w", err)
	}
	if len(headers) == 0 {
		fmt.Fprintln(w, "No flows found.")
		return nil
	}

	var errs []error
	for _, h := range headers {
		flow, err := repo.LoadFlow(ctx, h.ID)
		if err != nil {
			errs = append(errs, err)
			fmt.Fprintf(w, "✗ %s: %v\n", h.ID, err)
			continue
		}
		_, warnings, err := compiler.Compile(*flow)
		if err != nil {
			errs = append(errs, fmt.Errorf("flow %s: %w", flow.ID, err))
			fmt.Fprintf(w, "✗ %s: %v\n", flow.ID, err)
			continue
		}
		fmt.Fprintf(w, "✓ %s (%d nodes)\n", flow.ID, len(flow.Nodes))
		for _, warn := range warnings {
			fmt.Fprintf(w, "  warning: %s\n", warn)
		}
		for _, warn := range maskedReads(*flow, pii) {
			fmt.Fprintf(w, "  warning: %s\n", warn)
		}
	}
	return errors.Join(errs...)
}

var templateField = regexp.MustCompile(`\{\{[^}]*?\.([A-Za-z_][A-Za-z0-9_]*)`)

// maskedReads lists the conditions and templates that read a field the store masks.
func maskedReads(flow domain.Flow, pii []*regexp.Regexp) []string {
	if len(pii) == 0 {
		return nil
	}
	masked := func(key string) bool {
		for _, re := range pii {
			if re.MatchString(key) {
				return true
			}
		}
		return false
	}

	var out []string
	report := func(nodeID, where, key string) {
		if masked(key) {
			out = append(out, fmt.Sprintf("%s: %s reads masked field '%s'", nodeID, where, key))
		}
	}
	templates := func(nodeID, where, text string) {
		for _, m := range templateField.FindAllStringSubmatch(text, -1) {
			report(nodeID, where, m[1])
		}
	}

	for _, n := range flow.Nodes {
		templates(n.ID, "content", n.Content)
		for i, b := range n.Branches {
			if b.When != "" {
				parsed, err := condition.Parse(b.When)
				if err != nil {
					continue
				}
				b = parsed
			}
			report(n.ID, fmt.Sprintf("branch %d", i), b.Field)
		}
		for _, a := range n.Actions {
			keys := make([]string, 0, len(a.Config))
			for k := range a.Config {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if s, ok := a.Config[k].(string); ok {
					templates(n.ID, fmt.Sprintf("%s.%s", a.Type, k), s)
				}
			}
		}
	}
	return out
}
