package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/agent-desk/internal/model"
	"github.com/rcliao/agent-desk/internal/rank"
	"github.com/rcliao/agent-desk/internal/runlog"
	"github.com/rcliao/agent-desk/internal/store"
)

// render writes v in the selected format. Text falls back to indented JSON
// for values without a text form.
func render(w io.Writer, format string, v any) error {
	switch format {
	case "", "json":
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		if writeText(w, v) {
			return nil
		}
		return render(w, "json", v)
	default:
		return fmt.Errorf("unknown format %q (use json, yaml or text)", format)
	}
}

func output(cmd *cobra.Command, v any) {
	if err := render(cmd.OutOrStdout(), formatFlag, v); err != nil {
		exitErr("output", err)
	}
}

func writeText(w io.Writer, v any) bool {
	switch x := v.(type) {
	case *model.MemoryEntry:
		writeEntry(w, *x)
	case []model.MemoryEntry:
		for _, e := range x {
			writeEntry(w, e)
		}
	case []rank.Result:
		for _, r := range x {
			fmt.Fprintf(w, "%.2f  ", r.Score)
			writeEntry(w, r.MemoryEntry)
		}
	case *store.Stats:
		fmt.Fprintf(w, "path:  %s\ntotal: %d\n", x.Path, x.Total)
		for _, k := range sortedKeys(x.CountsByType) {
			fmt.Fprintf(w, "  type %-12s %d\n", k, x.CountsByType[model.MemoryType(k)])
		}
		for _, k := range sortedKeys(x.CountsByCategory) {
			fmt.Fprintf(w, "  category %-8s %d\n", k, x.CountsByCategory[k])
		}
		if len(x.MostRecent) > 0 {
			fmt.Fprintln(w, "recent:")
			for _, e := range x.MostRecent {
				writeEntry(w, e)
			}
		}
	case map[string]string:
		for _, k := range sortedKeys(x) {
			fmt.Fprintf(w, "%s: %s\n", k, x[k])
		}
	case []runlog.Run:
		for _, r := range x {
			writeRun(w, r)
		}
	case *runlog.Run:
		writeRun(w, *x)
	default:
		return false
	}
	return true
}

func writeEntry(w io.Writer, e model.MemoryEntry) {
	fmt.Fprintf(w, "%s  %s  %-11s %-12s %s\n",
		e.ID, e.Timestamp.Local().Format("2006-01-02 15:04"), e.Type, e.Category, e.Description)
}

func writeRun(w io.Writer, r runlog.Run) {
	dur := "-"
	if r.FinishedAt != nil {
		dur = r.Duration().Round(time.Millisecond).String()
	}
	fmt.Fprintf(w, "%s  %s  %-9s %8s  %s\n",
		r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status, dur, r.RawQuery)
}

func sortedKeys[K ~string, V any](m map[K]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseDetails decodes a JSON object flag value.
func parseDetails(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var details map[string]any
	if err := json.Unmarshal([]byte(s), &details); err != nil {
		return nil, fmt.Errorf("details must be a JSON object: %w", err)
	}
	return details, nil
}

// parseFacts turns key=value arguments into a map.
func parseFacts(args []string) (map[string]string, error) {
	facts := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", a)
		}
		facts[k] = strings.TrimSpace(v)
	}
	return facts, nil
}

func parseType(s string) (model.MemoryType, error) {
	t := model.MemoryType(strings.ToLower(strings.TrimSpace(s)))
	if !model.ValidTypes[t] {
		return "", fmt.Errorf("invalid type %q (use action, information, preference or context)", s)
	}
	return t, nil
}
