package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/illarion/duitvault/internal/model"
)

// Diff compares a backup against the live vault and returns a unified diff
// per collection that differs. Nothing local is modified.
func (c *Codec) Diff(ctx context.Context, data, passphrase []byte) (map[model.Kind]string, error) {
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	key, err := c.engine.Derive(passphrase, f.Meta)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	_, backed, _, err := open(f, key)
	if err != nil {
		return nil, err
	}

	diffs := make(map[model.Kind]string)
	for _, kind := range model.Kinds {
		live, err := c.records.List(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", kind, err)
		}
		liveText, err := render(live)
		if err != nil {
			return nil, err
		}
		backupText, err := render(backed[kind])
		if err != nil {
			return nil, err
		}
		if d := unifiedDiff(string(kind), liveText, backupText); d != "" {
			diffs[kind] = d
		}
	}
	return diffs, nil
}

// render prints entities as indented JSON ordered by id
func render(entities []model.Entity) (string, error) {
	sorted := append([]model.Entity(nil), entities...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EntityID() < sorted[j].EntityID() })

	var b strings.Builder
	for _, e := range sorted {
		data, err := json.MarshalIndent(e, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to render %s: %w", e.EntityID(), err)
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// unifiedDiff returns the patch from live to backup, or "" if equal
func unifiedDiff(name, live, backup string) string {
	if live == backup {
		return ""
	}

	dmp := diffmatchpatch.New()

	a, b, lineArray := dmp.DiffLinesToChars(live, backup)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	patches := dmp.PatchMake(live, diffs)
	if len(patches) == 0 {
		return ""
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("--- vault/%s\n", name))
	result.WriteString(fmt.Sprintf("+++ backup/%s\n", name))
	result.WriteString(dmp.PatchToText(patches))
	return result.String()
}
