// Package notepad implements PostToolUse's remember-tag scraper (spec
// §4.5 point 2): tool output containing `<remember>...</remember>` tags is
// appended to the compaction-resilient .omc/notepad.md working-memory
// section, the same file internal/context watches for hand edits.
package notepad

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/omc/kernel/internal/pathguard"
)

var rememberTag = regexp.MustCompile(`(?s)<remember>(.*?)</remember>`)

const (
	headerPriority = "## PRIORITY CONTEXT"
	headerWorking  = "## WORKING MEMORY"
	headerManual   = "## MANUAL"
)

// ScrapeRememberTags returns the trimmed content of every <remember> tag
// found in text, in order, skipping empty matches.
func ScrapeRememberTags(text string) []string {
	matches := rememberTag.FindAllStringSubmatch(text, -1)
	var out []string
	for _, m := range matches {
		body := strings.TrimSpace(m[1])
		if body != "" {
			out = append(out, body)
		}
	}
	return out
}

// AppendWorkingMemory appends entries as timestamped bullet lines under
// notepad.md's WORKING MEMORY section, creating the file with its three
// standard sections if absent. The MANUAL section, once present, is never
// rewritten beyond being carried forward verbatim (spec: "user-owned, never
// pruned").
func AppendWorkingMemory(root string, entries []string, now time.Time) error {
	if len(entries) == 0 {
		return nil
	}
	path, err := pathguard.ResolveOmc("notepad.md", root)
	if err != nil {
		return err
	}

	existing, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("notepad: read %s: %w", path, err)
		}
		existing = []byte(headerPriority + "\n\n" + headerWorking + "\n\n" + headerManual + "\n")
	}

	priority, working, manual := splitSections(string(existing))

	var b strings.Builder
	b.WriteString(strings.TrimRight(working, "\n"))
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] %s\n", now.UTC().Format(time.RFC3339), strings.ReplaceAll(e, "\n", " "))
	}

	var out strings.Builder
	out.WriteString(headerPriority + "\n" + strings.TrimSpace(priority) + "\n\n")
	out.WriteString(headerWorking + "\n" + b.String() + "\n")
	out.WriteString(headerManual + "\n" + strings.TrimLeft(manual, "\n"))

	return os.WriteFile(path, []byte(out.String()), 0o600)
}

// splitSections pulls the body of each of the three standard sections out of
// a notepad.md document. Missing sections return "".
func splitSections(doc string) (priority, working, manual string) {
	sections := map[string]string{}
	order := []string{headerPriority, headerWorking, headerManual}
	cur := ""
	var body strings.Builder
	flush := func() {
		if cur != "" {
			sections[cur] = body.String()
		}
		body.Reset()
	}
	for _, line := range strings.Split(doc, "\n") {
		matched := false
		for _, h := range order {
			if strings.TrimSpace(line) == h {
				flush()
				cur = h
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if cur != "" {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	flush()
	return sections[headerPriority], sections[headerWorking], sections[headerManual]
}
