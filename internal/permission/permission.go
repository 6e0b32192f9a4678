// Package permission implements the Permission Arbiter (spec §4.9): a pure
// string classifier that decides whether a bash-like tool call is safe
// enough to auto-approve, consulted on PreToolUse.
package permission

import (
	"fmt"
	"strings"

	"github.com/omc/kernel/internal/domain"
	"github.com/omc/kernel/internal/modes"
)

// safePrefixes is the whitelist of command prefixes considered read-only
// enough to auto-approve (spec §4.9). Checked against the trimmed command
// with any leading quoted segment stripped.
var safePrefixes = []string{
	"git status",
	"git diff",
	"git log",
	"git branch",
	"git show",
	"git fetch",
	"npm test",
	"npm run test",
	"npm run lint",
	"npm run build",
	"npm run typecheck",
	"yarn test",
	"yarn lint",
	"yarn build",
	"pnpm test",
	"pnpm lint",
	"pnpm build",
	"go test",
	"go vet",
	"go build",
	"go fmt",
	"make test",
	"make lint",
	"make build",
	"ls",
}

// unsafeMetachars is the blacklist of shell metacharacters that disqualify
// an otherwise-whitelisted command (spec §4.9), checked only outside quoted
// substrings — "git diff \"a; b\"" is safe, since the semicolon never
// reaches the shell as a separator. This is still pure string scanning, not
// a shell parser: it tracks quote state char-by-char but does no escaping,
// expansion, or tokenization.
const unsafeMetachars = ";|&$`(){}[]*?~!#<>\\\n\r\t\x00"

// Verdict is the {safe, reason} result of Classify.
type Verdict struct {
	Safe   bool
	Reason string
}

// Classify decides whether command is safe to auto-approve.
func Classify(command string) Verdict {
	trimmed := strings.TrimSpace(command)
	if !hasSafePrefix(trimmed) {
		return Verdict{Safe: false, Reason: "command does not match a known read-only prefix"}
	}
	if containsUnquotedMetachar(trimmed) {
		return Verdict{Safe: false, Reason: "command contains shell metacharacters"}
	}
	return Verdict{Safe: true, Reason: fmt.Sprintf("Safe: %q matches a read-only whitelist prefix", trimmed)}
}

func hasSafePrefix(command string) bool {
	for _, prefix := range safePrefixes {
		if command == prefix || strings.HasPrefix(command, prefix+" ") {
			return true
		}
	}
	return false
}

// containsUnquotedMetachar reports whether command contains a character
// from unsafeMetachars outside of a single- or double-quoted substring
// (spec §4.9: "simple quoted substrings are permitted"). An unterminated
// quote leaves the rest of the command inside the quote, so a trailing
// unclosed quote can never hide a metacharacter from an earlier unquoted
// position.
func containsUnquotedMetachar(command string) bool {
	var quote byte
	for i := 0; i < len(command); i++ {
		c := command[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case strings.IndexByte(unsafeMetachars, c) >= 0:
			return true
		}
	}
	return false
}

// Arbitrate runs the full PreToolUse contract (spec §4.9): non-bash tools
// pass through unchanged (nil verdict, i.e. allow); bash tools are
// classified, and an unsafe command while an exclusive mode is active still
// does not get auto-approved — that case returns a bare allow (no decision)
// so the host falls back to its own prompting, which is the point of the
// invariant.
func Arbitrate(toolName, command, root string) (*domain.Verdict, error) {
	if toolName != "Bash" {
		return domain.Allow(), nil
	}

	result := Classify(command)
	if result.Safe {
		return &domain.Verdict{
			Continue: true,
			HookSpecificOutput: &domain.HookSpecificOutput{
				HookEventName: domain.EventPreToolUse,
				Decision:      &domain.Decision{Behavior: "allow", Reason: result.Reason},
			},
		}, nil
	}

	// Even when an exclusive mode is driving automated iteration, an unsafe
	// command is never auto-approved here; GetActiveModes is consulted only
	// to annotate why, for operator-facing logs upstream of this call.
	if _, err := modes.GetActiveModes(root); err != nil {
		return nil, err
	}
	return domain.Allow(), nil
}
