package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/omc/kernel/internal/atomicstore"
	ctxpkg "github.com/omc/kernel/internal/context"
	"github.com/omc/kernel/internal/domain"
	"github.com/omc/kernel/internal/pathguard"
)

// loadRules best-effort reads every .omc/rules/*.md file into a Rule. The
// first line may be "scope: <substring>"; everything after it is the body.
// Rule/skill *content* is out of scope (see DESIGN.md's dropped-module
// note on the teacher's knowledge indexer); only the dedup/cache contract
// the Context Injection Pipeline enforces is in scope, so this loader
// stays minimal.
func loadRules(root string) []ctxpkg.Rule {
	dir, err := pathguard.ResolveOmc("rules", root)
	if err != nil {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var rules []ctxpkg.Rule
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		scope, body := splitFrontmatterScope(string(data))
		rules = append(rules, ctxpkg.Rule{
			ID:    strings.TrimSuffix(e.Name(), ".md"),
			Scope: scope,
			Body:  strings.TrimSpace(body),
		})
	}
	return rules
}

// loadSkills best-effort reads every .omc/skills/*.md file into a Skill. The
// first line may be "keywords: a, b, c"; everything after it is the body.
func loadSkills(root string) []ctxpkg.Skill {
	dir, err := pathguard.ResolveOmc("skills", root)
	if err != nil {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var skills []ctxpkg.Skill
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".md")
		keywords, body := splitFrontmatterKeywords(string(data))
		skills = append(skills, ctxpkg.Skill{
			URI:             fmt.Sprintf("omc://skills/%s", name),
			Name:            name,
			TriggerKeywords: keywords,
			Body:            strings.TrimSpace(body),
		})
	}
	return skills
}

func splitFrontmatterScope(doc string) (scope, body string) {
	const prefix = "scope:"
	first, rest, ok := strings.Cut(doc, "\n")
	if ok && strings.HasPrefix(strings.TrimSpace(first), prefix) {
		return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(first), prefix)), rest
	}
	return "", doc
}

func splitFrontmatterKeywords(doc string) (keywords []string, body string) {
	const prefix = "keywords:"
	first, rest, ok := strings.Cut(doc, "\n")
	if ok && strings.HasPrefix(strings.TrimSpace(first), prefix) {
		raw := strings.TrimPrefix(strings.TrimSpace(first), prefix)
		for _, kw := range strings.Split(raw, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				keywords = append(keywords, kw)
			}
		}
		return keywords, rest
	}
	return nil, doc
}

// loadActivePRD best-effort reads .omc/prd.json, the shared PRD document
// referenced by ralph-PRD-mode and autopilot (spec §4.4/§4.7).
func loadActivePRD(root string) *domain.PRD {
	path, err := pathguard.ResolveOmc("prd.json", root)
	if err != nil {
		return nil
	}
	var prd domain.PRD
	found, err := atomicstore.SafeReadJSON(path, &prd)
	if err != nil || !found {
		return nil
	}
	return &prd
}

// loadProgress best-effort reads .omc/progress.json, appended to by modes
// that track a per-story progress log (spec §4.11 point 6).
func loadProgress(root string) []domain.ProgressEntry {
	path, err := pathguard.ResolveOmc("progress.json", root)
	if err != nil {
		return nil
	}
	var entries []domain.ProgressEntry
	found, err := atomicstore.SafeReadJSON(path, &entries)
	if err != nil || !found {
		return nil
	}
	return entries
}
