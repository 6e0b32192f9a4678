// Package context implements the Context Injection Pipeline (spec §4.11):
// on SessionStart and UserPromptSubmit it assembles a single
// additionalContext string from project memory, directory directives,
// injected rules, matched skills, PRD status, and recent progress, bounded
// to a total character budget.
package context

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/omc/kernel/internal/atomicstore"
	"github.com/omc/kernel/internal/domain"
	"github.com/omc/kernel/internal/pathguard"
)

// defaultMaxContextChars is the overall additionalContext budget (spec
// §4.11) used when the operator does not override it via omc.yaml's
// context.max_chars.
const defaultMaxContextChars = 6000

// ProjectMemory is the auto-detected environment summary (spec §3's
// project-memory.json).
type ProjectMemory struct {
	Language     string   `json:"language,omitempty"`
	Frameworks   []string `json:"frameworks,omitempty"`
	BuildCommand string   `json:"build_command,omitempty"`
	TestCommand  string   `json:"test_command,omitempty"`
}

// Rule is one injected-rules entry (spec §4.11 point 3). Scope restricts
// which prompts/tools trigger it; empty Scope means always-on.
type Rule struct {
	ID    string `json:"id"`
	Scope string `json:"scope,omitempty"` // substring matched against prompt or tool name
	Body  string `json:"body"`
}

// Skill is one skill the pipeline can surface as injected context text. It
// is also describable as an mcp.Resource, so a skill's content is available
// to a host's own MCP client through the identical URI/description/MIME
// shape the Context Injection Pipeline uses to inject it as text (spec
// §3's domain-stack table; grounded on the teacher's
// internal/tools/collab/resources.go static-resource registration).
type Skill struct {
	URI             string
	Name            string
	Description     string
	TriggerKeywords []string
	Body            string
}

// AsResource describes s the same way the teacher's MCP server describes a
// static resource, without starting a server.
func (s Skill) AsResource() mcp.Resource {
	return mcp.NewResource(
		s.URI,
		s.Name,
		mcp.WithResourceDescription(s.Description),
		mcp.WithMIMEType("text/markdown"),
	)
}

// sessionCache is the per-session content-hash dedup record persisted to
// .omc/state/skill-sessions.json (spec §4.11 point 4).
type sessionCache struct {
	InjectedRuleHashes map[string]bool `json:"injected_rule_hashes"`
	InjectedSkillPaths map[string]bool `json:"injected_skill_paths"`
}

// Pipeline assembles additionalContext for one worktree root. It holds an
// in-memory mirror of each session's dedup cache, invalidated by an
// fsnotify watch on .omc/notepad.md so a hand-edit is picked up immediately
// rather than waiting for the next hook invocation to re-read disk.
type Pipeline struct {
	root     string
	maxChars int

	mu      sync.Mutex
	cache   map[string]*sessionCache // sid -> cache
	watcher *fsnotify.Watcher
}

// New creates a Pipeline for root and best-effort starts a notepad.md
// watcher; if fsnotify initialization fails, the pipeline still functions
// correctly, it just re-reads the session cache file every call. The
// additionalContext budget defaults to defaultMaxContextChars; call
// WithMaxChars to override it from the loaded Config.
func New(root string) *Pipeline {
	p := &Pipeline{root: root, maxChars: defaultMaxContextChars, cache: make(map[string]*sessionCache)}
	p.startWatch()
	return p
}

// WithMaxChars overrides the additionalContext budget and returns p for
// chaining (spec §4.11: "bounded to a configurable total character budget").
// A non-positive chars leaves the default in place.
func (p *Pipeline) WithMaxChars(chars int) *Pipeline {
	if chars > 0 {
		p.maxChars = chars
	}
	return p
}

func (p *Pipeline) startWatch() {
	notepadPath, err := pathguard.ResolveOmc("notepad.md", p.root)
	if err != nil {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	if err := watcher.Add(filepath.Dir(notepadPath)); err != nil {
		_ = watcher.Close()
		return
	}
	p.watcher = watcher
	go p.watchLoop(filepath.Base(notepadPath))
}

func (p *Pipeline) watchLoop(notepadName string) {
	for event := range p.watcher.Events {
		if filepath.Base(event.Name) != notepadName {
			continue
		}
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			continue
		}
		p.mu.Lock()
		p.cache = make(map[string]*sessionCache)
		p.mu.Unlock()
	}
}

// Close stops the notepad watcher, if running.
func (p *Pipeline) Close() error {
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Close()
}

// Input carries everything the pipeline needs beyond what it reads off
// disk: the triggering prompt/tool (for rule/skill scope matching) and the
// available rule/skill catalogs (normally loaded once at process start from
// .omc/skills/ and rules configured in omc.yaml).
type Input struct {
	SessionID   string
	Prompt      string
	ToolName    string
	Rules       []Rule
	Skills      []Skill
	ActivePRD   *domain.PRD
	ProgressLog []domain.ProgressEntry
}

// section is one named chunk of assembled context, kept distinct from the
// others until final joining so length-bounding can drop by priority.
type section struct {
	name string
	body string
}

// Assemble builds the additionalContext string per spec §4.11's six-part
// order, deduping rules/skills already injected this session via content
// hash, then bounding the total to maxContextChars by dropping low-priority
// sections first and truncating skill bodies before outright dropping them.
func (p *Pipeline) Assemble(ctx context.Context, in Input) (string, error) {
	cache, err := p.loadCache(in.SessionID)
	if err != nil {
		return "", err
	}

	var sections []section

	if mem, err := p.readProjectMemory(); err == nil && mem != nil {
		sections = append(sections, section{name: "project-memory", body: formatProjectMemory(*mem)})
	}

	if readme := p.readDirectives(in.Prompt); readme != "" {
		sections = append(sections, section{name: "directives", body: readme})
	}

	if rulesBody := p.matchRules(in, cache); rulesBody != "" {
		sections = append(sections, section{name: "rules", body: rulesBody})
	}

	if skillsBody := p.matchSkills(in, cache); skillsBody != "" {
		sections = append(sections, section{name: "skills", body: skillsBody})
	}

	if in.ActivePRD != nil {
		sections = append(sections, section{name: "prd", body: formatPRD(in.ActivePRD)})
	}

	if len(in.ProgressLog) > 0 {
		sections = append(sections, section{name: "progress", body: formatProgress(in.ProgressLog)})
	}

	if err := p.saveCache(in.SessionID, cache); err != nil {
		return "", err
	}

	return bound(sections, p.maxChars), nil
}

// bound joins sections in priority order (§1-3 over §4-6 per spec), dropping
// trailing sections and truncating skill bodies as needed to fit budget.
func bound(sections []section, budget int) string {
	var kept []string
	used := 0
	for _, s := range sections {
		body := s.body
		remaining := budget - used
		if remaining <= 0 {
			break
		}
		if len(body) > remaining {
			if s.name == "skills" {
				body = body[:remaining]
			} else {
				break
			}
		}
		kept = append(kept, body)
		used += len(body)
	}
	return strings.Join(kept, "\n\n")
}

func (p *Pipeline) readProjectMemory() (*ProjectMemory, error) {
	path, err := pathguard.ResolveOmc("project-memory.json", p.root)
	if err != nil {
		return nil, err
	}
	var mem ProjectMemory
	found, err := atomicstore.SafeReadJSON(path, &mem)
	if err != nil || !found {
		return nil, err
	}
	return &mem, nil
}

func formatProjectMemory(mem ProjectMemory) string {
	var b strings.Builder
	b.WriteString("## Project\n")
	if mem.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", mem.Language)
	}
	if len(mem.Frameworks) > 0 {
		fmt.Fprintf(&b, "Frameworks: %s\n", strings.Join(mem.Frameworks, ", "))
	}
	if mem.BuildCommand != "" {
		fmt.Fprintf(&b, "Build: %s\n", mem.BuildCommand)
	}
	if mem.TestCommand != "" {
		fmt.Fprintf(&b, "Test: %s\n", mem.TestCommand)
	}
	return strings.TrimRight(b.String(), "\n")
}

// readDirectives best-effort reads a README.md out of any directory the
// prompt mentions by name, keyed loosely by substring match (spec §4.11
// point 2: "keyed by paths the user mentioned").
func (p *Pipeline) readDirectives(prompt string) string {
	if prompt == "" {
		return ""
	}
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return ""
	}
	var found []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !strings.Contains(prompt, e.Name()) {
			continue
		}
		readmePath := filepath.Join(p.root, e.Name(), "README.md")
		content, err := os.ReadFile(readmePath)
		if err != nil {
			continue
		}
		found = append(found, fmt.Sprintf("## %s/README.md\n\n%s", e.Name(), strings.TrimSpace(string(content))))
	}
	return strings.Join(found, "\n\n")
}

func (p *Pipeline) matchRules(in Input, cache *sessionCache) string {
	var matched []string
	for _, r := range in.Rules {
		if r.Scope != "" && !strings.Contains(in.Prompt, r.Scope) && !strings.Contains(in.ToolName, r.Scope) {
			continue
		}
		hash := contentHash(r.Body)
		if cache.InjectedRuleHashes[hash] {
			continue
		}
		cache.InjectedRuleHashes[hash] = true
		matched = append(matched, r.Body)
	}
	if len(matched) == 0 {
		return ""
	}
	return "## Rules\n\n" + strings.Join(matched, "\n\n")
}

func (p *Pipeline) matchSkills(in Input, cache *sessionCache) string {
	var matched []string
	for _, s := range in.Skills {
		if cache.InjectedSkillPaths[s.URI] {
			continue
		}
		if !skillTriggered(s, in.Prompt) {
			continue
		}
		cache.InjectedSkillPaths[s.URI] = true
		matched = append(matched, fmt.Sprintf("### %s\n\n%s", s.Name, s.Body))
	}
	if len(matched) == 0 {
		return ""
	}
	return "## Skills\n\n" + strings.Join(matched, "\n\n")
}

func skillTriggered(s Skill, prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, kw := range s.TriggerKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func formatPRD(prd *domain.PRD) string {
	var b strings.Builder
	b.WriteString("## PRD Status\n")
	next := prd.NextStory()
	if next == nil {
		b.WriteString("All stories pass.")
		return b.String()
	}
	fmt.Fprintf(&b, "Current story: %s (%s)\n", next.ID, next.Title)
	done, total := 0, len(prd.Stories)
	for _, s := range prd.Stories {
		if s.Passes {
			done++
		}
	}
	fmt.Fprintf(&b, "Progress: %d/%d stories passing", done, total)
	return b.String()
}

func formatProgress(entries []domain.ProgressEntry) string {
	var b strings.Builder
	b.WriteString("## Recent Progress\n")
	start := 0
	if len(entries) > 5 {
		start = len(entries) - 5
	}
	for _, e := range entries[start:] {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", e.At.Format("15:04:05"), e.StoryID, e.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func contentHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

func (p *Pipeline) cachePath(sid string) (string, error) {
	return pathguard.ResolveOmc("state/skill-sessions.json", p.root)
}

func (p *Pipeline) loadCache(sid string) (*sessionCache, error) {
	p.mu.Lock()
	if c, ok := p.cache[sid]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	path, err := p.cachePath(sid)
	if err != nil {
		return nil, err
	}
	var onDisk map[string]*sessionCache
	found, err := atomicstore.SafeReadJSON(path, &onDisk)
	if err != nil {
		return nil, err
	}
	var c *sessionCache
	if found && onDisk[sid] != nil {
		c = onDisk[sid]
	} else {
		c = &sessionCache{}
	}
	if c.InjectedRuleHashes == nil {
		c.InjectedRuleHashes = make(map[string]bool)
	}
	if c.InjectedSkillPaths == nil {
		c.InjectedSkillPaths = make(map[string]bool)
	}

	p.mu.Lock()
	p.cache[sid] = c
	p.mu.Unlock()
	return c, nil
}

func (p *Pipeline) saveCache(sid string, c *sessionCache) error {
	path, err := p.cachePath(sid)
	if err != nil {
		return err
	}
	var onDisk map[string]*sessionCache
	if _, err := atomicstore.SafeReadJSON(path, &onDisk); err != nil {
		return err
	}
	if onDisk == nil {
		onDisk = make(map[string]*sessionCache)
	}
	onDisk[sid] = c
	if err := atomicstore.WriteJSON(path, onDisk); err != nil {
		return err
	}

	p.mu.Lock()
	p.cache[sid] = c
	p.mu.Unlock()
	return nil
}
