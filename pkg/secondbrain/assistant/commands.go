// Package assistant – commands.go implements owner commands sent as chat
// messages.
//
// Commands are prefixed with "/":
//
//	/new                     - Start a fresh session for this channel
//	/model [name]            - Show or set the session model
//	/system [text|clear]     - Show, set, or clear the system prompt
//	/status                  - Show session and process status
//	/cost                    - Show per-session and total spend
//	/sessions                - List all active sessions
//	/export                  - Export this session's transcript
//	/kill                    - Kill this channel's running Claude process
//	/budget <usd>            - Set the per-turn spend ceiling
//	/search <query>          - Search the vault
//	/notes [folder]          - List vault notes
//	/tags                    - Show tag usage counts
//	/save <path>             - Save the last reply as a vault note
//	/autotag <path>          - Suggest and apply tags for a note
//	/mcp <list|install|remove> - Manage MCP servers
//	/help                    - Show available commands
package assistant

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jholhewres/secondbrain/pkg/secondbrain/channels"
)

// maxBudgetCeiling is the highest /budget value accepted, a guard against
// typos like "100" for "1.00".
const maxBudgetCeiling = 10.0

// CommandResult contains the result of a command execution.
type CommandResult struct {
	// Response is the text to send back.
	Response string

	// Files are attachments to send alongside the response.
	Files []*channels.FileMessage

	// Handled is true if the message was a valid command.
	Handled bool
}

// IsCommand returns true if the message starts with "/".
func IsCommand(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), "/")
}

// HandleCommand processes an owner command from a chat message. Returns
// Handled=false for text that merely looks slash-prefixed, so it falls
// through to a normal turn.
func (a *Assistant) HandleCommand(ctx context.Context, msg *channels.IncomingMessage) CommandResult {
	content := strings.TrimSpace(msg.Content)
	if !IsCommand(content) {
		return CommandResult{Handled: false}
	}

	parts := strings.Fields(content)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]
	key := msg.SessionKey()

	switch cmd {
	case "/new", "/reset":
		a.store.Reset(key)
		return CommandResult{Response: "Started a fresh session.", Handled: true}

	case "/model":
		return CommandResult{Response: a.modelCommand(key, args), Handled: true}

	case "/system":
		return CommandResult{Response: a.systemCommand(key, args, content), Handled: true}

	case "/status":
		return CommandResult{Response: a.statusCommand(key), Handled: true}

	case "/cost":
		return CommandResult{Response: a.costCommand(key), Handled: true}

	case "/sessions":
		return CommandResult{Response: a.sessionsCommand(), Handled: true}

	case "/export":
		return a.exportCommand(key)

	case "/kill":
		if n := a.runner.Kill(key); n > 0 {
			return CommandResult{Response: "Killed the running Claude process.", Handled: true}
		}
		return CommandResult{Response: "Nothing is running for this channel.", Handled: true}

	case "/budget":
		return CommandResult{Response: a.budgetCommand(args), Handled: true}

	case "/search":
		return CommandResult{Response: a.searchCommand(args), Handled: true}

	case "/notes":
		return CommandResult{Response: a.notesCommand(args), Handled: true}

	case "/tags":
		return CommandResult{Response: a.tagsCommand(), Handled: true}

	case "/save":
		return CommandResult{Response: a.saveCommand(key, args), Handled: true}

	case "/autotag":
		return CommandResult{Response: a.autotagCommand(ctx, args), Handled: true}

	case "/mcp":
		return CommandResult{Response: a.mcpCommand(args), Handled: true}

	case "/help":
		return CommandResult{Response: helpText, Handled: true}
	}

	return CommandResult{Handled: false}
}

func (a *Assistant) modelCommand(key string, args []string) string {
	sess := a.store.Get(key)
	if len(args) == 0 {
		return fmt.Sprintf("Current model: **%s**", sess.Model)
	}
	model := args[0]
	a.store.SetModel(key, model)
	return fmt.Sprintf("Model set to **%s**. Takes effect next turn.", model)
}

func (a *Assistant) systemCommand(key string, args []string, content string) string {
	sess := a.store.Get(key)
	if len(args) == 0 {
		if sess.SystemPrompt == "" {
			return "No system prompt set. `/system <text>` to set one."
		}
		return fmt.Sprintf("System prompt:\n```\n%s\n```", sess.SystemPrompt)
	}
	if strings.EqualFold(args[0], "clear") {
		a.store.SetSystemPrompt(key, "")
		return "System prompt cleared."
	}
	// Keep the prompt's original spacing, not the field-split version.
	prompt := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(content), "/system"))
	a.store.SetSystemPrompt(key, prompt)
	return "System prompt set."
}

func (a *Assistant) statusCommand(key string) string {
	sess := a.store.Get(key)
	var b strings.Builder
	b.WriteString("**Status**\n")
	fmt.Fprintf(&b, "Model: %s\n", sess.Model)
	fmt.Fprintf(&b, "Turns: %d\n", sess.TurnCount)
	fmt.Fprintf(&b, "Session cost: $%.4f\n", sess.TotalCostUSD)
	if sess.ID != "" {
		fmt.Fprintf(&b, "Session id: %s\n", shortID(sess.ID))
	} else {
		b.WriteString("Session id: (none yet)\n")
	}
	fmt.Fprintf(&b, "Budget per turn: $%.2f\n", a.runner.MaxBudget())
	if a.runner.IsRunning(key) {
		b.WriteString("A Claude run is in progress for this channel.\n")
	}
	fmt.Fprintf(&b, "Processes running: %d", a.runner.RunningCount())
	return b.String()
}

func (a *Assistant) costCommand(key string) string {
	sess := a.store.Get(key)
	return fmt.Sprintf("This session: $%.4f over %d turn(s)\nAll sessions: $%.4f",
		sess.TotalCostUSD, sess.TurnCount, a.store.TotalCost())
}

func (a *Assistant) sessionsCommand() string {
	all := a.store.All()
	if len(all) == 0 {
		return "No active sessions."
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "**Sessions (%d)**\n", len(keys))
	for _, k := range keys {
		sess := all[k]
		fmt.Fprintf(&b, "`%s` — %s, %d turn(s), $%.4f\n",
			k, sess.Model, sess.TurnCount, sess.TotalCostUSD)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Assistant) exportCommand(key string) CommandResult {
	sess := a.store.Get(key)
	if len(sess.History) == 0 {
		return CommandResult{Response: "Nothing to export yet.", Handled: true}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", key)
	fmt.Fprintf(&b, "Model: %s · Turns: %d · Cost: $%.4f\n\n", sess.Model, sess.TurnCount, sess.TotalCostUSD)
	for i, ex := range sess.History {
		fmt.Fprintf(&b, "## Turn %d\n\n**User:** %s\n\n%s\n\n", i+1, ex.UserMessage, ex.AssistantMessage)
	}

	return CommandResult{
		Response: fmt.Sprintf("Transcript of %d turn(s):", len(sess.History)),
		Files: []*channels.FileMessage{{
			Filename: fmt.Sprintf("session-%s.md", key),
			Data:     []byte(b.String()),
		}},
		Handled: true,
	}
}

func (a *Assistant) budgetCommand(args []string) string {
	if len(args) != 1 {
		return fmt.Sprintf("Usage: `/budget <usd>` (currently $%.2f)", a.runner.MaxBudget())
	}
	usd, err := strconv.ParseFloat(args[0], 64)
	if err != nil || usd <= 0 || usd > maxBudgetCeiling {
		return fmt.Sprintf("Budget must be a number between 0 and %.0f.", maxBudgetCeiling)
	}
	a.runner.SetMaxBudget(usd)
	return fmt.Sprintf("Per-turn budget set to $%.2f.", usd)
}

func (a *Assistant) searchCommand(args []string) string {
	if a.vault == nil {
		return "No vault configured."
	}
	if len(args) == 0 {
		return "Usage: `/search <query>`"
	}
	query := strings.Join(args, " ")
	notes, err := a.vault.Search(query, "")
	if err != nil {
		return fmt.Sprintf("Search failed: %v", err)
	}
	if len(notes) == 0 {
		return fmt.Sprintf("No notes matching %q.", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%d note(s) matching %q**\n", len(notes), query)
	for i, note := range notes {
		if i == 20 {
			fmt.Fprintf(&b, "...and %d more\n", len(notes)-i)
			break
		}
		fmt.Fprintf(&b, "- `%s`\n", note.RelPath())
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Assistant) notesCommand(args []string) string {
	if a.vault == nil {
		return "No vault configured."
	}
	folder := ""
	if len(args) > 0 {
		folder = args[0]
	}
	notes, err := a.vault.ListNotes(folder)
	if err != nil {
		return fmt.Sprintf("Listing failed: %v", err)
	}
	if len(notes) == 0 {
		return "The vault is empty."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%d note(s)**\n", len(notes))
	for i, note := range notes {
		if i == 30 {
			fmt.Fprintf(&b, "...and %d more\n", len(notes)-i)
			break
		}
		fmt.Fprintf(&b, "- `%s`\n", note.RelPath())
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Assistant) tagsCommand() string {
	if a.vault == nil {
		return "No vault configured."
	}
	counts, err := a.vault.TagCounts()
	if err != nil {
		return fmt.Sprintf("Tag scan failed: %v", err)
	}
	if len(counts) == 0 {
		return "No tags in the vault."
	}

	var b strings.Builder
	b.WriteString("**Tags**\n")
	for _, tc := range counts {
		fmt.Fprintf(&b, "#%s (%d)\n", tc.Tag, tc.Count)
	}
	return strings.TrimRight(b.String(), "\n")
}

// saveCommand writes the last assistant reply of this session to a new
// vault note.
func (a *Assistant) saveCommand(key string, args []string) string {
	if a.vault == nil {
		return "No vault configured."
	}
	if len(args) != 1 {
		return "Usage: `/save <path/to/note.md>`"
	}
	sess := a.store.Get(key)
	if len(sess.History) == 0 {
		return "No reply to save yet."
	}
	last := sess.History[len(sess.History)-1]

	relPath := args[0]
	if !strings.HasSuffix(relPath, ".md") {
		relPath += ".md"
	}
	note, err := a.vault.CreateNote(relPath, last.AssistantMessage, nil, false)
	if err != nil {
		return fmt.Sprintf("Save failed: %v", err)
	}
	return fmt.Sprintf("Saved to `%s`.", note.RelPath())
}

func (a *Assistant) autotagCommand(ctx context.Context, args []string) string {
	if a.vault == nil {
		return "No vault configured."
	}
	if len(args) != 1 {
		return "Usage: `/autotag <path/to/note.md>`"
	}
	note, err := a.vault.ReadNote(args[0])
	if err != nil {
		return fmt.Sprintf("Read failed: %v", err)
	}

	tags := a.vault.AutoTag(ctx, note, a.runner)
	if len(tags) == 0 {
		return "No tag suggestions came back."
	}
	if note.Frontmatter == nil {
		note.Frontmatter = make(map[string]any)
	}
	note.Frontmatter["tags"] = tags
	if err := a.vault.WriteNote(note); err != nil {
		return fmt.Sprintf("Write failed: %v", err)
	}
	return fmt.Sprintf("Tagged `%s` with: %s", note.RelPath(), strings.Join(tags, ", "))
}

func (a *Assistant) mcpCommand(args []string) string {
	if a.mcpMgr == nil {
		return "MCP management is not configured."
	}
	if len(args) == 0 {
		args = []string{"list"}
	}

	switch strings.ToLower(args[0]) {
	case "list", "status":
		statuses, err := a.mcpMgr.StatusAll()
		if err != nil {
			return fmt.Sprintf("Reading MCP config failed: %v", err)
		}
		var b strings.Builder
		b.WriteString("**MCP servers**\n")
		for _, st := range statuses {
			mark := "○"
			if st.Installed {
				mark = "●"
			}
			fmt.Fprintf(&b, "%s `%s` — %s\n", mark, st.Def.Name, st.Def.Description)
		}
		b.WriteString("`/mcp install <name> [KEY=VALUE...]` to add one")
		return b.String()

	case "install", "add":
		if len(args) < 2 {
			return "Usage: `/mcp install <name> [KEY=VALUE...]`"
		}
		envValues := make(map[string]string)
		for _, pair := range args[2:] {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Sprintf("Expected KEY=VALUE, got %q.", pair)
			}
			envValues[k] = v
		}
		def, err := a.mcpMgr.Install(args[1], envValues)
		if err != nil {
			return err.Error()
		}
		return fmt.Sprintf("Installed **%s**. Start a fresh session (`/new`) to pick it up.", def.DisplayName)

	case "remove", "uninstall":
		if len(args) != 2 {
			return "Usage: `/mcp remove <name>`"
		}
		removed, err := a.mcpMgr.Uninstall(args[1])
		if err != nil {
			return fmt.Sprintf("Uninstall failed: %v", err)
		}
		if !removed {
			return fmt.Sprintf("`%s` is not installed.", args[1])
		}
		return fmt.Sprintf("Removed `%s`.", args[1])
	}

	return "Usage: `/mcp <list|install|remove>`"
}

// shortID trims a session id for display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

const helpText = "**Commands**\n" +
	"`/new` — fresh session\n" +
	"`/model [name]` — show or set model\n" +
	"`/system [text|clear]` — system prompt\n" +
	"`/status` — session and process status\n" +
	"`/cost` — spend summary\n" +
	"`/sessions` — all sessions\n" +
	"`/export` — download transcript\n" +
	"`/kill` — stop this channel's run\n" +
	"`/budget <usd>` — per-turn spend ceiling\n" +
	"`/search <query>` — search the vault\n" +
	"`/notes [folder]` — list notes\n" +
	"`/tags` — tag counts\n" +
	"`/save <path>` — save last reply as a note\n" +
	"`/autotag <path>` — auto-tag a note\n" +
	"`/mcp` — manage MCP servers\n" +
	"`/help` — this message"
