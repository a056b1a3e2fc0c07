package activities

import (
	"fmt"
	"strings"

	"github.com/troupehq/troupe/internal/agents"
	"github.com/troupehq/troupe/internal/run"
)

// Per-responsibility system prompts. Kept short; the user message carries
// the run state the unit needs.
const (
	researchSystem = "You plan web research. Given a question and any noted gaps, " +
		"reply with up to three search queries, one per line, most important first. " +
		"Output only the queries."

	analyzeSystem = "You are an analyst. Extract the key facts, figures, and " +
		"tensions from the provided sources and state what they imply for the " +
		"question. Be concrete and cite sources by their [n] marker."

	synthesizeSystem = "You are a writer. Produce a complete, well-organized " +
		"answer to the question using the analysis and sources provided. " +
		"When feedback on a previous draft is given, address every point of it."

	critiqueSystem = "You are a demanding reviewer. Identify the specific " +
		"weaknesses of the draft: unsupported claims, missing aspects of the " +
		"question, unclear structure. Reply with actionable feedback, not praise."

	routeSystem = "You supervise a team of agents. Decide the single next step. " +
		"Reply with exactly one word: research, analyze, synthesize, critique, " +
		"or FINISH."
)

const maxContextChars = 6000

// buildMessages assembles the LLM conversation for a unit execution.
func buildMessages(in AgentExecutionInput) []run.Message {
	var system, user string
	switch in.Unit.Responsibility {
	case agents.Research:
		system = researchSystem
		user = researchUser(in)
	case agents.Analyze:
		system = analyzeSystem
		user = analyzeUser(in)
	case agents.Synthesize:
		system = synthesizeSystem
		user = synthesizeUser(in)
	case agents.Critique:
		system = critiqueSystem
		user = critiqueUser(in)
	case agents.Route:
		system = routeSystem
		user = routeUser(in)
	default:
		system = synthesizeSystem
		user = in.Query
	}

	msgs := make([]run.Message, 0, len(in.Messages)+2)
	msgs = append(msgs, run.Message{Role: run.RoleSystem, Content: system})
	msgs = append(msgs, in.Messages...)
	msgs = append(msgs, run.Message{Role: run.RoleUser, Content: user})
	return msgs
}

func researchUser(in AgentExecutionInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", in.Query)
	if in.Section != "" {
		fmt.Fprintf(&b, "Focus area: %s\n", in.Section)
	}
	if in.Feedback != "" {
		fmt.Fprintf(&b, "Noted gaps to fill:\n%s\n", in.Feedback)
	}
	b.WriteString("Search queries:")
	return b.String()
}

func analyzeUser(in AgentExecutionInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", in.Query)
	if in.Section != "" {
		fmt.Fprintf(&b, "Focus area: %s\n", in.Section)
	}
	if ctx := formatContext(in.Context); ctx != "" {
		fmt.Fprintf(&b, "\nSources:\n%s\n", ctx)
	} else {
		b.WriteString("\nNo sources were retrieved; reason from general knowledge and say so.\n")
	}
	b.WriteString("\nAnalysis:")
	return b.String()
}

func synthesizeUser(in AgentExecutionInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", in.Query)
	if in.Section != "" {
		fmt.Fprintf(&b, "Section to write: %s\n", in.Section)
	}
	if in.Analysis != "" {
		fmt.Fprintf(&b, "\nAnalysis:\n%s\n", in.Analysis)
	}
	if ctx := formatContext(in.Context); ctx != "" {
		fmt.Fprintf(&b, "\nSources:\n%s\n", ctx)
	}
	if in.Draft != "" {
		fmt.Fprintf(&b, "\nPrevious draft:\n%s\n", in.Draft)
	}
	if in.Feedback != "" {
		fmt.Fprintf(&b, "\nFeedback to address:\n%s\n", in.Feedback)
	}
	b.WriteString("\nAnswer:")
	return b.String()
}

func critiqueUser(in AgentExecutionInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", in.Query)
	fmt.Fprintf(&b, "\nDraft:\n%s\n", in.Draft)
	if ctx := formatContext(in.Context); ctx != "" {
		fmt.Fprintf(&b, "\nSources the draft should be grounded in:\n%s\n", ctx)
	}
	b.WriteString("\nFeedback:")
	return b.String()
}

func routeUser(in AgentExecutionInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", in.Query)
	fmt.Fprintf(&b, "Dispatches so far: %d\n", in.Iteration)
	fmt.Fprintf(&b, "Sources retrieved: %d\n", len(in.Context))
	if in.Analysis != "" {
		b.WriteString("Analysis: done\n")
	} else {
		b.WriteString("Analysis: none yet\n")
	}
	if in.Draft != "" {
		fmt.Fprintf(&b, "Draft: present (%d chars)\n", len(in.Draft))
	} else {
		b.WriteString("Draft: none yet\n")
	}
	if in.Feedback != "" {
		fmt.Fprintf(&b, "Open feedback:\n%s\n", in.Feedback)
	}
	b.WriteString("Next step:")
	return b.String()
}

// formatContext renders source records as a numbered list, truncated to a
// bounded prompt size.
func formatContext(records []run.SourceRecord) string {
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	for i, rec := range records {
		if b.Len() >= maxContextChars {
			break
		}
		fmt.Fprintf(&b, "[%d] %s (%s)\n", i+1, rec.Title, rec.URL)
		content := rec.Content
		if len(content) > 800 {
			content = content[:800] + "..."
		}
		if content != "" {
			b.WriteString(content)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
