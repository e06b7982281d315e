package research

import (
	"fmt"
	"strings"
)

const plannerSystem = `You are the planning lead of a research team. Decide whether the user's request is
specific enough to research. If an essential detail is missing (audience, scope, time range,
region, depth) you may ask the user ONE short question. Otherwise write instructions for the
outline writer.

Reply with JSON only, one of:
{"action":"ask","question":"<one short question for the user>"}
{"action":"plan","instructions":"<what the report must cover, including every answer the user gave>"}`

const outlineSystem = `You are an experienced planner for a research project. You will be given
instructions from the user and you need to make an outline of the report to give the user
about it, and what to search for in the web in order to create the report.

Reply with JSON only:
{"outline":"<markdown outline of the report>","searches":["<web search query>", "..."]}`

const querySystem = `You turn a report outline into focused web search queries. Reply with JSON only:
{"queries":["<query>", "..."]}`

const researcherSystem = `You are a meticulous researcher. Using ONLY the evidence provided, write one
section per outline heading. Each section must answer its title and cite the URLs it used.

Reply with JSON only:
{"sections":[{"title":"<section title>","content":"<findings>","references":["<url>", "..."]}]}`

const writerSystem = `You are a senior report writer. Write a comprehensive, well structured markdown
report that follows the outline and uses the researched sections. Keep every factual claim
traceable to the references and finish with a Sources list.`

func plannerPrompt(question string, clarifications []Clarification, remaining int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User request:\n%s\n", question)
	if len(clarifications) > 0 {
		b.WriteString("\nAnswers already given by the user:\n")
		for _, c := range clarifications {
			fmt.Fprintf(&b, "- Q: %s\n  A: %s\n", c.Question, c.Answer)
		}
	}
	if remaining <= 0 {
		b.WriteString("\nYou may not ask any more questions. Reply with the plan action.\n")
	} else {
		fmt.Fprintf(&b, "\nYou may ask at most %d more question(s).\n", remaining)
	}
	return b.String()
}

func outlinePrompt(instructions string) string {
	return "Instructions for the plan:\n" + instructions
}

func queryPrompt(outline string, n int) string {
	return fmt.Sprintf("The outline of the report is:\n%s\n\nReturn at most %d search queries.", outline, n)
}

func researcherPrompt(outline string, evidence []Evidence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The outline of the report is:\n%s\n\nEvidence:\n", outline)
	for i, e := range evidence {
		fmt.Fprintf(&b, "\n[%d] %s\nURL: %s\nQuery: %s\n%s\n", i+1, e.Title, e.URL, e.Query, e.Text)
	}
	return b.String()
}

func writerPrompt(outline string, sections []Section) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a report about the following outline:\n%s\n\nA researcher has found the following information for each section:\n", outline)
	for _, s := range sections {
		fmt.Fprintf(&b, "\n## %s\n%s\n", s.Title, s.Content)
		if len(s.References) > 0 {
			fmt.Fprintf(&b, "References: %s\n", strings.Join(s.References, ", "))
		}
	}
	b.WriteString("\nPlease use this to create a comprehensive report.")
	return b.String()
}
