package prd

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"
)

// Template is a PRD outline together with the system prompt that frames it
type Template struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Sections    []string `json:"sections"`
	System      string   `json:"-"`
}

const baseSystem = `You are a senior product manager who writes clear, specific product requirements documents. ` +
	`You write in markdown, prefer concrete acceptance criteria over vague goals, and never invent metrics you cannot justify.`

var templates = map[string]Template{
	"standard": {
		Name:        "standard",
		Description: "A complete PRD for a product or feature",
		Sections: []string{
			"Overview",
			"Problem Statement",
			"Goals and Non-Goals",
			"Target Users and Personas",
			"User Stories",
			"Functional Requirements",
			"Non-Functional Requirements",
			"Success Metrics",
			"Risks and Open Questions",
			"Milestones",
		},
		System: baseSystem,
	},
	"lean": {
		Name:        "lean",
		Description: "A one-page brief for early validation",
		Sections: []string{
			"Problem",
			"Target Customer",
			"Solution Hypothesis",
			"MVP Scope",
			"Key Metric",
			"Riskiest Assumptions",
		},
		System: baseSystem + ` Keep the document short enough to read in three minutes.`,
	},
	"technical": {
		Name:        "technical",
		Description: "A PRD with architecture and API detail for engineering teams",
		Sections: []string{
			"Overview",
			"Requirements",
			"System Architecture",
			"Data Model",
			"API Design",
			"Security and Privacy",
			"Performance and Scalability",
			"Testing Strategy",
			"Rollout Plan",
			"Open Questions",
		},
		System: baseSystem + ` Your audience is the engineering team; be precise about interfaces, data and failure modes.`,
	},
}

// LookupTemplate returns the named template
func LookupTemplate(name string) (Template, bool) {
	t, ok := templates[name]
	return t, ok
}

// ListTemplates returns all templates sorted by name
func ListTemplates() []Template {
	out := make([]Template, 0, len(templates))
	for _, t := range templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var promptFuncs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

var generatePrompt = template.Must(template.New("generate").Funcs(promptFuncs).Parse(
	`Write a product requirements document for the following idea.

<idea>
{{.Idea}}
</idea>

Write the whole document in the language with code "{{.Language}}".
Start with a single H1 title line naming the product, then use these sections as H2 headings, in order:
{{range $i, $s := .Sections}}{{inc $i}}. {{$s}}
{{end}}
Return only the markdown document, with no preamble or closing remarks.`))

var revisePrompt = template.Must(template.New("revise").Parse(
	`Here is the current product requirements document:

<document>
{{.Content}}
</document>

Revise it according to this instruction:

<instruction>
{{.Instruction}}
</instruction>

Return the complete revised document in markdown. Keep the language with code "{{.Language}}" and keep an H1 title on the first line.
Return only the document, with no commentary about the changes.`))

// Prompt is a rendered system and user prompt pair
type Prompt struct {
	System string
	User   string
}

// BuildGeneratePrompt renders the prompt for a new PRD. req must be validated.
func BuildGeneratePrompt(req *GenerateRequest) (Prompt, error) {
	tmpl, ok := LookupTemplate(req.Template)
	if !ok {
		return Prompt{}, fmt.Errorf("%w: unknown template %q", ErrValidation, req.Template)
	}

	var buf bytes.Buffer
	err := generatePrompt.Execute(&buf, map[string]interface{}{
		"Idea":     req.Idea,
		"Language": req.Language,
		"Sections": tmpl.Sections,
	})
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to render prompt: %w", err)
	}
	return Prompt{System: tmpl.System, User: buf.String()}, nil
}

// BuildRevisePrompt renders the prompt for revising doc
func BuildRevisePrompt(doc *PRD, instruction string) (Prompt, error) {
	tmpl, ok := LookupTemplate(doc.Template)
	if !ok {
		tmpl = templates[DefaultTemplate]
	}

	var buf bytes.Buffer
	err := revisePrompt.Execute(&buf, map[string]interface{}{
		"Content":     doc.Content,
		"Instruction": instruction,
		"Language":    doc.Language,
	})
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to render prompt: %w", err)
	}
	return Prompt{System: tmpl.System, User: buf.String()}, nil
}
