package prompts

import (
	"strings"
	"text/template"

	"github.com/ClareAI/astra-outbound-caller/internal/domain"
)

var (
	instructionsTmpl = template.Must(template.New("instructions").Parse(PromptAgentInstructions))
	appointmentTmpl  = template.Must(template.New("appointment").Parse(PromptAppointment))
	greetingTmpl     = template.Must(template.New("greeting").Parse(PromptOutboundGreeting))
)

// AgentInstructions builds the system prompt for one call.
func AgentInstructions(job domain.CallJob) string {
	return joinBlocks(
		render(instructionsTmpl, job),
		render(appointmentTmpl, job),
		PromptPhoneConversationRules,
		PromptFunctionCallGuide,
	)
}

// OutboundGreeting is the instruction for the first reply once the callee answers.
func OutboundGreeting(job domain.CallJob) string {
	return render(greetingTmpl, job)
}

func render(tmpl *template.Template, job domain.CallJob) string {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, job); err != nil {
		return ""
	}
	return sb.String()
}

func joinBlocks(blocks ...string) string {
	var validBlocks []string
	for _, b := range blocks {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			validBlocks = append(validBlocks, trimmed)
		}
	}
	return strings.Join(validBlocks, "\n\n")
}
