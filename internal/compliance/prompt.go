package compliance

import (
	"encoding/json"
	"fmt"

	"github.com/kalambet/policyguard/internal/engine"
	"github.com/kalambet/policyguard/internal/invoice"
)

const maxRawTextChars = 8000

const noPolicyContext = "[Policy Sections]\nNo policy sections available."

const systemPrompt = `You are a policy compliance engine. Your job is to check whether an expense invoice complies with company expense policies. Your output must be ONLY a single valid JSON object. Do not include any other text, prose, or markdown.

You are given the invoice details and the policy sections retrieved from the company's knowledge base.

Your task:
1. Check if the expense complies with spending limits
2. Verify if proper approvals would be required
3. Identify any policy violations, each with a severity of low, medium, high or critical
4. Assign a risk score (0-100, higher = more risky)
5. Provide recommendations

Rules:
- Judge only against the policy sections provided. Never invent policy text.
- relevant_policy_sections lists the headings (the text after ###) of the sections you actually used, exactly as written.
- When no policy sections are available, say so in the recommendations and leave relevant_policy_sections empty.

Return a JSON object with:
- is_compliant: boolean
- policy_violations: array of {rule, violation, severity}
- risk_score: 0-100
- recommendations: array of suggestions
- relevant_policy_sections: array of policy section names used`

const userPromptTemplate = `Check this invoice against company expense policy.

INVOICE DETAILS:
%s

RAW INVOICE TEXT:
%s

%s

Return your analysis as a JSON object.`

// BuildPrompt constructs the chat messages for the compliance check.
func BuildPrompt(f invoice.Fields, rawText, policyContext string) []engine.Message {
	details, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		details = []byte("{}")
	}
	if policyContext == "" {
		policyContext = noPolicyContext
	}
	if r := []rune(rawText); len(r) > maxRawTextChars {
		rawText = string(r[:maxRawTextChars])
	}

	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf(userPromptTemplate, details, rawText, policyContext)},
	}
}

// complianceSchema returns the JSON schema for structured compliance output.
func complianceSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"is_compliant":             {Type: "boolean", Description: "Whether the expense complies with policy"},
			"policy_violations":        {Type: "array", Description: "Violations as {rule, violation, severity}"},
			"risk_score":               {Type: "number", Description: "Risk 0-100, higher is riskier"},
			"recommendations":          {Type: "array", Description: "Suggested actions"},
			"relevant_policy_sections": {Type: "array", Description: "Headings of the policy sections used"},
		},
		Required: []string{"is_compliant", "policy_violations", "risk_score", "recommendations", "relevant_policy_sections"},
	}
}
