package enrich

import (
	"fmt"
	"strings"

	"github.com/sells-group/signal-cli/internal/model"
)

const briefContract = `{
  "contacts": [
    {"full_name": "", "job_title": "", "email": "", "phone": "", "linkedin_url": ""}
  ],
  "company_info": {"website": "", "industry": "", "employee_count": "", "headquarters": "", "description": ""},
  "search_method": ""
}`

// buildBrief writes the natural-language task for the agent.
func buildBrief(sig *model.Signal) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research the company %q and find the people we should contact about it.\n\n", sig.CompanyName)
	fmt.Fprintf(&sb, "Why now: %s", strings.TrimSpace(sig.Detail))
	if sig.SignalType != "" {
		fmt.Fprintf(&sb, " (%s)", strings.ReplaceAll(string(sig.SignalType), "_", " "))
	}
	sb.WriteString("\n")
	if sig.SourceURL != "" && !strings.HasPrefix(sig.SourceURL, "registry://") {
		fmt.Fprintf(&sb, "Source: %s\n", sig.SourceURL)
	}
	sb.WriteString(`
Steps:
1. Find the company's official website and confirm it is the company described above.
2. Find up to 10 people who work there now. Prefer executive assistants, office managers and
   operations managers, then founders and executives, then directors.
3. For each person record their full name, current job title, and any business email, phone
   and LinkedIn profile URL you can verify. Leave a field empty rather than guessing.
4. Summarize the company.

Return only JSON in exactly this format:
`)
	sb.WriteString(briefContract)
	sb.WriteString("\n\nSet search_method to a short description of how you found the contacts.\n")
	return sb.String()
}
