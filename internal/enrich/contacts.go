package enrich

import (
	"net/url"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/signal-cli/internal/model"
	"github.com/sells-group/signal-cli/internal/resultparse"
)

// Priority tiers. Gatekeepers who route outreach rank above executives.
var priorityTiers = []struct {
	score    int
	keywords []string
}{
	{90, []string{"executive assistant", "office manager", "operations manager", "assistant"}},
	{80, []string{"managing director", "ceo", "chief executive", "founder", "owner", "president"}},
	{70, []string{"vice president", "director", "head", "vp"}},
	{60, []string{"manager"}},
}

const (
	basePriority  = 50
	emailBonus    = 10
	maxPriority   = 100
	defaultMaxCnt = 10
)

// PriorityScore ranks a contact by job title keywords; a known email adds a
// bonus. The result is capped at 100.
func PriorityScore(jobTitle string, hasEmail bool) int {
	title := " " + strings.ToLower(jobTitle) + " "
	score := basePriority
	for _, tier := range priorityTiers {
		if containsAnyWord(title, tier.keywords) {
			score = tier.score
			break
		}
	}
	if hasEmail {
		score += emailBonus
	}
	if score > maxPriority {
		score = maxPriority
	}
	return score
}

// containsAnyWord matches keywords on word boundaries so "vp" does not match
// inside "mvp" and "head" not inside "ahead".
func containsAnyWord(padded string, keywords []string) bool {
	fields := strings.FieldsFunc(padded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := " " + strings.Join(fields, " ") + " "
	for _, k := range keywords {
		if strings.Contains(words, " "+k+" ") {
			return true
		}
	}
	return false
}

// normalizeName title-cases names the agent returned in a single case and
// leaves mixed-case names ("McDonald", "van der Berg") alone.
func normalizeName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == strings.ToLower(name) || name == strings.ToUpper(name) {
		return cases.Title(language.English).String(name)
	}
	return name
}

func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// normalizeContacts turns parsed agent contacts into rows for ownerID:
// names cleaned and split, emails lowercased, priorities scored, duplicate
// names dropped, ordered by priority and capped at max.
func normalizeContacts(ownerID string, in []resultparse.Contact, max int) []model.Contact {
	if max <= 0 {
		max = defaultMaxCnt
	}
	seen := make(map[string]bool, len(in))
	out := make([]model.Contact, 0, len(in))
	for _, c := range in {
		email := strings.ToLower(strings.TrimSpace(c.Email))
		linkedIn := strings.TrimSpace(c.LinkedInURL)
		title := strings.Join(strings.Fields(c.JobTitle), " ")
		name := normalizeName(c.FullName)
		named := name != ""
		if !named {
			// The unique key is the name; email, profile URL or title stand in
			// for a missing one, in that order.
			name = firstNonEmpty(email, linkedIn, title)
		}
		if name == "" {
			zap.L().Debug("enrich: dropping contact with nothing to key on", zap.String("owner_id", ownerID))
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true

		var first, last string
		if named {
			first, last = splitName(name)
		}
		out = append(out, model.Contact{
			OwnerID:        ownerID,
			FullName:       name,
			FirstName:      first,
			LastName:       last,
			JobTitle:       title,
			Email:          email,
			Phone:          strings.TrimSpace(c.Phone),
			LinkedInURL:    linkedIn,
			PriorityScore:  PriorityScore(title, email != ""),
			OutreachStatus: model.OutreachPending,
			Source:         model.ContactSourceAgent,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].PriorityScore > out[j].PriorityScore })
	if len(out) > max {
		out = out[:max]
	}
	return out
}

var legalSuffixes = map[string]bool{
	"inc": true, "llc": true, "ltd": true, "limited": true, "corp": true,
	"corporation": true, "co": true, "company": true, "plc": true, "gmbh": true,
	"lp": true, "llp": true, "sa": true, "ag": true, "bv": true,
}

// companySlug reduces a company name to the lowercase ASCII label a domain
// would most likely use: accents folded, legal suffixes and punctuation
// removed.
func companySlug(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(name))
	if err != nil {
		folded = strings.ToLower(name)
	}
	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	for len(words) > 1 && legalSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, "")
}

// companyDomain picks the best available domain for a signal's company:
// an explicit website in company_info, then the source URL host when it
// belongs to the company, then a guess from the company name.
func companyDomain(sig *model.Signal, info map[string]any) string {
	for _, key := range []string{"domain", "website", "url"} {
		if v, ok := info[key].(string); ok {
			if d := hostOf(v); d != "" {
				return d
			}
		}
	}
	slug := companySlug(sig.CompanyName)
	if slug == "" {
		return ""
	}
	if host := hostOf(sig.SourceURL); host != "" && strings.Contains(strings.ReplaceAll(host, "-", ""), slug) {
		return host
	}
	return slug + ".com"
}

func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" || !strings.Contains(u.Hostname(), ".") {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// fallbackContact builds the role-based contact used when no agent task can
// be launched.
func fallbackContact(sig *model.Signal, info map[string]any) (model.Contact, bool) {
	domain := companyDomain(sig, info)
	if domain == "" {
		return model.Contact{}, false
	}
	email := "info@" + domain
	name := strings.TrimSpace(sig.CompanyName) + " (General Inquiries)"
	return model.Contact{
		OwnerID:        sig.ID,
		FullName:       name,
		JobTitle:       "General Inquiries",
		Email:          email,
		PriorityScore:  PriorityScore("", true),
		OutreachStatus: model.OutreachPending,
		Source:         model.ContactSourceFallback,
	}, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
