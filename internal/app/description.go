package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openctemio/vulnsync/pkg/domain/securitydata"
)

// Entity list limits for issue descriptions and follow-up comments.
const (
	DescriptionEntityLimit = 5
	CommentEntityLimit     = 50
)

// DefaultRuleID marks the issue filed for whatever no rule matched.
const DefaultRuleID = "0"

// SummaryPrefix returns the issue summary prefix that identifies the part of
// a problem a rule matched. Existing issues are found by this prefix.
func SummaryPrefix(sd *securitydata.SecurityData, ruleID string) string {
	return fmt.Sprintf("Dynatrace issue %s-%s:", sd.DisplayID(), ruleID)
}

// IssueDescription renders the Jira wiki markup body of a new issue.
func IssueDescription(sd *securitydata.SecurityData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s risk, score=%s*\n", sd.RiskLevel(), formatScore(sd.RiskScore()))
	fmt.Fprintf(&b, "Exposure: %s\n", sd.Exposure())
	fmt.Fprintf(&b, "Data assets: %s\n", sd.DataAssets())
	fmt.Fprintf(&b, "[See details in Dynatrace | %s]\n", sd.URL())
	b.WriteString("\n*What's the problem:*\n")
	b.WriteString(sd.Description())
	b.WriteString("\n\n\n*What's affected:*\n")
	b.WriteString(AffectedDescription(sd, DescriptionEntityLimit))
	return b.String()
}

// CommentBody renders the follow-up comment for an issue that still exists.
func CommentBody(sd *securitydata.SecurityData) string {
	return "*Issue still exists - what's affected:*\n" + AffectedDescription(sd, CommentEntityLimit)
}

// AffectedDescription lists affected entity names and hostnames. A list
// longer than limit collapses to a count with a link to the problem.
func AffectedDescription(sd *securitydata.SecurityData, limit int) string {
	return describeList(sd.AffectedEntityNames(), "entities", sd.URL(), limit) +
		describeList(sd.RelatedHostnames(), "hostnames", sd.URL(), limit)
}

func describeList(names []string, label, url string, limit int) string {
	if len(names) > limit {
		return fmt.Sprintf("%d %s affected ([details|%s])\n", len(names), label, url)
	}
	return fmt.Sprintf("Affected %s: %s\n", label, strings.Join(names, ", "))
}

// formatScore always keeps a fractional part, so 10 renders as "10.0".
func formatScore(score float64) string {
	s := strconv.FormatFloat(score, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
