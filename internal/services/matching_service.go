package services

import (
	"net/mail"
	"strings"

	"github.com/justsurfingit/applicant-timeline/internal/portal"
)

// MatcherService links an incoming email to applicants of the recruiter's jobs.
type MatcherService struct{}

func NewMatcherService() *MatcherService {
	return &MatcherService{}
}

// ApplicantMatch points at one applicant inside a job's applicant list.
type ApplicantMatch struct {
	List  *portal.JobApplicants
	Index int
}

func (m ApplicantMatch) Applicant() *portal.Applicant {
	return &m.List.Applicants[m.Index]
}

// FindApplicants returns the applicants matched by the strongest rule that
// matched anything. Several matches mean the same candidate applied to
// several jobs, or the rule was ambiguous.
func (s *MatcherService) FindApplicants(jobs []portal.JobApplicants, subject, rawSender string) []ApplicantMatch {
	// "Ada Lovelace <ada@example.com>" -> name="ada lovelace", addr="ada@example.com"
	senderName := ""
	senderAddr := ""
	if parsed, err := mail.ParseAddress(rawSender); err == nil {
		senderName = strings.ToLower(strings.TrimSpace(parsed.Name))
		senderAddr = strings.ToLower(parsed.Address)
	} else {
		senderAddr = strings.ToLower(strings.TrimSpace(rawSender))
	}
	subjectLower := strings.ToLower(subject)

	rules := []func(a portal.Applicant) bool{
		// RULE 1: sender address is the applicant's address
		func(a portal.Applicant) bool {
			return a.Email != "" && strings.EqualFold(a.Email, senderAddr)
		},
		// RULE 2: sender display name carries the applicant's name
		func(a portal.Applicant) bool {
			name := usableName(a.Name)
			return name != "" && senderName != "" && strings.Contains(senderName, name)
		},
		// RULE 3: subject mentions the applicant, e.g. "Interview feedback: Ada Lovelace"
		func(a portal.Applicant) bool {
			name := usableName(a.Name)
			return name != "" && strings.Contains(subjectLower, name)
		},
	}

	for _, rule := range rules {
		var matches []ApplicantMatch
		for i := range jobs {
			for j := range jobs[i].Applicants {
				if rule(jobs[i].Applicants[j]) {
					matches = append(matches, ApplicantMatch{List: &jobs[i], Index: j})
				}
			}
		}
		if len(matches) > 0 {
			return matches
		}
	}
	return nil
}

// usableName skips very short names, which would match almost anything.
func usableName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if len(name) < 3 {
		return ""
	}
	return name
}
