// Package classifier maps raw SMTP bounce text to a failure type and a
// receiving-provider fingerprint. Classification is a pure function: no
// I/O, no state. The monitor decides what to do with the result.
package classifier

import (
	"regexp"
	"strings"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// FailureType is the closed set of bounce causes.
type FailureType string

const (
	HardInvalid           FailureType = "HARD_INVALID"
	HardDomain            FailureType = "HARD_DOMAIN"
	ProviderSpamRejection FailureType = "PROVIDER_SPAM_REJECTION"
	ProviderThrottle      FailureType = "PROVIDER_THROTTLE"
	AuthFailure           FailureType = "AUTH_FAILURE"
	TemporaryNetwork      FailureType = "TEMPORARY_NETWORK"
	Unknown               FailureType = "UNKNOWN"
)

// Severity grades how bad a failure type is for sender reputation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Classification is the full verdict for one bounce.
type Classification struct {
	FailureType         FailureType          `json:"failure_type"`
	Provider            domain.EmailProvider `json:"provider"`
	Severity            Severity             `json:"severity"`
	DegradesHealth      bool                 `json:"degrades_health"`
	RecoveryExpectation string               `json:"recovery_expectation"`
	RawReason           string               `json:"raw_reason"`
}

// meta is the fixed metadata carried by each failure type.
type meta struct {
	severity       Severity
	degradesHealth bool
	recovery       string
}

var typeMeta = map[FailureType]meta{
	HardInvalid:           {SeverityHigh, true, "none: remove recipient"},
	HardDomain:            {SeverityHigh, true, "none: remove recipient domain"},
	ProviderSpamRejection: {SeverityCritical, true, "reputation repair required"},
	ProviderThrottle:      {SeverityLow, false, "self-resolves: slow down"},
	AuthFailure:           {SeverityCritical, true, "fix SPF/DKIM/DMARC"},
	TemporaryNetwork:      {SeverityLow, false, "self-resolves: retry later"},
	Unknown:               {SeverityMedium, true, "investigate"},
}

// pattern pairs a failure type with its recognizer. First match wins, so
// order is significant: hard failures before provider rejections before
// transient conditions.
type pattern struct {
	typ FailureType
	re  *regexp.Regexp
}

var patterns = []pattern{
	{HardInvalid, regexp.MustCompile(`(?i)5\.1\.1|550[- ]5\.1\.1|user unknown|no such user|recipient.{0,20}(not found|rejected|invalid)|mailbox (unavailable|not found|does not exist)|invalid (mailbox|recipient|address)|address.{0,10}not exist`)},
	{HardDomain, regexp.MustCompile(`(?i)5\.1\.2|domain (not found|does not exist|no longer accepts)|no mx record|unrouteable|host or domain name not found|nxdomain`)},
	{ProviderSpamRejection, regexp.MustCompile(`(?i)5\.7\.1\b|spam|blocked|block list|blacklist|blocklist|poor reputation|banned sending ip|rejected due to policy|content denied|abuse`)},
	{ProviderThrottle, regexp.MustCompile(`(?i)4\.2\.1|4\.7\.0|421|450|rate limit|too many (connections|messages)|try again later|throttl|receiving mail at a rate|temporarily deferred`)},
	{AuthFailure, regexp.MustCompile(`(?i)5\.7\.26|dkim|spf|dmarc|not authenticated|authentication (required|failed)|unauthenticated email`)},
	{TemporaryNetwork, regexp.MustCompile(`(?i)4\.4\.1|4\.4\.2|timed? ?out|connection (refused|reset|closed)|network (error|unreachable)|temporary (failure|error)|service (unavailable|not available)`)},
}

// providerDomains maps recipient domains to their provider.
var providerDomains = map[string]domain.EmailProvider{
	"gmail.com":      domain.ProviderGmail,
	"googlemail.com": domain.ProviderGmail,
	"outlook.com":    domain.ProviderMicrosoft,
	"hotmail.com":    domain.ProviderMicrosoft,
	"live.com":       domain.ProviderMicrosoft,
	"msn.com":        domain.ProviderMicrosoft,
	"office365.com":  domain.ProviderMicrosoft,
	"yahoo.com":      domain.ProviderYahoo,
	"ymail.com":      domain.ProviderYahoo,
	"aol.com":        domain.ProviderYahoo,
}

// providerKeywords is the fallback when the recipient is unknown: scan the
// SMTP text itself for provider tells.
var providerKeywords = []struct {
	provider domain.EmailProvider
	keywords []string
}{
	{domain.ProviderGmail, []string{"gmail", "google", "gsmtp"}},
	{domain.ProviderMicrosoft, []string{"outlook", "microsoft", "office365", "exchange", "protection.outlook"}},
	{domain.ProviderYahoo, []string{"yahoo", "ymail", "aol"}},
}

// Classify maps an SMTP response (and optionally the recipient address) to
// a Classification. It never fails; unrecognized text comes back as Unknown.
func Classify(smtpResponse, recipient string) Classification {
	typ := Unknown
	for _, p := range patterns {
		if p.re.MatchString(smtpResponse) {
			typ = p.typ
			break
		}
	}

	m := typeMeta[typ]
	return Classification{
		FailureType:         typ,
		Provider:            ResolveProvider(smtpResponse, recipient),
		Severity:            m.severity,
		DegradesHealth:      m.degradesHealth,
		RecoveryExpectation: m.recovery,
		RawReason:           smtpResponse,
	}
}

// ResolveProvider fingerprints the receiving provider: recipient domain
// lookup first, then SMTP-text keywords, then OTHER.
func ResolveProvider(smtpResponse, recipient string) domain.EmailProvider {
	if at := strings.LastIndex(recipient, "@"); at >= 0 {
		if p, ok := providerDomains[strings.ToLower(recipient[at+1:])]; ok {
			return p
		}
	}

	lower := strings.ToLower(smtpResponse)
	for _, pk := range providerKeywords {
		for _, kw := range pk.keywords {
			if strings.Contains(lower, kw) {
				return pk.provider
			}
		}
	}
	return domain.ProviderOther
}
