package scraper

import (
	"regexp"
	"sort"
	"strings"
)

// Compiled patterns for the extraction passes. Obfuscated forms (spaced,
// JS string concatenation, HTML entities) are normalized into plain
// addresses before validation.
var (
	emailPlainRe  = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]{1,64}@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
	mailtoRe      = regexp.MustCompile(`mailto:\s*["']?([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)
	emailSpacedRe = regexp.MustCompile(`([a-zA-Z0-9._%+-]+)\s+@\s+([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)
	jsConcatRe    = regexp.MustCompile(`["']([a-zA-Z0-9._%+-]+)["']\s*\+\s*["']@["']\s*\+\s*["']([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})["']`)
	atEntityRe    = regexp.MustCompile(`([a-zA-Z0-9._%+-]+)&#0?64;([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)

	domainValidRe   = regexp.MustCompile(`^[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	ipDomainRe      = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+\.[0-9]+$`)
	numericTLDRe    = regexp.MustCompile(`\.[0-9]+$`)
	hexLocalRe      = regexp.MustCompile(`^[a-f0-9]{16,}$`)
	longAlnumRe     = regexp.MustCompile(`^[0-9a-z]{20,}$`)
	manyDigitsRe    = regexp.MustCompile(`[0-9]{10,}`)
	consecutiveDots = regexp.MustCompile(`\.\.`)
)

// assetExtensions catches image and bundle paths that match the loose
// email pattern (e.g. "logo@2x.png").
var assetExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp",
	".css", ".js", ".ico", ".woff", ".woff2", ".ttf",
}

// businessPrefixes rank generic business mailboxes ahead of personal
// ones. French-first, matching the corpus this tool is pointed at.
var businessPrefixes = []string{
	"contact", "info", "commercial", "vente", "ventes", "direction",
	"accueil", "secretariat", "administration", "rh", "communication",
	"marketing", "service-client", "support", "technique", "comptabilite",
	"sales", "hello", "office",
}

// ValidEmail filters the junk the loose patterns let through: asset
// paths, tracking IDs, hex blobs and malformed domains.
func ValidEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(email) < 6 || len(email) > 254 {
		return false
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	local, domain := email[:at], email[at+1:]

	if len(local) > 64 {
		return false
	}
	if !domainValidRe.MatchString(domain) {
		return false
	}
	if ipDomainRe.MatchString(domain) || numericTLDRe.MatchString(domain) {
		return false
	}
	if consecutiveDots.MatchString(email) {
		return false
	}
	for _, ext := range assetExtensions {
		if strings.HasSuffix(domain, ext) || strings.HasSuffix(local, ext) {
			return false
		}
	}
	if hexLocalRe.MatchString(local) || longAlnumRe.MatchString(local) {
		return false
	}
	if manyDigitsRe.MatchString(local) {
		return false
	}
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") {
		return false
	}
	return true
}

// ExtractEmails mines a page for addresses, including common obfuscated
// forms, and returns them deduplicated and prioritized: addresses on the
// company's own domain first, generic business mailboxes next.
func ExtractEmails(content, domain string) []string {
	found := make(map[string]struct{})

	add := func(email string) {
		email = strings.ToLower(strings.TrimSpace(email))
		if ValidEmail(email) {
			found[email] = struct{}{}
		}
	}

	for _, match := range mailtoRe.FindAllStringSubmatch(content, -1) {
		add(match[1])
	}
	for _, match := range emailPlainRe.FindAllString(content, -1) {
		add(match)
	}
	for _, match := range emailSpacedRe.FindAllStringSubmatch(content, -1) {
		add(match[1] + "@" + match[2])
	}
	for _, match := range jsConcatRe.FindAllStringSubmatch(content, -1) {
		add(match[1] + "@" + match[2])
	}
	for _, match := range atEntityRe.FindAllStringSubmatch(content, -1) {
		add(match[1] + "@" + match[2])
	}

	ret := make([]string, 0, len(found))
	for email := range found {
		ret = append(ret, email)
	}

	domain = strings.ToLower(strings.TrimPrefix(domain, "www."))
	sort.Slice(ret, func(i, j int) bool {
		ri, rj := emailRank(ret[i], domain), emailRank(ret[j], domain)
		if ri != rj {
			return ri < rj
		}
		return ret[i] < ret[j]
	})
	return ret
}

func emailRank(email, domain string) int {
	at := strings.LastIndex(email, "@")
	local, host := email[:at], email[at+1:]

	onDomain := domain != "" && (host == domain || strings.HasSuffix(host, "."+domain))
	business := false
	for _, prefix := range businessPrefixes {
		if local == prefix || strings.HasPrefix(local, prefix+".") || strings.HasPrefix(local, prefix+"-") {
			business = true
			break
		}
	}

	switch {
	case onDomain && business:
		return 0
	case onDomain:
		return 1
	case business:
		return 2
	}
	return 3
}
