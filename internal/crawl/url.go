package crawl

import (
	"net/url"
	"regexp"
	"strings"
)

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "fbclid", "gclid"}

// skipURLPatterns filter out content that can never be a regulations
// candidate. PDF paths are deliberately not excluded.
var skipURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/(news|blog|events|calendar|press|media|shop|store|careers|jobs)/`),
	regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|svg|ico|css|js|woff|woff2|ttf|eot)$`),
	regexp.MustCompile(`(?i)\?(utm_|fbclid|gclid|ref=)`),
	regexp.MustCompile(`(?i)/wp-content/`),
	regexp.MustCompile(`(?i)/feed/?$`),
	regexp.MustCompile(`(?i)/comments/?$`),
	regexp.MustCompile(`(?i)/page/\d+/?$`),
	regexp.MustCompile(`(?i)/(tag|category|author)/`),
}

var wpUploadsPattern = regexp.MustCompile(`(?i)/wp-content/uploads/`)

// NormalizeURL strips the fragment, common tracking parameters, and any
// trailing slash so the visited set deduplicates equivalent URLs.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	q := u.Query()
	for _, p := range trackingParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	normalized := u.String()
	if strings.HasSuffix(normalized, "/") && u.Path != "/" {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

// WithinDomain reports whether the URL's host belongs to the official
// domain, including the www alias and subdomains.
func WithinDomain(raw, domain string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	target := strings.TrimPrefix(strings.ToLower(domain), "www.")
	return host == target || host == "www."+target || strings.HasSuffix(host, "."+target)
}

// ShouldSkipURL reports whether the URL matches a skip pattern.
// wp-content/uploads is allowed through so hosted PDFs stay reachable.
func ShouldSkipURL(raw string) bool {
	if wpUploadsPattern.MatchString(raw) {
		return false
	}
	for _, p := range skipURLPatterns {
		if p.MatchString(raw) {
			return true
		}
	}
	return false
}

// IsPDFURL reports whether the URL path ends in .pdf.
func IsPDFURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.HasSuffix(strings.ToLower(raw), ".pdf")
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

func pathDepth(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	return strings.Count(u.Path, "/")
}
