// Package fingerprint computes stable identity digests for listings.
//
// Two listings with the same normalized title and link get the same
// fingerprint regardless of casing, surrounding whitespace, or tracking
// query parameters on the link. The computation is pure: it depends only
// on its inputs.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query parameters stripped during link normalization.
// They identify marketing campaigns, not listings.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"gclid":        true,
	"fbclid":       true,
	"mc_cid":       true,
	"mc_eid":       true,
	"ref":          true,
	"ref_src":      true,
}

// Compute returns the fingerprint for a title/link pair: a SHA-256 digest
// of the normalized forms, hex-encoded.
func Compute(title, link string) string {
	h := sha256.Sum256([]byte(NormalizeTitle(title) + "|" + NormalizeLink(link)))
	return fmt.Sprintf("%x", h[:])
}

// NormalizeTitle lower-cases the title and collapses all whitespace runs
// to single spaces.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// NormalizeLink canonicalizes a listing URL: lower-cased scheme and host,
// tracking parameters removed, remaining query sorted, fragment dropped,
// trailing slash trimmed from the path. Unparseable links are returned
// trimmed and lower-cased so the fingerprint stays deterministic.
func NormalizeLink(link string) string {
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return strings.ToLower(link)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")

	q := u.Query()
	for param := range q {
		if trackingParams[strings.ToLower(param)] {
			q.Del(param)
		}
	}
	u.RawQuery = encodeSorted(q)

	return u.String()
}

// encodeSorted renders query values with keys in lexicographic order, so
// that parameter order on the wire never changes the fingerprint.
func encodeSorted(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range q[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
