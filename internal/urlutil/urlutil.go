// Package urlutil provides the pure URL manipulations the cache layers on
// top of: canonicalization, folder derivation, object URL construction,
// page-number attachment, prefix matching, and scheme forcing.
package urlutil

import (
	"net/url"
	"strconv"
	"strings"
)

// Canonicalize normalizes a URL to the form the rest of the package keys
// queries on: an absolute URL whose path always ends in "/".
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

// Folder returns the parent collection URL of an object URL: the path up
// to and including the last "/" before the final segment, with any query
// string stripped. Folder expects an object (or object-shaped page) URL;
// a page or list query's own URL already IS its folder and should be
// compared with StripQuery instead, not passed through Folder.
func Folder(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	trimmed := strings.TrimSuffix(u.Path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		u.Path = "/"
	} else {
		u.Path = trimmed[:idx+1]
	}
	u.RawQuery = ""
	return u.String()
}

// StripQuery returns rawURL with any query string removed, used to key
// page/list queries by folder without walking up a path segment the way
// Folder does for object URLs.
func StripQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	return u.String()
}

// ObjectURL derives the canonical URL for obj within folder: folder+id/ when
// obj carries an id, falling back to obj's own url field. Returns "" when
// neither is present.
func ObjectURL(folder string, obj map[string]any) string {
	if obj == nil {
		return ""
	}
	if id, ok := obj["id"]; ok && id != nil && folder != "" {
		return folder + stringify(id) + "/"
	}
	if u, ok := obj["url"].(string); ok {
		return u
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// AttachPageNumber sets the "page" query parameter on rawURL. n<=1 returns
// rawURL unchanged, matching the convention that the first page carries no
// explicit page parameter.
func AttachPageNumber(rawURL string, n int) string {
	if n <= 1 {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String()
}

// MatchURL reports whether candidate equals prefix or falls under it as a
// path-bounded sub-resource (prefix "/api/" matches "/api/items/" but not
// "/api2/").
func MatchURL(candidate, prefix string) bool {
	if candidate == prefix {
		return true
	}
	if prefix == "" || !strings.HasPrefix(candidate, prefix) {
		return false
	}
	if strings.HasSuffix(prefix, "/") {
		return true
	}
	return strings.HasPrefix(candidate[len(prefix):], "/")
}

// ForceHTTPS rewrites an http:// URL to https:// when enabled is true.
func ForceHTTPS(rawURL string, enabled bool) string {
	if !enabled {
		return rawURL
	}
	if strings.HasPrefix(rawURL, "http://") {
		return "https://" + strings.TrimPrefix(rawURL, "http://")
	}
	return rawURL
}
