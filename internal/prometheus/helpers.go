package prometheus

import (
	"regexp"
	"strings"
)

var paramRegexp = regexp.MustCompile(":(.*)")

// pathLabel replaces route parameters so that all requests to one route
// share a label value: /jobs/:id -> /jobs/-
func pathLabel(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = paramRegexp.ReplaceAllString(segment, "-")
	}
	return strings.Join(segments, "/")
}
