package ratelimit

import (
	"regexp"
	"strings"
)

var (
	// AI task routes: /api/ai/..., /api/wisp, /api/grove/wisp/fireside, timeline generation.
	aiRoutePattern = regexp.MustCompile(`(^|/)(ai|wisp|fireside)(/|$)|/timeline/generate(/|$)`)
	// Upload and media routes: /api/upload, /api/images, /api/cdn/image, ...
	uploadRoutePattern = regexp.MustCompile(`(^|/)(upload|uploads|image|images|media|cdn)(/|$)`)
)

var writeMethods = map[string]struct{}{
	"POST":   {},
	"PUT":    {},
	"PATCH":  {},
	"DELETE": {},
}

// CategorizeRequest maps a request onto its usage category. Rules are
// evaluated in order and the first match wins, so a path that is both an AI
// route and an upload route is categorized as ai.
//
// It is pure: behavioral bridges elsewhere rely on getting the same answer.
func CategorizeRequest(method, path string) Category {
	p := strings.ToLower(path)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	if aiRoutePattern.MatchString(p) {
		return CategoryAI
	}
	if uploadRoutePattern.MatchString(p) {
		return CategoryUploads
	}
	if _, ok := writeMethods[strings.ToUpper(method)]; ok {
		return CategoryWrites
	}
	return CategoryRequests
}
