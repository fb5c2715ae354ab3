// config.go: Static tier and endpoint limit tables
package ratelimit

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultRouteID is the route id of the fallback endpoint preset.
const DefaultRouteID = "default"

// TierLimit is the limit/window pair for one (tier, category). A zero limit
// disables the category for the tier: every check is denied without a
// backend call.
type TierLimit struct {
	Limit         int `yaml:"limit" json:"limit" validate:"gte=0"`
	WindowSeconds int `yaml:"windowSeconds" json:"windowSeconds" validate:"gt=0"`
}

// EndpointPreset limits requests matching Method and Pattern. Method "*"
// matches any method. A Pattern without '*' matches the path itself and every
// path below it; '*' matches any run of characters.
type EndpointPreset struct {
	ID            string   `yaml:"id" json:"id" validate:"required"`
	Method        string   `yaml:"method" json:"method"`
	Pattern       string   `yaml:"pattern" json:"pattern"`
	Limit         int      `yaml:"limit" json:"limit" validate:"gt=0"`
	WindowSeconds int      `yaml:"windowSeconds" json:"windowSeconds" validate:"gt=0"`
	FailMode      FailMode `yaml:"failMode" json:"failMode" validate:"omitempty,oneof=open closed"`

	wildcard *regexp.Regexp
	literal  int
}

// EndpointOverride replaces preset fields that are non-nil. The fail mode is
// deliberately absent: it always comes from the matched preset.
type EndpointOverride struct {
	Limit         *int `json:"limit,omitempty"`
	WindowSeconds *int `json:"windowSeconds,omitempty"`
}

// TablesFile is the on-disk shape of a limits file.
type TablesFile struct {
	Tiers     map[string]map[Category]TierLimit `yaml:"tiers" validate:"dive,dive"`
	Endpoints []EndpointPreset                  `yaml:"endpoints" validate:"dive"`
	Default   EndpointPreset                    `yaml:"default"`
}

// Tables holds the tier and endpoint tables. A Tables value is built once and
// never mutated, so lookups need no locking.
type Tables struct {
	tiers     map[string]map[Category]TierLimit
	endpoints []EndpointPreset
	fallback  EndpointPreset
}

var defaultTiers = map[string]map[Category]TierLimit{
	"free": {
		CategoryRequests: {Limit: 60, WindowSeconds: 60},
		CategoryWrites:   {Limit: 20, WindowSeconds: 3600},
		CategoryUploads:  {Limit: 5, WindowSeconds: 86400},
		CategoryAI:       {Limit: 0, WindowSeconds: 86400},
	},
	"seedling": {
		CategoryRequests: {Limit: 100, WindowSeconds: 60},
		CategoryWrites:   {Limit: 50, WindowSeconds: 3600},
		CategoryUploads:  {Limit: 10, WindowSeconds: 86400},
		CategoryAI:       {Limit: 25, WindowSeconds: 86400},
	},
	"sapling": {
		CategoryRequests: {Limit: 500, WindowSeconds: 60},
		CategoryWrites:   {Limit: 200, WindowSeconds: 3600},
		CategoryUploads:  {Limit: 50, WindowSeconds: 86400},
		CategoryAI:       {Limit: 100, WindowSeconds: 86400},
	},
	"oak": {
		CategoryRequests: {Limit: 1000, WindowSeconds: 60},
		CategoryWrites:   {Limit: 500, WindowSeconds: 3600},
		CategoryUploads:  {Limit: 200, WindowSeconds: 86400},
		CategoryAI:       {Limit: 500, WindowSeconds: 86400},
	},
	"evergreen": {
		CategoryRequests: {Limit: 5000, WindowSeconds: 60},
		CategoryWrites:   {Limit: 2000, WindowSeconds: 3600},
		CategoryUploads:  {Limit: 1000, WindowSeconds: 86400},
		CategoryAI:       {Limit: 2500, WindowSeconds: 86400},
	},
}

var defaultEndpoints = []EndpointPreset{
	{ID: "auth/login", Method: "POST", Pattern: "/api/auth/login", Limit: 5, WindowSeconds: 300, FailMode: FailClosed},
	{ID: "auth/token", Method: "POST", Pattern: "/api/auth/token", Limit: 10, WindowSeconds: 60, FailMode: FailClosed},
	{ID: "auth/callback", Method: "GET", Pattern: "/api/auth/callback", Limit: 10, WindowSeconds: 60, FailMode: FailClosed},
	{ID: "auth/password-reset", Method: "POST", Pattern: "/api/auth/password-reset", Limit: 3, WindowSeconds: 3600, FailMode: FailClosed},
	{ID: "auth/session", Method: "*", Pattern: "/api/auth/session", Limit: 30, WindowSeconds: 60, FailMode: FailClosed},
	{ID: "billing/operations", Method: "*", Pattern: "/api/billing", Limit: 20, WindowSeconds: 3600, FailMode: FailOpen},
	{ID: "export", Method: "POST", Pattern: "/api/export", Limit: 3, WindowSeconds: 86400, FailMode: FailOpen},
	{ID: "posts/create", Method: "POST", Pattern: "/api/posts", Limit: 10, WindowSeconds: 300, FailMode: FailOpen},
	{ID: "uploads/image", Method: "POST", Pattern: "/api/images", Limit: 50, WindowSeconds: 3600, FailMode: FailOpen},
	{ID: "ai/wisp", Method: "POST", Pattern: "/api/grove/wisp", Limit: 50, WindowSeconds: 3600, FailMode: FailOpen},
	{ID: "webhooks", Method: "POST", Pattern: "/api/webhooks/*", Limit: 100, WindowSeconds: 60, FailMode: FailOpen},
}

var defaultFallback = EndpointPreset{ID: DefaultRouteID, Method: "*", Limit: 100, WindowSeconds: 60, FailMode: FailOpen}

// DefaultTables returns the built-in tables.
func DefaultTables() *Tables {
	t, err := NewTables(defaultTiers, defaultEndpoints, defaultFallback)
	if err != nil {
		panic(fmt.Sprintf("built-in rate limit tables are invalid: %v", err))
	}
	return t
}

// NewTables validates and copies the given tables.
func NewTables(tiers map[string]map[Category]TierLimit, endpoints []EndpointPreset, fallback EndpointPreset) (*Tables, error) {
	file := TablesFile{Tiers: tiers, Endpoints: endpoints, Default: fallback}
	if file.Default.ID == "" {
		file.Default.ID = DefaultRouteID
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("validate limit tables: %w", err)
	}

	t := &Tables{
		tiers:     make(map[string]map[Category]TierLimit, len(tiers)),
		endpoints: make([]EndpointPreset, 0, len(endpoints)),
	}
	for tier, limits := range tiers {
		copied := make(map[Category]TierLimit, len(limits))
		for cat, l := range limits {
			copied[cat] = l
		}
		t.tiers[strings.ToLower(tier)] = copied
	}

	seen := make(map[string]struct{}, len(endpoints))
	for _, ep := range endpoints {
		if _, dup := seen[ep.ID]; dup {
			return nil, fmt.Errorf("duplicate endpoint preset id %q", ep.ID)
		}
		seen[ep.ID] = struct{}{}
		t.endpoints = append(t.endpoints, compilePreset(ep))
	}

	t.fallback = compilePreset(file.Default)
	return t, nil
}

// LoadTables reads a yaml limits file. Sections left out of the file keep the
// built-in values.
func LoadTables(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read limits file: %w", err)
	}
	var file TablesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse limits file %s: %w", path, err)
	}
	if len(file.Tiers) == 0 {
		file.Tiers = defaultTiers
	}
	if len(file.Endpoints) == 0 {
		file.Endpoints = defaultEndpoints
	}
	if file.Default.Limit == 0 && file.Default.WindowSeconds == 0 {
		file.Default = defaultFallback
	}
	return NewTables(file.Tiers, file.Endpoints, file.Default)
}

func compilePreset(ep EndpointPreset) EndpointPreset {
	ep.Method = strings.ToUpper(strings.TrimSpace(ep.Method))
	if ep.Method == "" {
		ep.Method = "*"
	}
	ep.FailMode = ep.FailMode.orDefault()
	ep.Pattern = strings.TrimSuffix(ep.Pattern, "/")
	ep.literal = len(strings.ReplaceAll(ep.Pattern, "*", ""))
	if strings.Contains(ep.Pattern, "*") {
		quoted := strings.Split(ep.Pattern, "*")
		for i := range quoted {
			quoted[i] = regexp.QuoteMeta(quoted[i])
		}
		ep.wildcard = regexp.MustCompile("^" + strings.Join(quoted, "(.*)") + "/?$")
	}
	return ep
}

// Tier returns the limit for (tier, category).
func (t *Tables) Tier(tier string, category Category) (TierLimit, bool) {
	limits, ok := t.tiers[strings.ToLower(tier)]
	if !ok {
		return TierLimit{}, false
	}
	l, ok := limits[category]
	return l, ok
}

// TierNames returns the configured tiers in sorted order.
func (t *Tables) TierNames() []string {
	names := make([]string, 0, len(t.tiers))
	for name := range t.tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TierLimits returns a copy of one tier's limits.
func (t *Tables) TierLimits(tier string) map[Category]TierLimit {
	limits := t.tiers[strings.ToLower(tier)]
	out := make(map[Category]TierLimit, len(limits))
	for cat, l := range limits {
		out[cat] = l
	}
	return out
}

// Endpoints returns the presets followed by the default entry.
func (t *Tables) Endpoints() []EndpointPreset {
	out := make([]EndpointPreset, 0, len(t.endpoints)+1)
	out = append(out, t.endpoints...)
	return append(out, t.fallback)
}

// EndpointByID looks a preset up by its route id.
func (t *Tables) EndpointByID(id string) (EndpointPreset, bool) {
	if id == t.fallback.ID {
		return t.fallback, true
	}
	for _, ep := range t.endpoints {
		if ep.ID == id {
			return ep, true
		}
	}
	return EndpointPreset{}, false
}

// MatchEndpoint finds the most specific preset for (method, path) and falls
// back to the default entry. An exact path beats a prefix or wildcard; among
// those the longest literal pattern wins; an exact method beats "*"; on a
// full tie the preset declared first wins.
func (t *Tables) MatchEndpoint(method, path string) EndpointPreset {
	method = strings.ToUpper(method)
	path = normalizePath(path)

	best := -1
	var bestRank [3]int
	for i, ep := range t.endpoints {
		if ep.Method != "*" && ep.Method != method {
			continue
		}
		exact, ok := ep.matchPath(path)
		if !ok {
			continue
		}
		rank := [3]int{boolInt(exact), ep.literal, boolInt(ep.Method != "*")}
		if best < 0 || rankGreater(rank, bestRank) {
			best, bestRank = i, rank
		}
	}
	if best < 0 {
		return t.fallback
	}
	return t.endpoints[best]
}

func (ep EndpointPreset) matchPath(path string) (exact bool, ok bool) {
	if ep.wildcard != nil {
		return false, ep.wildcard.MatchString(path)
	}
	if path == ep.Pattern {
		return true, true
	}
	return false, strings.HasPrefix(path, ep.Pattern+"/")
}

func normalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

func rankGreater(a, b [3]int) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
