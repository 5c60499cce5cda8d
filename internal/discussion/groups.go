package discussion

import (
	"strings"

	"mercator-hq/gateway/internal/model"
)

// builtinFastProviders and builtinCodingProviders are the default
// "@fast"/"@coding" classifications, used when a session's config
// doesn't override them via DiscussionConfig.ProviderGroups.
var (
	builtinFastProviders   = map[string]bool{"kimi": true, "qwen": true, "deepseek": true}
	builtinCodingProviders = map[string]bool{"codex": true, "gemini": true, "qwen": true, "deepseek": true, "kimi": true}
)

// ProviderGroups returns the named groups of currently registered
// providers: "all" (every registered provider) plus whatever groups
// cfg.ProviderGroups configures, falling back to the built-in
// "fast"/"coding" classifications when cfg.ProviderGroups is nil.
func (o *Orchestrator) ProviderGroups(cfg model.DiscussionConfig) map[string][]string {
	all := o.backends.Providers()
	groups := map[string][]string{"all": all}

	if cfg.ProviderGroups != nil {
		for name, members := range cfg.ProviderGroups {
			groups[name] = members
		}
		return groups
	}

	groups["fast"] = []string{}
	groups["coding"] = []string{}
	for _, p := range all {
		lower := strings.ToLower(p)
		if builtinFastProviders[lower] {
			groups["fast"] = append(groups["fast"], p)
		}
		if builtinCodingProviders[lower] {
			groups["coding"] = append(groups["coding"], p)
		}
	}
	return groups
}

// ResolveProviderGroup expands a single provider spec. A spec
// beginning with "@" names a group (see ProviderGroups); anything
// else is taken as a literal provider name and returned as a
// singleton if it is currently registered, or an empty slice
// otherwise.
func (o *Orchestrator) ResolveProviderGroup(spec string, cfg model.DiscussionConfig) []string {
	if strings.HasPrefix(spec, "@") {
		groups := o.ProviderGroups(cfg)
		return groups[strings.TrimPrefix(spec, "@")]
	}
	if _, _, err := o.backends.Get(spec); err == nil {
		return []string{spec}
	}
	return nil
}

// expandProviderSpecs resolves every entry of specs — literal names or
// "@group" aliases — into a deduplicated list of provider names.
// Unknown literal names and unknown groups contribute nothing; the
// caller enforces the minimum-provider-count invariant afterward.
func (o *Orchestrator) expandProviderSpecs(specs []string, cfg model.DiscussionConfig) []string {
	seen := map[string]bool{}
	var out []string
	for _, spec := range specs {
		for _, p := range o.ResolveProviderGroup(spec, cfg) {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}
