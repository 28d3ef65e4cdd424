// Package router dispatches requests through an ordered list of rules.
//
// Route matching is a simple process that loops through all rules in the
// order they were added and runs the first one whose predicate matches. Path
// predicates use plain prefix and suffix tests, so "/stocks/foo/get_all_stocks"
// matches a rule built from PathSuffix("/get_all_stocks"). A request that no
// rule matches is handled by the fallback.
package router

import (
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

// Predicate decides whether a rule applies to a request method and URL path.
type Predicate func(method, path string) bool

// Rule is one named (predicate, handler) pair.
type Rule struct {
	Name    string
	Match   Predicate
	Handler echo.HandlerFunc
}

// FallbackName is reported by Select when no rule matches.
const FallbackName = "fallback"

// RuleKey is the echo.Context key under which Handle stores the name of the
// rule that served the request.
const RuleKey = "router.rule"

// Router holds the ordered rules and the fallback handler.
type Router struct {
	rules    []Rule
	fallback echo.HandlerFunc
}

// New creates a Router that sends unmatched requests to fallback.
func New(fallback echo.HandlerFunc) *Router {
	return &Router{fallback: fallback}
}

// Add appends a rule. Rules are evaluated in the order they were added.
func (r *Router) Add(name string, match Predicate, h echo.HandlerFunc) *Router {
	r.rules = append(r.rules, Rule{Name: name, Match: match, Handler: h})
	return r
}

// Rules returns a copy of the rules in evaluation order.
func (r *Router) Rules() []Rule {
	return slices.Clone(r.rules)
}

// Select returns the name of the rule that would handle method and path.
func (r *Router) Select(method, path string) string {
	if rule, ok := r.match(method, path); ok {
		return rule.Name
	}
	return FallbackName
}

// Handle is an echo.HandlerFunc that runs the first matching rule.
func (r *Router) Handle(c echo.Context) error {
	req := c.Request()
	if rule, ok := r.match(req.Method, req.URL.Path); ok {
		c.Set(RuleKey, rule.Name)
		return rule.Handler(c)
	}
	c.Set(RuleKey, FallbackName)
	return r.fallback(c)
}

func (r *Router) match(method, path string) (Rule, bool) {
	for _, rule := range r.rules {
		if rule.Match(method, path) {
			return rule, true
		}
	}
	return Rule{}, false
}

// PathPrefix matches paths starting with prefix.
func PathPrefix(prefix string) Predicate {
	return func(_, path string) bool {
		return strings.HasPrefix(path, prefix)
	}
}

// PathSuffix matches paths ending with suffix.
func PathSuffix(suffix string) Predicate {
	return func(_, path string) bool {
		return strings.HasSuffix(path, suffix)
	}
}

// Methods matches any of the given HTTP methods.
func Methods(methods ...string) Predicate {
	return func(method, _ string) bool {
		return slices.Contains(methods, method)
	}
}

// Any matches every request.
func Any() Predicate {
	return func(string, string) bool { return true }
}

// All matches when every predicate matches.
func All(preds ...Predicate) Predicate {
	return func(method, path string) bool {
		for _, p := range preds {
			if !p(method, path) {
				return false
			}
		}
		return true
	}
}

// Relayable matches the methods the relays forward: GET, HEAD and POST.
func Relayable() Predicate {
	return Methods(http.MethodGet, http.MethodHead, http.MethodPost)
}
