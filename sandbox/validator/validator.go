// Package validator implements a static pre-screen: a cheap textual
// scan that rejects scripts lacking the required entry point or
// containing forbidden capability-access patterns. It is a
// defense-in-depth layer, not the authoritative barrier — that role
// belongs to the sandbox builder. Do not grow this into a parser.
package validator

import (
	"context"
	"fmt"
	"regexp"

	"github.com/hashicorp/go-multierror"
	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/errgroup"
)

// entryPattern matches a declaration of the conventional entry
// function, tolerant of surrounding whitespace.
var entryPattern = regexp.MustCompile(`function\s+run\s*\(`)

// forbiddenPatterns is a flat list of substrings/regexes scanned for
// unconditionally, independent of Lua grammar.
var forbiddenPatterns = []*regexp.Regexp{
	// Direct references to capability namespaces the sandbox strips.
	regexp.MustCompile(`\bos\s*\.`),
	regexp.MustCompile(`\bio\s*\.`),
	regexp.MustCompile(`\brequire\s*\(`),
	regexp.MustCompile(`\bmodule\s*\(`),
	regexp.MustCompile(`\bpackage\s*\.`),
	regexp.MustCompile(`\bload\s*\(`),
	regexp.MustCompile(`\bloadstring\s*\(`),
	regexp.MustCompile(`\bdofile\s*\(`),
	regexp.MustCompile(`\bloadfile\s*\(`),
	regexp.MustCompile(`\bdebug\s*\.`),
	// Obfuscated access via the interpreter's global-table handle.
	regexp.MustCompile(`_G\s*\[`),
	regexp.MustCompile(`_G\s*\.`),
	regexp.MustCompile(`\bgetfenv\s*\(`),
	regexp.MustCompile(`\brawget\s*\(`),
	regexp.MustCompile(`\bgetmetatable\s*\(\s*_G`),
	regexp.MustCompile(`\.\.\s*["'](os|io|debug|require|load)["']`),
}

// Result is the outcome of Validate: either ok, or a kind+reason pair
// matching the two error kinds this layer can raise.
type Result struct {
	OK      bool
	Kind    string // "MissingEntry" or "DangerousConstruct"
	Reason  string
	Matched string // the forbidden pattern text, when Kind == DangerousConstruct
}

// Options configures the validator's defensive ceiling on script size.
type Options struct {
	MaxScriptTokens int
}

// Validator scans script source text. It never panics on malformed
// input — unparseable text is simply treated as "missing entry" unless
// a forbidden substring matches first.
type Validator struct {
	maxScriptTokens int
	encoding        *tiktoken.Tiktoken
}

// New constructs a Validator. If tiktoken's encoding table cannot be
// loaded, the size ceiling is measured in bytes instead of tokens —
// this never fails construction, since the defensive ceiling is a
// supplemented feature, not a spec-mandated one.
func New(opts Options) *Validator {
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &Validator{
		maxScriptTokens: opts.MaxScriptTokens,
		encoding:        enc,
	}
}

// Validate runs the full pre-screen pipeline: size ceiling, forbidden
// constructs, then entry-point presence.
func (v *Validator) Validate(source string) Result {
	if v.maxScriptTokens > 0 && v.exceedsSizeCeiling(source) {
		return Result{Kind: "DangerousConstruct", Reason: "script exceeds maximum size"}
	}

	if merr, firstMatch := scanForbiddenPatterns(source); merr != nil {
		return Result{Kind: "DangerousConstruct", Reason: merr.Error(), Matched: firstMatch}
	}

	if !entryPattern.MatchString(source) {
		return Result{Kind: "MissingEntry", Reason: "no declaration of function run( found"}
	}

	return Result{OK: true}
}

// scanForbiddenPatterns checks every pattern against source concurrently,
// one goroutine per pattern, and aggregates every hit rather than
// stopping at the first — a script tripping several constructs at once
// gets one reason that says so. Returns a nil *multierror.Error when
// nothing matched.
func scanForbiddenPatterns(source string) (*multierror.Error, string) {
	hits := make([]string, len(forbiddenPatterns))
	g, _ := errgroup.WithContext(context.Background())
	for i, pat := range forbiddenPatterns {
		i, pat := i, pat
		g.Go(func() error {
			hits[i] = pat.FindString(source)
			return nil
		})
	}
	_ = g.Wait()

	var merr *multierror.Error
	var firstMatch string
	for _, loc := range hits {
		if loc == "" {
			continue
		}
		if firstMatch == "" {
			firstMatch = loc
		}
		merr = multierror.Append(merr, fmt.Errorf("forbidden construct %q", loc))
	}
	return merr, firstMatch
}

func (v *Validator) exceedsSizeCeiling(source string) bool {
	if v.encoding == nil {
		return len(source) > v.maxScriptTokens*4 // rough bytes-per-token fallback
	}
	return len(v.encoding.Encode(source, nil, nil)) > v.maxScriptTokens
}

// FindEntry reports whether the source declares the conventional entry
// point; exported for callers (e.g. tests) that want this check without
// the full Validate pipeline.
func FindEntry(source string) bool {
	return entryPattern.MatchString(source)
}
