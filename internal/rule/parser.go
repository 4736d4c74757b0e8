package rule

import (
	"bufio"
	"log/slog"
	"strings"
)

// EmptyHostError is returned internally when a "||^" line has no host
// between the anchors; such lines are dropped and counted, never returned to
// the caller of Parse.
type EmptyHostError struct{ Line string }

func (e EmptyHostError) Error() string { return "domain anchor rule has no host: " + e.Line }

// BareWildcardError is returned internally when a line is only "*" or
// contains no literal fragments at all.
type BareWildcardError struct{ Line string }

func (e BareWildcardError) Error() string { return "wildcard rule has no literal fragment: " + e.Line }

// MaxLineLength is the EasyList line-length ceiling. Lines longer than this
// are treated as malformed and dropped.
const MaxLineLength = 4096

// Result is the output of Parse: the compiled rules plus a count of lines
// that failed to parse. Parse never aborts partway through a list — one bad
// line costs one ParseErrors increment, nothing more.
type Result struct {
	Rules       []*Rule
	ParseErrors int
}

// Parse consumes one filter-list text (LF or CRLF line endings) and produces
// a Result. Rule IDs are assigned in the order rules are emitted, starting
// at 0.
func Parse(logger *slog.Logger, text string) Result {
	logger = logger.WithGroup("parser")

	var res Result
	scanner := bufio.NewScanner(strings.NewReader(text))
	// The token limit covers the whole text, so an over-long line reaches the
	// MaxLineLength check below instead of stopping the scan.
	scanner.Buffer(make([]byte, 0, MaxLineLength), len(text)+1)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if len(line) > MaxLineLength {
			logger.Warn("line exceeds max length, dropping", "line", lineNo)
			res.ParseErrors++
			continue
		}

		r, err := parseLine(line, lineNo)
		if err != nil {
			if err != errSkipLine {
				logger.Warn("dropping malformed line", "line", lineNo, "err", err.Error())
				res.ParseErrors++
			}
			continue
		}
		if r == nil {
			// comment or blank line
			continue
		}
		r.ID = ID(len(res.Rules))
		res.Rules = append(res.Rules, r)
	}

	return res
}

// errSkipLine marks a line that is intentionally ignored (comment, blank)
// rather than malformed; it is never counted as a parse error.
var errSkipLine = skipError{}

type skipError struct{}

func (skipError) Error() string { return "skip" }

func parseLine(line string, lineNo int) (*Rule, error) {
	if line == "" || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "[") {
		return nil, errSkipLine
	}

	origin := Origin{SourceLine: lineNo, RawText: line}

	if strings.HasPrefix(line, "@@") {
		inner, err := parseBlockLine(strings.TrimPrefix(line, "@@"), origin)
		if err != nil {
			return nil, err
		}
		return &Rule{Kind: KindException, Inner: inner, Origin: origin}, nil
	}

	if strings.Contains(line, "##") || strings.Contains(line, "#@#") {
		return parseCosmeticLine(line, origin)
	}

	return parseBlockLine(line, origin)
}

func parseCosmeticLine(line string, origin Origin) (*Rule, error) {
	sep := "##"
	idx := strings.Index(line, sep)
	if idx < 0 {
		sep = "#@#"
		idx = strings.Index(line, sep)
	}
	if idx < 0 {
		return nil, BareWildcardError{Line: line}
	}
	domain := line[:idx]
	selector := line[idx+len(sep):]
	if selector == "" {
		return nil, BareWildcardError{Line: line}
	}
	return &Rule{Kind: KindCosmetic, Domain: domain, Selector: selector, Origin: origin}, nil
}

// parseBlockLine parses a line that is not an exception/cosmetic wrapper —
// i.e. the part of the grammar that both top-level block rules and the
// inner rule of an "@@" exception share.
func parseBlockLine(line string, origin Origin) (*Rule, error) {
	// Strip a "$option,option" tail: options are retained for diagnostics but
	// don't change match semantics.
	body, options := splitOptions(line)

	switch {
	case strings.HasPrefix(body, "||"):
		return parseDomainAnchor(body, origin, options)
	case strings.Contains(body, "*"):
		return parseWildcard(body, origin, options)
	default:
		if body == "" {
			return nil, BareWildcardError{Line: line}
		}
		return &Rule{Kind: KindSubstring, Needle: strings.ToLower(body), Origin: withOptions(origin, options)}, nil
	}
}

func splitOptions(body string) (string, string) {
	// A bare "$" inside a domain anchor's host is not an option separator;
	// EasyList options always trail the whole rule, so split on the last '$'
	// that isn't part of a "||host^$opt" anchor's terminal '^' already
	// consumed. Simple rightmost split is sufficient for this subset.
	if idx := strings.LastIndex(body, "$"); idx > 0 {
		return body[:idx], body[idx+1:]
	}
	return body, ""
}

func withOptions(o Origin, options string) Origin {
	if options != "" {
		o.RawText = o.RawText + " ;options=" + options
	}
	return o
}

func parseDomainAnchor(body string, origin Origin, options string) (*Rule, error) {
	rest := strings.TrimPrefix(body, "||")
	separatorRequired := strings.HasSuffix(rest, "^")
	hostAndPath := strings.TrimSuffix(rest, "^")
	hostAndPath = strings.TrimSpace(hostAndPath)
	if hostAndPath == "" {
		return nil, EmptyHostError{Line: body}
	}

	host := hostAndPath
	pathPrefix := ""
	if idx := strings.Index(hostAndPath, "/"); idx >= 0 {
		host = hostAndPath[:idx]
		pathPrefix = hostAndPath[idx:]
	}
	if host == "" {
		return nil, EmptyHostError{Line: body}
	}

	return &Rule{
		Kind:              KindDomainAnchor,
		HostSuffix:        strings.ToLower(host),
		PathPrefix:        strings.ToLower(pathPrefix),
		SeparatorRequired: separatorRequired,
		Origin:            withOptions(origin, options),
	}, nil
}

func parseWildcard(body string, origin Origin, options string) (*Rule, error) {
	parts := strings.Split(body, "*")
	nonEmpty := 0
	lowered := make([]string, len(parts))
	for i, p := range parts {
		lowered[i] = strings.ToLower(p)
		if p != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return nil, BareWildcardError{Line: body}
	}
	return &Rule{Kind: KindWildcard, Parts: lowered, Origin: withOptions(origin, options)}, nil
}
