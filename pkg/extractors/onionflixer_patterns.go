package extractors

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"quickwatch-go/pkg/types"

	"github.com/tidwall/gjson"
)

// Patterns for the onionflixer page layout. They track the upstream markup
// and are expected to change with it.
var (
	scriptBlockRe   = regexp.MustCompile(`(?s)<script>(.*?)</script>`)
	arrayLiteralRe  = regexp.MustCompile(`(?s)var\s+(\w+)\s*=\s*(\[.*?\]);`)
	shiftConstantRe = regexp.MustCompile(`String\.fromCharCode\(parseInt\(value\) - (\d+)\);`)
	redirectHostRe  = regexp.MustCompile(`\$\("a\.redirect"\)\.attr\("href","https://([^"]+)"\)`)
	juicyPayloadRe  = regexp.MustCompile(`JuicyCodes\.Run\(([^)]+)\);`)
	evalExprRe      = regexp.MustCompile(`eval\((.+?)\)$`)

	manifestFileRe = regexp.MustCompile(`"file":"([^"]*\.m3u8[^"]*)"`)
	sourcesFileRe  = regexp.MustCompile(`file:\[\{.*?"file":"([^"]+)".*?\}\]`)
	trackEntryRe   = regexp.MustCompile(`\{[^{}]*"file":"([^"]+\.(?:vtt|srt)(?:\?[^"]*)?)"[^{}]*\}`)
	trackLabelRe   = regexp.MustCompile(`"label":"([^"]*)"`)
)

var (
	errNoArrayLiteral  = errors.New("no array literal")
	errMalformedArray  = errors.New("malformed array literal")
	errCodeOutOfRange  = errors.New("character code out of range")
	errNoShiftConstant = errors.New("no shift constant")
)

// Paths tried, in order, when the evaluated player config is a JSON structure.
var manifestPaths = []string{
	"file",
	"file.0.file",
	"sources.0.file",
	"playlist.0.file",
	"playlist.0.sources.0.file",
}

// findScriptBlock returns the body of the first inline <script> element.
func findScriptBlock(page string) string {
	m := scriptBlockRe.FindStringSubmatch(page)
	if m == nil {
		return ""
	}
	return m[1]
}

// findCharCodeTable returns the integers of the last non-empty array literal
// assigned in script. Earlier assignments are ignored.
func findCharCodeTable(script string) ([]int, error) {
	var last string
	for _, m := range arrayLiteralRe.FindAllStringSubmatch(script, -1) {
		if content := strings.TrimSpace(strings.Trim(m[2], "[]")); content != "" {
			last = content
		}
	}
	if last == "" {
		return nil, errNoArrayLiteral
	}

	items := strings.Split(last, ",")
	table := make([]int, 0, len(items))
	for _, item := range items {
		n, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil {
			return nil, errMalformedArray
		}
		table = append(table, n)
	}
	return table, nil
}

// findShiftConstant returns the offset subtracted from every char code.
func findShiftConstant(script string) (int, error) {
	m := shiftConstantRe.FindStringSubmatch(script)
	if m == nil {
		return 0, errNoShiftConstant
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, errNoShiftConstant
	}
	return n, nil
}

// decodeCharCodes maps each code to the character code-shift, in order.
// Printability is not checked; only values outside the Unicode range fail.
// Surrogate halves (U+D800-U+DFFF) are not valid in UTF-8 and come out as
// U+FFFD, so the result can differ from a JavaScript String.fromCharCode.
func decodeCharCodes(table []int, shift int) (string, error) {
	var sb strings.Builder
	sb.Grow(len(table))
	for _, n := range table {
		r := n - shift
		if r < 0 || r > utf8.MaxRune {
			return "", errCodeOutOfRange
		}
		sb.WriteRune(rune(r))
	}
	return sb.String(), nil
}

// findRedirectHost returns what follows https:// in the a.redirect href
// assignment. It may carry a path.
func findRedirectHost(fragment string) string {
	m := redirectHostRe.FindStringSubmatch(fragment)
	if m == nil {
		return ""
	}
	return m[1]
}

// findJuicyPayload returns the JuicyCodes.Run argument verbatim.
func findJuicyPayload(page string) string {
	m := juicyPayloadRe.FindStringSubmatch(page)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// findEvalExpression returns the argument of the eval call that ends the
// decoded script.
func findEvalExpression(decoded string) string {
	m := evalExprRe.FindStringSubmatch(strings.TrimSpace(decoded))
	if m == nil {
		return ""
	}
	return m[1]
}

// findManifestURL returns the media file URL from the interpreter output.
//
// The output is JSON.stringify of the evaluated value. A JSON string is the
// player setup source and is searched textually; an object or array is
// walked with the known paths first. Output that is not valid JSON is
// searched as is. An .m3u8 entry wins over other file entries.
func findManifestURL(output string) string {
	text := output
	if gjson.Valid(output) {
		parsed := gjson.Parse(output)
		switch {
		case parsed.Type == gjson.String:
			text = parsed.String()
		case parsed.IsObject() || parsed.IsArray():
			if u := manifestFromJSON(parsed); u != "" {
				return u
			}
		}
	}

	if m := manifestFileRe.FindStringSubmatch(text); m != nil {
		return unescapeSlashes(m[1])
	}
	if m := sourcesFileRe.FindStringSubmatch(text); m != nil {
		return unescapeSlashes(m[1])
	}
	return ""
}

func manifestFromJSON(parsed gjson.Result) string {
	var fallback string
	for _, path := range manifestPaths {
		v := parsed.Get(path)
		if v.Type != gjson.String || v.String() == "" {
			continue
		}
		if strings.Contains(v.String(), ".m3u8") {
			return v.String()
		}
		if fallback == "" {
			fallback = v.String()
		}
	}
	return fallback
}

// findSubtitleTracks collects .vtt/.srt track entries. Missing or malformed
// tracks are skipped.
func findSubtitleTracks(output string) []types.Subtitle {
	text := output
	if gjson.Valid(output) {
		parsed := gjson.Parse(output)
		if parsed.Type == gjson.String {
			text = parsed.String()
		} else if tracks := parsed.Get("tracks"); tracks.IsArray() {
			var subs []types.Subtitle
			tracks.ForEach(func(_, track gjson.Result) bool {
				file := track.Get("file").String()
				if isSubtitleFile(file) {
					subs = append(subs, types.Subtitle{URL: file, Label: track.Get("label").String()})
				}
				return true
			})
			return subs
		}
	}

	var subs []types.Subtitle
	seen := make(map[string]bool)
	for _, m := range trackEntryRe.FindAllStringSubmatch(text, -1) {
		file := unescapeSlashes(m[1])
		if seen[file] {
			continue
		}
		seen[file] = true
		sub := types.Subtitle{URL: file}
		if l := trackLabelRe.FindStringSubmatch(m[0]); l != nil {
			sub.Label = l[1]
		}
		subs = append(subs, sub)
	}
	return subs
}

func isSubtitleFile(file string) bool {
	if i := strings.IndexByte(file, '?'); i >= 0 {
		file = file[:i]
	}
	lower := strings.ToLower(file)
	return strings.HasSuffix(lower, ".vtt") || strings.HasSuffix(lower, ".srt")
}

// jsStringLiteral returns the contents of a single- or double-quoted
// JavaScript string literal without escapes.
func jsStringLiteral(expr string) (string, bool) {
	expr = strings.TrimSpace(expr)
	if len(expr) < 2 {
		return "", false
	}
	quote := expr[0]
	if (quote != '"' && quote != '\'') || expr[len(expr)-1] != quote {
		return "", false
	}
	inner := expr[1 : len(expr)-1]
	if strings.IndexByte(inner, quote) >= 0 || strings.IndexByte(inner, '\\') >= 0 {
		return "", false
	}
	return inner, true
}

func unescapeSlashes(s string) string {
	return strings.ReplaceAll(s, `\/`, "/")
}
