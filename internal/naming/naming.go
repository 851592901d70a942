// Package naming derives the output path for a conversion from the input
// path. Filenames are treated as a sequence of tokens separated by '_' or
// '-'; tokens naming an H.264/XviD source are rewritten to HEVC, and any
// token already naming HEVC/x265 short-circuits the derivation entirely.
package naming

import (
	"strings"
)

const (
	hevcToken      = "HEVC"
	collisionToken = "new"
	outputExt      = "mkv"
)

// Outcome is the result of DeriveOutputName. It is either a Rewrite,
// containing the path the converted file should be written to, or
// AlreadyConverted, indicating the input is already HEVC and no
// conversion is required.
type Outcome interface {
	isOutcome()
}

type Rewrite struct {
	Path string
}

type AlreadyConverted struct {
	// Token is the filename token which identified the input as HEVC
	Token string
}

func (Rewrite) isOutcome()          {}
func (AlreadyConverted) isOutcome() {}

// TokenClass describes how a single filename token is treated
// when deriving the output name.
type TokenClass int

const (
	Keep TokenClass = iota
	Replace
	Converted
)

func (c TokenClass) String() string {
	return []string{"KEEP", "REPLACE", "CONVERTED"}[c]
}

// DeriveOutputName maps an input path to the path its HEVC conversion
// should be written to. See Outcome for the possible results.
func DeriveOutputName(inputPath string) Outcome {
	dir, hasDir, filename := splitPath(inputPath)
	stem := stripExtension(filename)

	tokens, converted, found := RewriteTokens(Tokenize(stem))
	if found {
		return AlreadyConverted{Token: converted}
	}

	outName := Disambiguate(strings.Join(tokens, "-")+"."+outputExt, filename)

	if !hasDir {
		return Rewrite{Path: outName}
	}
	return Rewrite{Path: dir + "/" + outName}
}

// Tokenize splits a filename stem in to tokens. '-', '_' and any '.'
// remaining in the stem are all treated as equivalent separators. An empty
// stem yields a single empty token.
func Tokenize(stem string) []string {
	return strings.Split(separatorReplacer.Replace(stem), "_")
}

var separatorReplacer = strings.NewReplacer("-", "_", ".", "_")

// Classify reports how the token should be treated by RewriteTokens.
func Classify(token string) TokenClass {
	if strings.Contains(token, "265") || strings.Contains(token, hevcToken) {
		return Converted
	}
	if strings.Contains(token, "264") || strings.Contains(strings.ToLower(token), "xvid") {
		return Replace
	}

	return Keep
}

// RewriteTokens applies Classify to each token, returning the rewritten
// token list. If any token is classified as Converted, that token is returned
// along with found=true, and the token list should be disregarded.
//
// Only the first replaced token becomes HEVC; later source-codec tokens
// are dropped so the result always carries exactly one HEVC token.
func RewriteTokens(tokens []string) (out []string, convertedToken string, found bool) {
	out = make([]string, 0, len(tokens)+1)
	replaced := false
	for _, tok := range tokens {
		switch Classify(tok) {
		case Converted:
			return nil, tok, true
		case Replace:
			if !replaced {
				out = append(out, hevcToken)
				replaced = true
			}
		default:
			out = append(out, tok)
		}
	}

	if !replaced {
		out = append(out, hevcToken)
	}
	return out, "", false
}

// Disambiguate returns candidate, unless it is identical to the original filename,
// in which case a "new" token is inserted before the extension.
func Disambiguate(candidate string, original string) string {
	if candidate != original {
		return candidate
	}

	stem, ext := stripExtension(candidate), ""
	if len(stem) < len(candidate) {
		ext = candidate[len(stem):]
	}

	return stem + "." + collisionToken + ext
}

// splitPath separates the directory prefix (if any) from the bare filename. The
// prefix of a file at the root ("/file") is empty, but still present.
func splitPath(path string) (string, bool, string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", false, path
	}

	return path[:idx], true, path[idx+1:]
}

// stripExtension removes the final '.' delimited extension from the filename.
// A filename without any '.' is returned unchanged.
func stripExtension(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return filename
	}

	return filename[:idx]
}
