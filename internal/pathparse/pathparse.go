// Package pathparse dissects a requested URL-like path the way the
// original implementation's parsing.rs does: byte-offset ranges into the
// original string, no copies, so the same underlying path can be sliced
// several different ways for the resolver's candidate search.
package pathparse

import (
	"strings"

	"github.com/gosimple/slug"
)

// Basename describes the decomposition of a path's final segment.
type Basename struct {
	raw string

	BasenameStart, BasenameEnd int
	ContentTypeExt             string // "" when absent
	ContentTypeExtStart, ContentTypeExtEnd int
	ContentEncodingExt         string // "" when absent
	ContentEncodingExtStart, ContentEncodingExtEnd int
	BasenameNoExtStart, BasenameNoExtEnd int
}

func (b Basename) Basename() string       { return b.raw[b.BasenameStart:b.BasenameEnd] }
func (b Basename) BasenameNoExt() string  { return b.raw[b.BasenameNoExtStart:b.BasenameNoExtEnd] }
func (b Basename) HasContentTypeExt() bool     { return b.ContentTypeExt != "" }
func (b Basename) HasContentEncodingExt() bool { return b.ContentEncodingExt != "" }

// GrabBasename parses rawPath into a Basename. Mirrors grab_basename in the
// original implementation: the basename is everything after the last '/';
// if it contains a '.', the suffix after the last '.' is the content-type
// extension; if what remains before that also contains a '.', that last
// suffix becomes the content-encoding extension instead and the
// content-type extension shifts to the second-to-last dot-segment
// (e.g. "a.txt.gz" -> type "txt", encoding "gz").
func GrabBasename(rawPath string) Basename {
	basenameStart := 0
	if idx := strings.LastIndexByte(rawPath, '/'); idx >= 0 {
		basenameStart = idx + 1
	}
	basenameEnd := len(rawPath)
	basename := rawPath[basenameStart:basenameEnd]

	var typeStart, typeEnd int
	var encStart, encEnd int
	hasType, hasEnc := false, false

	if dot := strings.LastIndexByte(basename, '.'); dot >= 0 {
		typeStart = basenameStart + dot + 1
		typeEnd = basenameEnd
		hasType = true

		slice := rawPath[basenameStart : basenameStart+dot]
		if dot2 := strings.LastIndexByte(slice, '.'); dot2 >= 0 {
			encStart, encEnd = typeStart, typeEnd
			hasEnc = true
			typeStart = basenameStart + dot2 + 1
			typeEnd = basenameStart + dot
		}
	}

	noExtStart, noExtEnd := basenameStart, basenameEnd
	if hasType {
		noExtEnd = typeStart - 1
	}

	b := Basename{raw: rawPath, BasenameStart: basenameStart, BasenameEnd: basenameEnd,
		BasenameNoExtStart: noExtStart, BasenameNoExtEnd: noExtEnd}
	if hasType {
		b.ContentTypeExt = rawPath[typeStart:typeEnd]
		b.ContentTypeExtStart, b.ContentTypeExtEnd = typeStart, typeEnd
	}
	if hasEnc {
		b.ContentEncodingExt = rawPath[encStart:encEnd]
		b.ContentEncodingExtStart, b.ContentEncodingExtEnd = encStart, encEnd
	}
	return b
}

// DimensionPrefix is the result of matching a leading "r<W>(x<H>)?"
// segment.
type DimensionPrefix struct {
	Width, Height int
	HasWidth, HasHeight bool
}

// ParseDimensionPrefix matches the first '/'-delimited segment of rawPath
// against r(<W>)?(x<H>)? and, if at least one integer is present, returns
// the parsed dimensions and the path with that segment stripped.
func ParseDimensionPrefix(rawPath string) (DimensionPrefix, string, bool) {
	segment := rawPath
	rest := ""
	if idx := strings.IndexByte(rawPath, '/'); idx >= 0 {
		segment = rawPath[:idx]
		rest = rawPath[idx+1:]
	}

	if len(segment) == 0 || segment[0] != 'r' {
		return DimensionPrefix{}, rawPath, false
	}
	slice := segment[1:]

	var dp DimensionPrefix
	if x := strings.IndexByte(slice, 'x'); x >= 0 {
		wStr, hStr := slice[:x], slice[x+1:]
		if wStr != "" {
			if w, ok := parseUint(wStr); ok {
				dp.Width, dp.HasWidth = w, true
			}
		}
		if hStr != "" {
			if h, ok := parseUint(hStr); ok {
				dp.Height, dp.HasHeight = h, true
			}
		}
	} else if slice != "" {
		if w, ok := parseUint(slice); ok {
			dp.Width, dp.HasWidth = w, true
		}
	}

	if !dp.HasWidth && !dp.HasHeight {
		return DimensionPrefix{}, rawPath, false
	}
	return dp, rest, true
}

func parseUint(s string) (int, bool) {
	n := 0
	if len(s) == 0 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// CandidatePaths builds the ordered candidate path list used by the
// resolver (§4.4), given effectivePath (the requested path with any
// leading "r<W>x<H>" dimension segment already stripped):
//
//  (i)   effectivePath itself (this already represents "without the
//        leading dimension segment", since the caller strips that before
//        calling in)
//  (ii)  effectivePath without its outer extension
//  (iii) effectivePath without both extensions
//  (iv)  effectivePath once more; the raw path with its dimension segment
//        still in place is not among the candidates
//
// Duplicates are allowed and expected when fewer than two extensions are
// present; the resolver queries with IN-semantics so repeats are harmless.
func CandidatePaths(effectivePath string) []string {
	b := GrabBasename(effectivePath)
	candidates := make([]string, 0, 4)
	candidates = append(candidates, effectivePath)

	switch {
	case b.HasContentEncodingExt():
		candidates = append(candidates, effectivePath[:b.ContentEncodingExtStart-1])
		candidates = append(candidates, effectivePath[:b.ContentTypeExtStart-1])
	case b.HasContentTypeExt():
		candidates = append(candidates, effectivePath[:b.ContentTypeExtStart-1])
		candidates = append(candidates, effectivePath[:b.ContentTypeExtStart-1])
	default:
		candidates = append(candidates, effectivePath)
		candidates = append(candidates, effectivePath)
	}

	candidates = append(candidates, effectivePath)
	return candidates
}

// SlugifyPath normalizes a caller-supplied persistence path (the `as=`
// query parameter on a derive request) into a safe virtual-object path:
// each '/'-separated segment is slugged independently so the hierarchy
// survives, and empty segments produced by leading/trailing/doubled
// slashes are dropped.
func SlugifyPath(raw string) string {
	segments := strings.Split(raw, "/")
	kept := segments[:0]
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		kept = append(kept, slug.Make(seg))
	}
	return strings.Join(kept, "/")
}
