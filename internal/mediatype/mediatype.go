// Package mediatype maps between filename extensions, MIME pairs, and
// content-encodings. The tables are a direct port of the original
// implementation's fixed lookup tables (content_type.rs).
package mediatype

import (
	"strings"

	"github.com/h2non/filetype"
)

// ContentTypeToExtension performs a case-insensitive lookup of (top, sub);
// on miss it falls back to userExt if it is in the safe set, then userExt's
// canonical alternate, then "bin".
func ContentTypeToExtension(top, sub, userExt string) string {
	top = strings.ToLower(top)
	sub = strings.ToLower(sub)
	if subs, ok := topLevelTypes[top]; ok {
		if ext, ok := subs[sub]; ok {
			return ext
		}
	}
	if safeExts[userExt] {
		return userExt
	}
	if alt, ok := altExts[userExt]; ok {
		return alt
	}
	return "bin"
}

// ContentTypeOrFromSafeExt returns ct unchanged unless ct is
// application/octet-stream and userExt resolves through the extension
// table, in which case that MIME pair is returned instead.
func ContentTypeOrFromSafeExt(top, sub, userExt string) (string, string) {
	if top == "application" && sub == "octet-stream" {
		if pair, ok := extToMIME[userExt]; ok {
			return pair.Top, pair.Sub
		}
	}
	return top, sub
}

// ExtensionMIME looks up the canonical MIME pair for a safe extension.
func ExtensionMIME(ext string) (top, sub string, ok bool) {
	pair, found := extToMIME[ext]
	return pair.Top, pair.Sub, found
}

// IsSafeExt reports whether ext is a member of the fixed extension
// whitelist.
func IsSafeExt(ext string) bool {
	return safeExts[ext]
}

// SplitContentType splits a "top/sub" MIME string into its two parts. ok
// is false when ct does not contain exactly one '/'.
func SplitContentType(ct string) (top, sub string, ok bool) {
	parts := strings.SplitN(ct, "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// IsImage reports whether ct's top-level type is "image" and is a
// recognized subtype — the image-pipeline components (derive, blurhash)
// reject anything else per §4.10/§4.11.
func IsImage(ct string) bool {
	top, sub, ok := SplitContentType(ct)
	if !ok || top != "image" {
		return false
	}
	_, known := imageTypeExtensions[sub]
	return known
}

// ImageFormatFromContentType returns the short format name the imaging
// package's decoders/encoders expect ("png", "jpeg", "gif", "webp",
// "avif") for an image/<sub> content type.
func ImageFormatFromContentType(ct string) (string, bool) {
	_, sub, ok := SplitContentType(ct)
	if !ok {
		return "", false
	}
	switch sub {
	case "jpeg":
		return "jpeg", true
	case "png", "gif", "webp", "avif":
		return sub, true
	default:
		return "", false
	}
}

// SafeExtForFormat returns the canonical file extension for a pipeline
// output format name, used to build a derived object's file_path
// (§4.10's safe_ext(format)).
func SafeExtForFormat(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "jpg"
	case "png", "gif", "webp", "avif":
		return format
	default:
		return "bin"
	}
}

// SniffContentType inspects the first bytes of buf (h2non/filetype) and
// returns a (top, sub) MIME pair when the sample is recognized. Used when a
// client uploads with Content-Type: application/octet-stream and no usable
// extension hint.
func SniffContentType(buf []byte) (top, sub string, ok bool) {
	kind, err := filetype.Match(buf)
	if err != nil || kind == filetype.Unknown {
		return "", "", false
	}
	parts := strings.SplitN(kind.MIME.Value, "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
