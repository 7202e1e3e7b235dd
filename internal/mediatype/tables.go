package mediatype

// mimePair is a (top, sub) MIME type pair, e.g. ("image", "png").
type mimePair struct {
	Top, Sub string
}

// safeExts is the fixed whitelist of filename extensions the server will
// use on disk.
var safeExts = map[string]bool{
	"7z": true, "aac": true, "avif": true, "bin": true, "bz": true, "bz2": true,
	"css": true, "csv": true, "gif": true, "gz": true, "html": true, "ico": true,
	"jar": true, "jpg": true, "js": true, "json": true, "jxl": true, "mid": true,
	"mp3": true, "mp4": true, "ogg": true, "ogv": true, "opus": true, "otf": true,
	"pdf": true, "png": true, "svg": true, "tar": true, "ttf": true, "tif": true,
	"toml": true, "txt": true, "weba": true, "webm": true, "webp": true,
	"woff": true, "woff2": true, "yaml": true, "zip": true,
}

// extToMIME maps a safe extension to its canonical MIME pair.
var extToMIME = map[string]mimePair{
	"7z":    {"application", "x-7z-compressed"},
	"aac":   {"audio", "aac"},
	"avif":  {"image", "avif"},
	"bin":   {"application", "octet-stream"},
	"bz":    {"application", "x-bzip"},
	"bz2":   {"application", "x-bzip2"},
	"css":   {"text", "css"},
	"csv":   {"text", "csv"},
	"gif":   {"image", "gif"},
	"gz":    {"application", "gzip"},
	"html":  {"text", "html"},
	"ico":   {"image", "vnd.microsoft.icon"},
	"jar":   {"application", "java-archive"},
	"jpg":   {"image", "jpeg"},
	"jpeg":  {"image", "jpeg"},
	"js":    {"text", "javascript"},
	"json":  {"application", "json"},
	"jxl":   {"image", "jxl"},
	"mid":   {"audio", "midi"},
	"mp3":   {"audio", "mpeg"},
	"mp4":   {"video", "mp4"},
	"oga":   {"audio", "ogg"},
	"ogg":   {"audio", "ogg"},
	"ogv":   {"video", "ogg"},
	"opus":  {"audio", "opus"},
	"otf":   {"font", "otf"},
	"pdf":   {"application", "pdf"},
	"png":   {"image", "png"},
	"svg":   {"image", "svg+xml"},
	"tar":   {"application", "x-tar"},
	"ttf":   {"font", "ttf"},
	"tif":   {"image", "tiff"},
	"tiff":  {"image", "tiff"},
	"toml":  {"application", "toml"},
	"txt":   {"text", "plain"},
	"weba":  {"audio", "webm"},
	"webm":  {"video", "webm"},
	"webp":  {"image", "webp"},
	"woff":  {"font", "woff"},
	"woff2": {"font", "woff2"},
	"yaml":  {"application", "yaml"},
	"zip":   {"application", "zip"},
}

// altExts maps a non-canonical extension alias to its canonical form.
var altExts = map[string]string{
	"jpeg": "jpg",
	"htm":  "html",
	"weba": "webm",
	"yml":  "yaml",
	"tml":  "toml",
	"midi": "mid",
	"tiff": "tif",
}

var audioTypeExtensions = map[string]string{
	"mpeg": "mp3", "webm": "weba", "aac": "aac", "ogg": "ogg",
	"opus": "opus", "midi": "mid", "wav": "wav",
}

var imageTypeExtensions = map[string]string{
	"jxl": "jxl", "tiff": "tif", "jpeg": "jpg", "gif": "gif",
	"avif": "avif", "png": "png", "svg": "svg", "svg+xml": "svg",
	"webp": "webp", "bmp": "bmp",
}

var videoTypeExtensions = map[string]string{
	"webm": "webm", "mp4": "mp4", "ogg": "ogv",
}

var applicationTypeExtensions = map[string]string{
	"pdf": "pdf", "json": "json", "yaml": "yaml", "toml": "toml",
	"x-tar": "tar", "x-bzip": "bz", "x-bzip2": "bz2", "xml": "xml",
	"zip": "zip", "x-7z-compressed": "7z", "octet-stream": "bin",
	"gzip": "gz", "java-archive": "jar", "x-sh": "sh",
}

var textTypeExtensions = map[string]string{
	"plain": "txt", "html": "html", "css": "css", "csv": "csv", "javascript": "js",
}

var fontTypeExtensions = map[string]string{
	"otf": "otf", "ttf": "ttf", "woff": "woff", "woff2": "woff2",
}

var topLevelTypes = map[string]map[string]string{
	"image":       imageTypeExtensions,
	"audio":       audioTypeExtensions,
	"video":       videoTypeExtensions,
	"application": applicationTypeExtensions,
	"text":        textTypeExtensions,
	"font":        fontTypeExtensions,
}
