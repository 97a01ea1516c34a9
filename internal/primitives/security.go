package primitives

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/blobcache/blobcache/internal/cacheerr"
)

// reservedDeviceNames are Windows device names that are illegal as file
// names regardless of extension, checked case-insensitively — spec.md
// §4.4.
var reservedDeviceNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// invalidFilenameChars is the OS "invalid filename" set: control
// characters plus the characters Windows forbids in path segments.
const invalidFilenameChars = "<>:\"|?*"

// ValidateName rejects a string unsuitable for use as a filesystem
// segment or namespace component (an application name or a type tag used
// in a path-derived location). All rejections return
// cacheerr.ErrInvalidArgument.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name %q: %w", name, cacheerr.ErrInvalidArgument)
	}
	if name != strings.Trim(name, " \t\r\n") {
		return fmt.Errorf("name %q: starts or ends with whitespace: %w", name, cacheerr.ErrInvalidArgument)
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return fmt.Errorf("name %q: starts or ends with '.': %w", name, cacheerr.ErrInvalidArgument)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("name %q: reserved path segment: %w", name, cacheerr.ErrInvalidArgument)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("name %q: contains a path separator: %w", name, cacheerr.ErrInvalidArgument)
	}
	if strings.ContainsAny(name, invalidFilenameChars) {
		return fmt.Errorf("name %q: contains an invalid filename character: %w", name, cacheerr.ErrInvalidArgument)
	}
	for _, r := range name {
		if r < 0x20 {
			return fmt.Errorf("name %q: contains a control character: %w", name, cacheerr.ErrInvalidArgument)
		}
	}
	base := name
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if reservedDeviceNames[strings.ToUpper(base)] {
		return fmt.Errorf("name %q: reserved device name: %w", name, cacheerr.ErrInvalidArgument)
	}
	return nil
}

// SafePathCombine joins rel onto base and verifies the canonicalized
// result is lexically contained within base, rejecting any rel that
// would escape base via ".." — spec.md §4.4. An absolute rel is not
// rejected: filepath.Join places it beneath base. Symlinks are not
// resolved.
func SafePathCombine(base, rel string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", fmt.Errorf("empty base path: %w", cacheerr.ErrInvalidArgument)
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolving base path %q: %w", base, cacheerr.ErrInvalidArgument)
	}
	absBase = filepath.Clean(absBase)

	combined := filepath.Join(absBase, rel)
	combined = filepath.Clean(combined)

	if combined != absBase && !strings.HasPrefix(combined, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes base %q: %w", rel, base, cacheerr.ErrInvalidArgument)
	}
	return combined, nil
}
