package memory

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/rcliao/avatar-memory/internal/config"
	"github.com/rcliao/avatar-memory/internal/model"
)

const (
	// maxIndexName is Pinecone's index name length limit.
	maxIndexName   = 45
	maxFragmentLen = 12
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func sanitizeFragment(s string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimRight(s[:n], "-")
}

// PerAvatarIndexName builds "{prefix}-{user}-{avatar}-{hash8}". Fragments
// are sanitized and truncated; the hash of the raw identifiers keeps
// distinct pairs apart after truncation.
func PerAvatarIndexName(prefix, userID, avatarID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID + "\x00" + avatarID))
	sum := fmt.Sprintf("%08x", h.Sum32())

	parts := make([]string, 0, 4)
	for _, p := range []string{
		truncate(sanitizeFragment(prefix), maxFragmentLen),
		truncate(sanitizeFragment(userID), maxFragmentLen),
		truncate(sanitizeFragment(avatarID), maxFragmentLen),
	} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	head := truncate(strings.Join(parts, "-"), maxIndexName-len(sum)-1)
	if head == "" {
		return sum
	}
	return head + "-" + sum
}

// IndexName routes a user/avatar pair to its index.
func (s *Service) IndexName(userID, avatarID string) string {
	if s.cfg.IndexMode == config.IndexModePerAvatar {
		return PerAvatarIndexName(s.cfg.IndexPrefix, userID, avatarID)
	}
	return s.cfg.DefaultIndex
}

// FileNameFromURL returns the unescaped last path segment of raw.
func FileNameFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	p := raw
	if u, err := url.Parse(raw); err == nil && (u.Scheme != "" || u.Host != "") {
		p = u.Path
	}
	base := path.Base(strings.TrimRight(p, "/"))
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// fileReference picks the metadata field identifying a file: file_path
// first, then the given or URL-derived file name.
func fileReference(filePath, fileName string) (field, value string) {
	if v := strings.TrimSpace(filePath); v != "" {
		return model.MetaFilePath, v
	}
	if v := strings.TrimSpace(fileName); v != "" {
		return model.MetaFileName, v
	}
	return "", ""
}
