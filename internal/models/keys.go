package models

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	boardPrefix  = "board:"
	threadPrefix = "thread:"
)

var slugReplacer = strings.NewReplacer(" ", "_", "\r", "_", "\n", "_", "\t", "_")

// Slugify trims s and replaces every space, CR, LF and TAB with an underscore.
// Other characters, including non-ASCII ones, are kept as they are.
func Slugify(s string) string {
	return slugReplacer.Replace(strings.TrimSpace(s))
}

// BoardKey returns the identity of the board with the given slug
func BoardKey(slug string) string {
	return boardPrefix + slug
}

// ThreadKey returns the identity of a post. parent is nil for opening posts.
func ThreadKey(board string, timestamp, id uint64, parent *uint64) string {
	key := fmt.Sprintf("%s%s:%d:%d", threadPrefix, board, timestamp, id)
	if parent != nil {
		key += ":" + strconv.FormatUint(*parent, 10)
	}
	return key
}

// ThreadPattern matches every post of a board
func ThreadPattern(board string) string {
	return threadPrefix + EscapeGlob(board) + ":*"
}

// ThreadIDPattern matches posts of a board whose key ends in id. Comments
// replying to id match as well, callers must check the parsed key.
func ThreadIDPattern(board string, id uint64) string {
	return threadPrefix + EscapeGlob(board) + ":*:" + strconv.FormatUint(id, 10)
}

// ThreadIndexKey is the key of the id lookup entry for a post of board
func ThreadIndexKey(board string, id uint64) string {
	return board + ":" + strconv.FormatUint(id, 10)
}

// EscapeGlob escapes the glob metacharacters understood by the store's Scan
func EscapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParsedThreadKey is the decoded form of a thread identity
type ParsedThreadKey struct {
	Board     string
	Timestamp uint64
	ID        uint64
	Parent    *uint64
}

// ParseThreadKey decodes key for a known board. The board is required because
// slugs may themselves contain colons.
func ParseThreadKey(board, key string) (ParsedThreadKey, error) {
	prefix := threadPrefix + board + ":"
	if !strings.HasPrefix(key, prefix) {
		return ParsedThreadKey{}, fmt.Errorf("key %q does not belong to board %q", key, board)
	}

	parts := strings.Split(strings.TrimPrefix(key, prefix), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return ParsedThreadKey{}, fmt.Errorf("key %q has %d numeric segments", key, len(parts))
	}

	nums := make([]uint64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return ParsedThreadKey{}, fmt.Errorf("key %q: %w", key, err)
		}
		nums[i] = n
	}

	parsed := ParsedThreadKey{Board: board, Timestamp: nums[0], ID: nums[1]}
	if len(nums) == 3 {
		parsed.Parent = &nums[2]
	}
	return parsed, nil
}
