package models

import (
	"strconv"
	"strings"
)

// MaxItemSlugLen bounds knowledge item slugs.
const MaxItemSlugLen = 100

// Slugify lowercases s and collapses every run of characters outside [a-z0-9]
// into a single hyphen, trimming hyphens at both ends.
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingHyphen := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// ItemSlug derives a knowledge item slug, truncated to MaxItemSlugLen.
// Falls back to "item-<rowNumber>" when name has no usable characters.
func ItemSlug(name string, rowNumber int) string {
	slug := Slugify(name)
	if len(slug) > MaxItemSlugLen {
		slug = strings.TrimRight(slug[:MaxItemSlugLen], "-")
	}
	if slug == "" {
		return "item-" + strconv.Itoa(rowNumber)
	}
	return slug
}
