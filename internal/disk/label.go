package disk

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var ErrInvalidLabel = errors.New("invalid label")

const fatInvalidChars = "\"*/:<>?\\|\x00"

type labelRule struct {
	maxLen int
	// count characters instead of bytes
	runes   bool
	invalid func(r rune) bool
}

func fatInvalid(r rune) bool {
	return strings.ContainsRune(fatInvalidChars, r) || unicode.IsControl(r)
}

func nulInvalid(r rune) bool {
	return r == 0
}

var labelRules = map[FilesystemType]labelRule{
	FilesystemVFAT:  {maxLen: 11, invalid: fatInvalid},
	FilesystemExFAT: {maxLen: 15, runes: true, invalid: fatInvalid},
	FilesystemNTFS:  {maxLen: 32, runes: true, invalid: nulInvalid},
	FilesystemExt4:  {maxLen: 16, invalid: func(r rune) bool { return r == 0 || r == '/' }},
	FilesystemXFS:   {maxLen: 12, invalid: nulInvalid},
	FilesystemBtrfs: {maxLen: 255, invalid: nulInvalid},
}

// ValidateLabel checks a volume label against the length and character
// restrictions of fs. An empty label is always valid.
func ValidateLabel(label string, fs FilesystemType) error {
	if label == "" {
		return nil
	}

	rule, ok := labelRules[fs]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFilesystem, fs)
	}

	if rule.runes {
		if utf8.RuneCountInString(label) > rule.maxLen {
			return fmt.Errorf("%w: %s: max %d characters", ErrInvalidLabel, fs, rule.maxLen)
		}
	} else if len(label) > rule.maxLen {
		return fmt.Errorf("%w: %s: max %d bytes", ErrInvalidLabel, fs, rule.maxLen)
	}

	if strings.IndexFunc(label, rule.invalid) >= 0 {
		return fmt.Errorf("%w: %s: invalid characters", ErrInvalidLabel, fs)
	}

	return nil
}
