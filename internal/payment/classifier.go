package payment

import (
	"strings"
)

type TargetKind string

const (
	TargetLightning TargetKind = "lightning"
	TargetOnchain   TargetKind = "onchain"
	TargetDirectory TargetKind = "directory"
	TargetUnknown   TargetKind = "unknown"
)

var (
	directorySchemes = []string{"paykit:", "pubky:", "pk:"}

	lightningPrefixes = []string{"lightning:", "lnbcrt", "lntbs", "lnbc", "lntb", "lnsb", "lntr"}

	onchainSchemes = []string{"bitcoin:"}
	segwitPrefixes = []string{"bcrt1", "bc1", "tb1"}
	legacyPrefixes = []string{"1", "3", "m", "n", "2"}
)

const (
	base58Alphabet  = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	legacyMinLength = 26
	legacyMaxLength = 35
)

// Classify maps a recipient string to the kind of payment target it names.
// It never fails; anything unrecognised is TargetUnknown.
func Classify(recipient string) TargetKind {
	trimmed := strings.TrimSpace(recipient)
	normalized := strings.ToLower(trimmed)
	if normalized == "" {
		return TargetUnknown
	}

	if hasAnyPrefix(normalized, directorySchemes) {
		if DirectoryKey(trimmed) == "" {
			return TargetUnknown
		}
		return TargetDirectory
	}
	if hasAnyPrefix(normalized, lightningPrefixes) {
		return TargetLightning
	}
	if hasAnyPrefix(normalized, onchainSchemes) || hasAnyPrefix(normalized, segwitPrefixes) {
		return TargetOnchain
	}
	// Single-character legacy prefixes collide with ordinary words, so the
	// rest of the string must look like a base58 address.
	if hasAnyPrefix(normalized, legacyPrefixes) && isLegacyAddress(trimmed) {
		return TargetOnchain
	}

	return TargetUnknown
}

// NormalizeTarget strips URI schemes and query parameters so the value can
// be handed to the settlement engine.
func NormalizeTarget(recipient string) string {
	target := strings.TrimSpace(recipient)
	lower := strings.ToLower(target)
	for _, scheme := range []string{"lightning:", "bitcoin:"} {
		if strings.HasPrefix(lower, scheme) {
			target = target[len(scheme):]
			break
		}
	}
	if i := strings.IndexByte(target, '?'); i >= 0 {
		target = target[:i]
	}
	return target
}

// DirectoryKey returns the peer key addressed by a directory URI.
func DirectoryKey(recipient string) string {
	trimmed := strings.TrimSpace(recipient)
	lower := strings.ToLower(trimmed)
	for _, scheme := range directorySchemes {
		if strings.HasPrefix(lower, scheme) {
			return strings.TrimLeft(trimmed[len(scheme):], "/")
		}
	}
	return ""
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func isLegacyAddress(s string) bool {
	if len(s) < legacyMinLength || len(s) > legacyMaxLength {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}
