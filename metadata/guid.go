package metadata

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// GUID is a 16-byte identifier in its on-disk (mixed-endian) layout.
type GUID [16]byte

// Well-known GUIDs of the Portable PDB format.
var (
	LanguageCSharp    = MustParseGUID("3f5162f8-07c6-11d3-9053-00c04fa302a1")
	LanguageVB        = MustParseGUID("3a12d0b8-c26c-11d0-b442-00a0244a1dd2")
	LanguageFSharp    = MustParseGUID("ab4f38c9-b6e6-43ba-be3b-58080b2ccce3")
	HashAlgorithmSHA1 = MustParseGUID("ff1816ec-aa5e-4d10-87f7-6f4963833460")
	HashAlgorithmSHA2 = MustParseGUID("8829d00f-11b8-4213-878b-770e8597ac16")
)

// IsZero reports whether g is the null GUID.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

// String formats g in the registry form (xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx).
func (g GUID) String() string {
	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%s",
		g[3], g[2], g[1], g[0], g[5], g[4], g[7], g[6], g[8], g[9], hex.EncodeToString(g[10:]))
}

// ParseGUID parses the registry form, with or without braces.
func ParseGUID(s string) (GUID, error) {
	var g GUID
	s = strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	parts := strings.Split(s, "-")
	if len(parts) != 5 || len(parts[0]) != 8 || len(parts[1]) != 4 || len(parts[2]) != 4 ||
		len(parts[3]) != 4 || len(parts[4]) != 12 {
		return g, fmt.Errorf("invalid GUID %q", s)
	}
	raw, err := hex.DecodeString(strings.Join(parts, ""))
	if err != nil {
		return g, fmt.Errorf("invalid GUID %q: %w", s, err)
	}
	g[0], g[1], g[2], g[3] = raw[3], raw[2], raw[1], raw[0]
	g[4], g[5] = raw[5], raw[4]
	g[6], g[7] = raw[7], raw[6]
	copy(g[8:], raw[8:])
	return g, nil
}

// MustParseGUID is ParseGUID for constants.
func MustParseGUID(s string) GUID {
	g, err := ParseGUID(s)
	if err != nil {
		panic(err)
	}
	return g
}
