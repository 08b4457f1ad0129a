// Package apitoken generates and validates the registry's long-lived,
// human-readable API tokens.
package apitoken

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Word lists for human-readable token generation.
var (
	// 4 prefixes (2 bits entropy)
	prefixes = []string{
		"north", "gamma", "echo", "delta",
	}

	// 128 adjectives (7 bits entropy each)
	adjectives = []string{
		"quantum", "neural", "atomic", "cosmic", "binary", "hybrid", "matrix", "vector",
		"digital", "linear", "optical", "thermal", "magnetic", "electric", "dynamic", "static",
		"mobile", "stable", "active", "passive", "direct", "inverse", "parallel", "serial",
		"rapid", "swift", "smooth", "sharp", "bright", "clear", "pure", "prime",
		"solid", "fluid", "dense", "light", "heavy", "strong", "robust", "secure",
		"smart", "quick", "fast", "slow", "high", "low", "wide", "narrow",
		"deep", "thin", "thick", "fine", "gross", "micro", "macro", "mini",
		"mega", "ultra", "super", "hyper", "meta", "proto", "pseudo", "quasi",
		"semi", "multi", "poly", "mono", "duo", "tri", "quad", "penta",
		"hexa", "octa", "deca", "kilo", "nano", "pico", "femto", "atto",
		"zeta", "yotta", "terra", "giga", "beta", "alpha", "omega", "sigma",
		"delta", "gamma", "theta", "lambda", "mu", "nu", "xi", "pi",
		"rho", "tau", "phi", "chi", "psi", "zen", "flux", "core",
		"edge", "node", "mesh", "grid", "cell", "unit", "disk", "chip",
		"code", "data", "byte", "word", "line", "loop", "tree", "heap",
		"hash", "key", "lock", "gate", "port", "path", "link", "zone",
	}

	// 128 nouns drawn from a randomizer/multiworld lexicon (7 bits entropy)
	nouns = []string{
		"phoenix", "dragon", "griffin", "sphinx", "hydra", "kraken", "titan", "atlas",
		"orion", "vega", "nova", "star", "comet", "galaxy", "nebula", "pulsar",
		"quasar", "meteor", "planet", "moon", "sun", "relic", "shard", "rune",
		"portal", "gateway", "beacon", "anchor", "seed", "sphere", "shrine", "grove",
		"crystal", "diamond", "emerald", "ruby", "sapphire", "pearl", "amber", "opal",
		"silver", "gold", "copper", "iron", "steel", "bronze", "platinum", "titanium",
		"glitch", "trigger", "checkpoint", "waypoint", "compass", "ladder", "bridge", "vault",
		"wave", "pulse", "beam", "ray", "field", "force", "energy", "power",
		"circuit", "reactor", "engine", "motor", "turbine", "generator", "battery", "cell",
		"tower", "keep", "tunnel", "dome", "arch", "pillar", "column", "spire",
		"sphere", "cube", "pyramid", "helix", "spiral", "ring", "disc", "blade",
		"shield", "armor", "sword", "lance", "bow", "arrow", "spear", "hammer",
		"anvil", "forge", "furnace", "crucible", "vessel", "chamber", "sanctum", "cache",
		"nexus", "threshold", "passage", "corridor", "channel", "conduit", "pipeline", "loop",
		"archipelago", "mosaic", "lattice", "weave", "braid", "knot", "thread", "web",
		"dungeon", "overworld", "checkpoint", "sphere", "token", "item", "logic", "seed",
	}

	// 4 suffixes (2 bits entropy)
	suffixes = []string{
		"one", "prime", "eleven", "max",
	}
)

var hexFormatPattern = regexp.MustCompile(`^[A-F0-9]{24}$`)
var legacyHexPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Generate produces a human-readable API token with about 121 bits of entropy.
// Format: {prefix}-{adjective1}-{noun}-{adjective2}-{24-char-hex}-{suffix}
// Entropy breakdown: 2 + 7 + 7 + 7 + 96 + 2 = 121 bits.
func Generate() (string, error) {
	randomBytes := make([]byte, 16)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	prefixIdx := int(randomBytes[0]) % len(prefixes)
	adj1Idx := int(randomBytes[1]) % len(adjectives)
	nounIdx := int(randomBytes[2]) % len(nouns)
	adj2Idx := int(randomBytes[3]) % len(adjectives)
	suffixIdx := int(randomBytes[4]) % len(suffixes)

	hexBytes := make([]byte, 12) // 12 bytes = 24 hex characters
	if _, err := rand.Read(hexBytes); err != nil {
		return "", fmt.Errorf("failed to generate hex component: %w", err)
	}
	hexComponent := strings.ToUpper(hex.EncodeToString(hexBytes))

	token := fmt.Sprintf("%s-%s-%s-%s-%s-%s",
		prefixes[prefixIdx],
		adjectives[adj1Idx],
		nouns[nounIdx],
		adjectives[adj2Idx],
		hexComponent,
		suffixes[suffixIdx],
	)

	return token, nil
}

// ValidFormat reports whether token matches the human-readable token shape.
func ValidFormat(token string) bool {
	if token == "" {
		return false
	}

	parts := strings.Split(token, "-")
	if len(parts) != 6 {
		return false
	}

	prefix, adj1, noun, adj2, hexPart, suffix := parts[0], parts[1], parts[2], parts[3], parts[4], parts[5]

	if !contains(prefixes, prefix) {
		return false
	}
	if !contains(adjectives, adj1) {
		return false
	}
	if !contains(nouns, noun) {
		return false
	}
	if !contains(adjectives, adj2) {
		return false
	}
	if !contains(suffixes, suffix) {
		return false
	}

	return hexFormatPattern.MatchString(hexPart)
}

// IsLegacyHex reports whether token uses the older 64-char hex token format,
// still accepted on lookup for tokens minted before the human-readable format.
func IsLegacyHex(token string) bool {
	return legacyHexPattern.MatchString(token)
}

// Format returns a human-facing description of the token's shape, useful for
// audit logging without ever logging the token itself.
func Format(token string) string {
	if ValidFormat(token) {
		return "human-readable"
	}
	if IsLegacyHex(token) {
		return "legacy-hex"
	}
	return "invalid"
}

// Hash hashes a token for storage; only the hash is ever persisted.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashEqual performs a constant-time comparison of two hex-encoded hashes.
func HashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
