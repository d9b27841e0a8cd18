package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Direction of a migration file.
type Direction string

// All migration directions.
const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// versionLen is the fixed width of migration versions (YYYYMMDDhhmmss).
// Fixed-width numeric versions sort lexicographically in chronological order.
const versionLen = 14

// File is a parsed on-disk migration artifact. It is created fresh on every
// discovery scan, never persisted, and immutable once constructed.
type File struct {
	Version   string
	Name      string
	Module    string
	Content   string
	Checksum  string
	Direction Direction
	// HasDown reports whether a matching down file exists. It is only
	// meaningful on up records.
	HasDown bool
}

// ParsedName is the result of parsing a migration filename.
type ParsedName struct {
	Version string
	Name    string
	Down    bool
}

// ParseFilename parses a migration filename of the form
// `{version}_{name}.sql` or `{version}_{name}_down.sql`, where version is
// exactly 14 digits. It operates on the base filename only.
func ParseFilename(filename string) (ParsedName, error) {
	var p ParsedName

	base, ok := strings.CutSuffix(filename, ".sql")
	if !ok {
		return p, fmt.Errorf("'%s' is missing the .sql extension", filename)
	}

	if rest, found := strings.CutSuffix(base, "_down"); found {
		p.Down = true
		base = rest
	}

	version, name, found := strings.Cut(base, "_")
	if !found || name == "" {
		return p, fmt.Errorf("'%s' doesn't match {version}_{name}.sql", filename)
	}
	if len(version) != versionLen || !isDigits(version) {
		return p, fmt.Errorf("'%s' has an invalid version; expected exactly %d digits", filename, versionLen)
	}

	p.Version = version
	p.Name = name

	return p, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Checksum returns the hex-encoded SHA-256 hash of the given content. It is
// purely a function of the bytes, used to detect accidental or malicious edits
// to already-applied migrations.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
