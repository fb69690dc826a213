// Package ids formats and parses the TYPE@x,y,z block identifiers shown to clients, in the
// admin tools and in audit filters.
package ids

import (
	"strconv"
	"strings"
)

const (
	TypeChest = "CHEST"
	TypeProbe = "PROBE"
)

func Block(typ string, x, y, z int) string {
	var b strings.Builder
	b.WriteString(typ)
	b.WriteByte('@')
	b.WriteString(strconv.Itoa(x))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(y))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(z))
	return b.String()
}

func Probe(x, y, z int) string { return Block(TypeProbe, x, y, z) }

// Parse splits an identifier made by Block. The type must be non-empty and exactly three
// integer coordinates must follow the '@'.
func Parse(id string) (typ string, x, y, z int, ok bool) {
	typ, rest, found := strings.Cut(id, "@")
	if !found || typ == "" {
		return "", 0, 0, 0, false
	}
	coords := strings.Split(rest, ",")
	if len(coords) != 3 {
		return "", 0, 0, 0, false
	}
	var v [3]int
	for i, s := range coords {
		n, err := strconv.Atoi(s)
		if err != nil {
			return "", 0, 0, 0, false
		}
		v[i] = n
	}
	return typ, v[0], v[1], v[2], true
}

// ParseProbe accepts only PROBE identifiers.
func ParseProbe(id string) (x, y, z int, ok bool) {
	typ, x, y, z, ok := Parse(id)
	if !ok || typ != TypeProbe {
		return 0, 0, 0, false
	}
	return x, y, z, true
}
