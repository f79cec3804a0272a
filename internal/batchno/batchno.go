// Package batchno suggests batch numbers of the form PREFIX-YYYY-NNN.
package batchno

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

const fallbackPrefix = "OBAT"

// Prefix takes the first four ASCII letters of a medicine name, uppercased.
func Prefix(name string) string {
	var b strings.Builder
	for _, r := range name {
		if b.Len() >= 4 {
			break
		}
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	if b.Len() == 0 {
		return fallbackPrefix
	}
	return b.String()
}

// Stem is the part shared by every batch number of a prefix and year.
func Stem(prefix string, year int) string {
	return fmt.Sprintf("%s-%d-", prefix, year)
}

func Format(prefix string, year int, seq int) string {
	return fmt.Sprintf("%s%03d", Stem(prefix, year), seq)
}

// NextSequence returns one past the highest sequence among existing numbers
// sharing the prefix and year. Numbers whose suffix is not an integer are ignored.
func NextSequence(prefix string, year int, existing []string) int {
	stem := Stem(prefix, year)
	highest := 0
	for _, nomor := range existing {
		suffix, ok := strings.CutPrefix(nomor, stem)
		if !ok {
			continue
		}
		seq, err := strconv.Atoi(suffix)
		if err != nil || seq < 0 {
			continue
		}
		highest = max(highest, seq)
	}
	return highest + 1
}

func Next(name string, year int, existing []string) string {
	prefix := Prefix(name)
	return Format(prefix, year, NextSequence(prefix, year, existing))
}
