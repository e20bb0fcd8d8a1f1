// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package gcode extracts the command word from G-code lines.
package gcode

import (
	"strconv"
	"strings"
)

// Power control codes.
const (
	PowerOn  = "M80"
	PowerOff = "M81"
)

// Line is a parsed G-code line.
type Line struct {
	Raw        string
	LineNumber int    // N word, or -1 when absent
	Code       string // Normalised command word, e.g. "M81"; empty for blank or comment lines
	Args       string // Text after the command word, without comment or checksum
}

// Parse splits a G-code line into line number, command word and arguments.
// Comments after ';' and parenthesised comments are dropped, as is a trailing
// "*NN" checksum. Command numbers are normalised so "m081" yields "M81".
func Parse(raw string) Line {
	l := Line{Raw: raw, LineNumber: -1}

	s := raw
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	s = stripParenComments(s)
	if i := strings.IndexByte(s, '*'); i >= 0 {
		s = s[:i]
	}

	fields := strings.Fields(s)
	if len(fields) == 0 {
		return l
	}

	if n, ok := lineNumber(fields[0]); ok {
		l.LineNumber = n
		fields = fields[1:]
		if len(fields) == 0 {
			return l
		}
	}

	l.Code = normalise(fields[0])
	l.Args = strings.Join(fields[1:], " ")
	return l
}

// CodeOf returns the normalised command word of a line.
func CodeOf(raw string) string {
	return Parse(raw).Code
}

func lineNumber(word string) (int, bool) {
	if len(word) < 2 || (word[0] != 'N' && word[0] != 'n') {
		return 0, false
	}
	n, err := strconv.Atoi(word[1:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// normalise upper-cases the letter and strips leading zeros from the number.
// Words that are not letter+number are returned upper-cased as-is.
func normalise(word string) string {
	word = strings.ToUpper(word)
	if len(word) < 2 {
		return word
	}
	letter, num := word[:1], word[1:]
	if letter[0] < 'A' || letter[0] > 'Z' {
		return word
	}

	major, minor, hasMinor := strings.Cut(num, ".")
	n, err := strconv.Atoi(major)
	if err != nil || n < 0 || strings.HasPrefix(major, "+") {
		return word
	}
	out := letter + strconv.Itoa(n)
	if hasMinor {
		if _, err := strconv.Atoi(minor); err != nil || strings.HasPrefix(minor, "+") || strings.HasPrefix(minor, "-") {
			return word
		}
		out += "." + minor
	}
	return out
}

func stripParenComments(s string) string {
	if !strings.ContainsRune(s, '(') {
		return s
	}
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
