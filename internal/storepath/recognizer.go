// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Package storepath recognizes embedded Nix store path references inside an
// arbitrary byte stream.
//
// A store path reference has the fixed shape "/nix/store/<32-char-hash>-",
// 44 bytes total, where the hash is drawn from a 32-symbol base-32 alphabet.
// The pattern is self-overlapping (it contains "/nix/store/nix/", which
// itself begins a second potential match), which rules out a textbook
// compiled regular expression: an NFA backtracks in the worst case, a
// materialized DFA is dominated by the cross product of the 32-symbol
// character class with the prefix structure, and neither reports
// overlapping matches by default. Recognizer is a hand-written byte
// automaton instead, running in O(1) time and space per byte.
package storepath

// PathLength is the fixed length in bytes of a recognized store path
// reference, including the leading "/nix/store/" and the trailing "-".
const PathLength = 44

// template is the prefix used both to match the literal "/nix/store/" and,
// via its last three bytes, to detect a nested "/nix/store/nix/" overlap.
const template = "/nix/store/nix"

// Recognizer is a deterministic byte automaton that accepts the 44-byte
// store path reference shape, reporting overlapping matches without
// rescanning. States 0 through 43 correspond to positions in template (for
// states 0 through 13) and to the 32-character hash body and trailing "-"
// (states 11 through 43). The zero value is ready to use.
type Recognizer struct {
	state int
	// overlapEligible tracks whether the current partial match could still
	// simultaneously be the prefix of a second, overlapping match nested
	// inside it (i.e. whether we might still be looking at
	// "/nix/store/nix/...").
	overlapEligible bool
}

// New returns a Recognizer ready to scan a fresh byte stream.
func New() *Recognizer {
	return &Recognizer{overlapEligible: true}
}

// Reset returns r to its initial state, as if newly constructed by New.
func (r *Recognizer) Reset() {
	r.state = 0
	r.overlapEligible = true
}

// isHashByte reports whether b is a member of the 32-symbol hash alphabet:
// the 10 digits plus the 26 lowercase letters minus e, o, t, and u.
func isHashByte(b byte) bool {
	switch {
	case b >= '0' && b <= '9':
		return true
	case b >= 'a' && b <= 'd':
		return true
	case b >= 'f' && b <= 'n':
		return true
	case b >= 'p' && b <= 's':
		return true
	case b >= 'v' && b <= 'z':
		return true
	default:
		return false
	}
}

// Next feeds the next input byte to the automaton.
// It returns true exactly when b is the final '-' of a complete 44-byte
// match, reported on the trailing byte. After a report, the Recognizer
// resets to its initial state, ready to find the next (possibly
// overlapping) match.
func (r *Recognizer) Next(b byte) bool {
	restart := false

	switch {
	case r.state <= 10:
		// Matching the literal "/nix/store/".
		switch {
		case b == template[r.state]:
			// Continue matching the literal prefix.
		case r.state == 5 && b == 'n':
			// "/nix/n…" slipped off the literal prefix one character in;
			// rewind to treat this byte as template[1] of a fresh attempt
			// starting at the '/' we just consumed ("/n…").
			r.state = 1
		default:
			restart = true
		}

	case r.state <= 42:
		// Matching the 32-character hash body. While overlapEligible and
		// still within the first 14 template bytes, a second nested match
		// ("/nix/store/nix/…") may be forming; track it without disturbing
		// the primary match.
		if r.overlapEligible && r.state < 14 && b == template[r.state] {
			// Still consistent with a nested "/nix/store/nix" prefix.
		} else {
			if r.state < 14 {
				r.overlapEligible = false
			}
			switch {
			case isHashByte(b):
				// A valid hash character, whether or not it also matched
				// the nested template.
			case r.overlapEligible && r.state == 14 && b == '/':
				// "/nix/store/nix/" completed: a nested match begins at
				// the '/' we just consumed. Rewind to template[4], which
				// is the '/' that opens "/nix/…" in the nested attempt.
				r.state = 4
			default:
				restart = true
			}
		}

	default: // r.state == 43
		if b != '-' {
			restart = true
		} else {
			r.state = 0
			r.overlapEligible = true
			return true
		}
	}

	if restart {
		r.overlapEligible = true
		if b == '/' {
			r.state = 1
		} else {
			r.state = 0
		}
	} else {
		r.state++
	}
	return false
}
