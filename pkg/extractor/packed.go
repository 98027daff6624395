/*
 * EasyProxy is a reverse proxy for HLS and MPEG-DASH streams with
 * URL extraction and ClearKey support.
 * Copyright (C) 2025  Lucas Duport
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// P.A.C.K.E.R. is the obfuscator several stream hosts wrap their
// player code in: eval(function(p,a,c,k,e,d){...}('payload',base,
// count,'words'.split('|'),0,{})). Unpacking is a dictionary
// substitution of base-N tokens back into the payload.

var packedArgsRe = regexp.MustCompile(
	`\}\s*\(\s*'((?:\\.|[^'\\])*)'\s*,\s*(\d+)\s*,\s*(\d+)\s*,\s*'((?:\\.|[^'\\])*)'\s*\.split\('\|'\)`)

// unpackJS reverses a P.A.C.K.E.R. block and returns the original
// source.
func unpackJS(packed string) (string, error) {
	m := packedArgsRe.FindStringSubmatch(packed)
	if m == nil {
		return "", fmt.Errorf("packed: cannot find packed data")
	}

	payload := unescapeJS(m[1])
	base, err := strconv.Atoi(m[2])
	if err != nil || base < 2 || base > 36 {
		return "", fmt.Errorf("packed: bad radix %q", m[2])
	}
	count, err := strconv.Atoi(m[3])
	if err != nil {
		return "", fmt.Errorf("packed: bad count %q", m[3])
	}
	words := strings.Split(unescapeJS(m[4]), "|")
	if count > len(words) {
		count = len(words)
	}

	for c := count - 1; c >= 0; c-- {
		if words[c] == "" {
			continue
		}
		token := intToBase(c, base)
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(token) + `\b`)
		if err != nil {
			continue
		}
		payload = re.ReplaceAllString(payload, words[c])
	}
	return payload, nil
}

// intToBase renders x the way the packer's encoder does, digits
// 0-9a-z.
func intToBase(x, base int) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	if x == 0 {
		return "0"
	}
	neg := x < 0
	if neg {
		x = -x
	}
	var out []byte
	for x > 0 {
		out = append([]byte{digits[x%base]}, out...)
		x /= base
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

func unescapeJS(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
