// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parseUnitIDs parses a list of unit ids such as "1,2,5-10".
func parseUnitIDs(input string) ([]byte, error) {
	var ids []byte
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := parseUnitID(lo)
			if err != nil {
				return nil, fmt.Errorf("invalid start of range: %w", err)
			}
			end, err := parseUnitID(hi)
			if err != nil {
				return nil, fmt.Errorf("invalid end of range: %w", err)
			}
			if start > end {
				return nil, fmt.Errorf("start of range %d is greater than end %d", start, end)
			}
			for i := int(start); i <= int(end); i++ {
				ids = append(ids, byte(i))
			}
			continue
		}
		id, err := parseUnitID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no unit id in %q", input)
	}
	return ids, nil
}

func parseUnitID(s string) (byte, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid id: %w", err)
	}
	if id < 1 || id > 247 {
		return 0, fmt.Errorf("id out of range: %d", id)
	}
	return byte(id), nil
}
