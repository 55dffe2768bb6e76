package main

import (
	"fmt"
	"strings"
)

func parseEnv(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env entry %q, expected KEY=VALUE", e)
		}
		m[k] = v
	}
	return m, nil
}
