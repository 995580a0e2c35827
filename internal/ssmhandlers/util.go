package ssmhandlers

import "fmt"

func str(body map[string]any, key string) string {
	v, _ := body[key].(string)
	return v
}

func requireStr(body map[string]any, key string) (string, error) {
	v := str(body, key)
	if v == "" {
		return "", fmt.Errorf("missing required parameter %s", key)
	}
	return v, nil
}

func strSlice(body map[string]any, key string) []string {
	raw, _ := body[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
