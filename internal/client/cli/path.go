package cli

import "strings"

// splitPath turns a user-typed path into segments relative to cwd.
// A leading "/" makes it absolute; "." and ".." behave as usual.
func splitPath(cwd []string, arg string) []string {
	var segs []string
	if !strings.HasPrefix(arg, "/") {
		segs = append(segs, cwd...)
	}
	for _, part := range strings.Split(arg, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(segs) > 0 {
				segs = segs[:len(segs)-1]
			}
		default:
			segs = append(segs, part)
		}
	}
	return segs
}

func joinSegments(segs []string) string {
	return strings.Join(segs, "/")
}
