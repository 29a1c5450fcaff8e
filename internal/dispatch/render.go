package dispatch

import "strings"

// Render substitutes every {{key}} occurrence with the matching variable.
// Placeholders with no matching variable are left as literal text rather
// than failing the whole notification.
func Render(s string, vars map[string]string) string {
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}
