package dispatch

import "testing"

func TestRender(t *testing.T) {
	cases := []struct {
		name string
		in   string
		vars map[string]string
		want string
	}{
		{
			"substitutes variables",
			"Hi {{name}}, see you {{when}}.",
			map[string]string{"name": "Ana", "when": "tomorrow"},
			"Hi Ana, see you tomorrow.",
		},
		{
			"missing key stays literal",
			"Hi {{name}}, code {{code}}.",
			map[string]string{"name": "Ana"},
			"Hi Ana, code {{code}}.",
		},
		{
			"repeated placeholder",
			"{{name}} and {{name}}",
			map[string]string{"name": "Ana"},
			"Ana and Ana",
		},
		{
			"nil variables",
			"plain text",
			nil,
			"plain text",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Render(tc.in, tc.vars); got != tc.want {
				t.Fatalf("Render = %q, want %q", got, tc.want)
			}
		})
	}
}
