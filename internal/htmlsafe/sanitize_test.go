package htmlsafe

import "testing"

func TestSanitize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain text escaped", in: `a < b & c`, want: `a &lt; b &amp; c`},
		{name: "allowed tags kept", in: `<p>Hello <strong>world</strong></p>`, want: `<p>Hello <strong>world</strong></p>`},
		{name: "script dropped", in: `<p>x</p><script>alert(1)</script>`, want: `<p>x</p>`},
		{name: "unknown tag unwrapped", in: `<div><p>x</p></div>`, want: `<p>x</p>`},
		{name: "attributes stripped", in: `<p onclick="evil()" class="c">x</p>`, want: `<p>x</p>`},
		{name: "javascript href removed", in: `<a href="javascript:alert(1)">x</a>`, want: `<a>x</a>`},
		{name: "http href kept", in: `<a href="https://example.com/a?b=1&c=2">x</a>`, want: `<a href="https://example.com/a?b=1&amp;c=2" rel="nofollow noopener">x</a>`},
		{name: "br void", in: `a<br>b`, want: `a<br>b`},
		{name: "empty", in: "   ", want: ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Sanitize(tc.in); got != tc.want {
				t.Fatalf("Sanitize(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestStripTags(t *testing.T) {
	t.Parallel()

	got := StripTags("<p>Soft  <b>cotton</b></p><script>x()</script> tee")
	if got != "Soft cotton tee" {
		t.Fatalf("StripTags=%q", got)
	}
}
