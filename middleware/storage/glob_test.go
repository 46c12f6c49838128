package storage

import "testing"

func TestCompileGlob(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"cache:/x*", "cache:/x:{}", true},
		{"cache:/x*", "cache:/y:{}", false},
		{"cache:/x:*", "cache:/x:{\"a\":[\"1\"]}", true},
		{"ratelimit:?:k", "ratelimit:a:k", true},
		{"ratelimit:?:k", "ratelimit:ab:k", false},
		// metacaracteres de regexp são literais
		{"cache:/a.b*", "cache:/aXb", false},
		{"cache:/a.b*", "cache:/a.b:{}", true},
		{"cache:/(x)+", "cache:/(x)+", true},
		{"cache:/(x)+", "cache:/xx", false},
		{"cache:/[id]", "cache:/[id]", true},
		{"cache:/[id]", "cache:/i", false},
		// path com %0A decodificado
		{"cache:/a*", "cache:/a\nb:{}", true},
		{"cache:/a?b*", "cache:/a\nb:{}", true},
		// ancorado nos dois lados
		{"metrics", "metrics:count", false},
	}

	for _, tc := range cases {
		if got := CompileGlob(tc.pattern).MatchString(tc.key); got != tc.want {
			t.Errorf("CompileGlob(%q).Match(%q) = %v, want %v", tc.pattern, tc.key, got, tc.want)
		}
	}
}

func TestRedisMatchPattern_EscapesBrackets(t *testing.T) {
	if got := redisMatchPattern(`cache:/[id]*`); got != `cache:/\[id\]*` {
		t.Fatalf("unexpected escaped pattern %q", got)
	}
}
