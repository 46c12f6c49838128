package storage

import (
	"regexp"
	"strings"
)

// CompileGlob traduz um padrão glob (`*` = qualquer sequência, `?` = um caractere) numa
// regexp ancorada. Com (?s), `*` e `?` também casam `\n`, como no MATCH do Redis.
// Todo o resto é literal: metacaracteres de regexp presentes na chave (ex.: `.`, `+`, `(`,
// `[`) são escapados antes da tradução.
func CompileGlob(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^(?s)")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	// o padrão só contém literais escapados, ".*" e "." — sempre compila
	return regexp.MustCompile(b.String())
}

// redisMatchPattern escapa os caracteres que o MATCH do Redis trata como especiais
// (além de * e ?), para que a semântica fique igual à de CompileGlob.
func redisMatchPattern(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '[', ']', '\\', '^':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
