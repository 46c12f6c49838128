// Package storage fornece o StorageAdapter usado por todos os middlewares do gateway.
//
// O Adapter unifica operações de chave/valor com TTL, incremento atômico, sorted sets e
// enumeração de chaves atrás da interface Store. Quando o Redis está acessível as operações
// vão para ele; quando não está (falha no connect ou falha pontual de uma chamada), a mesma
// operação é executada num mapa em memória limitado (Memory). Indisponibilidade nunca é
// devolvida ao chamador: ela vira log e fallback.
//
// Erros que NÃO são de disponibilidade (ex.: INCR em valor não numérico, tipo errado) são
// devolvidos como ErrNotInteger / ErrWrongType para que cada componente aplique sua política
// (fail-open no rate limit, fallback no coletor, miss no cache).
//
// Não há reconciliação entre o que foi gravado em memória durante a queda e o Redis depois
// da reconexão: os dois lados ficam eventualmente inconsistentes até os TTLs expirarem.
package storage
