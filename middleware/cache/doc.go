// Package cache guarda respostas de GET no storage.Adapter.
//
// Hit responde direto com X-Cache: HIT; miss segue para o handler, marca X-Cache: MISS e
// grava a resposta 2xx em background com TTL. Escritas bem-sucedidas apagam as chaves que
// casam com os padrões configurados.
package cache
