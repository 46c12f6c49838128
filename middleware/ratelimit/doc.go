// Package ratelimit fornece adapters HTTP (net/http) para rate limit e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny com fail-open, acquire/timeout) sem net/http
//   - infra: implementações concretas (janela deslizante, semáforo, estatísticas)
//   - ratelimit (este pacote): middlewares HTTP, presets, extração de chave e tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (header/XFF/IP, opcionalmente + rota)
//  2. Chama a camada application para obter a decisão
//  3. Escreve X-RateLimit-Limit / X-RateLimit-Remaining / X-RateLimit-Reset
//  4. Se bloqueado, responde 429 com corpo JSON e Retry-After (ou 503 no limite de concorrência)
//  5. Se permitido, chama o próximo handler (ex: reverse proxy)
//
// A janela usa só as primitivas de sorted set do storage.Adapter, então funciona igual com
// Redis ou com o fallback em memória. Erro do limiter nunca bloqueia a requisição.
package ratelimit
