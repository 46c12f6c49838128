// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
//   - SlidingWindow: janela deslizante sobre qualquer domain.WindowStore (storage.Adapter)
//   - StorageStatsStore / PromStatsStore: estatísticas de decisões (Redis/memória e Prometheus)
//   - ChanPool: semáforo simples para limite de concorrência
package infra
