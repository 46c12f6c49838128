// Package ops monta a API de leitura (saúde, métricas, alertas) e o hook que liga o
// coletor de métricas ao engine de alertas. É o único pacote que conhece os dois.
package ops
