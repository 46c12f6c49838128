// Package domain define contratos e tipos de domínio para rate limit e concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas: a janela
// deslizante enxerga o armazenamento apenas pelo contrato WindowStore.
package domain
