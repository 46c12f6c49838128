// Package alert transforma métricas em alertas com dedup e persistência.
//
// Cada alerta aceito vira uma linha no log append-only
//
//	[2026-03-10T12:00:00.000Z] [CRITICAL] [ERROR_RATE] Error rate 11.00% exceeds 10% threshold
//
// e o registro JSON em alert:{SEVERITY}:{TYPE} (TTL 1h, o último vence). O histórico
// completo só existe no arquivo.
package alert
