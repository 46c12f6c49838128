// Package metrics instrumenta as requisições e agrega em baldes de minuto e de hora.
//
// Chaves (mk = unix/60, hk = unix/3600):
//
//	metrics:count:{mk}         total do minuto           TTL 1h
//	metrics:errors:{mk}        status >= 400 no minuto   TTL 1h
//	metrics:latency:{mk}       sorted set (ms, id)       TTL 1h
//	metrics:slow_queries:{mk}  sorted set (ts ms, json)  TTL 1h
//	metrics:hour_count:{hk}    total da hora             TTL 24h
//	metrics:hour_errors:{hk}   erros da hora             TTL 24h
//
// Os TTLs são a única limpeza: não existe job de expurgo.
package metrics
