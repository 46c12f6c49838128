package main

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Upstream "burro" para validar o gateway na mão: uma rota normal, uma lenta (alimenta
// slow requests e alertas de RESPONSE_TIME) e uma que falha (alertas de ERROR_RATE).
func main() {
	http.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>")
		fmt.Println("Log: Alguém acessou o endpoint /showTela")
	})

	// /lento?ms=3500
	http.HandleFunc("/lento", func(w http.ResponseWriter, r *http.Request) {
		ms, err := strconv.Atoi(r.URL.Query().Get("ms"))
		if err != nil || ms < 0 {
			ms = 2500
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
		fmt.Fprintf(w, "respondi depois de %dms\n", ms)
		fmt.Printf("Log: /lento respondeu em %dms\n", ms)
	})

	// /falha?taxa=0.2 => ~20% das respostas com 500
	http.HandleFunc("/falha", func(w http.ResponseWriter, r *http.Request) {
		taxa, err := strconv.ParseFloat(r.URL.Query().Get("taxa"), 64)
		if err != nil {
			taxa = 1
		}
		if rand.Float64() < taxa {
			http.Error(w, "falha simulada", http.StatusInternalServerError)
			fmt.Println("Log: /falha devolveu 500")
			return
		}
		fmt.Fprintln(w, "ok")
	})

	fmt.Println("Servidor rodando em http://localhost:8081")
	err := http.ListenAndServe(":8081", nil)
	if err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}
