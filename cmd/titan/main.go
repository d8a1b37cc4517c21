package main

import (
	"log"

	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
