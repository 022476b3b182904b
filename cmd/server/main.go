package main

import (
	"github.com/igorvboas/medcall-ai-sub003/internal/bootstrap"
)

func main() {
	bootstrap.Run()
}
