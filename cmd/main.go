package main

import (
	"github.com/db-monitor/cmd/agent"
)

func main() {
	agent.Execute()
}
