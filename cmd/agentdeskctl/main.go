// agentdeskctl - operator tool and terminal chat client for agentdesk
package main

import (
	"os"

	"github.com/ashureev/agentdesk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
