package main

import "ragbase/client/rag-cli/cmd"

func main() {
	cmd.Execute()
}
