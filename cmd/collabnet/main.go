package main

import (
	"fmt"
	"os"

	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/cmd/collabnet/commands"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/logger"
)

func main() {
	err := commands.NewRootCmd().Execute()
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
