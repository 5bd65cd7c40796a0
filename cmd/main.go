package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

const usage = `ragrelay - retrieval-augmented answer pipeline

Usage:
  ragrelay serve  [-config path] [-addr :8080]
  ragrelay ask    [-config path] [-file document] [-no-rag] "question"
  ragrelay ingest [-config path] [-dataset name] -file document
  ragrelay batch  [-config path]

Run 'ragrelay <command> -h' for command flags.`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "ask":
		err = runAsk(os.Args[2:])
	case "ingest":
		err = runIngest(os.Args[2:])
	case "batch":
		err = runBatch(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Printf("unknown command %q\n\n%s\n", os.Args[1], usage)
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}
