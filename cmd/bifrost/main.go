// Command bifrost loads a dataset and drives the chart recommendation
// backend from the command line.
//
// Every subcommand reads its dataset from a run configuration (-c) and/or
// source flags. Flags win over the file, the file wins over the environment:
//
//	bifrost sample --source csv --path cars.csv --size 20
//	bifrost spec -c run.yaml --x horsepower --y mpg --kind point
//	bifrost widget -c run.yaml --host sql --export out
//
// Metrics go to the backend named by --metrics-backend or METRICS_BACKEND.
package main

import (
	"log"
	"os"
)

func main() {
	log.SetPrefix("bifrost: ")
	log.SetFlags(log.LstdFlags)
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
