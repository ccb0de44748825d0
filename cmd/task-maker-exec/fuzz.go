package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/olimpiadi-informatica/task-maker-go/internal/fuzzsubmit"
)

func fuzzCommand(c *cli.Context) error {
	seed := c.Int64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	report, err := fuzzsubmit.Run(c.String("addr"), c.Int("rounds"), seed, c.Bool("keep-sandboxes"))
	if err != nil {
		return err
	}

	fmt.Printf("fuzz: %d rounds, %d executions observed, seed=%d\n", report.Rounds, report.Executions, seed)
	if len(report.Failures) == 0 {
		fmt.Println("fuzz: no invariant violations found")
		return nil
	}
	for _, f := range report.Failures {
		fmt.Println("fuzz: VIOLATION:", f)
	}
	return fmt.Errorf("fuzz: %d invariant violations found", len(report.Failures))
}
