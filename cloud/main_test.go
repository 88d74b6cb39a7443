package cloud_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/vladlpavlov/Pythagoras-sub001/cloud"
	"github.com/vladlpavlov/Pythagoras-sub001/config"
)

// workerEnv turns the test binary into a worker process.
const workerEnv = "PYTHAGORAS_TEST_WORKER"

func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		cmd := cloud.WorkerCommand(openWorker)
		cmd.SetArgs(os.Args[1:])
		if err := cmd.Execute(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func openWorker(ctx context.Context) (*cloud.Cloud, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	c, err := cloud.New(ctx, cloud.Config{Config: cfg})
	if err != nil {
		return nil, err
	}
	if err := publishAll(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
