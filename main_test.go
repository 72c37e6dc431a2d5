package main

import (
	"os"
	"testing"

	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	sugar = zap.NewNop().Sugar()
	os.Exit(m.Run())
}
