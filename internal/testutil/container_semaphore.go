// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"testing"
)

// ContainerParallelEnv overrides how many container tests may run at once.
const ContainerParallelEnv = "ROLETEST_TEST_CONTAINER_PARALLEL"

var containerSlots = sync.OnceValue(func() chan struct{} {
	return make(chan struct{}, containerParallelism())
})

// AcquireContainerSlot blocks until a container test slot is free and releases
// it when t finishes. Distro images boot a full init, so a busy CI runner
// hangs instead of failing when too many start at once.
func AcquireContainerSlot(t testing.TB) {
	t.Helper()
	slots := containerSlots()
	slots <- struct{}{}
	t.Cleanup(func() { <-slots })
}

// containerParallelism is ROLETEST_TEST_CONTAINER_PARALLEL when it is a positive
// integer, else min(GOMAXPROCS, 2).
func containerParallelism() int {
	if v := os.Getenv(ContainerParallelEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return min(runtime.GOMAXPROCS(0), 2)
}
