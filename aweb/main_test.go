// Copyright 2025 The Async Web SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package aweb

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that no connection goroutine — worker, read loop or
// timer — leaks past teardown.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
