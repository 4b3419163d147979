// Copyright 2025 The Async Web SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package aweb

import "errors"

// An HTTPError signals a failure during the processing of a request.
// Handlers obtain one from [Container.CreateException] and return it; the
// engine converts it into a 500 response carrying the message.
type HTTPError struct {
	Msg string
}

func (e *HTTPError) Error() string { return e.Msg }

// errTaskTimedOut is the cancellation cause installed when the idle timeout
// fires.
var errTaskTimedOut = errors.New("task timed out")

// errConnectionLost is the cancellation cause installed when the transport
// reports connection loss.
var errConnectionLost = errors.New("connection lost")
