// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package client provides an HTTP client for the REST API served by
`callstep serve`.

The debug channel itself is streamed by channel.Client; this package covers
the request/response endpoints around it.

# Basic Usage

	c, err := client.New("http://127.0.0.1:6007")
	if err != nil {
	    return err
	}

	stories, err := c.Stories(ctx)
	if err := c.Play(ctx, "counter--default"); err != nil {
	    return err
	}
	session, err := c.Session(ctx)

# Errors

Non-2xx responses are returned as *APIError carrying the status code and the
server's error message. Transport failures wrap ErrUnreachable so commands
can map them to a distinct exit code.
*/
package client
