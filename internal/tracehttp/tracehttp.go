// Copyright 2024 Harith Kavish
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracehttp

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
)

// traceTransport is an http.RoundTripper that prints the request and
// response while delegating the real work to another
// http.RoundTripper. Every traced request carries a bearer credential,
// so the Authorization header is redacted before printing.
type traceTransport struct {
	delegate http.RoundTripper
	out      io.Writer
}

// RoundTrip prints a dump of the request and response while delegating
// the round trip to the delegate.
func (t *traceTransport) RoundTrip(req *http.Request) (resp *http.Response, err error) {
	dump, dumpErr := dumpRequest(req)
	if dumpErr == nil {
		fmt.Fprintln(t.out, string(dump))
	}
	resp, err = t.delegate.RoundTrip(req)
	if err == nil {
		dump, dumpErr = httputil.DumpResponse(resp, true)
		if dumpErr == nil {
			fmt.Fprintln(t.out, string(dump))
		}
	}
	return resp, err
}

// dumpRequest dumps req with the Authorization header redacted,
// leaving req readable for the delegate round trip.
func dumpRequest(req *http.Request) ([]byte, error) {
	if req.Header.Get("Authorization") == "" {
		return httputil.DumpRequest(req, true)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer [redacted]")
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		clone.Body = io.NopCloser(bytes.NewReader(body))
	}
	return httputil.DumpRequest(clone, true)
}

func Wrap(d http.RoundTripper) http.RoundTripper {
	return &traceTransport{delegate: d, out: os.Stdout}
}

// Inject a traceTransport into http.DefaultTransport
func WrapDefaultTransport() {
	http.DefaultTransport = Wrap(http.DefaultTransport)
}
