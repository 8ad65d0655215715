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

// Package drive reads and writes the one appdata document that
// mirrors the message map. Every operation moves the whole document;
// there is no partial update and no optimistic-concurrency check, so
// two devices writing concurrently race and the later write wins.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/harithkavish/drivechat/internal/message"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
)

const (
	// DefaultFileName is the appdata document holding the
	// serialized message map.
	DefaultFileName = "chat_history.json"

	defaultBaseURL   = "https://www.googleapis.com/drive/v3"
	defaultUploadURL = "https://www.googleapis.com/upload/drive/v3"

	// See https://developers.google.com/drive/api/guides/limits —
	// the per-user quota is far above what a chat client generates,
	// but the limiter keeps a runaway caller polite.
	requestsPerSecond = 10
	requestBurst      = 10

	// Fixed multipart framing. The boundary is part of the wire
	// contract with the existing documents and must not change.
	boundary = "-------314159265358979323846"
)

// TokenSource yields a bearer credential for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client performs whole-document reads and writes against the
// appdata folder.
type Client struct {
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	log     *logrus.Logger

	fileName  string
	baseURL   string
	uploadURL string

	mu     sync.Mutex
	fileID string // memoized for the session
}

// New returns a client against the production Drive endpoints.
func New(hc *http.Client, tokens TokenSource, fileName string, log *logrus.Logger) *Client {
	return NewWithEndpoints(hc, tokens, fileName, defaultBaseURL, defaultUploadURL, log)
}

func NewWithEndpoints(hc *http.Client, tokens TokenSource, fileName, baseURL, uploadURL string, log *logrus.Logger) *Client {
	if fileName == "" {
		fileName = DefaultFileName
	}
	return &Client{
		http:      hc,
		tokens:    tokens,
		limiter:   rate.NewLimiter(requestsPerSecond, requestBurst),
		log:       log,
		fileName:  fileName,
		baseURL:   baseURL,
		uploadURL: uploadURL,
	}
}

// do authorizes and performs one request. Non-2xx responses come
// back as *googleapi.Error carrying the HTTP status.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "drive request failed")
	}
	if err := googleapi.CheckResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func (c *Client) remember(id string) {
	c.mu.Lock()
	c.fileID = id
	c.mu.Unlock()
}

func (c *Client) cachedID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fileID
}

// FindFile returns the handle of the remote document, or "" when it
// does not exist yet. Idempotent; safe to call repeatedly.
func (c *Client) FindFile(ctx context.Context) (string, error) {
	if id := c.cachedID(); id != "" {
		return id, nil
	}
	query := url.Values{
		"q":      {fmt.Sprintf("name='%s' and 'appDataFolder' in parents", c.fileName)},
		"spaces": {"appDataFolder"},
		"fields": {"files(id,name)"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/files?"+query.Encode(), nil)
	if err != nil {
		return "", errors.Wrap(err, "building file list request")
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		Files []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, "parsing file list response")
	}
	if len(body.Files) == 0 {
		return "", nil
	}
	c.remember(body.Files[0].ID)
	return body.Files[0].ID, nil
}

// CreateFile creates the remote document with the given initial
// content and returns its handle.
func (c *Client) CreateFile(ctx context.Context, initial message.Map) (string, error) {
	meta := map[string]interface{}{
		"name":    c.fileName,
		"parents": []string{"appDataFolder"},
	}
	body, contentType, err := multipartBody(meta, initial)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.uploadURL+"/files?uploadType=multipart&fields=id", body)
	if err != nil {
		return "", errors.Wrap(err, "building file create request")
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", errors.Wrap(err, "parsing file create response")
	}
	c.remember(created.ID)
	c.log.WithField("fileId", created.ID).Debug("created remote message document")
	return created.ID, nil
}

// EnsureFile is find-or-create, memoized per client instance.
func (c *Client) EnsureFile(ctx context.Context) (string, error) {
	id, err := c.FindFile(ctx)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	return c.CreateFile(ctx, message.Map{})
}

// Read fetches and parses the full document content.
func (c *Client) Read(ctx context.Context, id string) (message.Map, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/files/"+id+"?alt=media", nil)
	if err != nil {
		return nil, errors.Wrap(err, "building file read request")
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var m message.Map
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, errors.Wrap(err, "parsing remote message map")
	}
	if m == nil {
		m = message.Map{}
	}
	return m, nil
}

// Write replaces the entire document content. There is no revision
// check before the overwrite; whichever write completes last
// determines the document.
func (c *Client) Write(ctx context.Context, id string, m message.Map) error {
	meta := map[string]interface{}{"name": c.fileName}
	body, contentType, err := multipartBody(meta, m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.uploadURL+"/files/"+id+"?uploadType=multipart", body)
	if err != nil {
		return errors.Wrap(err, "building file write request")
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// multipartBody frames the metadata and content parts the way the
// multipart upload endpoint expects: a fixed boundary, two JSON
// parts, CRLF delimiters and a closing delimiter.
func multipartBody(meta, content interface{}) (io.Reader, string, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", errors.Wrap(err, "encoding file metadata")
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, "", errors.Wrap(err, "encoding file content")
	}

	delimiter := "\r\n--" + boundary + "\r\n"
	closeDelimiter := "\r\n--" + boundary + "--"

	var b bytes.Buffer
	b.WriteString(delimiter)
	b.WriteString("Content-Type: application/json; charset=UTF-8\r\n\r\n")
	b.Write(metaJSON)
	b.WriteString(delimiter)
	b.WriteString("Content-Type: application/json; charset=UTF-8\r\n\r\n")
	b.Write(contentJSON)
	b.WriteString(closeDelimiter)

	return &b, fmt.Sprintf("multipart/related; boundary=%q", boundary), nil
}

// IsNotFound reports whether err is a remote 404.
func IsNotFound(err error) bool {
	if apiErr, ok := errors.Cause(err).(*googleapi.Error); ok {
		return apiErr.Code == http.StatusNotFound
	}
	return false
}
