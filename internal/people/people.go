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

// Package people resolves peer display profiles through the contact
// directory. Every lookup is best effort: a missing credential, an
// API failure or an empty result all fall back to a name derived
// from the address itself, and no error ever reaches the caller.
package people

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/harithkavish/drivechat/internal/message"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
)

const (
	defaultBaseURL = "https://people.googleapis.com/v1"
	readMask       = "names,photos,emailAddresses"

	requestsPerSecond = 5
	requestBurst      = 5
)

// TokenSource yields the cached bearer credential without triggering
// an interactive grant. An absent credential skips the directory
// call entirely; a passive lookup must never raise a consent prompt.
type TokenSource interface {
	CachedToken() (string, bool)
}

// Client queries the directory search endpoint.
type Client struct {
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	log     *logrus.Logger
	baseURL string
}

func New(hc *http.Client, tokens TokenSource, log *logrus.Logger) *Client {
	return NewWithEndpoint(hc, tokens, defaultBaseURL, log)
}

func NewWithEndpoint(hc *http.Client, tokens TokenSource, baseURL string, log *logrus.Logger) *Client {
	return &Client{
		http:    hc,
		tokens:  tokens,
		limiter: rate.NewLimiter(requestsPerSecond, requestBurst),
		log:     log,
		baseURL: baseURL,
	}
}

type searchResponse struct {
	Results []struct {
		Person struct {
			Names []struct {
				DisplayName string `json:"displayName"`
			} `json:"names"`
			Photos []struct {
				URL string `json:"url"`
			} `json:"photos"`
		} `json:"person"`
	} `json:"results"`
}

// Lookup returns the best available profile for email. The fallback
// chain is directory result, then the address-derived heuristic
// name; Lookup itself never fails.
func (c *Client) Lookup(ctx context.Context, email string) message.Profile {
	profile := message.Profile{
		Email: email,
		Name:  message.DisplayName(email),
	}

	token, ok := c.tokens.CachedToken()
	if !ok {
		return profile
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return profile
	}

	query := url.Values{
		"query":    {email},
		"readMask": {readMask},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/people:searchContacts?"+query.Encode(), nil)
	if err != nil {
		c.log.WithError(err).Debug("building directory search request failed")
		return profile
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WithError(err).Debug("directory search failed")
		return profile
	}
	defer resp.Body.Close()
	if err := googleapi.CheckResponse(resp); err != nil {
		c.log.WithError(err).Debug("directory search rejected")
		return profile
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.log.WithError(err).Debug("parsing directory search response failed")
		return profile
	}
	if len(body.Results) == 0 {
		return profile
	}

	person := body.Results[0].Person
	if len(person.Names) > 0 && person.Names[0].DisplayName != "" {
		profile.Name = person.Names[0].DisplayName
	}
	if len(person.Photos) > 0 {
		profile.Picture = person.Photos[0].URL
	}
	return profile
}
