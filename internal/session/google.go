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

package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
)

// Scopes required by the cloud sync and directory lookup clients.
const (
	DriveScope  = "https://www.googleapis.com/auth/drive.appdata"
	PeopleScope = "https://www.googleapis.com/auth/contacts.readonly"

	revokeURL = "https://oauth2.googleapis.com/revoke"
)

// ConsentProvider implements Provider with the standard three-legged
// authorization code flow: the consent URL is written to Out and the
// authorization code is read back from In. This is the terminal-host
// equivalent of the browser client's popup consent prompt.
type ConsentProvider struct {
	Config *oauth2.Config
	HTTP   *http.Client
	In     io.Reader
	Out    io.Writer
}

func NewConsentProvider(clientID, clientSecret string, in io.Reader, out io.Writer) *ConsentProvider {
	return &ConsentProvider{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{DriveScope, PeopleScope},
		},
		HTTP: http.DefaultClient,
		In:   in,
		Out:  out,
	}
}

// WaitReady reports the provider ready immediately; there is no
// script-loading phase to await outside a browser host.
func (p *ConsentProvider) WaitReady(ctx context.Context) error {
	return ctx.Err()
}

// Grant prompts for consent and exchanges the resulting code.
func (p *ConsentProvider) Grant(ctx context.Context) (string, int64, error) {
	if p.Config.ClientID == "" {
		return "", 0, errors.New("no client_id configured")
	}
	authURL := p.Config.AuthCodeURL("state-token", oauth2.AccessTypeOnline)
	fmt.Fprintf(p.Out, "Visit this URL to authorize the client:\n%v\n", authURL)
	fmt.Fprint(p.Out, "Enter the authorization code: ")

	var code string
	if _, err := fmt.Fscan(bufio.NewReader(p.In), &code); err != nil {
		return "", 0, errors.Wrap(err, "reading authorization code")
	}
	token, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return "", 0, errors.Wrap(err, "exchanging authorization code")
	}
	expiresIn := int64(time.Until(token.Expiry) / time.Second)
	return token.AccessToken, expiresIn, nil
}

// Revoke invalidates the token at the provider's revocation
// endpoint.
func (p *ConsentProvider) Revoke(ctx context.Context, accessToken string) error {
	form := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "building revocation request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return errors.Wrap(err, "revocation request failed")
	}
	defer resp.Body.Close()
	return googleapi.CheckResponse(resp)
}
