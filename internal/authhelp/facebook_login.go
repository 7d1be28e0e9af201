// SPDX-License-Identifier: AGPL-3.0-only
package authhelp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

var ErrExchangeFailed = errors.New("long-lived token exchange failed")

func GenerateFacebookConfig(appID, appSecret, callbackURL string) *oauth2.Config {
	facebookOAuthConfig := &oauth2.Config{
		ClientID:     appID,
		ClientSecret: appSecret,
		RedirectURL:  callbackURL,
		Scopes:       []string{"groups_access_member_info", "pages_show_list", "pages_read_engagement", "pages_read_user_content"},
		Endpoint:     facebook.Endpoint,
	}
	return facebookOAuthConfig
}

func OauthTokenToString(token *oauth2.Token) (string, error) {
	tokenM, err := json.Marshal(token)
	if err != nil {
		return "", err
	}
	return string(tokenM), nil
}

type longLivedTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// ExchangeLongLivedToken trades a short-lived user token for a long-lived
// one. baseURL and version address the Graph API, e.g.
// "https://graph.facebook.com" and "v24.0".
func ExchangeLongLivedToken(ctx context.Context, client *http.Client, baseURL, version, shortLivedToken string, config *oauth2.Config) (string, error) {
	if strings.TrimSpace(shortLivedToken) == "" {
		return "", fmt.Errorf("%w: empty token", ErrExchangeFailed)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}

	endpoint := fmt.Sprintf("%s/%s/oauth/access_token", strings.TrimRight(baseURL, "/"), version)
	params := url.Values{}
	params.Add("grant_type", "fb_exchange_token")
	params.Add("client_id", config.ClientID)
	params.Add("client_secret", config.ClientSecret)
	params.Add("fb_exchange_token", strings.TrimSpace(shortLivedToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var res longLivedTokenResponse
	if err := json.Unmarshal(bodyBytes, &res); err != nil {
		return "", fmt.Errorf("%w: status %d", ErrExchangeFailed, resp.StatusCode)
	}
	if res.Error != nil {
		return "", fmt.Errorf("%w: %s (code %d)", ErrExchangeFailed, res.Error.Message, res.Error.Code)
	}
	if res.AccessToken == "" {
		return "", fmt.Errorf("%w: no access token in response", ErrExchangeFailed)
	}

	return res.AccessToken, nil
}
