package signature

import (
	"context"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentials acquires bearer tokens with the OAuth2 client-credentials grant.
type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	// InParams posts the credentials in the form body instead of HTTP Basic auth.
	InParams bool
	Params   url.Values
}

// Token performs one token request through hc so the caller's timeout applies.
func (c ClientCredentials) Token(ctx context.Context, hc *http.Client) (*oauth2.Token, error) {
	style := oauth2.AuthStyleInHeader
	if c.InParams {
		style = oauth2.AuthStyleInParams
	}
	cfg := clientcredentials.Config{
		ClientID:       c.ClientID,
		ClientSecret:   c.ClientSecret,
		TokenURL:       c.TokenURL,
		EndpointParams: c.Params,
		AuthStyle:      style,
	}
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	return cfg.Token(ctx)
}
