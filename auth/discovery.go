package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
)

const oauthMetadataPath = "/.well-known/oauth-authorization-server"

// ProviderMetadata holds the endpoint set resolved from the issuer at
// startup. OAuth authorization-server metadata supplies the introspection
// and revocation endpoints, which the OIDC discovery document may omit.
type ProviderMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	IntrospectionEndpoint string `json:"introspection_endpoint"`
	RevocationEndpoint    string `json:"revocation_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
}

// DiscoveryError reports why provider metadata resolution failed. Discovery
// runs once during client construction; any failure is fatal to startup.
type DiscoveryError struct {
	Stage string
	Err   error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("provider discovery failed (%s): %v", e.Stage, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// discoverOAuthMetadata fetches the OAuth authorization-server metadata
// document and requires its issuer claim to equal the configured issuer
// byte for byte.
func discoverOAuthMetadata(ctx context.Context, hc *http.Client, issuer string) (*ProviderMetadata, error) {
	metadataURL, err := url.JoinPath(issuer, oauthMetadataPath)
	if err != nil {
		return nil, &DiscoveryError{Stage: "url-parse", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, &DiscoveryError{Stage: "url-parse", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &DiscoveryError{Stage: "transport", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &DiscoveryError{Stage: "transport", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &DiscoveryError{Stage: "status", Err: fmt.Errorf("%s returned %s", metadataURL, resp.Status)}
	}

	var meta ProviderMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, &DiscoveryError{Stage: "decode", Err: err}
	}
	if meta.Issuer != issuer {
		return nil, &DiscoveryError{Stage: "issuer-mismatch", Err: fmt.Errorf("document claims issuer %q, configured %q", meta.Issuer, issuer)}
	}
	if meta.IntrospectionEndpoint == "" {
		return nil, &DiscoveryError{Stage: "decode", Err: fmt.Errorf("provider does not advertise an introspection endpoint")}
	}

	return &meta, nil
}

// discoverProvider resolves both metadata documents. The OIDC discovery
// document is fetched through go-oidc, which performs its own strict issuer
// check and supplies the verifier key set.
func discoverProvider(ctx context.Context, hc *http.Client, issuer string) (*ProviderMetadata, *oidc.Provider, error) {
	meta, err := discoverOAuthMetadata(ctx, hc, issuer)
	if err != nil {
		return nil, nil, err
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, hc), issuer)
	if err != nil {
		return nil, nil, &DiscoveryError{Stage: "oidc-discovery", Err: err}
	}

	endpoint := provider.Endpoint()
	meta.AuthorizationEndpoint = endpoint.AuthURL
	meta.TokenEndpoint = endpoint.TokenURL
	if meta.UserinfoEndpoint == "" {
		var claims struct {
			UserinfoEndpoint string `json:"userinfo_endpoint"`
		}
		if err := provider.Claims(&claims); err == nil {
			meta.UserinfoEndpoint = claims.UserinfoEndpoint
		}
	}

	return meta, provider, nil
}
