package rest

import "venue_sync/internal/domain"

// authHeaders creates the headers attached to every request.
// The bearer token is opaque here; retrieval and refresh live outside the core.
func authHeaders(creds domain.CredentialSource, hasBody bool) map[string]string {
	headers := map[string]string{
		"Accept": "application/json",
	}
	if hasBody {
		headers["Content-Type"] = "application/json"
	}
	if creds != nil {
		if token := creds.Token(); token != "" {
			headers["Authorization"] = "Bearer " + token
		}
	}
	return headers
}
