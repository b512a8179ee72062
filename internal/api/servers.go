package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/encima/linear-fdw/internal/auth"
	"github.com/encima/linear-fdw/internal/catalog"
	"github.com/encima/linear-fdw/internal/config"
)

type createServerRequest struct {
	Name    string            `json:"name"`
	Options map[string]string `json:"options"`
}

// serverResponse is the wire shape of a foreign server. The credential is
// reported as a presence flag only; the key itself never leaves the catalog.
type serverResponse struct {
	Name           string    `json:"name"`
	APIURL         string    `json:"api_url"`
	HasAPIKey      bool      `json:"has_api_key"`
	AllowAnonymous bool      `json:"allow_anonymous"`
	PackageName    string    `json:"package_name,omitempty"`
	PackageVersion string    `json:"package_version,omitempty"`
	PackageURL     string    `json:"package_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func toServerResponse(server catalog.ForeignServer) serverResponse {
	return serverResponse{
		Name:           server.Name,
		APIURL:         server.APIURL,
		HasAPIKey:      server.APIKey != "",
		AllowAnonymous: server.AllowAnonymous,
		PackageName:    server.PackageName,
		PackageVersion: server.PackageVersion,
		PackageURL:     server.PackageURL,
		CreatedAt:      server.CreatedAt,
	}
}

func handleCreateServer(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireRole(deps, w, r, auth.RoleAdmin) {
		return
	}

	var req createServerRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	server, err := catalog.ResolveServerOptions(req.Name, req.Options, catalog.ServerDefaults{APIURL: cfg.Remote.DefaultAPIURL})
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	created, err := deps.Catalog.CreateServer(r.Context(), server)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toServerResponse(created))
}

func handleGetServer(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireRole(deps, w, r, auth.RoleReader, auth.RoleAdmin) {
		return
	}

	server, err := deps.Catalog.GetServer(r.Context(), r.PathValue("server"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toServerResponse(server))
}

func handleListServers(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireRole(deps, w, r, auth.RoleReader, auth.RoleAdmin) {
		return
	}

	servers, err := deps.Catalog.ListServers(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	responses := make([]serverResponse, 0, len(servers))
	for _, server := range servers {
		responses = append(responses, toServerResponse(server))
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": responses})
}

func handleDeleteServer(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireRole(deps, w, r, auth.RoleAdmin) {
		return
	}

	deleted, err := deps.Catalog.DeleteServer(r.Context(), r.PathValue("server"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	if !deleted {
		writeError(r.Context(), w, http.StatusNotFound, "NOT_FOUND", "server not found", false, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeRequest reads a JSON body, rejecting unknown fields. It writes the
// error response itself and reports whether decoding succeeded.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "request body is required", false, nil)
			return false
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+err.Error(), false, nil)
		return false
	}
	return true
}

// requireRole authorizes the request when its identity carries any of the
// given roles. Requests without an identity pass: auth is disabled in that
// deployment and the middleware never ran.
func requireRole(deps Dependencies, w http.ResponseWriter, r *http.Request, roles ...string) bool {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return true
	}
	for _, role := range roles {
		if identity.HasRole(role) {
			return true
		}
	}
	if deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "request forbidden",
			"identity", identity.Name,
			"path", r.URL.Path,
		)
	}
	writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", "identity lacks the required role", false, nil)
	return false
}
