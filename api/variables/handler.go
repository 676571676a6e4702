// Package variables serves the resolved variables of a backend over HTTP.
package variables

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/bmcpi/varstore/internal/backend"
	"github.com/bmcpi/varstore/internal/firmware/efi"
	"github.com/bmcpi/varstore/internal/firmware/manager"
	"github.com/bmcpi/varstore/internal/firmware/varcrypt"
)

// Handler serves /variables, /boot and /stores.
type Handler struct {
	logger *slog.Logger
	reader backend.VariableReader
	stores backend.StoreInspector
	boot   *manager.Manager
}

// New creates a variables handler. stores may be nil.
func New(logger *slog.Logger, reader backend.VariableReader, stores backend.StoreInspector) *Handler {
	return &Handler{
		logger: logger,
		reader: reader,
		stores: stores,
		boot:   manager.New(reader, logr.FromSlogHandler(logger.Handler())),
	}
}

// Register adds the routes to router.
func (h *Handler) Register(router *http.ServeMux) {
	router.HandleFunc("GET /variables", h.list)
	router.HandleFunc("GET /variables/{guid}/{name}", h.get)
	router.HandleFunc("GET /variables/{guid}/{name}/cipher", h.cipher)
	router.HandleFunc("GET /boot", h.bootConfig)
	if h.stores != nil {
		router.HandleFunc("GET /stores", h.storeList)
	}
}

type variableResponse struct {
	Name       string `json:"name"`
	GUID       string `json:"guid"`
	GUIDName   string `json:"guid_name,omitempty"`
	Attr       uint32 `json:"attr"`
	Attributes string `json:"attributes"`
	Size       int    `json:"size"`
	Data       string `json:"data"`
}

type cipherResponse struct {
	DataType       string `json:"data_type"`
	HeaderSize     uint32 `json:"header_size"`
	PlainDataSize  uint32 `json:"plain_data_size"`
	CipherDataSize uint32 `json:"cipher_data_size"`
	IV             string `json:"iv"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	vars, err := h.reader.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.write(w, http.StatusOK, efi.MarshalVariableList(vars))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.reader.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := variableResponse{
		Name:       v.Name,
		GUID:       v.GUID.String(),
		Attr:       uint32(v.Attributes),
		Attributes: v.Attributes.String(),
		Size:       len(v.Data),
		Data:       hex.EncodeToString(v.Data),
	}
	if n := v.GUID.Name(); n != v.GUID.String() {
		resp.GUIDName = n
	}
	h.write(w, http.StatusOK, resp)
}

func (h *Handler) cipher(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	info, err := h.reader.CipherInfo(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.write(w, http.StatusOK, newCipherResponse(info))
}

func (h *Handler) bootConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.boot.Summary(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.write(w, http.StatusOK, cfg)
}

func (h *Handler) storeList(w http.ResponseWriter, r *http.Request) {
	stores, err := h.stores.Stores(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.write(w, http.StatusOK, stores)
}

func newCipherResponse(info varcrypt.Info) cipherResponse {
	return cipherResponse{
		DataType:       info.DataType.String(),
		HeaderSize:     info.HeaderSize,
		PlainDataSize:  info.PlainDataSize,
		CipherDataSize: info.CipherDataSize,
		IV:             hex.EncodeToString(info.IV[:]),
	}
}

func identity(r *http.Request) (efi.Identity, error) {
	guid, err := efi.ParseGUID(r.PathValue("guid"))
	if err != nil {
		return efi.Identity{}, errors.Join(efi.ErrInvalidParameter, err)
	}
	return efi.Identity{Name: r.PathValue("name"), GUID: guid}, nil
}

// statusCode maps variable service errors to HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, efi.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, efi.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, efi.ErrCompromisedData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, efi.ErrOutOfResources):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("Variable request failed", "path", r.URL.Path, "error", err)
	} else {
		h.logger.Debug("Variable request rejected", "path", r.URL.Path, "status", code, "error", err)
	}
	h.write(w, code, errorResponse{Error: err.Error()})
}

func (h *Handler) write(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}
